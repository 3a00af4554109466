package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/sendstack/interfaces"
	"github.com/customeros/sendstack/internal/tracing"
)

// SMTPTransport delivers a prepared message to a remote MX host. TLS is
// opportunistic: STARTTLS is used when the server advertises it, otherwise
// delivery continues in the clear.
type SMTPTransport struct {
	heloDomain string
	port       int
	dialer     *net.Dialer
}

func NewSMTPTransport(heloDomain string, port int) interfaces.Transport {
	return &SMTPTransport{
		heloDomain: heloDomain,
		port:       port,
		dialer:     &net.Dialer{},
	}
}

func (t *SMTPTransport) Send(ctx context.Context, msg interfaces.SignedMessage, targetMx string) interfaces.TransportOutcome {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SMTPTransport.Send")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.LogKV("target_mx", targetMx)
	span.LogKV("from_address", msg.From)

	outcome := t.deliver(ctx, msg, targetMx)
	span.LogKV("result", outcome.Result.String())
	if outcome.SMTPCode != 0 {
		span.LogKV("smtp_code", outcome.SMTPCode)
	}
	if outcome.Err != nil {
		tracing.TraceErr(span, outcome.Err)
	}
	return outcome
}

func (t *SMTPTransport) deliver(ctx context.Context, msg interfaces.SignedMessage, targetMx string) interfaces.TransportOutcome {
	addr := net.JoinHostPort(targetMx, strconv.Itoa(t.port))

	conn, err := t.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return connectionError(errors.Wrapf(err, "failed to connect to %s", addr))
	}
	defer conn.Close()

	// The context deadline bounds the whole conversation, not just the dial.
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, targetMx)
	if err != nil {
		return classify(errors.Wrap(err, "SMTP greeting failed"))
	}
	defer client.Close()

	if err = client.Hello(t.heloDomain); err != nil {
		return classify(errors.Wrap(err, "SMTP EHLO failed"))
	}

	if ok, _ := client.Extension("STARTTLS"); ok {
		tlsConfig := &tls.Config{ServerName: targetMx}
		if err = client.StartTLS(tlsConfig); err != nil {
			return classify(errors.Wrap(err, "failed to start TLS"))
		}
	}

	if err = client.Mail(msg.From); err != nil {
		return classify(errors.Wrap(err, "SMTP MAIL command failed"))
	}

	if err = client.Rcpt(msg.To); err != nil {
		return classify(errors.Wrapf(err, "SMTP RCPT command failed for %s", msg.To))
	}

	dataWriter, err := client.Data()
	if err != nil {
		return classify(errors.Wrap(err, "SMTP DATA command failed"))
	}

	if _, err = dataWriter.Write(msg.Raw); err != nil {
		return classify(errors.Wrap(err, "failed to write message data"))
	}

	if err = dataWriter.Close(); err != nil {
		return classify(errors.Wrap(err, "message rejected after DATA"))
	}

	_ = client.Quit()

	return interfaces.TransportOutcome{
		Result:       interfaces.TransportDelivered,
		SMTPCode:     250,
		SMTPResponse: "accepted",
	}
}

// classify maps an SMTP error to a delivery outcome: 5xx replies are
// permanent rejections, 4xx are transient, anything else counts as a
// connection problem worth retrying.
func classify(err error) interfaces.TransportOutcome {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		outcome := interfaces.TransportOutcome{
			SMTPCode:     protoErr.Code,
			SMTPResponse: protoErr.Msg,
			Err:          err,
		}
		switch {
		case protoErr.Code >= 500:
			outcome.Result = interfaces.TransportPermanentReject
		case protoErr.Code >= 400:
			outcome.Result = interfaces.TransportTransientReject
		default:
			outcome.Result = interfaces.TransportConnectionError
		}
		return outcome
	}
	return connectionError(err)
}

func connectionError(err error) interfaces.TransportOutcome {
	return interfaces.TransportOutcome{
		Result:       interfaces.TransportConnectionError,
		SMTPResponse: fmt.Sprintf("%v", err),
		Err:          err,
	}
}
