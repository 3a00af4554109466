package interfaces

import "context"

// TransportResult classifies the outcome of one SMTP delivery attempt.
type TransportResult int

const (
	TransportDelivered TransportResult = iota
	TransportPermanentReject
	TransportTransientReject
	TransportConnectionError
)

func (r TransportResult) String() string {
	switch r {
	case TransportDelivered:
		return "delivered"
	case TransportPermanentReject:
		return "permanent_reject"
	case TransportTransientReject:
		return "transient_reject"
	case TransportConnectionError:
		return "connection_error"
	}
	return "unknown"
}

// TransportOutcome carries the classification plus the raw SMTP detail for
// the delivery report.
type TransportOutcome struct {
	Result       TransportResult
	SMTPCode     int
	SMTPResponse string
	Err          error
}

// SignedMessage is a fully prepared wire message: DKIM-Signature header(s)
// followed by the original headers and body.
type SignedMessage struct {
	From string
	To   string
	Raw  []byte
}

// Transport performs the SMTP conversation with a remote MX host. The
// implementation must honor the context deadline; exceeding it is reported
// as a connection error.
type Transport interface {
	Send(ctx context.Context, msg SignedMessage, targetMx string) TransportOutcome
}

// MXRecord is one mail exchange host for a recipient domain.
type MXRecord struct {
	Host     string
	Priority uint16
}

// MXResolver resolves the recipient domain to its mail exchange hosts,
// ordered by preference.
type MXResolver interface {
	ResolveMx(ctx context.Context, domain string) ([]MXRecord, error)
}
