package transport

import (
	"context"
	"net"
	"sort"
	"strings"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/sendstack/interfaces"
	"github.com/customeros/sendstack/internal/tracing"
)

type dnsMxResolver struct {
	resolver *net.Resolver
}

func NewMXResolver() interfaces.MXResolver {
	return &dnsMxResolver{resolver: net.DefaultResolver}
}

func (r *dnsMxResolver) ResolveMx(ctx context.Context, domain string) ([]interfaces.MXRecord, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "dnsMxResolver.ResolveMx")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.LogKV("domain", domain)

	mxs, err := r.resolver.LookupMX(ctx, domain)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			// No MX record: RFC 5321 falls back to the domain itself.
			return []interfaces.MXRecord{{Host: domain, Priority: 0}}, nil
		}
		tracing.TraceErr(span, errors.Wrapf(err, "MX lookup failed for %s", domain))
		return nil, err
	}

	records := make([]interfaces.MXRecord, 0, len(mxs))
	for _, mx := range mxs {
		host := strings.TrimSuffix(mx.Host, ".")
		if host == "" {
			continue
		}
		records = append(records, interfaces.MXRecord{Host: host, Priority: mx.Pref})
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Priority < records[j].Priority
	})

	if len(records) == 0 {
		return nil, errors.Errorf("no usable MX hosts for %s", domain)
	}
	return records, nil
}
