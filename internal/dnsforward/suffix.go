package dnsforward

import (
	"log/slog"
	"strings"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/dhns/dhnsd/internal/dhnslog"
	"github.com/miekg/dns"
)

// SuffixRoute maps a domain suffix (or glob) to the resolver it should be
// forwarded to.
type SuffixRoute struct {
	SuffixGlob string
	Resolver   string
}

// SuffixForwarder forwards queries matching a configured suffix or glob to a
// configured resolver.  It always claims a matching query, even if the
// forward itself fails, a deliberate short-circuit so no other handler
// answers for a delegated suffix.
type SuffixForwarder struct {
	routes []SuffixRoute
	client *dns.Client
	logger *slog.Logger
}

// type check
var _ Handler = (*SuffixForwarder)(nil)

// NewSuffixForwarder returns a new SuffixForwarder.
func NewSuffixForwarder(routes []SuffixRoute, logger *slog.Logger) *SuffixForwarder {
	return &SuffixForwarder{
		routes: routes,
		client: &dns.Client{Timeout: UpstreamTimeout},
		logger: dhnslog.NewForComponent(logger, dhnslog.PrefixSuffixForwarder),
	}
}

// HandleDNS implements the Handler interface for *SuffixForwarder.
func (f *SuffixForwarder) HandleDNS(ctx *Context) (claimed bool) {
	qname := strings.ToLower(ctx.Query.QName())

	route, ok := f.match(qname)
	if !ok {
		return false
	}

	resp, _, err := f.client.Exchange(ctx.Query.Msg, route.Resolver)
	if err != nil {
		f.logger.Debug(
			"forwarding to suffix resolver",
			"name", qname, "resolver", route.Resolver, slogutil.KeyError, err,
		)
		ctx.Answer.Msg.Rcode = dns.RcodeServerFailure

		return true
	}

	ctx.Answer.Msg.Rcode = resp.Rcode
	ctx.Answer.Msg.Answer = resp.Answer

	return true
}

func (f *SuffixForwarder) match(qname string) (route SuffixRoute, ok bool) {
	for _, r := range f.routes {
		if strings.ContainsAny(r.SuffixGlob, "*?[") {
			if globMatch(r.SuffixGlob, qname) {
				return r, true
			}

			continue
		}

		if strings.HasSuffix(qname, r.SuffixGlob) {
			return r, true
		}
	}

	return SuffixRoute{}, false
}
