package discovery

import (
	"net"

	"github.com/dhns/dhnsd/internal/dnsforward"
	"github.com/miekg/dns"
)

// RecordTTL is the TTL placed on synthesized A records.
const RecordTTL = 60

// Handler answers A/ANY queries from the discovery registry.
type Handler struct {
	reg *Registry
}

// type check
var _ dnsforward.Handler = (*Handler)(nil)

// NewHandler returns a new discovery Handler backed by reg.
func NewHandler(reg *Registry) *Handler {
	return &Handler{reg: reg}
}

// HandleDNS implements the dnsforward.Handler interface for *Handler.
func (h *Handler) HandleDNS(ctx *dnsforward.Context) (claimed bool) {
	qtype := ctx.Query.QType()
	if qtype != dns.TypeA && qtype != dns.TypeANY {
		return false
	}

	addrs, ok := h.reg.Lookup(ctx.Query.QName())
	if !ok {
		return false
	}

	for _, a := range addrs {
		ip := net.ParseIP(a).To4()
		if ip == nil {
			continue
		}

		ctx.Answer.Msg.Answer = append(ctx.Answer.Msg.Answer, &dns.A{
			Hdr: dns.RR_Header{
				Name:   ctx.Query.QName(),
				Rrtype: dns.TypeA,
				Class:  dns.ClassINET,
				Ttl:    RecordTTL,
			},
			A: ip,
		})
	}

	if len(ctx.Answer.Msg.Answer) == 0 {
		return false
	}

	ctx.Answer.Msg.Rcode = dns.RcodeSuccess

	return true
}
