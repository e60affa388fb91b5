package dnsforward

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"path"
	"strings"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/dhns/dhnsd/internal/dhnslog"
	"github.com/miekg/dns"
)

// Record is one configured static record: a name glob, its RR type, and its
// rdata, rendered the way dns.NewRR expects after the owner name and TTL.
type Record struct {
	NameGlob string
	Type     string
	RData    string
}

// FixedRecords answers queries from a configured list of static records.
// For an A query matching a CNAME record, it additionally recurses against
// a local resolver to inline the target's A records.
type FixedRecords struct {
	records []Record
	dnsPort int
	logger  *slog.Logger
	client  *dns.Client
}

// type check
var _ Handler = (*FixedRecords)(nil)

// NewFixedRecords returns a new FixedRecords handler.  dnsPort is the
// locally-bound DNS port used to recurse CNAME targets.
func NewFixedRecords(records []Record, dnsPort int, logger *slog.Logger) *FixedRecords {
	return &FixedRecords{
		records: records,
		dnsPort: dnsPort,
		logger:  dhnslog.NewForComponent(logger, dhnslog.PrefixFixedRecords),
		client:  &dns.Client{Timeout: UpstreamTimeout},
	}
}

// HandleDNS implements the Handler interface for *FixedRecords.
func (f *FixedRecords) HandleDNS(ctx *Context) (claimed bool) {
	qname := strings.ToLower(ctx.Query.QName())

	order := rand.Perm(len(f.records))

	var answers []dns.RR
	for _, i := range order {
		rec := f.records[i]
		if !globMatch(rec.NameGlob, qname) {
			continue
		}

		rr, err := dns.NewRR(fmt.Sprintf("%s 60 IN %s %s", qname, rec.Type, rec.RData))
		if err != nil {
			f.logger.Error("building fixed record", "name", qname, slogutil.KeyError, err)

			continue
		}

		answers = append(answers, rr)

		if ctx.Query.QType() == dns.TypeA && strings.EqualFold(rec.Type, "CNAME") {
			answers = append(answers, f.recurseCNAME(rec.RData)...)
		}
	}

	if len(answers) == 0 {
		return false
	}

	ctx.Answer.Msg.Answer = append(ctx.Answer.Msg.Answer, answers...)
	ctx.Answer.Msg.Rcode = dns.RcodeSuccess

	return true
}

// recurseCNAME resolves target's A records against the local DNS endpoint.
func (f *FixedRecords) recurseCNAME(target string) []dns.RR {
	q := new(dns.Msg)
	q.SetQuestion(dns.Fqdn(target), dns.TypeA)

	addr := fmt.Sprintf("localhost:%d", f.dnsPort)

	resp, _, err := f.client.Exchange(q, addr)
	if err != nil {
		f.logger.Debug("recursing cname target", "target", target, slogutil.KeyError, err)

		return nil
	}

	return resp.Answer
}

// globMatch reports whether name matches glob, where glob may contain '*'
// wildcards spanning any run of characters (domain names have no path
// separator, so path.Match's '*' is free to cross label boundaries).
func globMatch(glob, name string) bool {
	ok, err := path.Match(glob, name)

	return err == nil && ok
}
