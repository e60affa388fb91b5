package dnsforward

import (
	"testing"

	"github.com/dhns/dhnsd/internal/dnswire"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newQueryCtx(name string, qtype uint16) *Context {
	q := new(dns.Msg)
	q.SetQuestion(dns.Fqdn(name), qtype)
	query := &dnswire.Message{Msg: q}

	return &Context{Query: query, Answer: dnswire.NewReply(query)}
}

func TestFixedRecordsMatch(t *testing.T) {
	f := NewFixedRecords([]Record{
		{NameGlob: "host.test.", Type: "A", RData: "10.0.0.5"},
	}, 5353, nil)

	ctx := newQueryCtx("host.test.", dns.TypeA)
	claimed := f.HandleDNS(ctx)
	require.True(t, claimed)
	require.Len(t, ctx.Answer.Msg.Answer, 1)

	a, ok := ctx.Answer.Msg.Answer[0].(*dns.A)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.5", a.A.String())
}

func TestFixedRecordsGlob(t *testing.T) {
	f := NewFixedRecords([]Record{
		{NameGlob: "*.internal.test.", Type: "A", RData: "10.0.0.9"},
	}, 5353, nil)

	ctx := newQueryCtx("foo.internal.test.", dns.TypeA)
	claimed := f.HandleDNS(ctx)
	require.True(t, claimed)
	require.Len(t, ctx.Answer.Msg.Answer, 1)
}

func TestFixedRecordsNoMatch(t *testing.T) {
	f := NewFixedRecords([]Record{
		{NameGlob: "host.test.", Type: "A", RData: "10.0.0.5"},
	}, 5353, nil)

	ctx := newQueryCtx("other.test.", dns.TypeA)
	assert.False(t, f.HandleDNS(ctx))
}
