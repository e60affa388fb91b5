package dnsforward

import (
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuffixForwarderNoMatch(t *testing.T) {
	f := NewSuffixForwarder([]SuffixRoute{{SuffixGlob: ".corp.", Resolver: "127.0.0.1:1"}}, nil)

	ctx := newQueryCtx("example.com.", dns.TypeA)
	assert.False(t, f.HandleDNS(ctx))
}

func TestSuffixForwarderMatchUnreachable(t *testing.T) {
	f := NewSuffixForwarder([]SuffixRoute{{SuffixGlob: ".corp.", Resolver: "127.0.0.1:1"}}, nil)

	ctx := newQueryCtx("host.corp.", dns.TypeA)
	claimed := f.HandleDNS(ctx)
	require.True(t, claimed, "suffix forwarder must claim even on failure")
	assert.Equal(t, dns.RcodeServerFailure, ctx.Answer.Msg.Rcode)
}

func TestSuffixForwarderGlobMatch(t *testing.T) {
	f := NewSuffixForwarder([]SuffixRoute{{SuffixGlob: "*.corp.", Resolver: "127.0.0.1:1"}}, nil)

	ctx := newQueryCtx("host.corp.", dns.TypeA)
	assert.True(t, f.HandleDNS(ctx))
}
