package dnswire

import (
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBytesRoundTrip(t *testing.T) {
	msg := new(dns.Msg)
	msg.SetQuestion("example.com.", dns.TypeA)

	b, err := msg.Pack()
	require.NoError(t, err)

	m, err := Parse(b)
	require.NoError(t, err)
	assert.Equal(t, "example.com.", m.QName())
	assert.Equal(t, dns.TypeA, m.QType())
	assert.Equal(t, uint16(dns.ClassINET), m.QClass())

	out, err := m.Bytes()
	require.NoError(t, err)
	assert.Equal(t, b, out)
}

func TestCacheKey(t *testing.T) {
	msg := new(dns.Msg)
	msg.SetQuestion("example.com.", dns.TypeA)

	assert.Equal(t, "example.com./1/1", CacheKey(&Message{Msg: msg}))
}

func TestAgeRRs(t *testing.T) {
	rr, err := dns.NewRR("example.com. 300 IN A 1.2.3.4")
	require.NoError(t, err)

	aged := AgeRRs([]dns.RR{rr}, 100)
	require.Len(t, aged, 1)
	assert.Equal(t, uint32(200), aged[0].Header().Ttl)
	assert.Equal(t, uint32(300), rr.Header().Ttl, "original RR must not be mutated")

	aged = AgeRRs([]dns.RR{rr}, 1000)
	assert.Equal(t, uint32(0), aged[0].Header().Ttl)
}

func TestMinTTL(t *testing.T) {
	a, err := dns.NewRR("example.com. 300 IN A 1.2.3.4")
	require.NoError(t, err)
	b, err := dns.NewRR("example.com. 100 IN A 1.2.3.5")
	require.NoError(t, err)

	assert.Equal(t, uint32(100), MinTTL([]dns.RR{a, b}))
	assert.Equal(t, uint32(0), MinTTL(nil))
}
