package server

import (
	"testing"

	"github.com/dhns/dhnsd/internal/config"
	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionCode(t *testing.T) {
	assert.Equal(t, dhcpv4.OptionRouter.Code(), optionCode("router"))
	assert.Equal(t, dhcpv4.OptionDomainNameServer.Code(), optionCode("dns_servers"))
	assert.Equal(t, dhcpv4.OptionDomainName.Code(), optionCode("domain_name"))
	assert.Equal(t, dhcpv4.OptionHostName.Code(), optionCode("hostname"))
}

func TestBuildPool(t *testing.T) {
	pc := config.PoolConfig{
		ServerIP: "192.168.1.1",
		Netmask:  "255.255.255.0",
		Gateway:  "192.168.1.1",
		Domain:   "lan",
		Reservations: map[string]config.ReservationConfig{
			"AABBCCDDEEFF": {
				IP:           "192.168.1.50",
				Hostname:     "pinned",
				ExtraOptions: map[string]string{"router": "\xc0\xa8\x01\x01"},
			},
		},
	}

	pool, err := buildPool(pc, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, pool)

	assert.Equal(t, "192.168.1.1", pool.ServerIP().String())
}

func TestBuildDNSChainAlwaysHasResolver(t *testing.T) {
	chain, registry := buildDNSChain(Config{Upstreams: []string{"8.8.8.8:53"}}, nil)

	assert.Equal(t, 1, chain.Len())
	assert.Nil(t, registry)
}

func TestBuildDNSChainWithDiscovery(t *testing.T) {
	chain, registry := buildDNSChain(Config{
		Upstreams: []string{"8.8.8.8:53"},
		Discovery: config.DiscoveryConfig{Enabled: true},
	}, nil)

	assert.Equal(t, 2, chain.Len())
	assert.NotNil(t, registry)
}
