package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadValid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dhns.yaml")

	yaml := `
pools:
  - server_ip: 10.3.2.1
    netmask: 255.255.255.0
    domain: lan
upstreams:
  - 8.8.8.8:53
discovery:
  enabled: true
  domain: docker
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	require.Len(t, c.Pools, 1)
	assert.Equal(t, "10.3.2.1", c.Pools[0].ServerIP)
	assert.Equal(t, []string{"8.8.8.8:53"}, c.Upstreams)
}

func TestLoadMissingPools(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dhns.yaml")
	require.NoError(t, os.WriteFile(path, []byte("upstreams: []\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestPortEnvDefaults(t *testing.T) {
	t.Setenv("DHCPPORT", "")
	t.Setenv("DNSPORT", "")
	assert.Equal(t, DefaultDHCPPort, DHCPPort())
	assert.Equal(t, DefaultDNSPort, DNSPort())

	t.Setenv("DHCPPORT", "1067")
	assert.Equal(t, 1067, DHCPPort())
}
