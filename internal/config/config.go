// Package config loads and validates the on-disk configuration that drives
// server assembly: pool definitions, reservations, fixed records,
// upstreams, and discovery settings.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/validate"
	"github.com/dhns/dhnsd/internal/dhnserr"
	"github.com/dhns/dhnsd/internal/dnsforward"
	"gopkg.in/yaml.v3"
)

// DefaultDHCPPort is the development default for the DHCP server port; a
// non-privileged port avoids needing elevated permissions during local
// testing.
const DefaultDHCPPort = 6767

// DefaultDNSPort is the default DNS server port.
const DefaultDNSPort = 53

// ReservationConfig is one hardware-address reservation entry.
type ReservationConfig struct {
	IP           string            `yaml:"ip"`
	Hostname     string            `yaml:"hostname"`
	ExtraOptions map[string]string `yaml:"extra_options"`
}

// PoolConfig configures one DHCP address pool.
type PoolConfig struct {
	Reservations map[string]ReservationConfig `yaml:"reservations"`
	ServerIP     string                       `yaml:"server_ip"`
	Netmask      string                       `yaml:"netmask"`
	Gateway      string                       `yaml:"gateway"`
	Domain       string                       `yaml:"domain"`
	Resolvers    []string                     `yaml:"resolvers"`
}

// type check
var _ validate.Interface = (*PoolConfig)(nil)

// Validate implements the [validate.Interface] interface for *PoolConfig.
func (p *PoolConfig) Validate() (err error) {
	if p == nil {
		return errors.ErrNoValue
	}

	return errors.Join(
		validate.NotEmpty("server_ip", p.ServerIP),
		validate.NotEmpty("netmask", p.Netmask),
	)
}

// FixedRecordConfig is one static DNS record entry.
type FixedRecordConfig struct {
	NameGlob string `yaml:"name"`
	Type     string `yaml:"type"`
	RData    string `yaml:"rdata"`
}

// SuffixRouteConfig is one suffix-forwarder route entry.
type SuffixRouteConfig struct {
	SuffixGlob string `yaml:"suffix"`
	Resolver   string `yaml:"resolver"`
}

// DiscoveryConfig configures the container-discovery registry.
type DiscoveryConfig struct {
	DockerSocket string `yaml:"docker_socket"`
	Domain       string `yaml:"domain"`
	Enabled      bool   `yaml:"enabled"`
}

// Config is the top-level on-disk configuration.
type Config struct {
	Pools         []PoolConfig        `yaml:"pools"`
	FixedRecords  []FixedRecordConfig `yaml:"fixed_records"`
	SuffixRoutes  []SuffixRouteConfig `yaml:"suffix_routes"`
	Upstreams     []string            `yaml:"upstreams"`
	Discovery     DiscoveryConfig     `yaml:"discovery"`
	LeaseDBPath   string              `yaml:"lease_db_path"`
	ResolvConf    string              `yaml:"resolv_conf_path"`
}

// type check
var _ validate.Interface = (*Config)(nil)

// Validate implements the [validate.Interface] interface for *Config.
func (c *Config) Validate() (err error) {
	if c == nil {
		return errors.ErrNoValue
	}

	var errs []error

	if len(c.Pools) == 0 {
		errs = append(errs, fmt.Errorf("pools: %w", errors.ErrEmptyValue))
	}

	for i := range c.Pools {
		errs = validate.Append(errs, fmt.Sprintf("pools[%d]", i), &c.Pools[i])
	}

	return errors.Join(errs...)
}

// Load reads and validates the YAML configuration file at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w: %w", path, dhnserr.ErrConfig, err)
	}

	var c Config
	if err = yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w: %w", path, dhnserr.ErrConfig, err)
	}

	if err = c.Validate(); err != nil {
		return nil, fmt.Errorf("validating config %s: %w: %w", path, dhnserr.ErrConfig, err)
	}

	return &c, nil
}

// DHCPPort resolves the DHCP server port from the DHCPPORT environment
// variable, falling back to DefaultDHCPPort.
func DHCPPort() int { return intFromEnv("DHCPPORT", DefaultDHCPPort) }

// DNSPort resolves the DNS server port from the DNSPORT environment
// variable, falling back to DefaultDNSPort.
func DNSPort() int { return intFromEnv("DNSPORT", DefaultDNSPort) }

func intFromEnv(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}

	return n
}

// ToFixedRecords converts the configured fixed records to dnsforward.Record
// values.
func ToFixedRecords(cfgs []FixedRecordConfig) []dnsforward.Record {
	out := make([]dnsforward.Record, len(cfgs))
	for i, c := range cfgs {
		out[i] = dnsforward.Record{NameGlob: c.NameGlob, Type: c.Type, RData: c.RData}
	}

	return out
}

// ToSuffixRoutes converts the configured suffix routes to
// dnsforward.SuffixRoute values.
func ToSuffixRoutes(cfgs []SuffixRouteConfig) []dnsforward.SuffixRoute {
	out := make([]dnsforward.SuffixRoute, len(cfgs))
	for i, c := range cfgs {
		out[i] = dnsforward.SuffixRoute{SuffixGlob: c.SuffixGlob, Resolver: c.Resolver}
	}

	return out
}
