// Package server assembles a running process: it builds the DHCP pools,
// the DNS middleware chain, and the discovery listener, wires them to the
// I/O multiplexer, and exposes a single Start/Stop lifecycle.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/dhns/dhnsd/internal/config"
	"github.com/dhns/dhnsd/internal/dhcp"
	"github.com/dhns/dhnsd/internal/discovery"
	"github.com/dhns/dhnsd/internal/dnsforward"
	"github.com/dhns/dhnsd/internal/iomux"
	"github.com/dhns/dhnsd/internal/resolvconf"
	"github.com/insomniacslk/dhcp/dhcpv4"
)

// MetadataService is an external cloud-init-style metadata HTTP service;
// server only gives it a place to register routes, it never owns the HTTP
// logic.
type MetadataService interface {
	Register(mux *http.ServeMux)
}

// Config configures server assembly.
type Config struct {
	DHCPListenAddr string
	DNSListenAddr  string
	Pools          []config.PoolConfig
	FixedRecords   []dnsforward.Record
	SuffixRoutes   []dnsforward.SuffixRoute
	Upstreams      []string
	Discovery      config.DiscoveryConfig
	ResolvConfPath string
	LeaseDBPath    string
	Metadata       MetadataService
	Logger         *slog.Logger
}

// Server is the assembled process: a multiplexer driving DHCP and DNS
// endpoints, plus an optional discovery listener goroutine and metadata
// HTTP server.
type Server struct {
	mux       *iomux.Mux
	logger    *slog.Logger
	registry  *discovery.Registry
	discovery config.DiscoveryConfig

	discoveryCancel context.CancelFunc
	httpServer      *http.Server
}

// New builds a Server from conf.  It does not bind any sockets; call Start
// for that.
func New(conf Config) (*Server, error) {
	logger := conf.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var leaseStore dhcp.LeaseStore
	if conf.LeaseDBPath != "" {
		store, err := dhcp.OpenBoltLeaseStore(conf.LeaseDBPath)
		if err != nil {
			return nil, fmt.Errorf("opening lease store: %w", err)
		}

		leaseStore = store
	}

	dhcpChain := dhcp.NewChain()

	for i, pc := range conf.Pools {
		pool, err := buildPool(pc, leaseStore, logger)
		if err != nil {
			return nil, fmt.Errorf("building pool[%d]: %w", i, err)
		}

		dhcpChain.Add(pool, dhcp.Normal)
	}

	dnsChain, registry := buildDNSChain(conf, logger)

	mux := iomux.New(logger)

	dhcpAddr := conf.DHCPListenAddr
	if dhcpAddr == "" {
		dhcpAddr = fmt.Sprintf(":%d", config.DefaultDHCPPort)
	}

	dnsAddr := conf.DNSListenAddr
	if dnsAddr == "" {
		dnsAddr = fmt.Sprintf(":%d", config.DefaultDNSPort)
	}

	// One Endpoint serves every pool: the chain dispatches each query to
	// its claiming pool, which carries its own broadcast address back out
	// of Dispatch, so binding per-pool sockets on a shared listen address
	// is unnecessary.
	mux.Register(dhcp.NewEndpoint(dhcp.EndpointConfig{
		ListenAddr: dhcpAddr,
		Chain:      dhcpChain,
		Logger:     logger,
	}))

	mux.Register(dnsforward.NewEndpoint(dnsforward.EndpointConfig{
		ListenAddr: dnsAddr,
		Chain:      dnsChain,
		Logger:     logger,
	}))

	srv := &Server{mux: mux, logger: logger, registry: registry, discovery: conf.Discovery}

	if conf.Metadata != nil {
		httpMux := http.NewServeMux()
		conf.Metadata.Register(httpMux)
		srv.httpServer = &http.Server{Handler: httpMux}
	}

	return srv, nil
}

// buildPool constructs one dhcp.Pool from its configuration.
func buildPool(pc config.PoolConfig, store dhcp.LeaseStore, logger *slog.Logger) (*dhcp.Pool, error) {
	reservations := make(map[string]dhcp.Reservation, len(pc.Reservations))
	for key, r := range pc.Reservations {
		extra := make(dhcp.OptionSet, len(r.ExtraOptions))
		for k, v := range r.ExtraOptions {
			extra[optionCode(k)] = []byte(v)
		}

		reservations[key] = dhcp.Reservation{
			IP:           net.ParseIP(r.IP),
			Hostname:     r.Hostname,
			ExtraOptions: extra,
		}
	}

	resolvers := make([]net.IP, 0, len(pc.Resolvers))
	for _, r := range pc.Resolvers {
		if ip := net.ParseIP(r); ip != nil {
			resolvers = append(resolvers, ip)
		}
	}

	pool, err := dhcp.NewPool(dhcp.Config{
		ServerIP:     net.ParseIP(pc.ServerIP),
		Netmask:      net.ParseIP(pc.Netmask),
		Gateway:      net.ParseIP(pc.Gateway),
		Domain:       pc.Domain,
		Resolvers:    resolvers,
		Reservations: reservations,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	if store != nil {
		if err = pool.SetLeaseStore(store); err != nil {
			return nil, err
		}
	}

	return pool, nil
}

// buildDNSChain assembles the DNS middleware chain: fixed records and
// discovery at Normal/High priority, the caching resolver at Low so local
// answers always win.
func buildDNSChain(conf Config, logger *slog.Logger) (*dnsforward.Chain, *discovery.Registry) {
	chain := dnsforward.NewChain()

	if len(conf.FixedRecords) > 0 {
		chain.Add(dnsforward.NewFixedRecords(conf.FixedRecords, config.DNSPort(), logger), dnsforward.High)
	}

	var registry *discovery.Registry
	if conf.Discovery.Enabled {
		registry = discovery.NewRegistry()
		chain.Add(discovery.NewHandler(registry), dnsforward.Normal)
	}

	for _, r := range conf.SuffixRoutes {
		chain.Add(dnsforward.NewSuffixForwarder([]dnsforward.SuffixRoute{r}, logger), dnsforward.Normal)
	}

	upstreams := conf.Upstreams
	if len(upstreams) == 0 {
		if fromHost, err := resolvconf.Read(conf.ResolvConfPath); err == nil {
			upstreams = fromHost
		}
	}

	chain.Add(dnsforward.NewResolver(upstreams, dnsforward.NewCache(dnsforward.DefaultCacheCapacity), logger), dnsforward.Low)

	return chain, registry
}

// Start starts the multiplexer, the discovery listener (if configured), and
// the metadata HTTP server (if configured).
func (s *Server) Start(ctx context.Context) error {
	if err := s.mux.Start(ctx); err != nil {
		return err
	}

	if s.registry != nil {
		client := discovery.NewClient(s.discovery.DockerSocket)
		listener := discovery.NewListener(client, s.registry, s.discovery.Domain, s.logger)

		discoveryCtx, cancel := context.WithCancel(ctx)
		s.discoveryCancel = cancel

		go func() {
			if err := listener.Run(discoveryCtx); err != nil {
				s.logger.Error("discovery listener stopped", "error", err)
			}
		}()
	}

	if s.httpServer != nil {
		go func() { _ = s.httpServer.ListenAndServe() }()
	}

	return nil
}

// Stop stops the multiplexer, the discovery listener, and the metadata
// server.
func (s *Server) Stop() error {
	if s.discoveryCancel != nil {
		s.discoveryCancel()
	}

	if s.httpServer != nil {
		_ = s.httpServer.Close()
	}

	return s.mux.Stop()
}

func optionCode(name string) byte {
	switch name {
	case "router":
		return dhcpv4.OptionRouter.Code()
	case "dns_servers":
		return dhcpv4.OptionDomainNameServer.Code()
	case "domain_name":
		return dhcpv4.OptionDomainName.Code()
	default:
		return dhcpv4.OptionHostName.Code()
	}
}
