package dnsforward

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/dhns/dhnsd/internal/dhnslog"
	"github.com/dhns/dhnsd/internal/dnswire"
	"github.com/dhns/dhnsd/internal/iomux"
	"golang.org/x/net/ipv4"
)

// EndpointConfig configures a DNS UDP endpoint.
type EndpointConfig struct {
	// ListenAddr is the address to bind, e.g. ":53" or ":5353".
	ListenAddr string

	// Chain is the DNS middleware chain to dispatch parsed queries through.
	Chain *Chain

	// Logger logs endpoint events.  If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Endpoint is the DNS UDP endpoint: it binds a socket and spawns a
// short-lived worker goroutine per datagram, so one slow upstream exchange
// cannot stall other queries.
type Endpoint struct {
	conf   EndpointConfig
	logger *slog.Logger
	port   int

	conn *ipv4.PacketConn
}

// type check
var _ iomux.Endpoint = (*Endpoint)(nil)

// NewEndpoint returns a new, unstarted DNS endpoint.
func NewEndpoint(conf EndpointConfig) *Endpoint {
	_, portStr, _ := net.SplitHostPort(conf.ListenAddr)
	port, _ := strconv.Atoi(portStr)

	return &Endpoint{
		conf:   conf,
		logger: dhnslog.NewForComponent(conf.Logger, dhnslog.PrefixDNSEndpoint),
		port:   port,
	}
}

// Name implements the iomux.Endpoint interface for *Endpoint.
func (e *Endpoint) Name() string { return "dns:" + e.conf.ListenAddr }

// Start implements the iomux.Endpoint interface for *Endpoint.
func (e *Endpoint) Start(ctx context.Context) error {
	conn, err := listenUDP4(ctx, e.conf.ListenAddr)
	if err != nil {
		return fmt.Errorf("dns endpoint: %w", err)
	}

	e.conn = conn

	go e.readLoop(ctx)

	return nil
}

// Stop implements the iomux.Endpoint interface for *Endpoint.
func (e *Endpoint) Stop() error {
	if e.conn == nil {
		return nil
	}

	return e.conn.Close()
}

func (e *Endpoint) readLoop(ctx context.Context) {
	buf := make([]byte, 1500)

	for {
		if ctx.Err() != nil {
			return
		}

		_ = e.conn.SetReadDeadline(time.Now().Add(iomux.WakeInterval * time.Millisecond))

		n, cm, addr, err := e.conn.ReadFrom(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return
			}

			e.logger.Debug("read error", slogutil.KeyError, err)

			continue
		}

		udpAddr, ok := addr.(*net.UDPAddr)
		if !ok {
			continue
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])

		var arrivalIP net.IP
		if cm != nil {
			arrivalIP = cm.Dst
		}

		go e.worker(ctx, payload, arrivalIP, udpAddr)
	}
}

// worker parses and dispatches one datagram, then replies from a transient
// socket bound to the arrival-interface IP so the reply's source address
// matches the destination the client targeted.
func (e *Endpoint) worker(ctx context.Context, payload []byte, arrivalIP net.IP, src *net.UDPAddr) {
	query, err := dnswire.Parse(payload)
	if err != nil {
		e.logger.Debug("dropping unparseable query", slogutil.KeyError, err, "src", src)

		return
	}

	answer, claimed := Dispatch(e.conf.Chain, query)
	if !claimed {
		return
	}

	out, err := answer.Bytes()
	if err != nil {
		e.logger.Error("serializing answer", slogutil.KeyError, err)

		return
	}

	e.reply(ctx, out, arrivalIP, src)
}

func (e *Endpoint) reply(ctx context.Context, payload []byte, arrivalIP net.IP, dst *net.UDPAddr) {
	bindAddr := fmt.Sprintf("%s:%d", replyBindIP(arrivalIP), e.port)

	conn, err := listenUDP4(ctx, bindAddr)
	if err != nil {
		e.logger.Error("opening reply socket", slogutil.KeyError, err, "bind", bindAddr)

		return
	}
	defer func() { _ = conn.Close() }()

	if _, err = conn.WriteTo(payload, nil, dst); err != nil {
		e.logger.Debug("write error", slogutil.KeyError, err, "dst", dst)
	}
}

func replyBindIP(arrivalIP net.IP) string {
	if arrivalIP == nil || arrivalIP.IsUnspecified() {
		return "0.0.0.0"
	}

	return arrivalIP.String()
}
