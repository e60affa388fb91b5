package dhcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/dhns/dhnsd/internal/dhnslog"
	"github.com/dhns/dhnsd/internal/iomux"
	"golang.org/x/net/ipv4"
)

// ClientPort is the standard DHCP client port used for broadcast replies.
const ClientPort = 68

// EndpointConfig configures a DHCP UDP endpoint. One Endpoint is shared by
// every pool in the chain — it has no pool-specific address of its own,
// since every pool's answer already carries the broadcast address (and
// every claim is preconditioned on the packet's arrival IP matching that
// pool's own address).
type EndpointConfig struct {
	// ListenAddr is the address to bind, e.g. ":67" or ":6767" in
	// development.
	ListenAddr string

	// Chain is the DHCP middleware chain to dispatch parsed packets
	// through.
	Chain *Chain

	// Logger logs endpoint events.  If nil, slog.Default() is used.
	Logger *slog.Logger
}

type outboundDatagram struct {
	payload     []byte
	addr        *net.UDPAddr
	isBroadcast bool

	// bindIP is the source address for a transient broadcast-reply socket;
	// meaningful only when isBroadcast is true. It is the claiming pool's
	// own address (the packet's arrival interface IP), not a single
	// endpoint-wide address, since one Endpoint serves every pool.
	bindIP net.IP
}

// Endpoint is the DHCP UDP endpoint: it binds a socket, recovers the arrival
// interface, dispatches through the middleware chain, and routes replies.
type Endpoint struct {
	conf   EndpointConfig
	logger *slog.Logger

	conn  *ipv4.PacketConn
	queue chan outboundDatagram
	done  chan struct{}
}

// type check
var _ iomux.Endpoint = (*Endpoint)(nil)

// NewEndpoint returns a new, unstarted DHCP endpoint.
func NewEndpoint(conf EndpointConfig) *Endpoint {
	return &Endpoint{conf: conf, logger: dhnslog.NewForComponent(conf.Logger, dhnslog.PrefixDHCPEndpoint)}
}

// Name implements the iomux.Endpoint interface for *Endpoint.
func (e *Endpoint) Name() string { return "dhcp:" + e.conf.ListenAddr }

// Start implements the iomux.Endpoint interface for *Endpoint.
func (e *Endpoint) Start(ctx context.Context) error {
	conn, err := listenUDP4(ctx, e.conf.ListenAddr, true)
	if err != nil {
		return fmt.Errorf("dhcp endpoint: %w", err)
	}

	e.conn = conn
	e.queue = make(chan outboundDatagram, 64)
	e.done = make(chan struct{})

	go e.readLoop(ctx)
	go e.writeLoop(ctx)

	return nil
}

// Stop implements the iomux.Endpoint interface for *Endpoint.
func (e *Endpoint) Stop() error {
	if e.conn == nil {
		return nil
	}

	return e.conn.Close()
}

// readLoop reads, parses, and dispatches incoming datagrams.  It wakes every
// iomux.WakeInterval milliseconds to notice a cancelled ctx.
func (e *Endpoint) readLoop(ctx context.Context) {
	buf := make([]byte, 1500)

	for {
		if ctx.Err() != nil {
			return
		}

		_ = e.conn.SetReadDeadline(time.Now().Add(iomux.WakeInterval * time.Millisecond))

		n, cm, addr, err := e.conn.ReadFrom(buf)
		if err != nil {
			if isTimeout(err) {
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

		e.handle(buf[:n], cm, udpAddr)
	}
}

func (e *Endpoint) handle(payload []byte, cm *ipv4.ControlMessage, src *net.UDPAddr) {
	query, err := Parse(payload)
	if err != nil {
		e.logger.Debug("dropping unparseable packet", slogutil.KeyError, err, "src", src)

		return
	}

	var arrivalIP net.IP
	if cm != nil {
		arrivalIP = cm.Dst
	}

	answer, broadcastIP, claimed := Dispatch(e.conf.Chain, query, arrivalIP)
	if !claimed {
		return
	}

	e.enqueueReply(answer, query, src, arrivalIP, broadcastIP)
}

// enqueueReply picks the destination address for answer: a broadcast query
// gets a broadcast reply, an unspecified source IP falls back to the
// claiming pool's broadcast address on the query's source port, and
// anything else gets a direct unicast reply. broadcastIP and arrivalIP are
// the claiming pool's own addresses, threaded out of Dispatch — not a
// single endpoint-wide address, since this Endpoint may serve several
// pools sharing one listen address.
func (e *Endpoint) enqueueReply(answer, query *Packet, src *net.UDPAddr, arrivalIP, broadcastIP net.IP) {
	payload := Pack(answer)

	switch {
	case query.IsBroadcast():
		e.enqueue(outboundDatagram{
			payload:     payload,
			addr:        &net.UDPAddr{IP: net.IPv4bcast, Port: ClientPort},
			isBroadcast: true,
			bindIP:      arrivalIP,
		})
	case src.IP.IsUnspecified():
		e.enqueue(outboundDatagram{
			payload: payload,
			addr:    &net.UDPAddr{IP: broadcastIP, Port: src.Port},
		})
	default:
		e.enqueue(outboundDatagram{payload: payload, addr: src})
	}
}

func (e *Endpoint) enqueue(d outboundDatagram) {
	select {
	case e.queue <- d:
	default:
		e.logger.Error("outbound queue full, dropping reply", "addr", d.addr)
	}
}

// writeLoop dequeues exactly one datagram per iteration, preserving FIFO
// order within this endpoint.
func (e *Endpoint) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-e.queue:
			if !ok {
				return
			}

			e.send(ctx, d)
		}
	}
}

func (e *Endpoint) send(ctx context.Context, d outboundDatagram) {
	if !d.isBroadcast {
		if _, err := e.conn.WriteTo(d.payload, nil, d.addr); err != nil {
			e.logger.Debug("write error", slogutil.KeyError, err, "addr", d.addr)
		}

		return
	}

	// A broadcast reply is sent from a newly-bound broadcast-capable socket
	// on the claiming pool's own address, the DHCP server source port, to
	// 255.255.255.255:68.  The socket is transient: opened, used once, and
	// closed.
	bindIP := "0.0.0.0"
	if d.bindIP != nil {
		bindIP = d.bindIP.String()
	}

	bcastConn, err := listenUDP4(ctx, fmt.Sprintf("%s:67", bindIP), true)
	if err != nil {
		e.logger.Error("opening broadcast socket", slogutil.KeyError, err)

		return
	}
	defer func() { _ = bcastConn.Close() }()

	if _, err = bcastConn.WriteTo(d.payload, nil, d.addr); err != nil {
		e.logger.Debug("broadcast write error", slogutil.KeyError, err)
	}
}

func isTimeout(err error) bool {
	var ne net.Error

	return errors.As(err, &ne) && ne.Timeout()
}
