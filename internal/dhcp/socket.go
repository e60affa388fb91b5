package dhcp

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"
)

// listenUDP4 opens a UDP4 socket bound to addr with SO_REUSEADDR always set
// and SO_BROADCAST set when broadcast is true, then wraps it in an
// ipv4.PacketConn with destination-address control messages enabled so the
// receive path can recover the arrival-interface IP, using
// net.ListenConfig's Control hook instead of raw syscall.Socket/Bind.
func listenUDP4(ctx context.Context, addr string, broadcast bool) (*ipv4.PacketConn, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
				if sockErr != nil {
					return
				}

				if broadcast {
					sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
				}
			})
			if err != nil {
				return err
			}

			return sockErr
		},
	}

	conn, err := lc.ListenPacket(ctx, "udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}

	pc := ipv4.NewPacketConn(conn)
	if err = pc.SetControlMessage(ipv4.FlagDst, true); err != nil {
		_ = conn.Close()

		return nil, fmt.Errorf("enabling destination control messages on %s: %w", addr, err)
	}

	return pc, nil
}
