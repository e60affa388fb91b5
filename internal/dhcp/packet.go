// Package dhcp implements the DHCPv4 address pool, lease manager, and UDP
// endpoint. Wire-level parsing, serialization, and option access are
// delegated to github.com/insomniacslk/dhcp/dhcpv4 rather than hand-rolled,
// since that library is already a proven RFC 2131/2132 codec.
package dhcp

import (
	"fmt"

	"github.com/dhns/dhnsd/internal/dhnserr"
	"github.com/insomniacslk/dhcp/dhcpv4"
)

// Packet wraps a decoded DHCPv4 frame. The wrapper exists so this package's
// middleware and pool types have their own name to hang methods and
// doc comments off of, rather than reaching into dhcpv4.DHCPv4 directly at
// every call site.
type Packet struct {
	*dhcpv4.DHCPv4
}

// OptionSet is the set of DHCP options carried on a query or answer, keyed
// by RFC option number. It is exactly dhcpv4.Options, the type
// insomniacslk/dhcp itself uses for DHCPv4.Options — this package never
// introduces a second, competing option representation.
type OptionSet = dhcpv4.Options

// Parse decodes a DHCPv4 wire frame.
func Parse(b []byte) (*Packet, error) {
	d, err := dhcpv4.FromBytes(b)
	if err != nil {
		return nil, fmt.Errorf("dhcp: %w: %w", dhnserr.ErrParse, err)
	}

	return &Packet{DHCPv4: d}, nil
}

// Pack serializes p back to its DHCPv4 wire form.
func Pack(p *Packet) []byte {
	return p.ToBytes()
}

// Reply builds a server response skeleton from query via
// dhcpv4.NewReplyFromRequest, which derives op/htype/hlen/xid/flags/giaddr/
// ciaddr/chaddr the way RFC 2131's relay-agent rules require. It returns an
// error if query is too malformed to build a reply from at all, in which
// case the caller drops the datagram instead of answering it.
func Reply(query *Packet) (*Packet, error) {
	resp, err := dhcpv4.NewReplyFromRequest(query.DHCPv4)
	if err != nil {
		return nil, fmt.Errorf("dhcp: building reply: %w", err)
	}

	if resp.Options == nil {
		resp.Options = dhcpv4.Options{}
	}

	return &Packet{DHCPv4: resp}, nil
}
