package dhcp

import (
	"testing"

	"github.com/dhns/dhnsd/internal/dhnserr"
	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rawDiscover builds a minimal, wire-valid DHCPDISCOVER frame by hand: a
// 236-byte BOOTP header, the RFC 2131 magic cookie, a DHCP message-type
// option, and the options terminator. It exists so these tests exercise
// Parse/Pack against real wire bytes rather than against values already
// passed through the codec under test.
func rawDiscover(xid uint32, mac []byte, broadcast bool) []byte {
	b := make([]byte, 236, 236+8)

	b[0] = 1 // BOOTREQUEST
	b[1] = 1 // Ethernet
	b[2] = byte(len(mac))

	b[4] = byte(xid >> 24)
	b[5] = byte(xid >> 16)
	b[6] = byte(xid >> 8)
	b[7] = byte(xid)

	if broadcast {
		b[10] = 0x80
	}

	copy(b[28:28+len(mac)], mac)

	b = append(b, 99, 130, 83, 99) // magic cookie
	b = append(b, 53, 1, byte(dhcpv4.MessageTypeDiscover))
	b = append(b, 255) // end

	return b
}

func TestParsePackRoundTrip(t *testing.T) {
	mac := []byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}
	raw := rawDiscover(0xdeadbeef, mac, true)

	p, err := Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, dhcpv4.OpcodeBootRequest, p.OpCode)
	assert.Equal(t, mac, []byte(p.ClientHWAddr))
	assert.True(t, p.IsBroadcast())
	assert.Equal(t, dhcpv4.MessageTypeDiscover, p.MessageType())

	packed := Pack(p)
	got, err := Parse(packed)
	require.NoError(t, err)

	assert.Equal(t, p.OpCode, got.OpCode)
	assert.Equal(t, p.ClientHWAddr, got.ClientHWAddr)
	assert.Equal(t, p.TransactionID, got.TransactionID)
	assert.Equal(t, p.IsBroadcast(), got.IsBroadcast())
	assert.Equal(t, p.MessageType(), got.MessageType())
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse([]byte{1, 2, 3})
	assert.ErrorIs(t, err, dhnserr.ErrParse)
}

func TestReplyCopiesClientIdentity(t *testing.T) {
	mac := []byte{1, 2, 3, 4, 5, 6}
	raw := rawDiscover(42, mac, true)

	query, err := Parse(raw)
	require.NoError(t, err)

	resp, err := Reply(query)
	require.NoError(t, err)

	assert.Equal(t, dhcpv4.OpcodeBootReply, resp.OpCode)
	assert.Equal(t, query.TransactionID, resp.TransactionID)
	assert.Equal(t, query.ClientHWAddr, resp.ClientHWAddr)
}
