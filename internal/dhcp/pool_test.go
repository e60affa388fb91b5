package dhcp

import (
	"net"
	"testing"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPool(t *testing.T, serverIP, netmask string, reservations map[string]Reservation) *Pool {
	t.Helper()

	p, err := NewPool(Config{
		ServerIP:     net.ParseIP(serverIP),
		Netmask:      net.ParseIP(netmask),
		Reservations: reservations,
	})
	require.NoError(t, err)

	return p
}

func discoverPacket(mac net.HardwareAddr) *Packet {
	return &Packet{DHCPv4: &dhcpv4.DHCPv4{
		OpCode:       dhcpv4.OpcodeBootRequest,
		ClientHWAddr: mac,
		Options:      dhcpv4.Options{dhcpv4.OptionDHCPMessageType.Code(): {byte(dhcpv4.MessageTypeDiscover)}},
	}}
}

func requestPacket(mac net.HardwareAddr, reqIP net.IP) *Packet {
	p := &Packet{DHCPv4: &dhcpv4.DHCPv4{
		OpCode:       dhcpv4.OpcodeBootRequest,
		ClientHWAddr: mac,
		Options:      dhcpv4.Options{dhcpv4.OptionDHCPMessageType.Code(): {byte(dhcpv4.MessageTypeRequest)}},
	}}
	if reqIP != nil {
		p.Options[dhcpv4.OptionRequestedIPAddress.Code()] = reqIP.To4()
	}

	return p
}

func TestDiscoverOfferRequestAck(t *testing.T) {
	p := testPool(t, "10.3.2.1", "255.255.255.0", nil)
	arrival := net.ParseIP("10.3.2.1")
	mac, err := net.ParseMAC("aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)

	offerAnswer, _, claimed := Dispatch(chainWith(p), discoverPacket(mac), arrival)
	require.True(t, claimed)
	assert.Equal(t, net.ParseIP("10.3.2.2").To4(), offerAnswer.YourIPAddr.To4())
	assert.Equal(t, dhcpv4.MessageTypeOffer, offerAnswer.MessageType())

	ackAnswer, broadcastIP, claimed := Dispatch(chainWith(p), requestPacket(mac, nil), arrival)
	require.True(t, claimed)
	assert.Equal(t, net.ParseIP("10.3.2.2").To4(), ackAnswer.YourIPAddr.To4())
	assert.Equal(t, net.ParseIP("10.3.2.1").To4(), []byte(ackAnswer.Options[dhcpv4.OptionServerIdentifier.Code()]))
	assert.Equal(t, net.ParseIP("255.255.255.0").To4(), []byte(ackAnswer.Options[dhcpv4.OptionSubnetMask.Code()]))
	assert.Equal(t, "AABBCCDDEEFF", string(ackAnswer.Options[dhcpv4.OptionHostName.Code()]))
	assert.Equal(t, p.BroadcastIP().To4(), broadcastIP.To4())
}

func TestReservedClientBypass(t *testing.T) {
	reservations := map[string]Reservation{
		"5254009FCCD0": {IP: net.ParseIP("10.3.2.20"), Hostname: "node01"},
	}
	p := testPool(t, "10.3.2.1", "255.255.255.0", reservations)
	mac, err := net.ParseMAC("52:54:00:9f:cc:d0")
	require.NoError(t, err)

	answer, _, claimed := Dispatch(chainWith(p), discoverPacket(mac), net.ParseIP("10.3.2.1"))
	require.True(t, claimed)
	assert.Equal(t, net.ParseIP("10.3.2.20").To4(), answer.YourIPAddr.To4())
	assert.Equal(t, "node01", string(answer.Options[dhcpv4.OptionHostName.Code()]))
}

func TestRequestedAddressOutsideNetwork(t *testing.T) {
	p := testPool(t, "10.3.2.1", "255.255.255.0", nil)
	mac, err := net.ParseMAC("11:22:33:44:55:66")
	require.NoError(t, err)

	pkt := discoverPacket(mac)
	pkt.Options[dhcpv4.OptionRequestedIPAddress.Code()] = net.ParseIP("192.168.0.5").To4()

	answer, _, claimed := Dispatch(chainWith(p), pkt, net.ParseIP("10.3.2.1"))
	require.True(t, claimed)
	assert.True(t, p.addrInNetwork(mustTo4(answer.YourIPAddr)))
	assert.NotEqual(t, net.ParseIP("192.168.0.5").To4(), answer.YourIPAddr.To4())
}

func TestReleaseRemovesOfferAndLease(t *testing.T) {
	p := testPool(t, "10.3.2.1", "255.255.255.0", nil)
	arrival := net.ParseIP("10.3.2.1")
	mac, err := net.ParseMAC("aa:bb:cc:dd:ee:01")
	require.NoError(t, err)

	_, _, claimed := Dispatch(chainWith(p), discoverPacket(mac), arrival)
	require.True(t, claimed)
	_, _, claimed = Dispatch(chainWith(p), requestPacket(mac, nil), arrival)
	require.True(t, claimed)

	key := keyFor(mac)
	require.Contains(t, p.leases, key)

	releasePkt := discoverPacket(mac)
	releasePkt.Options[dhcpv4.OptionDHCPMessageType.Code()] = []byte{byte(dhcpv4.MessageTypeRelease)}

	_, _, claimed = Dispatch(chainWith(p), releasePkt, arrival)
	require.True(t, claimed)

	p.mu.Lock()
	_, hasOffer := p.offers[key]
	_, hasLease := p.leases[key]
	p.mu.Unlock()
	assert.False(t, hasOffer)
	assert.False(t, hasLease)
}

func TestWrongInterfaceNotClaimed(t *testing.T) {
	p := testPool(t, "10.3.2.1", "255.255.255.0", nil)
	mac, err := net.ParseMAC("aa:bb:cc:dd:ee:02")
	require.NoError(t, err)

	_, _, claimed := Dispatch(chainWith(p), discoverPacket(mac), net.ParseIP("10.9.9.9"))
	assert.False(t, claimed)
}

// TestDispatchReturnsClaimingPoolBroadcastIP covers the multi-pool case: two
// pools on different networks share one chain, and Dispatch must return the
// broadcast address of whichever pool actually claimed the packet, not the
// first pool registered.
func TestDispatchReturnsClaimingPoolBroadcastIP(t *testing.T) {
	poolA := testPool(t, "10.3.2.1", "255.255.255.0", nil)
	poolB := testPool(t, "10.3.3.1", "255.255.255.0", nil)

	c := NewChain()
	c.Add(poolA, Normal)
	c.Add(poolB, Normal)

	mac, err := net.ParseMAC("aa:bb:cc:dd:ee:03")
	require.NoError(t, err)

	_, broadcastIP, claimed := Dispatch(c, discoverPacket(mac), net.ParseIP("10.3.3.1"))
	require.True(t, claimed)
	assert.Equal(t, poolB.BroadcastIP().To4(), broadcastIP.To4())
	assert.NotEqual(t, poolA.BroadcastIP().To4(), broadcastIP.To4())
}

// chainWith builds a one-handler DHCP chain for tests.
func chainWith(h Handler) *Chain {
	c := NewChain()
	c.Add(h, 0)

	return c
}

func mustTo4(ip net.IP) [4]byte {
	var out [4]byte
	copy(out[:], ip.To4())

	return out
}
