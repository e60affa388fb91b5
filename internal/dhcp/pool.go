package dhcp

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/dhns/dhnsd/internal/dhnserr"
	"github.com/insomniacslk/dhcp/dhcpv4"
)

// DefaultLeaseTime is the lease duration advertised in option 51 when a
// pool's configuration doesn't override it.
const DefaultLeaseTime = 1 * time.Hour

// Reservation is a static mapping from a client's hardware address to a
// specific address and/or hostname.
type Reservation struct {
	IP           net.IP
	Hostname     string
	ExtraOptions OptionSet
}

// Config configures a Pool.  Broadcast and network membership are derived
// from ServerIP and Netmask and must never be set directly.
type Config struct {
	ServerIP     net.IP
	Netmask      net.IP
	Gateway      net.IP
	Domain       string
	Resolvers    []net.IP
	Reservations map[string]Reservation
	LeaseTime    time.Duration
	Logger       *slog.Logger
}

// binding is an offer or lease entry: an address plus the options that were
// handed out alongside it.
type binding struct {
	ip      [4]byte
	options OptionSet
}

// LeaseStore persists offer and lease maps for one pool across restarts.
// Implementations must be safe for sequential use from the caller that owns
// the Pool's lock.
type LeaseStore interface {
	// Save writes through a single key's current value, or deletes it if
	// val is nil.
	Save(bucket, key string, val []byte) error

	// Load returns all key/value pairs previously saved under bucket.
	Load(bucket string) (map[string][]byte, error)
}

// Pool is the DHCP address pool and lease manager.  It handles DISCOVER,
// REQUEST, DECLINE, and RELEASE; other message types are logged and not
// claimed.
type Pool struct {
	logger *slog.Logger
	store  LeaseStore

	offers map[string]*binding
	leases map[string]*binding

	offerIPs map[[4]byte]string
	leaseIPs map[[4]byte]string

	reservations map[string]Reservation
	reservedIPs  map[[4]byte]bool

	serverIP  [4]byte
	netmask   [4]byte
	broadcast [4]byte
	gateway   [4]byte
	hasGW     bool
	resolvers [][4]byte
	domain    string
	leaseTime time.Duration

	mu sync.Mutex
}

// type check
var _ Handler = (*Pool)(nil)

// ServerIP returns the pool's own address.
func (p *Pool) ServerIP() net.IP {
	return net.IPv4(p.serverIP[0], p.serverIP[1], p.serverIP[2], p.serverIP[3])
}

// BroadcastIP returns the pool's derived broadcast address.
func (p *Pool) BroadcastIP() net.IP {
	return net.IPv4(p.broadcast[0], p.broadcast[1], p.broadcast[2], p.broadcast[3])
}

// NewPool builds a Pool from conf.  conf.ServerIP and conf.Netmask must be
// non-nil 4-byte (or 4-in-16) IPv4 addresses.
func NewPool(conf Config) (*Pool, error) {
	server, ok := to4(conf.ServerIP)
	if !ok {
		return nil, fmt.Errorf("dhcp: invalid server IP %v: %w", conf.ServerIP, dhnserr.ErrConfig)
	}

	mask, ok := to4(conf.Netmask)
	if !ok {
		return nil, fmt.Errorf("dhcp: invalid netmask %v: %w", conf.Netmask, dhnserr.ErrConfig)
	}

	p := &Pool{
		logger:       conf.Logger,
		offers:       map[string]*binding{},
		leases:       map[string]*binding{},
		offerIPs:     map[[4]byte]string{},
		leaseIPs:     map[[4]byte]string{},
		reservations: conf.Reservations,
		reservedIPs:  map[[4]byte]bool{},
		serverIP:     server,
		netmask:      mask,
		domain:       conf.Domain,
		leaseTime:    conf.LeaseTime,
	}

	p.broadcast = deriveBroadcast(server, mask)

	if p.leaseTime <= 0 {
		p.leaseTime = DefaultLeaseTime
	}

	if p.logger == nil {
		p.logger = slog.Default()
	}

	if conf.Gateway != nil {
		gw, gwOK := to4(conf.Gateway)
		if !gwOK {
			return nil, fmt.Errorf("dhcp: invalid gateway %v: %w", conf.Gateway, dhnserr.ErrConfig)
		}
		p.gateway, p.hasGW = gw, true
	}

	for _, r := range conf.Resolvers {
		rv, rvOK := to4(r)
		if !rvOK {
			return nil, fmt.Errorf("dhcp: invalid resolver %v: %w", r, dhnserr.ErrConfig)
		}
		p.resolvers = append(p.resolvers, rv)
	}

	for _, res := range p.reservations {
		if ip, ipOK := to4(res.IP); ipOK {
			p.reservedIPs[ip] = true
		}
	}

	return p, nil
}

// deriveBroadcast computes server | ^netmask. An off-by-two variant of this
// computed via `~netmask & (0xffffffff - 2)` undercounts the top of the
// range by two addresses due to operator precedence; this implementation
// does not replicate that.
func deriveBroadcast(server, mask [4]byte) [4]byte {
	var bc [4]byte
	for i := range bc {
		bc[i] = server[i] | ^mask[i]
	}

	return bc
}

// SetLeaseStore attaches a persistence backend.  It must be called before
// any request is handled; Pool does not synchronize concurrent SetLeaseStore
// and HandleDHCP calls.
func (p *Pool) SetLeaseStore(store LeaseStore) error {
	p.store = store
	if store == nil {
		return nil
	}

	offers, err := store.Load(bucketOffers)
	if err != nil {
		return fmt.Errorf("loading offers: %w", err)
	}
	leases, err := store.Load(bucketLeases)
	if err != nil {
		return fmt.Errorf("loading leases: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for key, raw := range offers {
		if b, ok := decodeBinding(raw); ok {
			p.offers[key] = b
			p.offerIPs[b.ip] = key
		}
	}
	for key, raw := range leases {
		if b, ok := decodeBinding(raw); ok {
			p.leases[key] = b
			p.leaseIPs[b.ip] = key
		}
	}

	return nil
}

// Bucket names used with LeaseStore, one pool-wide bucket per map.
const (
	bucketOffers = "offers"
	bucketLeases = "leases"
)

// HostByName performs a linear-scan reverse lookup over the leases and
// returns the address of one whose hostname option equals name, compared
// case-insensitively.  Leases are scanned in map order, so which lease is
// returned when several share a hostname is not defined.  No DNS handler in
// this module calls it.
func (p *Pool) HostByName(name string) (net.IP, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, l := range p.leases {
		if hn, ok := l.options[dhcpv4.OptionHostName.Code()]; ok && strings.EqualFold(string(hn), name) {
			ip := l.ip

			return net.IPv4(ip[0], ip[1], ip[2], ip[3]), true
		}
	}

	return nil, false
}

// HandleDHCP implements the Handler interface for Pool.
func (p *Pool) HandleDHCP(ctx *Context) (claimed bool) {
	if !ctx.ArrivalIP.Equal(net.IPv4(p.serverIP[0], p.serverIP[1], p.serverIP[2], p.serverIP[3])) {
		// Another pool may own this interface.
		return false
	}

	typ := ctx.Query.MessageType()
	if typ == 0 {
		// BOOTP, not DHCP; not handled by this component.
		return false
	}

	key := keyFor(ctx.Query.ClientHWAddr)
	if key == "" {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch typ {
	case dhcpv4.MessageTypeDiscover:
		return p.handleDiscover(ctx, key)
	case dhcpv4.MessageTypeRequest:
		return p.handleRequest(ctx, key)
	case dhcpv4.MessageTypeDecline, dhcpv4.MessageTypeRelease:
		return p.handleDeclineRelease(ctx, key)
	default:
		p.logger.Info("unsupported dhcp message type", "type", typ, "client", key)

		return false
	}
}

func (p *Pool) handleDiscover(ctx *Context, key string) bool {
	var priorIP [4]byte
	hadPrior := false
	if b, ok := p.offers[key]; ok {
		priorIP, hadPrior = b.ip, true
	}

	p.popOffer(key)
	p.popLease(key)

	reqIP, hasReqIP := to4FromBytes(ctx.Query.Options.Get(dhcpv4.OptionRequestedIPAddress))

	ip, err := p.chooseAddress(key, reqIP, hasReqIP, priorIP, hadPrior)
	if err != nil {
		p.logger.Debug("discover: allocation failed", "client", key, "err", err)

		return false
	}

	opts := p.buildOptions(key, ctx.Query)
	p.addOffer(key, ip, opts)

	p.fillAnswer(ctx.Answer, ip, opts, dhcpv4.MessageTypeOffer)
	ctx.BroadcastIP = p.BroadcastIP()

	return true
}

func (p *Pool) handleRequest(ctx *Context, key string) bool {
	var ip [4]byte
	var opts OptionSet

	if b, ok := p.offers[key]; ok {
		ip, opts = b.ip, b.options
		p.popOffer(key)
	} else {
		reqIP, hasReqIP := to4FromBytes(ctx.Query.Options.Get(dhcpv4.OptionRequestedIPAddress))
		if !hasReqIP {
			reqIP, hasReqIP = to4(ctx.Query.ClientIPAddr)
		}

		var err error
		ip, err = p.chooseAddress(key, reqIP, hasReqIP, [4]byte{}, false)
		if err != nil {
			p.logger.Debug("request: allocation failed", "client", key, "err", err)

			// A stricter policy would NAK here; this implementation follows
			// the lenient behavior and simply drops the request.
			return false
		}

		opts = p.buildOptions(key, ctx.Query)
	}

	p.addLease(key, ip, opts)
	p.fillAnswer(ctx.Answer, ip, opts, dhcpv4.MessageTypeAck)
	ctx.BroadcastIP = p.BroadcastIP()

	return true
}

func (p *Pool) handleDeclineRelease(ctx *Context, key string) bool {
	p.popOffer(key)
	p.popLease(key)

	// Deliberately lenient: DECLINE is ACKed rather than NAKed.
	ctx.Answer.Options[dhcpv4.OptionDHCPMessageType.Code()] = []byte{byte(dhcpv4.MessageTypeAck)}
	ctx.Answer.Options[dhcpv4.OptionServerIdentifier.Code()] = p.serverIP[:]
	ctx.BroadcastIP = p.BroadcastIP()

	return true
}

// chooseAddress implements the allocation policy: an explicit reservation
// always wins; otherwise a valid, unclaimed requested address is honored;
// otherwise, if no address was requested, the prior offer (if any) is
// reused; otherwise a fresh address is scanned for.
func (p *Pool) chooseAddress(
	key string,
	reqIP [4]byte,
	hasReqIP bool,
	priorIP [4]byte,
	hadPrior bool,
) ([4]byte, error) {
	if res, ok := p.reservations[key]; ok {
		if ip, ipOK := to4(res.IP); ipOK {
			return ip, nil
		}
	}

	if hasReqIP && p.addrInNetwork(reqIP) && !p.isTakenByOther(reqIP, key) {
		return reqIP, nil
	}

	if !hasReqIP && hadPrior {
		return priorIP, nil
	}

	return p.scanFree(key)
}

// scanFree returns the first free candidate in ascending numeric order,
// starting at server+1 and ending two addresses before broadcast.
func (p *Pool) scanFree(key string) ([4]byte, error) {
	start := ipToUint32(p.serverIP) + 1
	end := ipToUint32(p.broadcast) - 2

	for v := start; v <= end; v++ {
		ip := uint32ToIP(v)
		if ip == p.serverIP {
			continue
		}
		if p.reservedIPs[ip] {
			continue
		}
		if _, ok := p.offerIPs[ip]; ok {
			continue
		}
		if _, ok := p.leaseIPs[ip]; ok {
			continue
		}

		return ip, nil
	}

	var zero [4]byte

	return zero, dhnserr.ErrPoolExhausted
}

func (p *Pool) addrInNetwork(ip [4]byte) bool {
	for i := range ip {
		if ip[i]&p.netmask[i] != p.serverIP[i]&p.netmask[i] {
			return false
		}
	}

	return true
}

func (p *Pool) isTakenByOther(ip [4]byte, key string) bool {
	if ip == p.serverIP || ip == p.broadcast {
		return true
	}
	if owner, ok := p.offerIPs[ip]; ok && owner != key {
		return true
	}
	if owner, ok := p.leaseIPs[ip]; ok && owner != key {
		return true
	}
	if p.reservedIPs[ip] {
		res, ok := p.reservations[key]
		if !ok {
			return true
		}
		resIP, resOK := to4(res.IP)

		return !resOK || resIP != ip
	}

	return false
}

// buildOptions assembles the common response options placed on every
// OFFER/ACK: server-id, netmask, broadcast, lease-time, domain, gateway,
// resolvers, hostname, with per-reservation extra options merged last and
// winning on conflict.
func (p *Pool) buildOptions(key string, query *Packet) OptionSet {
	opts := OptionSet{}

	opts[dhcpv4.OptionServerIdentifier.Code()] = append([]byte{}, p.serverIP[:]...)
	opts[dhcpv4.OptionSubnetMask.Code()] = append([]byte{}, p.netmask[:]...)
	opts[dhcpv4.OptionBroadcastAddress.Code()] = append([]byte{}, p.broadcast[:]...)

	leaseSecs := make([]byte, 4)
	binary.BigEndian.PutUint32(leaseSecs, uint32(p.leaseTime.Seconds()))
	opts[dhcpv4.OptionIPAddressLeaseTime.Code()] = leaseSecs

	if p.domain != "" {
		opts[dhcpv4.OptionDomainName.Code()] = []byte(p.domain)
	}

	if p.hasGW {
		opts[dhcpv4.OptionRouter.Code()] = append([]byte{}, p.gateway[:]...)
	}

	if len(p.resolvers) > 0 {
		dns := make([]byte, 0, len(p.resolvers)*4)
		for _, r := range p.resolvers {
			dns = append(dns, r[:]...)
		}
		opts[dhcpv4.OptionDomainNameServer.Code()] = dns
	}

	res, hasRes := p.reservations[key]

	hostname := key
	if hn := query.HostName(); hn != "" {
		hostname = hn
	}
	if hasRes && res.Hostname != "" {
		hostname = res.Hostname
	}
	opts[dhcpv4.OptionHostName.Code()] = []byte(hostname)

	if hasRes {
		for code, val := range res.ExtraOptions {
			opts[code] = val
		}
	}

	return opts
}

func (p *Pool) fillAnswer(answer *Packet, ip [4]byte, opts OptionSet, msgType dhcpv4.MessageType) {
	answer.YourIPAddr = net.IPv4(ip[0], ip[1], ip[2], ip[3]).To4()
	answer.Options = cloneOptionSet(opts)
	answer.Options[dhcpv4.OptionDHCPMessageType.Code()] = []byte{byte(msgType)}
}

func cloneOptionSet(o OptionSet) OptionSet {
	c := make(OptionSet, len(o))
	for k, v := range o {
		c[k] = v
	}

	return c
}

func (p *Pool) addOffer(key string, ip [4]byte, opts OptionSet) {
	p.offers[key] = &binding{ip: ip, options: opts}
	p.offerIPs[ip] = key
	p.persist(bucketOffers, key, &binding{ip: ip, options: opts})
}

func (p *Pool) popOffer(key string) {
	if b, ok := p.offers[key]; ok {
		delete(p.offerIPs, b.ip)
		delete(p.offers, key)
		p.persist(bucketOffers, key, nil)
	}
}

func (p *Pool) addLease(key string, ip [4]byte, opts OptionSet) {
	p.leases[key] = &binding{ip: ip, options: opts}
	p.leaseIPs[ip] = key
	p.persist(bucketLeases, key, &binding{ip: ip, options: opts})
}

func (p *Pool) popLease(key string) {
	if b, ok := p.leases[key]; ok {
		delete(p.leaseIPs, b.ip)
		delete(p.leases, key)
		p.persist(bucketLeases, key, nil)
	}
}

func (p *Pool) persist(bucket, key string, b *binding) {
	if p.store == nil {
		return
	}

	var val []byte
	if b != nil {
		val = encodeBinding(b)
	}

	if err := p.store.Save(bucket, key, val); err != nil {
		p.logger.Error("persisting lease state", slogutil.KeyError, err, "bucket", bucket, "key", key)
	}
}

// keyFor renders hw as uppercase hex with no separators, the canonical
// client key used to index offers, leases, and reservations.
func keyFor(hw net.HardwareAddr) string {
	if len(hw) == 0 {
		return ""
	}

	return strings.ToUpper(hex.EncodeToString(hw))
}

func to4(ip net.IP) ([4]byte, bool) {
	v4 := ip.To4()
	if v4 == nil {
		return [4]byte{}, false
	}

	var out [4]byte
	copy(out[:], v4)

	return out, true
}

func to4FromBytes(b []byte) ([4]byte, bool) {
	if len(b) != 4 {
		return [4]byte{}, false
	}

	var out [4]byte
	copy(out[:], b)

	return out, true
}

func ipToUint32(ip [4]byte) uint32 {
	return binary.BigEndian.Uint32(ip[:])
}

func uint32ToIP(v uint32) [4]byte {
	var ip [4]byte
	binary.BigEndian.PutUint32(ip[:], v)

	return ip
}
