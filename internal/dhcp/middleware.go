package dhcp

import (
	"net"

	"github.com/dhns/dhnsd/internal/chain"
)

// Context is the per-request state threaded through the DHCP middleware
// chain: the decoded query, the interface the datagram arrived on, the
// in-progress answer that a claiming handler mutates, and the broadcast
// address that handler's network uses for replies.
type Context struct {
	Query       *Packet
	ArrivalIP   net.IP
	Answer      *Packet
	BroadcastIP net.IP
}

// Handler is implemented by any component that wants a seat in the DHCP
// middleware chain. HandleDHCP returns true if it claimed the query, i.e.
// ctx.Answer is the server's response and no further handler should run. A
// claiming handler must also set ctx.BroadcastIP to the network it is
// answering on, so the endpoint can route a broadcast reply to the right
// pool instead of whichever pool happened to register first.
type Handler interface {
	HandleDHCP(ctx *Context) (claimed bool)
}

// Chain is the priority-ordered DHCP middleware chain.
type Chain = chain.Chain[Handler]

const (
	// High is the priority for handlers that must run before anything else.
	High = chain.High

	// Normal is the priority for ordinary handlers such as the address
	// pool.
	Normal = chain.Normal

	// Low is the priority for handlers that should only run once nothing
	// else has claimed the query.
	Low = chain.Low
)

// NewChain returns an empty DHCP middleware chain.
func NewChain() *Chain {
	return chain.New[Handler]()
}

// Dispatch runs query through c in priority order and returns the claiming
// handler's answer together with the broadcast address it claimed on.
// claimed is false if no handler claimed the query (the endpoint must then
// drop the datagram silently), or if query was too malformed to build a
// reply skeleton from in the first place.
func Dispatch(c *Chain, query *Packet, arrivalIP net.IP) (answer *Packet, broadcastIP net.IP, claimed bool) {
	resp, err := Reply(query)
	if err != nil {
		return nil, nil, false
	}

	ctx := &Context{
		Query:     query,
		ArrivalIP: arrivalIP,
		Answer:    resp,
	}

	for _, h := range c.Handlers() {
		if h.HandleDHCP(ctx) {
			return ctx.Answer, ctx.BroadcastIP, true
		}
	}

	return nil, nil, false
}
