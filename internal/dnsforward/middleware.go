// Package dnsforward implements the DNS side of the system: the middleware
// chain, the caching forward resolver, the fixed-records and
// suffix-forwarder handlers, and the DNS UDP endpoint.
package dnsforward

import (
	"github.com/dhns/dhnsd/internal/chain"
	"github.com/dhns/dhnsd/internal/dnswire"
)

const (
	// High is the priority reserved for handlers that must run before
	// anything else, e.g. fixed records.
	High = chain.High

	// Normal is the priority for ordinary handlers, e.g. the discovery
	// registry.
	Normal = chain.Normal

	// Low is the priority for handlers that forward to the internet, so
	// local answers always win.
	Low = chain.Low
)

// Context carries one DNS query through the middleware chain.
type Context struct {
	// Query is the parsed incoming message.
	Query *dnswire.Message

	// Answer is the in-progress reply.  Handlers mutate it in place.
	Answer *dnswire.Message
}

// Handler is a DNS middleware: it inspects ctx and, if it can answer the
// query, mutates ctx.Answer and returns true to claim it and stop dispatch.
type Handler interface {
	HandleDNS(ctx *Context) (claimed bool)
}

// Chain is a priority-ordered list of DNS handlers.
type Chain = chain.Chain[Handler]

// NewChain returns an empty DNS middleware chain.
func NewChain() *Chain { return chain.New[Handler]() }

// Dispatch runs query through c and returns the resulting answer and
// whether some handler claimed it.
func Dispatch(c *Chain, query *dnswire.Message) (answer *dnswire.Message, claimed bool) {
	ctx := &Context{Query: query, Answer: dnswire.NewReply(query)}

	for _, h := range c.Handlers() {
		if h.HandleDNS(ctx) {
			return ctx.Answer, true
		}
	}

	return ctx.Answer, false
}
