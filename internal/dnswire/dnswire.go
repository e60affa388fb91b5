// Package dnswire thinly wraps github.com/miekg/dns so the rest of this
// module only ever touches the query name, type, class, rcode, and answer
// TTLs that the DNS middleware chain cares about, without re-implementing
// the wire codec itself.
package dnswire

import (
	"fmt"

	"github.com/dhns/dhnsd/internal/dhnserr"
	"github.com/miekg/dns"
)

// Message wraps a parsed DNS message.
type Message struct {
	Msg *dns.Msg
}

// Parse decodes a raw DNS message.
func Parse(b []byte) (*Message, error) {
	msg := new(dns.Msg)
	if err := msg.Unpack(b); err != nil {
		return nil, fmt.Errorf("unpacking dns message: %w: %w", dhnserr.ErrParse, err)
	}

	return &Message{Msg: msg}, nil
}

// Bytes serializes the message back to wire format.
func (m *Message) Bytes() ([]byte, error) {
	b, err := m.Msg.Pack()
	if err != nil {
		return nil, fmt.Errorf("packing dns message: %w", err)
	}

	return b, nil
}

// QName returns the first question's name, or "" if there is none.
func (m *Message) QName() string {
	if len(m.Msg.Question) == 0 {
		return ""
	}

	return m.Msg.Question[0].Name
}

// QType returns the first question's RR type, or 0 if there is none.
func (m *Message) QType() uint16 {
	if len(m.Msg.Question) == 0 {
		return 0
	}

	return m.Msg.Question[0].Qtype
}

// QClass returns the first question's RR class, or 0 if there is none.
func (m *Message) QClass() uint16 {
	if len(m.Msg.Question) == 0 {
		return 0
	}

	return m.Msg.Question[0].Qclass
}

// Rcode returns the message's response code.
func (m *Message) Rcode() int { return m.Msg.Rcode }

// Answers returns the message's answer section.
func (m *Message) Answers() []dns.RR { return m.Msg.Answer }

// NewReply builds an empty reply to query, with the response bit set and
// the same question and id.
func NewReply(query *Message) *Message {
	reply := new(dns.Msg)
	reply.SetReply(query.Msg)

	return &Message{Msg: reply}
}

// CacheKey builds the cache key "<qname>/<qclass>/<qtype>" for a message's
// first question.
func CacheKey(m *Message) string {
	return fmt.Sprintf("%s/%d/%d", m.QName(), m.QClass(), m.QType())
}

// MinTTL returns the smallest TTL across rrs, or 0 if rrs is empty.
func MinTTL(rrs []dns.RR) uint32 {
	if len(rrs) == 0 {
		return 0
	}

	min := rrs[0].Header().Ttl
	for _, rr := range rrs[1:] {
		if ttl := rr.Header().Ttl; ttl < min {
			min = ttl
		}
	}

	return min
}

// AgeRRs returns copies of rrs with their TTL reduced by elapsed seconds,
// floored at zero, the way a cache hit normalizes TTLs for the client.
func AgeRRs(rrs []dns.RR, elapsed uint32) []dns.RR {
	aged := make([]dns.RR, len(rrs))
	for i, rr := range rrs {
		c := dns.Copy(rr)
		ttl := c.Header().Ttl
		if ttl <= elapsed {
			c.Header().Ttl = 0
		} else {
			c.Header().Ttl = ttl - elapsed
		}

		aged[i] = c
	}

	return aged
}
