package dnsforward

import (
	"time"

	"github.com/bluele/gcache"
	"github.com/dhns/dhnsd/internal/dnswire"
	"github.com/miekg/dns"
)

// DefaultCacheCapacity is the default number of entries kept in the
// upstream-response cache.
const DefaultCacheCapacity = 64_000

// cacheEntry is a cached upstream response together with the time it was
// received, so a later hit can age its RRs' TTLs down.
type cacheEntry struct {
	receivedAt time.Time
	msg        *dns.Msg
}

// Cache is a TTL-aware LRU cache of upstream DNS responses, keyed by
// "<qname>/<qclass>/<qtype>".
type Cache struct {
	c gcache.Cache
}

// NewCache returns a new Cache with room for capacity entries.
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}

	return &Cache{c: gcache.New(capacity).LRU().Build()}
}

// Get returns the cached response for key, with every RR's TTL aged by the
// time elapsed since it was stored, or ok=false if there is no entry or the
// entry has expired (receivedAt + min-ttl < now).
func (c *Cache) Get(key string) (msg *dns.Msg, ok bool) {
	val, err := c.c.Get(key)
	if err != nil {
		return nil, false
	}

	e, isEntry := val.(*cacheEntry)
	if !isEntry {
		return nil, false
	}

	elapsed := time.Since(e.receivedAt)
	minTTL := dnswire.MinTTL(e.msg.Answer)
	if elapsed > time.Duration(minTTL)*time.Second {
		return nil, false
	}

	aged := e.msg.Copy()
	aged.Answer = dnswire.AgeRRs(e.msg.Answer, uint32(elapsed.Seconds()))

	return aged, true
}

// Set stores msg under key, recording the current time as its receipt time.
func (c *Cache) Set(key string, msg *dns.Msg) {
	_ = c.c.Set(key, &cacheEntry{receivedAt: time.Now(), msg: msg})
}
