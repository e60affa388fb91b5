package dnsforward

import (
	"log/slog"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/dhns/dhnsd/internal/dhnslog"
	"github.com/dhns/dhnsd/internal/dnswire"
	"github.com/miekg/dns"
)

// UpstreamTimeout is the per-upstream exchange timeout.
const UpstreamTimeout = 5 * time.Second

// DefaultUpstreams are used when no upstream list is configured.
var DefaultUpstreams = []string{"8.8.8.8:53", "8.8.4.4:53"}

// Resolver is the forward resolver with cache.  It registers
// at Low priority so local answers (fixed records, discovery) always win.
type Resolver struct {
	upstreams []string
	cache     *Cache
	client    *dns.Client
	logger    *slog.Logger
}

// type check
var _ Handler = (*Resolver)(nil)

// NewResolver returns a new Resolver forwarding to upstreams in order.  If
// upstreams is empty, DefaultUpstreams is used.
func NewResolver(upstreams []string, cache *Cache, logger *slog.Logger) *Resolver {
	if len(upstreams) == 0 {
		upstreams = DefaultUpstreams
	}

	return &Resolver{
		upstreams: upstreams,
		cache:     cache,
		client:    &dns.Client{Timeout: UpstreamTimeout},
		logger:    dhnslog.NewForComponent(logger, dhnslog.PrefixResolver),
	}
}

// HandleDNS implements the Handler interface for *Resolver.
func (r *Resolver) HandleDNS(ctx *Context) (claimed bool) {
	return r.forward(ctx)
}

// forward serves ctx from cache when possible, else queries each upstream
// in order and caches the first usable response.
func (r *Resolver) forward(ctx *Context) (claimed bool) {
	key := dnswire.CacheKey(ctx.Query)

	if cached, ok := r.cache.Get(key); ok {
		fillFrom(ctx.Answer, cached)

		return true
	}

	for _, upstream := range r.upstreams {
		resp, _, err := r.client.Exchange(ctx.Query.Msg, upstream)
		if err != nil {
			r.logger.Debug("upstream exchange failed", "upstream", upstream, slogutil.KeyError, err)

			continue
		}

		if len(resp.Answer) == 0 || resp.Rcode != dns.RcodeSuccess {
			fillFrom(ctx.Answer, resp)

			return true
		}

		r.cache.Set(key, resp)
		fillFrom(ctx.Answer, resp)

		return true
	}

	return false
}

// fillFrom copies the rcode and answer section of src into dst, leaving
// dst's header (id, question) untouched.
func fillFrom(dst *dnswire.Message, src *dns.Msg) {
	dst.Msg.Rcode = src.Rcode
	dst.Msg.Answer = src.Answer
}
