// Package dnscache implements the DNS out-query cache (§4.7): a
// concurrency-safe, TTL-aware cache interposed between the internal
// query dispatcher and an upstream OutQuery resolver, with negative
// caching of transient transport failures, background expiry, and
// Prometheus counters.
//
// Caching here is applied on the "out" side, post-resolution, rather
// than matching in-flight queries: every miss has exactly one upstream
// call per caller goroutine, and no coalescing is performed (§4.7,
// §9) — a deliberate simplification carried straight from
// original_source/src/dns/cache.rs, which this package ports.
package dnscache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"

	"github.com/coredgenet/edged/internal/metrics"
	"github.com/coredgenet/edged/internal/outquery"
)

// negativeCacheLifetime is the cooldown applied to transient transport
// failures (§4.7, §7): it acts as a crude exponential-backoff floor.
const negativeCacheLifetime = 8 * time.Second

// nominalExpiryCycle is how often the background sweep runs when
// nothing expires sooner; expiryFloor is the minimum cycle length even
// under a cluster of near-simultaneous expirations (§4.7, S6).
const (
	nominalExpiryCycle = 30 * time.Minute
	expiryFloor        = 30 * time.Second
)

type key struct {
	qname string
	qtype uint16
}

func keyFor(q dns.Question) key {
	return key{qname: strings.ToLower(q.Name), qtype: q.Qtype}
}

type entry struct {
	reply    *dns.Msg
	cacheErr *CacheableError
	birth    time.Time
	lifetime time.Duration
}

func (e *entry) expired(now time.Time) bool {
	return !e.birth.Add(e.lifetime).After(now)
}

// CacheHandler is the DnsCache of §4.7.
type CacheHandler struct {
	next  outquery.OutQuery
	mu    sync.RWMutex
	cache map[key]*entry

	stop chan struct{}
}

// New builds a CacheHandler wrapping next and starts its background
// expiry goroutine.
func New(next outquery.OutQuery) *CacheHandler {
	h := &CacheHandler{
		next:  next,
		cache: make(map[key]*entry),
		stop:  make(chan struct{}),
	}
	go h.expireLoop()
	return h
}

// Close stops the background expiry goroutine.
func (h *CacheHandler) Close() {
	close(h.stop)
}

// HandleQuery implements the lookup algorithm of §4.7 step by step.
func (h *CacheHandler) HandleQuery(ctx context.Context, msg *dns.Msg) (*dns.Msg, error) {
	q := msg.Question[0]

	if q.Qclass != dns.ClassINET {
		metrics.DNSCacheResults.WithLabelValues(metrics.ResultUncachableClass).Inc()
		return h.next.HandleQuery(ctx, outquery.Query{Question: q})
	}

	k := keyFor(q)

	h.mu.RLock()
	e, found := h.cache[k]
	h.mu.RUnlock()

	now := time.Now()
	if found && !e.expired(now) {
		metrics.DNSCacheResults.WithLabelValues(metrics.ResultHit).Inc()
		return cloneWithTTLDecrement(e, now), errorFor(e)
	}
	if found {
		metrics.DNSCacheResults.WithLabelValues(metrics.ResultExpired).Inc()
	} else {
		metrics.DNSCacheResults.WithLabelValues(metrics.ResultMiss).Inc()
	}

	reply, outErr := h.next.HandleQuery(ctx, outquery.Query{Question: q})

	cacheable, isCacheable := toCacheable(outErr)

	var lifetime time.Duration
	switch {
	case outErr == nil:
		lifetime = getExpiry(reply)
	case isCacheable && isTransientTransportError(cacheable.Kind):
		lifetime = negativeCacheLifetime
	default:
		// NotAuthoritative, InternalError and anything unrecognised
		// propagate as-is, without being inserted (§4.7 step 5).
		return reply, outErr
	}

	newEntry := &entry{
		reply:    cloneMsg(reply),
		cacheErr: cacheable,
		birth:    time.Now(),
		lifetime: lifetime,
	}
	if outErr == nil {
		newEntry.cacheErr = nil
	}

	h.mu.Lock()
	h.cache[k] = newEntry
	size := len(h.cache)
	h.mu.Unlock()

	metrics.DNSCacheSize.Set(float64(size))

	return reply, outErr
}

func errorFor(e *entry) error {
	if e.cacheErr == nil {
		return nil
	}
	return e.cacheErr
}

// cloneWithTTLDecrement returns a deep copy of the cached reply with
// every RR's TTL decremented by the time elapsed since birth, clamped to
// zero (invariant 5, §8). It returns nil for a negative entry; the
// cached error of such an entry comes from errorFor.
func cloneWithTTLDecrement(e *entry, now time.Time) *dns.Msg {
	if e.reply == nil {
		return nil
	}
	elapsed := uint32(now.Sub(e.birth) / time.Second)
	out := e.reply.Copy()
	decrementTTLs(out, elapsed)
	return out
}

func decrementTTLs(msg *dns.Msg, elapsed uint32) {
	for _, section := range [][]dns.RR{msg.Answer, msg.Ns, msg.Extra} {
		for _, rr := range section {
			hdr := rr.Header()
			if hdr.Ttl > elapsed {
				hdr.Ttl -= elapsed
			} else {
				hdr.Ttl = 0
			}
		}
	}
}

func cloneMsg(msg *dns.Msg) *dns.Msg {
	if msg == nil {
		return nil
	}
	return msg.Copy()
}

// getExpiry returns the minimum TTL across the answer and authority
// sections; if Answer is empty and Ns carries an SOA, the SOA's MINIMUM
// field governs negative caching, per RFC 2308 and §9's explicit note.
func getExpiry(msg *dns.Msg) time.Duration {
	if msg == nil {
		return negativeCacheLifetime
	}

	var min uint32
	have := false
	consider := func(ttl uint32) {
		if !have || ttl < min {
			min = ttl
			have = true
		}
	}

	for _, rr := range msg.Answer {
		consider(rr.Header().Ttl)
	}
	for _, rr := range msg.Ns {
		consider(rr.Header().Ttl)
	}

	if len(msg.Answer) == 0 {
		for _, rr := range msg.Ns {
			if soa, ok := rr.(*dns.SOA); ok {
				return time.Duration(soa.Minttl) * time.Second
			}
		}
	}

	if !have {
		return negativeCacheLifetime
	}
	return time.Duration(min) * time.Second
}

// expireLoop is the single long-lived background task of §4.7: each
// cycle retains only unexpired entries, shrinking the next wake time to
// the earliest still-live deadline, clamped to a 30s floor so a cluster
// of near-simultaneous expirations can't cause busy cycling (S6).
func (h *CacheHandler) expireLoop() {
	for {
		next := h.sweep()

		timer := time.NewTimer(next)
		select {
		case <-h.stop:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (h *CacheHandler) sweep() time.Duration {
	now := time.Now()
	earliest := now.Add(nominalExpiryCycle)

	h.mu.Lock()
	for k, e := range h.cache {
		deadline := e.birth.Add(e.lifetime)
		if !deadline.After(now) {
			delete(h.cache, k)
			continue
		}
		if deadline.Before(earliest) {
			earliest = deadline
		}
	}
	size := len(h.cache)
	h.mu.Unlock()

	metrics.DNSCacheSize.Set(float64(size))

	next := earliest.Sub(now)
	if next < expiryFloor {
		next = expiryFloor
	}
	return next
}
