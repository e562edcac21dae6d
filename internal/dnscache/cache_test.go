package dnscache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"

	"github.com/coredgenet/edged/internal/outquery"
)

type stubOutQuery struct {
	calls int32
	reply func() (*dns.Msg, error)
}

func (s *stubOutQuery) HandleQuery(ctx context.Context, q outquery.Query) (*dns.Msg, error) {
	atomic.AddInt32(&s.calls, 1)
	return s.reply()
}

func aQuery(name string) *dns.Msg {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), dns.TypeA)
	return msg
}

func aReply(name string, ttl uint32) *dns.Msg {
	reply := new(dns.Msg)
	reply.SetQuestion(dns.Fqdn(name), dns.TypeA)
	rr, _ := dns.NewRR(dns.Fqdn(name) + " " + itoa(ttl) + " IN A 192.0.2.1")
	reply.Answer = append(reply.Answer, rr)
	return reply
}

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	digits := ""
	for v > 0 {
		digits = string(rune('0'+v%10)) + digits
		v /= 10
	}
	return digits
}

// S4 — cache hit decrements TTL by elapsed seconds.
func TestHandleQueryHitDecrementsTTL(t *testing.T) {
	stub := &stubOutQuery{reply: func() (*dns.Msg, error) { return aReply("example.com", 300), nil }}
	h := New(stub)
	defer h.Close()

	ctx := context.Background()
	_, err := h.HandleQuery(ctx, aQuery("example.com"))
	require.NoError(t, err)

	h.mu.Lock()
	k := keyFor(dns.Question{Name: dns.Fqdn("example.com"), Qtype: dns.TypeA, Qclass: dns.ClassINET})
	e := h.cache[k]
	e.birth = time.Now().Add(-120 * time.Second)
	h.mu.Unlock()

	reply, err := h.HandleQuery(ctx, aQuery("example.com"))
	require.NoError(t, err)
	require.Len(t, reply.Answer, 1)
	require.EqualValues(t, 180, reply.Answer[0].Header().Ttl)
	require.EqualValues(t, 1, atomic.LoadInt32(&stub.calls), "second query must be a cache hit, not a new upstream call")
}

// S5 — transient failure is negative-cached for 8s; a second query
// within that window does not invoke OutQuery again.
func TestHandleQueryNegativeCachesTimeout(t *testing.T) {
	stub := &stubOutQuery{reply: func() (*dns.Msg, error) {
		return nil, &outquery.Error{Kind: outquery.Timeout, Msg: "timed out"}
	}}
	h := New(stub)
	defer h.Close()

	ctx := context.Background()
	_, err := h.HandleQuery(ctx, aQuery("example.com"))
	require.Error(t, err)

	_, err = h.HandleQuery(ctx, aQuery("example.com"))
	require.Error(t, err)

	require.EqualValues(t, 1, atomic.LoadInt32(&stub.calls), "transient failure must be debounced for 8s")
}

// NotAuthoritative must propagate but never be cached.
func TestHandleQueryNotAuthoritativeNotCached(t *testing.T) {
	stub := &stubOutQuery{reply: func() (*dns.Msg, error) {
		return nil, &outquery.Error{Kind: outquery.NotAuthoritative, Msg: "refused"}
	}}
	h := New(stub)
	defer h.Close()

	ctx := context.Background()
	_, err := h.HandleQuery(ctx, aQuery("example.com"))
	require.Error(t, err)

	_, err = h.HandleQuery(ctx, aQuery("example.com"))
	require.Error(t, err)

	require.EqualValues(t, 2, atomic.LoadInt32(&stub.calls), "non-cacheable errors must hit upstream every time")
}

// Non-IN qclass bypasses the cache entirely.
func TestHandleQueryBypassesNonINClass(t *testing.T) {
	stub := &stubOutQuery{reply: func() (*dns.Msg, error) { return aReply("example.com", 300), nil }}
	h := New(stub)
	defer h.Close()

	msg := aQuery("example.com")
	msg.Question[0].Qclass = dns.ClassCHAOS

	ctx := context.Background()
	_, err := h.HandleQuery(ctx, msg)
	require.NoError(t, err)
	_, err = h.HandleQuery(ctx, msg)
	require.NoError(t, err)

	require.EqualValues(t, 2, atomic.LoadInt32(&stub.calls))
}

func TestSweepRemovesExpiredEntries(t *testing.T) {
	stub := &stubOutQuery{reply: func() (*dns.Msg, error) { return aReply("example.com", 1), nil }}
	h := New(stub)
	defer h.Close()

	ctx := context.Background()
	_, err := h.HandleQuery(ctx, aQuery("example.com"))
	require.NoError(t, err)

	h.mu.Lock()
	for _, e := range h.cache {
		e.birth = time.Now().Add(-time.Hour)
	}
	h.mu.Unlock()

	next := h.sweep()
	require.GreaterOrEqual(t, next, expiryFloor)

	h.mu.RLock()
	defer h.mu.RUnlock()
	require.Empty(t, h.cache)
}

func TestGetExpiryUsesSOAMinimumOnEmptyAnswer(t *testing.T) {
	reply := new(dns.Msg)
	reply.SetQuestion(dns.Fqdn("example.com"), dns.TypeA)
	soa, err := dns.NewRR("example.com. 600 IN SOA ns.example.com. hostmaster.example.com. 1 2 3 4 120")
	require.NoError(t, err)
	reply.Ns = append(reply.Ns, soa)

	require.Equal(t, 120*time.Second, getExpiry(reply))
}
