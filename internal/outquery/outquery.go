// Package outquery is the external collaborator §4.6 describes: sending
// one DNS query upstream and returning either a reply or a transport
// error. DnsCache only ever depends on the OutQuery interface below; it
// is oblivious to transport choice.
package outquery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"
)

// ErrorKind enumerates the upstream failure modes §3/§7 name. They are
// distinguished because the cache treats them differently: transient
// transport failures are negative-cached, NotAuthoritative is
// propagated uncached, and everything else propagates uncached too.
type ErrorKind int

const (
	// NotAuthoritative means the query was refused for policy reasons
	// unrelated to transport (e.g. an ACL). Never cached.
	NotAuthoritative ErrorKind = iota
	// Timeout means the upstream did not respond in time.
	Timeout
	// FailedToSend means writing the query to the upstream failed.
	FailedToSend
	// FailedToRecv means reading the upstream's response failed.
	FailedToRecv
	// TCPConnectionError means a TCP fallback connection failed.
	TCPConnectionError
	// ParseError means the upstream's bytes did not parse as DNS.
	ParseError
	// InternalError covers anything else; never cached.
	InternalError
)

// Error is what OutQuery implementations return on failure.
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("outquery: %s", e.Msg)
}

// Query is the single in-flight query DnsCache hands to OutQuery.
type Query struct {
	Question dns.Question
}

// OutQuery is the external transport contract (§4.6).
type OutQuery interface {
	HandleQuery(ctx context.Context, q Query) (*dns.Msg, error)
}

// UDPResolver is a minimal single-upstream OutQuery implementation,
// grounded on the upstream-dial-and-parse shape of
// other_examples' jroosing-HydraDNS forwarding_resolver.go, trimmed to
// a single synchronous request/response since §9 explicitly says
// single-flight/pooling are not required here.
type UDPResolver struct {
	Upstream string // host:port
	Timeout  time.Duration
}

// NewUDPResolver builds a resolver querying upstream (host:port) with a
// bounded per-query timeout.
func NewUDPResolver(upstream string, timeout time.Duration) *UDPResolver {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &UDPResolver{Upstream: upstream, Timeout: timeout}
}

// HandleQuery implements OutQuery over a plain UDP socket.
func (r *UDPResolver) HandleQuery(ctx context.Context, q Query) (*dns.Msg, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(q.Question.Name, q.Question.Qtype)
	msg.Question[0].Qclass = q.Question.Qclass

	client := &dns.Client{
		Net:     "udp",
		Timeout: r.Timeout,
	}

	reply, _, err := client.ExchangeContext(ctx, msg, r.Upstream)
	if err != nil {
		return nil, classifyError(err)
	}
	return reply, nil
}

func classifyError(err error) error {
	var kind ErrorKind
	var netErr net.Error
	switch {
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = Timeout
	default:
		kind = FailedToRecv
	}
	return &Error{Kind: kind, Msg: err.Error()}
}
