package dnscache

import (
	"fmt"

	"github.com/coredgenet/edged/internal/outquery"
)

// CacheableError is a strictly clonable projection of outquery.Error
// (§3): transport errors that may carry non-clonable OS handles are
// flattened to their printable message at insertion time, grounded on
// original_source/src/dns/cache.rs's clone_out_reply.
type CacheableError struct {
	Kind outquery.ErrorKind
	Msg  string
}

func (e *CacheableError) Error() string {
	return fmt.Sprintf("dnscache: %s", e.Msg)
}

// toCacheable flattens an OutQuery error into its clonable projection.
// Returns nil, false for a nil error. Errors that are not of the
// recognised *outquery.Error shape are projected with Kind
// InternalError, which the cache never inserts.
func toCacheable(err error) (*CacheableError, bool) {
	if err == nil {
		return nil, false
	}
	if oe, ok := err.(*outquery.Error); ok {
		return &CacheableError{Kind: oe.Kind, Msg: oe.Msg}, true
	}
	return &CacheableError{Kind: outquery.InternalError, Msg: err.Error()}, true
}

// isTransientTransportError reports whether kind is one of the
// transient transport failures §4.7/§7 say get an 8s negative cache
// entry (Timeout, FailedToSend, FailedToRecv, TcpConnectionError,
// ParseError). NotAuthoritative and InternalError are excluded: they
// propagate but are never cached.
func isTransientTransportError(kind outquery.ErrorKind) bool {
	switch kind {
	case outquery.Timeout, outquery.FailedToSend, outquery.FailedToRecv,
		outquery.TCPConnectionError, outquery.ParseError:
		return true
	default:
		return false
	}
}
