// Package dhcpd implements the DHCP server-side state machine (§4.3),
// the server-identity registry (§4.8), the raw L2 injector (§4.4) and
// the UDP listener loop (§4.5).
//
// The dispatch shape (DISCOVER -> OFFER, REQUEST -> ACK gated on
// server-identifier; no NAK is ever built, errors are dropped by the
// caller) is grounded on original_source/src/dhcp/mod.rs's
// handle_discover/handle_request/handle_pkt; the reply-construction
// style (building a Message and filling in Options fields) is grounded
// on the teacher's internal/pool.go handleDiscover/handleRequest.
package dhcpd

import (
	"errors"
	"fmt"
	"net"

	"github.com/coredgenet/edged/internal/dhcppool"
	"github.com/coredgenet/edged/internal/dhcpwire"
)

// ErrNoLeasesAvailable is returned when the pool has nothing left to
// offer.
var ErrNoLeasesAvailable = errors.New("dhcpd: no leases available")

// ErrOtherServer is returned when a REQUEST names a server-identifier
// this process has not claimed; the caller must silently drop the
// packet rather than reply.
var ErrOtherServer = errors.New("dhcpd: request addressed to a different server")

// UnknownMessageTypeError wraps an unrecognised DHCP message type.
type UnknownMessageTypeError struct {
	Type dhcpwire.MessageType
}

func (e *UnknownMessageTypeError) Error() string {
	return fmt.Sprintf("dhcpd: unknown message type %d", e.Type)
}

// InternalError covers conditions the spec treats as unexpected rather
// than client-driven (e.g. a non-IPv4 source address).
type InternalError struct {
	Msg string
}

func (e *InternalError) Error() string { return "dhcpd: " + e.Msg }

// Handler drives the per-message DHCP state machine described in §4.3:
// RECEIVED -> PARSED -> DISPATCHED(discover|request|other) -> {REPLIED |
// ERRORED}. It holds no durable per-client state; that is the pool's
// job.
type Handler struct {
	Pool dhcppool.AddressPool
}

// NewHandler builds a Handler bound to the given address pool.
func NewHandler(pool dhcppool.AddressPool) *Handler {
	return &Handler{Pool: pool}
}

// Handle parses buf and dispatches it to the DISCOVER or REQUEST path.
// serverIDs must be a snapshot taken before the pool lock was acquired
// (§5); pool allocation happens while the caller holds whatever
// pool-wide lock it uses for the duration of this call.
func (h *Handler) Handle(buf []byte, from *net.UDPAddr, serverIDs map[[4]byte]struct{}) (dhcpwire.Message, error) {
	req, err := dhcpwire.Parse(buf)
	if err != nil {
		return dhcpwire.Message{}, err
	}

	switch req.Options.MessageType {
	case dhcpwire.MessageTypeDiscover:
		return h.handleDiscover(&req, from)
	case dhcpwire.MessageTypeRequest:
		return h.handleRequest(&req, from, serverIDs)
	default:
		return dhcpwire.Message{}, &UnknownMessageTypeError{Type: req.Options.MessageType}
	}
}

func clientIDFromMessage(req *dhcpwire.Message) dhcppool.ClientID {
	return dhcppool.ClientID{
		Opaque: req.Options.ClientIdentifier,
		HWAddr: req.ClientHWAddr,
	}
}

// handleDiscover implements §4.3's DISCOVER path: requires an IPv4
// source, allocates from the "default" pool, and produces an OFFER that
// echoes xid/flags/giaddr/chaddr/hostname/clientidentifier. leasetime is
// intentionally omitted; the pool's confirmation policy decides it.
func (h *Handler) handleDiscover(req *dhcpwire.Message, from *net.UDPAddr) (dhcpwire.Message, error) {
	if from.IP.To4() == nil {
		return dhcpwire.Message{}, &InternalError{Msg: "discover received from a non-IPv4 address"}
	}

	lease, err := h.Pool.Allocate("default", clientIDFromMessage(req))
	if err != nil {
		return dhcpwire.Message{}, ErrNoLeasesAvailable
	}

	reply := baseReply(req, from.IP)
	reply.YourIP = lease.IP
	reply.Options.MessageType = dhcpwire.MessageTypeOffer
	reply.Options.ServerIdentifier = from.IP
	reply.Options.Hostname = req.Options.Hostname
	reply.Options.HasHostname = req.Options.HasHostname
	reply.Options.ClientIdentifier = req.Options.ClientIdentifier

	return reply, nil
}

// handleRequest implements §4.3's REQUEST path: gates on
// serverIdentifier membership in serverIDs, then allocates and emits an
// ACK with ciaddr echoed and leasetime populated.
func (h *Handler) handleRequest(req *dhcpwire.Message, from *net.UDPAddr, serverIDs map[[4]byte]struct{}) (dhcpwire.Message, error) {
	if sid := req.Options.ServerIdentifier; sid != nil {
		if !Contains(serverIDs, sid) {
			return dhcpwire.Message{}, ErrOtherServer
		}
	}

	lease, err := h.Pool.Allocate("default", clientIDFromMessage(req))
	if err != nil {
		return dhcpwire.Message{}, ErrNoLeasesAvailable
	}

	reply := baseReply(req, from.IP)
	reply.ClientIP = req.ClientIP
	reply.YourIP = lease.IP
	reply.Options.MessageType = dhcpwire.MessageTypeAck
	reply.Options.HasLeaseTime = true
	reply.Options.LeaseTime = lease.Lease
	reply.Options.Hostname = req.Options.Hostname
	reply.Options.HasHostname = req.Options.HasHostname
	reply.Options.ClientIdentifier = req.Options.ClientIdentifier

	return reply, nil
}

// baseReply builds the reply skeleton common to OFFER/ACK: op=2,
// htype=1, hlen=6, and xid/flags/chaddr/giaddr echoed verbatim from the
// request (invariant 2, §8).
func baseReply(req *dhcpwire.Message, serverIP net.IP) dhcpwire.Message {
	return dhcpwire.Message{
		Op:           dhcpwire.OpReply,
		HType:        dhcpwire.HTypeEthernet,
		HLen:         6,
		XID:          req.XID,
		Flags:        req.Flags,
		ClientIP:     net.IPv4zero,
		YourIP:       net.IPv4zero,
		ServerIP:     serverIP,
		GatewayIP:    req.GatewayIP,
		ClientHWAddr: req.ClientHWAddr,
		Options:      dhcpwire.Options{Other: map[uint8][]byte{}},
	}
}
