package dhcpd

import (
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/coredgenet/edged/internal/dhcppool"
	"github.com/coredgenet/edged/internal/metrics"
)

const maxDatagramSize = 65536

// Server owns the UDP listener, the shared pool/registry/injector, and
// the accept loop (§4.5). Grounded on the teacher's main.go main loop
// and internal/udp.go UDPReceiver, generalised from the teacher's
// per-pool channel actor to one goroutine per inbound packet, per §4.5
// and the "task spawning per packet" note in §9.
type Server struct {
	conn     *net.UDPConn
	pool     dhcppool.AddressPool
	poolMu   *sync.Mutex
	handler  *Handler
	registry *ServerIDRegistry
	injector *RawInjector
	log      *zap.SugaredLogger
}

// NewServer binds the DHCP listener on 0.0.0.0:67, enables IP_PKTINFO,
// and wires up the handler/pool/registry/injector.
func NewServer(pool dhcppool.AddressPool, injector *RawInjector, log *zap.SugaredLogger) (*Server, error) {
	addr, err := net.ResolveUDPAddr("udp4", ":67")
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, err
	}
	if err := enablePktInfo(conn); err != nil {
		conn.Close()
		return nil, err
	}

	return &Server{
		conn:     conn,
		pool:     pool,
		poolMu:   &sync.Mutex{},
		handler:  NewHandler(pool),
		registry: NewServerIDRegistry(),
		injector: injector,
		log:      log,
	}, nil
}

// Close releases the underlying UDP socket.
func (s *Server) Close() error {
	return s.conn.Close()
}

// Run drives the accept loop until the connection is closed. Each
// datagram becomes an independent goroutine; a panic in one must never
// take the loop down (§4.5).
func (s *Server) Run() {
	for {
		buf := make([]byte, maxDatagramSize)
		n, from, ifindex, err := recvWithIfindex(s.conn, buf)
		if err != nil {
			s.log.Warnw("dhcp: receive failed, stopping accept loop", "error", err)
			return
		}

		pkt := buf[:n]
		go s.handleOne(pkt, from, ifindex)
	}
}

func (s *Server) handleOne(pkt []byte, from *net.UDPAddr, ifindex int) {
	defer func() {
		if r := recover(); r != nil {
			metrics.DHCPPacketsDropped.WithLabelValues("panic").Inc()
			s.log.Errorw("dhcp: recovered from panic handling packet", "panic", r)
		}
	}()

	snapshot := s.registry.Snapshot()

	s.poolMu.Lock()
	defer s.poolMu.Unlock()

	reply, err := s.handler.Handle(pkt, from, snapshot)

	if err != nil {
		s.log.Warnw("dhcp: dropping packet", "from", from, "error", err)
		metrics.DHCPPacketsDropped.WithLabelValues(dropReason(err)).Inc()
		return
	}

	if sid := reply.Options.ServerIdentifier; sid != nil {
		s.registry.Insert(sid)
	}

	if err := s.injector.Send(reply, ifindex); err != nil {
		s.log.Errorw("dhcp: failed to inject reply", "error", err)
		metrics.DHCPPacketsDropped.WithLabelValues("inject_failed").Inc()
	}
}

func dropReason(err error) string {
	switch err.(type) {
	case *UnknownMessageTypeError:
		return "unknown_message_type"
	case *InternalError:
		return "internal_error"
	}
	switch {
	case err == ErrNoLeasesAvailable:
		return "no_leases_available"
	case err == ErrOtherServer:
		return "other_server"
	default:
		return "parse_error"
	}
}
