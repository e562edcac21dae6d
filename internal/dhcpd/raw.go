package dhcpd

import (
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"golang.org/x/sys/unix"

	"github.com/coredgenet/edged/internal/dhcpwire"
)

const (
	dhcpServerPort = 67
	dhcpClientPort = 68
)

var broadcastMAC = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// RawInjector transmits serialised DHCP replies as raw Ethernet frames
// (§4.4), because a client that does not yet own an IP cannot be
// reached via a normal UDP socket.
//
// Grounded on AdGuardHome's internal/dhcpd/sendEthernet.go (gopacket
// layer construction + an AF_PACKET SOCK_RAW socket), but unlike both
// that file and the erbium original
// (original_source/src/dhcp/mod.rs:221-225, which hard-codes
// "192.0.2.2:2" and literal MAC bytes behind TODO markers — flagged in
// §9 as an open design question, not something to copy faithfully)
// RawInjector derives its source MAC/IP from the outbound interface
// instead of hard-coding them.
type RawInjector struct {
	fd int
}

// NewRawInjector opens the AF_PACKET raw socket used for all egress.
func NewRawInjector() (*RawInjector, error) {
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, 0)
	if err != nil {
		return nil, fmt.Errorf("dhcpd: opening raw socket: %w", err)
	}
	return &RawInjector{fd: fd}, nil
}

// Close releases the underlying raw socket.
func (r *RawInjector) Close() error {
	return unix.Close(r.fd)
}

// Send builds and transmits an Ethernet+IPv4+UDP frame carrying reply on
// the interface identified by ifindex, picking unicast vs. broadcast L2
// destination per the rule in §4.4.
func (r *RawInjector) Send(reply dhcpwire.Message, ifindex int) error {
	iface, err := net.InterfaceByIndex(ifindex)
	if err != nil {
		return fmt.Errorf("dhcpd: resolving interface %d: %w", ifindex, err)
	}

	srcIP, err := firstIPv4(iface)
	if err != nil {
		return fmt.Errorf("dhcpd: no IPv4 address on interface %s: %w", iface.Name, err)
	}

	dstMAC, dstIP := destinationFor(reply)

	eth := layers.Ethernet{
		EthernetType: layers.EthernetTypeIPv4,
		SrcMAC:       iface.HardwareAddr,
		DstMAC:       dstMAC,
	}
	ip := layers.IPv4{
		Version:  4,
		TTL:      64,
		SrcIP:    srcIP,
		DstIP:    dstIP,
		Protocol: layers.IPProtocolUDP,
	}
	udp := layers.UDP{
		SrcPort: dhcpServerPort,
		DstPort: dhcpClientPort,
	}
	if err := udp.SetNetworkLayerForChecksum(&ip); err != nil {
		return fmt.Errorf("dhcpd: setting udp checksum layer: %w", err)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	payload := gopacket.Payload(reply.Serialise())
	if err := gopacket.SerializeLayers(buf, opts, &eth, &ip, &udp, payload); err != nil {
		return fmt.Errorf("dhcpd: serialising frame: %w", err)
	}

	addr := unix.SockaddrLinklayer{
		Protocol: 0,
		Ifindex:  ifindex,
		Halen:    6,
	}
	copy(addr.Addr[:6], dstMAC)

	if err := unix.Sendto(r.fd, buf.Bytes(), 0, &addr); err != nil {
		return fmt.Errorf("dhcpd: sendto: %w", err)
	}
	return nil
}

// destinationFor implements the L2 destination selection rule of §4.4:
// broadcast when the client asked for it, or when yiaddr was just
// allocated to a client that has no IP yet; unicast to chaddr/yiaddr
// otherwise.
func destinationFor(reply dhcpwire.Message) (net.HardwareAddr, net.IP) {
	noClientIP := reply.ClientIP == nil || reply.ClientIP.IsUnspecified()
	if reply.Broadcast() || (noClientIP && reply.YourIP != nil) {
		return broadcastMAC, net.IPv4bcast
	}
	return reply.ClientHWAddr, reply.YourIP
}

func firstIPv4(iface *net.Interface) (net.IP, error) {
	addrs, err := iface.Addrs()
	if err != nil {
		return nil, err
	}
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip4 := ip.To4(); ip4 != nil {
			return ip4, nil
		}
	}
	return nil, fmt.Errorf("no IPv4 address configured")
}
