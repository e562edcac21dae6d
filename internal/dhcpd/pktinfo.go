package dhcpd

import (
	"encoding/binary"
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// enablePktInfo turns on IP_PKTINFO so every inbound datagram carries
// the arrival interface index as ancillary data (§4.5, §6 "Environment").
// Grounded on the teacher's internal/pktinfo.go EnablePktInfo, ported
// from raw syscall.SetsockoptInt to the cross-arch-safe x/sys/unix
// equivalent.
func enablePktInfo(conn *net.UDPConn) error {
	file, err := conn.File()
	if err != nil {
		return err
	}
	defer file.Close()

	return unix.SetsockoptInt(int(file.Fd()), unix.IPPROTO_IP, unix.IP_PKTINFO, 1)
}

// recvWithIfindex reads one datagram and returns its source address and
// the arrival interface index, decoded from the IP_PKTINFO ancillary
// data. Grounded on the teacher's ReadUDPWithPktInfo.
func recvWithIfindex(conn *net.UDPConn, buf []byte) (n int, from *net.UDPAddr, ifindex int, err error) {
	oob := make([]byte, unix.CmsgSpace(unix.SizeofInet4Pktinfo))

	n, oobn, _, addr, err := conn.ReadMsgUDP(buf, oob)
	if err != nil {
		return n, addr, 0, err
	}

	msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return n, addr, 0, fmt.Errorf("dhcpd: parsing control message: %w", err)
	}

	for _, m := range msgs {
		if m.Header.Level == unix.IPPROTO_IP && m.Header.Type == unix.IP_PKTINFO {
			pi, perr := parsePktinfo(m.Data)
			if perr != nil {
				continue
			}
			return n, addr, pi, nil
		}
	}

	return n, addr, 0, fmt.Errorf("dhcpd: no IP_PKTINFO in ancillary data")
}

// parsePktinfo extracts the interface index from a raw in_pktinfo
// structure: { int32 ifindex; uint32 spec_dst; uint32 addr }, laid out
// in the host's native byte order on Linux.
func parsePktinfo(data []byte) (int, error) {
	if len(data) < 4 {
		return 0, fmt.Errorf("dhcpd: short pktinfo control message")
	}
	return int(binary.NativeEndian.Uint32(data[0:4])), nil
}
