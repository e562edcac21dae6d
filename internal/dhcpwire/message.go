// Package dhcpwire implements the BOOTP/DHCPv4 wire codec: RFC 2131's
// fixed header plus RFC 2132 TLV options, terminated by option 255.
//
// It is a generalisation of the teacher's internal/dhcp_message.go and
// internal/dhcp_option.go: same fixed-header-then-cookie-then-TLV shape,
// but the six options the handler cares about are promoted to named
// struct fields instead of a raw option-code map, and parse failures use
// a typed ParseErrorKind instead of ad hoc strings.
package dhcpwire

import (
	"bytes"
	"encoding/binary"
	"net"
)

// Op values (RFC 2131 §2).
const (
	OpRequest uint8 = 1
	OpReply   uint8 = 2
)

// HType is always Ethernet for the traffic this daemon handles.
const HTypeEthernet uint8 = 1

const (
	magicCookie     uint32 = 0x63825363
	fixedHeaderSize        = 236 // op..file, before the cookie
	snameLen               = 64
	fileLen                = 128
)

// Message is the decoded representation of a single DHCP datagram.
type Message struct {
	Op            uint8
	HType         uint8
	HLen          uint8
	Hops          uint8
	XID           uint32
	Secs          uint16
	Flags         uint16
	ClientIP      net.IP // ciaddr
	YourIP        net.IP // yiaddr
	ServerIP      net.IP // siaddr
	GatewayIP     net.IP // giaddr
	ClientHWAddr  net.HardwareAddr
	ServerName    string
	File          string
	Options       Options
}

// FlagBroadcast is the single bit RFC 2131 defines in the 16-bit flags
// field.
const FlagBroadcast uint16 = 0x8000

// Broadcast reports whether the client asked for a broadcast reply.
func (m Message) Broadcast() bool {
	return m.Flags&FlagBroadcast != 0
}

type rawHeader struct {
	Op            uint8
	HType         uint8
	HLen          uint8
	Hops          uint8
	XID           uint32
	Secs          uint16
	Flags         uint16
	ClientIP      [4]byte
	YourIP        [4]byte
	ServerIP      [4]byte
	GatewayIP     [4]byte
	ClientHWAddr  [16]byte
	ServerName    [snameLen]byte
	File          [fileLen]byte
}

// Parse decodes a BOOTP-framed buffer: the 236-byte fixed header, the
// 4-byte magic cookie, then TLV options terminated by option 255.
func Parse(buf []byte) (Message, error) {
	var out Message

	if len(buf) < fixedHeaderSize+4 {
		return out, &ParseError{Kind: ErrShortPacket}
	}

	var raw rawHeader
	r := bytes.NewReader(buf[:fixedHeaderSize])
	if err := binary.Read(r, binary.BigEndian, &raw); err != nil {
		return out, &ParseError{Kind: ErrShortPacket, Detail: err.Error()}
	}

	cookie := binary.BigEndian.Uint32(buf[fixedHeaderSize : fixedHeaderSize+4])
	if cookie != magicCookie {
		return out, &ParseError{Kind: ErrBadMagic}
	}

	hwLen := int(raw.HLen)
	if hwLen > len(raw.ClientHWAddr) {
		hwLen = len(raw.ClientHWAddr)
	}

	out = Message{
		Op:           raw.Op,
		HType:        raw.HType,
		HLen:         raw.HLen,
		Hops:         raw.Hops,
		XID:          raw.XID,
		Secs:         raw.Secs,
		Flags:        raw.Flags,
		ClientIP:     net.IPv4(raw.ClientIP[0], raw.ClientIP[1], raw.ClientIP[2], raw.ClientIP[3]),
		YourIP:       net.IPv4(raw.YourIP[0], raw.YourIP[1], raw.YourIP[2], raw.YourIP[3]),
		ServerIP:     net.IPv4(raw.ServerIP[0], raw.ServerIP[1], raw.ServerIP[2], raw.ServerIP[3]),
		GatewayIP:    net.IPv4(raw.GatewayIP[0], raw.GatewayIP[1], raw.GatewayIP[2], raw.GatewayIP[3]),
		ClientHWAddr: append(net.HardwareAddr(nil), raw.ClientHWAddr[:hwLen]...),
		ServerName:   cString(raw.ServerName[:]),
		File:         cString(raw.File[:]),
	}

	opts, err := decodeOptions(buf[fixedHeaderSize+4:])
	if err != nil {
		return out, err
	}
	out.Options = opts

	return out, nil
}

// Serialise emits the fixed header (all four IPv4 fields in network
// order, sname/file padded with zero bytes), the magic cookie, then the
// options in their mandated stable order.
func (m Message) Serialise() []byte {
	raw := rawHeader{
		Op:        m.Op,
		HType:     m.HType,
		HLen:      m.HLen,
		Hops:      m.Hops,
		XID:       m.XID,
		Secs:      m.Secs,
		Flags:     m.Flags,
		ClientIP:  ipToArray(m.ClientIP),
		YourIP:    ipToArray(m.YourIP),
		ServerIP:  ipToArray(m.ServerIP),
		GatewayIP: ipToArray(m.GatewayIP),
	}
	copy(raw.ClientHWAddr[:], m.ClientHWAddr)
	copy(raw.ServerName[:], m.ServerName)
	copy(raw.File[:], m.File)

	buf := &bytes.Buffer{}
	buf.Grow(fixedHeaderSize + 4 + 64)
	_ = binary.Write(buf, binary.BigEndian, raw)

	var cookie [4]byte
	binary.BigEndian.PutUint32(cookie[:], magicCookie)
	buf.Write(cookie[:])

	buf.Write(m.Options.encode())

	return buf.Bytes()
}

func ipToArray(ip net.IP) [4]byte {
	var out [4]byte
	if ip4 := ip.To4(); ip4 != nil {
		copy(out[:], ip4)
	}
	return out
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}
