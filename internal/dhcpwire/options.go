package dhcpwire

import (
	"encoding/binary"
	"net"
	"sort"
	"time"
)

// MessageType is the DHCP message type carried in option 53.
type MessageType uint8

// Recognised DHCP message types (RFC 2132 §9.6).
const (
	MessageTypeUnknown  MessageType = 0
	MessageTypeDiscover MessageType = 1
	MessageTypeOffer    MessageType = 2
	MessageTypeRequest  MessageType = 3
	MessageTypeDecline  MessageType = 4
	MessageTypeAck      MessageType = 5
	MessageTypeNak      MessageType = 6
	MessageTypeRelease  MessageType = 7
	MessageTypeInform   MessageType = 8
)

// Option codes this codec names. Only the six set by setRecognised are
// decoded into named fields; everything else (subnet mask included)
// round-trips through Options.Other.
const (
	codeSubnetMask    = 1
	codeHostname      = 12
	codeMessageType   = 53
	codeServerID      = 54
	codeParamList     = 55
	codeClientID      = 61
	codeLeaseTime     = 51
	codePad           = 0
	codeEnd           = 255
)

// Options is the decoded option set of a DHCP message. The six recognised
// fields are promoted to named fields; anything else is preserved verbatim
// in Other so a parse/serialise round-trip never loses data.
type Options struct {
	MessageType      MessageType
	Hostname         string
	HasHostname      bool
	ParameterList    []byte
	HasParameterList bool
	LeaseTime        time.Duration
	HasLeaseTime     bool
	ServerIdentifier net.IP
	ClientIdentifier []byte
	Other            map[uint8][]byte
}

func newOptions() Options {
	return Options{Other: make(map[uint8][]byte)}
}

// decodeOptions parses the TLV option stream following the magic cookie. The
// stream must be terminated by option 255; its absence is a parse error.
func decodeOptions(data []byte) (Options, error) {
	out := newOptions()
	terminated := false

	for i := 0; i < len(data); {
		code := data[i]

		if code == codePad {
			i++
			continue
		}
		if code == codeEnd {
			terminated = true
			break
		}

		if i+1 >= len(data) {
			return out, &ParseError{Kind: ErrTruncatedOption, Detail: "missing length byte"}
		}
		length := int(data[i+1])
		start := i + 2
		end := start + length
		if end > len(data) {
			return out, &ParseError{Kind: ErrTruncatedOption, Detail: "option value runs past buffer"}
		}
		value := data[start:end]

		if err := out.setRecognised(code, value); err != nil {
			return out, err
		}

		i = end
	}

	if !terminated {
		return out, &ParseError{Kind: ErrTruncatedOption, Detail: "options not terminated with 0xFF"}
	}

	return out, nil
}

func (o *Options) setRecognised(code uint8, value []byte) error {
	switch code {
	case codeMessageType:
		if len(value) != 1 {
			return &ParseError{Kind: ErrUnknownMandatory, Detail: "messagetype"}
		}
		o.MessageType = MessageType(value[0])
	case codeServerID:
		ip, ok := decodeIPv4(value)
		if !ok {
			return &ParseError{Kind: ErrUnknownMandatory, Detail: "serveridentifier"}
		}
		o.ServerIdentifier = ip
	case codeLeaseTime:
		if len(value) != 4 {
			return &ParseError{Kind: ErrUnknownMandatory, Detail: "leasetime"}
		}
		o.LeaseTime = time.Duration(binary.BigEndian.Uint32(value)) * time.Second
		o.HasLeaseTime = true
	case codeHostname:
		o.Hostname = string(value)
		o.HasHostname = true
	case codeClientID:
		o.ClientIdentifier = append([]byte(nil), value...)
	case codeParamList:
		o.ParameterList = append([]byte(nil), value...)
		o.HasParameterList = true
	default:
		buf := make([]byte, len(value))
		copy(buf, value)
		o.Other[code] = buf
	}
	return nil
}

// encode serialises options in the mandated stable order: the recognised
// fields first (messagetype, serveridentifier, leasetime, hostname,
// clientidentifier, parameterlist), then Other in ascending code order,
// then the 0xFF terminator.
func (o Options) encode() []byte {
	var out []byte

	if o.MessageType != MessageTypeUnknown {
		out = appendOption(out, codeMessageType, []byte{byte(o.MessageType)})
	}
	if o.ServerIdentifier != nil {
		out = appendOption(out, codeServerID, o.ServerIdentifier.To4())
	}
	if o.HasLeaseTime {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(o.LeaseTime/time.Second))
		out = appendOption(out, codeLeaseTime, b[:])
	}
	if o.HasHostname {
		out = appendOption(out, codeHostname, []byte(o.Hostname))
	}
	if o.ClientIdentifier != nil {
		out = appendOption(out, codeClientID, o.ClientIdentifier)
	}
	if o.HasParameterList {
		out = appendOption(out, codeParamList, o.ParameterList)
	}

	codes := make([]int, 0, len(o.Other))
	for c := range o.Other {
		codes = append(codes, int(c))
	}
	sort.Ints(codes)
	for _, c := range codes {
		out = appendOption(out, uint8(c), o.Other[uint8(c)])
	}

	out = append(out, codeEnd)
	return out
}

func appendOption(buf []byte, code uint8, value []byte) []byte {
	buf = append(buf, code, byte(len(value)))
	buf = append(buf, value...)
	return buf
}

func decodeIPv4(b []byte) (net.IP, bool) {
	if len(b) != 4 {
		return nil, false
	}
	return net.IPv4(b[0], b[1], b[2], b[3]), true
}
