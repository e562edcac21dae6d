package dhcpwire

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func discoverMessage() Message {
	return Message{
		Op:           OpRequest,
		HType:        HTypeEthernet,
		HLen:         6,
		XID:          0xDEADBEEF,
		Flags:        FlagBroadcast,
		ClientIP:     net.IPv4zero,
		YourIP:       net.IPv4zero,
		ServerIP:     net.IPv4zero,
		GatewayIP:    net.IPv4zero,
		ClientHWAddr: net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		Options: Options{
			MessageType: MessageTypeDiscover,
			Other:       map[uint8][]byte{},
		},
	}
}

func TestParseSerialiseRoundTrip(t *testing.T) {
	msg := discoverMessage()
	msg.Options.HasHostname = true
	msg.Options.Hostname = "client1"
	msg.Options.ServerIdentifier = net.IPv4(192, 0, 2, 1)
	msg.Options.HasLeaseTime = true
	msg.Options.LeaseTime = 3600 * time.Second
	msg.Options.Other[43] = []byte{1, 2, 3}

	buf := msg.Serialise()
	parsed, err := Parse(buf)
	require.NoError(t, err)

	again := parsed.Serialise()
	require.Equal(t, buf, again, "serialise(parse(b)) must equal b on the normalised representation")

	require.Equal(t, msg.XID, parsed.XID)
	require.Equal(t, msg.ClientHWAddr, parsed.ClientHWAddr)
	require.Equal(t, msg.Flags, parsed.Flags)
	require.Equal(t, MessageTypeDiscover, parsed.Options.MessageType)
	require.Equal(t, "client1", parsed.Options.Hostname)
	require.True(t, parsed.Options.ServerIdentifier.Equal(net.IPv4(192, 0, 2, 1)))
	require.Equal(t, 3600*time.Second, parsed.Options.LeaseTime)
	require.Equal(t, []byte{1, 2, 3}, parsed.Options.Other[43])
}

func TestParseShortPacket(t *testing.T) {
	_, err := Parse([]byte{1, 2, 3})
	require.Error(t, err)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, ErrShortPacket, pe.Kind)
}

func TestParseBadMagic(t *testing.T) {
	msg := discoverMessage()
	buf := msg.Serialise()
	// corrupt the cookie, which sits right after the fixed header.
	buf[fixedHeaderSize] ^= 0xFF
	_, err := Parse(buf)
	require.Error(t, err)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, ErrBadMagic, pe.Kind)
}

func TestParseUnterminatedOptions(t *testing.T) {
	msg := discoverMessage()
	buf := msg.Serialise()
	// Truncate right before the 0xFF terminator.
	buf = buf[:len(buf)-1]
	_, err := Parse(buf)
	require.Error(t, err)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, ErrTruncatedOption, pe.Kind)
}

func TestOptionOrderIsStable(t *testing.T) {
	msg := discoverMessage()
	msg.Options.ServerIdentifier = net.IPv4(10, 0, 0, 1)
	msg.Options.HasLeaseTime = true
	msg.Options.LeaseTime = time.Hour
	msg.Options.HasHostname = true
	msg.Options.Hostname = "h"
	msg.Options.ClientIdentifier = []byte{9}
	msg.Options.Other[2] = []byte{0}
	msg.Options.Other[100] = []byte{0}

	buf := msg.Options.encode()

	var codes []byte
	for i := 0; i < len(buf); {
		code := buf[i]
		if code == codeEnd {
			break
		}
		codes = append(codes, code)
		length := int(buf[i+1])
		i += 2 + length
	}

	require.Equal(t, []byte{codeMessageType, codeServerID, codeLeaseTime, codeHostname, codeClientID, 2, 100}, codes)
}
