// Package message implements the ADB protocol message format: the 24-byte
// little-endian header, its checksum/magic invariants, and builders for every
// command a host originates.
package message

import "fmt"

// Protocol version sent in the arg0 word of CNXN messages.
const Version = 0x01000000

// MaxData is the maximum message payload size.
const MaxData = 256 * 1024

// ConnectAuthMaxData is the payload limit for CNXN and AUTH messages,
// inherited from older ADB versions.
const ConnectAuthMaxData = 4096

// HeaderSize is the size of a serialized message header in bytes:
// six unsigned 32-bit little-endian words.
const HeaderSize = 24

// commandMask is applied to the command word when computing the magic value.
const commandMask = 0xffffffff

// Command identifies an ADB message type. The values are the little-endian
// interpretation of the four ASCII command bytes.
type Command uint32

const (
	CmdSync Command = 0x434e5953 // host-internal, never sent on the wire
	CmdCnxn Command = 0x4e584e43
	CmdAuth Command = 0x48545541
	CmdOpen Command = 0x4e45504f
	CmdOkay Command = 0x59414b4f
	CmdClse Command = 0x45534c43
	CmdWrte Command = 0x45545257
)

func (c Command) String() string {
	switch c {
	case CmdSync:
		return "SYNC"
	case CmdCnxn:
		return "CNXN"
	case CmdAuth:
		return "AUTH"
	case CmdOpen:
		return "OPEN"
	case CmdOkay:
		return "OKAY"
	case CmdClse:
		return "CLSE"
	case CmdWrte:
		return "WRTE"
	default:
		return fmt.Sprintf("Command(0x%08x)", uint32(c))
	}
}

// Valid reports whether c is one of the known command values.
func (c Command) Valid() bool {
	switch c {
	case CmdSync, CmdCnxn, CmdAuth, CmdOpen, CmdOkay, CmdClse, CmdWrte:
		return true
	}
	return false
}

// AuthType is the arg0 value of an AUTH message.
type AuthType uint32

const (
	// AuthToken carries a random token from the device for the host to sign.
	AuthToken AuthType = 1
	// AuthSignatureType carries the host's signature over the token.
	AuthSignatureType AuthType = 2
	// AuthRSAPublicKeyType carries the host's public key for on-device approval.
	AuthRSAPublicKeyType AuthType = 3
)

// SystemType is the leading component of a system identity string.
type SystemType string

const (
	SystemBootloader SystemType = "bootloader"
	SystemDevice     SystemType = "device"
	SystemHost       SystemType = "host"
)

// Message is a single ADB protocol frame: a fixed header plus an optional
// data payload. Header fields are serialized as six unsigned 32-bit
// little-endian words.
type Message struct {
	Command      Command
	Arg0         uint32
	Arg1         uint32
	DataLength   uint32
	DataChecksum uint32
	Magic        uint32
	Data         []byte
}

func (m Message) String() string {
	return fmt.Sprintf("%s(arg0=0x%x, arg1=0x%x, len=%d)", m.Command, m.Arg0, m.Arg1, m.DataLength)
}

// IsConnect reports whether the message is a CNXN command.
func (m Message) IsConnect() bool { return m.Command == CmdCnxn }

// IsAuth reports whether the message is an AUTH command.
func (m Message) IsAuth() bool { return m.Command == CmdAuth }

// IsOpen reports whether the message is an OPEN command.
func (m Message) IsOpen() bool { return m.Command == CmdOpen }

// IsOkay reports whether the message is an OKAY command.
func (m Message) IsOkay() bool { return m.Command == CmdOkay }

// IsWrite reports whether the message is a WRTE command.
func (m Message) IsWrite() bool { return m.Command == CmdWrte }

// IsClose reports whether the message is a CLSE command.
func (m Message) IsClose() bool { return m.Command == CmdClse }

// IsSync reports whether the message is the host-internal SYNC command.
func (m Message) IsSync() bool { return m.Command == CmdSync }

// MagicValid reports whether the header's magic word matches the command.
// Decoding does not enforce this; consumers check it once a full message is
// in hand to detect header corruption.
func (m Message) MagicValid() bool { return m.Magic == Magic(m.Command) }

// Magic computes the redundant header check value for a command:
// the 32-bit command word XORed with all ones.
func Magic(c Command) uint32 {
	return uint32(c) ^ commandMask
}

// Checksum computes the payload checksum: the sum of all payload bytes
// modulo 2^32.
func Checksum(data []byte) uint32 {
	var sum uint32
	for _, b := range data {
		sum += uint32(b)
	}
	return sum
}

// NullTerminate returns a copy of data with exactly one NUL byte appended.
// All string payloads carrying protocol identifiers (identity strings,
// destinations, public keys) are NUL-terminated on the wire.
func NullTerminate(data []byte) []byte {
	out := make([]byte, len(data)+1)
	copy(out, data)
	return out
}

// NullTerminateString is NullTerminate for text payloads.
func NullTerminateString(s string) string {
	return s + "\x00"
}

// request assembles a locally originated message: header fields are derived
// from the payload so the checksum/magic invariants hold by construction.
func request(cmd Command, arg0, arg1 uint32, data []byte) Message {
	return Message{
		Command:      cmd,
		Arg0:         arg0,
		Arg1:         arg1,
		DataLength:   uint32(len(data)),
		DataChecksum: Checksum(data),
		Magic:        Magic(cmd),
		Data:         data,
	}
}

// Connect builds a CNXN message identifying this side as a host.
func Connect(serial, banner string) Message {
	return ConnectAs(SystemHost, serial, banner)
}

// ConnectAs builds a CNXN message with an explicit system type.
func ConnectAs(systemType SystemType, serial, banner string) Message {
	identity := NullTerminateString(FormatIdentity(systemType, serial, banner))
	return request(CmdCnxn, Version, ConnectAuthMaxData, []byte(identity))
}

// Auth builds an AUTH message of the given type.
func Auth(authType AuthType, data []byte) Message {
	return request(CmdAuth, uint32(authType), 0, data)
}

// AuthSignature builds an AUTH message carrying a signature over the token
// the device sent.
func AuthSignature(signature []byte) Message {
	return Auth(AuthSignatureType, signature)
}

// AuthRSAPublicKey builds an AUTH message carrying the host public key for
// the device to display and accept.
func AuthRSAPublicKey(publicKey []byte) Message {
	return Auth(AuthRSAPublicKeyType, NullTerminate(publicKey))
}

// Open builds an OPEN message asking the remote to open a stream to the
// given destination.
func Open(localID uint32, destination string) Message {
	return request(CmdOpen, localID, 0, []byte(NullTerminateString(destination)))
}

// Ready builds an OKAY message indicating the stream is ready for writes.
func Ready(localID, remoteID uint32) Message {
	return request(CmdOkay, localID, remoteID, nil)
}

// Okay is an alias for Ready.
func Okay(localID, remoteID uint32) Message {
	return Ready(localID, remoteID)
}

// Write builds a WRTE message carrying a data payload for a stream.
// The payload must be non-empty and no larger than MaxData.
func Write(localID, remoteID uint32, data []byte) (Message, error) {
	if len(data) == 0 {
		return Message{}, &PackError{Reason: "write payload must not be empty"}
	}
	if len(data) > MaxData {
		return Message{}, &PackError{Reason: fmt.Sprintf("write payload of %d bytes exceeds maximum of %d", len(data), MaxData)}
	}
	return request(CmdWrte, localID, remoteID, data), nil
}

// Close builds a CLSE message informing the remote that a stream is closing.
func Close(localID, remoteID uint32) Message {
	return request(CmdClse, localID, remoteID, nil)
}
