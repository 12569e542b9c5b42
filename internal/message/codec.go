package message

import (
	"encoding/binary"
	"fmt"
)

// PackError indicates a message that cannot be represented on the wire.
// Header words are uint32 by type, so the only reachable cause is a payload
// whose size violates the limits of its command.
type PackError struct {
	Reason string
}

func (e *PackError) Error() string {
	return "cannot pack message: " + e.Reason
}

// UnpackError indicates a header buffer of the wrong size.
type UnpackError struct {
	Size int
}

func (e *UnpackError) Error() string {
	return fmt.Sprintf("cannot unpack message header from %d bytes, need exactly %d", e.Size, HeaderSize)
}

// MagicError indicates a header whose magic word does not match its command,
// evidence of corruption in transit.
type MagicError struct {
	Command Command
	Magic   uint32
}

func (e *MagicError) Error() string {
	return fmt.Sprintf("header magic 0x%08x does not match command %s", e.Magic, e.Command)
}

// ChecksumError indicates a payload whose checksum does not match the value
// declared in the message header.
type ChecksumError struct {
	Computed uint32
	Expected uint32
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("payload checksum 0x%08x does not match declared 0x%08x", e.Computed, e.Expected)
}

// Encode packs the six header fields into HeaderSize bytes. The payload is
// not included; it follows the header on the wire when DataLength > 0.
func Encode(m Message) []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(m.Command))
	binary.LittleEndian.PutUint32(buf[4:8], m.Arg0)
	binary.LittleEndian.PutUint32(buf[8:12], m.Arg1)
	binary.LittleEndian.PutUint32(buf[12:16], m.DataLength)
	binary.LittleEndian.PutUint32(buf[16:20], m.DataChecksum)
	binary.LittleEndian.PutUint32(buf[20:24], m.Magic)
	return buf
}

// Decode unpacks a HeaderSize byte buffer into a header-only Message.
// It performs no magic or checksum validation; the payload is attached and
// validated separately once DataLength bytes have been read off the wire.
func Decode(buf []byte) (Message, error) {
	if len(buf) != HeaderSize {
		return Message{}, &UnpackError{Size: len(buf)}
	}
	return Message{
		Command:      Command(binary.LittleEndian.Uint32(buf[0:4])),
		Arg0:         binary.LittleEndian.Uint32(buf[4:8]),
		Arg1:         binary.LittleEndian.Uint32(buf[8:12]),
		DataLength:   binary.LittleEndian.Uint32(buf[12:16]),
		DataChecksum: binary.LittleEndian.Uint32(buf[16:20]),
		Magic:        binary.LittleEndian.Uint32(buf[20:24]),
	}, nil
}

// AttachPayload validates the payload against the checksum declared in the
// header and stores it on the message. A mismatch fails the message with a
// ChecksumError carrying both values.
func (m *Message) AttachPayload(data []byte) error {
	computed := Checksum(data)
	if computed != m.DataChecksum {
		return &ChecksumError{Computed: computed, Expected: m.DataChecksum}
	}
	m.Data = data
	return nil
}
