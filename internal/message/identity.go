package message

import (
	"fmt"
	"strings"
)

// Identity is the parsed form of a system identity string, the payload of a
// CNXN message: "{systemtype}:{serial}:{banner}".
type Identity struct {
	SystemType SystemType
	Serial     string
	Banner     string
}

func (id Identity) String() string {
	return FormatIdentity(id.SystemType, id.Serial, id.Banner)
}

// FormatIdentity builds a system identity string. The NUL terminator is not
// included; callers terminate before putting it on the wire.
func FormatIdentity(systemType SystemType, serial, banner string) string {
	return strings.Join([]string{string(systemType), serial, banner}, ":")
}

// ParseIdentity splits a received CNXN payload into its components. A single
// trailing NUL is tolerated, and extra colons are kept as part of the banner
// (device banners routinely contain "prop=value;" lists with colons).
func ParseIdentity(payload []byte) (Identity, error) {
	s := strings.TrimSuffix(string(payload), "\x00")
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return Identity{}, fmt.Errorf("malformed system identity string %q", s)
	}
	return Identity{
		SystemType: SystemType(parts[0]),
		Serial:     parts[1],
		Banner:     parts[2],
	}, nil
}

// Stream destination helpers for the well-known destination families.
// All destinations are NUL-terminated separately when built into an OPEN
// message.

// TCPDestination returns a "tcp:{host}:{port}" stream destination.
func TCPDestination(host string, port int) string {
	return fmt.Sprintf("tcp:%s:%d", host, port)
}

// UDPDestination returns a "udp:{host}:{port}" stream destination.
func UDPDestination(host string, port int) string {
	return fmt.Sprintf("udp:%s:%d", host, port)
}

// LocalDgramDestination returns a "local-dgram:{id}" stream destination.
func LocalDgramDestination(id string) string {
	return "local-dgram:" + id
}

// LocalStreamDestination returns a "local-stream:{id}" stream destination.
func LocalStreamDestination(id string) string {
	return "local-stream:" + id
}

// ShellDestination returns a shell stream destination. With an empty command
// it opens an interactive shell; otherwise the command runs remotely and the
// stream carries its output.
func ShellDestination(command string) string {
	if command == "" {
		return "shell:"
	}
	return "shell:" + command
}

// Parameterless destination families.
const (
	UploadDestination   = "upload"
	FSBridgeDestination = "fs-bridge"
)
