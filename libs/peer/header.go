package peer

import "fmt"

// Channel selects how a payload travels.
type Channel byte

const (
	// Reliable payloads go through the ARQ engine: ordered, exactly once.
	Reliable Channel = 1
	// Unreliable payloads are sent as one raw datagram each.
	Unreliable Channel = 2
)

func (c Channel) String() string {
	switch c {
	case Reliable:
		return "reliable"
	case Unreliable:
		return "unreliable"
	}
	return fmt.Sprintf("channel(%d)", byte(c))
}

// reliableHeader is the first byte of every message carried by the engine.
type reliableHeader byte

const (
	headerHello reliableHeader = 1
	headerPing  reliableHeader = 2
	headerData  reliableHeader = 3
)

// unreliableHeader is the first byte after the cookie of unreliable datagrams.
type unreliableHeader byte

const (
	headerUnreliableData unreliableHeader = 4
	headerDisconnect     unreliableHeader = 5
)

// datagramHeader is [channel:1][cookie:4].
const datagramHeader = 5

// State is the lifecycle of a session.
type State int32

const (
	Connecting State = iota
	Connected
	Authenticated
	Disconnected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Authenticated:
		return "authenticated"
	case Disconnected:
		return "disconnected"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}
