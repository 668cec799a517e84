package peer

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorCode classifies the errors a session reports through OnError.
type ErrorCode int

const (
	DNSResolve ErrorCode = iota
	Timeout
	Congestion
	InvalidReceive
	InvalidSend
	ConnectionClosed
	Unexpected
)

func (c ErrorCode) String() string {
	switch c {
	case DNSResolve:
		return "DNSResolve"
	case Timeout:
		return "Timeout"
	case Congestion:
		return "Congestion"
	case InvalidReceive:
		return "InvalidReceive"
	case InvalidSend:
		return "InvalidSend"
	case ConnectionClosed:
		return "ConnectionClosed"
	case Unexpected:
		return "Unexpected"
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

var (
	// ErrNotAuthenticated is returned by Send before the handshake finished.
	ErrNotAuthenticated = errors.New("session not authenticated")
	// ErrMessageTooLarge means a payload exceeds the channel limit.
	ErrMessageTooLarge = errors.New("message too large for channel")
	// ErrEmptyMessage means Send was called without payload.
	ErrEmptyMessage = errors.New("empty message")
	// ErrUnknownChannel means the channel byte is neither reliable nor unreliable.
	ErrUnknownChannel = errors.New("unknown channel")
	// ErrMalformed marks datagrams and messages that cannot be parsed.
	ErrMalformed = errors.New("malformed input")
)
