// Package go5250 implements a block-mode terminal engine for driving
// IBM midrange hosts over the TN5250 protocol. A Session negotiates the
// telnet handshake, decodes the host's display data stream into a
// screen buffer, and turns caller key actions back into outbound
// records. Sessions targeting the same host can be shared through a
// bounded Pool.
package go5250

import "fmt"

// ConnectionState is the single source of truth for session viability.
type ConnectionState byte

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateNegotiating
	StateConnected
	StateDisconnecting
	StateFailed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", byte(s))
	}
}
