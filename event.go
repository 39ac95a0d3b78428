package go5250

import "github.com/ecmumford/go5250/screen"

// An Event is one item on the session's outbound event stream. Events
// are emitted only by the session's reader loop, so consumers never see
// interleaved partial updates.
type Event interface {
	event()
}

// ScreenChanged reports the rectangle touched by one applied order.
type ScreenChanged struct {
	Region screen.Region
}

// ConnectionStateChanged reports every state transition, including the
// final one into StateDisconnected or StateFailed.
type ConnectionStateChanged struct {
	Old ConnectionState
	New ConnectionState
}

// KeyboardUnlocked fires when the host releases the keyboard and the
// session is ready for input.
type KeyboardUnlocked struct{}

// SystemRequestDetected fires when the host stream carries a system
// request, alongside the synchronous handler invocation.
type SystemRequestDetected struct {
	ScreenText string
}

// OperatorError fires when a host error code locks the keyboard in the
// operator-error state. A Reset key action clears it.
type OperatorError struct {
	Text string
}

func (ScreenChanged) event()          {}
func (ConnectionStateChanged) event() {}
func (KeyboardUnlocked) event()       {}
func (SystemRequestDetected) event()  {}
func (OperatorError) event()          {}
