package go5250

import (
	"errors"
	"fmt"
)

// ErrKeyboardLocked is returned by SendKeys while the host holds the
// keyboard locked. Wait for the unlock rather than retrying blind.
var ErrKeyboardLocked = errors.New("go5250: keyboard locked")

// ErrPoolExhausted is returned by Checkout when every pool slot for the
// target stayed in use past the checkout timeout.
var ErrPoolExhausted = errors.New("go5250: connection pool exhausted")

// A StateError reports an operation attempted in a connection state
// that cannot honor it. Nothing is mutated.
type StateError struct {
	Op    string
	State ConnectionState
}

func (e *StateError) Error() string {
	return fmt.Sprintf("go5250: cannot %s while %s", e.Op, e.State)
}

// A TransportError is fatal to the session. It carries the last-known
// screen text so automation failures can be diagnosed after the
// connection is gone.
type TransportError struct {
	Screen string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("go5250: transport failed: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
