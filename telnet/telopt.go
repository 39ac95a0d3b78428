package telnet

import (
	"errors"
	"fmt"
)

type OptionCode byte

type OptionState byte

const (
	// OptionInactive indicates that the option is not currently active.
	OptionInactive OptionState = iota
	// OptionRequested indicates that we have asked the peer to activate
	// the option but have not yet heard back.
	OptionRequested
	// OptionActive indicates the option is in force.
	OptionActive
)

var ErrOptionUnknown = errors.New("telopt: unknown option")

// An Option is one negotiable telnet option. Implementations live in
// the telopts subpackage, one per file; they mutate negotiator state
// through the base they embed.
type Option interface {
	// Code returns the option's wire code.
	Code() OptionCode
	String() string

	// Mandatory options fail the whole negotiation when the peer
	// rejects them on either side.
	Mandatory() bool

	// LocalState is our side of the option: a DO from the peer
	// activates it, a DONT deactivates it. RemoteState is the peer's
	// side, driven by WILL/WONT.
	LocalState() OptionState
	RemoteState() OptionState

	// TransitionLocal and TransitionRemote are called on every state
	// change, including the ones the option's own subnegotiation
	// triggers. They are never called for a transition to the state
	// already held.
	TransitionLocal(newState OptionState) error
	TransitionRemote(newState OptionState) error

	// Subnegotiate handles an inbound subnegotiation for this option.
	// It is only called while the option is active on at least one side.
	Subnegotiate(subnegotiation []byte) error

	attach(n *Negotiator)
}

// BaseOption carries the state and negotiator plumbing every option
// needs; concrete options embed it and override behavior.
type BaseOption struct {
	negotiator  *Negotiator
	localState  OptionState
	remoteState OptionState
}

func (o *BaseOption) attach(n *Negotiator) {
	o.negotiator = n
}

func (o *BaseOption) Negotiator() *Negotiator {
	return o.negotiator
}

func (o *BaseOption) Mandatory() bool {
	return false
}

func (o *BaseOption) LocalState() OptionState {
	return o.localState
}

func (o *BaseOption) RemoteState() OptionState {
	return o.remoteState
}

func (o *BaseOption) TransitionLocal(newState OptionState) error {
	o.localState = newState
	return nil
}

func (o *BaseOption) TransitionRemote(newState OptionState) error {
	o.remoteState = newState
	return nil
}

func (o *BaseOption) Subnegotiate(subnegotiation []byte) error {
	return fmt.Errorf("telopt: unexpected subnegotiation: %+v", subnegotiation)
}
