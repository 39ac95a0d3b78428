package telnet

import (
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
)

// Phase is the negotiation state machine. It only moves forward; a
// failed negotiation tears down the connection rather than retrying.
type Phase byte

const (
	PhaseInit Phase = iota
	PhaseOptionExchange
	PhaseDeviceIdentification
	PhaseReady
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "init"
	case PhaseOptionExchange:
		return "option-exchange"
	case PhaseDeviceIdentification:
		return "device-identification"
	case PhaseReady:
		return "ready"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", byte(p))
	}
}

var ErrNegotiationTimeout = errors.New("telnet: negotiation timed out")

// An OptionRejectedError means the peer refused an option the session
// cannot run without, such as binary transmission.
type OptionRejectedError struct {
	Option string
}

func (e *OptionRejectedError) Error() string {
	return fmt.Sprintf("telnet: peer rejected mandatory option %s", e.Option)
}

// Preferences declares which options we ask for and which we let the
// peer switch on. Request implies allow.
type Preferences struct {
	RequestLocal  []OptionCode
	RequestRemote []OptionCode
	AllowLocal    []OptionCode
	AllowRemote   []OptionCode
}

// A Negotiator drives the option handshake on one connection and keeps
// answering option traffic for the connection's lifetime afterwards.
// All methods are called from the session's reader goroutine only.
type Negotiator struct {
	framer *Framer
	logger *zap.Logger

	options map[OptionCode]Option

	allowLocal  map[OptionCode]struct{}
	allowRemote map[OptionCode]struct{}
	prefs       Preferences

	phase           Phase
	awaitedRequests int
	pendingRecord   []byte
}

func NewNegotiator(framer *Framer, prefs Preferences, logger *zap.Logger, options ...Option) *Negotiator {
	if logger == nil {
		logger = zap.NewNop()
	}

	n := &Negotiator{
		framer:      framer,
		logger:      logger,
		options:     make(map[OptionCode]Option, len(options)),
		allowLocal:  make(map[OptionCode]struct{}),
		allowRemote: make(map[OptionCode]struct{}),
		prefs:       prefs,
	}

	for _, option := range options {
		option.attach(n)
		n.options[option.Code()] = option
	}

	for _, code := range prefs.AllowLocal {
		n.allowLocal[code] = struct{}{}
	}
	for _, code := range prefs.RequestLocal {
		n.allowLocal[code] = struct{}{}
	}
	for _, code := range prefs.AllowRemote {
		n.allowRemote[code] = struct{}{}
	}
	for _, code := range prefs.RequestRemote {
		n.allowRemote[code] = struct{}{}
	}

	return n
}

func (n *Negotiator) Phase() Phase {
	return n.phase
}

// PendingRecord returns a logical record that arrived while the
// handshake was still settling, so the session can decode it instead of
// dropping it.
func (n *Negotiator) PendingRecord() []byte {
	record := n.pendingRecord
	n.pendingRecord = nil
	return record
}

// WriteCommand sends one command to the peer. Options use this for
// their subnegotiation replies.
func (n *Negotiator) WriteCommand(c Command) error {
	n.logger.Debug("negotiation send", zap.Stringer("command", c))
	return n.framer.WriteCommand(c)
}

// EnterDeviceIdentification moves the handshake into its second stage.
// The terminal-type and environment options call this when the peer
// starts asking who we are.
func (n *Negotiator) EnterDeviceIdentification() {
	if n.phase == PhaseOptionExchange {
		n.phase = PhaseDeviceIdentification
	}
}

// Run performs the handshake: it sends our option requests, then
// processes peer traffic until every mandatory option is active and no
// request is still unanswered. setReadDeadline is the connection's
// deadline hook; expiry at any stage is fatal to the attempt.
func (n *Negotiator) Run(timeout time.Duration, setReadDeadline func(time.Time) error) error {
	n.phase = PhaseOptionExchange

	if err := n.writeRequests(); err != nil {
		n.phase = PhaseFailed
		return err
	}

	if setReadDeadline != nil {
		if err := setReadDeadline(time.Now().Add(timeout)); err != nil {
			n.phase = PhaseFailed
			return err
		}
		defer setReadDeadline(time.Time{})
	}

	for n.phase != PhaseReady {
		chunk, err := n.framer.Next()
		if err != nil {
			phase := n.phase
			n.phase = PhaseFailed

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return fmt.Errorf("%w: in phase %s", ErrNegotiationTimeout, phase)
			}
			return err
		}

		if chunk.Record != nil {
			// The host started talking 5250, so negotiation is as done
			// as it is going to get. Hold the record for the session.
			n.pendingRecord = chunk.Record
			if !n.mandatoryActive() {
				n.phase = PhaseFailed
				return fmt.Errorf("telnet: record received before mandatory options were active")
			}
			n.phase = PhaseReady
			break
		}

		if err := n.ProcessCommand(*chunk.Command); err != nil {
			n.phase = PhaseFailed
			return err
		}

		if n.awaitedRequests == 0 && n.mandatoryActive() {
			n.phase = PhaseReady
		}
	}

	n.logger.Debug("negotiation complete")
	return nil
}

// writeRequests opens the handshake with our WILL/DO offers, mirroring
// how the peer's own requests will be answered from the allow tables.
func (n *Negotiator) writeRequests() error {
	for _, code := range n.prefs.RequestLocal {
		option, hasOption := n.options[code]
		if !hasOption {
			return fmt.Errorf("%w: requested local option %d not registered", ErrOptionUnknown, code)
		}

		if err := n.WriteCommand(Command{OpCode: WILL, Option: code}); err != nil {
			return err
		}
		if option.LocalState() == OptionInactive {
			n.awaitedRequests++
			if err := option.TransitionLocal(OptionRequested); err != nil {
				return err
			}
		}
	}

	for _, code := range n.prefs.RequestRemote {
		option, hasOption := n.options[code]
		if !hasOption {
			return fmt.Errorf("%w: requested remote option %d not registered", ErrOptionUnknown, code)
		}

		if err := n.WriteCommand(Command{OpCode: DO, Option: code}); err != nil {
			return err
		}
		if option.RemoteState() == OptionInactive {
			n.awaitedRequests++
			if err := option.TransitionRemote(OptionRequested); err != nil {
				return err
			}
		}
	}

	return nil
}

func (n *Negotiator) mandatoryActive() bool {
	for _, option := range n.options {
		if option.Mandatory() && (option.LocalState() != OptionActive || option.RemoteState() != OptionActive) {
			return false
		}
	}

	return true
}

// ProcessCommand answers one inbound command. It remains in use after
// the handshake, since hosts renegotiate options mid-session on occasion.
func (n *Negotiator) ProcessCommand(c Command) error {
	n.logger.Debug("negotiation recv", zap.Stringer("command", c))

	switch c.OpCode {
	case NOP, GA:
		return nil
	case SB:
		return n.processSubnegotiation(c)
	case DO, DONT, WILL, WONT:
		return n.processNegotiation(c)
	default:
		return nil
	}
}

func (n *Negotiator) processNegotiation(c Command) error {
	option, hasOption := n.options[c.Option]
	if !hasOption {
		if c.IsNegotiationRequest() {
			return n.WriteCommand(c.Reject())
		}
		return nil
	}

	if c.IsRequestForLocal() {
		return n.transitionLocal(option, c)
	}
	return n.transitionRemote(option, c)
}

func (n *Negotiator) transitionLocal(option Option, c Command) error {
	oldState := option.LocalState()

	if c.OpCode == DO {
		if oldState == OptionActive {
			return nil
		}
		if _, allowed := n.allowLocal[option.Code()]; !allowed {
			return n.WriteCommand(c.Reject())
		}

		if oldState == OptionRequested {
			n.awaitedRequests--
		} else if err := n.WriteCommand(c.Accept()); err != nil {
			return err
		}

		return option.TransitionLocal(OptionActive)
	}

	// DONT
	if oldState == OptionRequested {
		n.awaitedRequests--
	}
	if oldState == OptionActive {
		if err := n.WriteCommand(Command{OpCode: WONT, Option: option.Code()}); err != nil {
			return err
		}
	}
	if oldState != OptionInactive {
		if err := option.TransitionLocal(OptionInactive); err != nil {
			return err
		}
	}

	if option.Mandatory() {
		return &OptionRejectedError{Option: option.String()}
	}
	return nil
}

func (n *Negotiator) transitionRemote(option Option, c Command) error {
	oldState := option.RemoteState()

	if c.OpCode == WILL {
		if oldState == OptionActive {
			return nil
		}
		if _, allowed := n.allowRemote[option.Code()]; !allowed {
			return n.WriteCommand(c.Reject())
		}

		if oldState == OptionRequested {
			n.awaitedRequests--
		} else if err := n.WriteCommand(c.Accept()); err != nil {
			return err
		}

		return option.TransitionRemote(OptionActive)
	}

	// WONT
	if oldState == OptionRequested {
		n.awaitedRequests--
	}
	if oldState == OptionActive {
		if err := n.WriteCommand(Command{OpCode: DONT, Option: option.Code()}); err != nil {
			return err
		}
	}
	if oldState != OptionInactive {
		if err := option.TransitionRemote(OptionInactive); err != nil {
			return err
		}
	}

	if option.Mandatory() {
		return &OptionRejectedError{Option: option.String()}
	}
	return nil
}

func (n *Negotiator) processSubnegotiation(c Command) error {
	option, hasOption := n.options[c.Option]
	if !hasOption {
		// Subnegotiation for something we never agreed to.
		return nil
	}

	if option.LocalState() != OptionActive && option.RemoteState() != OptionActive {
		return nil
	}

	return option.Subnegotiate(c.Subnegotiation)
}
