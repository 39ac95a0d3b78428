package go5250

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ecmumford/go5250/codepage"
	"github.com/ecmumford/go5250/internal/logging"
	"github.com/ecmumford/go5250/screen"
	"github.com/ecmumford/go5250/stream"
	"github.com/ecmumford/go5250/telnet"
	"github.com/ecmumford/go5250/telnet/telopts"
)

// A RequestHandler answers host-initiated system requests. It receives
// the current screen text; returning an action with ok true sends that
// action as the immediate reply. The engine never decides the reply
// content itself.
type RequestHandler func(screenText string) (action stream.KeyAction, ok bool)

// FieldInfo is a caller-safe snapshot of one entry in the field format
// table.
type FieldInfo struct {
	Index     int
	Row       int
	Col       int
	Length    int
	Protected bool
	Numeric   bool
	Modified  bool
	Value     string
}

// A Session drives one terminal connection: it negotiates the
// handshake, runs a dedicated reader loop that applies host orders to
// the screen buffer, and encodes caller key actions into outbound
// records.
//
// The reader loop is the only goroutine that mutates the buffer from
// host traffic; caller-facing operations synchronize with it through
// one mutex and condition variable guarding the buffer and connection
// state.
type Session struct {
	cfg     Config
	logger  *zap.Logger
	cp      *codepage.CodePage
	decoder *stream.Decoder
	encoder *stream.Encoder

	// dial is swapped in tests to run sessions over in-memory pipes.
	dial func(ctx context.Context, cfg Config) (net.Conn, error)

	events chan Event

	mu   sync.Mutex
	cond *sync.Cond

	state      ConnectionState
	lastErr    error
	buffer     *screen.Buffer
	conn       net.Conn
	framer     *telnet.Framer
	negotiator *telnet.Negotiator
	readerDone chan struct{}

	pendingRead    stream.ReadKind
	hasPendingRead bool
	errorLine      string
	decodeErrs     int
	requestHandler RequestHandler
}

// NewSession builds a session from a validated configuration. It does
// not touch the network; call Connect to go online.
func NewSession(cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	registry, err := codepage.NewRegistry()
	if err != nil {
		return nil, err
	}
	cp, err := registry.Resolve(cfg.CodePage)
	if err != nil {
		return nil, err
	}

	overflow, err := cfg.overflowPolicy()
	if err != nil {
		return nil, err
	}

	buffer, err := screen.NewBuffer(cfg.Rows, cfg.Cols)
	if err != nil {
		return nil, err
	}

	s := &Session{
		cfg:     cfg,
		logger:  logging.GetLogger().Named("session"),
		cp:      cp,
		decoder: stream.NewDecoder(cp),
		encoder: stream.NewEncoder(cp, overflow),
		dial:    dialHost,
		events:  make(chan Event, 128),
		state:   StateDisconnected,
		buffer:  buffer,
	}
	s.cond = sync.NewCond(&s.mu)

	return s, nil
}

// Events is the session's outbound event stream. The channel is
// buffered; when no consumer keeps up, events are dropped rather than
// stalling the reader loop, so treat them as notifications and query
// the session for authoritative state.
func (s *Session) Events() <-chan Event {
	return s.events
}

func (s *Session) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError returns the error that moved the session into StateFailed.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// SetRequestHandler installs the system-request hook. A nil handler
// means system requests are surfaced as events only.
func (s *Session) SetRequestHandler(handler RequestHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requestHandler = handler
}

// Connect dials the host, runs the negotiation handshake and starts
// the reader loop. On return the session is StateConnected with a
// fresh screen buffer, or StateFailed with the reason.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateDisconnected && s.state != StateFailed {
		state := s.state
		s.mu.Unlock()
		return &StateError{Op: "connect", State: state}
	}
	s.lastErr = nil
	s.setState(StateConnecting)
	s.mu.Unlock()

	conn, err := s.dial(ctx, s.cfg)
	if err != nil {
		return s.failConnect(&TransportError{Err: err})
	}

	logging.LogConnection(conn.RemoteAddr().String(), "connected")

	s.mu.Lock()
	if s.state != StateConnecting {
		// Disconnect raced the dial; drop the fresh connection.
		state := s.state
		s.mu.Unlock()
		conn.Close()
		return &StateError{Op: "connect", State: state}
	}
	// Stash the conn before negotiating so Disconnect can interrupt the
	// handshake by closing it.
	s.conn = conn
	s.setState(StateNegotiating)
	s.mu.Unlock()

	framer := telnet.NewFramer(conn)
	negotiator := telnet.NewNegotiator(framer, telnet.Preferences{
		RequestLocal: []telnet.OptionCode{
			telopts.CodeTRANSMITBINARY,
			telopts.CodeEOR,
			telopts.CodeTTYPE,
			telopts.CodeNEWENVIRON,
		},
		RequestRemote: []telnet.OptionCode{
			telopts.CodeTRANSMITBINARY,
			telopts.CodeEOR,
		},
	}, s.logger,
		telopts.RegisterTRANSMITBINARY(),
		telopts.RegisterEOR(),
		telopts.RegisterTTYPE(s.cfg.terminalTypes()),
		telopts.RegisterNEWENVIRON(s.cfg.environmentVars()),
	)

	if err := negotiator.Run(s.cfg.NegotiationTimeout, conn.SetReadDeadline); err != nil {
		conn.Close()
		return s.failConnect(err)
	}

	buffer, err := screen.NewBuffer(s.cfg.Rows, s.cfg.Cols)
	if err != nil {
		conn.Close()
		return s.failConnect(err)
	}

	s.mu.Lock()
	if s.state != StateNegotiating {
		// Disconnect raced the handshake; drop the connection.
		state := s.state
		s.mu.Unlock()
		conn.Close()
		return &StateError{Op: "connect", State: state}
	}

	s.conn = conn
	s.framer = framer
	s.negotiator = negotiator
	s.buffer = buffer
	s.hasPendingRead = false
	s.errorLine = ""
	s.readerDone = make(chan struct{})
	done := s.readerDone
	s.setState(StateConnected)
	pending := negotiator.PendingRecord()
	s.mu.Unlock()

	go s.readLoop(framer, negotiator, pending, done)
	return nil
}

// Disconnect tears the session down. It is idempotent and safe to call
// from any state; the transport close unblocks the reader loop, which
// finishes the transition to StateDisconnected.
func (s *Session) Disconnect() error {
	s.mu.Lock()

	switch s.state {
	case StateDisconnected:
		s.mu.Unlock()
		return nil

	case StateFailed, StateConnecting, StateNegotiating:
		if s.conn != nil {
			s.conn.Close()
		}
		s.setState(StateDisconnected)
		s.mu.Unlock()
		return nil

	case StateDisconnecting:
		done := s.readerDone
		s.mu.Unlock()
		if done != nil {
			<-done
		}
		return nil

	default: // StateConnected
		s.setState(StateDisconnecting)
		conn, done := s.conn, s.readerDone
		s.mu.Unlock()

		conn.Close()
		<-done
		return nil
	}
}

// SendKeys dispatches one key action. Local actions (typed text, cursor
// movement) mutate the buffer without network traffic; attention keys
// are encoded and written, and lock the keyboard until the host
// answers. Fails with ErrKeyboardLocked while the host holds the lock,
// except for system requests, which bypass it.
func (s *Session) SendKeys(action stream.KeyAction) error {
	return s.sendAction(action, false)
}

func (s *Session) sendAction(action stream.KeyAction, bypassLock bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateConnected {
		return &StateError{Op: "send keys", State: s.state}
	}

	if stream.Local(action) {
		switch a := action.(type) {
		case stream.CharacterInput:
			if s.buffer.Locked() && !bypassLock {
				return ErrKeyboardLocked
			}
			return s.encoder.FieldInput(s.buffer, a.Text)
		case stream.CursorMove:
			return s.buffer.SetCursor(a.Row, a.Col)
		case stream.Reset:
			s.buffer.ResetError()
			s.errorLine = ""
			s.cond.Broadcast()
			return nil
		}
	}

	if _, isRequest := action.(stream.SystemRequest); !isRequest && !bypassLock && s.buffer.Locked() {
		return ErrKeyboardLocked
	}

	kind := stream.ReadMDT
	if s.hasPendingRead {
		kind = s.pendingRead
	}

	data, err := s.encoder.EncodeAction(action, kind, s.buffer)
	if err != nil {
		return err
	}

	logging.LogRecord("outbound", data)
	if err := s.framer.WriteRecord(data); err != nil {
		return err
	}

	s.buffer.Lock()
	s.hasPendingRead = false
	s.cond.Broadcast()
	return nil
}

// ScreenText returns the rendered screen as rows-many newline-joined
// lines.
func (s *Session) ScreenText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer.Text()
}

// ErrorLine returns the text of the most recent host error message, or
// the empty string.
func (s *Session) ErrorLine() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errorLine
}

// Field returns a snapshot of one format table entry.
func (s *Session) Field(index int) (FieldInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	field, err := s.buffer.Field(index)
	if err != nil {
		return FieldInfo{}, err
	}

	return FieldInfo{
		Index:     field.Index(),
		Row:       field.StartRow(),
		Col:       field.StartCol(),
		Length:    field.Length(),
		Protected: field.Protected(),
		Numeric:   field.Numeric(),
		Modified:  field.Modified(),
		Value:     field.Value(),
	}, nil
}

// SetFieldValue types text into an input field by table index.
func (s *Session) SetFieldValue(index int, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateConnected {
		return &StateError{Op: "set field", State: s.state}
	}
	if s.buffer.Locked() {
		return ErrKeyboardLocked
	}

	return s.buffer.SetFieldValue(index, text)
}

// WaitForUnlock blocks until the keyboard unlocks, the timeout passes,
// or the session leaves StateConnected. The return value reports
// whether the keyboard is actually open; callers must check it.
func (s *Session) WaitForUnlock(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	timer := time.AfterFunc(timeout, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	for s.state == StateConnected && s.buffer.Locked() {
		if !time.Now().Before(deadline) {
			return false
		}
		s.cond.Wait()
	}

	return s.state == StateConnected && !s.buffer.Locked()
}

// probe checks transport liveness by writing a telnet no-op. The
// reader loop notices most transport deaths first and fails the
// session; the write catches a half-open connection the loop has not
// observed yet.
func (s *Session) probe() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateConnected {
		return &StateError{Op: "probe", State: s.state}
	}

	return s.framer.WriteCommand(telnet.Command{OpCode: telnet.NOP})
}

// Inhibit reports why the keyboard is currently locked, or
// screen.InhibitNone while it is open.
func (s *Session) Inhibit() screen.InhibitReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer.Inhibit()
}

// DecodeErrors returns how many recoverable protocol errors the session
// has survived.
func (s *Session) DecodeErrors() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decodeErrs
}

// Substituted returns how many outbound characters were replaced with
// the substitute glyph because the code page cannot express them.
func (s *Session) Substituted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.encoder.Substituted()
}

// setState must be called with mu held.
func (s *Session) setState(next ConnectionState) {
	if s.state == next {
		return
	}

	old := s.state
	s.state = next
	s.cond.Broadcast()
	s.emit(ConnectionStateChanged{Old: old, New: next})
	s.logger.Info("connection state",
		zap.Stringer("from", old),
		zap.Stringer("to", next),
	)
}

// failConnect settles a connection attempt that died. A concurrent
// Disconnect may already have settled the state; its verdict wins and
// the caller gets a StateError instead of the original failure.
func (s *Session) failConnect(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateConnecting && s.state != StateNegotiating {
		return &StateError{Op: "connect", State: s.state}
	}

	s.lastErr = err
	s.setState(StateFailed)
	return err
}

// emit never blocks: see Events.
func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("event dropped", zap.Any("event", ev))
	}
}

// readLoop is the session's single decode-and-apply path. It owns all
// host-driven buffer mutation and runs until the transport dies or
// Disconnect closes it.
func (s *Session) readLoop(framer *telnet.Framer, negotiator *telnet.Negotiator, pending []byte, done chan struct{}) {
	defer close(done)

	if pending != nil {
		s.handleRecord(pending)
	}

	for {
		chunk, err := framer.Next()
		if err != nil {
			var parseErr *telnet.CommandParseError
			if errors.As(err, &parseErr) {
				// Malformed option traffic is recoverable noise; only a
				// dead transport ends the session.
				s.mu.Lock()
				s.decodeErrs++
				s.mu.Unlock()
				s.logger.Warn("skipping malformed command", zap.Error(err))
				continue
			}
			s.finish(err)
			return
		}

		if chunk.Command != nil {
			if err := negotiator.ProcessCommand(*chunk.Command); err != nil {
				s.logger.Warn("mid-session option traffic failed", zap.Error(err))
			}
			continue
		}

		s.handleRecord(chunk.Record)
	}
}

// finish settles the terminal state after the reader loop's read fails:
// a clean Disconnect lands in StateDisconnected, anything else is a
// transport failure carrying the final screen for diagnostics.
func (s *Session) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		s.conn.Close()
	}

	if s.state == StateDisconnecting {
		s.setState(StateDisconnected)
		return
	}

	s.lastErr = &TransportError{Screen: s.buffer.Text(), Err: err}
	s.logger.Error("session failed", zap.Error(err))
	s.setState(StateFailed)
}

func (s *Session) handleRecord(record []byte) {
	logging.LogRecord("inbound", record)

	msg := s.decoder.DecodeRecord(record)

	s.mu.Lock()

	for _, decodeErr := range msg.Errs {
		s.decodeErrs++
		s.logger.Warn("recoverable decode error", zap.Error(decodeErr))
	}

	wasLocked := s.buffer.Locked()

	for _, element := range msg.Elements {
		switch el := element.(type) {
		case stream.Display:
			s.applyOrder(el.Order)
		case stream.Read:
			s.handleRead(el)
		case stream.SaveScreen:
			s.buffer.Snapshot()
		case stream.RestoreScreen:
			s.buffer.Restore()
			s.emit(ScreenChanged{Region: s.fullRegion()})
		case stream.StructuredField:
			s.logger.Debug("ignoring structured field",
				zap.Uint8("class", el.Class),
				zap.Uint8("type", el.Type),
			)
		case stream.ErrorCode:
			s.errorLine = el.Text
			s.buffer.SetOperatorError()
			s.emit(OperatorError{Text: el.Text})
			s.logger.Info("host error line", zap.String("text", el.Text))
		}
	}

	if wasLocked && !s.buffer.Locked() {
		s.emit(KeyboardUnlocked{})
	}
	s.cond.Broadcast()

	var screenText string
	var handler RequestHandler
	if msg.SystemRequest {
		screenText = s.buffer.Text()
		handler = s.requestHandler
	}
	s.mu.Unlock()

	if !msg.SystemRequest {
		return
	}

	// The handler runs outside the lock so it can use the session's
	// own read API.
	s.emit(SystemRequestDetected{ScreenText: screenText})
	if handler == nil {
		return
	}

	if action, ok := handler(screenText); ok {
		if err := s.sendAction(action, true); err != nil {
			s.logger.Warn("system request reply failed", zap.Error(err))
		}
	}
}

// applyOrder must be called with mu held.
func (s *Session) applyOrder(order screen.Order) {
	result, err := s.buffer.Apply(order)
	if err != nil {
		s.decodeErrs++
		s.logger.Warn("order rejected", zap.Error(err))
		return
	}

	region := result.Changed
	if region.Bottom >= region.Top && region.Right >= region.Left {
		s.emit(ScreenChanged{Region: region})
	}
	if result.Alarm {
		s.logger.Debug("host alarm")
	}
}

// handleRead must be called with mu held. Immediate reads answer on the
// spot; invite-style reads open the keyboard and wait for an attention
// key.
func (s *Session) handleRead(el stream.Read) {
	switch el.Kind {
	case stream.ReadScreen, stream.ReadImmediate:
		reply := s.encoder.EncodeReadReply(el.Kind, 0x00, s.buffer)
		logging.LogRecord("outbound", reply)
		if err := s.framer.WriteRecord(reply); err != nil {
			s.logger.Warn("read reply failed", zap.Error(err))
		}
	default:
		s.pendingRead = el.Kind
		s.hasPendingRead = true
		s.buffer.Unlock()
	}
}

func (s *Session) fullRegion() screen.Region {
	return screen.Region{
		Top:    0,
		Left:   0,
		Bottom: s.buffer.Rows() - 1,
		Right:  s.buffer.Cols() - 1,
	}
}
