package go5250

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/ecmumford/go5250/codepage"
	"github.com/ecmumford/go5250/screen"
	"github.com/ecmumford/go5250/stream"
	"github.com/ecmumford/go5250/telnet"
)

func testConfig() Config {
	return Config{
		Host:               "testhost",
		Port:               23,
		CodePage:           "37",
		Rows:               24,
		Cols:               80,
		NegotiationTimeout: 5 * time.Second,
	}
}

// pipeSession builds a session whose dialer hands out one side of an
// in-memory pipe; the other side plays the host.
func pipeSession(t *testing.T) (*Session, net.Conn) {
	t.Helper()

	local, remote := net.Pipe()
	t.Cleanup(func() {
		local.Close()
		remote.Close()
	})

	session, err := NewSession(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	session.dial = func(context.Context, Config) (net.Conn, error) {
		return local, nil
	}

	return session, remote
}

// approveHandshake plays the host side of negotiation, approving every
// option the engine requests.
func approveHandshake(conn net.Conn) error {
	if _, err := io.ReadFull(conn, make([]byte, 18)); err != nil {
		return err
	}

	_, err := conn.Write([]byte{
		telnet.IAC, telnet.DO, 0,
		telnet.IAC, telnet.DO, 25,
		telnet.IAC, telnet.DO, 24,
		telnet.IAC, telnet.DO, 39,
		telnet.IAC, telnet.WILL, 0,
		telnet.IAC, telnet.WILL, 25,
	})
	return err
}

func ebcdic(t *testing.T, s string) []byte {
	t.Helper()

	registry, err := codepage.NewRegistry()
	if err != nil {
		t.Fatal(err)
	}
	cp, err := registry.Resolve("37")
	if err != nil {
		t.Fatal(err)
	}

	out := make([]byte, 0, len(s))
	for _, r := range s {
		b, err := cp.Encode(r)
		if err != nil {
			t.Fatalf("encoding %q: %v", r, err)
		}
		out = append(out, b)
	}
	return out
}

// signonRecord is a write-to-display that paints a label, defines one
// input field at (5,10) of length 8 and unlocks the keyboard.
func signonRecord(t *testing.T) []byte {
	t.Helper()

	data := []byte{
		stream.ESC, stream.CmdWriteToDisplay,
		0x00, screen.CC2UnlockKeyboard,
		stream.OrderSBA, 1, 2,
	}
	data = append(data, ebcdic(t, "SIGNON")...)
	data = append(data,
		stream.OrderSBA, 6, 10,
		stream.OrderSF, 0x40, 0x00, 0x20, 0x00, 0x08,
	)

	return stream.BuildRecord(stream.OpcodeInvite, 0, data)
}

func TestSessionKeyboardFlow(t *testing.T) {
	session, host := pipeSession(t)
	hostFramer := telnet.NewFramer(host)

	record := signonRecord(t)
	reply := make(chan []byte, 1)
	hostErr := make(chan error, 1)
	go func() {
		hostErr <- func() error {
			if err := approveHandshake(host); err != nil {
				return err
			}
			if err := hostFramer.WriteRecord(record); err != nil {
				return err
			}

			chunk, err := hostFramer.Next()
			if err != nil {
				return err
			}
			reply <- chunk.Record
			return nil
		}()
	}()

	if err := session.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if got := session.State(); got != StateConnected {
		t.Fatalf("state = %s, want connected", got)
	}

	if !session.WaitForUnlock(2 * time.Second) {
		t.Fatal("keyboard never unlocked")
	}

	if text := session.ScreenText(); !strings.Contains(text, "SIGNON") {
		t.Fatalf("screen text missing label:\n%s", text)
	}

	info, err := session.Field(0)
	if err != nil {
		t.Fatal(err)
	}
	if info.Row != 5 || info.Col != 10 || info.Length != 8 {
		t.Fatalf("field bounds = (%d,%d) len %d", info.Row, info.Col, info.Length)
	}

	if err := session.SendKeys(stream.CharacterInput{Text: "QUSER"}); err != nil {
		t.Fatalf("typing: %v", err)
	}
	if err := session.SendKeys(stream.Enter{}); err != nil {
		t.Fatalf("enter: %v", err)
	}

	// The attention key locks the keyboard until the host answers.
	if err := session.SendKeys(stream.Enter{}); !errors.Is(err, ErrKeyboardLocked) {
		t.Fatalf("second enter err = %v, want keyboard locked", err)
	}

	select {
	case raw := <-reply:
		if raw[12] != stream.AIDEnter {
			t.Fatalf("reply AID = 0x%02X, want enter", raw[12])
		}
		wantField := append([]byte{stream.OrderSBA, 6, 11}, ebcdic(t, "QUSER")...)
		if !strings.Contains(string(raw), string(wantField)) {
			t.Fatalf("reply missing modified field: % X", raw)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("host never received the reply record")
	}

	if err := <-hostErr; err != nil {
		t.Fatalf("scripted host: %v", err)
	}

	if err := session.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if got := session.State(); got != StateDisconnected {
		t.Fatalf("state after disconnect = %s", got)
	}
	if err := session.Disconnect(); err != nil {
		t.Fatalf("second disconnect: %v", err)
	}
}

func TestSessionOperatorErrorAndReset(t *testing.T) {
	session, host := pipeSession(t)
	hostFramer := telnet.NewFramer(host)

	errorData := []byte{stream.ESC, stream.CmdWriteErrorCode}
	errorData = append(errorData, ebcdic(t, "CPF1107")...)
	errorRecord := stream.BuildRecord(stream.OpcodeOutputOnly, 0, errorData)

	go func() {
		if err := approveHandshake(host); err != nil {
			t.Errorf("scripted host: %v", err)
			return
		}
		if err := hostFramer.WriteRecord(signonRecord(t)); err != nil {
			t.Errorf("scripted host: %v", err)
			return
		}
		if err := hostFramer.WriteRecord(errorRecord); err != nil {
			t.Errorf("scripted host: %v", err)
		}
	}()

	if err := session.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer session.Disconnect()

	// The signon unlock may already have been superseded by the error
	// record, so poll the inhibit state rather than waiting for unlock.
	deadline := time.Now().Add(2 * time.Second)
	for session.Inhibit() != screen.InhibitOperatorError {
		if time.Now().After(deadline) {
			t.Fatalf("inhibit = %v, error record never applied", session.Inhibit())
		}
		time.Sleep(5 * time.Millisecond)
	}

	if got := session.ErrorLine(); got != "CPF1107" {
		t.Fatalf("error line = %q", got)
	}
	if err := session.SendKeys(stream.Enter{}); !errors.Is(err, ErrKeyboardLocked) {
		t.Fatalf("enter during error state err = %v, want keyboard locked", err)
	}

	if err := session.SendKeys(stream.Reset{}); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if got := session.Inhibit(); got != screen.InhibitNone {
		t.Fatalf("inhibit after reset = %v", got)
	}
	if got := session.ErrorLine(); got != "" {
		t.Fatalf("error line after reset = %q", got)
	}
}

func TestSessionKeyboardUnlockedEvent(t *testing.T) {
	session, host := pipeSession(t)
	hostFramer := telnet.NewFramer(host)

	record := signonRecord(t)
	go func() {
		if err := approveHandshake(host); err != nil {
			return
		}
		hostFramer.WriteRecord(record)
	}()

	if err := session.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !session.WaitForUnlock(2 * time.Second) {
		t.Fatal("keyboard never unlocked")
	}

	var sawUnlock, sawScreen bool
	for done := false; !done; {
		select {
		case ev := <-session.Events():
			switch ev.(type) {
			case KeyboardUnlocked:
				sawUnlock = true
			case ScreenChanged:
				sawScreen = true
			}
		default:
			done = true
		}
	}

	if !sawUnlock {
		t.Error("no KeyboardUnlocked event emitted")
	}
	if !sawScreen {
		t.Error("no ScreenChanged event emitted")
	}
}

func TestSessionSystemRequestHandler(t *testing.T) {
	session, host := pipeSession(t)
	hostFramer := telnet.NewFramer(host)

	seen := make(chan string, 1)
	session.SetRequestHandler(func(screenText string) (stream.KeyAction, bool) {
		seen <- screenText
		return stream.SystemRequest{Text: "90"}, true
	})

	record := signonRecord(t)
	interrupt := stream.BuildRecord(stream.OpcodeOutputOnly, uint16(stream.FlagSRQ)<<8, nil)

	reply := make(chan []byte, 1)
	hostErr := make(chan error, 1)
	go func() {
		hostErr <- func() error {
			if err := approveHandshake(host); err != nil {
				return err
			}
			if err := hostFramer.WriteRecord(record); err != nil {
				return err
			}
			if err := hostFramer.WriteRecord(interrupt); err != nil {
				return err
			}

			chunk, err := hostFramer.Next()
			if err != nil {
				return err
			}
			reply <- chunk.Record
			return nil
		}()
	}()

	if err := session.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	select {
	case text := <-seen:
		if !strings.Contains(text, "SIGNON") {
			t.Fatalf("handler screen text missing label:\n%s", text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("request handler never invoked")
	}

	select {
	case raw := <-reply:
		if raw[7] != stream.FlagSRQ {
			t.Fatalf("reply header flags = 0x%02X, want system request", raw[7])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("host never received the handler reply")
	}

	if err := <-hostErr; err != nil {
		t.Fatalf("scripted host: %v", err)
	}
}

func TestSessionSurvivesMalformedCommand(t *testing.T) {
	session, host := pipeSession(t)
	hostFramer := telnet.NewFramer(host)

	followUp := []byte{
		stream.ESC, stream.CmdWriteToDisplay,
		0x00, screen.CC2UnlockKeyboard,
		stream.OrderSBA, 10, 1,
	}
	followUp = append(followUp, ebcdic(t, "ALIVE")...)

	go func() {
		if err := approveHandshake(host); err != nil {
			t.Errorf("scripted host: %v", err)
			return
		}
		if err := hostFramer.WriteRecord(signonRecord(t)); err != nil {
			t.Errorf("scripted host: %v", err)
			return
		}
		// A malformed IAC sequence, then regular traffic.
		if _, err := host.Write([]byte{telnet.IAC, 0x50, 0x00}); err != nil {
			t.Errorf("scripted host: %v", err)
			return
		}
		if err := hostFramer.WriteRecord(stream.BuildRecord(stream.OpcodeInvite, 0, followUp)); err != nil {
			t.Errorf("scripted host: %v", err)
		}
	}()

	if err := session.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer session.Disconnect()

	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(session.ScreenText(), "ALIVE") {
		if time.Now().After(deadline) {
			t.Fatalf("record after malformed command never applied:\n%s", session.ScreenText())
		}
		time.Sleep(5 * time.Millisecond)
	}

	if got := session.State(); got != StateConnected {
		t.Fatalf("state = %s, want connected", got)
	}
	if got := session.DecodeErrors(); got != 1 {
		t.Fatalf("decode errors = %d, want 1", got)
	}
}

func TestSessionTransportFailureCarriesScreen(t *testing.T) {
	session, host := pipeSession(t)
	hostFramer := telnet.NewFramer(host)

	record := signonRecord(t)
	go func() {
		if err := approveHandshake(host); err != nil {
			return
		}
		hostFramer.WriteRecord(record)
	}()

	if err := session.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !session.WaitForUnlock(2 * time.Second) {
		t.Fatal("keyboard never unlocked")
	}

	// Host drops the connection out from under the session.
	host.Close()

	deadline := time.Now().Add(2 * time.Second)
	for session.State() != StateFailed {
		if time.Now().After(deadline) {
			t.Fatalf("state = %s, want failed", session.State())
		}
		time.Sleep(10 * time.Millisecond)
	}

	var transportErr *TransportError
	if !errors.As(session.LastError(), &transportErr) {
		t.Fatalf("last error = %v, want TransportError", session.LastError())
	}
	if !strings.Contains(transportErr.Screen, "SIGNON") {
		t.Fatal("transport error missing screen snapshot")
	}
}

func TestDisconnectDuringDialWins(t *testing.T) {
	local, remote := net.Pipe()
	t.Cleanup(func() {
		local.Close()
		remote.Close()
	})

	session, err := NewSession(testConfig())
	if err != nil {
		t.Fatal(err)
	}

	dialing := make(chan struct{})
	release := make(chan struct{})
	session.dial = func(context.Context, Config) (net.Conn, error) {
		close(dialing)
		<-release
		return local, nil
	}

	connectErr := make(chan error, 1)
	go func() {
		connectErr <- session.Connect(context.Background())
	}()

	<-dialing
	if err := session.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	close(release)

	var stateErr *StateError
	if err := <-connectErr; !errors.As(err, &stateErr) {
		t.Fatalf("connect err = %v, want StateError", err)
	}
	if got := session.State(); got != StateDisconnected {
		t.Fatalf("state = %s, want disconnected", got)
	}

	// The losing dial's connection must be closed, not leaked.
	remote.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := remote.Read(make([]byte, 1)); !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("read err = %v, want closed pipe", err)
	}
}

func TestSendKeysWhileDisconnected(t *testing.T) {
	session, err := NewSession(testConfig())
	if err != nil {
		t.Fatal(err)
	}

	var stateErr *StateError
	if err := session.SendKeys(stream.Enter{}); !errors.As(err, &stateErr) {
		t.Fatalf("err = %v, want StateError", err)
	}
	if stateErr.State != StateDisconnected {
		t.Fatalf("state in error = %s", stateErr.State)
	}
}
