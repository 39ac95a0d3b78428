package telnet_test

import (
	"bytes"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/ecmumford/go5250/telnet"
	"github.com/ecmumford/go5250/telnet/telopts"
)

func fullStack() (telnet.Preferences, []telnet.Option) {
	prefs := telnet.Preferences{
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
	}

	options := []telnet.Option{
		telopts.RegisterTRANSMITBINARY(),
		telopts.RegisterEOR(),
		telopts.RegisterTTYPE([]string{telopts.TerminalType24x80}),
		telopts.RegisterNEWENVIRON(map[string]string{"DEVNAME": "GOTERM01"}),
	}

	return prefs, options
}

// readCommands consumes n three-byte negotiation commands and returns
// them as a set for order-insensitive assertions.
func readCommands(t *testing.T, conn net.Conn, n int) map[[3]byte]struct{} {
	t.Helper()

	buf := make([]byte, n*3)
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Errorf("reading %d commands: %v", n, err)
		return nil
	}

	commands := make(map[[3]byte]struct{}, n)
	for i := 0; i < n; i++ {
		commands[[3]byte{buf[i*3], buf[i*3+1], buf[i*3+2]}] = struct{}{}
	}
	return commands
}

func expectCommand(t *testing.T, commands map[[3]byte]struct{}, opCode byte, option byte) {
	t.Helper()

	if _, found := commands[[3]byte{telnet.IAC, opCode, option}]; !found {
		t.Errorf("peer never received IAC %d %d; got %v", opCode, option, commands)
	}
}

func TestNegotiationHandshake(t *testing.T) {
	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	prefs, options := fullStack()
	negotiator := telnet.NewNegotiator(telnet.NewFramer(local), prefs, nil, options...)

	hostErr := make(chan error, 1)
	go func() {
		hostErr <- func() error {
			commands := readCommands(t, remote, 6)
			expectCommand(t, commands, telnet.WILL, byte(telopts.CodeTRANSMITBINARY))
			expectCommand(t, commands, telnet.WILL, byte(telopts.CodeEOR))
			expectCommand(t, commands, telnet.WILL, byte(telopts.CodeTTYPE))
			expectCommand(t, commands, telnet.WILL, byte(telopts.CodeNEWENVIRON))
			expectCommand(t, commands, telnet.DO, byte(telopts.CodeTRANSMITBINARY))
			expectCommand(t, commands, telnet.DO, byte(telopts.CodeEOR))

			approvals := []byte{
				telnet.IAC, telnet.DO, byte(telopts.CodeTRANSMITBINARY),
				telnet.IAC, telnet.DO, byte(telopts.CodeEOR),
				telnet.IAC, telnet.DO, byte(telopts.CodeTTYPE),
				telnet.IAC, telnet.DO, byte(telopts.CodeNEWENVIRON),
				telnet.IAC, telnet.WILL, byte(telopts.CodeTRANSMITBINARY),
			}
			if _, err := remote.Write(approvals); err != nil {
				return err
			}

			// Ask for the terminal type.
			if _, err := remote.Write([]byte{telnet.IAC, telnet.SB, byte(telopts.CodeTTYPE), 1, telnet.IAC, telnet.SE}); err != nil {
				return err
			}

			reply := make([]byte, 16)
			if _, err := io.ReadFull(remote, reply); err != nil {
				return err
			}
			wantReply := append([]byte{telnet.IAC, telnet.SB, byte(telopts.CodeTTYPE), 0}, []byte(telopts.TerminalType24x80)...)
			wantReply = append(wantReply, telnet.IAC, telnet.SE)
			if !bytes.Equal(reply, wantReply) {
				t.Errorf("terminal type reply = %v, want %v", reply, wantReply)
			}

			// Ask for the whole environment.
			if _, err := remote.Write([]byte{telnet.IAC, telnet.SB, byte(telopts.CodeNEWENVIRON), 1, telnet.IAC, telnet.SE}); err != nil {
				return err
			}

			envReply := make([]byte, 23)
			if _, err := io.ReadFull(remote, envReply); err != nil {
				return err
			}
			if !bytes.Contains(envReply, []byte("DEVNAME")) || !bytes.Contains(envReply, []byte("GOTERM01")) {
				t.Errorf("environment reply missing device name: %v", envReply)
			}

			_, err := remote.Write([]byte{telnet.IAC, telnet.WILL, byte(telopts.CodeEOR)})
			return err
		}()
	}()

	if err := negotiator.Run(5*time.Second, local.SetReadDeadline); err != nil {
		t.Fatalf("negotiation failed: %v", err)
	}
	if negotiator.Phase() != telnet.PhaseReady {
		t.Fatalf("phase = %s, want ready", negotiator.Phase())
	}
	if record := negotiator.PendingRecord(); record != nil {
		t.Fatalf("unexpected pending record: %v", record)
	}

	if err := <-hostErr; err != nil {
		t.Fatalf("scripted host: %v", err)
	}
}

func TestNegotiationStashesEarlyRecord(t *testing.T) {
	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	prefs := telnet.Preferences{
		RequestLocal: []telnet.OptionCode{
			telopts.CodeTRANSMITBINARY,
			telopts.CodeEOR,
			telopts.CodeTTYPE,
		},
		RequestRemote: []telnet.OptionCode{
			telopts.CodeTRANSMITBINARY,
			telopts.CodeEOR,
		},
	}
	options := []telnet.Option{
		telopts.RegisterTRANSMITBINARY(),
		telopts.RegisterEOR(),
		telopts.RegisterTTYPE([]string{telopts.TerminalType24x80}),
	}

	negotiator := telnet.NewNegotiator(telnet.NewFramer(local), prefs, nil, options...)

	record := []byte{0x00, 0x0A, 0x12, 0xA0}
	hostErr := make(chan error, 1)
	go func() {
		hostErr <- func() error {
			readCommands(t, remote, 5)

			// Approve everything except terminal type, then start
			// talking 5250 without waiting.
			script := []byte{
				telnet.IAC, telnet.DO, byte(telopts.CodeTRANSMITBINARY),
				telnet.IAC, telnet.DO, byte(telopts.CodeEOR),
				telnet.IAC, telnet.WILL, byte(telopts.CodeTRANSMITBINARY),
				telnet.IAC, telnet.WILL, byte(telopts.CodeEOR),
			}
			script = append(script, record...)
			script = append(script, telnet.IAC, telnet.EOR)

			_, err := remote.Write(script)
			return err
		}()
	}()

	if err := negotiator.Run(5*time.Second, local.SetReadDeadline); err != nil {
		t.Fatalf("negotiation failed: %v", err)
	}
	if got := negotiator.PendingRecord(); !bytes.Equal(got, record) {
		t.Fatalf("pending record = %v, want %v", got, record)
	}
	if negotiator.PendingRecord() != nil {
		t.Fatal("pending record should only be delivered once")
	}

	if err := <-hostErr; err != nil {
		t.Fatalf("scripted host: %v", err)
	}
}

func TestNegotiationMandatoryRefusalFails(t *testing.T) {
	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	prefs := telnet.Preferences{
		RequestLocal:  []telnet.OptionCode{telopts.CodeTRANSMITBINARY},
		RequestRemote: []telnet.OptionCode{telopts.CodeTRANSMITBINARY},
	}
	negotiator := telnet.NewNegotiator(telnet.NewFramer(local), prefs, nil, telopts.RegisterTRANSMITBINARY())

	go func() {
		readCommands(t, remote, 2)
		remote.Write([]byte{telnet.IAC, telnet.DONT, byte(telopts.CodeTRANSMITBINARY)})
	}()

	err := negotiator.Run(5*time.Second, local.SetReadDeadline)

	var rejected *telnet.OptionRejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("err = %v, want OptionRejectedError", err)
	}
	if rejected.Option != "TRANSMIT-BINARY" {
		t.Fatalf("rejected option = %q", rejected.Option)
	}
	if negotiator.Phase() != telnet.PhaseFailed {
		t.Fatalf("phase = %s, want failed", negotiator.Phase())
	}
}

func TestNegotiationRejectsUnknownOptionWithoutFailing(t *testing.T) {
	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	prefs := telnet.Preferences{
		RequestLocal:  []telnet.OptionCode{telopts.CodeTRANSMITBINARY, telopts.CodeEOR},
		RequestRemote: []telnet.OptionCode{telopts.CodeTRANSMITBINARY, telopts.CodeEOR},
	}
	options := []telnet.Option{
		telopts.RegisterTRANSMITBINARY(),
		telopts.RegisterEOR(),
	}
	negotiator := telnet.NewNegotiator(telnet.NewFramer(local), prefs, nil, options...)

	hostErr := make(chan error, 1)
	go func() {
		hostErr <- func() error {
			readCommands(t, remote, 4)

			// Offer something the engine has no handler for.
			if _, err := remote.Write([]byte{telnet.IAC, telnet.WILL, 70}); err != nil {
				return err
			}

			refusal := make([]byte, 3)
			if _, err := io.ReadFull(remote, refusal); err != nil {
				return err
			}
			if !bytes.Equal(refusal, []byte{telnet.IAC, telnet.DONT, 70}) {
				t.Errorf("refusal = %v, want IAC DONT 70", refusal)
			}

			_, err := remote.Write([]byte{
				telnet.IAC, telnet.DO, byte(telopts.CodeTRANSMITBINARY),
				telnet.IAC, telnet.DO, byte(telopts.CodeEOR),
				telnet.IAC, telnet.WILL, byte(telopts.CodeTRANSMITBINARY),
				telnet.IAC, telnet.WILL, byte(telopts.CodeEOR),
			})
			return err
		}()
	}()

	if err := negotiator.Run(5*time.Second, local.SetReadDeadline); err != nil {
		t.Fatalf("negotiation failed: %v", err)
	}
	if negotiator.Phase() != telnet.PhaseReady {
		t.Fatalf("phase = %s, want ready", negotiator.Phase())
	}

	if err := <-hostErr; err != nil {
		t.Fatalf("scripted host: %v", err)
	}
}

func TestNegotiationTimeout(t *testing.T) {
	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	prefs := telnet.Preferences{
		RequestLocal: []telnet.OptionCode{telopts.CodeTRANSMITBINARY},
	}
	negotiator := telnet.NewNegotiator(telnet.NewFramer(local), prefs, nil, telopts.RegisterTRANSMITBINARY())

	// Consume the request and then go silent.
	go io.ReadFull(remote, make([]byte, 3))

	err := negotiator.Run(100*time.Millisecond, local.SetReadDeadline)
	if !errors.Is(err, telnet.ErrNegotiationTimeout) {
		t.Fatalf("err = %v, want negotiation timeout", err)
	}
}
