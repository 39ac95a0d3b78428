package telopts

import (
	"errors"
	"fmt"

	"github.com/ecmumford/go5250/telnet"
)

const CodeTTYPE telnet.OptionCode = 24

const (
	ttypeIS byte = iota
	ttypeSEND
)

// TerminalType24x80 and TerminalType27x132 are the workstation models
// hosts recognize for the two standard screen geometries. The color
// models are used so hosts send extended attributes.
const (
	TerminalType24x80  = "IBM-3179-2"
	TerminalType27x132 = "IBM-3477-FC"
)

// RegisterTTYPE returns the terminal-type option. The host cycles SEND
// requests to walk our list; we answer each with the next type and
// repeat the last entry once the list is exhausted.
func RegisterTTYPE(terminalTypes []string) telnet.Option {
	return &TTYPE{
		terminalTypes: terminalTypes,
	}
}

type TTYPE struct {
	telnet.BaseOption

	terminalTypes []string
	cursor        int
}

var _ telnet.Option = &TTYPE{}

func (o *TTYPE) Code() telnet.OptionCode {
	return CodeTTYPE
}

func (o *TTYPE) String() string {
	return "TTYPE"
}

func (o *TTYPE) TransitionLocal(newState telnet.OptionState) error {
	if err := o.BaseOption.TransitionLocal(newState); err != nil {
		return err
	}

	if newState == telnet.OptionInactive {
		o.cursor = 0
	}

	return nil
}

func (o *TTYPE) writeTerminalType(terminalType string) error {
	subnegotiation := make([]byte, 0, len(terminalType)+1)
	subnegotiation = append(subnegotiation, ttypeIS)
	subnegotiation = append(subnegotiation, []byte(terminalType)...)

	return o.Negotiator().WriteCommand(telnet.Command{
		OpCode:         telnet.SB,
		Option:         CodeTTYPE,
		Subnegotiation: subnegotiation,
	})
}

func (o *TTYPE) Subnegotiate(subnegotiation []byte) error {
	if len(subnegotiation) < 1 {
		return errors.New("ttype: received empty subnegotiation")
	}

	if subnegotiation[0] != ttypeSEND {
		return fmt.Errorf("ttype: unknown subnegotiation: %+v", subnegotiation)
	}

	if o.LocalState() != telnet.OptionActive {
		return nil
	}

	o.Negotiator().EnterDeviceIdentification()

	if len(o.terminalTypes) == 0 {
		return o.writeTerminalType("UNKNOWN")
	}

	if o.cursor >= len(o.terminalTypes) {
		// Resend the last entry until the host stops asking
		return o.writeTerminalType(o.terminalTypes[len(o.terminalTypes)-1])
	}

	terminalType := o.terminalTypes[o.cursor]
	o.cursor++

	return o.writeTerminalType(terminalType)
}
