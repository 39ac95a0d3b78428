package telopts

import (
	"fmt"

	"github.com/ecmumford/go5250/telnet"
)

const CodeEOR telnet.OptionCode = 25

// RegisterEOR returns the end-of-record option. Record framing depends
// on IAC EOR marks, so the session cannot run without it on both sides.
func RegisterEOR() telnet.Option {
	return &EOR{}
}

type EOR struct {
	telnet.BaseOption
}

var _ telnet.Option = &EOR{}

func (o *EOR) Code() telnet.OptionCode {
	return CodeEOR
}

func (o *EOR) String() string {
	return "EOR"
}

func (o *EOR) Mandatory() bool {
	return true
}

func (o *EOR) Subnegotiate(subnegotiation []byte) error {
	return fmt.Errorf("eor: unknown subnegotiation: %+v", subnegotiation)
}
