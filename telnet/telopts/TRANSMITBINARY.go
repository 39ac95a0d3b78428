package telopts

import (
	"fmt"

	"github.com/ecmumford/go5250/telnet"
)

const CodeTRANSMITBINARY telnet.OptionCode = 0

// RegisterTRANSMITBINARY returns the binary transmission option. 5250
// records are raw EBCDIC and cannot survive NVT ASCII rules, so this
// option is mandatory in both directions.
func RegisterTRANSMITBINARY() telnet.Option {
	return &TRANSMITBINARY{}
}

type TRANSMITBINARY struct {
	telnet.BaseOption
}

var _ telnet.Option = &TRANSMITBINARY{}

func (o *TRANSMITBINARY) Code() telnet.OptionCode {
	return CodeTRANSMITBINARY
}

func (o *TRANSMITBINARY) String() string {
	return "TRANSMIT-BINARY"
}

func (o *TRANSMITBINARY) Mandatory() bool {
	return true
}

func (o *TRANSMITBINARY) Subnegotiate(subnegotiation []byte) error {
	return fmt.Errorf("transmit-binary: unknown subnegotiation: %+v", subnegotiation)
}
