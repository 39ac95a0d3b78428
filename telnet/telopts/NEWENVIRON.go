package telopts

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ecmumford/go5250/telnet"
)

const CodeNEWENVIRON telnet.OptionCode = 39

const (
	newenvironIS byte = iota
	newenvironSEND
	newenvironINFO
)

const (
	newenvironVAR byte = iota
	newenvironVALUE
	newenvironESC
	newenvironUSERVAR
)

// newenvironWellKnownVars are the RFC 1572 variables transmitted with
// the VAR token rather than USERVAR.
var newenvironWellKnownVars = map[string]struct{}{
	"USER":       {},
	"JOB":        {},
	"ACCT":       {},
	"PRINTER":    {},
	"SYSTEMTYPE": {},
	"DISPLAY":    {},
}

// RegisterNEWENVIRON returns the environment option carrying the
// enhanced-session variables. DEVNAME is the one hosts act on: it names
// the virtual device the host creates for this session. Anything else
// in vars (KBDTYPE, CODEPAGE, CHARSET) rides along as a USERVAR.
func RegisterNEWENVIRON(vars map[string]string) telnet.Option {
	option := &NEWENVIRON{
		vars: make(map[string]string, len(vars)),
	}

	for key, value := range vars {
		option.vars[key] = value
	}

	return option
}

type NEWENVIRON struct {
	telnet.BaseOption

	vars map[string]string
}

var _ telnet.Option = &NEWENVIRON{}

func (o *NEWENVIRON) Code() telnet.OptionCode {
	return CodeNEWENVIRON
}

func (o *NEWENVIRON) String() string {
	return "NEW-ENVIRON"
}

func encodeText(buffer *bytes.Buffer, text string) {
	for _, b := range []byte(text) {
		if b <= newenvironUSERVAR {
			buffer.WriteByte(newenvironESC)
		}

		buffer.WriteByte(b)
	}
}

func decodeText(buffer []byte) (int, string) {
	var text bytes.Buffer

	var index int
	for index = 0; index < len(buffer); index++ {
		b := buffer[index]
		if b == newenvironESC {
			index++
			if index >= len(buffer) {
				break
			}
		} else if b <= newenvironUSERVAR {
			break
		}

		text.WriteByte(buffer[index])
	}

	return index, text.String()
}

func tokenFor(key string) byte {
	if _, wellKnown := newenvironWellKnownVars[key]; wellKnown {
		return newenvironVAR
	}
	return newenvironUSERVAR
}

// requestedKeys parses the body of a SEND. An empty body, or a VAR or
// USERVAR token with no name after it, means "everything you have".
func (o *NEWENVIRON) requestedKeys(subnegotiation []byte) []string {
	if len(subnegotiation) == 0 {
		return o.allKeys()
	}

	var keys []string
	var index int
	for index < len(subnegotiation) {
		token := subnegotiation[index]
		index++

		if token != newenvironVAR && token != newenvironUSERVAR {
			continue
		}

		keySize, key := decodeText(subnegotiation[index:])
		index += keySize

		if keySize == 0 {
			return o.allKeys()
		}

		keys = append(keys, key)
	}

	return keys
}

func (o *NEWENVIRON) allKeys() []string {
	keys := make([]string, 0, len(o.vars))
	for key := range o.vars {
		keys = append(keys, key)
	}
	return keys
}

func (o *NEWENVIRON) writeIS(keys []string) error {
	var estimatedSize int
	for key, value := range o.vars {
		estimatedSize += len(key) + len(value)
	}

	buffer := bytes.NewBuffer(make([]byte, 0, estimatedSize*2))
	buffer.WriteByte(newenvironIS)

	for _, key := range keys {
		value, hasValue := o.vars[key]
		if !hasValue {
			// Name the variable with no VALUE so the host gets a
			// definite "not defined" instead of silence.
			buffer.WriteByte(tokenFor(key))
			encodeText(buffer, key)
			continue
		}

		buffer.WriteByte(tokenFor(key))
		encodeText(buffer, key)
		buffer.WriteByte(newenvironVALUE)
		encodeText(buffer, value)
	}

	return o.Negotiator().WriteCommand(telnet.Command{
		OpCode:         telnet.SB,
		Option:         CodeNEWENVIRON,
		Subnegotiation: buffer.Bytes(),
	})
}

func (o *NEWENVIRON) Subnegotiate(subnegotiation []byte) error {
	if len(subnegotiation) == 0 {
		return errors.New("new-environ: received empty subnegotiation")
	}

	if subnegotiation[0] != newenvironSEND {
		return fmt.Errorf("new-environ: unknown subnegotiation: %+v", subnegotiation)
	}

	if o.LocalState() != telnet.OptionActive {
		return nil
	}

	o.Negotiator().EnterDeviceIdentification()

	return o.writeIS(o.requestedKeys(subnegotiation[1:]))
}
