package stream

import (
	"errors"
	"fmt"

	"github.com/ecmumford/go5250/codepage"
	"github.com/ecmumford/go5250/screen"
)

var ErrInputTooLong = errors.New("stream: input exceeds field length")

// OverflowPolicy decides what happens to input that does not fit its
// destination field. Only FieldInput consults it.
type OverflowPolicy byte

const (
	// OverflowTruncate keeps the prefix that fits and drops the rest.
	OverflowTruncate OverflowPolicy = iota
	// OverflowError rejects the whole input with ErrInputTooLong.
	OverflowError
)

// A KeyAction is one logical keystroke handed to the session. Actions
// either carry an attention identifier (they end the input cycle and go
// to the host) or act locally on the screen buffer.
type KeyAction interface {
	keyAction()
}

// AIDKey sends a raw attention identifier.
type AIDKey struct {
	Code byte
}

// FunctionKey sends function key N (1 through 24).
type FunctionKey struct {
	N int
}

// Enter sends the enter key.
type Enter struct{}

// Clear sends the clear key.
type Clear struct{}

// RollPage pages the display (the roll-up / roll-down keys).
type RollPage struct {
	Up bool
}

// CharacterInput types text into the field under the cursor. It is
// purely local: nothing reaches the host until an attention key fires.
type CharacterInput struct {
	Text string
}

// CursorMove repositions the cursor locally.
type CursorMove struct {
	Row int
	Col int
}

// Reset clears an operator-error lock locally, like the 5250 reset key.
type Reset struct{}

// SystemRequest raises the system request interrupt, optionally with
// request text for the host's system request menu.
type SystemRequest struct {
	Text string
}

func (AIDKey) keyAction()         {}
func (FunctionKey) keyAction()    {}
func (Enter) keyAction()          {}
func (Clear) keyAction()          {}
func (RollPage) keyAction()       {}
func (CharacterInput) keyAction() {}
func (CursorMove) keyAction()     {}
func (Reset) keyAction()          {}
func (SystemRequest) keyAction()  {}

// Local reports whether the action mutates only local state and
// produces no outbound record.
func Local(action KeyAction) bool {
	switch action.(type) {
	case CharacterInput, CursorMove, Reset:
		return true
	default:
		return false
	}
}

// An Encoder builds outbound records for one session. It owns the
// session's overflow policy and counts the characters it had to
// substitute because the code page could not express them. Not safe for
// concurrent use.
type Encoder struct {
	cp       *codepage.CodePage
	overflow OverflowPolicy

	substituted int
}

func NewEncoder(cp *codepage.CodePage, overflow OverflowPolicy) *Encoder {
	return &Encoder{cp: cp, overflow: overflow}
}

// Substituted returns how many outbound characters were replaced with
// the code page substitute byte so far.
func (e *Encoder) Substituted() int {
	return e.substituted
}

// encodeByte translates one rune, substituting and counting when the
// code page has no mapping.
func (e *Encoder) encodeByte(r rune) byte {
	if r == 0 {
		return 0x00
	}

	b, err := e.cp.Encode(r)
	if err != nil {
		e.substituted++
		return codepage.SubstituteByte
	}

	return b
}

// FieldInput applies typed text to the field under the buffer's cursor,
// honoring the overflow policy. The caller holds whatever lock guards
// the buffer.
func (e *Encoder) FieldInput(buf *screen.Buffer, text string) error {
	row, col := buf.Cursor()
	field := buf.FieldAt(row, col)
	if field == nil {
		return fmt.Errorf("stream: no input field at cursor (%d,%d)", row, col)
	}
	if field.Protected() {
		return fmt.Errorf("stream: field %d at cursor is protected", field.Index())
	}

	runes := []rune(text)
	if len(runes) > field.Length() {
		if e.overflow == OverflowError {
			return fmt.Errorf("%w: %d runes into field of %d", ErrInputTooLong, len(runes), field.Length())
		}
		runes = runes[:field.Length()]
	}

	return buf.SetFieldValue(field.Index(), string(runes))
}

// EncodeAction produces the outbound record for an attention-bearing
// action: the cursor address, the attention identifier and, for
// data-bearing keys, the field contents the outstanding read command
// asked for. Sessions with no read outstanding pass ReadMDT, the
// modified-fields default. Local actions produce no record and must not
// be passed here.
func (e *Encoder) EncodeAction(action KeyAction, kind ReadKind, buf *screen.Buffer) ([]byte, error) {
	aid, flags, err := e.resolveAID(action)
	if err != nil {
		return nil, err
	}

	row, col := buf.Cursor()
	data := []byte{byte(row + 1), byte(col + 1), aid}

	if sendsFieldData(aid) {
		data = append(data, e.encodeFieldData(kind, buf)...)
	}

	if sr, ok := action.(SystemRequest); ok && sr.Text != "" {
		for _, r := range sr.Text {
			data = append(data, e.encodeByte(r))
		}
	}

	return BuildRecord(OpcodePutGet, flags, data), nil
}

// EncodeReadReply answers an explicit host read. Read-screen dumps the
// rendered buffer; the field reads reply with field data exactly like
// an attention key does.
func (e *Encoder) EncodeReadReply(kind ReadKind, aid byte, buf *screen.Buffer) []byte {
	row, col := buf.Cursor()
	data := []byte{byte(row + 1), byte(col + 1), aid}

	if kind == ReadScreen {
		for r := 0; r < buf.Rows(); r++ {
			for _, ch := range buf.RowText(r) {
				data = append(data, e.encodeByte(ch))
			}
		}
	} else {
		data = append(data, e.encodeFieldData(kind, buf)...)
	}

	return BuildRecord(OpcodePutGet, 0, data)
}

// encodeFieldData selects the reply payload the read command asked for.
// Read-input sends every unprotected field regardless of its Modified
// Data Tag; everything else sends modified fields only.
func (e *Encoder) encodeFieldData(kind ReadKind, buf *screen.Buffer) []byte {
	if kind == ReadInput {
		return e.encodeFields(inputFields(buf))
	}

	return e.encodeFields(buf.ModifiedFields())
}

func inputFields(buf *screen.Buffer) []*screen.Field {
	var fields []*screen.Field
	for _, f := range buf.Fields() {
		if !f.Protected() {
			fields = append(fields, f)
		}
	}

	return fields
}

// encodeFields emits a set-buffer-address order and the field contents
// for each field, in format table order. Trailing nulls are stripped-
// the host re-pads to field length.
func (e *Encoder) encodeFields(fields []*screen.Field) []byte {
	var out []byte

	for _, field := range fields {
		out = append(out, OrderSBA, byte(field.StartRow()+1), byte(field.StartCol()+1))

		value := []rune(field.Value())
		end := len(value)
		for end > 0 && (value[end-1] == ' ' || value[end-1] == 0) {
			end--
		}

		for _, r := range value[:end] {
			out = append(out, e.encodeByte(r))
		}
	}

	return out
}

func (e *Encoder) resolveAID(action KeyAction) (aid byte, flags uint16, err error) {
	switch a := action.(type) {
	case AIDKey:
		return a.Code, 0, nil
	case Enter:
		return AIDEnter, 0, nil
	case Clear:
		return AIDClear, 0, nil
	case RollPage:
		if a.Up {
			return AIDRollUp, 0, nil
		}
		return AIDRollDown, 0, nil
	case FunctionKey:
		code, ok := AIDFunctionKey(a.N)
		if !ok {
			return 0, 0, fmt.Errorf("stream: no such function key %d", a.N)
		}
		return code, 0, nil
	case SystemRequest:
		return AIDEnter, uint16(FlagSRQ) << 8, nil
	default:
		return 0, 0, fmt.Errorf("stream: action %T carries no attention identifier", action)
	}
}

// sendsFieldData reports whether an attention identifier carries the
// modified fields with it. The clear, help and roll keys send the AID
// alone.
func sendsFieldData(aid byte) bool {
	switch aid {
	case AIDClear, AIDHelp, AIDRollUp, AIDRollDown, AIDPrint, AIDRecordBackspace:
		return false
	default:
		return true
	}
}
