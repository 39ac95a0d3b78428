package stream

import (
	"encoding/binary"

	"github.com/ecmumford/go5250/codepage"
	"github.com/ecmumford/go5250/screen"
)

// An Element is one decoded unit of a record: either a display order for
// the screen buffer or a session-level command.
type Element interface {
	element()
}

// Display wraps an order destined for the screen buffer.
type Display struct {
	Order screen.Order
}

type ReadKind byte

const (
	ReadMDT ReadKind = iota
	ReadInput
	ReadScreen
	ReadImmediate
)

// Read is the host inviting input: it unlocks the keyboard and tells the
// session what to send back when the next attention key fires.
type Read struct {
	Kind ReadKind
	CC1  byte
	CC2  byte
}

// SaveScreen asks the session to snapshot the display; RestoreScreen
// puts the snapshot back.
type SaveScreen struct{}
type RestoreScreen struct{}

// StructuredField carries a length-prefixed protocol extension payload.
// The decoder only validates framing; interpretation is the session's
// concern (and most classes are simply ignored).
type StructuredField struct {
	Class   byte
	Type    byte
	Payload []byte
}

// ErrorCode is host text for the error line.
type ErrorCode struct {
	Text string
}

func (Display) element()         {}
func (Read) element()            {}
func (SaveScreen) element()      {}
func (RestoreScreen) element()   {}
func (StructuredField) element() {}
func (ErrorCode) element()       {}

// A Message is everything decoded from one logical record. Errs holds
// the recoverable decode errors hit along the way; the elements present
// are still valid and must be applied so the session makes forward
// progress on malformed streams.
type Message struct {
	Opcode        byte
	SystemRequest bool
	Elements      []Element
	Errs          []*DecodeError
}

// A Decoder turns complete logical records into messages. It holds the
// session's code page for text translation and is not safe for
// concurrent use- each session owns one.
type Decoder struct {
	cp *codepage.CodePage
}

func NewDecoder(cp *codepage.CodePage) *Decoder {
	return &Decoder{cp: cp}
}

// DecodeRecord decodes one unescaped logical record. Malformed content
// never fails the whole call: the decoder records a DecodeError,
// resynchronizes to the next command escape and keeps going.
func (d *Decoder) DecodeRecord(raw []byte) Message {
	var msg Message

	rec, err := ParseRecord(raw)
	if err != nil {
		msg.Errs = append(msg.Errs, err.(*DecodeError))
		return msg
	}

	msg.Opcode = rec.Opcode
	msg.SystemRequest = rec.SystemRequest()

	switch rec.Opcode {
	case OpcodeMessageLightOn:
		msg.Elements = append(msg.Elements, Display{Order: screen.WriteToDisplay{CC2: screen.CC2MessageLightOn}})
	case OpcodeMessageLightOff:
		msg.Elements = append(msg.Elements, Display{Order: screen.WriteToDisplay{CC2: screen.CC2MessageLightOff}})
	}

	for rec.hasNext() {
		b, _ := rec.next()
		if b != ESC {
			msg.Errs = append(msg.Errs, newDecodeError(rec.pos-1, "expected command escape, got 0x%02X", b))
			rec.skipToCommand()
			continue
		}

		element, err := d.decodeCommand(rec)
		if err != nil {
			msg.Errs = append(msg.Errs, err)
			rec.skipToCommand()
		}
		if element != nil {
			msg.Elements = append(msg.Elements, element)
		}
	}

	return msg
}

func (d *Decoder) decodeCommand(rec *Record) (Element, *DecodeError) {
	cmd, err := rec.next()
	if err != nil {
		return nil, err.(*DecodeError)
	}

	switch cmd {
	case CmdWriteToDisplay:
		return d.decodeWrite(rec)

	case CmdClearUnit:
		return Display{Order: screen.ClearUnit{}}, nil

	case CmdClearUnitAlternate:
		param, err := rec.next()
		if err != nil {
			return nil, err.(*DecodeError)
		}
		return Display{Order: screen.ClearUnit{Wide: param != 0}}, nil

	case CmdClearFormatTable:
		return Display{Order: screen.WriteToDisplay{CC1: screen.CC1ClearFields}}, nil

	case CmdReadMDTFields, CmdReadMDTFieldsAlt, CmdReadInputFields, CmdReadScreen, CmdReadImmediate:
		return d.decodeRead(rec, cmd)

	case CmdRoll:
		return d.decodeRoll(rec)

	case CmdSaveScreen:
		return SaveScreen{}, nil

	case CmdRestoreScreen:
		return RestoreScreen{}, nil

	case CmdWriteErrorCode:
		return d.decodeErrorCode(rec), nil

	case CmdWriteStructuredField:
		return d.decodeStructuredField(rec)

	default:
		return nil, newDecodeError(rec.pos-1, "unrecognized command 0x%02X", cmd)
	}
}

func (d *Decoder) decodeRead(rec *Record, cmd byte) (Element, *DecodeError) {
	// Read-immediate carries no control characters on the wire.
	if cmd == CmdReadImmediate {
		return Read{Kind: ReadImmediate}, nil
	}

	params, err := rec.segment(2)
	if err != nil {
		return nil, err.(*DecodeError)
	}

	read := Read{CC1: params[0], CC2: params[1]}
	switch cmd {
	case CmdReadInputFields:
		read.Kind = ReadInput
	case CmdReadScreen:
		read.Kind = ReadScreen
	default:
		read.Kind = ReadMDT
	}

	return read, nil
}

func (d *Decoder) decodeRoll(rec *Record) (Element, *DecodeError) {
	params, err := rec.segment(3)
	if err != nil {
		return nil, err.(*DecodeError)
	}

	return Display{Order: screen.Roll{
		Up:     params[0]&0x80 != 0,
		Lines:  int(params[0] & 0x1F),
		Top:    int(params[1]) - 1,
		Bottom: int(params[2]) - 1,
	}}, nil
}

func (d *Decoder) decodeErrorCode(rec *Record) Element {
	var runes []rune
	for rec.hasNext() {
		b, _ := rec.peek()
		if b == ESC {
			break
		}
		rec.next()
		runes = append(runes, d.cp.Decode(b))
	}

	return ErrorCode{Text: string(runes)}
}

// decodeStructuredField parses one length-prefixed structured field. The
// length covers the entire field including its own two bytes; a length
// that runs past the record means the field was truncated in transit
// and cannot be parsed.
func (d *Decoder) decodeStructuredField(rec *Record) (Element, *DecodeError) {
	header, err := rec.segment(2)
	if err != nil {
		return nil, err.(*DecodeError)
	}

	length := int(binary.BigEndian.Uint16(header))
	if length < 4 {
		return nil, newDecodeError(rec.pos-2, "structured field length %d too short", length)
	}

	body, err := rec.segment(length - 2)
	if err != nil {
		return nil, newDecodeError(rec.pos, "structured field truncated: need %d bytes", length-2)
	}

	return StructuredField{
		Class:   body[0],
		Type:    body[1],
		Payload: body[2:],
	}, nil
}

func (d *Decoder) decodeWrite(rec *Record) (Element, *DecodeError) {
	ccs, err := rec.segment(2)
	if err != nil {
		return nil, err.(*DecodeError)
	}

	write := screen.WriteToDisplay{CC1: ccs[0], CC2: ccs[1]}

	for rec.hasNext() {
		b, _ := rec.peek()
		if b == ESC {
			break
		}

		op, opErr := d.decodeWriteOp(rec)
		if opErr != nil {
			// Surface the partial write- applying what decoded cleanly
			// keeps the screen moving forward past the damage.
			return Display{Order: write}, opErr
		}
		if op != nil {
			write.Ops = append(write.Ops, op)
		}
	}

	return Display{Order: write}, nil
}

func (d *Decoder) decodeWriteOp(rec *Record) (screen.WriteOp, *DecodeError) {
	b, err := rec.next()
	if err != nil {
		return nil, err.(*DecodeError)
	}

	// Bytes at 0x40 and above are display characters; 0x20-0x3F are
	// inline attributes; nulls write blank cells. Everything else is an
	// order code.
	if b >= 0x40 || b == 0x00 {
		rec.pos--
		return d.decodeText(rec), nil
	}
	if b >= 0x20 {
		return screen.SetAttribute{Attr: b}, nil
	}

	switch b {
	case OrderSBA:
		row, col, err := d.decodeAddress(rec)
		if err != nil {
			return nil, err
		}
		return screen.SetBufferAddress{Row: row, Col: col}, nil

	case OrderSF:
		return d.decodeStartOfField(rec)

	case OrderIC, OrderMC:
		row, col, err := d.decodeAddress(rec)
		if err != nil {
			return nil, err
		}
		return screen.InsertCursor{Row: row, Col: col}, nil

	case OrderRA:
		row, col, err := d.decodeAddress(rec)
		if err != nil {
			return nil, err
		}
		ch, chErr := rec.next()
		if chErr != nil {
			return nil, chErr.(*DecodeError)
		}
		return screen.RepeatToAddress{Row: row, Col: col, Ch: d.cp.Decode(ch)}, nil

	case OrderEA:
		row, col, err := d.decodeAddress(rec)
		if err != nil {
			return nil, err
		}
		return screen.EraseToAddress{Row: row, Col: col}, nil

	case OrderSOH:
		// Start-of-header carries operator information the buffer does
		// not model; consume its length-prefixed body and move on.
		lenByte, err := rec.next()
		if err != nil {
			return nil, err.(*DecodeError)
		}
		if _, err := rec.segment(int(lenByte)); err != nil {
			return nil, err.(*DecodeError)
		}
		return nil, nil

	case OrderTD:
		header, err := rec.segment(2)
		if err != nil {
			return nil, err.(*DecodeError)
		}
		body, err := rec.segment(int(binary.BigEndian.Uint16(header)))
		if err != nil {
			return nil, err.(*DecodeError)
		}
		runes := make([]rune, len(body))
		for i, tb := range body {
			runes[i] = d.cp.Decode(tb)
		}
		return screen.Text{Runes: runes}, nil

	default:
		return nil, newDecodeError(rec.pos-1, "unrecognized order 0x%02X", b)
	}
}

// decodeText consumes a run of display characters. Nulls become blank
// cells rather than terminating the run- hosts padding unset input
// fields send long runs of them.
func (d *Decoder) decodeText(rec *Record) screen.WriteOp {
	var runes []rune
	for rec.hasNext() {
		b, _ := rec.peek()
		if b != 0x00 && b < 0x40 {
			break
		}
		rec.next()

		if b == 0x00 {
			runes = append(runes, 0)
		} else {
			runes = append(runes, d.cp.Decode(b))
		}
	}

	return screen.Text{Runes: runes}
}

// decodeAddress reads a wire address (1-based row then column) and
// converts to the buffer's zero-based coordinates. Range checking
// belongs to the buffer, which knows its geometry.
func (d *Decoder) decodeAddress(rec *Record) (row, col int, _ *DecodeError) {
	addr, err := rec.segment(2)
	if err != nil {
		return 0, 0, err.(*DecodeError)
	}

	return int(addr[0]) - 1, int(addr[1]) - 1, nil
}

func (d *Decoder) decodeStartOfField(rec *Record) (screen.WriteOp, *DecodeError) {
	first, err := rec.peek()
	if err != nil {
		return nil, err.(*DecodeError)
	}

	sf := screen.StartOfField{}

	// An input field carries a two-byte format word identified by its
	// high bits; an output-only field goes straight to the attribute.
	if first&0xC0 == screen.FFW1Identifier {
		ffw, err := rec.segment(2)
		if err != nil {
			return nil, err.(*DecodeError)
		}
		sf.HasFFW = true
		sf.FFW1 = ffw[0]
		sf.FFW2 = ffw[1]
	}

	attr, err := rec.next()
	if err != nil {
		return nil, err.(*DecodeError)
	}
	sf.Attr = attr

	lenBytes, err := rec.segment(2)
	if err != nil {
		return nil, err.(*DecodeError)
	}
	sf.Length = int(binary.BigEndian.Uint16(lenBytes))

	return sf, nil
}
