package stream

import (
	"encoding/binary"
	"fmt"
)

// A Record is one logical 5250 record as delivered by the transport,
// with a read cursor over its display data. The transport strips
// IAC escaping and end-of-record framing before a Record is built, so
// positions here are plain offsets into the unescaped payload.
type Record struct {
	Opcode byte
	Flags  uint16

	data []byte
	pos  int
}

// ParseRecord validates the logical record header and returns a Record
// positioned at the start of display data.
func ParseRecord(raw []byte) (*Record, error) {
	if len(raw) < fixedHeaderLen+varHeaderLen {
		return nil, newDecodeError(0, "record shorter than header: %d bytes", len(raw))
	}

	if recType := binary.BigEndian.Uint16(raw[2:4]); recType != recordTypeGDS {
		return nil, newDecodeError(2, "record type 0x%04X, want 0x%04X", recType, recordTypeGDS)
	}

	varLen := int(raw[varHeaderOffset])
	if varLen < varHeaderLen || fixedHeaderLen+varLen > len(raw) {
		return nil, newDecodeError(varHeaderOffset, "variable header length %d exceeds record", varLen)
	}

	return &Record{
		Opcode: raw[opcodeOffset],
		Flags:  binary.BigEndian.Uint16(raw[varHeaderOffset+1 : varHeaderOffset+3]),
		data:   raw,
		pos:    fixedHeaderLen + varLen,
	}, nil
}

// SystemRequest reports whether the record's header flags carry the
// system request bit.
func (r *Record) SystemRequest() bool {
	return byte(r.Flags>>8)&FlagSRQ != 0
}

func (r *Record) hasNext() bool {
	return r.pos < len(r.data)
}

func (r *Record) next() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, newDecodeError(r.pos, "record truncated")
	}

	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *Record) peek() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, newDecodeError(r.pos, "record truncated")
	}

	return r.data[r.pos], nil
}

// segment returns n bytes and advances past them.
func (r *Record) segment(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.data) {
		return nil, newDecodeError(r.pos, "segment of %d bytes exceeds record", n)
	}

	seg := r.data[r.pos : r.pos+n]
	r.pos += n
	return seg, nil
}

// skipToCommand advances the cursor to the next ESC byte, or to the end
// of the record when none remains. This is the resynchronization point
// after a malformed order.
func (r *Record) skipToCommand() {
	for r.pos < len(r.data) && r.data[r.pos] != ESC {
		r.pos++
	}
}

// BuildRecord frames display data into a logical record: length,
// GDS type, variable header with flags and opcode. The transport layer
// still owes IAC escaping and the end-of-record mark.
func BuildRecord(opcode byte, flags uint16, data []byte) []byte {
	total := fixedHeaderLen + varHeaderLen + len(data)
	record := make([]byte, 0, total)

	record = binary.BigEndian.AppendUint16(record, uint16(total))
	record = binary.BigEndian.AppendUint16(record, recordTypeGDS)
	record = append(record, 0x00, 0x00)
	record = append(record, varHeaderLen)
	record = binary.BigEndian.AppendUint16(record, flags)
	record = append(record, opcode)
	record = append(record, data...)

	return record
}

// A DecodeError reports a malformed or unrecognized piece of inbound
// data stream. It is recoverable: the decoder resynchronizes to the
// next command boundary and the session continues.
type DecodeError struct {
	Pos int
	Msg string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("stream: decode error at offset %d: %s", e.Pos, e.Msg)
}

func newDecodeError(pos int, format string, args ...any) *DecodeError {
	return &DecodeError{Pos: pos, Msg: fmt.Sprintf(format, args...)}
}
