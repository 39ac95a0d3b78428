package stream

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ecmumford/go5250/screen"
)

func inputBuffer(t *testing.T) *screen.Buffer {
	t.Helper()
	buf, err := screen.NewBuffer(24, 80)
	if err != nil {
		t.Fatal(err)
	}

	_, err = buf.Apply(screen.WriteToDisplay{
		CC2: screen.CC2UnlockKeyboard,
		Ops: []screen.WriteOp{
			screen.SetBufferAddress{Row: 5, Col: 9},
			screen.StartOfField{FFW1: screen.FFW1Identifier, Attr: screen.AttrBase, Length: 8, HasFFW: true},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	return buf
}

func TestEncodeEnterWithModifiedField(t *testing.T) {
	page := testPage(t)
	e := NewEncoder(page, OverflowTruncate)
	buf := inputBuffer(t)

	if err := buf.SetFieldValue(0, "QUSER"); err != nil {
		t.Fatal(err)
	}
	if err := buf.SetCursor(5, 15); err != nil {
		t.Fatal(err)
	}

	record, err := e.EncodeAction(Enter{}, ReadMDT, buf)
	if err != nil {
		t.Fatalf("EncodeAction: %v", err)
	}

	// Reparse our own header to find the data start.
	rec, perr := ParseRecord(record)
	if perr != nil {
		t.Fatalf("ParseRecord: %v", perr)
	}
	if rec.Opcode != OpcodePutGet {
		t.Errorf("opcode = 0x%02X", rec.Opcode)
	}

	data := record[fixedHeaderLen+varHeaderLen:]
	if data[0] != 6 || data[1] != 16 {
		t.Errorf("cursor address = (%d,%d), want (6,16)", data[0], data[1])
	}
	if data[2] != AIDEnter {
		t.Errorf("aid = 0x%02X, want enter", data[2])
	}
	if data[3] != OrderSBA || data[4] != 6 || data[5] != 11 {
		t.Errorf("field header = % X, want SBA 6 11", data[3:6])
	}

	want := ebcdic(t, page, "QUSER")
	if !bytes.Equal(data[6:], want) {
		t.Errorf("field data = % X, want % X", data[6:], want)
	}
}

func TestEncodeClearSendsNoFieldData(t *testing.T) {
	e := NewEncoder(testPage(t), OverflowTruncate)
	buf := inputBuffer(t)

	if err := buf.SetFieldValue(0, "JUNK"); err != nil {
		t.Fatal(err)
	}

	record, err := e.EncodeAction(Clear{}, ReadMDT, buf)
	if err != nil {
		t.Fatalf("EncodeAction: %v", err)
	}

	data := record[fixedHeaderLen+varHeaderLen:]
	if len(data) != 3 {
		t.Fatalf("data length = %d, want cursor+aid only", len(data))
	}
	if data[2] != AIDClear {
		t.Errorf("aid = 0x%02X", data[2])
	}
}

func TestEncodeReadInputSendsUnmodifiedFields(t *testing.T) {
	page := testPage(t)
	e := NewEncoder(page, OverflowTruncate)
	buf, err := screen.NewBuffer(24, 80)
	if err != nil {
		t.Fatal(err)
	}

	_, err = buf.Apply(screen.WriteToDisplay{
		CC2: screen.CC2UnlockKeyboard,
		Ops: []screen.WriteOp{
			screen.SetBufferAddress{Row: 5, Col: 9},
			screen.StartOfField{FFW1: screen.FFW1Identifier, Attr: screen.AttrBase, Length: 8, HasFFW: true},
			screen.SetBufferAddress{Row: 7, Col: 9},
			screen.StartOfField{FFW1: screen.FFW1Identifier, Attr: screen.AttrBase, Length: 4, HasFFW: true},
			screen.SetBufferAddress{Row: 9, Col: 9},
			screen.StartOfField{FFW1: screen.FFW1Identifier | screen.FFW1Bypass, Attr: screen.AttrBase, Length: 4, HasFFW: true},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := buf.SetFieldValue(0, "QUSER"); err != nil {
		t.Fatal(err)
	}

	record, err := e.EncodeAction(Enter{}, ReadInput, buf)
	if err != nil {
		t.Fatalf("EncodeAction: %v", err)
	}

	data := record[fixedHeaderLen+varHeaderLen:]
	if !bytes.Contains(data, []byte{OrderSBA, 6, 11}) {
		t.Errorf("reply % X missing the modified field", data)
	}
	if !bytes.Contains(data, []byte{OrderSBA, 8, 11}) {
		t.Errorf("reply % X missing the untouched input field", data)
	}
	if bytes.Contains(data, []byte{OrderSBA, 10, 11}) {
		t.Errorf("reply % X must not carry the bypass field", data)
	}
}

func TestFieldInputOverflowPolicies(t *testing.T) {
	page := testPage(t)

	t.Run("truncate", func(t *testing.T) {
		e := NewEncoder(page, OverflowTruncate)
		buf := inputBuffer(t)

		if err := e.FieldInput(buf, "TOOLONGVALUE"); err != nil {
			t.Fatalf("FieldInput: %v", err)
		}

		field, err := buf.Field(0)
		if err != nil {
			t.Fatal(err)
		}
		if got := field.Value(); got != "TOOLONGV" {
			t.Errorf("field value = %q, want truncated to 8", got)
		}
	})

	t.Run("error", func(t *testing.T) {
		e := NewEncoder(page, OverflowError)
		buf := inputBuffer(t)

		err := e.FieldInput(buf, "TOOLONGVALUE")
		if !errors.Is(err, ErrInputTooLong) {
			t.Fatalf("error = %v, want ErrInputTooLong", err)
		}
		if len(buf.ModifiedFields()) != 0 {
			t.Error("rejected input must not modify the field")
		}
	})
}

func TestFieldInputOutsideField(t *testing.T) {
	e := NewEncoder(testPage(t), OverflowTruncate)
	buf := inputBuffer(t)

	if err := buf.SetCursor(20, 0); err != nil {
		t.Fatal(err)
	}
	if err := e.FieldInput(buf, "X"); err == nil {
		t.Fatal("expected input outside any field to fail")
	}
}

func TestEncodeSubstitutesUnmappable(t *testing.T) {
	e := NewEncoder(testPage(t), OverflowTruncate)
	buf := inputBuffer(t)

	if err := buf.SetFieldValue(0, "A→B"); err != nil {
		t.Fatal(err)
	}

	record, err := e.EncodeAction(Enter{}, ReadMDT, buf)
	if err != nil {
		t.Fatalf("EncodeAction: %v", err)
	}
	if e.Substituted() != 1 {
		t.Errorf("substituted = %d, want 1", e.Substituted())
	}
	if !bytes.Contains(record, []byte{0xC1, 0x6F, 0xC2}) {
		t.Errorf("record % X missing substituted sequence", record)
	}
}

func TestEncodeSystemRequest(t *testing.T) {
	e := NewEncoder(testPage(t), OverflowTruncate)
	buf := inputBuffer(t)

	record, err := e.EncodeAction(SystemRequest{}, ReadMDT, buf)
	if err != nil {
		t.Fatalf("EncodeAction: %v", err)
	}

	rec, perr := ParseRecord(record)
	if perr != nil {
		t.Fatalf("ParseRecord: %v", perr)
	}
	if !rec.SystemRequest() {
		t.Error("system request flag not set in header")
	}
}

func TestFunctionKeyAIDs(t *testing.T) {
	tests := []struct {
		n    int
		want byte
		ok   bool
	}{
		{1, 0x31, true},
		{12, 0x3C, true},
		{13, 0xB1, true},
		{24, 0xBC, true},
		{0, 0, false},
		{25, 0, false},
	}

	for _, tt := range tests {
		got, ok := AIDFunctionKey(tt.n)
		if ok != tt.ok || got != tt.want {
			t.Errorf("AIDFunctionKey(%d) = 0x%02X,%v, want 0x%02X,%v", tt.n, got, ok, tt.want, tt.ok)
		}
	}
}

func TestLocalActions(t *testing.T) {
	if !Local(CharacterInput{Text: "A"}) || !Local(CursorMove{}) || !Local(Reset{}) {
		t.Error("character input, cursor movement and reset are local")
	}
	if Local(Enter{}) || Local(SystemRequest{}) {
		t.Error("attention actions are not local")
	}
}
