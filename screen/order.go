package screen

// Screen attribute byte bits. Attributes occupy a cell of their own at
// the position immediately before the content they describe; the column
// separator and color planes of real hardware are not modeled, only the
// logical emphasis bits.
const (
	AttrBase          byte = 0x20
	AttrReverse       byte = 0x01
	AttrHighIntensity byte = 0x02
	AttrUnderline     byte = 0x04
	AttrBlink         byte = 0x08
)

// NonDisplay reports whether an attribute byte suppresses display of the
// cells that follow it (password fields and the like).
func NonDisplay(attr byte) bool {
	return attr&0x07 == 0x07
}

// Control character bits for write orders. CC1 governs what happens to
// the format table before the embedded ops run, CC2 is the WCC proper
// and runs after.
const (
	CC1ResetMDT        byte = 0x20
	CC1NullInputFields byte = 0x10
	CC1ClearFields     byte = 0x04

	CC2Alarm           byte = 0x04
	CC2UnlockKeyboard  byte = 0x02
	CC2ResetMDT        byte = 0x01
	CC2MessageLightOn  byte = 0x20
	CC2MessageLightOff byte = 0x10
)

// An Order is one decoded unit of inbound data stream. Orders are
// immutable once parsed; Buffer.Apply consumes them.
type Order interface {
	order()
}

// A WriteOp is one positioned operation embedded in a WriteToDisplay
// order, executed against the buffer address current at that point of
// the write.
type WriteOp interface {
	writeOp()
}

// ClearUnit resets the display to its initial state: blank grid, empty
// format table, cursor home. Wide selects the alternate 27x132 geometry
// on displays negotiated for it.
type ClearUnit struct {
	Wide bool
}

// WriteToDisplay carries the control characters and the positioned ops
// of one write command.
type WriteToDisplay struct {
	CC1 byte
	CC2 byte
	Ops []WriteOp
}

// Roll shifts the lines between Top and Bottom (inclusive, zero-based)
// by Lines rows, blanking the lines rolled in.
type Roll struct {
	Up     bool
	Lines  int
	Top    int
	Bottom int
}

func (ClearUnit) order()      {}
func (WriteToDisplay) order() {}
func (Roll) order()           {}

// SetBufferAddress moves the write position. Addresses arrive 1-based on
// the wire and are converted during decode; these are zero-based.
type SetBufferAddress struct {
	Row int
	Col int
}

// StartOfField writes an attribute byte at the current address and
// registers an input or output field beginning at the following
// position.
type StartOfField struct {
	FFW1   byte
	FFW2   byte
	Attr   byte
	Length int
	// Output-only fields carry no FFW on the wire.
	HasFFW bool
}

// Text writes already-decoded characters starting at the current
// address, advancing and wrapping it.
type Text struct {
	Runes []rune
}

// SetAttribute writes a bare attribute byte at the current address.
type SetAttribute struct {
	Attr byte
}

// RepeatToAddress fills from the current address through the target
// address inclusive with one character.
type RepeatToAddress struct {
	Row int
	Col int
	Ch  rune
}

// EraseToAddress blanks from the current address through the target
// address inclusive.
type EraseToAddress struct {
	Row int
	Col int
}

// InsertCursor sets where the cursor lands when the keyboard unlocks.
type InsertCursor struct {
	Row int
	Col int
}

func (SetBufferAddress) writeOp() {}
func (StartOfField) writeOp()     {}
func (Text) writeOp()             {}
func (SetAttribute) writeOp()     {}
func (RepeatToAddress) writeOp()  {}
func (EraseToAddress) writeOp()   {}
func (InsertCursor) writeOp()     {}
