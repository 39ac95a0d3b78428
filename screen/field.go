package screen

// Field format word bits, first byte. The high two bits identify the word
// as an FFW; the rest describe how the field behaves for input.
const (
	FFW1Identifier byte = 0x40
	FFW1Bypass     byte = 0x20
	FFW1DupEnable  byte = 0x10
	FFW1Modified   byte = 0x08
	FFW1ShiftMask  byte = 0x07
)

// Field shift/edit modes, low three bits of the first FFW byte.
const (
	ShiftAlphaShift byte = iota
	ShiftAlphaOnly
	ShiftNumericShift
	ShiftNumericOnly
	ShiftKatakana
	ShiftDigitsOnly
	ShiftIOFeature
	ShiftSignedNumeric
)

// Field format word bits, second byte.
const (
	FFW2AutoEnter     byte = 0x80
	FFW2FieldExitReq  byte = 0x40
	FFW2Monocase      byte = 0x20
	FFW2MandatoryFill byte = 0x08
)

// A Field is one entry in the format table. Fields are created only while
// applying a write order that carries Start-of-Field entries- the table is
// rebuilt wholly on such writes, never patched in place- so everything
// except the MDT flag and cell contents is fixed after creation.
type Field struct {
	index int

	startRow int
	startCol int
	length   int

	ffw1 byte
	ffw2 byte
	attr byte

	buf *Buffer
}

func (f *Field) Index() int {
	return f.index
}

// StartRow and StartCol locate the first input position of the field,
// zero-based. The attribute byte occupies the position immediately before.
func (f *Field) StartRow() int { return f.startRow }
func (f *Field) StartCol() int { return f.startCol }
func (f *Field) Length() int   { return f.length }

// Protected reports the bypass bit- protected fields never accept input
// and are excluded from outbound read replies.
func (f *Field) Protected() bool {
	return f.ffw1&FFW1Bypass != 0
}

func (f *Field) ShiftMode() byte {
	return f.ffw1 & FFW1ShiftMask
}

// Numeric reports whether the field restricts input to numeric shift modes.
func (f *Field) Numeric() bool {
	shift := f.ShiftMode()
	return shift == ShiftNumericShift || shift == ShiftNumericOnly ||
		shift == ShiftDigitsOnly || shift == ShiftSignedNumeric
}

// Highlighted reports whether the field's screen attribute carries any
// emphasis (reverse image, underline or blink).
func (f *Field) Highlighted() bool {
	return f.attr&(AttrReverse|AttrUnderline|AttrBlink) != 0
}

// Attribute returns the raw screen attribute byte preceding the field.
func (f *Field) Attribute() byte {
	return f.attr
}

// Modified reports the field's Modified Data Tag. It is set when the
// host delivers the field with FFW1Modified, or when input is written
// into the field, and cleared by write orders that reset MDT.
func (f *Field) Modified() bool {
	return f.ffw1&FFW1Modified != 0
}

func (f *Field) setModified(modified bool) {
	if modified {
		f.ffw1 |= FFW1Modified
	} else {
		f.ffw1 &^= FFW1Modified
	}
}

// Value reads the field's current contents out of the screen cells,
// honoring row wrap for fields that span line boundaries.
func (f *Field) Value() string {
	runes := make([]rune, 0, f.length)

	row, col := f.startRow, f.startCol
	for i := 0; i < f.length; i++ {
		ch := f.buf.cells[row*f.buf.cols+col].Ch
		if ch == 0 {
			ch = ' '
		}
		runes = append(runes, ch)

		col++
		if col >= f.buf.cols {
			col = 0
			row++
			if row >= f.buf.rows {
				row = 0
			}
		}
	}

	return string(runes)
}

// setValue writes text into the field's cells, padding the remainder with
// nulls, and sets the MDT. The caller has already applied the overflow
// policy- text longer than the field is a programming error here.
func (f *Field) setValue(text []rune) {
	row, col := f.startRow, f.startCol
	for i := 0; i < f.length; i++ {
		var ch rune
		if i < len(text) {
			ch = text[i]
		}
		f.buf.cells[row*f.buf.cols+col].Ch = ch

		col++
		if col >= f.buf.cols {
			col = 0
			row++
			if row >= f.buf.rows {
				row = 0
			}
		}
	}

	f.setModified(true)
}

// contains reports whether the zero-based position lies inside the field.
func (f *Field) contains(row, col int) bool {
	start := f.startRow*f.buf.cols + f.startCol
	pos := row*f.buf.cols + col
	if pos < start {
		// Fields can wrap through the bottom of the screen back to the top.
		pos += f.buf.rows * f.buf.cols
	}

	return pos >= start && pos < start+f.length
}
