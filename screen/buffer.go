package screen

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidAddress = errors.New("screen: address out of range")
var ErrFieldBounds = errors.New("screen: field bounds out of range")
var ErrNoSuchField = errors.New("screen: no such field")

// A Cell is one position of the display grid: its character and the
// attribute governing it. Attribute cells hold the raw attribute byte
// and display as blanks.
type Cell struct {
	Ch   rune
	Attr byte
}

// A Region is a rectangle of the screen touched by an update, used to
// scope change events. Bounds are inclusive and zero-based.
type Region struct {
	Top    int
	Left   int
	Bottom int
	Right  int
}

func (r Region) empty() bool {
	return r.Bottom < r.Top || r.Right < r.Left
}

// emptyRegion is the canonical no-cells-touched region. The Region zero
// value covers (0,0), so accumulators must start from this instead.
func emptyRegion() Region {
	return Region{Bottom: -1, Right: -1}
}

func (r Region) add(row, col int) Region {
	if r.empty() {
		return Region{Top: row, Left: col, Bottom: row, Right: col}
	}

	if row < r.Top {
		r.Top = row
	}
	if row > r.Bottom {
		r.Bottom = row
	}
	if col < r.Left {
		r.Left = col
	}
	if col > r.Right {
		r.Right = col
	}
	return r
}

// InhibitReason says why the keyboard is locked: the host owns the
// display (system wait) or an error code put the display into the
// operator-error state.
type InhibitReason byte

const (
	InhibitNone InhibitReason = iota
	InhibitSystemWait
	InhibitOperatorError
)

func (r InhibitReason) String() string {
	switch r {
	case InhibitNone:
		return "none"
	case InhibitSystemWait:
		return "system-wait"
	case InhibitOperatorError:
		return "operator-error"
	default:
		return fmt.Sprintf("inhibit(%d)", byte(r))
	}
}

// A Result reports the side effects of applying one order, so the
// session can emit events without re-deriving them.
type Result struct {
	Changed  Region
	Alarm    bool
	Unlocked bool
}

// A Buffer is the logical 5250 display: a fixed grid of cells, the
// ordered field format table, the cursor, and the keyboard lock and
// message light of the operator information area.
//
// Dimensions are fixed at construction, which happens once per session
// when negotiation settles the display geometry. The Buffer itself does
// no locking- the session's reader loop is the only writer and guards
// access with its own mutex.
type Buffer struct {
	rows int
	cols int

	cells  []Cell
	fields []*Field

	curRow int
	curCol int

	insertRow int
	insertCol int
	hasInsert bool

	locked       bool
	inhibit      InhibitReason
	messageLight bool

	saved []Cell
}

// NewBuffer constructs a blank, locked display of the given geometry.
// The keyboard starts locked because the host owns the display until the
// first write order unlocks it.
func NewBuffer(rows, cols int) (*Buffer, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidAddress, rows, cols)
	}

	return &Buffer{
		rows:    rows,
		cols:    cols,
		cells:   make([]Cell, rows*cols),
		locked:  true,
		inhibit: InhibitSystemWait,
	}, nil
}

func (b *Buffer) Rows() int { return b.rows }
func (b *Buffer) Cols() int { return b.cols }

// Cell returns the cell at the zero-based position.
func (b *Buffer) Cell(row, col int) (Cell, error) {
	if row < 0 || row >= b.rows || col < 0 || col >= b.cols {
		return Cell{}, fmt.Errorf("%w: (%d,%d)", ErrInvalidAddress, row, col)
	}

	return b.cells[row*b.cols+col], nil
}

func (b *Buffer) Cursor() (row, col int) {
	return b.curRow, b.curCol
}

// SetCursor positions the cursor, failing rather than clamping- callers
// moving the cursor programmatically should know their geometry.
func (b *Buffer) SetCursor(row, col int) error {
	if row < 0 || row >= b.rows || col < 0 || col >= b.cols {
		return fmt.Errorf("%w: cursor (%d,%d)", ErrInvalidAddress, row, col)
	}

	b.curRow, b.curCol = row, col
	return nil
}

func (b *Buffer) Locked() bool { return b.locked }

func (b *Buffer) Lock() {
	b.locked = true
	b.inhibit = InhibitSystemWait
}

func (b *Buffer) Unlock() {
	b.locked = false
	b.inhibit = InhibitNone
}

// Inhibit reports why the keyboard is locked; InhibitNone while open.
func (b *Buffer) Inhibit() InhibitReason { return b.inhibit }

// SetOperatorError locks the keyboard in the operator-error state a host
// error code puts the display into.
func (b *Buffer) SetOperatorError() {
	b.locked = true
	b.inhibit = InhibitOperatorError
}

// ResetError clears an operator-error lock, like the reset key. It has
// no effect on a system-wait lock, which only the host releases.
func (b *Buffer) ResetError() {
	if b.inhibit == InhibitOperatorError {
		b.Unlock()
	}
}

// MessageLight reports the message-waiting indicator of the operator
// information area.
func (b *Buffer) MessageLight() bool { return b.messageLight }

func (b *Buffer) Fields() []*Field {
	return b.fields
}

func (b *Buffer) Field(index int) (*Field, error) {
	if index < 0 || index >= len(b.fields) {
		return nil, fmt.Errorf("%w: index %d of %d", ErrNoSuchField, index, len(b.fields))
	}

	return b.fields[index], nil
}

// FieldAt returns the field containing the position, or nil when the
// position lies outside every field.
func (b *Buffer) FieldAt(row, col int) *Field {
	for _, f := range b.fields {
		if f.contains(row, col) {
			return f
		}
	}

	return nil
}

// ModifiedFields returns the fields whose Modified Data Tag is set, in
// format table order. This is exactly the set sent back to the host on a
// read-modified exchange.
func (b *Buffer) ModifiedFields() []*Field {
	var modified []*Field
	for _, f := range b.fields {
		if f.Modified() {
			modified = append(modified, f)
		}
	}

	return modified
}

// SetFieldValue writes caller input into a field by table index,
// setting its MDT. Protected fields reject input.
func (b *Buffer) SetFieldValue(index int, text string) error {
	field, err := b.Field(index)
	if err != nil {
		return err
	}
	if field.Protected() {
		return fmt.Errorf("screen: field %d is protected", index)
	}

	runes := []rune(text)
	if len(runes) > field.length {
		return fmt.Errorf("screen: value length %d exceeds field length %d", len(runes), field.length)
	}

	field.setValue(runes)
	return nil
}

// Text renders the whole display as rows joined by newlines. Null cells
// and attribute positions render as spaces; non-display fields render
// blank.
func (b *Buffer) Text() string {
	var sb strings.Builder
	sb.Grow((b.cols + 1) * b.rows)

	for row := 0; row < b.rows; row++ {
		sb.WriteString(b.RowText(row))
		if row < b.rows-1 {
			sb.WriteByte('\n')
		}
	}

	return sb.String()
}

// RowText renders a single row. Out-of-range rows render empty.
func (b *Buffer) RowText(row int) string {
	if row < 0 || row >= b.rows {
		return ""
	}

	runes := make([]rune, b.cols)
	hidden := false
	for col := 0; col < b.cols; col++ {
		cell := b.cells[row*b.cols+col]
		if cell.Attr != 0 {
			hidden = NonDisplay(cell.Attr)
			runes[col] = ' '
			continue
		}

		if hidden || cell.Ch == 0 {
			runes[col] = ' '
		} else {
			runes[col] = cell.Ch
		}
	}

	return string(runes)
}

// Snapshot copies the current cell grid for a later Restore. Used for
// the host's save-screen and restore-screen commands.
func (b *Buffer) Snapshot() {
	b.saved = make([]Cell, len(b.cells))
	copy(b.saved, b.cells)
}

// Restore puts back the last snapshot. Restoring without a snapshot is a
// no-op; hosts do occasionally send an unpaired restore.
func (b *Buffer) Restore() {
	if b.saved == nil {
		return
	}

	copy(b.cells, b.saved)
}

// Apply mutates the buffer according to one decoded order. It returns
// which region changed and which operator-facing side effects fired.
// Malformed positions inside the order fail with an error wrapping
// ErrInvalidAddress or ErrFieldBounds and leave the keyboard state
// untouched; the cursor is never left out of range.
func (b *Buffer) Apply(order Order) (Result, error) {
	switch o := order.(type) {
	case ClearUnit:
		return b.applyClearUnit(o)
	case WriteToDisplay:
		return b.applyWrite(o)
	case Roll:
		return b.applyRoll(o)
	default:
		return Result{}, fmt.Errorf("screen: unsupported order %T", order)
	}
}

func (b *Buffer) applyClearUnit(o ClearUnit) (Result, error) {
	// Geometry is fixed at negotiation; a clear unit selecting the other
	// display size is a malformed stream, not a resize.
	if wide := b.rows == 27 && b.cols == 132; o.Wide != wide {
		return Result{}, fmt.Errorf("%w: clear unit wide=%v on %dx%d display", ErrInvalidAddress, o.Wide, b.rows, b.cols)
	}

	for i := range b.cells {
		b.cells[i] = Cell{}
	}
	b.fields = nil
	b.curRow, b.curCol = 0, 0
	b.hasInsert = false
	b.Lock()

	return Result{Changed: Region{Bottom: b.rows - 1, Right: b.cols - 1}}, nil
}

func (b *Buffer) applyWrite(o WriteToDisplay) (Result, error) {
	result := Result{Changed: emptyRegion()}

	// Receiving a write returns display ownership to the host until the
	// WCC unlocks it again.
	b.Lock()

	if o.CC1&CC1ClearFields != 0 {
		b.fields = nil
	}
	if o.CC1&CC1ResetMDT != 0 {
		for _, f := range b.fields {
			f.setModified(false)
		}
	}
	if o.CC1&CC1NullInputFields != 0 {
		for _, f := range b.fields {
			if !f.Protected() {
				f.setValue(nil)
				f.setModified(false)
				result.Changed = result.Changed.add(f.startRow, f.startCol)
			}
		}
	}

	// A write carrying Start-of-Field entries redefines the format
	// table wholesale.
	for _, op := range o.Ops {
		if _, isSF := op.(StartOfField); isSF {
			b.fields = nil
			break
		}
	}

	for _, op := range o.Ops {
		region, err := b.applyWriteOp(op)
		if err != nil {
			return result, err
		}
		if !region.empty() {
			if result.Changed.empty() {
				result.Changed = region
			} else {
				result.Changed = result.Changed.add(region.Top, region.Left)
				result.Changed = result.Changed.add(region.Bottom, region.Right)
			}
		}
	}

	if err := b.checkInvariants(); err != nil {
		return result, err
	}

	if o.CC2&CC2Alarm != 0 {
		result.Alarm = true
	}
	if o.CC2&CC2ResetMDT != 0 {
		for _, f := range b.fields {
			f.setModified(false)
		}
	}
	if o.CC2&CC2MessageLightOn != 0 {
		b.messageLight = true
	}
	if o.CC2&CC2MessageLightOff != 0 {
		b.messageLight = false
	}
	if o.CC2&CC2UnlockKeyboard != 0 {
		b.Unlock()
		result.Unlocked = true

		if b.hasInsert {
			b.curRow, b.curCol = b.insertRow, b.insertCol
			b.hasInsert = false
		} else if first := b.firstInputField(); first != nil {
			b.curRow, b.curCol = first.startRow, first.startCol
		}
	}

	return result, nil
}

func (b *Buffer) applyWriteOp(op WriteOp) (Region, error) {
	region := emptyRegion()

	switch o := op.(type) {
	case SetBufferAddress:
		if o.Row < 0 || o.Row >= b.rows || o.Col < 0 || o.Col >= b.cols {
			return region, fmt.Errorf("%w: set buffer address (%d,%d)", ErrInvalidAddress, o.Row, o.Col)
		}
		b.curRow, b.curCol = o.Row, o.Col

	case StartOfField:
		return b.applyStartOfField(o)

	case Text:
		for _, ch := range o.Runes {
			b.cells[b.curRow*b.cols+b.curCol] = Cell{Ch: ch}
			region = region.add(b.curRow, b.curCol)
			b.advance()
		}

	case SetAttribute:
		b.cells[b.curRow*b.cols+b.curCol] = Cell{Attr: o.Attr}
		region = region.add(b.curRow, b.curCol)
		b.advance()

	case RepeatToAddress:
		if o.Row < 0 || o.Row >= b.rows || o.Col < 0 || o.Col >= b.cols {
			return region, fmt.Errorf("%w: repeat to (%d,%d)", ErrInvalidAddress, o.Row, o.Col)
		}
		for {
			b.cells[b.curRow*b.cols+b.curCol] = Cell{Ch: o.Ch}
			region = region.add(b.curRow, b.curCol)
			done := b.curRow == o.Row && b.curCol == o.Col
			b.advance()
			if done {
				break
			}
		}

	case EraseToAddress:
		if o.Row < 0 || o.Row >= b.rows || o.Col < 0 || o.Col >= b.cols {
			return region, fmt.Errorf("%w: erase to (%d,%d)", ErrInvalidAddress, o.Row, o.Col)
		}
		for {
			b.cells[b.curRow*b.cols+b.curCol] = Cell{}
			region = region.add(b.curRow, b.curCol)
			done := b.curRow == o.Row && b.curCol == o.Col
			b.advance()
			if done {
				break
			}
		}

	case InsertCursor:
		if o.Row < 0 || o.Row >= b.rows || o.Col < 0 || o.Col >= b.cols {
			return region, fmt.Errorf("%w: insert cursor (%d,%d)", ErrInvalidAddress, o.Row, o.Col)
		}
		b.insertRow, b.insertCol = o.Row, o.Col
		b.hasInsert = true

	default:
		return region, fmt.Errorf("screen: unsupported write op %T", op)
	}

	return region, nil
}

func (b *Buffer) applyStartOfField(o StartOfField) (Region, error) {
	region := emptyRegion()

	if o.Length <= 0 || o.Length > b.rows*b.cols-1 {
		return region, fmt.Errorf("%w: length %d", ErrFieldBounds, o.Length)
	}

	// The attribute byte sits at the current address; the field content
	// begins at the next position.
	attrRow, attrCol := b.curRow, b.curCol
	b.cells[attrRow*b.cols+attrCol] = Cell{Attr: o.Attr}
	region = Region{Top: attrRow, Left: attrCol, Bottom: attrRow, Right: attrCol}
	b.advance()

	if !o.HasFFW {
		// Output-only field: attribute byte with no format table entry.
		return region, nil
	}

	field := &Field{
		index:    len(b.fields),
		startRow: b.curRow,
		startCol: b.curCol,
		length:   o.Length,
		ffw1:     o.FFW1,
		ffw2:     o.FFW2,
		attr:     o.Attr,
		buf:      b,
	}

	for _, existing := range b.fields {
		if b.overlaps(existing, field) {
			return region, fmt.Errorf("%w: field at (%d,%d) len %d overlaps field %d",
				ErrFieldBounds, field.startRow, field.startCol, field.length, existing.index)
		}
	}

	b.fields = append(b.fields, field)
	return region, nil
}

func (b *Buffer) applyRoll(o Roll) (Result, error) {
	if o.Top < 0 || o.Bottom >= b.rows || o.Top > o.Bottom || o.Lines <= 0 {
		return Result{}, fmt.Errorf("%w: roll %d..%d by %d", ErrInvalidAddress, o.Top, o.Bottom, o.Lines)
	}

	window := o.Bottom - o.Top + 1
	lines := o.Lines
	if lines > window {
		lines = window
	}

	if o.Up {
		for row := o.Top; row <= o.Bottom-lines; row++ {
			copy(b.cells[row*b.cols:(row+1)*b.cols], b.cells[(row+lines)*b.cols:(row+lines+1)*b.cols])
		}
		for row := o.Bottom - lines + 1; row <= o.Bottom; row++ {
			for col := 0; col < b.cols; col++ {
				b.cells[row*b.cols+col] = Cell{}
			}
		}
	} else {
		for row := o.Bottom; row >= o.Top+lines; row-- {
			copy(b.cells[row*b.cols:(row+1)*b.cols], b.cells[(row-lines)*b.cols:(row-lines+1)*b.cols])
		}
		for row := o.Top; row < o.Top+lines; row++ {
			for col := 0; col < b.cols; col++ {
				b.cells[row*b.cols+col] = Cell{}
			}
		}
	}

	return Result{Changed: Region{Top: o.Top, Bottom: o.Bottom, Right: b.cols - 1}}, nil
}

// advance moves the write position one cell forward, wrapping line ends
// and the bottom of the screen.
func (b *Buffer) advance() {
	b.curCol++
	if b.curCol >= b.cols {
		b.curCol = 0
		b.curRow++
		if b.curRow >= b.rows {
			b.curRow = 0
		}
	}
}

func (b *Buffer) firstInputField() *Field {
	for _, f := range b.fields {
		if !f.Protected() {
			return f
		}
	}

	return nil
}

func (b *Buffer) overlaps(a, c *Field) bool {
	total := b.rows * b.cols
	aStart := a.startRow*b.cols + a.startCol
	cStart := c.startRow*b.cols + c.startCol

	for i := 0; i < c.length; i++ {
		pos := (cStart + i) % total
		rel := pos - aStart
		if rel < 0 {
			rel += total
		}
		if rel < a.length {
			return true
		}
	}

	return false
}

// checkInvariants verifies the cursor and every field bound after an
// apply. A violation means the data stream was malformed in a way the
// per-op checks missed, and surfaces as a decode error, not a panic.
func (b *Buffer) checkInvariants() error {
	if b.curRow < 0 || b.curRow >= b.rows || b.curCol < 0 || b.curCol >= b.cols {
		return fmt.Errorf("%w: cursor (%d,%d)", ErrInvalidAddress, b.curRow, b.curCol)
	}

	for _, f := range b.fields {
		if f.startRow < 0 || f.startRow >= b.rows || f.startCol < 0 || f.startCol >= b.cols {
			return fmt.Errorf("%w: field %d start (%d,%d)", ErrFieldBounds, f.index, f.startRow, f.startCol)
		}
		if f.length <= 0 || f.length > b.rows*b.cols {
			return fmt.Errorf("%w: field %d length %d", ErrFieldBounds, f.index, f.length)
		}
	}

	return nil
}
