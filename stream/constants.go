package stream

// Logical record header layout. Every record starts with a two-byte
// length, the general data stream record type 0x12A0, two reserved
// bytes, then a variable header carrying its own length, two flag bytes
// and the operation code. Display data follows the variable header.
const (
	recordTypeGDS uint16 = 0x12A0

	fixedHeaderLen  = 6
	varHeaderLen    = 4
	varHeaderOffset = 6
	opcodeOffset    = 9
)

// Variable header flag bits, first flag byte.
const (
	FlagERR byte = 0x80 // data stream output error
	FlagATN byte = 0x40 // attention key
	FlagSRQ byte = 0x04 // system request
	FlagTRQ byte = 0x02 // test request
	FlagHLP byte = 0x01 // help in error state
)

// Record operation codes.
const (
	OpcodeNoOp            byte = 0x00
	OpcodeInvite          byte = 0x01
	OpcodeOutputOnly      byte = 0x02
	OpcodePutGet          byte = 0x03
	OpcodeSaveScreen      byte = 0x04
	OpcodeRestoreScreen   byte = 0x05
	OpcodeReadImmediate   byte = 0x06
	OpcodeReadScreen      byte = 0x08
	OpcodeCancelInvite    byte = 0x0A
	OpcodeMessageLightOn  byte = 0x0B
	OpcodeMessageLightOff byte = 0x0C
)

// ESC introduces every display command inside a record, and is the
// boundary the decoder resynchronizes to after a malformed order.
const ESC byte = 0x04

// Display commands, the byte following ESC.
const (
	CmdWriteToDisplay       byte = 0x11
	CmdClearUnit            byte = 0x40
	CmdClearUnitAlternate   byte = 0x20
	CmdClearFormatTable     byte = 0x50
	CmdReadInputFields      byte = 0x42
	CmdReadMDTFields        byte = 0x52
	CmdReadMDTFieldsAlt     byte = 0x82
	CmdReadScreen           byte = 0x62
	CmdReadImmediate        byte = 0x72
	CmdWriteErrorCode       byte = 0x21
	CmdRoll                 byte = 0x23
	CmdSaveScreen           byte = 0x02
	CmdRestoreScreen        byte = 0x12
	CmdWriteStructuredField byte = 0xF3
)

// Orders embedded in a write-to-display command. Bytes at or above 0x40
// are EBCDIC display characters, anything below is an order code.
const (
	OrderSOH  byte = 0x01 // start of header
	OrderRA   byte = 0x02 // repeat to address
	OrderEA   byte = 0x03 // erase to address
	OrderTD   byte = 0x10 // transparent data
	OrderSBA  byte = 0x11 // set buffer address
	OrderIC   byte = 0x13 // insert cursor
	OrderMC   byte = 0x14 // move cursor
	OrderWDSF byte = 0x15 // write to display structured field
	OrderSF   byte = 0x1D // start of field
)

// Attention identifiers: the byte a keystroke reply carries to tell the
// host which key ended the input cycle.
const (
	AIDEnter           byte = 0xF1
	AIDHelp            byte = 0xF3
	AIDRollDown        byte = 0xF4
	AIDRollUp          byte = 0xF5
	AIDPrint           byte = 0xF6
	AIDRecordBackspace byte = 0xF8
	AIDClear           byte = 0xBD
)

// AIDFunctionKey returns the attention identifier for function key n
// (1 through 24).
func AIDFunctionKey(n int) (byte, bool) {
	switch {
	case n >= 1 && n <= 12:
		return 0x30 + byte(n), true
	case n >= 13 && n <= 24:
		return 0xB0 + byte(n-12), true
	default:
		return 0, false
	}
}
