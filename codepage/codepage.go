package codepage

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding"
)

var ErrUnknownCodePage = errors.New("codepage: unknown code page")
var ErrUnmappable = errors.New("codepage: unmappable character")

// SubstituteByte is the EBCDIC question mark. Callers that want to keep
// going past an ErrUnmappable should write this byte instead of the one
// they couldn't produce.
const SubstituteByte byte = 0x6F

// SubstituteRune is written to the screen when the host sends a byte the
// selected code page has no mapping for.
const SubstituteRune rune = '�'

// A CodePage is an immutable bidirectional mapping between one 8-bit host
// encoding and Unicode. Instances are built once by a Registry and shared
// by reference between sessions, so nothing here may mutate after
// construction. Decode and Encode are pure functions of their input.
type CodePage struct {
	id          string
	description string

	toUnicode [256]rune
	toHost    map[rune]byte
}

// newCodePage expands an x/text encoding into flat lookup tables by
// decoding every possible host byte once. Bytes the encoding cannot
// represent map to SubstituteRune and are excluded from the reverse table.
func newCodePage(id, description string, enc encoding.Encoding) (*CodePage, error) {
	cp := &CodePage{
		id:          id,
		description: description,
		toHost:      make(map[rune]byte, 256),
	}

	decoder := enc.NewDecoder()

	var src [1]byte
	for b := 0; b < 256; b++ {
		src[0] = byte(b)
		decoded, err := decoder.Bytes(src[:])
		if err != nil {
			return nil, fmt.Errorf("codepage %s: expanding byte 0x%02X: %w", id, b, err)
		}

		r, _ := utf8.DecodeRune(decoded)
		cp.toUnicode[b] = r
		if r == utf8.RuneError {
			cp.toUnicode[b] = SubstituteRune
			continue
		}

		// Some encodings alias several bytes to one rune- first byte wins
		// so the round trip through Encode stays stable.
		if _, taken := cp.toHost[r]; !taken {
			cp.toHost[r] = byte(b)
		}
	}

	return cp, nil
}

func (cp *CodePage) ID() string {
	return cp.id
}

func (cp *CodePage) Description() string {
	return cp.description
}

// Decode maps one host byte to its Unicode character. Bytes without a
// mapping come back as SubstituteRune rather than an error- the data
// stream has already committed to writing a cell at this position.
func (cp *CodePage) Decode(b byte) rune {
	return cp.toUnicode[b]
}

// Encode maps one Unicode character to its host byte. Characters outside
// the table fail with ErrUnmappable- the caller decides whether to
// substitute SubstituteByte or abort, but must never drop the position.
func (cp *CodePage) Encode(r rune) (byte, error) {
	b, ok := cp.toHost[r]
	if !ok {
		return 0, fmt.Errorf("%w: %q in code page %s", ErrUnmappable, r, cp.id)
	}

	return b, nil
}

// Mapped reports whether r is representable in this code page.
func (cp *CodePage) Mapped(r rune) bool {
	_, ok := cp.toHost[r]
	return ok
}
