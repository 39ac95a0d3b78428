package telnet

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"sync"
)

const maxRecordSize = 256 * 1024

// A CommandParseError reports one malformed IAC sequence. The framer
// consumed the sequence and stays usable, so callers that want forward
// progress on a noisy stream can log it and call Next again.
type CommandParseError struct {
	Data []byte
	Err  error
}

func (e *CommandParseError) Error() string {
	return fmt.Sprintf("telnet: malformed command % X: %v", e.Data, e.Err)
}

func (e *CommandParseError) Unwrap() error { return e.Err }

// A Chunk is one unit delivered by the framer: either a telnet command
// or a complete unescaped logical record.
type Chunk struct {
	Command *Command
	Record  []byte
}

// A Framer owns the byte-level view of one connection: it splits the
// inbound stream into IAC commands and end-of-record-delimited records,
// and escapes outbound traffic. Reads must come from a single goroutine;
// writes are serialized internally so negotiation replies and keystroke
// records can interleave safely.
type Framer struct {
	scanner *bufio.Scanner
	out     io.Writer

	writeLock sync.Mutex
	record    bytes.Buffer
}

func NewFramer(rw io.ReadWriter) *Framer {
	scanner := bufio.NewScanner(rw)
	scanner.Buffer(make([]byte, 0, 8192), maxRecordSize)
	scanner.Split(scanTelnet)

	return &Framer{
		scanner: scanner,
		out:     rw,
	}
}

// Next blocks until a full command or record is available. Record bytes
// are buffered across however many partial reads the transport needs-
// the stream is not frame-aligned and a record regularly spans several
// TCP segments.
func (f *Framer) Next() (Chunk, error) {
	for f.scanner.Scan() {
		token := f.scanner.Bytes()
		if len(token) == 0 {
			continue
		}

		if token[0] != IAC {
			f.record.Write(token)
			continue
		}

		if len(token) == 2 && token[1] == IAC {
			// Escaped data byte, not a command.
			f.record.WriteByte(IAC)
			continue
		}

		if len(token) == 2 && token[1] == EOR {
			record := make([]byte, f.record.Len())
			copy(record, f.record.Bytes())
			f.record.Reset()
			return Chunk{Record: record}, nil
		}

		command, err := parseCommand(token)
		if err != nil {
			data := make([]byte, len(token))
			copy(data, token)
			return Chunk{}, &CommandParseError{Data: data, Err: err}
		}

		return Chunk{Command: &command}, nil
	}

	if err := f.scanner.Err(); err != nil {
		return Chunk{}, err
	}

	return Chunk{}, io.EOF
}

func (f *Framer) WriteCommand(c Command) error {
	f.writeLock.Lock()
	defer f.writeLock.Unlock()

	_, err := f.out.Write(c.bytes())
	return err
}

// WriteRecord escapes and frames one logical record: data IACs are
// doubled and the record is terminated with IAC EOR.
func (f *Framer) WriteRecord(data []byte) error {
	framed := make([]byte, 0, len(data)+8)
	for _, b := range data {
		framed = append(framed, b)
		if b == IAC {
			framed = append(framed, IAC)
		}
	}
	framed = append(framed, IAC, EOR)

	f.writeLock.Lock()
	defer f.writeLock.Unlock()

	_, err := f.out.Write(framed)
	return err
}

// scanTelnet tokenizes the raw stream: runs of data bytes up to the
// next IAC, or one complete IAC sequence. Incomplete sequences wait for
// more input.
func scanTelnet(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if len(data) == 0 {
		return 0, nil, nil
	}

	advance = scanTelnetToken(data)
	if advance > 0 {
		return advance, data[:advance], nil
	}

	if atEOF {
		return len(data), data, nil
	}

	return 0, nil, nil
}

func scanTelnetToken(data []byte) int {
	specialCharIndex := bytes.IndexByte(data, IAC)

	if specialCharIndex > 0 {
		// Release all data until we get to an IAC.
		return specialCharIndex
	} else if specialCharIndex < 0 {
		// No special char, dump everything.
		return len(data)
	}

	// If it's just IAC by itself, wait for more data.
	if len(data) <= 1 {
		return 0
	}

	// 'IAC IAC' releases on its own- it's actually escaped data.
	if data[1] == IAC {
		return 2
	}

	// IAC GA, IAC EOR, and IAC NOP release on their own. SE should never
	// appear here but if it does we recover by consuming it.
	if data[1] == GA || data[1] == NOP || data[1] == SE || data[1] == EOR {
		return 2
	}

	// All other codes require at least 3 characters.
	if len(data) < 3 {
		return 0
	}

	if data[1] != SB {
		// Everything except subnegotiations comes in three-byte sets.
		return 3
	}

	// Subnegotiations run through IAC SE, with doubled IACs inside.
	nextIndex := 0
	for {
		nextSpecialCharIndex := bytes.IndexByte(data[nextIndex+1:], IAC)

		// No more IACs, subnegotiation end is not in buffer yet.
		if nextSpecialCharIndex < 0 {
			return 0
		}

		nextIndex += nextSpecialCharIndex + 1
		if len(data) <= nextIndex+1 {
			// IAC is the last character, but we need its partner.
			return 0
		}

		if data[nextIndex+1] == SE {
			return nextIndex + 2
		}

		// Skip doubled IACs and anything else inside the payload.
		nextIndex++
	}
}
