package terminal

// EscapeBuffer reassembles a raw output stream into fragments that are safe
// to store as discrete history lines. If a chunk ends in the middle of a
// terminal control sequence, the incomplete suffix is withheld and prefixed
// onto the next Append call.
//
// A never-terminated sequence must not grow the carry without bound: once
// the carry exceeds MaxCarry bytes it is force-flushed as literal text.
type EscapeBuffer struct {
	carry []byte
}

// MaxCarry bounds the withheld partial-sequence suffix.
const MaxCarry = 4096

const esc = 0x1b

// NewEscapeBuffer creates an empty escape buffer.
func NewEscapeBuffer() *EscapeBuffer {
	return &EscapeBuffer{}
}

// Append feeds a chunk through the buffer. It returns the longest prefix of
// carried+chunk that does not end mid-sequence, and whether a partial
// sequence is being carried forward.
func (b *EscapeBuffer) Append(chunk string) (complete string, hasIncomplete bool) {
	buf := append(b.carry, chunk...)
	cut := incompleteFrom(buf)

	if len(buf)-cut > MaxCarry {
		b.carry = nil
		return string(buf), false
	}

	b.carry = append([]byte(nil), buf[cut:]...)
	return string(buf[:cut]), len(b.carry) > 0
}

// Clear discards any carried-forward partial state.
func (b *EscapeBuffer) Clear() {
	b.carry = nil
}

// Flush returns the carried partial sequence as literal text and clears it.
// Used when a session ends with an unterminated sequence in flight.
func (b *EscapeBuffer) Flush() string {
	out := string(b.carry)
	b.carry = nil
	return out
}

// incompleteFrom returns the index of the start of a trailing unterminated
// escape sequence, or len(buf) when the buffer ends cleanly.
func incompleteFrom(buf []byte) int {
	i := 0
	for i < len(buf) {
		if buf[i] != esc {
			i++
			continue
		}
		end, ok := sequenceEnd(buf, i)
		if !ok {
			return i
		}
		i = end
	}
	return len(buf)
}

// sequenceEnd returns the index just past the escape sequence starting at
// start, or ok=false if the buffer ends before the sequence terminates.
func sequenceEnd(buf []byte, start int) (end int, ok bool) {
	if start+1 >= len(buf) {
		return 0, false
	}

	switch buf[start+1] {
	case '[':
		// CSI: parameter bytes 0x30-0x3F, intermediates 0x20-0x2F,
		// terminated by a final byte 0x40-0x7E.
		for i := start + 2; i < len(buf); i++ {
			c := buf[i]
			if c >= 0x40 && c <= 0x7e {
				return i + 1, true
			}
			if c < 0x20 || c > 0x3f {
				// Malformed; treat the stray byte as the terminator.
				return i + 1, true
			}
		}
		return 0, false

	case ']', 'P', 'X', '^', '_':
		// OSC/DCS/SOS/PM/APC string sequences, terminated by BEL or ST.
		for i := start + 2; i < len(buf); i++ {
			if buf[i] == 0x07 {
				return i + 1, true
			}
			if buf[i] == esc {
				if i+1 >= len(buf) {
					return 0, false
				}
				if buf[i+1] == '\\' {
					return i + 2, true
				}
				// Unexpected ESC inside a string sequence: a new
				// sequence starts here.
				return i, true
			}
		}
		return 0, false

	default:
		if buf[start+1] >= 0x20 && buf[start+1] <= 0x2f {
			// Intermediate bytes followed by one final byte.
			for i := start + 2; i < len(buf); i++ {
				if buf[i] >= 0x30 && buf[i] <= 0x7e {
					return i + 1, true
				}
				if buf[i] < 0x20 || buf[i] > 0x2f {
					return i, true
				}
			}
			return 0, false
		}
		// Two-character sequence like ESC M.
		return start + 2, true
	}
}
