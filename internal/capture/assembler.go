package capture

import (
	"bytes"
	"strings"
)

// MaxFragment bounds the partial line kept between chunks. A peer that never
// sends a newline cannot grow the buffer past it.
const MaxFragment = 64 * 1024

// Assembler splits a byte stream into trimmed, non-empty lines
type Assembler struct {
	buf       []byte
	discarded int
}

// NewAssembler creates an empty assembler
func NewAssembler() *Assembler {
	return &Assembler{}
}

// Feed appends chunk and returns every line it completed, in order
func (a *Assembler) Feed(chunk []byte) []string {
	a.buf = append(a.buf, chunk...)

	var lines []string
	for {
		i := bytes.IndexByte(a.buf, '\n')
		if i < 0 {
			break
		}
		if line := strings.TrimSpace(string(a.buf[:i])); line != "" {
			lines = append(lines, line)
		}
		a.buf = a.buf[i+1:]
	}

	if len(a.buf) > MaxFragment {
		a.discarded += len(a.buf)
		a.buf = nil
	} else if len(a.buf) == 0 {
		a.buf = nil
	}
	return lines
}

// Pending returns the retained partial line
func (a *Assembler) Pending() string {
	return string(a.buf)
}

// Discarded returns how many bytes were dropped by the fragment cap
func (a *Assembler) Discarded() int {
	return a.discarded
}

// Reset drops any partial line
func (a *Assembler) Reset() {
	a.buf = nil
}
