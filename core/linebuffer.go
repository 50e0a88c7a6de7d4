package core

import (
	"bytes"
	"strings"
)

// MaxLineBytes bounds a single buffered line. Longer lines are dropped whole.
const MaxLineBytes = 4 << 20

// LineBuffer reassembles newline-delimited lines from arbitrary text fragments.
type LineBuffer struct {
	buf      bytes.Buffer
	max      int
	overflow bool
	dropped  int
}

func NewLineBuffer(max int) *LineBuffer {
	if max <= 0 {
		max = MaxLineBytes
	}
	return &LineBuffer{max: max}
}

// Write appends fragment and returns every line it completed, without the
// line terminator.
func (b *LineBuffer) Write(fragment string) []string {
	var lines []string
	for {
		i := strings.IndexByte(fragment, '\n')
		if i < 0 {
			b.append(fragment)
			return lines
		}
		b.append(fragment[:i])
		fragment = fragment[i+1:]

		if b.overflow {
			b.overflow = false
			b.dropped++
			b.buf.Reset()
			continue
		}
		lines = append(lines, trimCR(b.buf.String()))
		b.buf.Reset()
	}
}

// Flush returns the unterminated remainder and empties the buffer.
func (b *LineBuffer) Flush() string {
	defer b.buf.Reset()
	if b.overflow {
		b.overflow = false
		b.dropped++
		return ""
	}
	return trimCR(b.buf.String())
}

// Dropped is the number of lines discarded for exceeding the size bound.
func (b *LineBuffer) Dropped() int {
	return b.dropped
}

func (b *LineBuffer) append(s string) {
	if b.overflow || s == "" {
		return
	}
	if b.buf.Len()+len(s) > b.max {
		b.overflow = true
		b.buf.Reset()
		return
	}
	b.buf.WriteString(s)
}

func trimCR(s string) string {
	if n := len(s); n > 0 && s[n-1] == '\r' {
		return s[:n-1]
	}
	return s
}
