package core

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLineBufferReassemblesFragments(t *testing.T) {
	b := NewLineBuffer(0)

	assert.Empty(t, b.Write(`{"type":"tho`))
	assert.Empty(t, b.Write(`ught","content":"hi"`))
	assert.Equal(t, []string{`{"type":"thought","content":"hi"}`}, b.Write("}\n"))
	assert.Equal(t, "", b.Flush())
}

func TestLineBufferSeveralLinesInOneFragment(t *testing.T) {
	b := NewLineBuffer(0)

	lines := b.Write("a\r\nb\n\nc")
	assert.Equal(t, []string{"a", "b", ""}, lines)
	assert.Equal(t, "c", b.Flush())
	assert.Equal(t, "", b.Flush(), "flush empties the buffer")
}

func TestLineBufferDropsOversizedLines(t *testing.T) {
	b := NewLineBuffer(8)

	assert.Empty(t, b.Write("0123"))
	assert.Empty(t, b.Write("456789"))
	assert.Equal(t, []string{"ok"}, b.Write("abc\nok\n"))
	assert.Equal(t, 1, b.Dropped())

	b.Write(strings.Repeat("x", 20))
	assert.Equal(t, "", b.Flush())
	assert.Equal(t, 2, b.Dropped())
}
