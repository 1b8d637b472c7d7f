package capture

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteSplitsChunksIntoLines(t *testing.T) {
	b := New(10)

	assert.Nil(t, b.Write("Starting mo"))
	assert.Equal(t, []string{"Starting motor test..."}, b.Write("tor test...\nMotor "))
	assert.Equal(t, []string{"Motor rotated 360 degrees", ""}, b.Write("rotated 360 degrees\r\n\n"))

	assert.Equal(t, []string{"Starting motor test...", "Motor rotated 360 degrees", ""}, b.Lines())
	assert.False(t, b.Truncated())
}

func TestFlushPartialLine(t *testing.T) {
	b := New(10)
	b.Write("done\nno newline")

	line, ok := b.Flush()
	require.True(t, ok)
	assert.Equal(t, "no newline", line)

	_, ok = b.Flush()
	assert.False(t, ok)
	assert.Equal(t, []string{"done", "no newline"}, b.Lines())
}

func TestBoundDropsOldest(t *testing.T) {
	b := New(3)
	for i := 1; i <= 5; i++ {
		b.Append(fmt.Sprintf("line %d", i))
	}

	snap := b.Snapshot()
	assert.Equal(t, []string{"line 3", "line 4", "line 5"}, snap.Lines)
	assert.True(t, snap.Truncated)
	assert.Equal(t, 2, snap.Dropped)
}

func TestMarkersRecordPosition(t *testing.T) {
	b := New(5)
	b.Append("a")
	b.Append("b")
	b.Mark(MarkerException, "Traceback ...")

	snap := b.Snapshot()
	require.Len(t, snap.Markers, 1)
	assert.Equal(t, MarkerException, snap.Markers[0].Marker)
	assert.Equal(t, 2, snap.Markers[0].Line)
	assert.Equal(t, "Traceback ...", snap.Markers[0].Detail)
}

func TestSnapshotIsACopy(t *testing.T) {
	b := New(5)
	b.Append("a")
	snap := b.Snapshot()
	snap.Lines[0] = "changed"
	assert.Equal(t, []string{"a"}, b.Lines())
}

func TestUnterminatedOutputStaysBounded(t *testing.T) {
	b := New(2)
	chunk := strings.Repeat("x", 1024)
	for i := 0; i < 16*1024; i++ {
		b.Write(chunk)
	}

	line, ok := b.Flush()
	require.True(t, ok)
	assert.LessOrEqual(t, len(line), MaxLineBytes)

	snap := b.Snapshot()
	require.Len(t, snap.Lines, 2)
	for _, l := range snap.Lines {
		assert.LessOrEqual(t, len(l), MaxLineBytes)
	}
	assert.True(t, snap.Truncated)
	assert.Equal(t, 16*1024*1024/MaxLineBytes-2, snap.Dropped)
}

func TestLongLineIsWrapped(t *testing.T) {
	b := New(10)
	long := strings.Repeat("a", MaxLineBytes) + "tail"

	completed := b.Write(long + "\n")
	assert.Equal(t, []string{strings.Repeat("a", MaxLineBytes), "tail"}, completed)

	b.Append(long)
	lines := b.Lines()
	require.Len(t, lines, 4)
	assert.Equal(t, "tail", lines[3])
}

func TestLineExactlyAtLimitIsNotSplit(t *testing.T) {
	b := New(10)
	exact := strings.Repeat("a", MaxLineBytes)

	assert.Equal(t, []string{exact}, b.Write(exact+"\n"))
	assert.Equal(t, []string{exact}, b.Lines())
}

func TestWrapKeepsRunesWhole(t *testing.T) {
	b := New(10)
	// the limit falls inside the three-byte rune
	text := strings.Repeat("a", MaxLineBytes-1) + "€" + "\n"

	completed := b.Write(text)
	require.Len(t, completed, 2)
	assert.Equal(t, strings.Repeat("a", MaxLineBytes-1), completed[0])
	assert.Equal(t, "€", completed[1])
	for _, l := range completed {
		assert.True(t, utf8.ValidString(l))
	}
}
