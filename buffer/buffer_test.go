package buffer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/badu/nio-http/buffer"
)

func TestAppendFillRoundTrip(t *testing.T) {
	var l buffer.List
	src := []byte("hello, world")
	l.Append(src)

	var got []byte
	chunk := make([]byte, 4)
	for l.ReadableBytes() > 0 {
		n := l.Fill(chunk)
		got = append(got, chunk[:n]...)
	}
	assert.Equal(t, src, got)
}

func TestRewindRestoresFullReadability(t *testing.T) {
	var l buffer.List
	l.Append([]byte("abcdef"))

	buf := make([]byte, 3)
	n := l.Fill(buf)
	require.Equal(t, 3, n)
	assert.Equal(t, 3, l.ReadableBytes())

	l.Rewind()
	assert.Equal(t, 6, l.ReadableBytes())

	all := make([]byte, 6)
	n = l.Fill(all)
	require.Equal(t, 6, n)
	assert.Equal(t, "abcdef", string(all))
}

func TestResetClearsContent(t *testing.T) {
	var l buffer.List
	l.Append([]byte("xyz"))
	l.Reset()
	assert.Equal(t, 0, l.ReadableBytes())
	assert.Equal(t, 0, l.Count())
}

func TestPartialFillDrainsInLoop(t *testing.T) {
	var l buffer.List
	l.Append([]byte("0123456789"))
	small := make([]byte, 3)
	total := 0
	for l.ReadableBytes() > 0 {
		total += l.Fill(small)
	}
	assert.Equal(t, 10, total)
}

func TestSnapshotDoesNotAdvanceCursor(t *testing.T) {
	var l buffer.List
	l.Append([]byte("snap"))
	snap := l.Snapshot()
	assert.Equal(t, "snap", string(snap))
	assert.Equal(t, 4, l.ReadableBytes())
}
