// Package buffer implements BufferList (spec.md §3, §4.2): a growable byte
// buffer with separate read and write cursors, used by request.Request to
// accumulate an incoming body and by response.Response to accumulate an
// outgoing one. Grounded on the teacher's conn_reader/body machinery,
// simplified to the synchronous, single-owner-thread contract the spec
// describes (no background-read goroutine: the owning connection's
// goroutine drives appends directly).
package buffer

// List is BufferList. The zero value is ready to use.
type List struct {
	buf  []byte
	read int // read cursor
}

// Append adds b to the end of the buffer.
func (l *List) Append(b []byte) {
	l.buf = append(l.buf, b...)
}

// AppendByte adds a single byte to the end of the buffer.
func (l *List) AppendByte(b byte) {
	l.buf = append(l.buf, b)
}

// Count returns the total number of bytes ever appended minus those
// discarded by Reset (i.e. len of the backing slice, cursor ignored).
func (l *List) Count() int {
	return len(l.buf)
}

// ReadableBytes returns the number of bytes available to Fill: invariant
// readable == write cursor (len(buf)) - read cursor.
func (l *List) ReadableBytes() int {
	return len(l.buf) - l.read
}

// Snapshot returns a copy of the unread portion of the buffer without
// advancing the read cursor.
func (l *List) Snapshot() []byte {
	out := make([]byte, l.ReadableBytes())
	copy(out, l.buf[l.read:])
	return out
}

// Fill copies up to len(dst) unread bytes into dst, advancing the read
// cursor, and returns the number of bytes copied. A dst smaller than
// ReadableBytes yields a partial read; callers drain in a loop.
func (l *List) Fill(dst []byte) int {
	n := copy(dst, l.buf[l.read:])
	l.read += n
	return n
}

// FillGrowable appends up to max unread bytes to dst (or all of them if
// max <= 0) and returns dst and the number of bytes appended.
func (l *List) FillGrowable(dst []byte, max int) ([]byte, int) {
	avail := l.ReadableBytes()
	if max > 0 && max < avail {
		avail = max
	}
	dst = append(dst, l.buf[l.read:l.read+avail]...)
	l.read += avail
	return dst, avail
}

// Reset clears both cursors and discards all content.
func (l *List) Reset() {
	l.buf = l.buf[:0]
	l.read = 0
}

// Rewind resets the read cursor to zero without discarding content, so
// the full accumulated buffer becomes readable again.
func (l *List) Rewind() {
	l.read = 0
}
