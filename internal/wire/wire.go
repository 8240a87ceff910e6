// Package wire is the thin HTTP/1.1 codec the conn package parses bytes
// with: request line, headers (order-preserving), and the body framed by
// Content-Length or chunked Transfer-Encoding; a request with neither has
// an empty body. It stands in for spec.md's out-of-scope
// "conformant HTTP/1 codec" collaborator, grounded on the shape of the
// teacher's readRequest/transferReader pipeline (conn.go,
// utils_transfer.go, utils_chunks.go) but rebuilt around an explicit
// head/body-chunk/end part stream instead of a *Request+io.ReadCloser.
package wire

import (
	"bufio"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/badu/nio-http/headers"
)

// ErrLineTooLong is returned when a request line or header line exceeds
// the configured maximum.
var ErrLineTooLong = errors.New("wire: header line too long")

// ErrMalformedRequestLine is returned for a request line that does not
// parse as "METHOD URI HTTP/M.N".
var ErrMalformedRequestLine = errors.New("wire: malformed request line")

// ErrMalformedHeader is returned for a header line without a colon.
var ErrMalformedHeader = errors.New("wire: malformed header line")

// Head is the parsed request line + headers, everything the connection
// handler needs to construct a ServerRequest.
type Head struct {
	Method             string
	URI                string
	Major, Minor       int
	Headers            *headers.Container
	ContentLength      int64 // -1 if the Content-Length header is absent
	Chunked            bool
	KeepAliveRequested bool

	// SecWebSocketKeyCount and SecWebSocketVersionCount are the raw
	// number of Sec-WebSocket-Key/-Version header *lines* seen on the
	// wire, counted before Headers.Append coalesces a repeat into one
	// comma-joined value. upgrade.Registry.Evaluate needs the true
	// occurrence count to report a duplicate-header diagnostic (spec.md
	// §4.5/§6); Headers.Get alone can never see more than one value for
	// these headers once merged.
	SecWebSocketKeyCount     int
	SecWebSocketVersionCount int
}

// bodyDecoder frames one request body under whichever Transfer-Encoding
// applies. next returns the next chunk (possibly empty on a transient
// read), whether the body is now fully consumed, and any read error.
type bodyDecoder interface {
	next(br *bufio.Reader) (chunk []byte, done bool, err error)
}

// Reader turns a byte stream into a sequence of Head calls followed by
// repeated ReadBodyChunk calls, one request at a time. It is not safe
// for concurrent use; exactly one goroutine drives it per connection.
type Reader struct {
	br            *bufio.Reader
	maxLineLength int
	dec           bodyDecoder
}

// NewReader wraps r with the codec's default 64KiB line-length limit.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, 64<<10), maxLineLength: 64 << 10}
}

// ReadHead blocks for the next request line + header block and selects
// the body decoder subsequent ReadBodyChunk calls will use.
func (r *Reader) ReadHead() (*Head, error) {
	line, err := r.readRequestLine()
	if err != nil {
		return nil, err
	}
	method, uri, major, minor, err := parseRequestLine(line)
	if err != nil {
		return nil, err
	}

	h := headers.New()
	var keyCount, versionCount int
	for {
		line, err := r.readLine()
		if err != nil {
			return nil, err
		}
		if len(line) == 0 {
			break
		}
		name, value, ok := splitHeaderLine(line)
		if !ok {
			return nil, ErrMalformedHeader
		}
		switch {
		case strings.EqualFold(name, "Sec-WebSocket-Key"):
			keyCount++
		case strings.EqualFold(name, "Sec-WebSocket-Version"):
			versionCount++
		}
		h.Append(name, value)
	}

	contentLength := int64(-1)
	if cl := h.GetFirst("Content-Length"); cl != "" {
		n, perr := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
		if perr != nil || n < 0 {
			return nil, errors.New("wire: bad Content-Length")
		}
		contentLength = n
	}
	chunked := strings.EqualFold(h.GetFirst("Transfer-Encoding"), "chunked")
	keepAlive := computeKeepAliveRequested(major, minor, h)

	switch {
	case chunked:
		r.dec = &chunkedDecoder{}
	case contentLength > 0:
		r.dec = &identityDecoder{remaining: contentLength}
	case contentLength == 0:
		r.dec = doneDecoder{}
	default:
		r.dec = doneDecoder{}
	}

	return &Head{
		Method:                   method,
		URI:                      uri,
		Major:                    major,
		Minor:                    minor,
		Headers:                  h,
		ContentLength:            contentLength,
		Chunked:                  chunked,
		KeepAliveRequested:       keepAlive,
		SecWebSocketKeyCount:     keyCount,
		SecWebSocketVersionCount: versionCount,
	}, nil
}

// ReadBodyChunk returns the next body chunk, or done=true once the body
// selected by the most recent ReadHead has been fully consumed.
func (r *Reader) ReadBodyChunk() (chunk []byte, done bool, err error) {
	if r.dec == nil {
		return nil, true, nil
	}
	return r.dec.next(r.br)
}

func (r *Reader) readLine() ([]byte, error) {
	p, err := r.br.ReadSlice('\n')
	if err != nil {
		if err == io.EOF {
			return nil, io.ErrUnexpectedEOF
		}
		if err == bufio.ErrBufferFull {
			return nil, ErrLineTooLong
		}
		return nil, err
	}
	if len(p) >= r.maxLineLength {
		return nil, ErrLineTooLong
	}
	return trimCRLF(p), nil
}

// readRequestLine reads the request line the way readLine does, except
// it distinguishes a clean close at a request boundary from one
// mid-line: a peer that disconnects between requests with nothing
// buffered yet gets a plain io.EOF (spec.md §4.5's "channel inactive"
// event, not a parse error); a peer that disconnects after sending a
// partial request line gets io.ErrUnexpectedEOF, same as readLine.
func (r *Reader) readRequestLine() ([]byte, error) {
	p, err := r.br.ReadSlice('\n')
	if err != nil {
		if err == io.EOF {
			if len(p) == 0 {
				return nil, io.EOF
			}
			return nil, io.ErrUnexpectedEOF
		}
		if err == bufio.ErrBufferFull {
			return nil, ErrLineTooLong
		}
		return nil, err
	}
	if len(p) >= r.maxLineLength {
		return nil, ErrLineTooLong
	}
	return trimCRLF(p), nil
}

func trimCRLF(b []byte) []byte {
	n := len(b)
	for n > 0 && (b[n-1] == '\n' || b[n-1] == '\r') {
		n--
	}
	return b[:n]
}

func parseRequestLine(line []byte) (method, uri string, major, minor int, err error) {
	s := string(line)
	sp1 := strings.IndexByte(s, ' ')
	if sp1 < 0 {
		return "", "", 0, 0, ErrMalformedRequestLine
	}
	rest := s[sp1+1:]
	sp2 := strings.LastIndexByte(rest, ' ')
	if sp2 < 0 {
		return "", "", 0, 0, ErrMalformedRequestLine
	}
	method = s[:sp1]
	uri = rest[:sp2]
	proto := rest[sp2+1:]

	major, minor, ok := parseHTTPVersion(proto)
	if !ok || method == "" || uri == "" {
		return "", "", 0, 0, ErrMalformedRequestLine
	}
	return method, uri, major, minor, nil
}

func parseHTTPVersion(proto string) (major, minor int, ok bool) {
	const prefix = "HTTP/"
	if !strings.HasPrefix(proto, prefix) {
		return 0, 0, false
	}
	rest := proto[len(prefix):]
	dot := strings.IndexByte(rest, '.')
	if dot < 0 {
		return 0, 0, false
	}
	maj, err1 := strconv.Atoi(rest[:dot])
	min, err2 := strconv.Atoi(rest[dot+1:])
	if err1 != nil || err2 != nil || maj < 0 || min < 0 {
		return 0, 0, false
	}
	return maj, min, true
}

func splitHeaderLine(line []byte) (name, value string, ok bool) {
	colon := indexByte(line, ':')
	if colon < 0 {
		return "", "", false
	}
	name = string(line[:colon])
	value = strings.TrimSpace(string(line[colon+1:]))
	return name, value, true
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// computeKeepAliveRequested implements the shouldClose inverse used by
// the teacher (utils_transfer.go): HTTP/1.0 defaults to close unless
// Connection: keep-alive is present; HTTP/1.1 defaults to keep-alive
// unless Connection: close is present.
func computeKeepAliveRequested(major, minor int, h *headers.Container) bool {
	if major < 1 {
		return false
	}
	conn := h.Get("Connection")
	hasClose := containsToken(conn, "close")
	if major == 1 && minor == 0 {
		return !hasClose && containsToken(conn, "keep-alive")
	}
	return !hasClose
}

func containsToken(values []string, token string) bool {
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}

type identityDecoder struct{ remaining int64 }

func (d *identityDecoder) next(br *bufio.Reader) ([]byte, bool, error) {
	if d.remaining <= 0 {
		return nil, true, nil
	}
	bufSize := int64(32 << 10)
	if d.remaining < bufSize {
		bufSize = d.remaining
	}
	buf := make([]byte, bufSize)
	n, err := br.Read(buf)
	if n > 0 {
		d.remaining -= int64(n)
	}
	if err != nil && err != io.EOF {
		return buf[:n], false, err
	}
	if err == io.EOF && d.remaining > 0 {
		return buf[:n], false, io.ErrUnexpectedEOF
	}
	return buf[:n], d.remaining <= 0, nil
}

type closeDelimitedDecoder struct{}

func (d *closeDelimitedDecoder) next(br *bufio.Reader) ([]byte, bool, error) {
	buf := make([]byte, 32<<10)
	n, err := br.Read(buf)
	if err != nil {
		if err == io.EOF {
			return buf[:n], true, nil
		}
		return buf[:n], true, err
	}
	return buf[:n], false, nil
}

type doneDecoder struct{}

func (doneDecoder) next(br *bufio.Reader) ([]byte, bool, error) { return nil, true, nil }

// chunkedDecoder implements RFC 7230 §4.1 chunked transfer decoding,
// grounded on the teacher's readChunkLine/parseHexUint (utils_chunks.go).
type chunkedDecoder struct {
	chunkLeft int64
	sawEOF    bool
}

func (d *chunkedDecoder) next(br *bufio.Reader) ([]byte, bool, error) {
	if d.sawEOF {
		return nil, true, nil
	}
	if d.chunkLeft == 0 {
		size, err := readChunkSize(br)
		if err != nil {
			return nil, true, err
		}
		if size == 0 {
			if err := discardTrailer(br); err != nil {
				return nil, true, err
			}
			d.sawEOF = true
			return nil, true, nil
		}
		d.chunkLeft = size
	}
	bufSize := d.chunkLeft
	if bufSize > 32<<10 {
		bufSize = 32 << 10
	}
	buf := make([]byte, bufSize)
	n, err := io.ReadFull(br, buf)
	if err != nil {
		return buf[:n], true, err
	}
	d.chunkLeft -= int64(n)
	if d.chunkLeft == 0 {
		if _, err := readChunkLine(br); err != nil { // trailing CRLF after the chunk data
			return buf[:n], true, err
		}
	}
	return buf[:n], false, nil
}

func readChunkSize(br *bufio.Reader) (int64, error) {
	line, err := readChunkLine(br)
	if err != nil {
		return 0, err
	}
	line = stripChunkExtension(line)
	n, err := parseHexUint(line)
	if err != nil {
		return 0, err
	}
	return int64(n), nil
}

func readChunkLine(br *bufio.Reader) ([]byte, error) {
	p, err := br.ReadSlice('\n')
	if err != nil {
		if err == io.EOF {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return trimCRLF(p), nil
}

func stripChunkExtension(p []byte) []byte {
	if i := indexByte(p, ';'); i >= 0 {
		return p[:i]
	}
	return p
}

func parseHexUint(v []byte) (uint64, error) {
	if len(v) == 0 {
		return 0, errors.New("wire: empty chunk size")
	}
	var n uint64
	for i, b := range v {
		var d byte
		switch {
		case '0' <= b && b <= '9':
			d = b - '0'
		case 'a' <= b && b <= 'f':
			d = b - 'a' + 10
		case 'A' <= b && b <= 'F':
			d = b - 'A' + 10
		default:
			return 0, errors.New("wire: invalid byte in chunk length")
		}
		if i == 16 {
			return 0, errors.New("wire: chunk length too large")
		}
		n <<= 4
		n |= uint64(d)
	}
	return n, nil
}

func discardTrailer(br *bufio.Reader) error {
	for {
		line, err := readChunkLine(br)
		if err != nil {
			return err
		}
		if len(line) == 0 {
			return nil
		}
	}
}
