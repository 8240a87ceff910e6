// Package request implements ServerRequest (spec.md §3, §4.3): the
// per-request data model materialized on head arrival and filled
// incrementally by body chunks, immutable otherwise, with a lazily
// computed and cached full URL.
package request

import (
	"net"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/badu/nio-http/buffer"
	"github.com/badu/nio-http/headers"
)

// Request is ServerRequest.
type Request struct {
	Headers *headers.Container

	Method      string // uppercase verb, as received
	MajorVer    int
	MinorVer    int
	URI         string // path + query, as received (raw bytes form)
	RemoteAddr  string // host portion only
	LocalHost   string
	LocalPort   int
	TLSEnabled  bool

	ClientWantsKeepAlive bool

	body buffer.List

	urlOnce sync.Once
	urlFull string
}

// New constructs a Request for a freshly arrived head. Body is appended
// to afterwards via AppendBody as chunks arrive.
func New(method, uri string, major, minor int, remoteAddr, localHost string, localPort int, tls bool) *Request {
	return &Request{
		Headers:    headers.New(),
		Method:     strings.ToUpper(method),
		URI:        uri,
		MajorVer:   major,
		MinorVer:   minor,
		RemoteAddr: remoteAddr,
		LocalHost:  localHost,
		LocalPort:  localPort,
		TLSEnabled: tls,
	}
}

// AppendBody appends an incoming body chunk. Called on the connection's
// goroutine only, before the handler is dispatched.
func (r *Request) AppendBody(chunk []byte) {
	r.body.Append(chunk)
}

// BodyByteCount reports how many body bytes have been appended so far,
// used by conn.Handler to enforce the request size limit while chunks
// are still arriving.
func (r *Request) BodyByteCount() int {
	return r.body.Count()
}

// Read consumes up to len(p) unread body bytes, per spec.md §4.3: once
// drained, further reads return zero.
func (r *Request) Read(p []byte) (n int) {
	return r.body.Fill(p)
}

// ReadAll drains the entire remaining body into a single slice, advancing
// the read cursor so a second call returns nothing.
func (r *Request) ReadAll() []byte {
	b, _ := r.body.FillGrowable(nil, 0)
	return b
}

// ReadString drains the entire remaining body and decodes it as UTF-8,
// returning ("", false) if the bytes are not valid UTF-8. The bytes are
// consumed either way.
func (r *Request) ReadString() (string, bool) {
	b := r.ReadAll()
	if !utf8.Valid(b) {
		return "", false
	}
	return string(b), true
}

// Host returns the first Host header value, or "" if absent.
func (r *Request) Host() string {
	return r.Headers.GetFirst("Host")
}

// URLFull synthesizes and caches the full URL: scheme://host[:port]/uri,
// scheme is https iff TLSEnabled, host is the first Host header value
// (falling back to the local listener address), with the local port
// appended if that host carries no port of its own.
func (r *Request) URLFull() string {
	r.urlOnce.Do(func() {
		scheme := "http"
		if r.TLSEnabled {
			scheme = "https"
		}

		host := r.Host()
		if host == "" {
			host = r.LocalHost
		}
		if r.LocalPort != 0 {
			if _, _, err := net.SplitHostPort(host); err != nil {
				host = host + ":" + strconv.Itoa(r.LocalPort)
			}
		}

		r.urlFull = scheme + "://" + host + r.URI
	})
	return r.urlFull
}
