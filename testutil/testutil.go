// Package testutil builds request.Request/response.Response fixtures for
// handler tests that don't need a real socket, grounded on the teacher's
// th package (th.NewTRequest / th.NewRecorder): a panics-on-error request
// builder and a response.Owner recorder that captures what would have
// gone over the wire instead of writing it anywhere.
package testutil

import (
	"fmt"
	"sync"

	"github.com/badu/nio-http/headers"
	"github.com/badu/nio-http/keepalive"
	"github.com/badu/nio-http/logging"
	"github.com/badu/nio-http/request"
	"github.com/badu/nio-http/response"
)

// NewRequest builds a request.Request the way th.NewTRequest builds an
// *http.Request: HTTP/1.1, "example.com" as the default host, a fixed
// TEST-NET-1 remote address, with body appended if non-empty.
func NewRequest(method, uri string, body []byte) *request.Request {
	if method == "" {
		method = "GET"
	}
	req := request.New(method, uri, 1, 1, "192.0.2.1", "example.com", 80, false)
	req.Headers.SetOne("Host", "example.com")
	if len(body) > 0 {
		req.AppendBody(body)
	}
	return req
}

// Recorder is a response.Owner that records every write instead of
// performing it, the way th.NewRecorder's ResponseRecorder captures a
// handler's output for assertions. Submit runs fn synchronously: tests
// have no connection goroutine to submit onto.
type Recorder struct {
	mu sync.Mutex

	StatusCode int
	Reason     string
	Header     *headers.Container
	Body       []byte
	Ended      bool
	CloseAsked bool
	GoneFlag   bool

	keepAlive   keepalive.State
	idleTimeout int
	logger      logging.Logger
}

// NewRecorder returns a Recorder ready to back a response.Response built
// with response.New(rec, major, minor, wantsKeepAlive).
func NewRecorder() *Recorder {
	return &Recorder{
		Header:      headers.New(),
		keepAlive:   keepalive.Unlimited(),
		idleTimeout: 0,
		logger:      logging.Default("testutil"),
	}
}

// WithKeepAlive overrides the keep-alive state the Recorder reports,
// letting a test exercise a connection near its request limit.
func (rec *Recorder) WithKeepAlive(state keepalive.State) *Recorder {
	rec.keepAlive = state
	return rec
}

// WithIdleTimeoutSeconds overrides the advertised idle timeout.
func (rec *Recorder) WithIdleTimeoutSeconds(seconds int) *Recorder {
	rec.idleTimeout = seconds
	return rec
}

func (rec *Recorder) Submit(fn func()) { fn() }

func (rec *Recorder) WriteHead(statusCode int, reason string, major, minor int, h *headers.Container) error {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.StatusCode = statusCode
	rec.Reason = reason
	rec.Header = h
	return nil
}

func (rec *Recorder) WriteBody(b []byte) error {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.Body = append(rec.Body, b...)
	return nil
}

func (rec *Recorder) WriteEnd() error {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.Ended = true
	return nil
}

func (rec *Recorder) RequestClose() {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.CloseAsked = true
}

func (rec *Recorder) Closed() bool {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.GoneFlag
}

func (rec *Recorder) KeepAlive() *keepalive.State { return &rec.keepAlive }

func (rec *Recorder) IdleTimeoutSeconds() int { return rec.idleTimeout }

func (rec *Recorder) Logger() logging.Logger { return rec.logger }

// NewResponse builds a response.Response backed by a fresh Recorder and
// returns both, the way a test typically wants the Response to drive and
// the Recorder to assert against.
func NewResponse(httpMajor, httpMinor int, clientWantsKeepAlive bool) (*response.Response, *Recorder) {
	rec := NewRecorder()
	resp := response.New(rec, httpMajor, httpMinor, clientWantsKeepAlive)
	return resp, rec
}

// String renders the Recorder's captured head+body the way a quick test
// failure message wants it, without reimplementing real wire framing.
func (rec *Recorder) String() string {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return fmt.Sprintf("%d %s (body=%dB, ended=%v, closeAsked=%v)", rec.StatusCode, rec.Reason, len(rec.Body), rec.Ended, rec.CloseAsked)
}
