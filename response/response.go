// Package response implements ServerResponse (spec.md §3, §4.4): the
// response writer — buffering, framing, keep-alive header emission and
// error termination. Grounded on the teacher's response_server.go (the
// net/http-fork's server-side Response writer) for the framing shape, but
// reworked around the spec's "buffer then flush once on End" model and
// its single-shot, any-thread-safe write contract instead of net/http's
// streaming ResponseWriter.
package response

import (
	"strconv"
	"time"

	"github.com/badu/nio-http/headers"
	"github.com/badu/nio-http/keepalive"
	"github.com/badu/nio-http/logging"
	"github.com/badu/nio-http/proto"
)

// Owner is the connection-side collaborator a Response writes through. It
// is the Go expression of spec.md §9's "weak reference to the channel and
// the owning handler": Response never touches a socket directly, only
// this interface, and every method on it must behave cleanly once the
// connection is gone (see Closed).
type Owner interface {
	// Submit schedules fn to run on the connection's owning goroutine.
	// Ordering is preserved per call site, matching spec.md §4.4's
	// "submitted for deferred execution on that thread (ordering
	// preserved per call site)".
	Submit(fn func())

	// WriteHead, WriteBody and WriteEnd perform the actual wire framing.
	// They are only ever called from the owning goroutine, from inside a
	// Submit closure.
	WriteHead(statusCode int, reason string, major, minor int, h *headers.Container) error
	WriteBody(b []byte) error
	WriteEnd() error

	// RequestClose asks the connection to close once the in-flight write
	// completes (used for Connection: Close paths and error responses).
	RequestClose()

	// Closed reports whether the channel is already gone. Resolved fresh
	// on every call so a mid-flight close is observed (spec.md §9: a
	// stale handle returns a clean error instead of touching freed
	// state).
	Closed() bool

	// KeepAlive exposes the connection's keep-alive counter so Response
	// can decide whether to advertise Keep-Alive and decrement it.
	KeepAlive() *keepalive.State

	// IdleTimeoutSeconds is the configured idle-timeout, advertised in
	// the Keep-Alive response header (spec.md §4.4).
	IdleTimeoutSeconds() int

	Logger() logging.Logger
}

// ErrChannelGone is returned (via the owner's logged warning, not as a Go
// error return — see Write/End) when a write is attempted after the
// owning connection has already closed.
var ErrChannelGone = errChannelGone{}

type errChannelGone struct{}

func (errChannelGone) Error() string { return "response: channel gone" }

// Response is ServerResponse.
type Response struct {
	owner Owner

	httpMajor, httpMinor int
	clientWantsKeepAlive bool

	statusCode int
	headers    *headers.Container
	body       []byte

	started bool
	ended   bool
}

// New constructs a Response pre-populated with a Date header and status
// 200, for a request with the given cached HTTP version and keep-alive
// preference.
func New(owner Owner, httpMajor, httpMinor int, clientWantsKeepAlive bool) *Response {
	r := &Response{
		owner:                owner,
		httpMajor:            httpMajor,
		httpMinor:            httpMinor,
		clientWantsKeepAlive: clientWantsKeepAlive,
		statusCode:           200,
		headers:              headers.New(),
	}
	r.stampDate()
	return r
}

func (r *Response) stampDate() {
	r.headers.SetOne("Date", time.Now().UTC().Format(proto.TimeFormat))
}

// StatusCode returns the response status, mutable until the head is sent.
func (r *Response) StatusCode() int { return r.statusCode }

// SetStatusCode sets the status code, ignored once the head has been
// emitted (spec.md §4.4 invariant).
func (r *Response) SetStatusCode(code int) {
	r.owner.Submit(func() {
		if r.started {
			return
		}
		r.statusCode = code
	})
}

// SetHeader replaces all values for name, ignored once the head has been
// emitted.
func (r *Response) SetHeader(name string, values ...string) {
	r.owner.Submit(func() {
		if r.started {
			return
		}
		r.headers.Set(name, values)
	})
}

// AppendHeader appends one value for name under the usual merge rules,
// ignored once the head has been emitted.
func (r *Response) AppendHeader(name, value string) {
	r.owner.Submit(func() {
		if r.started {
			return
		}
		r.headers.Append(name, value)
	})
}

// Write appends p to the outgoing buffer. Safe from any goroutine.
func (r *Response) Write(p []byte) (int, error) {
	cp := append([]byte(nil), p...)
	r.owner.Submit(func() {
		if r.ended {
			return
		}
		r.body = append(r.body, cp...)
	})
	return len(p), nil
}

// WriteString is a convenience wrapper around Write.
func (r *Response) WriteString(s string) (int, error) {
	return r.Write([]byte(s))
}

// End emits head+body+end, the only normal termination path. A second
// call is a no-op: the response is single-shot regardless of how many
// times End/EndWithError are called (spec.md §4.4, §8).
func (r *Response) End() {
	r.owner.Submit(r.flush)
}

// EndWithText writes text then ends, equivalent to Write followed by
// End but performed atomically under one Submit.
func (r *Response) EndWithText(text string) {
	cp := []byte(text)
	r.owner.Submit(func() {
		if r.ended {
			return
		}
		r.body = append(r.body, cp...)
		r.flush()
	})
}

// EndWithError emits an error response: status code, an optional plain
// text message, and Connection: Close, then closes the connection.
// Keep-alive never survives an error (spec.md §7).
func (r *Response) EndWithError(status int, message string) {
	r.owner.Submit(func() {
		if r.ended {
			return
		}
		r.statusCode = status
		r.headers.Set("Content-Type", []string{"text/plain; charset=utf-8"})
		r.headers.Set("Connection", []string{"Close"})
		r.body = append(r.body[:0], message...)
		r.flushLocked(true)
	})
}

// Reset clears status, buffer and headers and re-stamps Date, per
// spec.md §9 (treating this behavior, not the no-op some source versions
// had, as authoritative). Only valid before the head has been emitted;
// a no-op otherwise since the single-shot contract has already fired.
func (r *Response) Reset() {
	r.owner.Submit(func() {
		if r.started {
			return
		}
		r.statusCode = 200
		r.body = r.body[:0]
		r.headers = headers.New()
		r.stampDate()
	})
}

// flush is the normal (non-error) End path, called on the owner
// goroutine from inside a Submit closure.
func (r *Response) flush() {
	if r.ended {
		return
	}
	r.flushLocked(false)
}

// flushLocked performs the actual head+body+end emission. forceClose
// forces Connection: Close regardless of keep-alive eligibility (used by
// EndWithError). Single-shot: r.ended latches before any I/O is
// attempted so a concurrent second call (queued behind this one on the
// same owner goroutine) always finds r.ended true.
func (r *Response) flushLocked(forceClose bool) {
	r.started = true
	r.ended = true

	if r.owner.Closed() {
		r.owner.Logger().WithError(ErrChannelGone).Warnf("write attempted after channel gone")
		return
	}

	keepAlive := !forceClose && r.clientWantsKeepAlive && !r.owner.KeepAlive().Exhausted()
	if keepAlive {
		timeout := r.owner.IdleTimeoutSeconds()
		r.headers.Set("Connection", []string{"Keep-Alive"})
		if remaining, limited := r.owner.KeepAlive().RequestsRemaining(); limited {
			r.headers.Set("Keep-Alive", []string{kaHeaderValue(timeout, &remaining)})
		} else {
			r.headers.Set("Keep-Alive", []string{kaHeaderValue(timeout, nil)})
		}
	} else if !forceClose {
		r.headers.Set("Connection", []string{"Close"})
	}

	if !r.headers.Has("Content-Length") {
		r.headers.Set("Content-Length", []string{strconv.Itoa(len(r.body))})
	}

	reason := proto.ReasonPhrase(r.statusCode)
	if err := r.owner.WriteHead(r.statusCode, reason, r.httpMajor, r.httpMinor, r.headers); err != nil {
		r.owner.Logger().WithError(err).Warnf("write head failed")
		r.owner.RequestClose()
		return
	}
	if len(r.body) > 0 {
		if err := r.owner.WriteBody(r.body); err != nil {
			r.owner.Logger().WithError(err).Warnf("write body failed")
			r.owner.RequestClose()
			return
		}
	}
	if err := r.owner.WriteEnd(); err != nil {
		r.owner.Logger().WithError(err).Warnf("write end failed")
		r.owner.RequestClose()
		return
	}

	r.owner.KeepAlive().Decrement()

	if !keepAlive {
		r.owner.RequestClose()
	}
}

func kaHeaderValue(timeoutSeconds int, max *uint32) string {
	v := "timeout=" + strconv.Itoa(timeoutSeconds)
	if max != nil {
		v += ", max=" + strconv.Itoa(int(*max))
	}
	return v
}
