// Package conn implements HTTPRequestHandler (spec.md §3, §4.5): the
// per-connection state machine that turns a stream of parsed HTTP
// message parts into dispatches of an application delegate, enforcing
// the request-size, connection-count, and idle-timeout limits along the
// way and diverting qualifying upgrade requests before dispatch.
//
// Grounded on the teacher's conn.serve loop (conn.go) for the overall
// per-connection shape, but reorganized around an explicit part stream
// instead of net/http's synchronous readRequest/ServeHTTP/finishRequest
// cycle, and around the spec's buffer-then-flush Response instead of a
// streaming ResponseWriter.
package conn

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/badu/nio-http/headers"
	"github.com/badu/nio-http/internal/wire"
	"github.com/badu/nio-http/keepalive"
	"github.com/badu/nio-http/logging"
	"github.com/badu/nio-http/metrics"
	"github.com/badu/nio-http/proto"
	"github.com/badu/nio-http/request"
	"github.com/badu/nio-http/response"
	"github.com/badu/nio-http/upgrade"
)

// State is one of HTTPRequestHandler's five connection states (spec.md
// §4.5).
type State uint8

const (
	StateIdle State = iota
	StateReceivingHead
	StateReceivingBody
	StateDispatched
	StateClosed
)

// DefaultIdleTimeoutSeconds is the spec's default idle watchdog period.
const DefaultIdleTimeoutSeconds = 60

// ServerOptions is spec.md §3's ServerOptions: optional request-size and
// connection-count limits, plus the response generators used when a
// limit is exceeded. A nil limit means unbounded.
type ServerOptions struct {
	RequestSizeLimit             *int64
	ConnectionLimit              *int32
	OverLimitRequestResponse     func() (status int, body string)
	OverLimitConnectionResponse  func() (status int, body string)
}

// Normalized returns a copy of o (or fresh defaults if o is nil) with
// both response generators defaulted per spec.md §8 scenario 3 and 4:
// 413 "Request Entity Too Long" for oversize requests, 503 "Service
// Unavailable" for over-limit connections.
func (o *ServerOptions) Normalized() *ServerOptions {
	out := ServerOptions{}
	if o != nil {
		out = *o
	}
	if out.OverLimitRequestResponse == nil {
		out.OverLimitRequestResponse = func() (int, string) { return 413, "Request Entity Too Long" }
	}
	if out.OverLimitConnectionResponse == nil {
		out.OverLimitConnectionResponse = func() (int, string) { return 503, "Service Unavailable" }
	}
	return &out
}

// ConnCounter is the server-wide atomic connection counter spec.md §5
// describes: incremented when a request's end is observed, and decremented
// once for each of those increments when that connection's channel goes
// inactive. This is a deliberate
// per-request (not per-connection) increment, matching the source
// behavior the spec documents explicitly: a burst of opens can
// transiently exceed the limit before any request completes.
type ConnCounter struct {
	limit *int32
	n     int32
}

// NewConnCounter returns a counter bounded by limit (nil = unbounded).
func NewConnCounter(limit *int32) *ConnCounter { return &ConnCounter{limit: limit} }

func (c *ConnCounter) increment() int32 {
	return atomic.AddInt32(&c.n, 1)
}

// Decrement undoes one increment. Handler.Serve calls it, when the
// connection's channel goes inactive, once per increment that connection
// made.
func (c *ConnCounter) Decrement() {
	atomic.AddInt32(&c.n, -1)
}

func (c *ConnCounter) exceeds(v int32) bool {
	return c.limit != nil && v > *c.limit
}

// Value reports the counter's current value, for diagnostics and tests.
func (c *ConnCounter) Value() int32 {
	return atomic.LoadInt32(&c.n)
}

// Delegate is the application handler a connection dispatches completed
// requests to, off the connection's own goroutine.
type Delegate interface {
	Handle(ctx context.Context, req *request.Request, resp *response.Response)
}

// DelegateFunc adapts a plain function to Delegate.
type DelegateFunc func(ctx context.Context, req *request.Request, resp *response.Response)

func (f DelegateFunc) Handle(ctx context.Context, req *request.Request, resp *response.Response) {
	f(ctx, req, resp)
}

// Monitor is the pair of monitoring callbacks spec.md §4.5 names:
// started fires right before dispatch, finished right after the
// response ends.
type Monitor struct {
	Started  func(*request.Request, *response.Response)
	Finished func(*request.Request, *response.Response)
}

// Config is everything a Handler needs, supplied by server.HTTPServer
// per accepted connection.
type Config struct {
	Options            *ServerOptions
	KeepAlivePolicy    keepalive.State // copied per connection
	IdleTimeoutSeconds int
	Upgrader           *upgrade.Registry
	Delegate           Delegate
	Monitor            Monitor
	ConnCounter        *ConnCounter
	// Dispatch runs fn on a worker; nil dispatches inline on a fresh
	// goroutine (used by tests and by callers without a shared pool).
	Dispatch   func(fn func())
	Logger     logging.Logger
	Metrics    *metrics.Reporter
	LocalHost  string
	LocalPort  int
	TLSEnabled bool
}

type dispatchItem struct {
	req  *request.Request
	resp *response.Response
}

// Handler is HTTPRequestHandler.
type Handler struct {
	id   string
	cfg  Config
	log  logging.Logger
	opts *ServerOptions

	rawConn net.Conn

	submit chan func()

	state              State
	errorResponseSent  bool
	upgraded           bool
	ka                 keepalive.State

	curReq *request.Request

	pendingMu    sync.Mutex
	pendingQueue []*dispatchItem
	dispatchOn   bool

	closed atomic.Bool

	// connCountedTimes is how many times this connection has incremented
	// cfg.ConnCounter (once per onEnd, success or over-limit rejection).
	// Serve's exit defer decrements it exactly that many times, since the
	// channel-inactive event (not RequestClose, which can fire once per
	// rejected request on a connection that keeps going) is the only
	// place spec.md §4.5 calls for the decrement.
	connCountedTimes int

	ctx       context.Context
	cancelCtx context.CancelFunc
}

// NewHandler constructs a Handler for one freshly accepted connection.
// ctx is the server's shutdown context; cancelling it eventually closes
// the connection once the in-flight response (if any) completes.
func NewHandler(ctx context.Context, cfg Config) *Handler {
	log := cfg.Logger
	if log == nil {
		log = logging.Default("conn")
	}
	id := uuid.NewString()
	log = log.WithField("conn_id", id)

	hctx, cancel := context.WithCancel(ctx)
	return &Handler{
		id:        id,
		cfg:       cfg,
		log:       log,
		opts:      cfg.Options.Normalized(),
		submit:    make(chan func(), 256),
		state:     StateIdle,
		ka:        cfg.KeepAlivePolicy,
		ctx:       hctx,
		cancelCtx: cancel,
	}
}

// ID returns the connection's log-correlation id.
func (h *Handler) ID() string { return h.id }

// Serve drives the connection to completion: reads requests, dispatches
// them, writes responses, until the peer disconnects, an unrecoverable
// protocol error occurs, idle timeout fires, Stop is called, or an
// upgrade hands ownership of rawConn to a protocol handler. It blocks
// until the connection is fully done and always closes rawConn itself
// (unless ownership was transferred by an upgrade).
func (h *Handler) Serve(rawConn net.Conn) {
	h.rawConn = rawConn
	defer h.cancelCtx()

	idleTimeout := h.idleTimeoutDuration()
	reader := wire.NewReader(rawConn)

	type event struct {
		head  *wire.Head
		chunk []byte
		end   bool
		err   error
	}
	events := make(chan event, 8)
	resume := make(chan bool, 1)

	// send delivers ev to the main loop, or gives up silently once the
	// handler's context is done (main loop has already exited, e.g.
	// after an error response closed the connection while this
	// goroutine was mid-read) so it never blocks forever on a reader
	// nobody is listening to anymore.
	send := func(ev event) bool {
		select {
		case events <- ev:
			return true
		case <-h.ctx.Done():
			return false
		}
	}

	go func() {
		for {
			rawConn.SetReadDeadline(time.Now().Add(idleTimeout))
			head, err := reader.ReadHead()
			if err != nil {
				send(event{err: err})
				return
			}
			if !send(event{head: head}) {
				return
			}
			var cont bool
			select {
			case cont = <-resume:
			case <-h.ctx.Done():
				return
			}
			if !cont {
				return // upgraded or closing: stop reading on this goroutine
			}
			for {
				rawConn.SetReadDeadline(time.Now().Add(idleTimeout))
				chunk, done, err := reader.ReadBodyChunk()
				if err != nil {
					send(event{err: err})
					return
				}
				if len(chunk) > 0 {
					if !send(event{chunk: chunk}) {
						return
					}
				}
				if done {
					send(event{end: true})
					break
				}
			}
		}
	}()

	defer func() {
		h.closed.Store(true)
		if h.cfg.ConnCounter != nil {
			for i := 0; i < h.connCountedTimes; i++ {
				h.cfg.ConnCounter.Decrement()
			}
		}
		if !h.upgraded {
			rawConn.Close()
		}
	}()

	for {
		select {
		case <-h.ctx.Done():
			h.drainSubmits()
			return

		case fn := <-h.submit:
			fn()
			if h.shouldStopAfterSubmit() {
				h.drainSubmits()
				return
			}

		case ev := <-events:
			switch {
			case ev.head != nil:
				cont := h.onHead(ev.head)
				resume <- cont
				if !cont {
					h.drainSubmits()
					return
				}
			case ev.chunk != nil:
				h.onBodyChunk(ev.chunk)
			case ev.end:
				h.onEnd()
			case ev.err != nil:
				h.onReadError(ev.err)
				h.drainSubmits()
				return
			}
		}
	}
}

func (h *Handler) drainSubmits() {
	for {
		select {
		case fn := <-h.submit:
			fn()
		default:
			return
		}
	}
}

func (h *Handler) shouldStopAfterSubmit() bool {
	return h.closed.Load() && h.state != StateDispatched
}

func (h *Handler) idleTimeoutDuration() time.Duration {
	s := h.cfg.IdleTimeoutSeconds
	if s <= 0 {
		s = DefaultIdleTimeoutSeconds
	}
	return time.Duration(s) * time.Second
}

// onHead implements the "head" transition of spec.md §4.5. Returns
// whether the read goroutine should continue on to read the body
// (false means: stop, either because of an upgrade hand-off or a
// synthesized error that is closing the connection).
func (h *Handler) onHead(head *wire.Head) bool {
	h.state = StateReceivingHead

	if neg, uerr := h.cfg.Upgrader.Evaluate(head.Headers, head.URI, head.SecWebSocketKeyCount, head.SecWebSocketVersionCount); uerr != nil {
		h.cfg.Metrics.CaptureUpgradeFailure()
		h.sendErrorAndClose(400, uerr.Message)
		return false
	} else if neg != nil {
		h.performUpgrade(head, neg)
		return false
	}

	if h.opts.RequestSizeLimit != nil && head.ContentLength >= 0 && head.ContentLength > *h.opts.RequestSizeLimit {
		status, body := h.opts.OverLimitRequestResponse()
		h.sendErrorAndClose(status, body)
		return false
	}

	h.curReq = request.New(head.Method, head.URI, head.Major, head.Minor,
		remoteHost(h.rawConn), h.cfg.LocalHost, h.cfg.LocalPort, h.cfg.TLSEnabled)
	h.curReq.Headers = head.Headers
	h.curReq.ClientWantsKeepAlive = head.KeepAliveRequested

	h.state = StateReceivingBody
	return true
}

func (h *Handler) onBodyChunk(chunk []byte) {
	if h.curReq == nil {
		return
	}
	h.curReq.AppendBody(chunk)
	if h.opts.RequestSizeLimit != nil && int64(h.curReq.BodyByteCount()) > *h.opts.RequestSizeLimit {
		status, body := h.opts.OverLimitRequestResponse()
		h.sendErrorAndClose(status, body)
		h.curReq = nil
	}
}

// onEnd implements the "end" transition: connection-counter check, then
// construct the Response and enqueue the delegate dispatch.
func (h *Handler) onEnd() {
	req := h.curReq
	h.curReq = nil
	if req == nil {
		return // body already aborted by an over-limit error
	}

	if h.cfg.ConnCounter != nil {
		n := h.cfg.ConnCounter.increment()
		h.connCountedTimes++
		if h.cfg.ConnCounter.exceeds(n) {
			h.cfg.Metrics.CaptureConnectionRejected()
			status, body := h.opts.OverLimitConnectionResponse()
			h.sendErrorAndClose(status, body)
			return
		}
	}

	resp := response.New(h, req.MajorVer, req.MinorVer, req.ClientWantsKeepAlive)
	if h.cfg.Monitor.Started != nil {
		h.cfg.Monitor.Started(req, resp)
	}

	h.state = StateDispatched
	h.enqueueDispatch(&dispatchItem{req: req, resp: resp})
}

func (h *Handler) enqueueDispatch(item *dispatchItem) {
	h.pendingMu.Lock()
	if h.dispatchOn {
		h.pendingQueue = append(h.pendingQueue, item)
		h.pendingMu.Unlock()
		return
	}
	h.dispatchOn = true
	h.pendingMu.Unlock()
	h.runDispatch(item)
}

// runDispatch calls the delegate on a worker, off the connection's own
// goroutine, per spec.md §4.5's "dispatch ... on a worker pool (not the
// I/O thread)". Only one dispatch is ever in flight per connection: the
// next queued item is not started until this one's response has at
// least been scheduled to end, which is what spec.md's "no pipelining
// reordering: pipelined requests are processed strictly in arrival
// order" requires.
func (h *Handler) runDispatch(item *dispatchItem) {
	run := func() {
		if h.cfg.Delegate != nil {
			h.cfg.Delegate.Handle(h.ctx, item.req, item.resp)
		}
		h.Submit(func() {
			item.resp.End() // no-op if the delegate already ended it
			if h.cfg.Monitor.Finished != nil {
				h.cfg.Monitor.Finished(item.req, item.resp)
			}
			h.afterDispatchFinished()
		})
	}
	if h.cfg.Dispatch != nil {
		h.cfg.Dispatch(run)
	} else {
		go run()
	}
}

func (h *Handler) afterDispatchFinished() {
	h.pendingMu.Lock()
	var next *dispatchItem
	if len(h.pendingQueue) > 0 {
		next = h.pendingQueue[0]
		h.pendingQueue = h.pendingQueue[1:]
	} else {
		h.dispatchOn = false
	}
	h.pendingMu.Unlock()

	if next != nil {
		h.runDispatch(next)
		return
	}
	if h.state == StateDispatched {
		h.state = StateIdle
	}
}

// onReadError implements the "parser/protocol error", "idle timeout",
// and "channel inactive" transitions of spec.md §4.5.
func (h *Handler) onReadError(err error) {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		h.log.Debugf("idle timeout")
		return
	}
	if errors.Is(err, io.EOF) {
		// A clean close at a request boundary: the peer is done, not
		// misbehaving. Channel-inactive, not a ParseError (spec.md
		// §4.5/§7) — close silently.
		h.log.Debugf("connection closed by peer")
		return
	}
	h.sendErrorAndClose(400, "Bad Request: "+err.Error())
}

// sendErrorAndClose implements spec.md §4.5/§7's errorResponseSent
// latch: at most one error response is ever emitted per connection.
func (h *Handler) sendErrorAndClose(status int, message string) {
	if h.errorResponseSent {
		return
	}
	h.errorResponseSent = true
	resp := response.New(h, 1, 1, false)
	resp.EndWithError(status, message)
}

func (h *Handler) performUpgrade(head *wire.Head, neg *upgrade.Negotiation) {
	h.upgraded = true
	respHeaders := headers.New()
	respHeaders.SetOne("Upgrade", "websocket")
	respHeaders.SetOne("Connection", "Upgrade")
	respHeaders.SetOne("Sec-WebSocket-Accept", neg.Accept)
	if neg.Protocol != "" {
		respHeaders.SetOne("Sec-WebSocket-Protocol", neg.Protocol)
	}
	for name, values := range neg.ExtraHeaders {
		respHeaders.AppendAll(name, values)
	}

	if err := h.WriteHead(101, proto.ReasonPhrase(101), head.Major, head.Minor, respHeaders); err != nil {
		h.log.WithError(err).Warnf("upgrade response write failed")
		h.cfg.Metrics.CaptureUpgradeFailure()
		h.rawConn.Close()
		return
	}
	if err := h.WriteEnd(); err != nil {
		h.log.WithError(err).Warnf("upgrade response flush failed")
		h.cfg.Metrics.CaptureUpgradeFailure()
		h.rawConn.Close()
		return
	}

	connHandler, err := neg.Factory.HandlerFor(head.URI)
	if err != nil || connHandler == nil {
		h.log.WithError(err).Warnf("upgrade factory produced no handler")
		h.cfg.Metrics.CaptureUpgradeFailure()
		h.rawConn.Close()
		return
	}

	h.cfg.Metrics.CaptureUpgrade()
	conn := h.rawConn
	go func() {
		for _, ext := range neg.ExtensionChain {
			ext.Serve(conn)
		}
		connHandler.Serve(conn)
	}()
}

func remoteHost(c net.Conn) string {
	if c == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(c.RemoteAddr().String())
	if err != nil {
		return c.RemoteAddr().String()
	}
	return host
}

// --- Owner (response.Owner) implementation -------------------------------

// Submit schedules fn to run on this connection's own goroutine, per
// response.Owner's contract.
func (h *Handler) Submit(fn func()) {
	select {
	case h.submit <- fn:
	case <-h.ctx.Done():
	}
}

// WriteHead, WriteBody, WriteEnd perform the actual framing onto
// rawConn. They are only ever invoked from inside a Submit closure, so
// they always run on the connection's own goroutine.
func (h *Handler) WriteHead(statusCode int, reason string, major, minor int, hdrs *headers.Container) error {
	if _, err := h.rawConn.Write([]byte("HTTP/" + itoa(major) + "." + itoa(minor) + " " + itoa(statusCode) + " " + reason + "\r\n")); err != nil {
		return err
	}
	var writeErr error
	hdrs.Range(func(name string, values []string) bool {
		for _, v := range values {
			if _, err := h.rawConn.Write([]byte(name + ": " + v + "\r\n")); err != nil {
				writeErr = err
				return false
			}
		}
		return true
	})
	if writeErr != nil {
		return writeErr
	}
	_, err := h.rawConn.Write([]byte("\r\n"))
	return err
}

func (h *Handler) WriteBody(b []byte) error {
	_, err := h.rawConn.Write(b)
	return err
}

func (h *Handler) WriteEnd() error { return nil }

// RequestClose asks the connection to close after the in-flight write
// completes. The server-wide connection counter is not touched here: it
// is decremented in Serve's exit defer, once per increment this
// connection made, when the channel actually goes inactive (spec.md
// §4.5's "channel inactive: decrement
// the connection counter" — RequestClose can fire more than once per
// connection, e.g. once per rejected pipelined request).
func (h *Handler) RequestClose() {
	h.cancelCtx()
}

// Closed reports whether the channel is already gone.
func (h *Handler) Closed() bool { return h.closed.Load() }

// KeepAlive exposes this connection's keep-alive counter.
func (h *Handler) KeepAlive() *keepalive.State { return &h.ka }

// IdleTimeoutSeconds is the configured idle-timeout, advertised in the
// Keep-Alive response header.
func (h *Handler) IdleTimeoutSeconds() int {
	s := h.cfg.IdleTimeoutSeconds
	if s <= 0 {
		return DefaultIdleTimeoutSeconds
	}
	return s
}

// Logger returns this connection's correlated logger.
func (h *Handler) Logger() logging.Logger { return h.log }

func itoa(n int) string { return strconv.Itoa(n) }
