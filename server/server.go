// Package server implements HTTPServer (spec.md §3, §4.6): the
// top-level bootstrap that owns a listener, accepts connections, and
// turns each one into a conn.Handler. Grounded on nabbar-golib's
// httpserver.Server for the Listen/Restart/Shutdown/WaitNotify shape
// (server.go), but built around this module's own conn.Handler instead
// of wrapping net/http.Server, and using lifecycle.Group/Listeners
// (spec.md §5) for quiescing and event dispatch instead of a bare
// context.CancelFunc.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/badu/nio-http/conn"
	"github.com/badu/nio-http/keepalive"
	"github.com/badu/nio-http/lifecycle"
	"github.com/badu/nio-http/logging"
	"github.com/badu/nio-http/metrics"
	"github.com/badu/nio-http/request"
	"github.com/badu/nio-http/response"
	"github.com/badu/nio-http/upgrade"
)

// DefaultShutdownTimeout bounds how long Stop waits for in-flight
// connections to quiesce before giving up and returning an error.
const DefaultShutdownTimeout = 10 * time.Second

// tlsHandshakeTimeout bounds the lazy TLS handshake performed off the
// accept path, per spec.md §7's TLSHandshakeFailure transition: "must
// not block the accept path".
const tlsHandshakeTimeout = 10 * time.Second

// Config is everything HTTPServer needs to accept connections and wire
// them to a conn.Handler. Only Delegate is required; everything else
// defaults sensibly.
type Config struct {
	TLSConfig       *tls.Config
	AllowPortReuse  bool
	ShutdownTimeout time.Duration

	IdleTimeoutSeconds int
	KeepAlivePolicy    keepalive.State
	Options            *conn.ServerOptions
	Upgrader           *upgrade.Registry
	Delegate           conn.Delegate
	Monitor            conn.Monitor
	Dispatch           func(fn func())
	Logger             logging.Logger
	Metrics            *metrics.Reporter
}

// HTTPServer is the spec's top-level bootstrap. The zero value is not
// usable; construct with New.
type HTTPServer struct {
	cfg Config

	listeners *lifecycle.Listeners
	group     *lifecycle.Group
	counter   *conn.ConnCounter

	mu        sync.Mutex
	listener  net.Listener
	rootCtx   context.Context
	cancel    context.CancelFunc
	localHost string
	localPort int
	tls       bool
}

// New constructs an HTTPServer. It does not start listening; call
// Listen or ListenUnix.
func New(cfg Config) *HTTPServer {
	if cfg.Upgrader == nil {
		cfg.Upgrader = upgrade.NewRegistry()
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Default("server")
	}
	cfg.Logger = log

	ctx, cancel := context.WithCancel(context.Background())
	return &HTTPServer{
		cfg:       cfg,
		listeners: lifecycle.NewListeners(),
		group:     lifecycle.NewGroup(ctx),
		counter:   conn.NewConnCounter(optionsConnectionLimit(cfg.Options)),
		rootCtx:   ctx,
		cancel:    cancel,
	}
}

func optionsConnectionLimit(o *conn.ServerOptions) *int32 {
	if o == nil {
		return nil
	}
	return o.ConnectionLimit
}

// Listeners exposes the server's ServerLifecycleListener registry so
// callers can subscribe before or after Listen.
func (s *HTTPServer) Listeners() *lifecycle.Listeners { return s.listeners }

// OpenConnectionCount reports how many connections are currently being
// served, for diagnostics.
func (s *HTTPServer) OpenConnectionCount() int { return s.group.OpenChildCount() }

// Addr returns the address Listen/ListenUnix bound, in host:port form
// (or the raw path for a Unix socket). Empty until a Listen call
// succeeds.
func (s *HTTPServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Listen binds a TCP listener on address:port (address empty means all
// interfaces) and starts accepting connections in the background.
func (s *HTTPServer) Listen(port int, address string) error {
	lc := net.ListenConfig{Control: s.reuseControl()}
	addr := net.JoinHostPort(address, strconv.Itoa(port))
	ln, err := lc.Listen(s.rootCtx, "tcp", addr)
	if err != nil {
		s.listeners.FireFailed(err)
		return err
	}
	host := address
	actualPort := port
	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		host = tcpAddr.IP.String()
		actualPort = tcpAddr.Port
	}
	return s.start(ln, host, actualPort)
}

// ListenUnix binds a Unix domain socket at path and starts accepting
// connections in the background.
func (s *HTTPServer) ListenUnix(path string) error {
	ln, err := net.Listen("unix", path)
	if err != nil {
		s.listeners.FireFailed(err)
		return err
	}
	return s.start(ln, path, 0)
}

func (s *HTTPServer) start(ln net.Listener, host string, port int) error {
	s.mu.Lock()
	s.listener = ln
	s.localHost = host
	s.localPort = port
	s.tls = s.cfg.TLSConfig != nil
	if s.tls {
		ln = tls.NewListener(ln, s.cfg.TLSConfig)
		s.listener = ln
	}
	s.mu.Unlock()

	s.group.Go(func() error {
		s.acceptLoop(ln)
		return nil
	})
	s.listeners.FireStarted()
	return nil
}

// reuseControl returns the net.ListenConfig.Control hook that sets
// SO_REUSEADDR (and, when requested, SO_REUSEPORT) on the listening
// socket before bind, grounded on the teacher's tcpKeepAliveListener
// idiom of tuning a raw socket right after it's created. There is no
// collaborator in the example pack for platform socket options, so this
// is one of the few places that reaches directly for the standard
// library's syscall package.
func (s *HTTPServer) reuseControl() func(network, address string, c syscall.RawConn) error {
	allowPortReuse := s.cfg.AllowPortReuse
	return func(network, address string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			if sockErr == nil && allowPortReuse {
				sockErr = setReusePort(int(fd))
			}
		})
		if err != nil {
			return err
		}
		return sockErr
	}
}

// setReusePort sets SO_REUSEPORT, letting multiple processes (or
// listeners within this one) bind the same port for load-balanced
// accept. Linux-specific; the constant is unavailable on platforms that
// don't support the option.
func setReusePort(fd int) error {
	return syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_REUSEPORT, 1)
}

// acceptLoop is the listener's own goroutine: it never blocks on
// anything but Accept, so a slow TLS handshake or slow request on one
// connection can never stall acceptance of the next.
func (s *HTTPServer) acceptLoop(ln net.Listener) {
	for {
		rawConn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.cfg.Logger.WithError(err).Warnf("accept failed")
			return
		}
		s.group.Go(func() error {
			s.handleAccepted(rawConn)
			return nil
		})
	}
}

// enableNoDelay sets TCP_NODELAY on c's underlying TCP socket, per
// spec.md §4.6's "child sockets set TCP_NODELAY=1". c may be a bare
// *net.TCPConn or a *tls.Conn wrapping one.
func enableNoDelay(c net.Conn) {
	if tlsConn, ok := c.(*tls.Conn); ok {
		c = tlsConn.NetConn()
	}
	if tcpConn, ok := c.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}
}

// handleAccepted completes any lazy TLS handshake off the accept path,
// then drives the connection via conn.Handler until it closes.
func (s *HTTPServer) handleAccepted(rawConn net.Conn) {
	enableNoDelay(rawConn)

	if tlsConn, ok := rawConn.(*tls.Conn); ok {
		tlsConn.SetDeadline(time.Now().Add(tlsHandshakeTimeout))
		if err := tlsConn.HandshakeContext(s.rootCtx); err != nil {
			s.listeners.FireClientConnectFailed(err)
			s.cfg.Metrics.CaptureConnectionRejected()
			rawConn.Close()
			return
		}
		tlsConn.SetDeadline(time.Time{})
	}

	s.cfg.Metrics.CaptureConnectionOpened()
	h := conn.NewHandler(s.rootCtx, conn.Config{
		Options:            s.cfg.Options,
		KeepAlivePolicy:    s.cfg.KeepAlivePolicy,
		IdleTimeoutSeconds: s.cfg.IdleTimeoutSeconds,
		Upgrader:           s.cfg.Upgrader,
		Delegate:           s.cfg.Delegate,
		Monitor:            s.monitorWithMetrics(),
		ConnCounter:        s.counter,
		Dispatch:           s.cfg.Dispatch,
		Logger:             s.cfg.Logger,
		Metrics:            s.cfg.Metrics,
		LocalHost:          s.localHost,
		LocalPort:          s.localPort,
		TLSEnabled:         s.tls,
	})

	id := s.group.TrackChild(h.RequestClose)
	h.Serve(rawConn)
	s.group.UntrackChild(id)
	s.cfg.Metrics.CaptureConnectionClosed()
}

// monitorWithMetrics wraps the configured Monitor so every dispatch also
// updates s.cfg.Metrics, without requiring callers to do it themselves.
func (s *HTTPServer) monitorWithMetrics() conn.Monitor {
	m := s.cfg.Monitor
	var startedAt sync.Map // *request.Request -> time.Time

	return conn.Monitor{
		Started: func(req *request.Request, resp *response.Response) {
			startedAt.Store(req, time.Now())
			if m.Started != nil {
				m.Started(req, resp)
			}
		},
		Finished: func(req *request.Request, resp *response.Response) {
			if v, ok := startedAt.LoadAndDelete(req); ok {
				s.cfg.Metrics.CaptureRequest(resp.StatusCode(), time.Since(v.(time.Time)))
			}
			if m.Finished != nil {
				m.Finished(req, resp)
			}
		},
	}
}

// Stop closes the listener and asks every in-flight connection to
// finish and close, aggregating any failures with go-multierror the way
// spec.md §4.6 documents for HTTPServer.Stop's plural failure mode.
func (s *HTTPServer) Stop() error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()

	var result *multierror.Error
	if ln != nil {
		if err := ln.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	done := make(chan error, 1)
	go func() { done <- s.group.Quiesce() }()

	select {
	case err := <-done:
		if err != nil {
			result = multierror.Append(result, err)
		}
	case <-time.After(timeout):
		result = multierror.Append(result, errors.New("server: shutdown timed out waiting for connections to quiesce"))
	}

	s.cancel()
	s.listeners.FireStopped()
	return result.ErrorOrNil()
}

// WaitNotify blocks until SIGINT, SIGTERM, or SIGQUIT is received, then
// calls Stop. Grounded on nabbar-golib httpserver.Server.WaitNotify.
func (s *HTTPServer) WaitNotify() error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(quit)

	select {
	case <-quit:
	case <-s.rootCtx.Done():
	}
	return s.Stop()
}
