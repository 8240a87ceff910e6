// Package lifecycle implements two spec.md §2/§5 components:
//
//   - Listeners: a registry of started/stopped/failed/client-connect-failed
//     callbacks (ServerLifecycleListener), grounded on the teacher's
//     srvEvDispatcher/ServerEventHandler pub-sub idiom but simplified to
//     the four fixed event kinds the spec names, and made safe for a late
//     subscriber on an already-resolved server (spec.md §5: "a late
//     subscriber on an already-started/stopped server fires immediately").
//   - Group: a process-wide wait-group over listener tasks and their open
//     child connections, used by server.HTTPServer to quiesce on Stop
//     (spec.md §4.6). Built on golang.org/x/sync/errgroup the way
//     nabbar-golib's go.mod pulls in x/sync for exactly this kind of
//     fan-in/fan-out bookkeeping.
package lifecycle

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// State is the one-way lifecycle of an HTTPServer (spec.md §4.6).
type State uint8

const (
	StateUnknown State = iota
	StateStarted
	StateStopped
	StateFailed
)

// Listeners is ServerLifecycleListener: a registry of lifecycle callbacks,
// serialized against state reads so a late subscriber on an
// already-resolved server fires immediately instead of missing the event.
type Listeners struct {
	mu       sync.Mutex
	state    State
	failErr  error
	started  []func()
	stopped  []func()
	failed   []func(error)
	connFail []func(error)
}

// NewListeners returns an empty, StateUnknown registry.
func NewListeners() *Listeners {
	return &Listeners{}
}

// OnStarted registers cb for the started event. If the server already
// started, cb fires immediately on the calling goroutine.
func (l *Listeners) OnStarted(cb func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateStarted {
		cb()
		return
	}
	l.started = append(l.started, cb)
}

// OnStopped registers cb for the stopped event, firing immediately if the
// server already stopped.
func (l *Listeners) OnStopped(cb func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateStopped {
		cb()
		return
	}
	l.stopped = append(l.stopped, cb)
}

// OnFailed registers cb for the failed event, firing immediately with the
// recorded error if the server already failed.
func (l *Listeners) OnFailed(cb func(error)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateFailed {
		cb(l.failErr)
		return
	}
	l.failed = append(l.failed, cb)
}

// OnClientConnectFailed registers cb, called every time a child connection
// fails to establish (e.g. TLS handshake failure). There is no "already
// happened" replay for this one: it is a recurring event, not a terminal
// state transition.
func (l *Listeners) OnClientConnectFailed(cb func(error)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connFail = append(l.connFail, cb)
}

// State returns the current lifecycle state.
func (l *Listeners) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// FireStarted transitions to StateStarted and invokes every registered
// started callback. No-op if already past StateUnknown.
func (l *Listeners) FireStarted() {
	l.mu.Lock()
	if l.state != StateUnknown {
		l.mu.Unlock()
		return
	}
	l.state = StateStarted
	cbs := l.started
	l.mu.Unlock()
	for _, cb := range cbs {
		cb()
	}
}

// FireStopped transitions to StateStopped and invokes every registered
// stopped callback.
func (l *Listeners) FireStopped() {
	l.mu.Lock()
	if l.state == StateStopped || l.state == StateFailed {
		l.mu.Unlock()
		return
	}
	l.state = StateStopped
	cbs := l.stopped
	l.mu.Unlock()
	for _, cb := range cbs {
		cb()
	}
}

// FireFailed transitions to StateFailed and invokes every registered
// failed callback with err.
func (l *Listeners) FireFailed(err error) {
	l.mu.Lock()
	if l.state != StateUnknown {
		l.mu.Unlock()
		return
	}
	l.state = StateFailed
	l.failErr = err
	cbs := l.failed
	l.mu.Unlock()
	for _, cb := range cbs {
		cb(err)
	}
}

// FireClientConnectFailed invokes every registered client-connect-failed
// callback with err. Does not touch lifecycle state.
func (l *Listeners) FireClientConnectFailed(err error) {
	l.mu.Lock()
	cbs := l.connFail
	l.mu.Unlock()
	for _, cb := range cbs {
		cb(err)
	}
}

// Group is ListenerGroup: a process-wide wait-group over listener
// goroutines and their open child connections, used to implement
// quiescing graceful shutdown.
type Group struct {
	eg  *errgroup.Group
	ctx context.Context

	mu       sync.Mutex
	children map[uint64]func()
	nextID   uint64
}

// NewGroup returns a Group bound to ctx; cancelling ctx (or any tracked
// task returning an error) cancels the group's derived context.
func NewGroup(ctx context.Context) *Group {
	eg, gctx := errgroup.WithContext(ctx)
	return &Group{eg: eg, ctx: gctx, children: make(map[uint64]func())}
}

// Context returns the group's derived context.
func (g *Group) Context() context.Context { return g.ctx }

// Go tracks fn as a listener task.
func (g *Group) Go(fn func() error) {
	g.eg.Go(fn)
}

// TrackChild registers a currently-open child connection together with
// requestClose, which the Group calls during quiescing to ask that
// connection to close, and returns an id used to untrack it (on close).
func (g *Group) TrackChild(requestClose func()) (id uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	id = g.nextID
	g.children[id] = requestClose
	return id
}

// UntrackChild removes a child tracked by TrackChild, called when that
// connection's channel goes inactive.
func (g *Group) UntrackChild(id uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.children, id)
}

// Quiesce asks every tracked child to finish its in-flight response and
// close, then waits for every listener task tracked via Go to return.
func (g *Group) Quiesce() error {
	g.mu.Lock()
	closers := make([]func(), 0, len(g.children))
	for _, c := range g.children {
		closers = append(closers, c)
	}
	g.mu.Unlock()

	for _, c := range closers {
		c()
	}
	return g.eg.Wait()
}

// OpenChildCount reports how many children are currently tracked.
func (g *Group) OpenChildCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.children)
}
