package response_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/badu/nio-http/headers"
	"github.com/badu/nio-http/keepalive"
	"github.com/badu/nio-http/logging"
	"github.com/badu/nio-http/response"
)

// fakeOwner runs Submit synchronously (as if always already on the
// connection's goroutine) and records every frame written, so tests can
// assert deterministically without a real socket.
type fakeOwner struct {
	ka         keepalive.State
	idle       int
	closed     bool
	closeAsked bool

	statusCode int
	reason     string
	headers    *headers.Container
	bodyChunks [][]byte
	ended      bool

	failHead bool
}

func newFakeOwner(ka keepalive.State) *fakeOwner {
	return &fakeOwner{ka: ka, idle: 60}
}

func (f *fakeOwner) Submit(fn func())    { fn() }
func (f *fakeOwner) RequestClose()       { f.closeAsked = true }
func (f *fakeOwner) Closed() bool        { return f.closed }
func (f *fakeOwner) KeepAlive() *keepalive.State { return &f.ka }
func (f *fakeOwner) IdleTimeoutSeconds() int     { return f.idle }
func (f *fakeOwner) Logger() logging.Logger      { return logging.Default("test") }

func (f *fakeOwner) WriteHead(status int, reason string, major, minor int, h *headers.Container) error {
	f.statusCode = status
	f.reason = reason
	f.headers = h.Clone()
	return nil
}

func (f *fakeOwner) WriteBody(b []byte) error {
	f.bodyChunks = append(f.bodyChunks, append([]byte(nil), b...))
	return nil
}

func (f *fakeOwner) WriteEnd() error {
	f.ended = true
	return nil
}

func TestEndEmitsConnectionCloseWhenClientDidNotRequestKeepAlive(t *testing.T) {
	owner := newFakeOwner(keepalive.Unlimited())
	r := response.New(owner, 1, 1, false)
	r.SetHeader("Content-Type", "text/plain")
	_, _ = r.WriteString("Hello, World!")
	r.End()

	require.True(t, owner.ended)
	assert.Equal(t, 200, owner.statusCode)
	assert.Equal(t, []string{"Close"}, owner.headers.Get("Connection"))
	assert.Equal(t, "Hello, World!", string(owner.bodyChunks[0]))
	assert.True(t, owner.closeAsked)
}

func TestEndEmitsKeepAliveWhenEligible(t *testing.T) {
	owner := newFakeOwner(keepalive.Limited(5))
	r := response.New(owner, 1, 1, true)
	r.End()

	assert.Equal(t, []string{"Keep-Alive"}, owner.headers.Get("Connection"))
	assert.Equal(t, []string{"timeout=60, max=5"}, owner.headers.Get("Keep-Alive"))
	assert.False(t, owner.closeAsked)

	remaining, _ := owner.ka.RequestsRemaining()
	assert.Equal(t, uint32(4), remaining)
}

func TestKeepAliveNotAdvertisedWhenExhausted(t *testing.T) {
	owner := newFakeOwner(keepalive.Limited(0))
	r := response.New(owner, 1, 1, true)
	r.End()

	assert.Equal(t, []string{"Close"}, owner.headers.Get("Connection"))
	assert.True(t, owner.closeAsked)
}

func TestEndWithErrorForcesConnectionClose(t *testing.T) {
	owner := newFakeOwner(keepalive.Unlimited())
	r := response.New(owner, 1, 1, true)
	r.EndWithError(413, "too large")

	assert.Equal(t, 413, owner.statusCode)
	assert.Equal(t, []string{"Close"}, owner.headers.Get("Connection"))
	assert.True(t, owner.closeAsked)
}

func TestSingleShotSecondEndIsNoop(t *testing.T) {
	owner := newFakeOwner(keepalive.Unlimited())
	r := response.New(owner, 1, 1, false)
	r.End()
	firstStatus := owner.statusCode

	r.SetStatusCode(500)
	r.End()

	assert.Equal(t, firstStatus, owner.statusCode)
}

func TestHeaderMutationIgnoredAfterHeadStarted(t *testing.T) {
	owner := newFakeOwner(keepalive.Unlimited())
	r := response.New(owner, 1, 1, false)
	r.End()
	r.SetHeader("X-Late", "nope")
	assert.False(t, owner.headers.Has("X-Late"))
}

func TestWriteAfterChannelGoneIsLoggedNotPanicking(t *testing.T) {
	owner := newFakeOwner(keepalive.Unlimited())
	owner.closed = true
	r := response.New(owner, 1, 1, false)
	assert.NotPanics(t, func() {
		r.End()
	})
	assert.False(t, owner.ended)
}
