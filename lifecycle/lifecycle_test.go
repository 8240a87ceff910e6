package lifecycle_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/badu/nio-http/lifecycle"
)

func TestLateSubscriberOnStartedFiresImmediately(t *testing.T) {
	l := lifecycle.NewListeners()
	l.FireStarted()

	fired := false
	l.OnStarted(func() { fired = true })
	assert.True(t, fired)
}

func TestLateSubscriberOnFailedFiresImmediatelyWithError(t *testing.T) {
	l := lifecycle.NewListeners()
	want := errors.New("bind failed")
	l.FireFailed(want)

	var got error
	l.OnFailed(func(err error) { got = err })
	assert.Equal(t, want, got)
}

func TestFailedIsTerminalNotStopped(t *testing.T) {
	l := lifecycle.NewListeners()
	l.FireFailed(errors.New("x"))
	l.FireStopped()
	assert.Equal(t, lifecycle.StateFailed, l.State())
}

func TestGroupQuiesceWaitsForChildrenAndTasks(t *testing.T) {
	g := lifecycle.NewGroup(context.Background())
	closed := false
	closeRequested := make(chan struct{})
	id := g.TrackChild(func() {
		closed = true
		close(closeRequested)
	})

	done := make(chan struct{})
	g.Go(func() error {
		<-done
		return nil
	})

	go func() {
		<-closeRequested
		g.UntrackChild(id)
		close(done)
	}()

	err := g.Quiesce()
	assert.NoError(t, err)
	assert.True(t, closed)
}
