package keepalive_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/badu/nio-http/keepalive"
)

func TestUnlimitedNeverExhausts(t *testing.T) {
	s := keepalive.Unlimited()
	for i := 0; i < 1000; i++ {
		s.Decrement()
	}
	assert.False(t, s.Exhausted())
	_, ok := s.RequestsRemaining()
	assert.False(t, ok)
}

func TestLimitedSaturatesAtZero(t *testing.T) {
	s := keepalive.Limited(2)
	s.Decrement()
	s.Decrement()
	s.Decrement()
	remaining, ok := s.RequestsRemaining()
	assert.True(t, ok)
	assert.Equal(t, uint32(0), remaining)
	assert.True(t, s.Exhausted())
}

func TestLimitedExactCount(t *testing.T) {
	s := keepalive.Limited(3)
	served := 0
	for !s.Exhausted() {
		served++
		s.Decrement()
	}
	assert.Equal(t, 3, served)
}
