package request_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/badu/nio-http/request"
)

func TestURLFullUsesHostHeader(t *testing.T) {
	r := request.New("get", "/a/b?c=1", 1, 1, "10.0.0.1", "localhost", 8080, false)
	r.Headers.SetOne("Host", "example.com")
	assert.Equal(t, "http://example.com:8080/a/b?c=1", r.URLFull())
}

func TestURLFullFallsBackToLocalAddress(t *testing.T) {
	r := request.New("GET", "/", 1, 1, "10.0.0.1", "localhost", 8080, true)
	assert.Equal(t, "https://localhost:8080/", r.URLFull())
}

func TestURLFullIsCachedAfterFirstCall(t *testing.T) {
	r := request.New("GET", "/x", 1, 1, "10.0.0.1", "localhost", 80, false)
	r.Headers.SetOne("Host", "first.example.com")
	first := r.URLFull()
	r.Headers.SetOne("Host", "second.example.com")
	assert.Equal(t, first, r.URLFull())
}

func TestMethodIsUppercased(t *testing.T) {
	r := request.New("get", "/", 1, 1, "", "", 0, false)
	assert.Equal(t, "GET", r.Method)
}

func TestReadDrainsBodyThenReturnsZero(t *testing.T) {
	r := request.New("POST", "/", 1, 1, "", "", 0, false)
	r.AppendBody([]byte("hello"))

	buf := make([]byte, 3)
	n := r.Read(buf)
	assert.Equal(t, 3, n)
	assert.Equal(t, "hel", string(buf[:n]))

	n = r.Read(buf)
	assert.Equal(t, 2, n)

	n = r.Read(buf)
	assert.Equal(t, 0, n)
}

func TestReadStringRejectsInvalidUTF8(t *testing.T) {
	r := request.New("POST", "/", 1, 1, "", "", 0, false)
	r.AppendBody([]byte{0xff, 0xfe})
	_, ok := r.ReadString()
	assert.False(t, ok)
}

func TestReadStringAcceptsValidUTF8(t *testing.T) {
	r := request.New("POST", "/", 1, 1, "", "", 0, false)
	r.AppendBody([]byte("héllo"))
	s, ok := r.ReadString()
	assert.True(t, ok)
	assert.Equal(t, "héllo", s)
}
