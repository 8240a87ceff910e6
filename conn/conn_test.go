package conn_test

import (
	"bufio"
	"context"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/badu/nio-http/conn"
	"github.com/badu/nio-http/keepalive"
	"github.com/badu/nio-http/request"
	"github.com/badu/nio-http/response"
	"github.com/badu/nio-http/upgrade"
)

// rawResponse is a status line plus a parsed header map, used to assert
// against raw bytes written back over the pipe without pulling in a
// full client-side parser.
type rawResponse struct {
	statusLine string
	headers    map[string]string
	body       string
}

func readRawResponse(t *testing.T, r *bufio.Reader) rawResponse {
	t.Helper()
	statusLine, err := r.ReadString('\n')
	require.NoError(t, err)

	headers := map[string]string{}
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		idx := strings.IndexByte(line, ':')
		require.GreaterOrEqual(t, idx, 0)
		headers[strings.TrimSpace(line[:idx])] = strings.TrimSpace(line[idx+1:])
	}

	body := ""
	if cl, ok := headers["Content-Length"]; ok {
		n, err := strconv.Atoi(cl)
		require.NoError(t, err)
		buf := make([]byte, n)
		_, err = io_ReadFull(r, buf)
		require.NoError(t, err)
		body = string(buf)
	}

	return rawResponse{statusLine: strings.TrimRight(statusLine, "\r\n"), headers: headers, body: body}
}

// io_ReadFull reads exactly len(buf) bytes from r, stopping early only on
// a read error.
func io_ReadFull(r *bufio.Reader, buf []byte) (int, error) {
	read := 0
	for read < len(buf) {
		n, err := r.Read(buf[read:])
		read += n
		if err != nil {
			return read, err
		}
	}
	return read, nil
}

func startHandler(t *testing.T, cfg conn.Config) (client net.Conn, done chan struct{}) {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	h := conn.NewHandler(context.Background(), cfg)
	done = make(chan struct{})
	go func() {
		h.Serve(serverSide)
		close(done)
	}()
	t.Cleanup(func() { clientSide.Close() })
	return clientSide, done
}

func echoDelegate(status int, body string, contentType string) conn.Delegate {
	return conn.DelegateFunc(func(_ context.Context, _ *request.Request, resp *response.Response) {
		resp.SetStatusCode(status)
		if contentType != "" {
			resp.SetHeader("Content-Type", contentType)
		}
		resp.EndWithText(body)
	})
}

func TestRoundTripWithKeepAliveSurvives(t *testing.T) {
	client, done := startHandler(t, conn.Config{
		KeepAlivePolicy: keepalive.Unlimited(),
		Upgrader:        upgrade.NewRegistry(),
		Delegate:        echoDelegate(200, "hello", "text/plain"),
	})

	_, err := client.Write([]byte("GET / HTTP/1.1\r\nHost: example.com\r\n\r\n"))
	require.NoError(t, err)

	r := bufio.NewReader(client)
	resp := readRawResponse(t, r)
	assert.Equal(t, "HTTP/1.1 200 OK", resp.statusLine)
	assert.Equal(t, "hello", resp.body)
	assert.Equal(t, "Keep-Alive", resp.headers["Connection"])

	_, err = client.Write([]byte("GET /again HTTP/1.1\r\nHost: example.com\r\n\r\n"))
	require.NoError(t, err)
	second := readRawResponse(t, r)
	assert.Equal(t, "HTTP/1.1 200 OK", second.statusLine)

	client.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not exit after client closed")
	}
}

func TestRoundTripClosesWhenClientDoesNotRequestKeepAlive(t *testing.T) {
	client, done := startHandler(t, conn.Config{
		KeepAlivePolicy: keepalive.Unlimited(),
		Upgrader:        upgrade.NewRegistry(),
		Delegate:        echoDelegate(200, "bye", ""),
	})

	_, err := client.Write([]byte("GET / HTTP/1.1\r\nHost: example.com\r\nConnection: close\r\n\r\n"))
	require.NoError(t, err)

	r := bufio.NewReader(client)
	resp := readRawResponse(t, r)
	assert.Equal(t, "Close", resp.headers["Connection"])

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not close connection")
	}
}

func TestOversizeRequestGetsConfiguredOverLimitResponse(t *testing.T) {
	limit := int64(10)
	client, done := startHandler(t, conn.Config{
		Options:         &conn.ServerOptions{RequestSizeLimit: &limit},
		KeepAlivePolicy: keepalive.Unlimited(),
		Upgrader:        upgrade.NewRegistry(),
		Delegate:        echoDelegate(200, "unreachable", ""),
	})

	body := strings.Repeat("x", 1000)
	_, err := client.Write([]byte("POST / HTTP/1.1\r\nHost: example.com\r\nContent-Length: " +
		strconv.Itoa(len(body)) + "\r\n\r\n" + body))
	require.NoError(t, err)

	r := bufio.NewReader(client)
	resp := readRawResponse(t, r)
	assert.Equal(t, "HTTP/1.1 413 Request Entity Too Large", resp.statusLine)
	assert.Equal(t, "Close", resp.headers["Connection"])

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not close connection")
	}
}

func TestTooManyConnectionsGetsConfiguredOverLimitResponse(t *testing.T) {
	zero := int32(0)
	counter := conn.NewConnCounter(&zero)
	client, done := startHandler(t, conn.Config{
		ConnCounter:     counter,
		KeepAlivePolicy: keepalive.Unlimited(),
		Upgrader:        upgrade.NewRegistry(),
		Delegate:        echoDelegate(200, "unreachable", ""),
	})

	_, err := client.Write([]byte("GET / HTTP/1.1\r\nHost: example.com\r\n\r\n"))
	require.NoError(t, err)

	r := bufio.NewReader(client)
	resp := readRawResponse(t, r)
	assert.Equal(t, "HTTP/1.1 503 Service Unavailable", resp.statusLine)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not close connection")
	}
}

func TestMalformedRequestLineGetsBadRequest(t *testing.T) {
	client, done := startHandler(t, conn.Config{
		KeepAlivePolicy: keepalive.Unlimited(),
		Upgrader:        upgrade.NewRegistry(),
		Delegate:        echoDelegate(200, "unreachable", ""),
	})

	_, err := client.Write([]byte("NOT A REQUEST LINE AT ALL\r\n\r\n"))
	require.NoError(t, err)

	r := bufio.NewReader(client)
	resp := readRawResponse(t, r)
	assert.Equal(t, "HTTP/1.1 400 Bad Request", resp.statusLine)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not close connection")
	}
}

func TestConnectionCounterReturnsToZeroAfterKeepAliveConnectionCloses(t *testing.T) {
	counter := conn.NewConnCounter(nil)
	client, done := startHandler(t, conn.Config{
		ConnCounter:     counter,
		KeepAlivePolicy: keepalive.Unlimited(),
		Upgrader:        upgrade.NewRegistry(),
		Delegate:        echoDelegate(200, "hi", ""),
	})

	r := bufio.NewReader(client)
	for i := 0; i < 3; i++ {
		_, err := client.Write([]byte("GET / HTTP/1.1\r\nHost: example.com\r\n\r\n"))
		require.NoError(t, err)
		readRawResponse(t, r)
	}
	assert.Equal(t, int32(3), counter.Value())

	client.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not exit after client closed")
	}

	assert.Equal(t, int32(0), counter.Value(), "connection counter must be fully decremented once the connection's goroutine exits")
}

// TestCleanCloseAtRequestBoundaryExitsWithoutResponse uses a real TCP loopback
// connection (rather than net.Pipe, which cannot half-close) so the client
// can shut down its write side after a request completes and the test can
// observe whether the server answers with a spurious error response before
// closing.
func TestCleanCloseAtRequestBoundaryExitsWithoutResponse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	done := make(chan struct{})
	go func() {
		rawConn, err := ln.Accept()
		require.NoError(t, err)
		h := conn.NewHandler(context.Background(), conn.Config{
			KeepAlivePolicy: keepalive.Unlimited(),
			Upgrader:        upgrade.NewRegistry(),
			Delegate:        echoDelegate(200, "hi", ""),
		})
		h.Serve(rawConn)
		close(done)
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write([]byte("GET / HTTP/1.1\r\nHost: example.com\r\n\r\n"))
	require.NoError(t, err)
	r := bufio.NewReader(client)
	readRawResponse(t, r)

	require.NoError(t, client.(*net.TCPConn).CloseWrite())

	rest, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Empty(t, rest, "a clean close at a request boundary must not produce a response")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not exit after client closed cleanly at a request boundary")
	}
}

func TestIdleTimeoutClosesConnectionWithoutResponse(t *testing.T) {
	client, done := startHandler(t, conn.Config{
		IdleTimeoutSeconds: 1,
		KeepAlivePolicy:    keepalive.Unlimited(),
		Upgrader:           upgrade.NewRegistry(),
		Delegate:           echoDelegate(200, "unreachable", ""),
	})
	_ = client

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("handler did not close idle connection")
	}
}
