package testutil_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/badu/nio-http/keepalive"
	"github.com/badu/nio-http/testutil"
)

func TestNewRequestDefaultsMethodAndHost(t *testing.T) {
	req := testutil.NewRequest("", "/widgets", nil)
	require.Equal(t, "GET", req.Method)
	require.Equal(t, "example.com", req.Host())
	require.Equal(t, "http://example.com:80/widgets", req.URLFull())
}

func TestNewRequestCarriesBody(t *testing.T) {
	req := testutil.NewRequest("POST", "/widgets", []byte("hello"))
	require.Equal(t, 5, req.BodyByteCount())
	require.Equal(t, []byte("hello"), req.ReadAll())
}

func TestRecorderCapturesResponse(t *testing.T) {
	resp, rec := testutil.NewResponse(1, 1, true)
	resp.SetStatusCode(201)
	resp.EndWithText("created")

	require.Equal(t, 201, rec.StatusCode)
	require.Equal(t, "created", string(rec.Body))
	require.True(t, rec.Ended)
}

func TestRecorderReportsConfiguredKeepAlive(t *testing.T) {
	rec := testutil.NewRecorder().WithKeepAlive(keepalive.Limited(3))
	remaining, limited := rec.KeepAlive().RequestsRemaining()
	require.True(t, limited)
	require.Equal(t, uint32(3), remaining)
}
