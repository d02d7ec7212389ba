package cmd

import (
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"vaultsync/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHumanBytes(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{5 * 1024 * 1024, "5.0 MiB"},
		{3 * 1024 * 1024 * 1024, "3.0 GiB"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, humanBytes(tt.n))
	}
}

func withDaemon(t *testing.T, h http.HandlerFunc) {
	t.Helper()

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	_, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	prev := cfg
	cfg = &config.Config{DaemonPort: port}
	t.Cleanup(func() { cfg = prev })
}

func TestCallDecodesReply(t *testing.T) {
	withDaemon(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/pause", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"paused"}`))
	})

	var out map[string]string
	require.NoError(t, call(http.MethodPost, "/pause", &out))
	assert.Equal(t, "paused", out["status"])
}

func TestCallSurfacesDaemonError(t *testing.T) {
	withDaemon(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"sync is paused"}`))
	})

	err := call(http.MethodPost, "/sync", nil)
	require.Error(t, err)
	assert.Equal(t, "daemon: sync is paused", err.Error())
	assert.False(t, daemonRunning())
}
