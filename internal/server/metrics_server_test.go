package server

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/devrev/pairdb/bulkloader/internal/metrics"
)

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	client := &http.Client{Timeout: 5 * time.Second}
	defer client.CloseIdleConnections()

	resp, err := client.Get(url)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestMetricsServer(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := metrics.NewMetrics(nil)
	m.RecordReroute()

	srv := NewMetricsServer(&MetricsServerConfig{Addr: "127.0.0.1:0"}, m, zap.NewNop())
	require.NoError(t, srv.Start())
	base := "http://" + srv.Addr()

	code, body := get(t, base+"/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "pairdb_bulkload_reroutes_total 1")

	code, body = get(t, base+"/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"status":"loading"`)

	code, _ = get(t, base+"/nope")
	assert.Equal(t, http.StatusNotFound, code)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))
}

func TestMetricsServer_StopBeforeStart(t *testing.T) {
	srv := NewMetricsServer(&MetricsServerConfig{Addr: "127.0.0.1:0"}, metrics.NewMetrics(nil), zap.NewNop())
	assert.Empty(t, srv.Addr())
	assert.NoError(t, srv.Stop(context.Background()))
}

func TestMetricsServer_ListenError(t *testing.T) {
	srv := NewMetricsServer(&MetricsServerConfig{Addr: "256.0.0.1:bad"}, metrics.NewMetrics(nil), zap.NewNop())
	assert.Error(t, srv.Start())
}
