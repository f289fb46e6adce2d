package servers

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droneguard/droneguard-go/src/configs"
	"github.com/droneguard/droneguard-go/src/coordinator"
	"github.com/droneguard/droneguard-go/src/instance"
	"github.com/droneguard/droneguard-go/src/pkg/beaches"
	"github.com/droneguard/droneguard-go/src/pkg/kvstore"
	"github.com/droneguard/droneguard-go/src/pkg/streamprobe"
)

const testSource = "rtp://10.100.102.12:1234"

type fixture struct {
	inst   *instance.Instance
	server *Server
	probes *atomic.Int32
}

func newFixture(t *testing.T, beachesURL string) *fixture {
	t.Helper()
	var probes atomic.Int32
	w, h := 1280, 720
	prober := streamprobe.ProberFunc(func(context.Context, string) (*streamprobe.StreamDescriptor, error) {
		probes.Add(1)
		return &streamprobe.StreamDescriptor{Streams: []streamprobe.StreamEntry{
			{Kind: streamprobe.KindAudio},
			{Kind: streamprobe.KindVideo, Width: &w, Height: &h},
		}}, nil
	})
	logger, _ := logtest.NewNullLogger()
	reg := prometheus.NewRegistry()
	coord := coordinator.New[string](context.Background(), coordinator.Options{
		Source:  testSource,
		Prober:  prober,
		Logger:  logger,
		Metrics: coordinator.NewMetrics(reg),
	})
	t.Cleanup(coord.Close)

	store, err := kvstore.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	inst := &instance.Instance{
		Coordinator: coord,
		Store:       store,
		Registry:    reg,
	}
	if beachesURL != "" {
		inst.Beaches = beaches.NewClient(beaches.Options{URL: beachesURL, Client: http.DefaultClient})
	}
	return &fixture{inst: inst, server: NewServer(inst, "127.0.0.1:0"), probes: &probes}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	var out map[string]interface{}
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func TestProbeEndpoints(t *testing.T) {
	f := newFixture(t, "")

	rec, out := f.do(t, "GET", "/api/probe", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["is_probing"])
	assert.Equal(t, float64(960), out["width"])
	assert.Equal(t, float64(540), out["height"])
	assert.Equal(t, testSource, out["source"])

	rec, out = f.do(t, "POST", "/api/probe/trigger", `{"trigger":"a"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["started"])
	f.inst.Coordinator.Wait()

	_, out = f.do(t, "POST", "/api/probe/trigger", `{"trigger":"a"}`)
	assert.Equal(t, false, out["started"])
	assert.Equal(t, int32(1), f.probes.Load())

	_, out = f.do(t, "GET", "/api/probe", "")
	assert.Equal(t, false, out["is_probing"])
	assert.Equal(t, float64(1280), out["width"])
	assert.Equal(t, float64(720), out["height"])
	assert.Equal(t, "succeeded", out["phase"])

	rec, out = f.do(t, "POST", "/api/probe/trigger", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, float64(http.StatusBadRequest), out["err_no"])
}

func TestPlayerErrorsRetrigger(t *testing.T) {
	f := newFixture(t, "")

	_, out := f.do(t, "POST", "/api/player/errors", "")
	assert.Equal(t, float64(1), out["player_errors"])
	assert.Equal(t, true, out["started"])
	f.inst.Coordinator.Wait()

	_, out = f.do(t, "POST", "/api/player/errors", "")
	assert.Equal(t, float64(2), out["player_errors"])
	f.inst.Coordinator.Wait()

	assert.Equal(t, int32(2), f.probes.Load())
}

func TestBeachesEndpoints(t *testing.T) {
	var fail atomic.Bool
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("<html>oops</html>"))
			return
		}
		assert.Equal(t, "Bearer secret", r.Header.Get("authorization"))
		_, _ = w.Write([]byte(`[{"_id":"b1","name":"Gordon"}]`))
	}))
	defer remote.Close()
	f := newFixture(t, remote.URL)

	rec, _ := f.do(t, "GET", "/api/beaches", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = f.do(t, "PUT", "/api/auth/token", `{"token":"secret"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = f.do(t, "GET", "/api/beaches", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []beaches.Beach
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, []beaches.Beach{{ID: "b1", Name: "Gordon"}}, list)

	fail.Store(true)
	rec, out := f.do(t, "GET", "/api/beaches", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, beaches.UnknownErrorMessage, out["err_msg"])

	rec, out = f.do(t, "PUT", "/api/beaches/selected", `{"beach_id":"b1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "b1", out["beach_id"])
	_, out = f.do(t, "GET", "/api/beaches/selected", "")
	assert.Equal(t, "b1", out["beach_id"])

	rec, _ = f.do(t, "PUT", "/api/beaches/selected", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsAndInfo(t *testing.T) {
	f := newFixture(t, "")

	rec, _ := f.do(t, "GET", "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "droneguard_probe_in_progress 1")

	rec, out := f.do(t, "GET", "/api/info", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "DroneGuard-go", out["app_name"])
}

func TestStoreUnavailable(t *testing.T) {
	f := newFixture(t, "")
	f.inst.Store = nil
	rec, _ := f.do(t, "GET", "/api/beaches/selected", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func readEvent(t *testing.T, sc *bufio.Scanner, event string) string {
	t.Helper()
	for sc.Scan() {
		line := sc.Text()
		if line != "event: "+event {
			continue
		}
		require.True(t, sc.Scan())
		return strings.TrimPrefix(sc.Text(), "data: ")
	}
	require.Fail(t, "SSE 连接提前结束", "等待事件 %s", event)
	return ""
}

func TestSSE(t *testing.T) {
	f := newFixture(t, "")
	srv := httptest.NewServer(f.server.Handler())
	defer srv.Close()
	defer f.server.Hub().Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "GET", srv.URL+"/api/probe/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	sc := bufio.NewScanner(resp.Body)
	readEvent(t, sc, "connected")

	var msg SSEMessage
	require.NoError(t, json.Unmarshal([]byte(readEvent(t, sc, "probe_state")), &msg))
	assert.Equal(t, testSource, msg.Source)
	assert.Equal(t, float64(960), msg.Data.(map[string]interface{})["width"])

	f.server.Hub().BroadcastProbeState(testSource, coordinator.State{Width: 1280, Height: 720})
	require.NoError(t, json.Unmarshal([]byte(readEvent(t, sc, "probe_state")), &msg))
	assert.Equal(t, float64(1280), msg.Data.(map[string]interface{})["width"])

	f.server.Hub().BroadcastLog(testSource, "hello")
	require.NoError(t, json.Unmarshal([]byte(readEvent(t, sc, "log")), &msg))
	assert.Equal(t, "hello", msg.Data)
}

func TestSSEHub_Closed(t *testing.T) {
	hub := NewSSEHub()
	ch := make(chan SSEMessage, 1)
	require.True(t, hub.AddClient(ch))
	assert.Equal(t, 1, hub.ClientCount())
	hub.Close()
	hub.Close()
	_, ok := <-ch
	assert.False(t, ok)
	assert.False(t, hub.AddClient(make(chan SSEMessage, 1)))
	hub.Broadcast(SSEMessage{Type: SSEEventLog})
}

func TestServerStartClose(t *testing.T) {
	f := newFixture(t, "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, f.server.Start(ctx))

	require.NoError(t, f.server.Close(context.Background()))

	done := make(chan struct{})
	go func() {
		f.inst.WaitGroup.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		require.Fail(t, "server goroutines still running after Close")
	}
}

func TestConfigDebugToggle(t *testing.T) {
	prevLevel := logrus.GetLevel()
	t.Cleanup(func() {
		logrus.SetLevel(prevLevel)
		logrus.SetReportCaller(false)
		configs.SetCurrentConfig(nil)
	})
	configs.SetCurrentConfig(configs.NewConfig())
	logrus.SetLevel(logrus.InfoLevel)
	f := newFixture(t, "")

	rec, out := f.do(t, "PUT", "/api/config/debug", `{"debug":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["debug"])
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())
	assert.True(t, configs.IsDebug())

	_, out = f.do(t, "GET", "/api/config", "")
	assert.Equal(t, true, out["debug"])

	rec, out = f.do(t, "PUT", "/api/config/debug", `{"debug":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, out["debug"])
	assert.Equal(t, logrus.InfoLevel, logrus.GetLevel())
	assert.False(t, configs.IsDebug())

	rec, _ = f.do(t, "PUT", "/api/config/debug", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// 配置不是从文件加载的
	rec, _ = f.do(t, "GET", "/api/config/raw", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRawConfigPersistsDebug(t *testing.T) {
	prevLevel := logrus.GetLevel()
	t.Cleanup(func() {
		logrus.SetLevel(prevLevel)
		logrus.SetReportCaller(false)
		configs.SetCurrentConfig(nil)
	})
	file := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(file, []byte("source:\n  address: rtp://10.0.0.1:1234\n"), 0644))
	cfg, err := configs.NewConfigWithFile(file)
	require.NoError(t, err)
	configs.SetCurrentConfig(cfg)
	f := newFixture(t, "")

	rec, _ := f.do(t, "PUT", "/api/config/debug", `{"debug":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, out := f.do(t, "GET", "/api/config/raw", "")
	require.Equal(t, http.StatusOK, rec.Code)
	raw, _ := out["config"].(string)
	assert.Contains(t, raw, "debug: true")
	assert.Contains(t, raw, "rtp://10.0.0.1:1234")
}

func TestConfigNotLoaded(t *testing.T) {
	configs.SetCurrentConfig(nil)
	f := newFixture(t, "")
	rec, _ := f.do(t, "GET", "/api/config", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
