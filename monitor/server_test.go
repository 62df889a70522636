package monitor

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otelhan/venice/errors"
	"github.com/otelhan/venice/metric"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	s, err := NewServer(Deps{
		Addr:     ":0",
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Registry: metric.NewMetricsRegistry(),
	})
	require.NoError(t, err)
	require.NoError(t, s.Initialize())

	go s.hub.run(s.done)

	ts := httptest.NewServer(s.httpSrv.Handler)
	t.Cleanup(func() {
		ts.Close()
		close(s.done)
	})

	return s, ts
}

func dialFeed(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })

	return conn
}

func TestNewServerRequiresAddr(t *testing.T) {
	_, err := NewServer(Deps{})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(0), body["clients"])
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "venice_")
}

func TestIndexPage(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "Live feed")
}

func TestFeedDeliversBroadcast(t *testing.T) {
	s, ts := newTestServer(t)
	conn := dialFeed(t, ts)

	require.Eventually(t, func() bool {
		return s.hub.clientCount(s.done) == 1
	}, time.Second, 10*time.Millisecond)

	snap := map[string]any{"node": "res00", "seq": 7}
	require.NoError(t, s.Broadcast("venice.state.res00", snap))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(frame, &env))
	assert.Equal(t, "venice.state.res00", env.Subject)

	var data map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "res00", data["node"])
	assert.Equal(t, float64(7), data["seq"])
	assert.False(t, env.At.IsZero())
}

func TestFeedFansOutToAllClients(t *testing.T) {
	s, ts := newTestServer(t)
	first := dialFeed(t, ts)
	second := dialFeed(t, ts)

	require.Eventually(t, func() bool {
		return s.hub.clientCount(s.done) == 2
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, s.Broadcast("venice.actuation.output", map[string]bool{"relay": true}))

	for _, conn := range []*websocket.Conn{first, second} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, frame, err := conn.ReadMessage()
		require.NoError(t, err)

		var env Envelope
		require.NoError(t, json.Unmarshal(frame, &env))
		assert.Equal(t, "venice.actuation.output", env.Subject)
	}
}

func TestClientCountTracksDisconnects(t *testing.T) {
	s, ts := newTestServer(t)
	conn := dialFeed(t, ts)

	require.Eventually(t, func() bool {
		return s.hub.clientCount(s.done) == 1
	}, time.Second, 10*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool {
		return s.hub.clientCount(s.done) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestBroadcastRejectsUnmarshalable(t *testing.T) {
	s, _ := newTestServer(t)

	err := s.Broadcast("venice.state.res00", make(chan int))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}
