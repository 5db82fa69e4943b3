package dashboard

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	isync "github.com/mschirtzinger/inksync/internal/sync"
)

func startServer(t *testing.T) *Server {
	t.Helper()
	s := NewServer(Config{Addr: "127.0.0.1:0", Logger: zerolog.Nop()})
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func dial(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws://"+s.Addr()+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

// readUntil skips messages until one of type typ arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ MessageType) Message {
	t.Helper()
	for i := 0; i < 20; i++ {
		if msg := readMessage(t, conn); msg.Type == typ {
			return msg
		}
	}
	t.Fatalf("no %s message", typ)
	return Message{}
}

func TestServerStartStop(t *testing.T) {
	s := NewServer(Config{Addr: "127.0.0.1:0", Logger: zerolog.Nop()})
	require.NoError(t, s.Start())
	assert.NotEqual(t, "127.0.0.1:0", s.Addr())
	require.NoError(t, s.Stop())
}

func TestHealth(t *testing.T) {
	s := startServer(t)

	resp, err := http.Get("http://" + s.Addr() + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestWelcomeMessage(t *testing.T) {
	s := startServer(t)
	conn := dial(t, s)

	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypeStats, msg.Type)
	require.Eventually(t, func() bool { return s.ClientCount() == 1 }, time.Second, 10*time.Millisecond)
}

func TestHandlerBroadcastsRun(t *testing.T) {
	s := startServer(t)
	h := NewHandler(s, zerolog.Nop())
	conn := dial(t, s)
	readMessage(t, conn)
	require.Eventually(t, func() bool { return s.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	h.OnRunStarted("startup")
	started := readUntil(t, conn, MessageTypeRunStarted)
	assert.JSONEq(t, `{"reason":"startup"}`, string(started.Data))

	h.Observe(isync.Event{RunID: "r1", Key: "Work/Math", Status: isync.StatusStarted})
	h.Observe(isync.Event{RunID: "r1", Key: "Work/Math", Action: "create", Status: isync.StatusCreated})
	h.Observe(isync.Event{RunID: "r1", Key: "Work/Bio", Status: isync.StatusFailed, Kind: "validation"})

	nb := readUntil(t, conn, MessageTypeNotebook)
	var ev isync.Event
	require.NoError(t, json.Unmarshal(nb.Data, &ev))
	assert.Equal(t, "Work/Math", ev.Key)

	stats := h.Stats()
	assert.Equal(t, "r1", stats.RunID)
	assert.True(t, stats.Running)
	assert.Equal(t, 2, stats.Done)
	assert.Equal(t, 1, stats.ByStatus["created"])
	assert.Equal(t, 1, stats.ByStatus["failed"])

	h.OnRunComplete(&isync.Summary{RunID: "r1", Created: 1, Failed: 1, Failures: []isync.Failure{{Key: "Work/Bio", Kind: "validation"}}})
	done := readUntil(t, conn, MessageTypeRunComplete)
	var data RunCompleteData
	require.NoError(t, json.Unmarshal(done.Data, &data))
	assert.Equal(t, 1, data.Created)
	require.Len(t, data.Failures, 1)
	assert.Equal(t, "Work/Bio", data.Failures[0].Key)
	assert.False(t, h.Stats().Running)
}

func TestStatsEndpointServesLatest(t *testing.T) {
	s := startServer(t)
	h := NewHandler(s, zerolog.Nop())
	h.OnRunStarted("change")
	h.Observe(isync.Event{RunID: "r2", Key: "a", Status: isync.StatusSkipped})

	resp, err := http.Get("http://" + s.Addr() + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var stats StatsData
	require.NoError(t, json.Unmarshal(body, &stats))
	assert.Equal(t, "r2", stats.RunID)
	assert.Equal(t, 1, stats.ByStatus["skipped"])
}
