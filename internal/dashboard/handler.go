package dashboard

import (
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	isync "github.com/mschirtzinger/inksync/internal/sync"
)

// StatsData holds the counters of the current run.
type StatsData struct {
	RunID     string         `json:"run_id,omitempty"`
	Running   bool           `json:"running"`
	ByStatus  map[string]int `json:"by_status"`
	Done      int            `json:"done"`
	StartedAt time.Time      `json:"started_at,omitempty"`
}

// RunCompleteData summarizes a finished run.
type RunCompleteData struct {
	RunID     string          `json:"run_id"`
	Created   int             `json:"created"`
	Updated   int             `json:"updated"`
	Skipped   int             `json:"skipped"`
	Failed    int             `json:"failed"`
	Cancelled int             `json:"cancelled"`
	Duration  time.Duration   `json:"duration_ns"`
	Failures  []isync.Failure `json:"failures"`
}

// Handler turns sync events into dashboard messages. It implements
// sync.Observer.
type Handler struct {
	server *Server
	logger zerolog.Logger

	mu    sync.Mutex
	stats StatsData
}

var _ isync.Observer = (*Handler)(nil)

// NewHandler creates a new event handler connected to a dashboard server
func NewHandler(server *Server, logger zerolog.Logger) *Handler {
	return &Handler{
		server: server,
		logger: logger,
		stats:  StatsData{ByStatus: make(map[string]int)},
	}
}

// OnRunStarted resets the counters for a new run.
func (h *Handler) OnRunStarted(reason string) {
	h.mu.Lock()
	h.stats = StatsData{Running: true, ByStatus: make(map[string]int), StartedAt: time.Now().UTC()}
	h.mu.Unlock()

	h.send(MessageTypeRunStarted, map[string]string{"reason": reason})
	h.broadcastStats()
}

// Observe implements sync.Observer.
func (h *Handler) Observe(ev isync.Event) {
	h.mu.Lock()
	if h.stats.RunID == "" {
		h.stats.RunID = ev.RunID
	}
	if ev.Status != isync.StatusStarted {
		h.stats.ByStatus[string(ev.Status)]++
		h.stats.Done++
	}
	h.mu.Unlock()

	h.send(MessageTypeNotebook, ev)
	if ev.Status != isync.StatusStarted {
		h.broadcastStats()
	}
}

// OnRunComplete publishes the final summary.
func (h *Handler) OnRunComplete(s *isync.Summary) {
	h.mu.Lock()
	h.stats.Running = false
	h.stats.RunID = s.RunID
	h.mu.Unlock()

	h.logger.Debug().Str("run_id", s.RunID).Msg("run complete")
	h.send(MessageTypeRunComplete, RunCompleteData{
		RunID:     s.RunID,
		Created:   s.Created,
		Updated:   s.Updated,
		Skipped:   s.Skipped,
		Failed:    s.Failed,
		Cancelled: s.Cancelled,
		Duration:  s.Duration,
		Failures:  s.Failures,
	})
	h.broadcastStats()
}

// Stats returns a copy of the current counters.
func (h *Handler) Stats() StatsData {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.stats
	out.ByStatus = make(map[string]int, len(h.stats.ByStatus))
	for k, v := range h.stats.ByStatus {
		out.ByStatus[k] = v
	}
	return out
}

func (h *Handler) broadcastStats() {
	h.send(MessageTypeStats, h.Stats())
}

func (h *Handler) send(typ MessageType, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		h.logger.Error().Err(err).Str("type", string(typ)).Msg("failed to marshal dashboard message")
		return
	}
	h.server.Broadcast(Message{Type: typ, Timestamp: time.Now().UTC(), Data: raw})
}
