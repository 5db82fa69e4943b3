// Package dashboard serves live sync progress over WebSocket.
//
// The dashboard broadcasts per-notebook outcomes and run statistics to
// connected clients while a sync or watch session is running. Each client
// has its own bounded queue; a client that falls behind is disconnected
// instead of slowing the others.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// MessageType identifies the payload of a Message.
type MessageType string

const (
	MessageTypeRunStarted  MessageType = "run_started"
	MessageTypeNotebook    MessageType = "notebook"
	MessageTypeRunComplete MessageType = "run_complete"
	MessageTypeStats       MessageType = "stats"
)

// Message is one frame sent to clients.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// DefaultAddr is used when Config.Addr is empty.
const DefaultAddr = "localhost:8090"

const (
	clientQueue  = 64
	writeTimeout = 5 * time.Second
)

// Config holds server settings.
type Config struct {
	// Addr to listen on. Port 0 picks a free port.
	Addr string

	Logger zerolog.Logger
}

// Server accepts WebSocket clients and fans messages out to them.
type Server struct {
	addr   string
	logger zerolog.Logger

	listener net.Listener
	http     *http.Server

	mu      sync.Mutex
	clients map[*client]struct{}
	stats   Message
	closed  bool

	wg sync.WaitGroup
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
	gone chan struct{}
}

func (c *client) drop() { c.once.Do(func() { close(c.gone) }) }

// NewServer creates a stopped server.
func NewServer(config Config) *Server {
	if config.Addr == "" {
		config.Addr = DefaultAddr
	}
	return &Server{
		addr:    config.Addr,
		logger:  config.Logger.With().Str("component", "dashboard").Logger(),
		clients: make(map[*client]struct{}),
		stats:   Message{Type: MessageTypeStats, Data: json.RawMessage(`{}`)},
	}
}

// Router returns the dashboard's HTTP routes.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/ws", s.serveWS)
	r.HandleFunc("/health", s.serveHealth).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.serveStats).Methods(http.MethodGet)
	r.HandleFunc("/", s.serveIndex).Methods(http.MethodGet)
	return r
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.http = &http.Server{Handler: s.Router(), ReadHeaderTimeout: 10 * time.Second}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("dashboard server error")
		}
	}()
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("dashboard listening")
	return nil
}

// Stop disconnects every client and shuts the HTTP server down.
func (s *Server) Stop() error {
	s.mu.Lock()
	s.closed = true
	for c := range s.clients {
		c.drop()
	}
	s.mu.Unlock()

	var err error
	if s.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := s.http.Shutdown(ctx); serr != nil {
			err = fmt.Errorf("dashboard shutdown: %w", serr)
		}
	}
	s.wg.Wait()
	return err
}

// Broadcast queues msg for every client without blocking. The latest stats
// message is also kept for /stats and for clients that connect later.
func (s *Server) Broadcast(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	frame, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error().Err(err).Str("type", string(msg.Type)).Msg("failed to encode message")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.Type == MessageTypeStats {
		s.stats = msg
	}
	for c := range s.clients {
		select {
		case c.send <- frame:
		default:
			s.logger.Warn().Msg("dashboard client too slow, disconnecting")
			c.drop()
		}
	}
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientQueue), gone: make(chan struct{})}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	welcome := s.stats
	welcome.Timestamp = time.Now().UTC()
	if frame, err := json.Marshal(welcome); err == nil {
		c.send <- frame
	}
	s.clients[c] = struct{}{}
	n := len(s.clients)
	s.mu.Unlock()
	s.logger.Debug().Int("clients", n).Msg("client connected")

	// Reads only detect the peer going away; clients send nothing.
	ctx := conn.CloseRead(context.Background())
	s.write(ctx, c)
}

// write drains c's queue until the client or the server goes away.
func (s *Server) write(ctx context.Context, c *client) {
	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		n := len(s.clients)
		s.mu.Unlock()
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Debug().Int("clients", n).Msg("client disconnected")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.gone:
			return
		case frame := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (s *Server) serveHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "clients": s.ClientCount()})
}

func (s *Server) serveStats(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	data := s.stats.Data
	s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

func (s *Server) serveIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>inksync</title></head>
<body>
<h1>inksync</h1>
<p>Live events: <code>ws://%[1]s/ws</code></p>
<p>Current run: <a href="/stats">/stats</a> &middot; <a href="/health">/health</a></p>
</body>
</html>`, r.Host)
}

// Addr returns the listening address once started.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}
