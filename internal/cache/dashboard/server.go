// Package dashboard provides a WebSocket server that pushes live cache views.
//
// Each client subscribes to one level of the hierarchy with
// /ws?parent_id=P and receives a snapshot message every time that live query
// is re-evaluated. Sync completions and cache statistics are broadcast to
// every client.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/falcon/restaurants/internal/cache/live"
	"github.com/falcon/restaurants/internal/cache/schema"
)

// MessageType defines the type of dashboard message
type MessageType string

const (
	// MessageTypeSnapshot carries a full live query result for the client's level
	MessageTypeSnapshot MessageType = "snapshot"

	// MessageTypeSyncComplete indicates a sync cycle finished
	MessageTypeSyncComplete MessageType = "sync_complete"

	// MessageTypeStats indicates updated cache statistics
	MessageTypeStats MessageType = "stats"
)

// Message represents a dashboard message
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// SnapshotData is one live query result
type SnapshotData struct {
	ParentID string          `json:"parent_id"`
	Seq      uint64          `json:"seq"`
	Records  []schema.Record `json:"records"`
	Error    string          `json:"error,omitempty"`
}

// SyncCompleteData contains sync completion information
type SyncCompleteData struct {
	RunID     string        `json:"run_id"`
	Watermark string        `json:"watermark"`
	Fetched   int           `json:"fetched"`
	Applied   int           `json:"applied"`
	Inserted  int           `json:"inserted"`
	Updated   int           `json:"updated"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// StatsData contains cache statistics
type StatsData struct {
	Total       int `json:"total"`
	Roots       int `json:"roots"`
	LiveQueries int `json:"live_queries"`
	Clients     int `json:"clients"`
}

// Store is the part of the cache the dashboard reads. *db.DB satisfies it.
type Store interface {
	GetByParentID(ctx context.Context, parentID string) (*live.Subscription, error)
	Count(ctx context.Context) (int, error)
	CountByParentID(ctx context.Context, parentID string) (int, error)
	LiveQueries() int
}

type client struct {
	conn     *websocket.Conn
	parentID string
	cancel   context.CancelFunc
}

// Server manages WebSocket connections and pushes dashboard messages
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server
	store    Store

	// WebSocket client management
	clients   map[*client]bool
	clientsMu sync.RWMutex

	// Message broadcasting
	broadcast chan Message

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Logging
	logger *log.Logger
}

// Config holds server configuration
type Config struct {
	// Port to listen on (default: 8080, 0 picks a free port)
	Port int

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Port:   8080,
		Logger: log.New(os.Stderr, "[dashboard] ", log.LstdFlags),
	}
}

// NewServer creates a new dashboard WebSocket server backed by store
func NewServer(store Store, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:      fmt.Sprintf(":%d", config.Port),
		store:     store,
		clients:   make(map[*client]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    config.Logger,
	}
}

// Start begins the HTTP server and WebSocket handler
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", s.handleRoot)

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard server listening on %s", s.GetAddr())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop() error {
	s.logger.Println("Stopping dashboard server")

	s.cancel()

	s.clientsMu.Lock()
	for c := range s.clients {
		c.cancel()
		_ = c.conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(s.clients, c)
	}
	s.clientsMu.Unlock()

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}

	s.wg.Wait()

	s.logger.Println("Dashboard server stopped")
	return nil
}

// Broadcast sends a message to all connected clients
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
		return
	default:
		s.logger.Println("Warning: broadcast channel full, dropping message")
	}
}

// broadcastLoop handles message broadcasting to all clients
func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}

			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Printf("Failed to marshal message: %v", err)
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*client, 0, len(s.clients))
			for c := range s.clients {
				clients = append(clients, c)
			}
			s.clientsMu.RUnlock()

			// Send outside the read lock to avoid blocking new connections
			for _, c := range clients {
				if err := s.write(c, data); err != nil {
					s.logger.Printf("Failed to send to client: %v", err)
					s.removeClient(c)
				}
			}
		}
	}
}

// handleWebSocket upgrades the connection and starts the client's live query
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	parentID := r.URL.Query().Get("parent_id")
	if parentID == "" {
		parentID = schema.RootParentID
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"}, // Allow all origins for development
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	// The request context ends when this handler returns, so the client
	// lives on the server's context instead.
	ctx, cancel := context.WithCancel(s.ctx)
	c := &client{conn: conn, parentID: parentID, cancel: cancel}

	sub, err := s.store.GetByParentID(ctx, parentID)
	if err != nil {
		cancel()
		s.logger.Printf("Live query for %s failed: %v", parentID, err)
		_ = conn.Close(websocket.StatusInternalError, "live query failed")
		return
	}

	s.clientsMu.Lock()
	s.clients[c] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("Client connected to %s (total: %d)", parentID, clientCount)

	s.wg.Add(2)
	go s.pumpSnapshots(ctx, c, sub)
	go s.readLoop(ctx, c)
}

// pumpSnapshots forwards the client's live query results in order
func (s *Server) pumpSnapshots(ctx context.Context, c *client, sub *live.Subscription) {
	defer s.wg.Done()
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-sub.Snapshots():
			if !ok {
				return
			}

			data, err := snapshotMessage(snap)
			if err != nil {
				s.logger.Printf("Failed to marshal snapshot: %v", err)
				continue
			}
			if err := s.write(c, data); err != nil {
				s.removeClient(c)
				return
			}
		}
	}
}

func snapshotMessage(snap live.Snapshot) ([]byte, error) {
	payload := SnapshotData{
		ParentID: snap.ParentID,
		Seq:      snap.Seq,
		Records:  snap.Records,
	}
	if snap.Err != nil {
		payload.Error = snap.Err.Error()
	}
	if payload.Records == nil {
		payload.Records = []schema.Record{}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{
		Type:      MessageTypeSnapshot,
		Timestamp: time.Now(),
		Data:      data,
	})
}

func (s *Server) write(c *client, data []byte) error {
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// readLoop keeps the WebSocket connection alive and handles client disconnects
func (s *Server) readLoop(ctx context.Context, c *client) {
	defer s.wg.Done()
	defer s.removeClient(c)

	for {
		if _, _, err := c.conn.Read(ctx); err != nil {
			return
		}
		// Client messages are ignored
	}
}

// removeClient safely removes a client connection
func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	if _, exists := s.clients[c]; exists {
		delete(s.clients, c)
		clientCount := len(s.clients)
		s.clientsMu.Unlock()

		c.cancel()
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("Client disconnected (total: %d)", clientCount)
	} else {
		s.clientsMu.Unlock()
	}
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":       "ok",
		"clients":      s.ClientCount(),
		"live_queries": s.store.LiveQueries(),
	})
}

// handleRoot returns basic server information
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>Restaurants Cache</title>
</head>
<body>
    <h1>Restaurants Cache Server</h1>
    <p>WebSocket endpoint: <code>ws://%s/ws?parent_id=0</code></p>
    <p>Health check: <a href="/health">/health</a></p>
    <p>Connect a WebSocket client to receive live snapshots of one level.</p>
</body>
</html>`, r.Host)
}

// GetAddr returns the server's listening address
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
