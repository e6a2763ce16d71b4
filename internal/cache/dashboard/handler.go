package dashboard

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/falcon/restaurants/internal/cache/schema"
	cachesync "github.com/falcon/restaurants/internal/cache/sync"
)

// Handler turns sync results into dashboard broadcasts. It implements
// cachesync.Observer.
type Handler struct {
	server *Server
	logger *log.Logger
}

// NewHandler creates a new event handler connected to a dashboard server
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = server.logger
	}
	return &Handler{server: server, logger: logger}
}

// OnSyncComplete implements cachesync.Observer.
func (h *Handler) OnSyncComplete(res cachesync.Result) {
	data := SyncCompleteData{
		RunID:     res.RunID,
		Watermark: res.Watermark,
		Fetched:   res.Fetched,
		Applied:   res.Applied,
		Inserted:  res.Inserted,
		Updated:   res.Updated,
		Duration:  res.Duration,
	}
	if res.Err != nil {
		data.Error = res.Err.Error()
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal sync data: %v", err)
		return
	}

	h.server.Broadcast(Message{
		Type:      MessageTypeSyncComplete,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})

	h.BroadcastStats(context.Background())
}

// BroadcastStats sends current statistics to all clients
func (h *Handler) BroadcastStats(ctx context.Context) {
	stats, err := h.Stats(ctx)
	if err != nil {
		h.logger.Printf("Failed to read stats: %v", err)
		return
	}

	dataJSON, err := json.Marshal(stats)
	if err != nil {
		h.logger.Printf("Failed to marshal stats: %v", err)
		return
	}

	h.server.Broadcast(Message{
		Type:      MessageTypeStats,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})
}

// Stats reads the current statistics from the store
func (h *Handler) Stats(ctx context.Context) (StatsData, error) {
	total, err := h.server.store.Count(ctx)
	if err != nil {
		return StatsData{}, err
	}
	roots, err := h.server.store.CountByParentID(ctx, schema.RootParentID)
	if err != nil {
		return StatsData{}, err
	}

	return StatsData{
		Total:       total,
		Roots:       roots,
		LiveQueries: h.server.store.LiveQueries(),
		Clients:     h.server.ClientCount(),
	}, nil
}
