package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/falcon/restaurants/internal/cache/db"
	cachesync "github.com/falcon/restaurants/internal/cache/sync"
	"github.com/falcon/restaurants/internal/testutil/stubs"
)

func setupServer(t *testing.T) (*Server, *db.DB) {
	t.Helper()

	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := database.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	for _, r := range stubs.Restaurants() {
		if _, err := database.Insert(r); err != nil {
			t.Fatalf("Insert(%s) failed: %v", r.ID, err)
		}
	}

	srv := NewServer(database, &Config{Port: 0, Logger: log.New(io.Discard, "", 0)})
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() { _ = srv.Stop() })

	return srv, database
}

// localAddr turns the listener address into one a client can dial.
func localAddr(t *testing.T, srv *Server) string {
	t.Helper()
	_, port, err := net.SplitHostPort(srv.GetAddr())
	if err != nil {
		t.Fatalf("SplitHostPort(%q) failed: %v", srv.GetAddr(), err)
	}
	return net.JoinHostPort("127.0.0.1", port)
}

func dial(t *testing.T, srv *Server, query string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+localAddr(t, srv)+"/ws"+query, nil)
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

// readType reads messages until one of the wanted type arrives.
func readType(t *testing.T, conn *websocket.Conn, want MessageType) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("Read() waiting for %s failed: %v", want, err)
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("Unmarshal() failed: %v", err)
		}
		if msg.Type == want {
			return msg
		}
	}
}

func readSnapshot(t *testing.T, conn *websocket.Conn) SnapshotData {
	t.Helper()
	msg := readType(t, conn, MessageTypeSnapshot)
	var snap SnapshotData
	if err := json.Unmarshal(msg.Data, &snap); err != nil {
		t.Fatalf("Unmarshal(snapshot) failed: %v", err)
	}
	return snap
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestServer_StreamsSnapshots(t *testing.T) {
	srv, database := setupServer(t)
	conn := dial(t, srv, "?parent_id=0")

	first := readSnapshot(t, conn)
	if first.ParentID != "0" || first.Seq != 1 || len(first.Records) != 3 {
		t.Fatalf("first snapshot = parent %s seq %d with %d records, want parent 0 seq 1 with 3",
			first.ParentID, first.Seq, len(first.Records))
	}

	if _, err := database.Upsert(stubs.Restaurant("id6", 6)); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}

	second := readSnapshot(t, conn)
	if second.Seq != 2 || len(second.Records) != 4 {
		t.Fatalf("second snapshot = seq %d with %d records, want seq 2 with 4", second.Seq, len(second.Records))
	}
	if got := second.Records[3].ID; got != "id6" {
		t.Errorf("newest record = %s, want id6", got)
	}
}

func TestServer_DefaultsToRoot(t *testing.T) {
	srv, _ := setupServer(t)
	conn := dial(t, srv, "")

	snap := readSnapshot(t, conn)
	if snap.ParentID != "0" || len(snap.Records) != 3 {
		t.Errorf("snapshot = parent %s with %d records, want parent 0 with 3", snap.ParentID, len(snap.Records))
	}
}

func TestServer_EmptyLevel(t *testing.T) {
	srv, _ := setupServer(t)
	conn := dial(t, srv, "?parent_id=id1")

	msg := readType(t, conn, MessageTypeSnapshot)
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(msg.Data, &raw); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}
	if string(raw["records"]) != "[]" {
		t.Errorf("records = %s, want []", raw["records"])
	}
}

func TestServer_DisconnectEndsLiveQuery(t *testing.T) {
	srv, database := setupServer(t)
	conn := dial(t, srv, "?parent_id=0")
	readSnapshot(t, conn)

	if got := srv.ClientCount(); got != 1 {
		t.Errorf("ClientCount() = %d, want 1", got)
	}
	if got := database.LiveQueries(); got != 1 {
		t.Errorf("LiveQueries() = %d, want 1", got)
	}

	if err := conn.Close(websocket.StatusNormalClosure, ""); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	waitFor(t, "client removal", func() bool { return srv.ClientCount() == 0 })
	waitFor(t, "live query release", func() bool { return database.LiveQueries() == 0 })
}

func TestHandler_BroadcastsSyncComplete(t *testing.T) {
	srv, _ := setupServer(t)
	conn := dial(t, srv, "?parent_id=0")
	readSnapshot(t, conn)

	h := NewHandler(srv, nil)
	h.OnSyncComplete(cachesync.Result{
		Value:     cachesync.ValueUpsertCompleted,
		RunID:     "run-1",
		Watermark: stubs.At(5),
		Fetched:   2,
		Applied:   2,
		Updated:   2,
	})

	msg := readType(t, conn, MessageTypeSyncComplete)
	var data SyncCompleteData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}
	if data.RunID != "run-1" || data.Applied != 2 || data.Error != "" {
		t.Errorf("sync_complete = %+v", data)
	}

	msg = readType(t, conn, MessageTypeStats)
	var stats StatsData
	if err := json.Unmarshal(msg.Data, &stats); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}
	want := StatsData{Total: 3, Roots: 3, LiveQueries: 1, Clients: 1}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}
}

func TestHandler_FailedSyncCarriesError(t *testing.T) {
	srv, _ := setupServer(t)
	conn := dial(t, srv, "?parent_id=0")
	readSnapshot(t, conn)

	NewHandler(srv, nil).OnSyncComplete(cachesync.Result{Err: errors.New("offline")})

	msg := readType(t, conn, MessageTypeSyncComplete)
	var data SyncCompleteData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}
	if data.Error != "offline" {
		t.Errorf("Error = %q, want offline", data.Error)
	}
}

func TestServer_Health(t *testing.T) {
	srv, _ := setupServer(t)

	resp, err := http.Get("http://" + localAddr(t, srv) + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Status  string `json:"status"`
		Clients int    `json:"clients"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}
	if body.Status != "ok" || body.Clients != 0 {
		t.Errorf("health = %+v, want ok with 0 clients", body)
	}
}

func TestServer_StopWithClients(t *testing.T) {
	srv, database := setupServer(t)
	conn := dial(t, srv, "?parent_id=0")
	readSnapshot(t, conn)

	// Keep reading so the client answers the server's close frame
	go func() {
		for {
			if _, _, err := conn.Read(context.Background()); err != nil {
				return
			}
		}
	}()

	if err := srv.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if got := srv.ClientCount(); got != 0 {
		t.Errorf("ClientCount() = %d after Stop, want 0", got)
	}
	waitFor(t, "live query release", func() bool { return database.LiveQueries() == 0 })
}
