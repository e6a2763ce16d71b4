package sync

import (
	"context"
	"time"

	"github.com/falcon/restaurants/internal/cache/db"
	"github.com/falcon/restaurants/internal/cache/schema"
)

// ValueUpsertCompleted is the Value of every successful Result.
const ValueUpsertCompleted = "upsert_completed"

// Engine pulls the delta since the local watermark and applies it.
type Engine interface {
	// Fetch starts one sync cycle and returns a channel that yields exactly
	// one Result and is then closed.
	//
	// The cycle reads the watermark, fetches records changed at or after it,
	// and upserts them one by one in response order. A remote failure yields
	// a failed Result and nothing is written. An upsert failure yields a
	// failed Result; records applied before it stay committed.
	//
	// Example:
	//   res := <-engine.Fetch(ctx)
	//   if res.Err != nil { ... }
	Fetch(ctx context.Context) <-chan Result

	// Run is Fetch that blocks until the cycle is done.
	Run(ctx context.Context) (Result, error)
}

// Store is the part of the cache the engine writes to. *db.DB satisfies it.
type Store interface {
	GetMaxUpdatedAtContext(ctx context.Context, fallback string) (string, error)
	UpsertContext(ctx context.Context, r schema.Record) (db.UpsertResult, error)
	RecordSyncRun(ctx context.Context, run db.SyncRun) error
}

// Observer is told about every finished cycle, successful or not.
type Observer interface {
	OnSyncComplete(res Result)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(res Result)

// OnSyncComplete implements Observer.
func (f ObserverFunc) OnSyncComplete(res Result) { f(res) }

// Result is the outcome of one sync cycle.
type Result struct {
	// Value is ValueUpsertCompleted on success and empty on failure.
	Value string

	RunID     string
	Watermark string
	Fetched   int
	Applied   int
	Inserted  int
	Updated   int
	Duration  time.Duration

	// Err is the failure, if any. Remote failures match
	// remote.ErrTransportFailure.
	Err error
}

// OK reports whether the cycle completed.
func (r Result) OK() bool {
	return r.Err == nil && r.Value == ValueUpsertCompleted
}
