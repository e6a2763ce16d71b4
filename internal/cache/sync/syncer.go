package sync

import (
	"context"
	"fmt"
	"log"
	"os"
	gosync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/falcon/restaurants/internal/cache/db"
	"github.com/falcon/restaurants/internal/cache/schema"
	"github.com/falcon/restaurants/internal/remote"
)

// syncer implements the Engine interface.
type syncer struct {
	store    Store
	source   remote.Source
	logger   *log.Logger
	epoch    string
	since    string
	observer Observer

	// runMu keeps cycles from overlapping when the daemon's timer and
	// watcher fire together.
	runMu gosync.Mutex
}

// Option configures an Engine.
type Option func(*syncer)

// WithEpoch sets the watermark used while the cache is empty.
// Defaults to schema.Epoch.
func WithEpoch(epoch string) Option {
	return func(s *syncer) { s.epoch = epoch }
}

// WithSince pins the watermark instead of reading it from the cache.
func WithSince(watermark string) Option {
	return func(s *syncer) { s.since = watermark }
}

// WithObserver registers o to receive every Result.
func WithObserver(o Observer) Option {
	return func(s *syncer) { s.observer = o }
}

// New creates a new Engine instance.
//
// The database connection must be initialized and have schema created
// before passing to this function.
//
// If logger is nil, a default logger writing to stderr is used.
//
// Example:
//
//	database, err := db.Open("cache.db")
//	if err != nil {
//	    return err
//	}
//	if err := database.InitSchema(); err != nil {
//	    return err
//	}
//	engine := sync.New(database, remote.NewHTTPSource(url, 0), nil)
func New(store Store, source remote.Source, logger *log.Logger, opts ...Option) Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	s := &syncer{
		store:  store,
		source: source,
		logger: logger,
		epoch:  schema.Epoch,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fetch implements Engine.Fetch.
func (s *syncer) Fetch(ctx context.Context) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		defer close(out)
		out <- s.cycle(ctx)
	}()
	return out
}

// Run implements Engine.Run.
func (s *syncer) Run(ctx context.Context) (Result, error) {
	res := <-s.Fetch(ctx)
	return res, res.Err
}

func (s *syncer) cycle(ctx context.Context) Result {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	started := time.Now()
	res := Result{RunID: uuid.NewString()}

	s.apply(ctx, &res)

	res.Duration = time.Since(started)
	if res.Err == nil {
		res.Value = ValueUpsertCompleted
		s.logger.Printf("Sync complete: fetched=%d inserted=%d updated=%d watermark=%q (%s)",
			res.Fetched, res.Inserted, res.Updated, res.Watermark, res.Duration.Round(time.Millisecond))
	} else {
		s.logger.Printf("Sync failed after %d of %d records: %v", res.Applied, res.Fetched, res.Err)
	}

	s.record(ctx, started, res)
	if s.observer != nil {
		s.observer.OnSyncComplete(res)
	}
	return res
}

// apply runs the watermark, fetch and upsert steps, filling in res.
func (s *syncer) apply(ctx context.Context, res *Result) {
	watermark := s.since
	if watermark == "" {
		w, err := s.store.GetMaxUpdatedAtContext(ctx, s.epoch)
		if err != nil {
			res.Err = fmt.Errorf("failed to read watermark: %w", err)
			return
		}
		watermark = w
	}
	res.Watermark = watermark

	records, err := s.source.Fetch(ctx, watermark)
	if err != nil {
		res.Err = err
		return
	}
	res.Fetched = len(records)
	s.logger.Printf("Fetched %d records since %q", len(records), watermark)

	for _, remoteRecord := range records {
		if err := ctx.Err(); err != nil {
			res.Err = fmt.Errorf("sync cancelled: %w", err)
			return
		}

		r := remoteRecord.ToRecord()
		up, err := s.store.UpsertContext(ctx, r)
		if err != nil {
			res.Err = fmt.Errorf("failed to upsert record %s: %w", r.ID, err)
			return
		}

		res.Applied++
		switch up.Op {
		case db.OpInsert:
			res.Inserted++
		case db.OpUpdate:
			res.Updated++
		}
	}
}

// record appends the cycle to the sync log. A failure to log is not a sync
// failure.
func (s *syncer) record(ctx context.Context, started time.Time, res Result) {
	run := db.SyncRun{
		RunID:      res.RunID,
		StartedAt:  schema.FormatTimestamp(started),
		FinishedAt: schema.FormatTimestamp(started.Add(res.Duration)),
		Watermark:  res.Watermark,
		Fetched:    res.Fetched,
		Applied:    res.Applied,
	}
	if res.Err != nil {
		run.Error = res.Err.Error()
	}

	if err := s.store.RecordSyncRun(context.WithoutCancel(ctx), run); err != nil {
		s.logger.Printf("WARNING: failed to record sync run %s: %v", res.RunID, err)
	}
}
