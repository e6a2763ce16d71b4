// Package daemon keeps the local cache in sync in the background.
//
// The daemon:
//  1. Runs one sync cycle on startup
//  2. Runs a sync cycle on every interval tick
//  3. Optionally watches a fixture directory and syncs after changes settle
//  4. Handles graceful shutdown
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	cachesync "github.com/falcon/restaurants/internal/cache/sync"
)

// Config holds configuration for the daemon.
type Config struct {
	// SyncInterval is how often to run a sync cycle. Zero disables the timer.
	SyncInterval time.Duration

	// DebounceInterval is how long fixture changes must be quiet before a
	// sync runs. This batches rapid updates together.
	DebounceInterval time.Duration

	// WatchDir is the fixture directory to watch. Empty disables watching.
	WatchDir string

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:     30 * time.Second,
		DebounceInterval: 200 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Stats summarises what the daemon has done so far.
type Stats struct {
	Runs     int
	Failures int
	Last     cachesync.Result
}

// Daemon orchestrates periodic and change-driven sync cycles.
type Daemon struct {
	engine cachesync.Engine
	config *Config

	pendingMu sync.Mutex
	pending   bool
	changedAt time.Time

	statsMu sync.Mutex
	stats   Stats

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	stopped chan struct{}
}

// New creates a new Daemon instance with the default configuration.
//
// Use Start() to begin syncing.
func New(engine cachesync.Engine) (*Daemon, error) {
	return NewWithConfig(engine, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration.
func NewWithConfig(engine cachesync.Engine, config *Config) (*Daemon, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}
	if config.WatchDir != "" && config.DebounceInterval <= 0 {
		return nil, fmt.Errorf("debounce interval must be positive when watching %s", config.WatchDir)
	}
	if config.SyncInterval < 0 {
		return nil, fmt.Errorf("sync interval cannot be negative")
	}

	return &Daemon{
		engine:  engine,
		config:  config,
		stopped: make(chan struct{}),
	}, nil
}

// Start begins the daemon's operation.
//
// The daemon will:
//  1. Run an initial sync cycle
//  2. Start the interval timer
//  3. Start watching the fixture directory, if configured
//
// A failed cycle is logged and does not stop the daemon; the next trigger
// retries. This blocks until ctx is cancelled, Stop is called, or the
// watcher cannot be started.
//
// A Daemon runs once: calling Start again fails, even after it has
// returned.
func (d *Daemon) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return fmt.Errorf("daemon already started")
	}
	d.started = true
	d.cancel = cancel
	d.mu.Unlock()

	defer close(d.stopped)

	var watcher *FileWatcher
	if d.config.WatchDir != "" {
		w, err := NewFileWatcher()
		if err != nil {
			return err
		}
		if err := w.Start(d.config.WatchDir); err != nil {
			if stopErr := w.Stop(); stopErr != nil {
				d.config.Logger.Printf("Warning: %v", stopErr)
			}
			return err
		}
		watcher = w
	}

	d.config.Logger.Println("Starting daemon")
	d.runSync(runCtx, "startup")

	g, gctx := errgroup.WithContext(runCtx)

	if d.config.SyncInterval > 0 {
		g.Go(func() error {
			d.tick(gctx)
			return nil
		})
	}

	if watcher != nil {
		d.config.Logger.Printf("Watching: %s", d.config.WatchDir)

		g.Go(func() error {
			<-gctx.Done()
			return watcher.Stop()
		})
		g.Go(func() error {
			d.watchFileEvents(gctx, watcher)
			return nil
		})
		g.Go(func() error {
			d.processChanges(gctx)
			return nil
		})
	}

	err := g.Wait()
	d.config.Logger.Println("Daemon stopped")
	return err
}

// Stop gracefully shuts down a running daemon and waits for it to exit.
// Calling Stop on a daemon that was never started is a no-op.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()

	if cancel == nil {
		return nil
	}

	d.config.Logger.Println("Stopping daemon")
	cancel()
	<-d.stopped
	return nil
}

// Stats returns a copy of the daemon's counters.
func (d *Daemon) Stats() Stats {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	return d.stats
}

func (d *Daemon) runSync(ctx context.Context, reason string) {
	d.config.Logger.Printf("Sync triggered (%s)", reason)

	res := <-d.engine.Fetch(ctx)

	d.statsMu.Lock()
	d.stats.Runs++
	if res.Err != nil {
		d.stats.Failures++
	}
	d.stats.Last = res
	d.statsMu.Unlock()

	if res.Err != nil {
		d.config.Logger.Printf("Sync failed: %v", res.Err)
	}
}

func (d *Daemon) tick(ctx context.Context) {
	ticker := time.NewTicker(d.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.runSync(ctx, "interval")
		}
	}
}

// watchFileEvents marks the fixture directory dirty on every change.
func (d *Daemon) watchFileEvents(ctx context.Context, watcher *FileWatcher) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events():
			if !ok {
				return
			}
			d.config.Logger.Printf("File event: %s %s", event.Op, event.Path)
			d.queueChange()

		case err, ok := <-watcher.Errors():
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

func (d *Daemon) queueChange() {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()

	d.pending = true
	d.changedAt = time.Now()
}

// processChanges runs one sync once changes have been quiet for the
// debounce interval.
func (d *Daemon) processChanges(ctx context.Context) {
	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if d.takePending() {
				d.runSync(ctx, "fixtures changed")
			}
		}
	}
}

func (d *Daemon) takePending() bool {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()

	if !d.pending || time.Since(d.changedAt) < d.config.DebounceInterval {
		return false
	}
	d.pending = false
	return true
}
