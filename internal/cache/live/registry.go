// Package live implements live queries over the record cache.
//
// A live query is a parent-id query whose full result is pushed to every
// subscriber again after each write to the cache. Invalidation is coarse on
// purpose: any write re-evaluates every active query, whether or not the
// written record belongs to that query's parent.
package live

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/falcon/restaurants/internal/cache/schema"
)

var (
	// ErrQueryFailure is returned (or carried by a Snapshot) when a query could
	// not be evaluated. It is never folded into an empty result.
	ErrQueryFailure = errors.New("query failed")

	// ErrClosed is returned when subscribing to a closed registry.
	ErrClosed = errors.New("live registry closed")
)

// QueryFunc evaluates the parent-id query once.
type QueryFunc func(ctx context.Context, parentID string) ([]schema.Record, error)

// Snapshot is one full result of a live query.
type Snapshot struct {
	// Seq numbers snapshots per subscription, starting at 1 for the initial one.
	Seq      uint64
	ParentID string
	Records  []schema.Record
	// Err is set when re-evaluation failed; Records is nil in that case.
	Err error
}

// Registry tracks live subscriptions keyed by parent id.
//
// Subscribe and Notify are serialised, so a subscription never misses a
// write that happens after its initial snapshot and never sees one twice.
type Registry struct {
	query  QueryFunc
	logger *log.Logger

	mu     sync.Mutex
	subs   map[string]map[string]*Subscription // parentID -> subscription id -> sub
	closed bool
}

// NewRegistry creates a registry that evaluates queries with query.
// If logger is nil, a default logger writing to stderr is used.
func NewRegistry(query QueryFunc, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.New(os.Stderr, "[live] ", log.LstdFlags)
	}
	return &Registry{
		query:  query,
		logger: logger,
		subs:   make(map[string]map[string]*Subscription),
	}
}

// Subscribe starts a live query for parentID.
//
// The current result is evaluated immediately and queued as the first
// snapshot; a failing initial evaluation fails Subscribe itself. The
// subscription ends when ctx is done or Close is called.
func (r *Registry) Subscribe(ctx context.Context, parentID string) (*Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}

	records, err := r.query(ctx, parentID)
	if err != nil {
		return nil, fmt.Errorf("%w: parent %s: %w", ErrQueryFailure, parentID, err)
	}

	sub := newSubscription(r, parentID)
	if r.subs[parentID] == nil {
		r.subs[parentID] = make(map[string]*Subscription)
	}
	r.subs[parentID][sub.ID] = sub
	sub.enqueue(records, nil)

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()

	return sub, nil
}

// Notify re-evaluates every active query once and queues the result on each
// of its subscriptions. Writers call it after every committed write, while
// still holding their write lock, so snapshots follow write order.
func (r *Registry) Notify(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for parentID, subs := range r.subs {
		if len(subs) == 0 {
			continue
		}

		records, err := r.query(ctx, parentID)
		if err != nil {
			err = fmt.Errorf("%w: parent %s: %w", ErrQueryFailure, parentID, err)
			r.logger.Printf("Re-evaluating live query failed: %v", err)
			records = nil
		}

		for _, sub := range subs {
			sub.enqueue(records, err)
		}
	}
}

// Active returns the number of open subscriptions.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, subs := range r.subs {
		n += len(subs)
	}
	return n
}

// Close ends every subscription. Later Subscribe calls fail with ErrClosed.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	var all []*Subscription
	for _, subs := range r.subs {
		for _, sub := range subs {
			all = append(all, sub)
		}
	}
	r.subs = make(map[string]map[string]*Subscription)
	r.mu.Unlock()

	for _, sub := range all {
		sub.Close()
	}
}

func (r *Registry) remove(sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.subs[sub.ParentID]
	if subs == nil {
		return
	}
	delete(subs, sub.ID)
	if len(subs) == 0 {
		delete(r.subs, sub.ParentID)
	}
}
