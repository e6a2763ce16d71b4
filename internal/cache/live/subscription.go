package live

import (
	"sync"

	"github.com/google/uuid"

	"github.com/falcon/restaurants/internal/cache/schema"
)

// Subscription receives the snapshots of one live query.
//
// Snapshots are buffered without bound and delivered by a goroutine owned by
// the subscription, so a slow reader never blocks a writer. The channel
// returned by Snapshots is closed once the subscription ends; snapshots
// still queued at that point are dropped.
type Subscription struct {
	ID       string
	ParentID string

	registry *Registry
	out      chan Snapshot
	done     chan struct{}

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Snapshot
	seq    uint64
	closed bool
}

func newSubscription(r *Registry, parentID string) *Subscription {
	s := &Subscription{
		ID:       uuid.NewString(),
		ParentID: parentID,
		registry: r,
		out:      make(chan Snapshot),
		done:     make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.deliver()
	return s
}

// Snapshots returns the channel snapshots are delivered on, oldest first.
func (s *Subscription) Snapshots() <-chan Snapshot {
	return s.out
}

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close ends the subscription and unregisters it. Safe to call more than once.
func (s *Subscription) Close() {
	s.registry.remove(s)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.queue = nil
	close(s.done)
	s.cond.Broadcast()
}

func (s *Subscription) enqueue(records []schema.Record, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	s.seq++
	s.queue = append(s.queue, Snapshot{
		Seq:      s.seq,
		ParentID: s.ParentID,
		Records:  records,
		Err:      err,
	})
	s.cond.Signal()
}

// deliver drains the queue into out until the subscription is closed.
func (s *Subscription) deliver() {
	defer close(s.out)

	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		snap := s.queue[0]
		s.queue[0] = Snapshot{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- snap:
		case <-s.done:
			return
		}
	}
}
