// Package navigation decides where selecting a record leads: to a list of
// its children, or to its meals when it has none.
package navigation

import (
	"context"
	"fmt"
)

// Destination is the screen a selection leads to.
type Destination int

const (
	// DestinationRestaurants lists the children of the selected record.
	DestinationRestaurants Destination = iota
	// DestinationMeals shows the selected record as a leaf.
	DestinationMeals
)

// String returns a human-readable representation of the destination.
func (d Destination) String() string {
	switch d {
	case DestinationRestaurants:
		return "restaurants"
	case DestinationMeals:
		return "meals"
	default:
		return "unknown"
	}
}

// ChildChecker answers whether a record has children. *db.DB satisfies it.
type ChildChecker interface {
	HasChildrenContext(ctx context.Context, id string) (bool, error)
}

// Listener receives the outcome of DecideAsync. Exactly one method is
// called, exactly once.
type Listener interface {
	OnSuccess(hasChildren bool)
	OnFailed(err error)
}

// Navigator performs the branch chosen for a selection.
type Navigator interface {
	ToRestaurants(id string)
	ToMeals(id string)
	Failed(id string, err error)
}

// Decider maps a selected id to a Destination. Every call asks the store
// afresh; answers are not cached.
type Decider struct {
	store ChildChecker
}

// NewDecider creates a decider backed by store.
func NewDecider(store ChildChecker) *Decider {
	return &Decider{store: store}
}

// Decide returns DestinationRestaurants when id has children and
// DestinationMeals otherwise. A failed check is returned as an error and
// never read as "no children".
func (d *Decider) Decide(ctx context.Context, id string) (Destination, error) {
	has, err := d.store.HasChildrenContext(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("failed to check children of %s: %w", id, err)
	}
	if has {
		return DestinationRestaurants, nil
	}
	return DestinationMeals, nil
}

// DecideAsync runs the children check on its own goroutine and reports to l.
// The returned channel is closed after the listener has been called.
func (d *Decider) DecideAsync(ctx context.Context, id string, l Listener) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		has, err := d.store.HasChildrenContext(ctx, id)
		if err != nil {
			l.OnFailed(fmt.Errorf("failed to check children of %s: %w", id, err))
			return
		}
		l.OnSuccess(has)
	}()
	return done
}

// Launch decides the destination for id and calls the matching Navigator
// method. Failures go to nav.Failed.
func (d *Decider) Launch(ctx context.Context, id string, nav Navigator) {
	dest, err := d.Decide(ctx, id)
	if err != nil {
		nav.Failed(id, err)
		return
	}

	switch dest {
	case DestinationRestaurants:
		nav.ToRestaurants(id)
	default:
		nav.ToMeals(id)
	}
}
