// Package browse walks the restaurant hierarchy in the terminal.
//
// Each level is backed by a live query on its parent id, so a sync running
// in the background shows up the next time the level is drawn.
package browse

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/falcon/restaurants/internal/cache/live"
	"github.com/falcon/restaurants/internal/cache/schema"
	"github.com/falcon/restaurants/internal/navigation"
	"github.com/falcon/restaurants/internal/ui"
)

// ErrQuit is returned by a Prompter when the user leaves the browser.
var ErrQuit = errors.New("quit")

// Action is what the user picked at a level.
type Action int

const (
	// ActionOpen selects the record in Selection.ID.
	ActionOpen Action = iota
	// ActionSearch narrows the level by name.
	ActionSearch
	// ActionBack returns to the parent level.
	ActionBack
	// ActionQuit leaves the browser.
	ActionQuit
)

// Selection is a prompt answer.
type Selection struct {
	Action Action
	ID     string
}

// Prompter asks the user to pick from a level.
type Prompter interface {
	Select(title string, records []schema.Record, canGoBack bool) (Selection, error)
	Search(current string) (string, error)
}

// Store is the part of the cache the browser reads. *db.DB satisfies it.
type Store interface {
	GetByParentID(ctx context.Context, parentID string) (*live.Subscription, error)
	GetByIDContext(ctx context.Context, id string) (*schema.Record, error)
	HasChildrenContext(ctx context.Context, id string) (bool, error)
}

// Browser is an interactive walk of the hierarchy. It implements
// navigation.Navigator.
type Browser struct {
	store    Store
	decider  *navigation.Decider
	prompter Prompter
	out      io.Writer

	stack []string
	query string
}

// New creates a browser starting at parentID (schema.RootParentID for the top).
func New(store Store, prompter Prompter, out io.Writer, parentID string) *Browser {
	if parentID == "" {
		parentID = schema.RootParentID
	}
	return &Browser{
		store:    store,
		decider:  navigation.NewDecider(store),
		prompter: prompter,
		out:      out,
		stack:    []string{parentID},
	}
}

// Current returns the parent id of the level being shown.
func (b *Browser) Current() string {
	return b.stack[len(b.stack)-1]
}

// Run drives the prompt loop until the user quits or ctx is done.
func (b *Browser) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		done, err := b.level(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// level shows the current level once and applies the user's answer.
func (b *Browser) level(ctx context.Context) (bool, error) {
	parentID := b.Current()

	sub, err := b.store.GetByParentID(ctx, parentID)
	if err != nil {
		return false, fmt.Errorf("failed to open level %s: %w", parentID, err)
	}
	defer sub.Close()

	snap, err := latest(ctx, sub)
	if err != nil {
		return false, err
	}
	if snap.Err != nil {
		return false, snap.Err
	}

	records := Filter(snap.Records, b.query)
	sel, err := b.prompter.Select(b.title(ctx, parentID, len(snap.Records), len(records)), records, len(b.stack) > 1)
	if errors.Is(err, ErrQuit) {
		return true, nil
	}
	if err != nil {
		return false, err
	}

	switch sel.Action {
	case ActionQuit:
		return true, nil
	case ActionBack:
		b.back()
	case ActionSearch:
		q, err := b.prompter.Search(b.query)
		if errors.Is(err, ErrQuit) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		b.query = q
	case ActionOpen:
		b.decider.Launch(ctx, sel.ID, b)
	}
	return false, nil
}

func (b *Browser) title(ctx context.Context, parentID string, total, shown int) string {
	name := "Restaurants"
	if parentID != schema.RootParentID {
		if r, err := b.store.GetByIDContext(ctx, parentID); err == nil {
			name = r.Name
		}
	}
	if b.query != "" {
		return fmt.Sprintf("%s (%d of %d matching %q)", name, shown, total, b.query)
	}
	return fmt.Sprintf("%s (%d)", name, total)
}

func (b *Browser) back() {
	if len(b.stack) > 1 {
		b.stack = b.stack[:len(b.stack)-1]
	}
	b.query = ""
}

// ToRestaurants implements navigation.Navigator.
func (b *Browser) ToRestaurants(id string) {
	b.stack = append(b.stack, id)
	b.query = ""
}

// ToMeals implements navigation.Navigator. A leaf has no level of its own,
// so its details are printed and the browser stays where it is.
func (b *Browser) ToMeals(id string) {
	r, err := b.store.GetByIDContext(context.Background(), id)
	if err != nil {
		fmt.Fprintf(b.out, "%s %v\n", ui.RenderFail("✗"), err)
		return
	}

	fmt.Fprintf(b.out, "\n%s %s\n", ui.RenderAccent("🍽"), r.Name)
	fmt.Fprintln(b.out, ui.RenderField("ID", r.ID))
	fmt.Fprintln(b.out, ui.RenderField("Image", r.ImageURL))
	fmt.Fprintln(b.out, ui.RenderField("Active", r.Active))
	fmt.Fprintln(b.out, ui.RenderField("Updated", r.UpdatedAt))
	fmt.Fprintln(b.out)
}

// Failed implements navigation.Navigator.
func (b *Browser) Failed(id string, err error) {
	fmt.Fprintf(b.out, "%s Could not open %s: %v\n", ui.RenderFail("✗"), id, err)
}

// latest waits for the first snapshot and then skips ahead to the newest
// one already queued.
func latest(ctx context.Context, sub *live.Subscription) (live.Snapshot, error) {
	var snap live.Snapshot
	select {
	case s, ok := <-sub.Snapshots():
		if !ok {
			return snap, fmt.Errorf("live query for %s ended", sub.ParentID)
		}
		snap = s
	case <-ctx.Done():
		return snap, ctx.Err()
	}

	for {
		select {
		case s, ok := <-sub.Snapshots():
			if !ok {
				return snap, nil
			}
			snap = s
		default:
			return snap, nil
		}
	}
}
