package browse

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/huh"

	"github.com/falcon/restaurants/internal/cache/schema"
)

const (
	optSearch = "\x00search"
	optBack   = "\x00back"
	optQuit   = "\x00quit"
)

// HuhPrompter asks with charmbracelet/huh forms.
type HuhPrompter struct{}

// Select implements Prompter.
func (HuhPrompter) Select(title string, records []schema.Record, canGoBack bool) (Selection, error) {
	options := make([]huh.Option[string], 0, len(records)+3)
	for _, r := range records {
		options = append(options, huh.NewOption(r.Name, r.ID))
	}
	options = append(options, huh.NewOption("🔍 Search by name", optSearch))
	if canGoBack {
		options = append(options, huh.NewOption("← Back", optBack))
	}
	options = append(options, huh.NewOption("Quit", optQuit))

	var choice string
	err := huh.NewSelect[string]().
		Title(title).
		Options(options...).
		Value(&choice).
		Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return Selection{}, ErrQuit
	}
	if err != nil {
		return Selection{}, fmt.Errorf("prompt failed: %w", err)
	}

	switch choice {
	case optSearch:
		return Selection{Action: ActionSearch}, nil
	case optBack:
		return Selection{Action: ActionBack}, nil
	case optQuit:
		return Selection{Action: ActionQuit}, nil
	default:
		return Selection{Action: ActionOpen, ID: choice}, nil
	}
}

// Search implements Prompter. An empty answer clears the filter.
func (HuhPrompter) Search(current string) (string, error) {
	query := current
	err := huh.NewInput().
		Title("Filter by name").
		Placeholder("leave empty to show all").
		Value(&query).
		Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return "", ErrQuit
	}
	if err != nil {
		return "", fmt.Errorf("prompt failed: %w", err)
	}
	return query, nil
}
