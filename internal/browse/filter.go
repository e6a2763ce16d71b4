package browse

import (
	"strings"

	"github.com/falcon/restaurants/internal/cache/schema"
)

// Filter returns the records whose name contains query, ignoring case.
// An empty or blank query returns records unchanged. Order is preserved.
func Filter(records []schema.Record, query string) []schema.Record {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return records
	}

	out := make([]schema.Record, 0, len(records))
	for _, r := range records {
		if strings.Contains(strings.ToLower(r.Name), q) {
			out = append(out, r)
		}
	}
	return out
}
