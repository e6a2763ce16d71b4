package main

import (
	"fmt"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/falcon/restaurants/internal/cache/schema"
)

// parseSince turns a --since value into a watermark. Layout timestamps are
// kept verbatim, RFC3339 is converted, and anything else is read as natural
// language relative to now ("yesterday", "2 hours ago").
func parseSince(value string, now time.Time) (string, error) {
	if value == "" {
		return "", nil
	}

	if _, err := time.Parse(schema.TimestampLayout, value); err == nil {
		return value, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return schema.FormatTimestamp(t), nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(value, now)
	if err != nil {
		return "", fmt.Errorf("failed to parse --since %q: %w", value, err)
	}
	if r == nil {
		return "", fmt.Errorf("could not understand --since %q", value)
	}
	return schema.FormatTimestamp(r.Time), nil
}
