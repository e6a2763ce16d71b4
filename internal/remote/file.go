package remote

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/falcon/restaurants/internal/cache/schema"
)

// FileSource serves deltas from the fixture files in Dir. It stands in for
// the remote endpoint during development and in watch mode.
type FileSource struct {
	Dir string
}

// NewFileSource creates a source reading fixtures from dir.
func NewFileSource(dir string) *FileSource {
	return &FileSource{Dir: dir}
}

// Fetch implements Source. Records are returned in updatedAt order, ties in
// file order.
func (s *FileSource) Fetch(ctx context.Context, watermark string) ([]schema.RemoteRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, transportError(err)
	}

	info, err := os.Stat(s.Dir)
	if err != nil {
		return nil, transportError(fmt.Errorf("fixture directory: %w", err))
	}
	if !info.IsDir() {
		return nil, transportError(fmt.Errorf("fixture path %s is not a directory", s.Dir))
	}

	records, err := schema.ReadAllRecordFiles(s.Dir)
	if err != nil {
		return nil, transportError(err)
	}

	out := make([]schema.RemoteRecord, 0, len(records))
	for _, r := range records {
		if r.UpdatedAt >= watermark {
			out = append(out, r.ToRemote())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt < out[j].UpdatedAt })
	return out, nil
}
