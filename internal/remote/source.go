// Package remote fetches record deltas from the system of record.
//
// A delta is every record whose updatedAt is at or after a watermark. The
// same Source contract is served over HTTP, from a directory of fixture
// files, or from a DynamoDB table.
package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/falcon/restaurants/internal/cache/schema"
)

// ErrTransportFailure wraps every error a Source returns. The underlying
// cause stays reachable through errors.Unwrap and errors.As.
var ErrTransportFailure = errors.New("transport failure")

// Source kinds accepted by NewSource.
const (
	KindHTTP   = "http"
	KindFile   = "file"
	KindDynamo = "dynamodb"
)

// Source returns the records changed at or after watermark, in the order
// the remote produced them.
type Source interface {
	Fetch(ctx context.Context, watermark string) ([]schema.RemoteRecord, error)
}

// Listener receives the outcome of FetchAsync. Exactly one method is called,
// exactly once.
type Listener interface {
	OnFetchSuccess(records []schema.RemoteRecord)
	OnFetchFailed(err error)
}

// FetchAsync runs src.Fetch on its own goroutine and reports to l.
// The returned channel is closed after the listener has been called.
func FetchAsync(ctx context.Context, src Source, watermark string, l Listener) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		records, err := src.Fetch(ctx, watermark)
		if err != nil {
			l.OnFetchFailed(err)
			return
		}
		l.OnFetchSuccess(records)
	}()
	return done
}

// transportError tags cause with ErrTransportFailure unless it already is one.
func transportError(cause error) error {
	if errors.Is(cause, ErrTransportFailure) {
		return cause
	}
	return fmt.Errorf("%w: %w", ErrTransportFailure, cause)
}

// Options selects and configures a Source.
type Options struct {
	Kind string

	// http
	BaseURL string
	Timeout time.Duration

	// file
	Dir string

	// dynamodb
	DynamoTable    string
	DynamoRegion   string
	DynamoEndpoint string
}

// NewSource builds the Source named by opts.Kind.
func NewSource(ctx context.Context, opts Options) (Source, error) {
	switch strings.ToLower(opts.Kind) {
	case KindHTTP, "":
		if opts.BaseURL == "" {
			return nil, fmt.Errorf("http source requires a base URL")
		}
		return NewHTTPSource(opts.BaseURL, opts.Timeout), nil
	case KindFile:
		if opts.Dir == "" {
			return nil, fmt.Errorf("file source requires a directory")
		}
		return NewFileSource(opts.Dir), nil
	case KindDynamo:
		if opts.DynamoTable == "" {
			return nil, fmt.Errorf("dynamodb source requires a table name")
		}
		return NewDynamoSource(ctx, opts.DynamoTable, opts.DynamoRegion, opts.DynamoEndpoint)
	default:
		return nil, fmt.Errorf("unknown source kind %q (want %s, %s or %s)", opts.Kind, KindHTTP, KindFile, KindDynamo)
	}
}
