package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/falcon/restaurants/internal/cache/schema"
)

// DefaultTimeout bounds a single HTTP fetch when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// HTTPSource fetches deltas from GET {base}/restaurants?updated_at={watermark}.
// The response body is a flat JSON array of records.
type HTTPSource struct {
	BaseURL string
	HTTP    *http.Client
}

// NewHTTPSource creates an HTTP source rooted at baseURL.
func NewHTTPSource(baseURL string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPSource{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// Fetch implements Source.
func (s *HTTPSource) Fetch(ctx context.Context, watermark string) ([]schema.RemoteRecord, error) {
	u := fmt.Sprintf("%s/restaurants?updated_at=%s", s.BaseURL, url.QueryEscape(watermark))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, transportError(fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.HTTP.Do(req)
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, transportError(fmt.Errorf("unexpected status %s: %s", resp.Status, strings.TrimSpace(string(body))))
	}

	var records []schema.RemoteRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, transportError(fmt.Errorf("failed to decode response: %w", err))
	}
	return records, nil
}
