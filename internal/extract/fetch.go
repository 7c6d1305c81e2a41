package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/curateapp/curate/internal/common"
)

const (
	fetchTimeout  = 30 * time.Second
	fetchMaxBytes = 8 << 20
	userAgent     = "curate/1.0 (+https://github.com/curateapp/curate)"
)

// PageFetcher retrieves the raw HTML of a bookmarked URL.
type PageFetcher struct {
	client *http.Client
}

func NewPageFetcher(client *http.Client) *PageFetcher {
	if client == nil {
		client = &http.Client{Timeout: fetchTimeout}
	}
	return &PageFetcher{client: client}
}

// Fetch downloads the page body. Non-2xx responses and transport errors
// are infrastructure failures of the extract stage.
func (f *PageFetcher) Fetch(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", &common.InfraError{Component: "fetch", Cause: err}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", &common.InfraError{Component: "fetch", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &common.InfraError{Component: "fetch", Cause: fmt.Errorf("unexpected status %d for %s", resp.StatusCode, pageURL)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchMaxBytes))
	if err != nil {
		return "", &common.InfraError{Component: "fetch", Cause: err}
	}
	return string(body), nil
}
