package artifact

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// AssetFetcher retrieves remote assets (template base images, signatures).
type AssetFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// HTTPFetcher fetches assets over HTTP with timeouts and retries.
type HTTPFetcher struct {
	client *resty.Client
}

func NewHTTPFetcher() *HTTPFetcher {
	client := resty.New().
		SetTimeout(30 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)

	return &HTTPFetcher{client: client}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if f == nil || f.client == nil {
		return nil, fmt.Errorf("fetcher is not initialized")
	}
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("asset url is required")
	}

	resp, err := f.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch asset %q: %w", url, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("asset %q returned status %d", url, resp.StatusCode())
	}

	body := resp.Body()
	if len(body) == 0 {
		return nil, fmt.Errorf("asset %q is empty", url)
	}
	return body, nil
}
