package leaderboard

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPPrewarmer warms images by downloading and discarding them.
type HTTPPrewarmer struct {
	Client *http.Client
}

func NewHTTPPrewarmer(timeout time.Duration) *HTTPPrewarmer {
	return &HTTPPrewarmer{Client: &http.Client{Timeout: timeout}}
}

func (p *HTTPPrewarmer) Warm(ctx context.Context, url string) error {
	if url == "" {
		return fmt.Errorf("empty image url")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("prewarm %s: status %d", url, resp.StatusCode)
	}
	return nil
}
