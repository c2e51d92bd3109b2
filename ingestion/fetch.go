package ingestion

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const maxFetchBytes = 5 << 20

var fetchClient = &http.Client{Timeout: 30 * time.Second}

// FetchURL downloads a web page and returns its visible text truncated to
// limit runes (no truncation when limit <= 0).
func FetchURL(ctx context.Context, url string, limit int) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "rag-assistant/1.0")

	resp, err := fetchClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetch %s: unexpected status %s", url, resp.Status)
	}

	text, err := HTMLToText(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", url, err)
	}
	return truncateRunes(text, limit), nil
}
