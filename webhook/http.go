package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"quake-notifier/pkg/quake"
)

// HTTPPoster posts to webhooks over HTTP.
type HTTPPoster struct {
	client    *http.Client
	userAgent string
	logger    *slog.Logger
}

// NewHTTPPoster creates a new HTTP webhook poster.
func NewHTTPPoster(client *http.Client, userAgent string, logger *slog.Logger) *HTTPPoster {
	return &HTTPPoster{
		client:    client,
		userAgent: userAgent,
		logger:    logger,
	}
}

// Post sends body as application/json.
func (p *HTTPPoster) Post(ctx context.Context, url string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, &quake.NetworkError{URL: redact(url), Err: err}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			p.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()
	// Drain so the connection can be reused.
	if _, err := io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10)); err != nil {
		p.logger.Debug("Failed to drain response body", "error", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, &quake.NetworkError{URL: redact(url), StatusCode: resp.StatusCode}
	}
	return resp.StatusCode, nil
}
