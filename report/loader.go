package report

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"quake-notifier/pkg/quake"
)

// LoadError reports a failure to retrieve or parse a detail document.
// Err is a *quake.NetworkError or a *quake.ParseError.
type LoadError struct {
	Err error
	URI string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.URI, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Loader retrieves detail documents.
type Loader struct {
	client    *http.Client
	logger    *slog.Logger
	userAgent string
}

// NewLoader creates a new detail document loader.
func NewLoader(client *http.Client, userAgent string, logger *slog.Logger) *Loader {
	return &Loader{
		client:    client,
		logger:    logger,
		userAgent: userAgent,
	}
}

// Load fetches and parses the document at uri. All failures are returned as *LoadError.
func (l *Loader) Load(ctx context.Context, uri string) (*Document, error) {
	l.logger.Info("HTTP request starting",
		"method", "GET",
		"url", uri,
		"purpose", "fetch_report")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, http.NoBody)
	if err != nil {
		return nil, &LoadError{URI: uri, Err: &quake.NetworkError{URL: uri, Err: err}}
	}
	if l.userAgent != "" {
		req.Header.Set("User-Agent", l.userAgent)
	}

	startTime := time.Now()
	resp, err := l.client.Do(req)
	duration := time.Since(startTime)
	if err != nil {
		l.logger.Warn("HTTP request failed",
			"url", uri,
			"duration_ms", duration.Milliseconds(),
			"error", err)
		return nil, &LoadError{URI: uri, Err: &quake.NetworkError{URL: uri, Err: err}}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			l.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	l.logger.Info("HTTP request completed",
		"url", uri,
		"status_code", resp.StatusCode,
		"duration_ms", duration.Milliseconds(),
		"content_length", resp.ContentLength)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &LoadError{URI: uri, Err: &quake.NetworkError{URL: uri, StatusCode: resp.StatusCode}}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &LoadError{URI: uri, Err: &quake.NetworkError{URL: uri, Err: fmt.Errorf("read body: %w", err)}}
	}

	doc, err := Parse(body)
	if err != nil {
		l.logger.Error("Failed to parse report", "url", uri, "error", err)
		return nil, &LoadError{URI: uri, Err: &quake.ParseError{URL: uri, Err: err, Body: body}}
	}
	doc.URI = uri

	l.logger.Info("Report parsed successfully",
		"url", uri,
		"title", doc.Head.Title,
		"event_id", doc.Head.EventID,
		"info_type", doc.Head.InfoType)

	return doc, nil
}
