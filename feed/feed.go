// Package feed handles conditional fetching and parsing of the JMA Atom feed.
package feed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"quake-notifier/pkg/quake"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
)

// DefaultURL is the JMA feed for earthquake and volcano bulletins.
const DefaultURL = "https://www.data.jma.go.jp/developer/xml/feed/eqvol.xml"

// ErrNotModified is returned when the feed has not changed since the given time.
var ErrNotModified = errors.New("feed not modified")

// Snapshot is a successfully fetched feed document.
type Snapshot struct {
	LastModified time.Time     // Zero if the server sent no usable Last-Modified header
	Entries      []quake.Entry // Document order, newest first
}

// Fetcher performs conditional retrievals of the feed.
type Fetcher struct {
	client    *http.Client
	logger    *slog.Logger
	url       string
	userAgent string
}

// New creates a new feed fetcher.
func New(client *http.Client, feedURL, userAgent string, logger *slog.Logger) *Fetcher {
	if feedURL == "" {
		feedURL = DefaultURL
	}
	return &Fetcher{
		client:    client,
		logger:    logger,
		url:       feedURL,
		userAgent: userAgent,
	}
}

// URL returns the feed location.
func (f *Fetcher) URL() string { return f.url }

// Fetch retrieves the feed, sending If-Modified-Since when ifModifiedSince is non-zero.
// Returns ErrNotModified on 304, a *quake.NetworkError on transport failure or any
// other non-200 status, and a *quake.ParseError if the body cannot be parsed.
func (f *Fetcher) Fetch(ctx context.Context, ifModifiedSince time.Time) (*Snapshot, error) {
	f.logger.Info("HTTP request starting",
		"method", "GET",
		"url", f.url,
		"purpose", "fetch_feed",
		"if_modified_since", formatSince(ifModifiedSince))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if !ifModifiedSince.IsZero() {
		req.Header.Set("If-Modified-Since", ifModifiedSince.UTC().Format(http.TimeFormat))
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "application/atom+xml,application/xml;q=0.9,*/*;q=0.8")

	startTime := time.Now()
	resp, err := f.client.Do(req)
	duration := time.Since(startTime)
	if err != nil {
		f.logger.Warn("HTTP request failed",
			"url", f.url,
			"duration_ms", duration.Milliseconds(),
			"error", err)
		return nil, &quake.NetworkError{URL: f.url, Err: err}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			f.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	f.logger.Info("HTTP request completed",
		"url", f.url,
		"status_code", resp.StatusCode,
		"duration_ms", duration.Milliseconds(),
		"content_length", resp.ContentLength)

	if resp.StatusCode == http.StatusNotModified {
		return nil, ErrNotModified
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &quake.NetworkError{URL: f.url, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &quake.NetworkError{URL: f.url, Err: fmt.Errorf("read body: %w", err)}
	}

	entries, err := parse(body)
	if err != nil {
		f.logger.Error("Failed to parse feed", "url", f.url, "error", err)
		return nil, &quake.ParseError{URL: f.url, Err: err, Body: body}
	}

	snap := &Snapshot{Entries: entries}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			snap.LastModified = t
		} else {
			f.logger.Warn("Unparseable Last-Modified header", "value", lm, "error", err)
		}
	}

	f.logger.Info("Feed parsed successfully",
		"url", f.url,
		"entries", len(entries),
		"last_modified", formatSince(snap.LastModified))

	return snap, nil
}

// parse converts an Atom document into entries, preserving document order.
func parse(body []byte) ([]quake.Entry, error) {
	doc, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	entries := make([]quake.Entry, 0, len(doc.Items))
	for i, item := range doc.Items {
		link := item.Link
		if link == "" && len(item.Links) > 0 {
			link = item.Links[0]
		}
		link = strings.TrimSpace(link)
		if link == "" {
			return nil, fmt.Errorf("entry %d (%q) has no link", i, item.Title)
		}

		summary := item.Content
		if summary == "" {
			summary = item.Description
		}

		entries = append(entries, quake.Entry{
			ID:      link,
			Title:   strings.TrimSpace(item.Title),
			Summary: plainText(summary),
			Link:    link,
		})
	}
	return entries, nil
}

// plainText strips any markup from feed content.
func plainText(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || !strings.Contains(s, "<") {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	return strings.TrimSpace(doc.Text())
}

func formatSince(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
