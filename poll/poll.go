// Package poll runs the feed pipeline: fetch, diff, load, render and dispatch.
package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"quake-notifier/feed"
	"quake-notifier/metrics"
	"quake-notifier/pkg/quake"
	"quake-notifier/report"
)

// Diagnostic artifact prefixes.
const (
	ArtifactFeedParse   = "feed-parse-error"
	ArtifactDetailParse = "detail-parse-error"
)

// ErrRunInProgress is returned by Run when another run has not finished yet.
var ErrRunInProgress = errors.New("poll run already in progress")

// Fetcher interface for conditional feed retrieval.
type Fetcher interface {
	Fetch(ctx context.Context, ifModifiedSince time.Time) (*feed.Snapshot, error)
}

// Store interface for dedup state and diagnostic artifacts.
type Store interface {
	Load(ctx context.Context) (*quake.State, error)
	Save(ctx context.Context, state *quake.State) error
	SaveArtifact(ctx context.Context, prefix string, body []byte) (string, error)
}

// Loader interface for detail documents.
type Loader interface {
	Load(ctx context.Context, uri string) (*report.Document, error)
}

// Dispatcher interface for webhook delivery.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg *quake.Message, urls []string) []quake.Delivery
}

// Monitor runs the pipeline. Runs never overlap.
type Monitor struct {
	fetcher    Fetcher
	store      Store
	loader     Loader
	dispatcher Dispatcher
	targets    quake.Targets
	logger     *slog.Logger
	metrics    *metrics.Metrics
	running    atomic.Bool
}

// New creates a new poll monitor.
func New(fetcher Fetcher, store Store, loader Loader, dispatcher Dispatcher, targets quake.Targets, logger *slog.Logger) *Monitor {
	return &Monitor{
		fetcher:    fetcher,
		store:      store,
		loader:     loader,
		dispatcher: dispatcher,
		targets:    targets,
		logger:     logger,
	}
}

// WithMetrics sets the metrics recorder and returns the monitor.
func (m *Monitor) WithMetrics(mt *metrics.Metrics) *Monitor {
	m.metrics = mt
	return m
}

// Run performs one pipeline cycle. It returns ErrRunInProgress if a cycle is
// already running, and an error only when the feed could not be fetched.
// Per-entry failures are reported to the error webhook and do not fail the run.
func (m *Monitor) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		m.logger.Warn("Skipping poll, previous run still in progress")
		m.metrics.ObserveRun(metrics.ResultSkipped, 0)
		return ErrRunInProgress
	}
	defer m.running.Store(false)

	start := time.Now()
	result, err := m.run(ctx)
	duration := time.Since(start)
	m.metrics.ObserveRun(result, duration)

	m.logger.Info("Poll run finished",
		"result", result,
		"duration_ms", duration.Milliseconds())
	return err
}

func (m *Monitor) run(ctx context.Context) (string, error) {
	prior, err := m.store.Load(ctx)
	if err != nil {
		m.logger.Warn("State unreadable, treating as first run", "error", err)
		prior = nil
	}
	if prior == nil {
		m.logger.Info("No prior state, new entries will not be notified this run")
	}

	var since time.Time
	if prior != nil {
		since = prior.LastModified
	}

	snap, err := m.fetcher.Fetch(ctx, since)
	if errors.Is(err, feed.ErrNotModified) {
		m.logger.Info("Feed not modified", "if_modified_since", since.UTC().Format(time.RFC3339))
		return metrics.ResultNotModified, nil
	}
	if err != nil {
		if pe, ok := quake.AsParseError(err); ok {
			m.saveArtifact(ctx, ArtifactFeedParse, pe.URL, pe.Body)
		}
		return metrics.ResultError, fmt.Errorf("fetch feed: %w", err)
	}
	m.metrics.SetFeedLastModified(snap.LastModified)

	fresh, next := Diff(snap, prior)
	m.metrics.AddNewEntries(len(fresh))

	// State is replaced before dispatch; a crash mid-run drops the remaining entries.
	if err := m.store.Save(ctx, next); err != nil {
		m.logger.Error("Failed to save state", "error", err)
	}

	m.logger.Info("BEGIN processing entries",
		"feed_last_modified", snap.LastModified.UTC().Format(time.RFC3339),
		"fetched", len(snap.Entries),
		"new", len(fresh))

	for _, entry := range fresh {
		select {
		case <-ctx.Done():
			m.logger.Info("Context cancelled, stopping entry processing", "error", ctx.Err())
			return metrics.ResultError, ctx.Err()
		default:
		}
		m.processEntry(ctx, entry)
	}

	m.logger.Info("END processing entries", "new", len(fresh))
	return metrics.ResultOK, nil
}

func (m *Monitor) processEntry(ctx context.Context, entry quake.Entry) {
	m.logger.Info("Processing entry",
		"entry_id", entry.ID,
		"title", entry.Title,
		"summary", entry.Summary,
		"link", entry.Link)

	doc, err := m.loader.Load(ctx, entry.Link)
	if err != nil {
		m.reportFailure(ctx, entry.Link, err)
		return
	}

	r, err := report.Extract(doc)
	if errors.Is(err, report.ErrUnknownKind) {
		m.logger.Info("Skipping unrecognized report",
			"entry_id", entry.ID,
			"title", doc.Head.Title)
		return
	}
	if err != nil {
		m.reportFailure(ctx, entry.Link, err)
		return
	}

	msg := report.Render(r, doc)
	m.metrics.IncNotification(r.Kind().String())
	m.logger.Info("Notification rendered",
		"entry_id", entry.ID,
		"kind", r.Kind().String(),
		"username", msg.Username)

	m.record(metrics.RoleNotify, m.dispatcher.Dispatch(ctx, msg, m.targets.Notify))
}

// reportFailure sends a diagnostic to the error target and keeps the raw
// document when one was retrieved.
func (m *Monitor) reportFailure(ctx context.Context, uri string, err error) {
	m.logger.Warn("Entry failed", "link", uri, "error", err)

	failure := report.FailureOf(err)
	if pe, ok := quake.AsParseError(err); ok {
		m.saveArtifact(ctx, ArtifactDetailParse, uri, pe.Body)
	}

	msg := report.Diagnostic(failure, uri, err)
	m.record(metrics.RoleError, m.dispatcher.Dispatch(ctx, msg, []string{m.targets.Error}))
}

func (m *Monitor) saveArtifact(ctx context.Context, prefix, uri string, body []byte) {
	if len(body) == 0 {
		return
	}
	key, err := m.store.SaveArtifact(ctx, prefix, body)
	if err != nil {
		m.logger.Error("Failed to save diagnostic artifact", "prefix", prefix, "url", uri, "error", err)
		return
	}
	m.logger.Info("Diagnostic artifact saved", "prefix", prefix, "url", uri, "key", key)
}

func (m *Monitor) record(role string, deliveries []quake.Delivery) {
	for _, d := range deliveries {
		m.metrics.ObserveDelivery(role, d.OK())
	}
}
