// Package webhook delivers rendered messages to Slack-compatible incoming webhooks.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"quake-notifier/pkg/quake"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Poster defines the interface for webhook transport implementations.
type Poster interface {
	// Post sends a JSON body to url and returns the response status code.
	// Any non-2xx status is returned as an error.
	Post(ctx context.Context, url string, body []byte) (int, error)
}

// Dispatcher fans a message out to a group of webhooks.
type Dispatcher struct {
	poster  Poster
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New creates a new dispatcher using the given poster.
func New(poster Poster, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		poster: poster,
		logger: logger,
	}
}

// WithRateLimit caps outgoing posts across all targets. A non-positive rate disables the limit.
func (d *Dispatcher) WithRateLimit(perSecond float64, burst int) *Dispatcher {
	if perSecond <= 0 {
		d.limiter = nil
		return d
	}
	if burst < 1 {
		burst = 1
	}
	d.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	return d
}

// Dispatch posts msg to every url concurrently and waits for all of them.
// Each target's outcome is reported independently; a failure at one target
// never prevents or cancels delivery to the others. Nothing is retried.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *quake.Message, urls []string) []quake.Delivery {
	results := make([]quake.Delivery, len(urls))

	body, err := json.Marshal(msg)
	if err != nil {
		for i, u := range urls {
			results[i] = quake.Delivery{URL: u, Err: fmt.Errorf("marshal message: %w", err)}
		}
		d.logger.Error("Failed to encode message", "error", err)
		return results
	}

	var g errgroup.Group
	for i, u := range urls {
		g.Go(func() error {
			results[i] = d.deliver(ctx, u, body)
			return nil
		})
	}
	_ = g.Wait() // deliver never fails

	var failed int
	for _, r := range results {
		if !r.OK() {
			failed++
		}
	}
	d.logger.Info("Dispatch completed",
		"targets", len(urls),
		"failed", failed)

	return results
}

func (d *Dispatcher) deliver(ctx context.Context, u string, body []byte) quake.Delivery {
	target := redact(u)

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			d.logger.Warn("Webhook delivery not attempted", "target", target, "error", err)
			return quake.Delivery{URL: u, Err: fmt.Errorf("rate limit wait: %w", err)}
		}
	}

	d.logger.Info("Webhook request starting",
		"method", "POST",
		"target", target,
		"body_length", len(body))

	startTime := time.Now()
	status, err := d.poster.Post(ctx, u, body)
	duration := time.Since(startTime)

	if err != nil {
		d.logger.Warn("Webhook delivery failed",
			"target", target,
			"status_code", status,
			"duration_ms", duration.Milliseconds(),
			"error", err)
	} else {
		d.logger.Info("Webhook request completed",
			"target", target,
			"status_code", status,
			"duration_ms", duration.Milliseconds())
	}

	return quake.Delivery{URL: u, StatusCode: status, Duration: duration, Err: err}
}

// redact keeps only scheme and host; webhook paths carry credentials.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "invalid-url"
	}
	return u.Scheme + "://" + u.Host + "/..."
}
