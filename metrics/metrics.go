// Package metrics exposes Prometheus counters for pipeline runs and deliveries.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Run results.
const (
	ResultOK          = "ok"
	ResultNotModified = "not_modified"
	ResultError       = "error"
	ResultSkipped     = "skipped"
)

// Delivery roles.
const (
	RoleNotify = "notify"
	RoleError  = "error"
)

// Metrics holds the service collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	runs             *prometheus.CounterVec
	newEntries       prometheus.Counter
	notifications    *prometheus.CounterVec
	deliveries       *prometheus.CounterVec
	runDuration      prometheus.Histogram
	feedLastModified prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quake_notifier",
			Name:      "runs_total",
			Help:      "Pipeline runs by result",
		}, []string{"result"}),
		newEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quake_notifier",
			Name:      "new_entries_total",
			Help:      "Feed entries detected as new",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quake_notifier",
			Name:      "notifications_total",
			Help:      "Messages rendered by report kind",
		}, []string{"kind"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quake_notifier",
			Name:      "deliveries_total",
			Help:      "Webhook deliveries by target role and result",
		}, []string{"role", "result"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "quake_notifier",
			Name:      "run_duration_seconds",
			Help:      "Time spent in a pipeline run",
			Buckets:   prometheus.DefBuckets,
		}),
		feedLastModified: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "quake_notifier",
			Name:      "feed_last_modified_timestamp_seconds",
			Help:      "Last-Modified of the most recently fetched feed document",
		}),
	}
	reg.MustRegister(m.runs, m.newEntries, m.notifications, m.deliveries, m.runDuration, m.feedLastModified)
	return m
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(result).Inc()
	m.runDuration.Observe(d.Seconds())
}

// AddNewEntries counts entries found new by the diff.
func (m *Metrics) AddNewEntries(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.newEntries.Add(float64(n))
}

// IncNotification counts a rendered message.
func (m *Metrics) IncNotification(kind string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(kind).Inc()
}

// ObserveDelivery counts one webhook delivery outcome.
func (m *Metrics) ObserveDelivery(role string, ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.deliveries.WithLabelValues(role, result).Inc()
}

// SetFeedLastModified records the feed's Last-Modified time.
func (m *Metrics) SetFeedLastModified(t time.Time) {
	if m == nil || t.IsZero() {
		return
	}
	m.feedLastModified.Set(float64(t.Unix()))
}
