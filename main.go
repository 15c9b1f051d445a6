// Command quake-notifier polls the JMA seismic feed and posts new bulletins to webhooks.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quake-notifier/config"
	"quake-notifier/feed"
	"quake-notifier/metrics"
	"quake-notifier/poll"
	"quake-notifier/report"
	"quake-notifier/server"
	"quake-notifier/storage"
	"quake-notifier/webhook"

	gcs "cloud.google.com/go/storage"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to YAML config file")
	once := flag.Bool("once", false, "run a single poll and exit")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}

	cfg, err := config.Load(*configPath)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}

	level, err := cfg.LogLevel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configure logging: %v\n", err)
		os.Exit(2)
	}
	logger, err := newLogger(os.Stdout, level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configure logging: %v\n", err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, *once); err != nil {
		logger.Error("Service failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, once bool) error {
	backend, closeBackend, err := newBackend(ctx, cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	defer func() {
		if err := closeBackend(); err != nil {
			logger.Warn("Failed to close storage backend", "error", err)
		}
	}()
	logger.Info("Storage initialized", "driver", backend.Name())

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mt := metrics.New(reg)

	httpClient := &http.Client{Timeout: cfg.HTTP.Timeout}

	var poster webhook.Poster = webhook.NewHTTPPoster(httpClient, cfg.HTTP.UserAgent, logger)
	if cfg.Delivery.DryRun {
		logger.Info("Dry run enabled, webhook posts are logged only")
		poster = webhook.NewMockPoster(logger)
	}
	dispatcher := webhook.New(poster, logger).WithRateLimit(cfg.Delivery.RatePerSec, cfg.Delivery.Burst)

	monitor := poll.New(
		feed.New(httpClient, cfg.FeedURL, cfg.HTTP.UserAgent, logger),
		storage.New(backend, logger),
		report.NewLoader(httpClient, cfg.HTTP.UserAgent, logger),
		dispatcher,
		cfg.Targets(),
		logger,
	).WithMetrics(mt)

	logger.Info("Webhooks configured",
		"notify_targets", len(cfg.Webhooks.Notify),
		"feed_url", cfg.FeedURL)

	if once {
		return monitor.Run(ctx)
	}

	g, ctx := errgroup.WithContext(ctx)

	srv := server.New(&server.Config{
		Poller:   monitor,
		IsBusy:   func(err error) bool { return errors.Is(err, poll.ErrRunInProgress) },
		Gatherer: reg,
		Logger:   logger,
		Port:     cfg.Port,
	})
	g.Go(func() error { return srv.ListenAndServe(ctx) })

	if cfg.Schedule != "" {
		scheduler, err := newScheduler(ctx, cfg.Schedule, monitor, logger)
		if err != nil {
			return err
		}
		scheduler.Start()
		logger.Info("Scheduler started", "schedule", cfg.Schedule)
		g.Go(func() error {
			<-ctx.Done()
			<-scheduler.Stop().Done()
			logger.Info("Scheduler stopped")
			return nil
		})
	}

	notifySystemd(logger, daemon.SdNotifyReady)
	<-ctx.Done()
	notifySystemd(logger, daemon.SdNotifyStopping)

	return g.Wait()
}

func newLogger(w io.Writer, level slog.Level, format string) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: level}

	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json", "":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

// newBackend opens the configured state backend and returns its closer.
func newBackend(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (storage.Backend, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Driver {
	case config.DriverFile:
		b, err := storage.NewFileBackend(cfg.Dir)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Running with local storage", "storage_path", cfg.Dir)
		return b, noop, nil

	case config.DriverGCS:
		var opts []option.ClientOption
		if credsJSON := os.Getenv("GOOGLE_CREDENTIALS_JSON"); credsJSON != "" {
			opts = append(opts, option.WithCredentialsJSON([]byte(credsJSON)))
		}
		client, err := gcs.NewClient(ctx, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("create storage client: %w", err)
		}
		return storage.NewGCSBackend(client, cfg.Bucket, logger), client.Close, nil

	case config.DriverRedis:
		b, err := storage.NewRedisBackend(ctx, storage.RedisConfig{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			KeyPrefix:   cfg.Redis.KeyPrefix,
			ArtifactTTL: cfg.Redis.ArtifactTTL,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return b, b.Close, nil

	case config.DriverSQLite:
		b, err := storage.NewSQLiteBackend(ctx, cfg.SQLite)
		if err != nil {
			return nil, nil, err
		}
		return b, b.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// newScheduler builds the in-process cron trigger. Ticks that land while a
// run is still going are skipped.
func newScheduler(ctx context.Context, schedule string, monitor *poll.Monitor, logger *slog.Logger) (*cron.Cron, error) {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(
		cron.WithParser(cron.NewParser(config.ScheduleParseOptions)),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	_, err := c.AddFunc(schedule, func() {
		start := time.Now()
		err := monitor.Run(ctx)
		switch {
		case errors.Is(err, poll.ErrRunInProgress):
			logger.Info("Scheduled poll skipped, run in progress")
		case err != nil:
			logger.Error("Scheduled poll failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		}
	})
	if err != nil {
		return nil, fmt.Errorf("add schedule %q: %w", schedule, err)
	}
	return c, nil
}

func notifySystemd(logger *slog.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		logger.Warn("Failed to notify systemd", "state", state, "error", err)
		return
	}
	if sent {
		logger.Debug("Notified systemd", "state", state)
	}
}
