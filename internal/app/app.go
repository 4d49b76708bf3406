// Package app wires the search client and the optional integrations selected
// by the configuration into one Indexer that the drivers write through.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/library-indexer/internal/dedupe"
	"github.com/Adithya-Monish-Kumar-K/library-indexer/internal/elastic"
	"github.com/Adithya-Monish-Kumar-K/library-indexer/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/library-indexer/internal/ingestion/driver"
	"github.com/Adithya-Monish-Kumar-K/library-indexer/internal/ledger"
	"github.com/Adithya-Monish-Kumar-K/library-indexer/internal/notify"
	"github.com/Adithya-Monish-Kumar-K/library-indexer/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/library-indexer/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/library-indexer/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/library-indexer/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/library-indexer/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/library-indexer/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/library-indexer/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/library-indexer/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/library-indexer/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/library-indexer/pkg/resilience"
)

// App owns every connection opened for an ingestion run.
type App struct {
	Config  *config.Config
	Search  *elastic.Client
	Indexer ingestion.Indexer
	Metrics *metrics.Metrics
	Health  *health.Checker

	deduper *dedupe.Deduper
	closers []func() error
	logger  *slog.Logger
}

// Build connects to the search service and every enabled integration and
// assembles the submission chain. Close must be called when Build succeeds.
func Build(ctx context.Context, cfg *config.Config, runID string) (*App, error) {
	a := &App{
		Config:  cfg,
		Metrics: metrics.New(),
		Health:  health.NewChecker(),
		logger:  logger.FromContext(ctx).With("component", "app"),
	}

	search, err := elastic.New(cfg.Search)
	if err != nil {
		return nil, err
	}
	a.Search = search
	a.Health.Register("elasticsearch", health.PingCheck(search.Ping, true))

	mws := []ingestion.Middleware{
		ingestion.WithMetrics(a.Metrics),
		ingestion.WithLogging(logger.WithComponent("submission")),
	}

	if cfg.Dedupe.Enabled {
		rdb, err := redis.NewClient(cfg.Redis)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("dedupe: %w", err)
		}
		a.closers = append(a.closers, rdb.Close)
		a.Health.Register("redis", health.PingCheck(rdb.Ping, false))
		a.deduper = dedupe.New(rdb, cfg.Dedupe)
		mws = append(mws, a.deduper.Middleware())
		a.logger.Info("dedupe enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Dedupe.TTL)
	}

	if cfg.Ledger.Enabled {
		pg, err := postgres.New(cfg.Postgres)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("ledger: %w", err)
		}
		a.closers = append(a.closers, pg.Close)
		a.Health.Register("postgres", health.PingCheck(pg.Ping, false))
		led, err := ledger.New(pg.DB, cfg.Ledger.Table, runID)
		if err != nil {
			a.Close()
			return nil, err
		}
		if err := led.EnsureSchema(ctx, pg); err != nil {
			a.Close()
			return nil, fmt.Errorf("ledger: %w", err)
		}
		mws = append(mws, led.Middleware())
		a.logger.Info("ledger enabled", "table", cfg.Ledger.Table)
	}

	if cfg.Notify.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.IndexComplete)
		n := notify.New(producer, cfg.Notify.BatchSize, cfg.Notify.FlushInterval)
		n.Start(context.WithoutCancel(ctx))
		a.closers = append(a.closers, producer.Close, func() error {
			n.Close()
			return nil
		})
		mws = append(mws, n.Middleware())
		a.logger.Info("notifications enabled", "topic", cfg.Kafka.IndexComplete)
	}

	if b := cfg.Ingestion.Breaker; b.Enabled {
		cb := resilience.NewCircuitBreaker("elasticsearch", resilience.CircuitBreakerConfig{
			FailureThreshold: b.FailureThreshold,
			ResetTimeout:     b.ResetTimeout,
			OnStateChange: func(name string, _, to resilience.State) {
				a.Metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			},
		})
		mws = append(mws, ingestion.WithBreaker(cb))
	}

	r := cfg.Ingestion.Retry
	mws = append(mws, ingestion.WithRetry(resilience.RetryConfig{
		MaxAttempts:    r.MaxAttempts,
		InitialDelay:   r.InitialDelay,
		MaxDelay:       r.MaxDelay,
		Multiplier:     2.0,
		JitterFraction: 0.1,
	}))

	a.Indexer = ingestion.Chain(search, mws...)
	return a, nil
}

// Async returns the non-blocking form of Indexer used by the pipelined
// driver.
func (a *App) Async() ingestion.AsyncIndexer {
	return ingestion.Async(a.Indexer)
}

// Target is where this run writes.
func (a *App) Target() ingestion.Target {
	return ingestion.Target{
		Index:    a.Config.Ingestion.Index,
		Category: a.Config.Ingestion.Category,
	}
}

// DriverConfig returns the settings for either driver.
func (a *App) DriverConfig() driver.Config {
	return driver.Config{
		Target:      a.Target(),
		FanOut:      a.Config.Ingestion.FanOut,
		ReportEvery: a.Config.Ingestion.ReportEvery,
		Metrics:     a.Metrics,
		OnTransition: func(from, to driver.State) {
			a.logger.Debug("driver state changed", "from", from, "to", to)
		},
	}
}

// CheckHealth probes every dependency and logs the result.
func (a *App) CheckHealth(ctx context.Context) health.Report {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	report := a.Health.Run(ctx)
	a.Health.LogReport(report)
	return report
}

// Handler serves /metrics and /healthz.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", a.Metrics.Handler())
	mux.Handle("GET /healthz", a.Health.ReadyHandler())
	h := middleware.Timeout(8 * time.Second)(mux)
	return middleware.Instrument(a.Metrics)(h)
}

// ServeMetrics starts the metrics server when it is enabled.
func (a *App) ServeMetrics() {
	if !a.Config.Metrics.Enabled {
		return
	}
	shutdown := metrics.StartServer(a.Config.Metrics.Port, a.Handler())
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdown(ctx)
	})
}

// ResetDedupe forgets which documents of the current target were written.
func (a *App) ResetDedupe(ctx context.Context) error {
	if a.deduper == nil {
		return fmt.Errorf("%w: dedupe is not enabled", apperrors.ErrInvalidConfig)
	}
	_, err := a.deduper.Reset(ctx, a.Target())
	return err
}

// Close releases connections in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
