package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/library-indexer/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/library-indexer/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/library-indexer/pkg/resilience"
)

// Indexer writes a submission and blocks until the write is acknowledged.
type Indexer interface {
	Index(ctx context.Context, sub Submission) error
}

// IndexerFunc adapts a function to the Indexer interface.
type IndexerFunc func(ctx context.Context, sub Submission) error

func (f IndexerFunc) Index(ctx context.Context, sub Submission) error {
	return f(ctx, sub)
}

// AsyncIndexer starts a write and returns immediately. done is called exactly
// once, from another goroutine, when the write completes.
type AsyncIndexer interface {
	IndexAsync(ctx context.Context, sub Submission, done func(error))
}

// Middleware decorates an Indexer.
type Middleware func(Indexer) Indexer

// Chain wraps base with mws. The first middleware is the outermost.
func Chain(base Indexer, mws ...Middleware) Indexer {
	ix := base
	for i := len(mws) - 1; i >= 0; i-- {
		ix = mws[i](ix)
	}
	return ix
}

type asyncIndexer struct {
	next Indexer
}

// Async runs each write of ix on its own goroutine.
func Async(ix Indexer) AsyncIndexer {
	return asyncIndexer{next: ix}
}

func (a asyncIndexer) IndexAsync(ctx context.Context, sub Submission, done func(error)) {
	go func() {
		done(a.next.Index(ctx, sub))
	}()
}

// WithRetry resubmits retryable failures. A single attempt passes writes
// straight through.
func WithRetry(cfg resilience.RetryConfig) Middleware {
	return func(next Indexer) Indexer {
		if cfg.MaxAttempts <= 1 {
			return next
		}
		cfg.Retryable = apperrors.IsRetryable
		return IndexerFunc(func(ctx context.Context, sub Submission) error {
			return resilience.Retry(ctx, "index "+sub.ID, cfg, func() error {
				return next.Index(ctx, sub)
			})
		})
	}
}

// WithBreaker stops calling the search service after repeated failures and
// fails fast with resilience.ErrCircuitOpen until it recovers.
func WithBreaker(cb *resilience.CircuitBreaker) Middleware {
	return func(next Indexer) Indexer {
		return IndexerFunc(func(ctx context.Context, sub Submission) error {
			err := cb.Execute(func() error {
				return next.Index(ctx, sub)
			})
			if errors.Is(err, resilience.ErrCircuitOpen) {
				return apperrors.WrapSubmission(sub.ID, err)
			}
			return err
		})
	}
}

// WithMetrics records submission counts, latency and in-flight writes.
func WithMetrics(m *metrics.Metrics) Middleware {
	return func(next Indexer) Indexer {
		return IndexerFunc(func(ctx context.Context, sub Submission) error {
			start := time.Now()
			m.SubmissionsInFlight.Inc()
			defer m.SubmissionsInFlight.Dec()

			err := next.Index(ctx, sub)
			m.SubmissionDuration.WithLabelValues(sub.Index).Observe(time.Since(start).Seconds())
			m.SubmissionsTotal.WithLabelValues(sub.Index, outcome(err)).Inc()
			if err == nil {
				m.BytesSubmittedTotal.Add(float64(len(sub.Body)))
			}
			return err
		})
	}
}

// WithLogging writes one debug line per completed submission.
func WithLogging(logger *slog.Logger) Middleware {
	return func(next Indexer) Indexer {
		return IndexerFunc(func(ctx context.Context, sub Submission) error {
			start := time.Now()
			err := next.Index(ctx, sub)
			logger.Debug("submission completed",
				"doc_id", sub.ID,
				"line", sub.Line,
				"outcome", outcome(err),
				"duration", time.Since(start),
			)
			return err
		})
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "indexed"
	case errors.Is(err, apperrors.ErrAlreadyIndexed):
		return "skipped"
	default:
		return "failed"
	}
}

// Describe renders a submission for log lines.
func Describe(sub Submission) string {
	return fmt.Sprintf("%s/%s/%s", sub.Index, sub.Category, sub.ID)
}
