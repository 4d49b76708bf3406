// Package dedupe skips documents whose identifier was already written to the
// same index and category in an earlier run. Identifiers are content hashes,
// so a hit means the exact body is already stored. Markers live in Redis with
// a TTL; when Redis is unreachable the write goes ahead.
package dedupe

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/library-indexer/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/library-indexer/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/library-indexer/pkg/errors"
)

// Store is the key-value backend for markers.
type Store interface {
	Exists(ctx context.Context, key string) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

type Deduper struct {
	store  Store
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

func New(store Store, cfg config.DedupeConfig) *Deduper {
	return &Deduper{
		store:  store,
		prefix: cfg.KeyPrefix,
		ttl:    cfg.TTL,
		logger: slog.Default().With("component", "dedupe"),
	}
}

// Key returns the marker key for a submission.
func (d *Deduper) Key(sub ingestion.Submission) string {
	return fmt.Sprintf("%s:%s:%s:%s", d.prefix, sub.Index, sub.Category, sub.ID)
}

// Middleware returns ErrAlreadyIndexed for marked submissions and marks
// submissions after the search service acknowledged them.
func (d *Deduper) Middleware() ingestion.Middleware {
	return func(next ingestion.Indexer) ingestion.Indexer {
		return ingestion.IndexerFunc(func(ctx context.Context, sub ingestion.Submission) error {
			key := d.Key(sub)
			seen, err := d.store.Exists(ctx, key)
			if err != nil {
				d.logger.Warn("dedupe lookup failed, submitting anyway", "doc_id", sub.ID, "error", err)
			}
			if seen {
				return fmt.Errorf("%w: %s", apperrors.ErrAlreadyIndexed, sub.ID)
			}
			if err := next.Index(ctx, sub); err != nil {
				return err
			}
			if err := d.store.Set(ctx, key, time.Now().UTC().Unix(), d.ttl); err != nil {
				d.logger.Warn("failed to record indexed document", "doc_id", sub.ID, "error", err)
			}
			return nil
		})
	}
}

// Reset forgets every marker for target so the next run resubmits all
// documents.
func (d *Deduper) Reset(ctx context.Context, target ingestion.Target) (int64, error) {
	pattern := fmt.Sprintf("%s:%s:%s:*", d.prefix, target.Index, target.Category)
	n, err := d.store.FlushByPattern(ctx, pattern)
	if err != nil {
		return n, fmt.Errorf("resetting dedupe markers: %w", err)
	}
	d.logger.Info("dedupe markers cleared", "pattern", pattern, "removed", n)
	return n, nil
}
