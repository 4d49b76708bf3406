// Package ledger records the outcome of every submission in PostgreSQL so
// that a run can be audited afterwards: which documents reached the search
// service, which failed and why. Rows are keyed by index, category and
// document identifier and upserted, mirroring the search service itself.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/library-indexer/internal/ingestion"
	apperrors "github.com/Adithya-Monish-Kumar-K/library-indexer/pkg/errors"
)

const (
	StatusIndexed = "INDEXED"
	StatusFailed  = "FAILED"
)

var tableName = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type txRunner interface {
	InTx(ctx context.Context, fn func(tx *sql.Tx) error) error
}

type Ledger struct {
	db     execer
	table  string
	runID  string
	upsert string
	logger *slog.Logger
}

// New returns a Ledger writing to table. runID is stored with every row.
func New(db execer, table string, runID string) (*Ledger, error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("%w: ledger table name %q", apperrors.ErrInvalidConfig, table)
	}
	quoted := pq.QuoteIdentifier(table)
	return &Ledger{
		db:    db,
		table: quoted,
		runID: runID,
		upsert: fmt.Sprintf(`INSERT INTO %s
			(index_name, category, doc_id, status, size_bytes, source_line, run_id, error, attempts, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, NOW())
		ON CONFLICT (index_name, category, doc_id) DO UPDATE SET
			status = EXCLUDED.status,
			size_bytes = EXCLUDED.size_bytes,
			source_line = EXCLUDED.source_line,
			run_id = EXCLUDED.run_id,
			error = EXCLUDED.error,
			attempts = %s.attempts + 1,
			updated_at = NOW()`, quoted, quoted),
		logger: slog.Default().With("component", "ledger"),
	}, nil
}

// EnsureSchema creates the ledger table if it does not exist.
func (l *Ledger) EnsureSchema(ctx context.Context, db txRunner) error {
	return db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			index_name  TEXT        NOT NULL,
			category    TEXT        NOT NULL,
			doc_id      TEXT        NOT NULL,
			status      TEXT        NOT NULL,
			size_bytes  INTEGER     NOT NULL,
			source_line INTEGER     NOT NULL,
			run_id      TEXT        NOT NULL,
			error       TEXT,
			attempts    INTEGER     NOT NULL DEFAULT 1,
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (index_name, category, doc_id)
		)`, l.table)); err != nil {
			return fmt.Errorf("creating ledger table: %w", err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(
			`CREATE INDEX IF NOT EXISTS %s ON %s (status, updated_at)`,
			pq.QuoteIdentifier(unquote(l.table)+"_status_idx"), l.table,
		)); err != nil {
			return fmt.Errorf("creating ledger index: %w", err)
		}
		return nil
	})
}

// Record stores the outcome of one submission. Skipped submissions are not
// recorded.
func (l *Ledger) Record(ctx context.Context, sub ingestion.Submission, outcome error) error {
	if errors.Is(outcome, apperrors.ErrAlreadyIndexed) {
		return nil
	}
	status := StatusIndexed
	var reason sql.NullString
	if outcome != nil {
		status = StatusFailed
		reason = sql.NullString{String: outcome.Error(), Valid: true}
	}
	_, err := l.db.ExecContext(ctx, l.upsert,
		sub.Index, sub.Category, sub.ID, status, len(sub.Body), sub.Line, l.runID, reason,
	)
	if err != nil {
		return fmt.Errorf("recording %s in ledger: %w", sub.ID, err)
	}
	return nil
}

// Middleware records every outcome after the write completes. Ledger
// failures are logged and never change the outcome of the write.
func (l *Ledger) Middleware() ingestion.Middleware {
	return func(next ingestion.Indexer) ingestion.Indexer {
		return ingestion.IndexerFunc(func(ctx context.Context, sub ingestion.Submission) error {
			err := next.Index(ctx, sub)
			if recErr := l.Record(context.WithoutCancel(ctx), sub, err); recErr != nil {
				l.logger.Error("ledger write failed",
					"doc_id", sub.ID,
					"error", recErr,
				)
			}
			return err
		})
	}
}

func unquote(quoted string) string {
	if len(quoted) >= 2 && quoted[0] == '"' && quoted[len(quoted)-1] == '"' {
		return quoted[1 : len(quoted)-1]
	}
	return quoted
}
