package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/library-indexer/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/library-indexer/internal/ingestion/source"
	"github.com/Adithya-Monish-Kumar-K/library-indexer/internal/ingestion/validator"
	apperrors "github.com/Adithya-Monish-Kumar-K/library-indexer/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/library-indexer/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/library-indexer/pkg/tracing"
)

// Eager loads the whole source before writing and writes sequentially.
type Eager struct {
	lifecycle
	source  *source.Source
	indexer ingestion.Indexer
}

// NewEager creates an Eager driver writing the documents of src through ix.
func NewEager(src *source.Source, ix ingestion.Indexer, cfg Config) *Eager {
	return &Eager{
		lifecycle: lifecycle{cfg: cfg},
		source:    src,
		indexer:   ix,
	}
}

// Run loads every document, then submits them one at a time in file order.
// A parse error aborts the run before anything is written; the first failed
// write halts the run and is returned.
func (d *Eager) Run(ctx context.Context) (Report, error) {
	start := time.Now()
	d.reset()
	ctx, span := tracing.StartSpan(ctx, "ingest.eager", logger.RunID(ctx))
	log := logger.FromContext(ctx).With("component", "eager-driver")
	defer func() {
		span.End()
		span.Log(log)
	}()

	if err := validator.ValidateTarget(d.cfg.Target); err != nil {
		return d.finish(start, fmt.Errorf("invalid target: %w", err))
	}

	d.setState(StateLoading)
	_, load := tracing.StartChildSpan(ctx, "load")
	records, err := d.source.ReadAll()
	load.SetAttr("docs", len(records))
	load.End()
	if err != nil {
		d.sourceFailed(err)
		log.Error("loading source failed", "path", d.source.Path(), "error", err)
		return d.finish(start, err)
	}
	d.docsRead(len(records))
	log.Info("source loaded", "path", d.source.Path(), "docs", len(records))

	d.setState(StateIndexing)
	_, index := tracing.StartChildSpan(ctx, "index")
	defer index.End()

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return d.finish(start, err)
		}
		sub, err := buildSubmission(d.cfg.Target, rec)
		if err != nil {
			return d.finish(start, err)
		}

		log.Info("adding document", "doc_id", sub.ID, "line", sub.Line, "body", string(sub.Body))
		d.submitted()
		err = d.indexer.Index(ctx, sub)
		d.completed(err)
		if err != nil && !errors.Is(err, apperrors.ErrAlreadyIndexed) {
			log.Error("submission failed, halting", "doc_id", sub.ID, "line", sub.Line, "error", err)
			index.SetAttr("failed_line", sub.Line)
			return d.finish(start, fmt.Errorf("indexing %s (line %d): %w", ingestion.Describe(sub), sub.Line, err))
		}
	}

	report, err := d.finish(start, nil)
	index.SetAttr("indexed", report.Indexed)
	log.Info("ingestion finished", "report", report)
	return report, err
}
