package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/Adithya-Monish-Kumar-K/library-indexer/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/library-indexer/internal/ingestion/rate"
	"github.com/Adithya-Monish-Kumar-K/library-indexer/internal/ingestion/source"
	"github.com/Adithya-Monish-Kumar-K/library-indexer/internal/ingestion/validator"
	apperrors "github.com/Adithya-Monish-Kumar-K/library-indexer/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/library-indexer/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/library-indexer/pkg/tracing"
)

const (
	defaultFanOut      = 10
	defaultReportEvery = 1000
)

// Pipelined streams the source and keeps up to FanOut writes in flight.
type Pipelined struct {
	lifecycle
	source  *source.Source
	indexer ingestion.AsyncIndexer
}

// NewPipelined creates a Pipelined driver writing the documents of src
// through ix.
func NewPipelined(src *source.Source, ix ingestion.AsyncIndexer, cfg Config) *Pipelined {
	if cfg.FanOut <= 0 {
		cfg.FanOut = defaultFanOut
	}
	if cfg.ReportEvery <= 0 {
		cfg.ReportEvery = defaultReportEvery
	}
	return &Pipelined{
		lifecycle: lifecycle{cfg: cfg},
		source:    src,
		indexer:   ix,
	}
}

// Run reads the source one document at a time and issues a write for each,
// waiting for a free slot whenever FanOut writes are outstanding. Failed
// writes are logged and counted. A parse error or a cancelled ctx stops
// dispatching; the run then waits for every outstanding write before
// returning the error.
func (d *Pipelined) Run(ctx context.Context) (Report, error) {
	start := time.Now()
	d.reset()
	ctx, span := tracing.StartSpan(ctx, "ingest.pipelined", logger.RunID(ctx))
	log := logger.FromContext(ctx).With("component", "pipelined-driver")
	defer func() {
		span.End()
		span.Log(log)
	}()

	if err := validator.ValidateTarget(d.cfg.Target); err != nil {
		return d.finish(start, fmt.Errorf("invalid target: %w", err))
	}

	it, err := d.source.Open()
	if err != nil {
		log.Error("opening source failed", "path", d.source.Path(), "error", err)
		return d.finish(start, err)
	}
	defer it.Close()

	fanOut := int64(d.cfg.FanOut)
	slots := semaphore.NewWeighted(fanOut)
	meter := rate.NewMeter()

	d.setState(StatePriming)
	_, stream := tracing.StartChildSpan(ctx, "stream")
	runErr := d.dispatch(ctx, it, slots, meter, log)
	stream.End()

	d.setState(StateDraining)
	_, drain := tracing.StartChildSpan(ctx, "drain")
	// Every write holds a slot until its completion returns.
	if err := slots.Acquire(context.WithoutCancel(ctx), fanOut); err != nil {
		return d.finish(start, err)
	}
	slots.Release(fanOut)
	drain.End()

	if runErr != nil {
		log.Error("ingestion aborted", "error", runErr)
		return d.finish(start, runErr)
	}
	report, err := d.finish(start, nil)
	snap := meter.Snapshot()
	log.Info("ingestion finished", "report", report, "mean_rate", snap.MeanRate)
	return report, err
}

func (d *Pipelined) dispatch(ctx context.Context, it *source.Iterator, slots *semaphore.Weighted, meter *rate.Meter, log *slog.Logger) error {
	var issued int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := it.Next()
		if errors.Is(err, apperrors.ErrSourceExhausted) {
			return nil
		}
		if err != nil {
			d.sourceFailed(err)
			return err
		}
		d.docsRead(1)

		sub, err := buildSubmission(d.cfg.Target, rec)
		if err != nil {
			return err
		}
		if err := slots.Acquire(ctx, 1); err != nil {
			return err
		}
		d.submitted()
		d.indexer.IndexAsync(ctx, sub, func(err error) {
			defer slots.Release(1)
			d.complete(sub, err, meter, log)
		})

		issued++
		if issued == int64(d.cfg.FanOut) {
			d.setState(StateStreaming)
		}
	}
}

func (d *Pipelined) complete(sub ingestion.Submission, err error, meter *rate.Meter, log *slog.Logger) {
	indexed := d.completed(err)
	switch {
	case err == nil:
		meter.Mark(1)
		if indexed%d.cfg.ReportEvery == 0 {
			snap := meter.Snapshot()
			if d.cfg.Metrics != nil {
				d.cfg.Metrics.IngestRate.Set(snap.Rate1)
			}
			log.Info("ingestion rate",
				"indexed", indexed,
				"rate_1m", snap.Rate1,
				"mean_rate", snap.MeanRate,
			)
		}
	case errors.Is(err, apperrors.ErrAlreadyIndexed):
	default:
		log.Warn("submission failed", "doc", ingestion.Describe(sub), "line", sub.Line, "error", err)
	}
}
