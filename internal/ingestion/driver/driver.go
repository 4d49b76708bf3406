// Package driver runs an ingestion: it walks a document source, derives the
// identifier of every document and hands the resulting submissions to an
// Indexer.
//
// Two drivers are provided. Eager loads the whole source and then writes one
// document at a time in file order, stopping at the first failure. Pipelined
// streams the source and keeps up to FanOut writes in flight, logging the
// ingestion rate as it goes; failed writes are counted and the run continues.
package driver

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/library-indexer/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/library-indexer/internal/ingestion/identity"
	"github.com/Adithya-Monish-Kumar-K/library-indexer/internal/ingestion/source"
	"github.com/Adithya-Monish-Kumar-K/library-indexer/internal/ingestion/validator"
	apperrors "github.com/Adithya-Monish-Kumar-K/library-indexer/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/library-indexer/pkg/metrics"
)

// State is the lifecycle phase of a driver.
type State int32

const (
	StateIdle State = iota
	StateLoading
	StateIndexing
	StatePriming
	StateStreaming
	StateDraining
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateIndexing:
		return "indexing"
	case StatePriming:
		return "priming"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config holds the settings shared by both drivers.
type Config struct {
	Target ingestion.Target
	// FanOut bounds the writes the pipelined driver keeps in flight.
	FanOut int
	// ReportEvery is the number of successful writes between rate log lines.
	ReportEvery int64
	// Metrics is optional.
	Metrics *metrics.Metrics
	// OnTransition is called synchronously on every state change.
	OnTransition func(from, to State)
}

// Report summarizes a finished run.
type Report struct {
	State State
	// Read counts documents taken from the source.
	Read int64
	// Submitted counts writes issued to the indexer.
	Submitted int64
	Indexed   int64
	Skipped   int64
	Failed    int64
	Elapsed   time.Duration
}

// LogValue renders the report as a structured log group.
func (r Report) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("state", r.State.String()),
		slog.Int64("read", r.Read),
		slog.Int64("submitted", r.Submitted),
		slog.Int64("indexed", r.Indexed),
		slog.Int64("skipped", r.Skipped),
		slog.Int64("failed", r.Failed),
		slog.Duration("elapsed", r.Elapsed),
	)
}

// lifecycle tracks the state and counters of a run. Counters may be updated
// from completion goroutines.
type lifecycle struct {
	cfg   Config
	state atomic.Int32

	mu     sync.Mutex
	report Report
}

// State returns the current state of the driver.
func (l *lifecycle) State() State {
	return State(l.state.Load())
}

func (l *lifecycle) setState(to State) {
	from := State(l.state.Swap(int32(to)))
	if from != to && l.cfg.OnTransition != nil {
		l.cfg.OnTransition(from, to)
	}
}

func (l *lifecycle) reset() {
	l.mu.Lock()
	l.report = Report{}
	l.mu.Unlock()
	l.setState(StateIdle)
}

func (l *lifecycle) docsRead(n int) {
	l.mu.Lock()
	l.report.Read += int64(n)
	l.mu.Unlock()
	if l.cfg.Metrics != nil {
		l.cfg.Metrics.DocsReadTotal.Add(float64(n))
	}
}

func (l *lifecycle) sourceFailed(err error) {
	if l.cfg.Metrics != nil && errors.Is(err, apperrors.ErrSourceParse) {
		l.cfg.Metrics.SourceErrorsTotal.Inc()
	}
}

func (l *lifecycle) submitted() {
	l.mu.Lock()
	l.report.Submitted++
	l.mu.Unlock()
}

// completed records the outcome of one write and returns the number of
// successful writes so far.
func (l *lifecycle) completed(err error) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch {
	case err == nil:
		l.report.Indexed++
	case errors.Is(err, apperrors.ErrAlreadyIndexed):
		l.report.Skipped++
	default:
		l.report.Failed++
	}
	return l.report.Indexed
}

func (l *lifecycle) finish(start time.Time, err error) (Report, error) {
	if err != nil {
		l.setState(StateFailed)
	} else {
		l.setState(StateDone)
	}
	l.mu.Lock()
	l.report.State = l.State()
	l.report.Elapsed = time.Since(start)
	report := l.report
	l.mu.Unlock()
	return report, err
}

func buildSubmission(target ingestion.Target, rec source.Record) (ingestion.Submission, error) {
	sub, err := identity.Submission(target, rec.Line, rec.Doc)
	if err != nil {
		return ingestion.Submission{}, fmt.Errorf("line %d: %w", rec.Line, err)
	}
	if err := validator.ValidateSubmission(sub); err != nil {
		return ingestion.Submission{}, fmt.Errorf("line %d: %w", rec.Line, err)
	}
	return sub, nil
}
