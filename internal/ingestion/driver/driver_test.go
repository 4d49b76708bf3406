package driver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/library-indexer/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/library-indexer/internal/ingestion/source"
	apperrors "github.com/Adithya-Monish-Kumar-K/library-indexer/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/library-indexer/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/library-indexer/pkg/metrics"
)

var target = ingestion.Target{Index: "library", Category: "books"}

func writeSource(t *testing.T, lines ...string) *source.Source {
	t.Helper()
	path := filepath.Join(t.TempDir(), "docs.json")
	content := strings.Join(lines, "\n")
	if len(lines) > 0 {
		content += "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return source.New(path)
}

func docs(n int) []string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = fmt.Sprintf(`{"n":%d,"title":"book %d"}`, i, i)
	}
	return lines
}

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	logger.SetupWriter(&syncWriter{w: &buf}, "info", "text")
	t.Cleanup(func() { logger.Setup("info", "text") })
	return &buf
}

type syncWriter struct {
	mu sync.Mutex
	w  *bytes.Buffer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// recorder is a blocking indexer that keeps every submission in call order.
type recorder struct {
	mu   sync.Mutex
	subs []ingestion.Submission
	fail func(n int, sub ingestion.Submission) error
}

func (r *recorder) Index(_ context.Context, sub ingestion.Submission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, sub)
	if r.fail != nil {
		return r.fail(len(r.subs), sub)
	}
	return nil
}

func (r *recorder) submissions() []ingestion.Submission {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ingestion.Submission(nil), r.subs...)
}

// concurrent is an async indexer that tracks how many writes are in flight.
type concurrent struct {
	delay     time.Duration
	fail      func(sub ingestion.Submission) error
	inFlight  atomic.Int64
	maxFlight atomic.Int64
	completed atomic.Int64

	mu   sync.Mutex
	seen map[string]int
}

func (c *concurrent) IndexAsync(_ context.Context, sub ingestion.Submission, done func(error)) {
	go func() {
		n := c.inFlight.Add(1)
		for {
			max := c.maxFlight.Load()
			if n <= max || c.maxFlight.CompareAndSwap(max, n) {
				break
			}
		}
		time.Sleep(c.delay)

		c.mu.Lock()
		if c.seen == nil {
			c.seen = make(map[string]int)
		}
		c.seen[sub.ID]++
		c.mu.Unlock()

		var err error
		if c.fail != nil {
			err = c.fail(sub)
		}
		c.inFlight.Add(-1)
		c.completed.Add(1)
		done(err)
	}()
}

func (c *concurrent) count(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seen[id]
}

func transitions(states *[]State) func(from, to State) {
	return func(_, to State) { *states = append(*states, to) }
}

func TestEagerSubmitsInFileOrder(t *testing.T) {
	src := writeSource(t, docs(25)...)
	rec := &recorder{}
	var states []State
	d := NewEager(src, rec, Config{Target: target, OnTransition: transitions(&states)})

	report, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	subs := rec.submissions()
	if len(subs) != 25 {
		t.Fatalf("expected 25 submissions, got %d", len(subs))
	}
	for i, sub := range subs {
		want := fmt.Sprintf(`{"n":%d,"title":"book %d"}`, i, i)
		if string(sub.Body) != want {
			t.Errorf("submission %d: expected body %s, got %s", i, want, sub.Body)
		}
		if sub.Line != i+1 {
			t.Errorf("submission %d: expected line %d, got %d", i, i+1, sub.Line)
		}
	}
	if report.Indexed != 25 || report.Submitted != 25 || report.Read != 25 {
		t.Errorf("unexpected report %+v", report)
	}
	if d.State() != StateDone || report.State != StateDone {
		t.Errorf("expected done, got %s", d.State())
	}
	want := []State{StateIdle, StateLoading, StateIndexing, StateDone}
	if fmt.Sprint(states) != fmt.Sprint(want[1:]) {
		t.Errorf("expected transitions %v, got %v", want[1:], states)
	}
}

func TestEagerHaltsOnFirstFailure(t *testing.T) {
	src := writeSource(t, docs(5)...)
	rec := &recorder{fail: func(n int, sub ingestion.Submission) error {
		if n == 2 {
			return apperrors.NewSubmissionError(sub.ID, 400, "mapper_parsing_exception")
		}
		return nil
	}}
	d := NewEager(src, rec, Config{Target: target})

	report, err := d.Run(context.Background())
	if !errors.Is(err, apperrors.ErrSubmission) {
		t.Fatalf("expected submission error, got %v", err)
	}
	if n := len(rec.submissions()); n != 2 {
		t.Errorf("no submissions may follow a failure, got %d", n)
	}
	if report.State != StateFailed || report.Indexed != 1 || report.Failed != 1 {
		t.Errorf("unexpected report %+v", report)
	}
}

func TestEagerParseErrorAbortsBeforeWriting(t *testing.T) {
	src := writeSource(t, `{"title":"A"}`, `{"title":`, `{"title":"C"}`)
	rec := &recorder{}
	m := metrics.New()
	d := NewEager(src, rec, Config{Target: target, Metrics: m})

	_, err := d.Run(context.Background())
	var pe *apperrors.ParseError
	if !errors.As(err, &pe) || pe.Line != 2 {
		t.Fatalf("expected parse error at line 2, got %v", err)
	}
	if len(rec.submissions()) != 0 {
		t.Error("nothing may be written when loading fails")
	}
	if d.State() != StateFailed {
		t.Errorf("expected failed, got %s", d.State())
	}
}

func TestEagerLogsEveryDocument(t *testing.T) {
	buf := captureLogs(t)
	src := writeSource(t, `{"title":"A"}`, `{"title":"B"}`, `{"title":"C"}`)
	d := NewEager(src, &recorder{}, Config{Target: target})

	if _, err := d.Run(logger.WithRunID(context.Background(), "run-7")); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if n := strings.Count(out, `msg="adding document"`); n != 3 {
		t.Errorf("expected 3 adding document lines, got %d:\n%s", n, out)
	}
	if !strings.Contains(out, `body="{\"title\":\"B\"}"`) {
		t.Errorf("expected serialized body in log:\n%s", out)
	}
	if !strings.Contains(out, "run_id=run-7") {
		t.Errorf("expected run id in log:\n%s", out)
	}
}

func TestEagerCountsSkipped(t *testing.T) {
	src := writeSource(t, docs(3)...)
	rec := &recorder{fail: func(n int, _ ingestion.Submission) error {
		if n == 1 {
			return fmt.Errorf("dedupe: %w", apperrors.ErrAlreadyIndexed)
		}
		return nil
	}}
	report, err := NewEager(src, rec, Config{Target: target}).Run(context.Background())
	if err != nil {
		t.Fatalf("skips must not fail the run: %v", err)
	}
	if report.Skipped != 1 || report.Indexed != 2 {
		t.Errorf("unexpected report %+v", report)
	}
}

func TestThreeBooks(t *testing.T) {
	lines := []string{`{"title":"A"}`, `{"title":"B"}`, `{"title":"C"}`}

	t.Run("eager", func(t *testing.T) {
		rec := &recorder{}
		if _, err := NewEager(writeSource(t, lines...), rec, Config{Target: target}).Run(context.Background()); err != nil {
			t.Fatal(err)
		}
		checkThreeBooks(t, rec.submissions(), lines)
	})

	t.Run("pipelined", func(t *testing.T) {
		rec := &recorder{}
		d := NewPipelined(writeSource(t, lines...), ingestion.Async(rec), Config{Target: target})
		if _, err := d.Run(context.Background()); err != nil {
			t.Fatal(err)
		}
		checkThreeBooks(t, rec.submissions(), lines)
	})
}

func checkThreeBooks(t *testing.T, subs []ingestion.Submission, lines []string) {
	t.Helper()
	if len(subs) != 3 {
		t.Fatalf("expected 3 submissions, got %d", len(subs))
	}
	ids := make(map[string]bool)
	bodies := make(map[string]bool)
	for _, sub := range subs {
		if sub.Index != "library" || sub.Category != "books" {
			t.Errorf("unexpected target %s/%s", sub.Index, sub.Category)
		}
		if len(sub.ID) != 32 {
			t.Errorf("expected 32 char id, got %q", sub.ID)
		}
		ids[sub.ID] = true
		bodies[string(sub.Body)] = true
	}
	if len(ids) != 3 {
		t.Errorf("expected 3 distinct ids, got %d", len(ids))
	}
	for _, line := range lines {
		if !bodies[line] {
			t.Errorf("no submission carries body %s", line)
		}
	}
}

func TestEmptySource(t *testing.T) {
	t.Run("eager", func(t *testing.T) {
		rec := &recorder{}
		report, err := NewEager(writeSource(t), rec, Config{Target: target}).Run(context.Background())
		if err != nil || report.State != StateDone || len(rec.submissions()) != 0 {
			t.Errorf("expected done with no submissions, got %+v, %v", report, err)
		}
	})
	t.Run("pipelined", func(t *testing.T) {
		c := &concurrent{}
		report, err := NewPipelined(writeSource(t, "", "  "), c, Config{Target: target}).Run(context.Background())
		if err != nil || report.State != StateDone || c.completed.Load() != 0 {
			t.Errorf("expected done with no submissions, got %+v, %v", report, err)
		}
	})
}

func TestMissingSource(t *testing.T) {
	src := source.New(filepath.Join(t.TempDir(), "missing.json"))
	_, err := NewEager(src, &recorder{}, Config{Target: target}).Run(context.Background())
	if !errors.Is(err, apperrors.ErrSourceNotFound) {
		t.Errorf("eager: expected not found, got %v", err)
	}
	_, err = NewPipelined(src, &concurrent{}, Config{Target: target}).Run(context.Background())
	if !errors.Is(err, apperrors.ErrSourceNotFound) {
		t.Errorf("pipelined: expected not found, got %v", err)
	}
}

func TestInvalidTarget(t *testing.T) {
	cfg := Config{Target: ingestion.Target{Index: "Library", Category: "books"}}
	_, err := NewEager(writeSource(t, docs(1)...), &recorder{}, cfg).Run(context.Background())
	if !errors.Is(err, apperrors.ErrInvalidDocument) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestPipelinedBoundsInFlight(t *testing.T) {
	const n, k = 200, 10
	lines := docs(n)
	c := &concurrent{delay: time.Millisecond}
	var mu sync.Mutex
	var states []State
	d := NewPipelined(writeSource(t, lines...), c, Config{
		Target: target,
		FanOut: k,
		OnTransition: func(_, to State) {
			mu.Lock()
			states = append(states, to)
			mu.Unlock()
		},
	})

	report, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := c.completed.Load(); got != n {
		t.Fatalf("expected %d completions before done, got %d", n, got)
	}
	if max := c.maxFlight.Load(); max > k {
		t.Errorf("at most %d writes may be in flight, saw %d", k, max)
	}
	if report.Indexed != n || report.Submitted != n {
		t.Errorf("unexpected report %+v", report)
	}

	c.mu.Lock()
	distinct := len(c.seen)
	c.mu.Unlock()
	if distinct != n {
		t.Errorf("expected %d distinct documents, got %d", n, distinct)
	}
	for id := range c.seen {
		if c.count(id) != 1 {
			t.Errorf("document %s submitted %d times", id, c.count(id))
		}
	}

	want := fmt.Sprint([]State{StateIdle, StatePriming, StateStreaming, StateDraining, StateDone})
	mu.Lock()
	got := fmt.Sprint(append([]State{StateIdle}, states...))
	mu.Unlock()
	if got != want {
		t.Errorf("expected transitions %s, got %s", want, got)
	}
}

func TestPipelinedFailuresAreNotFatal(t *testing.T) {
	c := &concurrent{fail: func(sub ingestion.Submission) error {
		if strings.Contains(string(sub.Body), `"n":3,`) || strings.Contains(string(sub.Body), `"n":7,`) {
			return apperrors.NewSubmissionError(sub.ID, 503, "unavailable")
		}
		return nil
	}}
	report, err := NewPipelined(writeSource(t, docs(10)...), c, Config{Target: target, FanOut: 3}).Run(context.Background())
	if err != nil {
		t.Fatalf("failed writes must not abort the run: %v", err)
	}
	if report.State != StateDone || report.Failed != 2 || report.Indexed != 8 {
		t.Errorf("unexpected report %+v", report)
	}
}

func TestPipelinedParseErrorDrainsAndFails(t *testing.T) {
	src := writeSource(t, `{"title":"A"}`, `{"title":"B"}`, `not json`, `{"title":"D"}`)
	c := &concurrent{delay: 5 * time.Millisecond}
	m := metrics.New()
	d := NewPipelined(src, c, Config{Target: target, Metrics: m})

	report, err := d.Run(context.Background())
	if !errors.Is(err, apperrors.ErrSourceParse) {
		t.Fatalf("expected parse error, got %v", err)
	}
	if got := c.completed.Load(); got != 2 {
		t.Errorf("expected the 2 earlier writes to complete, got %d", got)
	}
	if report.State != StateFailed || report.Indexed != 2 {
		t.Errorf("unexpected report %+v", report)
	}
}

func TestPipelinedCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := &concurrent{}
	_, err := NewPipelined(writeSource(t, docs(5)...), c, Config{Target: target}).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if c.completed.Load() != 0 {
		t.Error("no writes may be issued on a cancelled context")
	}
}

func TestPipelinedReportsRate(t *testing.T) {
	buf := captureLogs(t)
	c := &concurrent{}
	report, err := NewPipelined(writeSource(t, docs(25)...), c, Config{Target: target, FanOut: 4, ReportEvery: 10}).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Indexed != 25 {
		t.Fatalf("expected 25 indexed, got %d", report.Indexed)
	}
	out := buf.String()
	if n := strings.Count(out, `msg="ingestion rate"`); n != 2 {
		t.Errorf("expected 2 rate lines, got %d:\n%s", n, out)
	}
	for _, want := range []string{"indexed=10", "indexed=20"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestPipelinedCountsSkipped(t *testing.T) {
	c := &concurrent{fail: func(ingestion.Submission) error { return apperrors.ErrAlreadyIndexed }}
	report, err := NewPipelined(writeSource(t, docs(4)...), c, Config{Target: target}).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Skipped != 4 || report.Failed != 0 {
		t.Errorf("unexpected report %+v", report)
	}
}

func TestStateString(t *testing.T) {
	if StateDraining.String() != "draining" || State(99).String() != "state(99)" {
		t.Error("unexpected state names")
	}
}
