package dedupe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/Adithya-Monish-Kumar-K/library-indexer/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/library-indexer/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/library-indexer/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/library-indexer/pkg/redis"
)

func setup(t *testing.T) (*miniredis.Miniredis, *Deduper) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := redis.NewClient(config.RedisConfig{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return mr, New(c, config.DedupeConfig{KeyPrefix: "indexed", TTL: time.Hour})
}

type countingIndexer struct {
	calls int
	err   error
}

func (c *countingIndexer) Index(context.Context, ingestion.Submission) error {
	c.calls++
	return c.err
}

func sub(id string) ingestion.Submission {
	return ingestion.Submission{Index: "library", Category: "books", ID: id, Body: []byte(`{}`)}
}

func TestSecondSubmissionSkipped(t *testing.T) {
	mr, d := setup(t)
	base := &countingIndexer{}
	ix := ingestion.Chain(base, d.Middleware())
	ctx := context.Background()

	if err := ix.Index(ctx, sub("abc")); err != nil {
		t.Fatalf("first: %v", err)
	}
	err := ix.Index(ctx, sub("abc"))
	if !errors.Is(err, apperrors.ErrAlreadyIndexed) {
		t.Fatalf("expected ErrAlreadyIndexed, got %v", err)
	}
	if base.calls != 1 {
		t.Errorf("expected one write, got %d", base.calls)
	}
	if !mr.Exists("indexed:library:books:abc") {
		t.Error("marker not written")
	}
	if ttl := mr.TTL("indexed:library:books:abc"); ttl != time.Hour {
		t.Errorf("expected 1h TTL, got %v", ttl)
	}
}

func TestFailedWriteNotMarked(t *testing.T) {
	mr, d := setup(t)
	base := &countingIndexer{err: apperrors.NewSubmissionError("abc", 500, "boom")}
	ix := ingestion.Chain(base, d.Middleware())

	if err := ix.Index(context.Background(), sub("abc")); !errors.Is(err, apperrors.ErrSubmission) {
		t.Fatalf("expected submission error, got %v", err)
	}
	if mr.Exists("indexed:library:books:abc") {
		t.Error("failed writes must not be marked")
	}
}

func TestRedisDownFailsOpen(t *testing.T) {
	mr, d := setup(t)
	mr.Close()
	base := &countingIndexer{}
	ix := ingestion.Chain(base, d.Middleware())

	if err := ix.Index(context.Background(), sub("abc")); err != nil {
		t.Fatalf("expected write to proceed, got %v", err)
	}
	if base.calls != 1 {
		t.Errorf("expected one write, got %d", base.calls)
	}
}

func TestReset(t *testing.T) {
	mr, d := setup(t)
	ix := ingestion.Chain(&countingIndexer{}, d.Middleware())
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		if err := ix.Index(ctx, sub(id)); err != nil {
			t.Fatal(err)
		}
	}
	mr.Set("indexed:archive:books:c", "1")

	n, err := d.Reset(ctx, ingestion.Target{Index: "library", Category: "books"})
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("expected 2 removed, got %d", n)
	}
	if !mr.Exists("indexed:archive:books:c") {
		t.Error("markers of another index removed")
	}
}
