// Package notify announces acknowledged writes on a Kafka topic so that
// downstream consumers (cache invalidation, analytics) learn which documents
// changed. Events are buffered and published in batches, either when the
// batch is full or on a timer.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/library-indexer/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/library-indexer/pkg/kafka"
)

type publisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// Notifier accumulates IndexedEvents and flushes them to Kafka.
type Notifier struct {
	producer      publisher
	mu            sync.Mutex
	buffer        []kafka.Event
	batchSize     int
	flushInterval time.Duration
	logger        *slog.Logger
	cancel        context.CancelFunc
	done          chan struct{}
	flushes       sync.WaitGroup
	dropped       int
}

// New creates a Notifier that flushes when the buffer reaches batchSize
// events or after flushInterval, whichever comes first.
func New(producer publisher, batchSize int, flushInterval time.Duration) *Notifier {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 2 * time.Second
	}
	return &Notifier{
		producer:      producer,
		buffer:        make([]kafka.Event, 0, batchSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        slog.Default().With("component", "notifier"),
		done:          make(chan struct{}),
	}
}

// Start launches the background flush loop. It runs until ctx is cancelled
// or Close is called.
func (n *Notifier) Start(ctx context.Context) {
	ctx, n.cancel = context.WithCancel(ctx)
	go func() {
		defer close(n.done)
		ticker := time.NewTicker(n.flushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				n.flush(ctx)
			case <-ctx.Done():
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				n.flush(flushCtx)
				cancel()
				return
			}
		}
	}()
	n.logger.Info("notifier started",
		"batch_size", n.batchSize,
		"flush_interval", n.flushInterval,
	)
}

// Track queues an event. A full buffer triggers an immediate flush.
func (n *Notifier) Track(ev ingestion.IndexedEvent) {
	n.mu.Lock()
	n.buffer = append(n.buffer, kafka.Event{Key: ev.DocumentID, Value: ev})
	shouldFlush := len(n.buffer) >= n.batchSize
	n.mu.Unlock()

	if shouldFlush {
		n.flushes.Add(1)
		go func() {
			defer n.flushes.Done()
			n.flush(context.Background())
		}()
	}
}

// Middleware tracks an event for every acknowledged write.
func (n *Notifier) Middleware() ingestion.Middleware {
	return func(next ingestion.Indexer) ingestion.Indexer {
		return ingestion.IndexerFunc(func(ctx context.Context, sub ingestion.Submission) error {
			if err := next.Index(ctx, sub); err != nil {
				return err
			}
			n.Track(ingestion.IndexedEvent{
				DocumentID: sub.ID,
				Index:      sub.Index,
				Category:   sub.Category,
				Size:       len(sub.Body),
				IndexedAt:  time.Now().UTC(),
			})
			return nil
		})
	}
}

// Close waits for in-flight batch flushes, then stops the flush loop after
// a final flush. The producer must stay open until Close returns.
func (n *Notifier) Close() {
	n.flushes.Wait()
	if n.cancel != nil {
		n.cancel()
		<-n.done
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	n.flush(ctx)
}

// BufferLen returns the current number of buffered events.
func (n *Notifier) BufferLen() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.buffer)
}

// Dropped returns how many events were discarded after repeated failures.
func (n *Notifier) Dropped() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dropped
}

func (n *Notifier) flush(ctx context.Context) {
	n.mu.Lock()
	if len(n.buffer) == 0 {
		n.mu.Unlock()
		return
	}
	batch := n.buffer
	n.buffer = make([]kafka.Event, 0, n.batchSize)
	n.mu.Unlock()

	if err := n.producer.PublishBatch(ctx, batch); err != nil {
		n.logger.Error("notification flush failed",
			"batch_size", len(batch),
			"error", err,
		)
		// Requeue, keeping at most three batches.
		n.mu.Lock()
		n.buffer = append(batch, n.buffer...)
		if limit := n.batchSize * 3; len(n.buffer) > limit {
			dropped := len(n.buffer) - limit
			n.buffer = n.buffer[:limit]
			n.dropped += dropped
			n.logger.Warn("notification buffer overflow, events dropped", "dropped", dropped)
		}
		n.mu.Unlock()
		return
	}

	n.logger.Debug("notifications flushed", "events", len(batch))
}
