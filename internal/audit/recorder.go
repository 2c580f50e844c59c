package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/warrant-labs/sentinel/internal/observability"
	"github.com/warrant-labs/sentinel/internal/platform/httpx"
)

// StorePort persists drained entries.
type StorePort interface {
	AppendBatch(ctx context.Context, entries []Entry) error
}

const flushBatchSize = 256

// Recorder assigns sequence numbers and queues entries for the background
// flusher. A full queue blocks the appender instead of dropping: a decision
// must never be returned without its audit entry queued.
type Recorder struct {
	store   StorePort
	logger  *slog.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	nextSeq int64

	queue      chan Entry
	flushEvery time.Duration
}

// NewRecorder constructs a Recorder. startSeq is the highest sequence number
// already persisted; new entries continue from startSeq+1.
func NewRecorder(store StorePort, logger *slog.Logger, metrics *observability.Metrics, queueDepth int, flushEvery time.Duration, startSeq int64) *Recorder {
	if queueDepth <= 0 {
		queueDepth = 1024
	}
	if flushEvery <= 0 {
		flushEvery = 200 * time.Millisecond
	}
	return &Recorder{
		store:      store,
		logger:     logger,
		metrics:    metrics,
		nextSeq:    startSeq,
		queue:      make(chan Entry, queueDepth),
		flushEvery: flushEvery,
	}
}

// Append assigns the next sequence number and durably queues the entry.
// Submission order per caller is preserved: sequence assignment and the
// queue send happen under one lock. If the caller's context expires while
// the queue is full, no sequence number is consumed and the error wraps
// httpx.ErrAuditWrite.
func (r *Recorder) Append(ctx context.Context, e Entry) (int64, error) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	seq := r.nextSeq + 1
	e.Seq = seq
	select {
	case r.queue <- e:
	default:
		// Queue full: block with backpressure rather than drop.
		select {
		case r.queue <- e:
		case <-ctx.Done():
			return 0, fmt.Errorf("audit: queue full: %w", httpx.ErrAuditWrite)
		}
	}
	r.nextSeq = seq
	r.metrics.IncAuditAppends()
	r.metrics.SetAuditQueueDepth(len(r.queue))
	return seq, nil
}

// QueueDepth reports the number of entries awaiting flush.
func (r *Recorder) QueueDepth() int {
	return len(r.queue)
}

// Run drains the queue into the store until ctx is cancelled. Persistence
// failures are retried with backoff; entries are never discarded.
func (r *Recorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.flushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			r.flush(flushCtx)
			return ctx.Err()
		case <-ticker.C:
			r.flush(ctx)
		}
	}
}

func (r *Recorder) flush(ctx context.Context) {
	for {
		batch := r.drain(flushBatchSize)
		if len(batch) == 0 {
			return
		}
		r.persist(ctx, batch)
		r.metrics.SetAuditQueueDepth(len(r.queue))
	}
}

func (r *Recorder) drain(max int) []Entry {
	var batch []Entry
	for len(batch) < max {
		select {
		case e := <-r.queue:
			batch = append(batch, e)
		default:
			return batch
		}
	}
	return batch
}

func (r *Recorder) persist(ctx context.Context, batch []Entry) {
	backoff := 100 * time.Millisecond
	for {
		err := r.store.AppendBatch(ctx, batch)
		if err == nil {
			return
		}
		r.logger.Error("audit flush failed", slog.Int("batch", len(batch)), slog.Any("error", err))
		select {
		case <-ctx.Done():
			r.logger.Error("audit flush abandoned", slog.Int("batch", len(batch)))
			return
		case <-time.After(backoff):
		}
		if backoff < 5*time.Second {
			backoff *= 2
		}
	}
}
