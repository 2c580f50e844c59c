package audit

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/warrant-labs/sentinel/internal/platform/httpx"
)

type memoryStore struct {
	mu      sync.Mutex
	entries []Entry
	fails   int
}

func (s *memoryStore) AppendBatch(ctx context.Context, entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fails > 0 {
		s.fails--
		return context.DeadlineExceeded
	}
	s.entries = append(s.entries, entries...)
	return nil
}

func (s *memoryStore) all() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...)
}

func TestAppendAssignsMonotonicSequence(t *testing.T) {
	store := &memoryStore{}
	rec := NewRecorder(store, slog.Default(), nil, 16, time.Millisecond, 10)
	ctx := context.Background()

	seq, err := rec.Append(ctx, Entry{ActorPrincipal: "a", Action: "Read", Resource: "x", Decision: "Allow"})
	require.NoError(t, err)
	require.Equal(t, int64(11), seq)

	seq, err = rec.Append(ctx, Entry{ActorPrincipal: "a", Action: "Read", Resource: "y", Decision: "Deny"})
	require.NoError(t, err)
	require.Equal(t, int64(12), seq)
}

func TestAppendBlocksOnFullQueue(t *testing.T) {
	store := &memoryStore{}
	rec := NewRecorder(store, slog.Default(), nil, 1, time.Hour, 0)

	_, err := rec.Append(context.Background(), Entry{Action: "Read"})
	require.NoError(t, err)

	// The queue is full and nothing is draining: the append must block
	// until the context gives up, and the failed append must not burn a
	// sequence number.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = rec.Append(ctx, Entry{Action: "Read"})
	require.ErrorIs(t, err, httpx.ErrAuditWrite)

	drained := rec.drain(10)
	require.Len(t, drained, 1)

	seq, err := rec.Append(context.Background(), Entry{Action: "Read"})
	require.NoError(t, err)
	require.Equal(t, int64(2), seq, "failed append must not consume a sequence number")
}

func TestRunFlushesAndRetries(t *testing.T) {
	store := &memoryStore{fails: 1}
	rec := NewRecorder(store, slog.Default(), nil, 64, time.Millisecond, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()

	for i := 0; i < 5; i++ {
		_, err := rec.Append(ctx, Entry{Action: "Read", Decision: "Allow"})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return len(store.all()) == 5
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	entries := store.all()
	for i, e := range entries {
		require.Equal(t, int64(i+1), e.Seq)
	}
}

func TestConcurrentAppendsAreGapFree(t *testing.T) {
	store := &memoryStore{}
	rec := NewRecorder(store, slog.Default(), nil, 256, time.Millisecond, 0)

	const appends = 100
	var wg sync.WaitGroup
	wg.Add(appends)
	for i := 0; i < appends; i++ {
		go func() {
			defer wg.Done()
			_, err := rec.Append(context.Background(), Entry{Action: "Read"})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	batch := rec.drain(appends)
	require.Len(t, batch, appends)
	seen := make(map[int64]bool, appends)
	for _, e := range batch {
		require.False(t, seen[e.Seq])
		seen[e.Seq] = true
		require.GreaterOrEqual(t, e.Seq, int64(1))
		require.LessOrEqual(t, e.Seq, int64(appends))
	}
}
