package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type memoryQuery struct {
	entries []Entry
	lastF   Filters
}

func (m *memoryQuery) Query(ctx context.Context, f Filters) ([]Entry, error) {
	m.lastF = f
	var out []Entry
	for _, e := range m.entries {
		if e.Seq <= f.AfterSeq {
			continue
		}
		if f.Decision != "" && e.Decision != f.Decision {
			continue
		}
		out = append(out, e)
		if len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func TestQueryKeysetPagination(t *testing.T) {
	repo := &memoryQuery{}
	for i := 1; i <= 5; i++ {
		repo.entries = append(repo.entries, Entry{Seq: int64(i), Decision: "Allow"})
	}
	svc := NewService(repo)
	ctx := context.Background()

	page, err := svc.Query(ctx, Filters{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Entries, 2)
	require.True(t, page.HasNext)
	require.Equal(t, int64(2), page.NextAfterSeq)

	page, err = svc.Query(ctx, Filters{Limit: 2, AfterSeq: page.NextAfterSeq})
	require.NoError(t, err)
	require.Equal(t, int64(3), page.Entries[0].Seq)

	page, err = svc.Query(ctx, Filters{Limit: 2, AfterSeq: 4})
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	require.False(t, page.HasNext)
}

func TestQueryClampsLimit(t *testing.T) {
	repo := &memoryQuery{}
	svc := NewService(repo)
	ctx := context.Background()

	_, err := svc.Query(ctx, Filters{})
	require.NoError(t, err)
	require.Equal(t, 51, repo.lastF.Limit)

	_, err = svc.Query(ctx, Filters{Limit: 9999})
	require.NoError(t, err)
	require.Equal(t, 201, repo.lastF.Limit)
}

func TestQueryFiltersDecision(t *testing.T) {
	repo := &memoryQuery{entries: []Entry{
		{Seq: 1, Decision: "Allow"},
		{Seq: 2, Decision: "Deny"},
		{Seq: 3, Decision: "Allow"},
	}}
	svc := NewService(repo)

	page, err := svc.Query(context.Background(), Filters{Decision: "Deny"})
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	require.Equal(t, int64(2), page.Entries[0].Seq)
}
