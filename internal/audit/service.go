package audit

import (
	"context"
	"fmt"
)

// QueryPort defines the read side of the log.
type QueryPort interface {
	Query(ctx context.Context, f Filters) ([]Entry, error)
}

// Service coordinates audit log reads.
type Service struct {
	repo QueryPort
}

// NewService builds a Service instance.
func NewService(repo QueryPort) *Service {
	return &Service{repo: repo}
}

// Query returns one page of matching entries ordered by sequence ascending.
// The page is restartable: pass NextAfterSeq back as AfterSeq.
func (s *Service) Query(ctx context.Context, f Filters) (Page, error) {
	if s.repo == nil {
		return Page{}, fmt.Errorf("audit: repository not configured")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	f.Limit = limit + 1
	entries, err := s.repo.Query(ctx, f)
	if err != nil {
		return Page{}, err
	}
	page := Page{Entries: entries}
	if len(entries) > limit {
		page.Entries = entries[:limit]
		page.HasNext = true
	}
	if n := len(page.Entries); n > 0 {
		page.NextAfterSeq = page.Entries[n-1].Seq
	}
	return page, nil
}
