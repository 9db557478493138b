package analytics

import (
	"context"
	"fmt"
	"time"
)

// DefaultRetention is how long records are kept before the nightly prune.
const DefaultRetention = 90 * 24 * time.Hour

// Report is the admin dashboard payload for one period.
type Report struct {
	Summary Summary  `json:"summary"`
	Records []Record `json:"records"`
	Success bool     `json:"success"`
}

// Service answers dashboard queries over a Store.
type Service struct {
	store Store
	now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// Report summarises the period, newest records first.
func (s *Service) Report(ctx context.Context, p Period) (*Report, error) {
	records, err := s.Records(ctx, p)
	if err != nil {
		return nil, err
	}
	summary := Summarize(records)
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	if records == nil {
		records = []Record{}
	}
	return &Report{Summary: summary, Records: records, Success: true}, nil
}

// Records lists the period's records oldest first.
func (s *Service) Records(ctx context.Context, p Period) ([]Record, error) {
	records, err := s.store.List(ctx, p.Since(s.now()))
	if err != nil {
		return nil, fmt.Errorf("analytics %s: %w", p, err)
	}
	return records, nil
}

// Prune deletes records older than retention.
func (s *Service) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return s.store.DeleteBefore(ctx, s.now().Add(-retention))
}
