package service

import (
	"context"
	"fmt"
	"time"

	"bushu/internal/model"
	"bushu/pkg/store/sqldb"
	"bushu/pkg/timeutil"
)

// StatisticsService derives dashboard counters. Nothing is cached.
type StatisticsService struct {
	repo *sqldb.Repository
	loc  *time.Location
	now  func() time.Time
}

// NewStatisticsService creates a new statistics service
func NewStatisticsService(repo *sqldb.Repository, loc *time.Location) *StatisticsService {
	if loc == nil {
		loc = time.UTC
	}
	return &StatisticsService{
		repo: repo,
		loc:  loc,
		now:  time.Now,
	}
}

// Snapshot counts accounts and today's records by status in the reference timezone
func (s *StatisticsService) Snapshot(ctx context.Context) (*model.StatisticsSnapshot, error) {
	total, err := s.repo.Account.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count accounts: %w", err)
	}
	enabled, err := s.repo.Account.CountEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count enabled accounts: %w", err)
	}

	start, end := timeutil.DayBounds(s.now(), s.loc)
	success, err := s.repo.Record.CountByStatusBetween(ctx, string(model.RecordStatusSuccess), start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to count successful records: %w", err)
	}
	failed, err := s.repo.Record.CountByStatusBetween(ctx, string(model.RecordStatusFailed), start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to count failed records: %w", err)
	}

	return &model.StatisticsSnapshot{
		Accounts: model.AccountCounts{Total: total, Enabled: enabled},
		Today:    model.TodayCounts{Success: success, Failed: failed},
	}, nil
}
