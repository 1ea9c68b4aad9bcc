package service

import (
	"context"
	"time"

	"bushu/internal/model"
	"bushu/pkg/logger"
	"bushu/pkg/store/sqldb"
	"bushu/pkg/timeutil"
)

const (
	DefaultRecordLimit = 200
	MaxRecordLimit     = 1000
)

// RecordService reads and prunes execution records
type RecordService struct {
	records    *sqldb.RecordRepository
	loc        *time.Location
	todayLimit int
	now        func() time.Time
}

// NewRecordService creates a new record service. todayLimit <= 0 uses DefaultRecordLimit.
func NewRecordService(records *sqldb.RecordRepository, loc *time.Location, todayLimit int) *RecordService {
	if loc == nil {
		loc = time.UTC
	}
	if todayLimit <= 0 {
		todayLimit = DefaultRecordLimit
	}
	return &RecordService{
		records:    records,
		loc:        loc,
		todayLimit: todayLimit,
		now:        time.Now,
	}
}

// ListToday returns records of the current reference-timezone day, newest first
func (s *RecordService) ListToday(ctx context.Context) ([]*model.ExecutionRecord, error) {
	start, end := timeutil.DayBounds(s.now(), s.loc)
	records, err := s.records.ListBetween(ctx, start, end, s.todayLimit)
	if err != nil {
		return nil, err
	}
	return sqldb.ToRecordDomainList(records, s.loc), nil
}

// ListRecent returns the latest records. limit is clamped to [1, MaxRecordLimit].
func (s *RecordService) ListRecent(ctx context.Context, limit int) ([]*model.ExecutionRecord, error) {
	if limit <= 0 {
		limit = DefaultRecordLimit
	}
	if limit > MaxRecordLimit {
		limit = MaxRecordLimit
	}
	records, err := s.records.ListRecent(ctx, limit)
	if err != nil {
		return nil, err
	}
	return sqldb.ToRecordDomainList(records, s.loc), nil
}

// ListForAccount returns every record of one account, newest first
func (s *RecordService) ListForAccount(ctx context.Context, accountID int64) ([]*model.ExecutionRecord, error) {
	records, err := s.records.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return sqldb.ToRecordDomainList(records, s.loc), nil
}

// PruneOlderThan deletes records created before the start of the day retentionDays ago
func (s *RecordService) PruneOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	today, _ := timeutil.DayBounds(s.now(), s.loc)
	cutoff := today.AddDate(0, 0, -retentionDays)

	removed, err := s.records.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		logger.InfoCtx(ctx, "pruned %d execution records created before %s", removed, cutoff.Format(model.RecordTimeLayout))
	}
	return removed, nil
}
