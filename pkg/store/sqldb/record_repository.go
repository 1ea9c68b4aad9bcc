package sqldb

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"
)

// MaxRawLength bounds the stored remote response body
const MaxRawLength = 3000

// RecordRepository handles execution record persistence. Records are append-only.
type RecordRepository struct {
	ds *Datastore
}

// NewRecordRepository creates a new record repository
func NewRecordRepository(ds *Datastore) *RecordRepository {
	return &RecordRepository{ds: ds}
}

// Append writes one record. CreatedAt defaults to now and is normalised to UTC.
func (r *RecordRepository) Append(ctx context.Context, record *ExecutionRecord) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	record.CreatedAt = record.CreatedAt.UTC()
	record.Raw = truncate(record.Raw, MaxRawLength)

	if err := r.ds.DB(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to append execution record: %w", err)
	}
	return nil
}

// AppendForAccount writes the record only while its account row still exists.
// It returns false and writes nothing when the account is gone.
func (r *RecordRepository) AppendForAccount(ctx context.Context, record *ExecutionRecord) (bool, error) {
	written := false
	err := r.ds.ExecTx(ctx, func(txCtx context.Context) error {
		query := r.ds.DB(txCtx).Model(&Account{}).Where("id = ?", record.AccountID)
		if r.ds.Driver() == DriverMySQL {
			// 加共享锁，阻塞并发的账号删除直到记录提交
			query = query.Clauses(clause.Locking{Strength: "SHARE"})
		}
		var ids []int64
		if err := query.Pluck("id", &ids).Error; err != nil {
			return fmt.Errorf("failed to check account %d: %w", record.AccountID, err)
		}
		if len(ids) == 0 {
			return nil
		}
		if err := r.Append(txCtx, record); err != nil {
			return err
		}
		written = true
		return nil
	})
	return written, err
}

// ListBetween returns records created in [start, end), newest first.
// limit <= 0 means no limit.
func (r *RecordRepository) ListBetween(ctx context.Context, start, end time.Time, limit int) ([]*ExecutionRecord, error) {
	var records []*ExecutionRecord
	query := r.ds.DB(ctx).
		Where("created_at >= ? AND created_at < ?", start.UTC(), end.UTC()).
		Order("created_at DESC").
		Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	return records, nil
}

// ListRecent returns the latest records regardless of day, newest first
func (r *RecordRepository) ListRecent(ctx context.Context, limit int) ([]*ExecutionRecord, error) {
	var records []*ExecutionRecord
	query := r.ds.DB(ctx).Order("created_at DESC").Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list recent records: %w", err)
	}
	return records, nil
}

// ListByAccount returns every record of one account, newest first
func (r *RecordRepository) ListByAccount(ctx context.Context, accountID int64) ([]*ExecutionRecord, error) {
	var records []*ExecutionRecord
	err := r.ds.DB(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list account records: %w", err)
	}
	return records, nil
}

// DeleteForAccount removes all records of an account
func (r *RecordRepository) DeleteForAccount(ctx context.Context, accountID int64) (int64, error) {
	result := r.ds.DB(ctx).Where("account_id = ?", accountID).Delete(&ExecutionRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete account records: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// CountByStatusBetween counts records with status created in [start, end)
func (r *RecordRepository) CountByStatusBetween(ctx context.Context, status string, start, end time.Time) (int64, error) {
	var count int64
	err := r.ds.DB(ctx).Model(&ExecutionRecord{}).
		Where("status = ? AND created_at >= ? AND created_at < ?", status, start.UTC(), end.UTC()).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return count, nil
}

// DeleteBefore removes records created before t
func (r *RecordRepository) DeleteBefore(ctx context.Context, t time.Time) (int64, error) {
	result := r.ds.DB(ctx).Where("created_at < ?", t.UTC()).Delete(&ExecutionRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete old records: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// back off to a rune boundary
	for n > 0 && n < len(s) && s[n]&0xC0 == 0x80 {
		n--
	}
	return s[:n]
}
