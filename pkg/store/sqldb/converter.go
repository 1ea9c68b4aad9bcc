package sqldb

import (
	"time"

	"bushu/internal/model"
)

// ToAccountDomain converts a stored Account to the domain Account.
// The password is copied as stored; decryption is the caller's concern.
func ToAccountDomain(a *Account) *model.Account {
	if a == nil {
		return nil
	}

	return &model.Account{
		ID:             a.ID,
		Account:        a.Account,
		Password:       a.Password,
		Steps:          a.Steps,
		ScheduleHour:   a.ScheduleHour,
		ScheduleMinute: a.ScheduleMinute,
		ScheduleTime:   model.FormatScheduleTime(a.ScheduleHour, a.ScheduleMinute),
		Enabled:        a.Enabled,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

// FromAccountDomain converts a domain Account to its stored form
func FromAccountDomain(a *model.Account) *Account {
	if a == nil {
		return nil
	}

	return &Account{
		ID:             a.ID,
		Account:        a.Account,
		Password:       a.Password,
		Steps:          a.Steps,
		ScheduleHour:   a.ScheduleHour,
		ScheduleMinute: a.ScheduleMinute,
		Enabled:        a.Enabled,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

// ToRecordDomain converts a stored record, rendering created_at in loc
func ToRecordDomain(r *ExecutionRecord, loc *time.Location) *model.ExecutionRecord {
	if r == nil {
		return nil
	}
	if loc == nil {
		loc = time.UTC
	}

	created := r.CreatedAt.In(loc)
	return &model.ExecutionRecord{
		ID:          r.ID,
		AccountID:   r.AccountID,
		AccountName: r.AccountName,
		Steps:       r.Steps,
		Status:      model.RecordStatus(r.Status),
		Message:     r.Message,
		Trigger:     model.Trigger(r.Trigger),
		CreatedAt:   created.Format(model.RecordTimeLayout),
		CreatedTime: created,
	}
}

// ToRecordDomainList converts a slice of stored records
func ToRecordDomainList(records []*ExecutionRecord, loc *time.Location) []*model.ExecutionRecord {
	result := make([]*model.ExecutionRecord, 0, len(records))
	for _, r := range records {
		result = append(result, ToRecordDomain(r, loc))
	}
	return result
}
