package sqldb

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func seedAccount(t *testing.T, repo *Repository, name string, enabled bool) *Account {
	t.Helper()
	a := &Account{
		Account:        name,
		Password:       "secret",
		Steps:          1000,
		ScheduleHour:   7,
		ScheduleMinute: 30,
		Enabled:        enabled,
	}
	require.NoError(t, repo.Account.Create(context.Background(), a))
	require.NotZero(t, a.ID)
	return a
}

func TestAccountRepository_CRUD(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	a := seedAccount(t, repo, "alice", true)

	got, err := repo.Account.Get(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "alice", got.Account)
	assert.Equal(t, 1000, got.Steps)
	assert.True(t, got.Enabled)

	byName, err := repo.Account.GetByName(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, byName)
	assert.Equal(t, a.ID, byName.ID)

	got.Steps = 2000
	got.ScheduleHour = 0
	require.NoError(t, repo.Account.Update(ctx, got))

	got, err = repo.Account.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 2000, got.Steps)
	assert.Equal(t, 0, got.ScheduleHour)

	deleted, err := repo.Account.Delete(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	got, err = repo.Account.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	deleted, err = repo.Account.Delete(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestRepository_TimestampsReadBack(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	a := seedAccount(t, repo, "alice", true)

	got, err := repo.Account.Get(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.WithinDuration(t, time.Now(), got.CreatedAt, time.Minute)
	assert.WithinDuration(t, time.Now(), got.UpdatedAt, time.Minute)

	list, err := repo.Account.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.False(t, list[0].CreatedAt.IsZero())

	at := time.Date(2024, 3, 10, 1, 2, 3, 456_000_000, time.UTC)
	require.NoError(t, repo.Record.Append(ctx, &ExecutionRecord{
		AccountID:   a.ID,
		AccountName: a.Account,
		Steps:       a.Steps,
		Status:      "success",
		Trigger:     "manual",
		CreatedAt:   at,
	}))

	records, err := repo.Record.ListByAccount(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].CreatedAt.Equal(at), "got %s", records[0].CreatedAt)
}

func TestRecordRepository_AppendForAccount(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	a := seedAccount(t, repo, "alice", true)

	newRecord := func() *ExecutionRecord {
		return &ExecutionRecord{AccountID: a.ID, AccountName: a.Account, Steps: a.Steps, Status: "success", Trigger: "manual"}
	}

	written, err := repo.Record.AppendForAccount(ctx, newRecord())
	require.NoError(t, err)
	assert.True(t, written)

	deleted, err := repo.Account.Delete(ctx, a.ID)
	require.NoError(t, err)
	require.True(t, deleted)

	rec := newRecord()
	written, err = repo.Record.AppendForAccount(ctx, rec)
	require.NoError(t, err)
	assert.False(t, written)
	assert.Zero(t, rec.ID)

	records, err := repo.Record.ListByAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestAccountRepository_DisabledOnCreateIsKept(t *testing.T) {
	repo := newTestRepository(t)
	a := seedAccount(t, repo, "bob", false)

	got, err := repo.Account.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.False(t, got.Enabled)
}

func TestAccountRepository_UniqueName(t *testing.T) {
	repo := newTestRepository(t)
	seedAccount(t, repo, "alice", true)

	err := repo.Account.Create(context.Background(), &Account{Account: "alice", Password: "x", Steps: 1})
	assert.Error(t, err)
}

func TestAccountRepository_ListAndCount(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	a := seedAccount(t, repo, "a", true)
	b := seedAccount(t, repo, "b", false)
	c := seedAccount(t, repo, "c", true)

	all, err := repo.Account.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []int64{a.ID, b.ID, c.ID}, []int64{all[0].ID, all[1].ID, all[2].ID})

	enabled, err := repo.Account.ListEnabled(ctx)
	require.NoError(t, err)
	require.Len(t, enabled, 2)
	assert.Equal(t, a.ID, enabled[0].ID)
	assert.Equal(t, c.ID, enabled[1].ID)

	total, err := repo.Account.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)

	n, err := repo.Account.CountEnabled(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	require.NoError(t, repo.Account.SetEnabled(ctx, b.ID, true))
	n, err = repo.Account.CountEnabled(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	assert.Error(t, repo.Account.SetEnabled(ctx, 9999, true))
}

func TestRecordRepository_ListBetweenAndCount(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	a := seedAccount(t, repo, "alice", true)

	loc := time.FixedZone("UTC+8", 8*3600)
	dayStart := time.Date(2024, 3, 10, 0, 0, 0, 0, loc)

	times := []time.Time{
		dayStart.Add(-time.Second),
		dayStart,
		dayStart.Add(5 * time.Minute),
		dayStart.Add(23*time.Hour + 59*time.Minute),
		dayStart.Add(24 * time.Hour),
	}
	statuses := []string{"success", "success", "failed", "success", "failed"}
	for i, ts := range times {
		require.NoError(t, repo.Record.Append(ctx, &ExecutionRecord{
			AccountID:   a.ID,
			AccountName: a.Account,
			Steps:       a.Steps,
			Status:      statuses[i],
			Trigger:     "manual",
			CreatedAt:   ts,
		}))
	}

	records, err := repo.Record.ListBetween(ctx, dayStart, dayStart.Add(24*time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.True(t, records[0].CreatedAt.After(records[1].CreatedAt))
	assert.True(t, records[1].CreatedAt.After(records[2].CreatedAt))

	limited, err := repo.Record.ListBetween(ctx, dayStart, dayStart.Add(24*time.Hour), 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	success, err := repo.Record.CountByStatusBetween(ctx, "success", dayStart, dayStart.Add(24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 2, success)

	failed, err := repo.Record.CountByStatusBetween(ctx, "failed", dayStart, dayStart.Add(24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, failed)

	recent, err := repo.Record.ListRecent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.True(t, recent[0].CreatedAt.Equal(dayStart.Add(24*time.Hour)))

	removed, err := repo.Record.DeleteBefore(ctx, dayStart)
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	removed, err = repo.Record.DeleteForAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 4, removed)
}

func TestRecordRepository_TruncatesRaw(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	a := seedAccount(t, repo, "alice", true)

	rec := &ExecutionRecord{
		AccountID:   a.ID,
		AccountName: a.Account,
		Steps:       1,
		Status:      "failed",
		Trigger:     "manual",
		Raw:         strings.Repeat("成", 2000),
	}
	require.NoError(t, repo.Record.Append(ctx, rec))
	assert.LessOrEqual(t, len(rec.Raw), MaxRawLength)
	assert.Equal(t, 0, len(rec.Raw)%3, "must cut on a rune boundary")
}

func TestDatastore_ExecTxRollsBack(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	a := seedAccount(t, repo, "alice", true)

	err := repo.GetDatastore().ExecTx(ctx, func(txCtx context.Context) error {
		if _, err := repo.Account.Delete(txCtx, a.ID); err != nil {
			return err
		}
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	got, err := repo.Account.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestToRecordDomain_FormatsInLocation(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	msg := "ok"
	r := &ExecutionRecord{
		ID:          1,
		AccountID:   2,
		AccountName: "alice",
		Steps:       10,
		Status:      "success",
		Message:     &msg,
		Trigger:     "scheduled",
		CreatedAt:   time.Date(2024, 3, 9, 16, 5, 0, 0, time.UTC),
	}

	d := ToRecordDomain(r, loc)
	assert.Equal(t, "2024-03-10 00:05:00", d.CreatedAt)
	assert.Equal(t, "alice", d.AccountName)
	assert.Equal(t, "ok", *d.Message)
	assert.Nil(t, ToRecordDomain(nil, loc))
}
