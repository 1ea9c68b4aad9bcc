package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"bushu/internal/model"
	"bushu/pkg/notification"
	"bushu/pkg/store/sqldb"
	"bushu/pkg/submitter"

	"github.com/stretchr/testify/require"
)

var testLoc = time.FixedZone("UTC+8", 8*3600)

func newTestRepo(t *testing.T) *sqldb.Repository {
	t.Helper()
	repo, err := sqldb.NewRepository(sqldb.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func newTestAccountService(t *testing.T, repo *sqldb.Repository) *AccountService {
	t.Helper()
	return NewAccountService(repo, nil, AccountDefaults{Steps: 89888, ScheduleHour: 0, ScheduleMinute: 5})
}

func createAccount(t *testing.T, svc *AccountService, name string, enabled bool) *model.Account {
	t.Helper()
	steps := 1000
	a, err := svc.Create(context.Background(), &model.AccountSpec{
		Account:  name,
		Password: "pw-" + name,
		Steps:    &steps,
		Enabled:  &enabled,
	})
	require.NoError(t, err)
	return a
}

func intPtr(v int) *int { return &v }

func boolPtr(v bool) *bool { return &v }

func strPtr(v string) *string { return &v }

// fakeSubmitter fails for accounts listed in fail and can block until release is closed
type fakeSubmitter struct {
	mu      sync.Mutex
	fail    map[string]bool
	calls   []string
	started chan string
	release chan struct{}
}

func newFakeSubmitter() *fakeSubmitter {
	return &fakeSubmitter{fail: make(map[string]bool)}
}

func (f *fakeSubmitter) Submit(ctx context.Context, account, password string, steps int) (*submitter.Outcome, error) {
	f.mu.Lock()
	f.calls = append(f.calls, account)
	fail := f.fail[account]
	started, release := f.started, f.release
	f.mu.Unlock()

	if started != nil {
		started <- account
	}
	if release != nil {
		<-release
	}

	if fail {
		return &submitter.Outcome{StatusCode: 500, Message: "服务器返回错误: 500", Raw: "boom"},
			&model.SubmissionError{Kind: model.SubmissionRejected, Message: "服务器返回错误: 500"}
	}
	return &submitter.Outcome{Success: true, StatusCode: 200, Message: submitter.MessageSuccess, Raw: "提交成功"}, nil
}

func (f *fakeSubmitter) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// fakeScheduler records Arm and Cancel calls
type fakeScheduler struct {
	mu       sync.Mutex
	armed    map[int64]*model.Account
	arms     int
	canceled []int64
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{armed: make(map[int64]*model.Account)}
}

func (f *fakeScheduler) Arm(account *model.Account) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.armed[account.ID] = account
	f.arms++
}

func (f *fakeScheduler) ArmCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.arms
}

func (f *fakeScheduler) Cancel(accountID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.armed, accountID)
	f.canceled = append(f.canceled, accountID)
}

func (f *fakeScheduler) IsArmed(id int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.armed[id]
	return ok
}

// fakeNotifier counts failure notifications
type fakeNotifier struct {
	mu   sync.Mutex
	sent []*notification.ExecutionFailureNotification
}

func (f *fakeNotifier) SendExecutionFailure(ctx context.Context, n *notification.ExecutionFailureNotification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
	return nil
}

// fakePublisher collects published records
type fakePublisher struct {
	mu      sync.Mutex
	records []*model.ExecutionRecord
}

func (f *fakePublisher) Publish(r *model.ExecutionRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, r)
}

func countRecords(t *testing.T, repo *sqldb.Repository, accountID int64) int {
	t.Helper()
	records, err := repo.Record.ListByAccount(context.Background(), accountID)
	require.NoError(t, err)
	return len(records)
}
