package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"bushu/internal/model"
	"bushu/pkg/lock"
	"bushu/pkg/logger"
	"bushu/pkg/metrics"
	"bushu/pkg/notification"
	"bushu/pkg/store/sqldb"
	"bushu/pkg/submitter"

	"github.com/go-redis/redis/v8"
	"golang.org/x/sync/errgroup"
)

const (
	executionLockPrefix = "bushu:execution:"
	batchDoneMessage    = "执行完成"
)

// Submitter posts steps to the remote site
type Submitter interface {
	Submit(ctx context.Context, account, password string, steps int) (*submitter.Outcome, error)
}

// AccountReader is the read side of the account store used by the engine
type AccountReader interface {
	Get(ctx context.Context, id int64) (*model.Account, error)
	ListEnabled(ctx context.Context) ([]*model.Account, error)
}

// RecordAppender persists execution records of accounts that still exist
type RecordAppender interface {
	AppendForAccount(ctx context.Context, record *sqldb.ExecutionRecord) (bool, error)
}

// FailureNotifier is told about failed scheduled executions
type FailureNotifier interface {
	SendExecutionFailure(ctx context.Context, n *notification.ExecutionFailureNotification) error
}

// RecordPublisher receives every written record
type RecordPublisher interface {
	Publish(record *model.ExecutionRecord)
}

var (
	_ Submitter       = (*submitter.Client)(nil)
	_ AccountReader   = (*AccountService)(nil)
	_ ExecutionGuard  = (*ExecutionService)(nil)
	_ RecordAppender  = (*sqldb.RecordRepository)(nil)
	_ FailureNotifier = (*notification.FeishuNotifier)(nil)
)

// ExecutionOptions optional collaborators and tuning of the execution engine
type ExecutionOptions struct {
	Concurrency int            // execute-all parallelism, <= 1 is sequential
	Location    *time.Location // reference timezone for rendered records
	RedisClient *redis.Client  // cross-replica guard, nil for single instance
	LockTTL     time.Duration
	Notifier    FailureNotifier
	Publisher   RecordPublisher
}

// ExecutionService runs submissions and records their outcome
type ExecutionService struct {
	accounts  AccountReader
	records   RecordAppender
	submitter Submitter
	opts      ExecutionOptions
	now       func() time.Time

	mu       sync.Mutex
	inFlight map[int64]struct{}
}

// NewExecutionService creates a new execution service
func NewExecutionService(accounts AccountReader, records RecordAppender, sub Submitter, opts ExecutionOptions) *ExecutionService {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &ExecutionService{
		accounts:  accounts,
		records:   records,
		submitter: sub,
		opts:      opts,
		now:       time.Now,
		inFlight:  make(map[int64]struct{}),
	}
}

// ExecuteOne submits one account and appends exactly one record.
// NotFound, AccountDisabled and ExecutionInProgress return before anything is written.
func (s *ExecutionService) ExecuteOne(ctx context.Context, accountID int64, opts model.ExecuteOptions) (*model.ExecutionResult, error) {
	trigger := opts.Trigger
	if trigger == "" {
		trigger = model.TriggerManual
	}

	account, err := s.accounts.Get(ctx, accountID)
	if err != nil {
		if errors.Is(err, model.ErrAccountNotFound) {
			metrics.RecordRejected("not_found")
		}
		return nil, err
	}
	if !account.Enabled && !opts.Force {
		metrics.RecordRejected("disabled")
		return nil, fmt.Errorf("%w: %d", model.ErrAccountDisabled, accountID)
	}

	steps := account.Steps
	if opts.Steps != nil {
		if *opts.Steps <= 0 {
			return nil, model.NewValidationError("steps", "must be positive, got %d", *opts.Steps)
		}
		steps = *opts.Steps
	}

	release, err := s.acquire(ctx, accountID)
	if err != nil {
		metrics.RecordRejected("conflict")
		return nil, err
	}
	defer release()

	start := s.now()
	outcome, subErr := s.submitter.Submit(ctx, account.Account, account.Password, steps)
	elapsed := s.now().Sub(start)

	status := model.RecordStatusSuccess
	message := submitter.MessageSuccess
	raw := ""
	if outcome != nil {
		message = outcome.Message
		raw = outcome.Raw
	}
	if subErr != nil {
		status = model.RecordStatusFailed
		message = subErr.Error()
	}

	stored := &sqldb.ExecutionRecord{
		AccountID:   account.ID,
		AccountName: account.Account,
		Steps:       steps,
		Status:      string(status),
		Message:     &message,
		Raw:         raw,
		Trigger:     string(trigger),
		CreatedAt:   s.now(),
	}
	// the record must be written even if the caller went away mid-submission
	writeCtx := context.WithoutCancel(ctx)
	written, err := s.records.AppendForAccount(writeCtx, stored)
	if err != nil {
		return nil, fmt.Errorf("failed to record execution for account %d: %w", accountID, err)
	}
	if !written {
		logger.WarnCtx(ctx, "account %s was deleted during execution, record dropped, status: %s", account.Account, status)
		return nil, fmt.Errorf("%w: %d deleted during execution", model.ErrAccountNotFound, accountID)
	}

	metrics.ObserveExecution(string(trigger), string(status), elapsed)
	logger.InfoCtx(ctx, "execution finished, account: %s, trigger: %s, steps: %d, status: %s, message: %s, elapsed: %v",
		account.Account, trigger, steps, status, message, elapsed)

	if s.opts.Publisher != nil {
		s.opts.Publisher.Publish(sqldb.ToRecordDomain(stored, s.opts.Location))
	}
	if status == model.RecordStatusFailed && trigger == model.TriggerScheduled {
		s.notifyFailure(writeCtx, account, steps, trigger, message)
	}

	return &model.ExecutionResult{
		AccountID: account.ID,
		Account:   account.Account,
		Steps:     steps,
		Success:   status == model.RecordStatusSuccess,
		Status:    status,
		Message:   message,
		RecordID:  stored.ID,
	}, nil
}

// ExecuteAll runs every enabled account with bounded concurrency.
// One account's failure never stops the others; results follow account id order.
// Once started, the batch runs to completion even if ctx is cancelled.
func (s *ExecutionService) ExecuteAll(ctx context.Context) (*model.BatchResult, error) {
	accounts, err := s.accounts.ListEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled accounts: %w", err)
	}

	results := make([]*model.ExecutionResult, len(accounts))
	// a caller that goes away mid-batch does not fail the remaining accounts
	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	g.SetLimit(s.opts.Concurrency)

	for i, account := range accounts {
		g.Go(func() error {
			result, err := s.ExecuteOne(gctx, account.ID, model.ExecuteOptions{Trigger: model.TriggerBatch})
			if err != nil {
				logger.WarnCtx(ctx, "batch execution skipped account %s: %v", account.Account, err)
				result = &model.ExecutionResult{
					AccountID: account.ID,
					Account:   account.Account,
					Steps:     account.Steps,
					Success:   false,
					Message:   err.Error(),
				}
			}
			results[i] = result
			return nil
		})
	}
	_ = g.Wait()

	allOK := true
	for _, r := range results {
		if !r.Success {
			allOK = false
			break
		}
	}

	logger.InfoCtx(ctx, "batch execution finished, accounts: %d, all succeeded: %v", len(results), allOK)
	return &model.BatchResult{
		Success: allOK,
		Message: batchDoneMessage,
		Results: results,
	}, nil
}

// TestSubmit performs an ad-hoc submission without touching the store
func (s *ExecutionService) TestSubmit(ctx context.Context, account, password string, steps int) (*submitter.Outcome, error) {
	account = strings.TrimSpace(account)
	if account == "" || password == "" {
		return nil, model.NewValidationError("", "账号和密码不能为空")
	}
	if steps <= 0 {
		return nil, model.NewValidationError("steps", "must be positive, got %d", steps)
	}

	outcome, err := s.submitter.Submit(ctx, account, password, steps)
	if outcome == nil {
		outcome = &submitter.Outcome{}
	}
	if err != nil {
		var subErr *model.SubmissionError
		if !errors.As(err, &subErr) {
			return nil, err
		}
		outcome.Success = false
		outcome.Message = subErr.Message
	}
	logger.InfoCtx(ctx, "test submission, account: %s, steps: %d, success: %v", account, steps, outcome.Success)
	return outcome, nil
}

// InFlight reports whether an execution for the account is running in this process
func (s *ExecutionService) InFlight(accountID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inFlight[accountID]
	return ok
}

// acquire takes the per-account guard. The returned func releases it.
func (s *ExecutionService) acquire(ctx context.Context, accountID int64) (func(), error) {
	s.mu.Lock()
	if _, busy := s.inFlight[accountID]; busy {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %d", model.ErrExecutionInProgress, accountID)
	}
	s.inFlight[accountID] = struct{}{}
	s.mu.Unlock()

	releaseLocal := func() {
		s.mu.Lock()
		delete(s.inFlight, accountID)
		s.mu.Unlock()
	}

	if s.opts.RedisClient == nil {
		return releaseLocal, nil
	}

	l := lock.NewRedisLock(s.opts.RedisClient, fmt.Sprintf("%s%d", executionLockPrefix, accountID), s.opts.LockTTL)
	acquired, err := l.TryLock(ctx)
	if err != nil {
		// redis outage degrades to the in-process guard
		logger.WarnCtx(ctx, "execution lock unavailable for account %d, continuing with local guard: %v", accountID, err)
		return releaseLocal, nil
	}
	if !acquired {
		releaseLocal()
		return nil, fmt.Errorf("%w: %d", model.ErrExecutionInProgress, accountID)
	}

	return func() {
		if err := l.Unlock(context.WithoutCancel(ctx)); err != nil {
			logger.WarnCtx(ctx, "failed to release execution lock for account %d: %v", accountID, err)
		}
		releaseLocal()
	}, nil
}

func (s *ExecutionService) notifyFailure(ctx context.Context, account *model.Account, steps int, trigger model.Trigger, message string) {
	if s.opts.Notifier == nil {
		return
	}
	err := s.opts.Notifier.SendExecutionFailure(ctx, &notification.ExecutionFailureNotification{
		AccountID: account.ID,
		Account:   account.Account,
		Steps:     steps,
		Trigger:   string(trigger),
		Message:   message,
		FailedAt:  s.now().In(s.opts.Location),
	})
	if err != nil {
		logger.WarnCtx(ctx, "failed to send failure notification for account %s: %v", account.Account, err)
	}
}
