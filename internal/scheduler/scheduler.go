// Package scheduler owns the per-account daily timer table.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"bushu/internal/model"
	"bushu/pkg/logger"
	"bushu/pkg/metrics"
	"bushu/pkg/timeutil"
)

const (
	// overdueSlack 定时器允许的最大延迟，超过后由 Reconcile 补触发
	overdueSlack = 30 * time.Second

	fireClaimPrefix = "bushu:scheduled:"
)

// AccountSource is read on every fire so a timer never acts on a stale copy
type AccountSource interface {
	Get(ctx context.Context, id int64) (*model.Account, error)
	ListEnabled(ctx context.Context) ([]*model.Account, error)
}

// Executor runs one account
type Executor interface {
	ExecuteOne(ctx context.Context, accountID int64, opts model.ExecuteOptions) (*model.ExecutionResult, error)
}

// FireClaimer grants a scheduled occurrence to a single replica
type FireClaimer interface {
	Claim(ctx context.Context, key string) (bool, error)
}

type entry struct {
	accountID int64
	account   string
	hour      int
	minute    int
	nextFire  time.Time
	timer     *time.Timer
	gen       uint64
	firing    bool
}

// Scheduler keeps at most one armed timer per account. Arm and Cancel are the only
// public mutators; a fired entry re-arms itself for the next day.
type Scheduler struct {
	accounts AccountSource
	executor Executor
	claimer  FireClaimer
	loc      *time.Location
	now      func() time.Time

	mu      sync.Mutex
	entries map[int64]*entry
	gen     uint64
	ctx     context.Context
	cancel  context.CancelFunc
	stopped bool
	wg      sync.WaitGroup
}

// New creates a scheduler in the given reference timezone
func New(accounts AccountSource, executor Executor, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		accounts: accounts,
		executor: executor,
		loc:      loc,
		now:      time.Now,
		entries:  make(map[int64]*entry),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetFireClaimer makes replicas agree on who runs each occurrence. Optional.
func (s *Scheduler) SetFireClaimer(c FireClaimer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claimer = c
}

// Start builds the timer table from the store
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.Sync(ctx); err != nil {
		return err
	}
	logger.InfoCtx(ctx, "scheduler started, armed timers: %d", s.Len())
	return nil
}

// Stop cancels every timer and waits for running executions to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	for id, e := range s.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(s.entries, id)
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	metrics.SetArmedTimers(0)
}

// Arm sets or replaces the timer of an account for the next occurrence of its schedule
func (s *Scheduler) Arm(account *model.Account) {
	if account == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	next := timeutil.NextOccurrence(s.now(), account.ScheduleHour, account.ScheduleMinute, s.loc)
	s.armLocked(account.ID, account.Account, account.ScheduleHour, account.ScheduleMinute, next)
	logger.InfoCtx(s.ctx, "armed account %s (id %d) for %s", account.Account, account.ID, next.Format(model.RecordTimeLayout))
}

// Cancel removes the timer of an account, if any
func (s *Scheduler) Cancel(accountID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelLocked(accountID) {
		logger.InfoCtx(s.ctx, "cancelled timer of account %d", accountID)
	}
}

// Next returns the armed deadline of an account
func (s *Scheduler) Next(accountID int64) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[accountID]
	if !ok {
		return time.Time{}, false
	}
	return e.nextFire, true
}

// Len returns the number of armed timers
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Entries lists armed timers ordered by account id
func (s *Scheduler) Entries() []*model.ScheduleEntry {
	s.mu.Lock()
	result := make([]*model.ScheduleEntry, 0, len(s.entries))
	for _, e := range s.entries {
		result = append(result, &model.ScheduleEntry{
			AccountID:    e.accountID,
			Account:      e.account,
			ScheduleTime: model.FormatScheduleTime(e.hour, e.minute),
			NextFireAt:   e.nextFire.In(s.loc),
		})
	}
	s.mu.Unlock()

	sort.Slice(result, func(i, j int) bool { return result[i].AccountID < result[j].AccountID })
	return result
}

// Sync makes the table match the enabled accounts in the store. Entries whose
// schedule is unchanged keep their deadline.
func (s *Scheduler) Sync(ctx context.Context) error {
	accounts, err := s.accounts.ListEnabled(ctx)
	if err != nil {
		return err
	}

	wanted := make(map[int64]*model.Account, len(accounts))
	for _, a := range accounts {
		wanted[a.ID] = a
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}

	for id := range s.entries {
		if _, ok := wanted[id]; !ok {
			s.cancelLocked(id)
		}
	}

	now := s.now()
	for id, a := range wanted {
		if e, ok := s.entries[id]; ok && e.hour == a.ScheduleHour && e.minute == a.ScheduleMinute {
			e.account = a.Account
			continue
		}
		next := timeutil.NextOccurrence(now, a.ScheduleHour, a.ScheduleMinute, s.loc)
		s.armLocked(id, a.Account, a.ScheduleHour, a.ScheduleMinute, next)
	}
	return nil
}

// Reconcile syncs with the store and fires, once, every entry whose deadline
// passed without its timer firing (for example after the host was suspended).
func (s *Scheduler) Reconcile(ctx context.Context) error {
	if err := s.Sync(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	now := s.now()
	type due struct {
		id  int64
		gen uint64
	}
	var overdue []due
	for id, e := range s.entries {
		if !e.firing && now.After(e.nextFire.Add(overdueSlack)) {
			overdue = append(overdue, due{id: id, gen: e.gen})
		}
	}
	s.mu.Unlock()

	for _, d := range overdue {
		logger.WarnCtx(ctx, "timer of account %d missed its deadline, firing now", d.id)
		go s.fire(d.id, d.gen)
	}
	return nil
}

func (s *Scheduler) armLocked(id int64, name string, hour, minute int, next time.Time) {
	s.cancelLocked(id)

	s.gen++
	gen := s.gen
	e := &entry{
		accountID: id,
		account:   name,
		hour:      hour,
		minute:    minute,
		nextFire:  next,
		gen:       gen,
	}
	delay := next.Sub(s.now())
	if delay < 0 {
		delay = 0
	}
	e.timer = time.AfterFunc(delay, func() { s.fire(id, gen) })
	s.entries[id] = e
	metrics.SetArmedTimers(len(s.entries))
}

func (s *Scheduler) cancelLocked(id int64) bool {
	e, ok := s.entries[id]
	if !ok {
		return false
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(s.entries, id)
	metrics.SetArmedTimers(len(s.entries))
	return true
}

// fire runs the entry identified by id and gen. Stale or concurrent fires are dropped.
func (s *Scheduler) fire(id int64, gen uint64) {
	s.mu.Lock()
	e, ok := s.entries[id]
	if s.stopped || !ok || e.gen != gen || e.firing {
		s.mu.Unlock()
		return
	}
	e.firing = true
	if e.timer != nil {
		e.timer.Stop()
	}
	scheduledFor := e.nextFire
	ctx := s.ctx
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	s.run(logger.WithTraceID(ctx, ""), id, gen, scheduledFor)
}

func (s *Scheduler) run(ctx context.Context, id int64, gen uint64, scheduledFor time.Time) {
	account, err := s.accounts.Get(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrAccountNotFound) {
			logger.InfoCtx(ctx, "account %d no longer exists, timer removed", id)
			s.dropIfCurrent(id, gen)
			return
		}
		logger.ErrorCtx(ctx, "failed to load account %d for scheduled run: %v", id, err)
		s.rearmIfCurrent(id, gen, scheduledFor, nil)
		return
	}
	if !account.Enabled {
		logger.InfoCtx(ctx, "account %s is disabled, timer removed", account.Account)
		s.dropIfCurrent(id, gen)
		return
	}

	if !s.claim(ctx, id, scheduledFor) {
		logger.InfoCtx(ctx, "occurrence %s of account %s already taken by another replica",
			scheduledFor.Format(model.RecordTimeLayout), account.Account)
		s.rearmIfCurrent(id, gen, scheduledFor, account)
		return
	}

	result, err := s.executor.ExecuteOne(ctx, id, model.ExecuteOptions{Trigger: model.TriggerScheduled})
	switch {
	case err != nil:
		logger.ErrorCtx(ctx, "scheduled run of account %s failed to execute: %v", account.Account, err)
	case !result.Success:
		logger.WarnCtx(ctx, "scheduled run of account %s failed: %s", account.Account, result.Message)
	default:
		logger.InfoCtx(ctx, "scheduled run of account %s succeeded, steps: %d", account.Account, result.Steps)
	}

	s.rearmIfCurrent(id, gen, scheduledFor, account)
}

// rearmIfCurrent 重新挂载到下一天（条目已被替换或取消时跳过）
func (s *Scheduler) rearmIfCurrent(id int64, gen uint64, scheduledFor time.Time, account *model.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if s.stopped || !ok || e.gen != gen {
		return
	}

	name, hour, minute := e.account, e.hour, e.minute
	if account != nil {
		name, hour, minute = account.Account, account.ScheduleHour, account.ScheduleMinute
	}
	from := s.now()
	if scheduledFor.After(from) {
		from = scheduledFor
	}
	next := timeutil.NextOccurrence(from, hour, minute, s.loc)
	s.armLocked(id, name, hour, minute, next)
	logger.InfoCtx(s.ctx, "re-armed account %s (id %d) for %s", name, id, next.Format(model.RecordTimeLayout))
}

// claim reports whether this replica should run the occurrence. Claim errors run it anyway.
func (s *Scheduler) claim(ctx context.Context, id int64, scheduledFor time.Time) bool {
	s.mu.Lock()
	c := s.claimer
	s.mu.Unlock()
	if c == nil {
		return true
	}
	ok, err := c.Claim(ctx, fmt.Sprintf("%s%d:%d", fireClaimPrefix, id, scheduledFor.Unix()))
	if err != nil {
		logger.WarnCtx(ctx, "fire claim unavailable for account %d, running locally: %v", id, err)
		return true
	}
	return ok
}

func (s *Scheduler) dropIfCurrent(id int64, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok && e.gen == gen {
		s.cancelLocked(id)
	}
}
