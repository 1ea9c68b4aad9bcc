package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bushu/pkg/logger"
)

// Job is a periodic background task
type Job interface {
	Name() string
	Interval() time.Duration
	Run(ctx context.Context) error
}

// AlignedJob waits for the next multiple of its interval before the first run
// instead of running immediately.
type AlignedJob interface {
	Job
	AlignToInterval() bool
}

// Manager runs registered jobs on their own tickers until stopped
type Manager struct {
	ctx     context.Context
	cancel  context.CancelFunc
	jobs    []Job
	started bool
	now     func() time.Time

	mu sync.Mutex
	wg sync.WaitGroup
}

// NewManager creates a job manager bound to parent
func NewManager(parent context.Context) *Manager {
	ctx, cancel := context.WithCancel(parent)
	return &Manager{
		ctx:    ctx,
		cancel: cancel,
		now:    time.Now,
	}
}

// Register adds a job. Jobs registered after Start are ignored.
func (m *Manager) Register(job Job) {
	if job == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		logger.WarnCtx(m.ctx, "job %s registered after start, ignored", job.Name())
		return
	}
	m.jobs = append(m.jobs, job)
}

// Jobs returns the names of registered jobs
func (m *Manager) Jobs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.jobs))
	for _, j := range m.jobs {
		names = append(names, j.Name())
	}
	return names
}

// Start launches every registered job in its own goroutine
func (m *Manager) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	jobs := append([]Job(nil), m.jobs...)
	m.mu.Unlock()

	for _, job := range jobs {
		m.wg.Add(1)
		go m.loop(job)
	}
}

// Stop signals all jobs to stop
func (m *Manager) Stop() {
	m.cancel()
}

// Wait blocks until all jobs exit
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) loop(job Job) {
	defer m.wg.Done()

	interval := job.Interval()
	if interval <= 0 {
		interval = time.Minute
	}

	if aligned, ok := job.(AlignedJob); ok && aligned.AlignToInterval() {
		now := m.now()
		next := now.Truncate(interval).Add(interval)
		logger.InfoCtx(m.ctx, "job %s first run at %s", job.Name(), next.Format("2006-01-02 15:04:05"))

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-m.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
	m.runOnce(job)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.runOnce(job)
		}
	}
}

// runOnce executes one cycle with its own trace id. A panic fails the cycle, not the loop.
func (m *Manager) runOnce(job Job) {
	ctx := logger.WithTraceID(m.ctx, "")
	start := m.now()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return job.Run(ctx)
	}()

	if err != nil {
		logger.WarnCtx(ctx, "background job %s failed: %v", job.Name(), err)
		return
	}
	logger.DebugCtx(ctx, "background job %s finished in %v", job.Name(), m.now().Sub(start))
}
