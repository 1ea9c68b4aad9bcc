package main

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"bushu/internal/jobs"
	"bushu/internal/scheduler"
	"bushu/internal/service"
	"bushu/pkg/lock"
	"bushu/pkg/logger"
)

const recordRetentionLockKey = "bushu:job:record-retention"

func (app *Application) initJobs() error {
	if app.scheduler == nil || app.recordService == nil {
		logger.WarnCtx(app.ctx, "Service layer not fully initialized yet, skipping background task registration")
		return nil
	}

	manager := jobs.NewManager(app.ctx)

	// Every replica owns its own timers, so reconcile runs everywhere without a lock.
	manager.Register(newSchedulerReconcileJob(app.config.Schedule.ReconcileInterval, app.scheduler))

	if app.config.Records.RetentionDays > 0 {
		// 未配置 Redis 时退化为单实例模式
		var redisClient *redis.Client
		if app.redisClient != nil {
			redisClient = app.redisClient.GetClient()
		}
		retentionLock := lock.NewRedisLock(redisClient, recordRetentionLockKey, 0)
		manager.Register(newRecordRetentionJob(24*time.Hour, app.config.Records.RetentionDays, app.recordService, retentionLock))
	} else {
		logger.InfoCtx(app.ctx, "Record retention disabled, execution records are kept forever")
	}

	app.jobsManager = manager
	return nil
}

// schedulerReconcileJob rebuilds the timer table from the store and fires missed deadlines.
type schedulerReconcileJob struct {
	interval  time.Duration
	scheduler *scheduler.Scheduler
}

func newSchedulerReconcileJob(interval time.Duration, s *scheduler.Scheduler) jobs.Job {
	return &schedulerReconcileJob{
		interval:  interval,
		scheduler: s,
	}
}

func (j *schedulerReconcileJob) Name() string {
	return "scheduler-reconcile"
}

func (j *schedulerReconcileJob) Interval() time.Duration {
	return j.interval
}

func (j *schedulerReconcileJob) Run(ctx context.Context) error {
	if j.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return j.scheduler.Reconcile(ctx)
}

// recordRetentionJob deletes execution records older than the retention window.
type recordRetentionJob struct {
	interval        time.Duration
	retentionDays   int
	recordService   *service.RecordService
	distributedLock lock.DistributedLock
}

func newRecordRetentionJob(interval time.Duration, retentionDays int, svc *service.RecordService, l lock.DistributedLock) jobs.Job {
	return &recordRetentionJob{
		interval:        interval,
		retentionDays:   retentionDays,
		recordService:   svc,
		distributedLock: l,
	}
}

func (j *recordRetentionJob) Name() string {
	return "record-retention-cleanup"
}

func (j *recordRetentionJob) Interval() time.Duration {
	return j.interval
}

// AlignToInterval 对齐到 UTC 零点执行，而不是启动时立即执行
func (j *recordRetentionJob) AlignToInterval() bool {
	return true
}

func (j *recordRetentionJob) Run(ctx context.Context) error {
	if j.recordService == nil {
		return fmt.Errorf("record service not configured")
	}

	if j.distributedLock != nil {
		acquired, err := j.distributedLock.TryLock(ctx)
		if err != nil || !acquired {
			logger.DebugCtx(ctx, "another instance is running record retention cleanup, skipping this cycle")
			return nil
		}
		defer j.distributedLock.Unlock(ctx)
	}

	logger.DebugCtx(ctx, "running record retention cleanup job")
	_, err := j.recordService.PruneOlderThan(ctx, j.retentionDays)
	return err
}
