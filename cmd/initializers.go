package main

import (
	"fmt"
	"net/http"
	"time"

	"bushu/app/handler"
	"bushu/app/router"
	"bushu/internal/scheduler"
	"bushu/internal/service"
	"bushu/pkg/config"
	"bushu/pkg/lock"
	"bushu/pkg/logger"
	"bushu/pkg/metrics"
	"bushu/pkg/notification"
	"bushu/pkg/security"
	redisstore "bushu/pkg/store/redis"
	"bushu/pkg/store/sqldb"
	"bushu/pkg/stream"
	"bushu/pkg/submitter"

	"github.com/gin-gonic/gin"
)

// fireClaimTTL keeps a scheduled occurrence claimed past the next daily fire
const fireClaimTTL = 26 * time.Hour

// initConfig initializes configuration
func (app *Application) initConfig() error {
	if err := config.Init(); err != nil {
		return err
	}
	app.config = config.GlobalConfig
	app.location = app.config.Schedule.Location()
	return nil
}

// initLogger initializes logging
func (app *Application) initLogger() error {
	if err := logger.Init(); err != nil {
		return err
	}
	app.registerCleanup(func() {
		logger.InfoCtx(app.ctx, "Logging system has been closed")
		_ = logger.Sync()
	})
	return nil
}

// initMetrics registers prometheus collectors
func (app *Application) initMetrics() error {
	metrics.MustRegister()
	return nil
}

// initDatabase opens the gorm datastore (MySQL or SQLite) and migrates the schema
func (app *Application) initDatabase() error {
	dsn := app.config.Database.DSN
	if app.config.Database.Driver == sqldb.DriverMySQL {
		dsn = app.config.Database.MySQLDSN()
	}

	repo, err := sqldb.NewRepository(app.config.Database.Driver, dsn)
	if err != nil {
		return err
	}

	app.repo = repo
	app.registerCleanup(func() {
		repo.Close()
		logger.InfoCtx(app.ctx, "Database connection has been closed")
	})

	return nil
}

// initRedis initializes Redis. Without an address the service runs in single-instance mode.
func (app *Application) initRedis() error {
	client, err := redisstore.NewRedisClient(app.config)
	if err != nil {
		return err
	}
	if client == nil {
		logger.InfoCtx(app.ctx, "Redis not configured, execution guard and job locks are process-local")
		return nil
	}

	app.redisClient = client
	app.registerCleanup(func() {
		client.Close()
		logger.InfoCtx(app.ctx, "Redis connection has been closed")
	})

	return nil
}

// initCipher loads the password encryption key
func (app *Application) initCipher() error {
	cipher, err := security.NewPasswordCipher(app.config.Security.MasterKey)
	if err != nil {
		return err
	}
	if !cipher.Enabled() {
		logger.WarnCtx(app.ctx, "No master key configured, account passwords are stored in plaintext")
	}
	app.cipher = cipher
	return nil
}

// initIntegrations creates the remote submitter, the failure notifier and the record stream hub
func (app *Application) initIntegrations() error {
	app.submitter = submitter.NewClient(app.config.Submitter, nil)
	logger.InfoCtx(app.ctx, "Submitter posts to %s (timeout %v)", app.config.Submitter.PostURL, app.config.Submitter.Timeout)

	app.notifier = notification.NewFeishuNotifier(app.config.Notification.FeishuWebhookURL)
	if app.notifier.Enabled() {
		logger.InfoCtx(app.ctx, "Feishu notification enabled for failed scheduled executions")
	}

	app.hub = stream.NewHub(0)
	return nil
}

// initServices initializes service layer
func (app *Application) initServices() error {
	app.accountService = service.NewAccountService(app.repo, app.cipher, service.AccountDefaults{
		Steps:          app.config.Schedule.DefaultSteps,
		ScheduleHour:   *app.config.Schedule.DefaultHour,
		ScheduleMinute: *app.config.Schedule.DefaultMinute,
	})

	opts := service.ExecutionOptions{
		Concurrency: app.config.Execution.Concurrency,
		Location:    app.location,
		RedisClient: app.redisClient.GetClient(),
		Publisher:   app.hub,
	}
	if app.notifier.Enabled() {
		opts.Notifier = app.notifier
	}
	app.executionService = service.NewExecutionService(app.accountService, app.repo.Record, app.submitter, opts)
	app.accountService.SetExecutionGuard(app.executionService)

	app.recordService = service.NewRecordService(app.repo.Record, app.location, app.config.Records.TodayLimit)
	app.statisticsService = service.NewStatisticsService(app.repo, app.location)
	return nil
}

// initScheduler creates the per-account timer table and subscribes it to account changes
func (app *Application) initScheduler() error {
	app.scheduler = scheduler.New(app.accountService, app.executionService, app.location)

	// Replicas sharing Redis agree on a single runner per occurrence
	if redisClient := app.redisClient.GetClient(); redisClient != nil {
		app.scheduler.SetFireClaimer(lock.NewOnceClaimer(redisClient, fireClaimTTL))
	}

	app.accountService.SetScheduleNotifier(app.scheduler)
	return nil
}

// initBootstrap seeds one account when the store is empty
func (app *Application) initBootstrap() error {
	bootstrap := app.config.Bootstrap
	if bootstrap.Account == "" || bootstrap.Password == "" {
		return nil
	}

	created, err := app.accountService.EnsureBootstrapAccount(app.ctx, bootstrap.Account, bootstrap.Password)
	if err != nil {
		return err
	}
	if created {
		logger.InfoCtx(app.ctx, "Bootstrap account %s created", bootstrap.Account)
	}
	return nil
}

// initHandlers initializes handler layer
func (app *Application) initHandlers() error {
	app.accountHandler = handler.NewAccountHandler(app.accountService)
	app.executionHandler = handler.NewExecutionHandler(app.executionService, app.config.Schedule.DefaultSteps)
	app.recordHandler = handler.NewRecordHandler(app.recordService, app.statisticsService)
	app.schedulerHandler = handler.NewSchedulerHandler(app.scheduler)
	app.streamHandler = handler.NewStreamHandler(app.hub)
	return nil
}

// initHTTPServer initializes HTTP server
func (app *Application) initHTTPServer() error {
	// Initialize router
	r := router.NewRouter(app.accountHandler, app.executionHandler, app.recordHandler, app.schedulerHandler, app.streamHandler, router.Options{
		APIKey:      app.config.Server.APIKey,
		CORSOrigins: app.config.Server.CORSOrigins,
		Location:    app.location,
	})

	// Set Gin mode
	gin.SetMode(app.config.Server.Mode)

	// Create Gin engine
	app.ginEngine = gin.New()

	// Setup routes
	r.Setup(app.ginEngine)

	// Create HTTP server
	app.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.config.Server.Port),
		Handler:           app.ginEngine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return nil
}
