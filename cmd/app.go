package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"bushu/app/handler"
	"bushu/internal/jobs"
	"bushu/internal/scheduler"
	"bushu/internal/service"
	"bushu/pkg/config"
	"bushu/pkg/logger"
	"bushu/pkg/notification"
	"bushu/pkg/security"
	redisstore "bushu/pkg/store/redis"
	"bushu/pkg/store/sqldb"
	"bushu/pkg/stream"
	"bushu/pkg/submitter"

	"github.com/gin-gonic/gin"
)

// Application manages the lifecycle of the entire application
type Application struct {
	// Infrastructure components
	config      *config.Config
	location    *time.Location
	repo        *sqldb.Repository
	redisClient *redisstore.RedisClient
	cipher      *security.PasswordCipher

	// Integrations
	submitter *submitter.Client
	notifier  *notification.FeishuNotifier
	hub       *stream.Hub

	// Service layer
	accountService    *service.AccountService
	executionService  *service.ExecutionService
	recordService     *service.RecordService
	statisticsService *service.StatisticsService
	scheduler         *scheduler.Scheduler

	// Handler layer
	accountHandler   *handler.AccountHandler
	executionHandler *handler.ExecutionHandler
	recordHandler    *handler.RecordHandler
	schedulerHandler *handler.SchedulerHandler
	streamHandler    *handler.StreamHandler

	// HTTP server
	httpServer *http.Server
	ginEngine  *gin.Engine

	// Background tasks
	jobsManager *jobs.Manager

	// Context management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Background task cleanup functions
	cleanupFuncs []func()
}

// NewApplication creates a new Application instance
func NewApplication() *Application {
	ctx, cancel := context.WithCancel(context.Background())
	return &Application{
		ctx:          ctx,
		cancel:       cancel,
		cleanupFuncs: make([]func(), 0),
	}
}

// Initialize initializes all application components
func (app *Application) Initialize() error {
	var err error

	// Initialize components in order
	steps := []struct {
		name string
		fn   func() error
	}{
		{"Configuration", app.initConfig},
		{"Logging", app.initLogger},
		{"Metrics", app.initMetrics},
		{"Database", app.initDatabase},
		{"Redis", app.initRedis},
		{"Password Cipher", app.initCipher},
		{"Integrations", app.initIntegrations},
		{"Service Layer", app.initServices},
		{"Scheduler", app.initScheduler},
		{"Bootstrap Account", app.initBootstrap},
		{"Background Tasks", app.initJobs},
		{"Handler Layer", app.initHandlers},
		{"HTTP Server", app.initHTTPServer},
	}

	for _, step := range steps {
		logger.InfoCtx(app.ctx, "Initializing %s...", step.name)
		if err = step.fn(); err != nil {
			return fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
		logger.InfoCtx(app.ctx, "%s initialized successfully", step.name)
	}

	logger.InfoCtx(app.ctx, "Application initialization completed")
	return nil
}

// Start starts all application components
func (app *Application) Start() error {
	logger.InfoCtx(app.ctx, "Starting application components...")

	// 1. Arm timers for every enabled account
	if err := app.scheduler.Start(app.ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	// 2. Start background tasks
	if app.jobsManager != nil {
		logger.InfoCtx(app.ctx, "Starting background task manager")
		app.jobsManager.Start()
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			app.jobsManager.Wait()
		}()
	}

	// 3. Start HTTP server
	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		logger.InfoCtx(app.ctx, "HTTP server listening on: %s", app.httpServer.Addr)
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.FatalCtx(app.ctx, "HTTP server error: %v", err)
		}
	}()

	logger.InfoCtx(app.ctx, "All components started successfully")
	return nil
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown(timeout time.Duration) error {
	logger.InfoCtx(app.ctx, "Starting graceful shutdown (timeout: %v)...", timeout)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// 1. Cancel all background tasks
	logger.InfoCtx(app.ctx, "Canceling background tasks...")
	app.cancel()
	if app.jobsManager != nil {
		app.jobsManager.Stop()
	}

	// 2. Disconnect stream subscribers, their connections are hijacked and not drained by the server
	if app.hub != nil {
		app.hub.Close()
	}

	// 3. Stop HTTP server (stop accepting new requests)
	logger.InfoCtx(app.ctx, "Shutting down HTTP server...")
	if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
		logger.ErrorCtx(app.ctx, "HTTP server shutdown error: %v", err)
	}

	// 4. Stop timers and wait for in-flight scheduled runs
	if app.scheduler != nil {
		logger.InfoCtx(app.ctx, "Stopping scheduler...")
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			app.scheduler.Stop()
		}()
	}

	// 5. Wait for all background tasks to complete
	logger.InfoCtx(app.ctx, "Waiting for background tasks to complete...")
	done := make(chan struct{})
	go func() {
		app.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.InfoCtx(app.ctx, "All background tasks completed")
	case <-shutdownCtx.Done():
		logger.WarnCtx(app.ctx, "Shutdown timeout, some tasks may not have completed")
	}

	// 6. Execute all cleanup functions (in reverse registration order)
	logger.InfoCtx(app.ctx, "Executing cleanup functions...")
	for i := len(app.cleanupFuncs) - 1; i >= 0; i-- {
		app.cleanupFuncs[i]()
	}

	logger.InfoCtx(app.ctx, "Graceful shutdown completed")
	return nil
}

// registerCleanup registers cleanup function
func (app *Application) registerCleanup(cleanup func()) {
	app.cleanupFuncs = append(app.cleanupFuncs, cleanup)
}
