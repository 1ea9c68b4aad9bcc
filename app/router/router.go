package router

import (
	"net/http"
	"time"

	"bushu/app/handler"
	"bushu/app/middleware"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Options settings that shape the route table
type Options struct {
	APIKey      string
	CORSOrigins []string // empty allows any origin
	Location    *time.Location
}

// Router Router
type Router struct {
	accountHandler   *handler.AccountHandler
	executionHandler *handler.ExecutionHandler
	recordHandler    *handler.RecordHandler
	schedulerHandler *handler.SchedulerHandler
	streamHandler    *handler.StreamHandler
	opts             Options
}

// NewRouter creates a new Router
func NewRouter(accountHandler *handler.AccountHandler, executionHandler *handler.ExecutionHandler, recordHandler *handler.RecordHandler, schedulerHandler *handler.SchedulerHandler, streamHandler *handler.StreamHandler, opts Options) *Router {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Router{
		accountHandler:   accountHandler,
		executionHandler: executionHandler,
		recordHandler:    recordHandler,
		schedulerHandler: schedulerHandler,
		streamHandler:    streamHandler,
		opts:             opts,
	}
}

// Setup sets up routes
func (r *Router) Setup(engine *gin.Engine) {
	engine.Use(middleware.Recovery())
	engine.Use(middleware.Trace())
	engine.Use(middleware.Logger())
	engine.Use(middleware.Metrics())
	engine.Use(cors.New(r.corsConfig()))

	api := engine.Group("/api")
	api.Use(middleware.AuthMiddleware(r.opts.APIKey))
	{
		accounts := api.Group("/accounts")
		{
			accounts.GET("", r.accountHandler.List)
			accounts.POST("", r.accountHandler.Create)
			accounts.POST("/execute-all", r.executionHandler.ExecuteAll)
			accounts.GET("/:id", r.accountHandler.Get)
			accounts.PUT("/:id", r.accountHandler.Update)
			accounts.DELETE("/:id", r.accountHandler.Delete)
			accounts.POST("/:id/toggle", r.accountHandler.Toggle)
			accounts.POST("/:id/execute", r.executionHandler.Execute)
			accounts.GET("/:id/records", r.recordHandler.ByAccount)
		}

		records := api.Group("/records")
		{
			records.GET("", r.recordHandler.List)
			records.GET("/today", r.recordHandler.Today)
			records.GET("/statistics", r.recordHandler.Statistics)
			if r.streamHandler != nil {
				records.GET("/stream", r.streamHandler.Records) // WebSocket
			}
		}

		api.POST("/test", r.executionHandler.Test)

		if r.schedulerHandler != nil {
			api.GET("/scheduler/jobs", r.schedulerHandler.Jobs)
		}
	}

	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check
	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "time": time.Now().In(r.opts.Location).Format(time.RFC3339)})
	})
}

func (r *Router) corsConfig() cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "X-API-Key", middleware.TraceHeader},
		ExposeHeaders: []string{"Content-Length", "Content-Type", middleware.TraceHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(r.opts.CORSOrigins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = r.opts.CORSOrigins
	}
	return cfg
}
