package api

import (
	"net/http"
	"strconv"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/chatrelay/chatrelay/internal/errorlog"
	"github.com/chatrelay/chatrelay/internal/realtime"
	"github.com/chatrelay/chatrelay/internal/store"
	"github.com/chatrelay/chatrelay/internal/usage"
	"github.com/chatrelay/chatrelay/pkg/config"
	"github.com/chatrelay/chatrelay/pkg/errors"
	"github.com/chatrelay/chatrelay/pkg/logging"
	"github.com/chatrelay/chatrelay/pkg/metrics"
	"github.com/chatrelay/chatrelay/pkg/tracing"
)

// RouterDeps bundles what the router wires together
type RouterDeps struct {
	Config   *config.Config
	Logger   *logging.Logger
	Metrics  *metrics.Metrics
	Tracing  *tracing.TracingService
	Redis    *store.RedisClient
	Manager  *realtime.Manager
	ErrorLog *errorlog.Log
	Usage    *usage.Recorder
	WS       *WSHandler
}

// NewRouter creates and configures the API router
func NewRouter(deps RouterDeps) *gin.Engine {
	if deps.Config.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(RecoveryMiddleware(deps.Logger, deps.Metrics))
	router.Use(LoggingMiddleware(deps.Logger))
	if deps.Tracing != nil {
		router.Use(deps.Tracing.TracingMiddleware())
	}
	if deps.Metrics != nil {
		router.Use(deps.Metrics.PrometheusMiddleware())
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "X-Correlation-ID"},
		AllowCredentials: false,
	}))

	healthHandler := NewHealthHandler(deps.Redis, deps.Manager)
	router.GET("/health", healthHandler.Health)

	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	router.GET("/ws", deps.WS.Handle)

	v1 := router.Group("/api/v1")
	{
		v1.GET("", func(c *gin.Context) {
			SuccessResponse(c, gin.H{
				"name":    "ChatRelay API",
				"version": "1.0.0",
				"status":  "ok",
			})
		})

		v1.GET("/errors", errorLogHandler(deps.ErrorLog))

		if deps.Usage != nil {
			v1.GET("/usage/:user_id", usageHandler(deps.Usage))
		}
	}

	return router
}

// errorLogHandler exposes recent classified errors and aggregates
func errorLogHandler(log *errorlog.Log) gin.HandlerFunc {
	return func(c *gin.Context) {
		n := 50
		if raw := c.Query("limit"); raw != "" {
			if v, err := strconv.Atoi(raw); err == nil && v > 0 {
				n = v
			}
		}

		SuccessResponse(c, gin.H{
			"recent": log.Recent(n),
			"stats":  log.Stats(),
		})
	}
}

// usageHandler returns a user's monthly token and cost totals
func usageHandler(recorder *usage.Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("user_id")
		if userID == "" {
			ErrorResponse(c, http.StatusBadRequest, errors.NewValidationError("user_id is required"))
			return
		}

		summary, err := recorder.Monthly(c.Request.Context(), userID, c.Query("period"))
		if err != nil {
			ErrorResponse(c, http.StatusInternalServerError, err)
			return
		}
		SuccessResponse(c, summary)
	}
}
