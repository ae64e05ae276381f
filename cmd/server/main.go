package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/chatrelay/chatrelay/internal/api"
	"github.com/chatrelay/chatrelay/internal/chat"
	"github.com/chatrelay/chatrelay/internal/errorlog"
	"github.com/chatrelay/chatrelay/internal/provider/anthropic"
	"github.com/chatrelay/chatrelay/internal/realtime"
	"github.com/chatrelay/chatrelay/internal/store"
	"github.com/chatrelay/chatrelay/internal/stream"
	"github.com/chatrelay/chatrelay/internal/usage"
	"github.com/chatrelay/chatrelay/pkg/config"
	"github.com/chatrelay/chatrelay/pkg/errors"
	"github.com/chatrelay/chatrelay/pkg/logging"
	"github.com/chatrelay/chatrelay/pkg/metrics"
	"github.com/chatrelay/chatrelay/pkg/resilience"
	"github.com/chatrelay/chatrelay/pkg/tracing"
)

func main() {
	// .env is optional; real deployments configure the environment directly
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	tracingService, err := tracing.NewTracingService(&tracing.Config{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: "1.0.0",
		JaegerEndpoint: cfg.Tracing.JaegerEndpoint,
		SamplingRate:   cfg.Tracing.SampleRate,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}

	m := metrics.NewMetrics(metrics.DefaultConfig())

	// Redis is optional: without it chat still works, but usage accounting
	// and replay deduplication are disabled
	var redisClient *store.RedisClient
	var recorder *usage.Recorder
	if redisClient, err = store.NewRedisClient(&cfg.Redis); err != nil {
		logger.Warn("Redis unavailable, usage accounting disabled", "error", err.Error())
		redisClient = nil
	} else {
		defer redisClient.Close()
		recorder = usage.NewRecorder(redisClient, logger)
		logger.Info("Redis connection established")
	}

	providerClient := anthropic.New(anthropic.Config{
		APIKey:         cfg.Provider.AnthropicAPIKey,
		BaseURL:        cfg.Provider.BaseURL,
		RequestTimeout: cfg.Provider.RequestTimeout,
	})

	relay := resilience.NewRelayOperation("anthropic",
		resilience.CircuitBreakerConfig{
			FailureThreshold: cfg.Resilience.FailureThreshold,
			ResetTimeout:     cfg.Resilience.ResetTimeout,
			OnStateChange: func(name string, from, to resilience.CircuitState) {
				state := 0
				switch to {
				case resilience.StateOpen:
					state = 1
				case resilience.StateHalfOpen:
					state = 2
				}
				m.UpdateCircuitBreakerState(name, state)
			},
		},
		resilience.RetryConfig{
			MaxRetries:   cfg.Resilience.MaxRetries,
			BaseDelay:    cfg.Resilience.BaseDelay,
			MaxDelay:     cfg.Resilience.MaxDelay,
			JitterFactor: cfg.Resilience.JitterFactor,
			OnRetry: func(attempt int, err error, delay time.Duration) {
				m.RecordRetry("anthropic", string(errors.GetType(err)))
			},
		},
		logger,
	)

	errlog := errorlog.New(cfg.Realtime.ErrorLogCapacity, logger)

	manager := realtime.NewManager(realtime.ManagerConfig{
		HeartbeatInterval: cfg.Realtime.HeartbeatInterval,
		ConnectionTimeout: cfg.Realtime.ConnectionTimeout,
	}, logger)
	cleaner := realtime.NewCleaner(manager, logger)

	chatService := chat.NewService(
		chat.Config{
			DefaultModel: cfg.Provider.DefaultModel,
			MaxTokens:    cfg.Provider.MaxTokens,
		},
		providerClient,
		relay,
		stream.NewHandler(logger),
		manager,
		errlog,
		recorder,
		m,
		tracingService,
		logger,
	)

	wsHandler := api.NewWSHandler(manager, cleaner, chatService, m, logger)

	router := api.NewRouter(api.RouterDeps{
		Config:   cfg,
		Logger:   logger,
		Metrics:  m,
		Tracing:  tracingService,
		Redis:    redisClient,
		Manager:  manager,
		ErrorLog: errlog,
		Usage:    recorder,
		WS:       wsHandler,
	})

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go manager.StartSweep(sweepCtx, cleaner)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("Starting server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server")

	stopSweep()

	// close every live connection with a going-away code so clients
	// reconnect instead of waiting out a heartbeat timeout
	for _, conn := range manager.All() {
		cleaner.Cleanup(conn, realtime.CloseShutdown, "server shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	if err := tracingService.Shutdown(ctx); err != nil {
		logger.Warn("Tracing shutdown failed", "error", err.Error())
	}

	logger.Info("Server exited")
}
