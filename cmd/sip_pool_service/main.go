package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxline/golang_services/internal/platform/config"
	"github.com/voxline/golang_services/internal/platform/database"
	"github.com/voxline/golang_services/internal/platform/logger"
	"github.com/voxline/golang_services/internal/platform/messagebroker"
	poolHttp "github.com/voxline/golang_services/internal/sip_pool_service/adapters/http"
	"github.com/voxline/golang_services/internal/sip_pool_service/app"
	"github.com/voxline/golang_services/internal/sip_pool_service/domain"
	"github.com/voxline/golang_services/internal/sip_pool_service/middleware"
	poolRepo "github.com/voxline/golang_services/internal/sip_pool_service/repository/postgres"
)

const serviceName = "sip_pool_service"

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		slog.Error("Failed to load configuration", "service", serviceName, "error", err)
		os.Exit(1)
	}

	appLogger := logger.New(cfg.LogLevel)
	appLogger.Info("SIP pool service starting...", "port", cfg.SipPoolServicePort)

	dbPool, err := database.NewDBPool(context.Background(), cfg.PostgresDSN)
	if err != nil {
		appLogger.Error("Failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()
	appLogger.Info("SIP pool service connected to PostgreSQL database")

	// NATS is optional: lifecycle events are best-effort and the pool must
	// keep assigning lines when the broker is down.
	var publisher domain.EventPublisher
	natsClient, err := messagebroker.NewNatsClient(cfg.NATSUrl, serviceName, appLogger)
	if err != nil {
		appLogger.Warn("Failed to connect to NATS; lifecycle events disabled", "error", err)
	} else {
		defer natsClient.Close()
		publisher = natsClient
		appLogger.Info("Successfully connected to NATS")
	}

	credentialRepo := poolRepo.NewPgCredentialRepository(dbPool, appLogger)
	assignmentSvc := app.NewAssignmentService(credentialRepo, publisher, appLogger, cfg.AssignMaxRetries)
	statsSvc := app.NewStatsService(credentialRepo, appLogger)

	validate := validator.New()
	poolHandler := poolHttp.NewPoolHandler(assignmentSvc, statsSvc, appLogger, validate)
	authMW := middleware.AuthMiddleware(cfg.JWTAccessSecret, appLogger)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))
	r.Use(poolHttp.PrometheusMetricsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "SIP pool service is healthy"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(v1Router chi.Router) {
		v1Router.Use(authMW)
		poolHandler.RegisterRoutes(v1Router)
	})

	httpServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.SipPoolServicePort), Handler: r}
	appLogger.Info(fmt.Sprintf("SIP pool server listening on port %d", cfg.SipPoolServicePort))
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("HTTP server failed to serve", "error", err)
		}
	}()

	quitChan := make(chan os.Signal, 1)
	signal.Notify(quitChan, syscall.SIGINT, syscall.SIGTERM)
	<-quitChan
	appLogger.Info("Shutdown signal received, shutting down HTTP server...")
	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(ctxShutdown); err != nil {
		appLogger.Error("HTTP server shutdown failed", "error", err)
	} else {
		appLogger.Info("HTTP server shut down gracefully.")
	}
	appLogger.Info("SIP pool service shut down.")
}
