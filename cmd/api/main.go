package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gainy-app/gainy-compute-sub000/internal/app"
	"github.com/gainy-app/gainy-compute-sub000/internal/config"
	"github.com/gainy-app/gainy-compute-sub000/internal/handlers"
	"github.com/gainy-app/gainy-compute-sub000/internal/jobs"
	"github.com/gainy-app/gainy-compute-sub000/internal/logger"
	"github.com/gainy-app/gainy-compute-sub000/internal/middleware"
	"github.com/gainy-app/gainy-compute-sub000/internal/validator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Get().Fatalf("Failed to load configuration: %v", err)
	}

	logger.Init(cfg.Env, cfg.LogLevel)
	defer logger.Sync()

	if err := run(cfg); err != nil {
		logger.Get().Fatalf("Fatal error: %v", err)
	}
}

func run(cfg *config.Config) error {
	log := logger.Get()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(cfg, true)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warnf("database close error: %v", err)
		}
	}()

	if cfg.CronEnabled {
		scheduler := jobs.NewScheduler(a.Jobs, ctx)
		for name, spec := range map[string]string{
			jobs.Rebalance:        cfg.CronRebalance,
			jobs.Reconcile:        cfg.CronReconcile,
			jobs.CorporateActions: cfg.CronCorporateActions,
		} {
			if err := scheduler.Add(name, spec); err != nil {
				return err
			}
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	sqlDB, err := a.Database.DB().DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying DB: %w", err)
	}

	validator.Register()

	healthHandler := handlers.NewHealthHandler(sqlDB)
	webhookHandler := handlers.NewWebhookHandler(a.Webhooks, a.DeliveryLog)
	jobHandler := handlers.NewJobHandler(a.Jobs)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogging())
	router.Use(middleware.ErrorHandler())

	router.GET("/api/health", healthHandler.Health)

	v1 := router.Group("/api/v1")
	protected := v1.Group("/")
	protected.Use(middleware.APIKeyAuth(cfg.WebhookAPIKey))
	protected.POST("/webhooks/broker", webhookHandler.HandleBrokerEvent)
	protected.POST("/jobs/:job", jobHandler.RunJob)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("Starting reconciliation engine on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
