// Package app wires configuration, storage, locking, the broker client and the
// services into one graph shared by the API server and jobctl.
package app

import (
	"fmt"
	"net/http"

	"github.com/gainy-app/gainy-compute-sub000/internal/broker"
	"github.com/gainy-app/gainy-compute-sub000/internal/config"
	"github.com/gainy-app/gainy-compute-sub000/internal/database"
	"github.com/gainy-app/gainy-compute-sub000/internal/jobs"
	"github.com/gainy-app/gainy-compute-sub000/internal/locking"
	"github.com/gainy-app/gainy-compute-sub000/internal/logger"
	"github.com/gainy-app/gainy-compute-sub000/internal/services"
)

// App holds the wired services.
type App struct {
	Config   *config.Config
	Database *database.Manager
	Locks    *locking.Manager
	Broker   *broker.Client

	AuthTokens       services.AuthTokenServicer
	Accounts         services.AccountServicer
	Portfolios       services.PortfolioServicer
	Rebalance        services.RebalanceServicer
	Executions       services.ExecutionServicer
	CorporateActions services.CorporateActionServicer
	Webhooks         services.WebhookServicer
	DeliveryLog      services.DeliveryLogServicer
	Jobs             *jobs.Registry
}

// New connects to the database, optionally applies migrations and builds the
// service graph.
func New(cfg *config.Config, migrate bool) (*App, error) {
	dbManager, err := database.NewManager(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create database manager: %w", err)
	}
	if migrate {
		if err := dbManager.RunMigrations(); err != nil {
			_ = dbManager.Close()
			return nil, fmt.Errorf("failed to run database migrations: %w", err)
		}
	}

	db := dbManager.DB()
	locks, err := locking.NewManagerFromConfig(cfg, db)
	if err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to create lock manager: %w", err)
	}
	logger.Get().Infow("lock backend ready", "backend", cfg.LockBackend, "timeout", cfg.LockTimeout)

	client := broker.NewClient(cfg.BrokerAPIURL, cfg.BrokerAPIKey, cfg.BrokerAPISecret,
		&http.Client{Timeout: cfg.BrokerRequestTimeout})
	authTokens := services.NewAuthTokenService(locks, client, cfg.PessimisticTries)
	client.UseTokenSource(authTokens)

	accounts := services.NewAccountService(locks, client, cfg.PessimisticTries)
	portfolios := services.NewPortfolioService(db, client, cfg.StatusFallbackMaxAge)
	orders := services.NewOrderService()
	rebalance := services.NewRebalanceService(db, client, portfolios,
		services.NewFundService(client), orders, services.NewRebalanceHelper(portfolios))
	executions := services.NewExecutionService(locks, cfg.OptimisticTries, cfg.ExecutionStaleAfter)
	corporateActions := services.NewCorporateActionService(locks, portfolios, orders, cfg.OptimisticTries)

	return &App{
		Config:           cfg,
		Database:         dbManager,
		Locks:            locks,
		Broker:           client,
		AuthTokens:       authTokens,
		Accounts:         accounts,
		Portfolios:       portfolios,
		Rebalance:        rebalance,
		Executions:       executions,
		CorporateActions: corporateActions,
		Webhooks:         services.NewWebhookService(accounts, portfolios, executions, corporateActions),
		DeliveryLog:      services.NewDeliveryLogService(db),
		Jobs:             jobs.NewRegistry(rebalance, executions, corporateActions),
	}, nil
}

// Close releases the database pool.
func (a *App) Close() error {
	return a.Database.Close()
}
