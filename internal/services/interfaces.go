package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/gainy-app/gainy-compute-sub000/internal/broker"
	"github.com/gainy-app/gainy-compute-sub000/internal/models"
)

// BrokerAPI is the subset of the broker client the services call.
type BrokerAPI interface {
	Authenticate(ctx context.Context) (*broker.AuthToken, error)
	GetAccount(ctx context.Context, accountRef string) (*broker.Account, error)
	GetPortfolio(ctx context.Context, portfolioRef string) (*broker.Portfolio, error)
	GetPortfolioStatus(ctx context.Context, portfolioRef string) (*models.PortfolioStatus, error)
	UpdatePortfolio(ctx context.Context, portfolioRef string, cash decimal.Decimal, funds map[string]decimal.Decimal) (*broker.Portfolio, error)
	CreateFund(ctx context.Context, name, description string, weights map[string]decimal.Decimal) (*broker.Fund, error)
	UpdateFund(ctx context.Context, fundRef string, weights map[string]decimal.Decimal) (*broker.Fund, error)
	CreateForcedRebalance(ctx context.Context, accountRefs []string) (*broker.RebalanceRun, error)
}

// AuthTokenServicer hands out the shared broker bearer token.
type AuthTokenServicer interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (*models.BrokerAuthToken, error)
}

// AccountServicer keeps local broker accounts in step with the broker.
type AccountServicer interface {
	GetAccountByRef(ctx context.Context, accountRef string) (*models.BrokerAccount, error)
	SyncAccount(ctx context.Context, accountRef string, status *models.BrokerAccountStatus) (*models.BrokerAccount, error)
}

// PortfolioServicer syncs portfolios with the broker.
type PortfolioServicer interface {
	GetPortfolioByRef(ctx context.Context, portfolioRef string) (*models.Portfolio, error)
	SyncStatus(ctx context.Context, tx *gorm.DB, portfolio *models.Portfolio) (*models.PortfolioStatus, error)
	LatestStatus(ctx context.Context, db *gorm.DB, portfolioID int64) (*models.PortfolioStatus, error)
	ImportTargetWeights(ctx context.Context, portfolio *models.Portfolio) error
	PushTargetWeights(ctx context.Context, portfolio *models.Portfolio) error
	Claim(ctx context.Context, tx *gorm.DB, portfolio *models.Portfolio) error
	Save(ctx context.Context, tx *gorm.DB, portfolio *models.Portfolio) error
	Refresh(ctx context.Context, portfolio *models.Portfolio) error
}

// FundServicer manages the funds a portfolio allocates to.
type FundServicer interface {
	EnsureFund(ctx context.Context, tx *gorm.DB, portfolio *models.Portfolio, collectionID *int64, symbol *string) (*models.Fund, error)
	ListFunds(ctx context.Context, db *gorm.DB, portfolioID int64) ([]models.Fund, error)
}

// OrderServicer places and lists trading orders.
type OrderServicer interface {
	CreateOrder(ctx context.Context, tx *gorm.DB, order *models.TradingOrder) (*models.TradingOrder, error)
	ListOrders(ctx context.Context, db *gorm.DB, profileID int64, status models.TradingOrderStatus) ([]models.TradingOrder, error)
	MarkPendingExecution(ctx context.Context, tx *gorm.DB, order *models.TradingOrder, since time.Time) error
}

// RebalanceServicer runs the rebalance cycle.
type RebalanceServicer interface {
	RebalancePortfolios(ctx context.Context) (*RunResult, error)
	RebalancePortfolio(ctx context.Context, portfolio *models.Portfolio) error
}

// ExecutionServicer reconciles executed amounts against broker cash flows.
type ExecutionServicer interface {
	ReconcileAll(ctx context.Context) (*RunResult, error)
	ReconcileProfile(ctx context.Context, profileID int64) ([]models.TradingOrder, error)
}

// CorporateActionServicer turns broker corporate actions into orders.
type CorporateActionServicer interface {
	IngestTransactions(ctx context.Context, txs []models.BrokerTransaction) (int64, error)
	ProcessAll(ctx context.Context) (*RunResult, error)
	ProcessPortfolio(ctx context.Context, portfolio *models.Portfolio) ([]models.CorporateActionAdjustment, error)
}

// WebhookServicer dispatches inbound broker events.
type WebhookServicer interface {
	HandleEvent(ctx context.Context, event *WebhookEvent) error
}

// DeliveryLogServicer keeps a best-effort record of webhook deliveries.
type DeliveryLogServicer interface {
	Record(event *WebhookEvent, requestID, ipAddress string, handleErr error)
}
