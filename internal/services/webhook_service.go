package services

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	apperrors "github.com/gainy-app/gainy-compute-sub000/internal/errors"
	"github.com/gainy-app/gainy-compute-sub000/internal/logger"
	"github.com/gainy-app/gainy-compute-sub000/internal/models"
)

// Webhook event types sent by the broker.
const (
	WebhookAccountUpdated      = "account.updated"
	WebhookTransactionCreated  = "transaction.created"
	WebhookPortfolioRebalanced = "portfolio.rebalanced"
)

// WebhookEvent is an inbound broker event.
type WebhookEvent struct {
	ID           string
	Type         string
	AccountRef   string
	PortfolioRef string
	Status       *models.BrokerAccountStatus
	Transactions []WebhookTransaction
}

// WebhookTransaction is a ledger transaction carried by a transaction.created event.
type WebhookTransaction struct {
	RefID         string
	Type          models.BrokerTransactionType
	Symbol        string
	FromSymbol    *string
	ToSymbol      *string
	Amount        decimal.Decimal
	PositionDelta decimal.Decimal
	OccurredAt    time.Time
}

// webhookService dispatches broker events to the owning services.
type webhookService struct {
	accounts         AccountServicer
	portfolios       PortfolioServicer
	executions       ExecutionServicer
	corporateActions CorporateActionServicer
}

// NewWebhookService creates a new WebhookServicer.
func NewWebhookService(accounts AccountServicer, portfolios PortfolioServicer, executions ExecutionServicer, corporateActions CorporateActionServicer) WebhookServicer {
	return &webhookService{
		accounts:         accounts,
		portfolios:       portfolios,
		executions:       executions,
		corporateActions: corporateActions,
	}
}

// HandleEvent applies one broker event. Redelivered events are harmless:
// account syncs overwrite, transactions are deduplicated by ref and
// reconciliation is recomputed from scratch.
func (s *webhookService) HandleEvent(ctx context.Context, event *WebhookEvent) error {
	log := logger.Get().With("event_id", event.ID, "event_type", event.Type)

	switch event.Type {
	case WebhookAccountUpdated:
		if event.AccountRef == "" {
			return apperrors.WithMessage(apperrors.ErrInvalidWebhook, "account.updated needs an account id")
		}
		account, err := s.accounts.SyncAccount(ctx, event.AccountRef, event.Status)
		if err != nil {
			return err
		}
		log.Infow("Account synced from webhook", "account_ref", account.RefID, "status", account.Status)
		return nil

	case WebhookTransactionCreated:
		return s.ingestTransactions(ctx, log, event)

	case WebhookPortfolioRebalanced:
		return s.portfolioRebalanced(ctx, log, event)
	}

	return apperrors.WithMessage(apperrors.ErrInvalidWebhook, fmt.Sprintf("Unsupported event type %q", event.Type))
}

func (s *webhookService) ingestTransactions(ctx context.Context, log *zap.SugaredLogger, event *WebhookEvent) error {
	if event.AccountRef == "" {
		return apperrors.WithMessage(apperrors.ErrInvalidWebhook, "transaction.created needs an account id")
	}
	account, err := s.accounts.GetAccountByRef(ctx, event.AccountRef)
	if err != nil {
		return err
	}

	txs := make([]models.BrokerTransaction, 0, len(event.Transactions))
	for _, t := range event.Transactions {
		txs = append(txs, models.BrokerTransaction{
			RefID:           t.RefID,
			BrokerAccountID: account.ID,
			Type:            t.Type,
			Symbol:          t.Symbol,
			FromSymbol:      t.FromSymbol,
			ToSymbol:        t.ToSymbol,
			Amount:          t.Amount,
			PositionDelta:   t.PositionDelta,
			OccurredAt:      t.OccurredAt.UTC(),
		})
	}

	inserted, err := s.corporateActions.IngestTransactions(ctx, txs)
	if err != nil {
		return err
	}
	log.Infow("Broker transactions ingested",
		"account_ref", account.RefID,
		"received", len(txs),
		"inserted", inserted,
	)
	return nil
}

func (s *webhookService) portfolioRebalanced(ctx context.Context, log *zap.SugaredLogger, event *WebhookEvent) error {
	if event.PortfolioRef == "" {
		return apperrors.WithMessage(apperrors.ErrInvalidWebhook, "portfolio.rebalanced needs a portfolio id")
	}
	p, err := s.portfolios.GetPortfolioByRef(ctx, event.PortfolioRef)
	if err != nil {
		return err
	}

	if err := s.portfolios.Refresh(ctx, p); err != nil {
		return err
	}

	updated, err := s.executions.ReconcileProfile(ctx, p.ProfileID)
	if err != nil {
		return err
	}
	log.Infow("Portfolio rebalance confirmed",
		"portfolio_id", p.ID,
		"last_rebalance_at", p.LastRebalanceAt,
		"orders_updated", len(updated),
	)
	return nil
}
