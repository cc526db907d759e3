package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	apperrors "github.com/gainy-app/gainy-compute-sub000/internal/errors"
	"github.com/gainy-app/gainy-compute-sub000/internal/logger"
	"github.com/gainy-app/gainy-compute-sub000/internal/models"
)

// rebalanceService applies pending orders to portfolio target weights and
// pushes the result to the broker.
//
// Portfolios are not locked while a cycle runs. Each cycle reloads its
// portfolio and claims that version before talking to the broker, so a cycle
// that lost a race with another writer fails with CONCURRENT_UPDATE without
// creating funds or pushing weights. The scheduler is expected to run a
// single instance.
type rebalanceService struct {
	db         *gorm.DB
	broker     BrokerAPI
	portfolios PortfolioServicer
	funds      FundServicer
	orders     OrderServicer
	helper     *RebalanceHelper
	now        func() time.Time
}

// NewRebalanceService creates a new RebalanceServicer.
func NewRebalanceService(db *gorm.DB, broker BrokerAPI, portfolios PortfolioServicer, funds FundServicer, orders OrderServicer, helper *RebalanceHelper) RebalanceServicer {
	return &rebalanceService{
		db:         db,
		broker:     broker,
		portfolios: portfolios,
		funds:      funds,
		orders:     orders,
		helper:     helper,
		now:        time.Now,
	}
}

// RebalancePortfolios runs one cycle for every portfolio. A failing portfolio
// is rolled back and recorded; the batch continues.
func (s *rebalanceService) RebalancePortfolios(ctx context.Context) (*RunResult, error) {
	start := time.Now()
	result := newRunResult("rebalance")

	var portfolios []models.Portfolio
	if err := s.db.WithContext(ctx).Order("id").Find(&portfolios).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	for i := range portfolios {
		if err := ctx.Err(); err != nil {
			result.Duration = time.Since(start)
			return result, err
		}
		p := &portfolios[i]

		err := s.RebalancePortfolio(ctx, p)
		switch {
		case errors.Is(err, apperrors.ErrAccountNotOpen):
			result.Skipped++
		case err != nil:
			logger.Get().Errorw("Failed to rebalance portfolio",
				"portfolio_id", p.ID,
				"profile_id", p.ProfileID,
				"error", err,
			)
			result.fail(p.ID, err)
		default:
			result.Processed++
		}
	}

	result.Duration = time.Since(start)
	logger.Get().Infow("Rebalance run finished",
		"processed", result.Processed,
		"skipped", result.Skipped,
		"failed", result.Failed,
		"duration", result.Duration,
	)
	return result, nil
}

// RebalancePortfolio runs one cycle for one portfolio in its own transaction.
// The portfolio is reloaded first and updated in place.
// It returns ErrAccountNotOpen, after saving the synced status, when the
// brokerage account cannot trade.
func (s *rebalanceService) RebalancePortfolio(ctx context.Context, portfolio *models.Portfolio) error {
	skipped := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		skipped, err = s.rebalance(ctx, tx, portfolio)
		return err
	})
	if err != nil {
		return err
	}
	if skipped {
		return apperrors.ErrAccountNotOpen
	}
	return nil
}

func (s *rebalanceService) rebalance(ctx context.Context, tx *gorm.DB, p *models.Portfolio) (bool, error) {
	var current models.Portfolio
	if err := tx.First(&current, p.ID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, apperrors.ErrPortfolioNotFound
		}
		return false, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	*p = current
	if err := s.portfolios.Claim(ctx, tx, p); err != nil {
		return false, err
	}

	log := logger.Get().With("portfolio_id", p.ID, "profile_id", p.ProfileID)

	var account models.BrokerAccount
	if err := tx.First(&account, p.BrokerAccountID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, apperrors.ErrAccountNotFound
		}
		return false, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	if p.LastSyncAt == nil {
		if err := s.portfolios.ImportTargetWeights(ctx, p); err != nil {
			return false, err
		}
	}
	if _, err := s.portfolios.SyncStatus(ctx, tx, p); err != nil {
		return false, err
	}
	if !account.IsOpen() {
		log.Infow("Skipping portfolio, brokerage account is not open", "account_status", account.Status)
		return true, s.portfolios.Save(ctx, tx, p)
	}

	now := s.now().UTC()
	var touched []*models.TradingOrder

	pending, err := s.orders.ListOrders(ctx, tx, p.ProfileID, models.TradingOrderStatusPending)
	if err != nil {
		return false, err
	}
	for i := range pending {
		order := &pending[i]
		applied, err := s.applyOrder(ctx, tx, p, order, now)
		if err != nil {
			return false, err
		}
		if applied {
			touched = append(touched, order)
		}
	}

	liquidated, err := s.liquidateStaleFunds(ctx, tx, p, now)
	if err != nil {
		return false, err
	}
	touched = append(touched, liquidated...)

	p.NormalizeWeights()
	if err := s.portfolios.PushTargetWeights(ctx, p); err != nil {
		return false, err
	}

	if _, err := s.portfolios.SyncStatus(ctx, tx, p); err != nil {
		return false, err
	}
	if p.IsPendingRebalance() {
		run, err := s.broker.CreateForcedRebalance(ctx, []string{account.RefID})
		if err != nil {
			return false, fmt.Errorf("forcing rebalance of account %s: %w", account.RefID, err)
		}
		if !run.CreatedAt.IsZero() {
			for _, order := range touched {
				if err := s.orders.MarkPendingExecution(ctx, tx, order, run.CreatedAt); err != nil {
					return false, err
				}
			}
		}
		log.Infow("Forced broker rebalance", "rebalance_ref", run.RefID, "orders", len(touched))
	}

	if err := s.portfolios.Save(ctx, tx, p); err != nil {
		return false, err
	}
	log.Infow("Portfolio rebalanced",
		"orders_applied", len(touched),
		"cash_target_weight", p.CashTargetWeight,
	)
	return false, nil
}

// applyOrder applies one PENDING order. Orders that cannot be funded stay
// PENDING; orders for unknown collections are failed.
func (s *rebalanceService) applyOrder(ctx context.Context, tx *gorm.DB, p *models.Portfolio, order *models.TradingOrder, now time.Time) (bool, error) {
	fund, err := s.funds.EnsureFund(ctx, tx, p, order.CollectionID, order.Symbol)
	if errors.Is(err, apperrors.ErrNotFound) || errors.Is(err, apperrors.ErrInvalidInput) {
		return false, s.failOrder(ctx, tx, order, err)
	}
	if err != nil {
		return false, err
	}

	err = s.helper.HandleOrder(ctx, tx, p, fund, order)
	if errors.Is(err, apperrors.ErrInsufficientFunds) {
		logger.Get().Infow("Order left pending",
			"order_id", order.ID,
			"portfolio_id", p.ID,
			"reason", err,
		)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := s.orders.MarkPendingExecution(ctx, tx, order, now); err != nil {
		return false, err
	}
	return true, nil
}

func (s *rebalanceService) failOrder(ctx context.Context, tx *gorm.DB, order *models.TradingOrder, cause error) error {
	logger.Get().Warnw("Failing trading order", "order_id", order.ID, "error", cause)
	order.Status = models.TradingOrderStatusFailed
	order.Note = cause.Error()
	if err := tx.WithContext(ctx).Model(order).Select("status", "note").Updates(order).Error; err != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return nil
}

// liquidateStaleFunds sells out of funds whose collection was re-optimized
// after the fund was last synced, or whose ticker stopped trading.
func (s *rebalanceService) liquidateStaleFunds(ctx context.Context, tx *gorm.DB, p *models.Portfolio, now time.Time) ([]*models.TradingOrder, error) {
	funds, err := s.funds.ListFunds(ctx, tx, p.ID)
	if err != nil {
		return nil, err
	}

	var touched []*models.TradingOrder
	for i := range funds {
		fund := &funds[i]
		if !p.FundWeight(fund.Ref()).IsPositive() {
			continue
		}
		reason, err := liquidationReason(tx, fund)
		if err != nil {
			return nil, err
		}
		if reason == "" {
			continue
		}

		order, err := s.orders.CreateOrder(ctx, tx, &models.TradingOrder{
			ProfileID:                 p.ProfileID,
			CollectionID:              fund.CollectionID,
			Symbol:                    fund.Symbol,
			TargetAmountDeltaRelative: decimal.NewNullDecimal(one.Neg()),
			Source:                    models.TradingOrderSourceLiquidation,
			Note:                      reason,
		})
		if err != nil {
			return nil, err
		}

		err = s.helper.HandleOrder(ctx, tx, p, fund, order)
		if errors.Is(err, apperrors.ErrInsufficientFunds) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if err := s.orders.MarkPendingExecution(ctx, tx, order, now); err != nil {
			return nil, err
		}
		logger.Get().Infow("Liquidating fund",
			"portfolio_id", p.ID,
			"fund_ref", fund.Ref(),
			"reason", reason,
			"amount", order.TargetAmountDelta,
		)
		touched = append(touched, order)
	}
	return touched, nil
}

func liquidationReason(tx *gorm.DB, fund *models.Fund) (string, error) {
	if fund.CollectionID != nil {
		var collection models.Collection
		err := tx.First(&collection, *fund.CollectionID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "collection removed", nil
		}
		if err != nil {
			return "", apperrors.Wrap(apperrors.ErrInternalServer, err)
		}
		if !collection.Enabled {
			return "collection disabled", nil
		}
		if collection.WeightsUpdatedAt != nil &&
			(fund.WeightsUpdatedAt == nil || collection.WeightsUpdatedAt.After(*fund.WeightsUpdatedAt)) {
			return "collection re-optimized", nil
		}
		return "", nil
	}

	if fund.Symbol != nil {
		var ticker models.Ticker
		err := tx.Where("symbol = ?", *fund.Symbol).First(&ticker).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "ticker removed", nil
		}
		if err != nil {
			return "", apperrors.Wrap(apperrors.ErrInternalServer, err)
		}
		if !ticker.Tradeable {
			return "ticker not tradeable", nil
		}
	}
	return "", nil
}
