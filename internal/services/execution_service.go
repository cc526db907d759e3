package services

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	apperrors "github.com/gainy-app/gainy-compute-sub000/internal/errors"
	"github.com/gainy-app/gainy-compute-sub000/internal/locking"
	"github.com/gainy-app/gainy-compute-sub000/internal/logger"
	"github.com/gainy-app/gainy-compute-sub000/internal/models"
)

// ExecutedAmountPrecision is the dollar residual below which an order counts
// as fully executed.
var ExecutedAmountPrecision = decimal.New(1, -2)

// executionService reconciles executed amounts of PENDING_EXECUTION orders
// with the cash flows the broker ledger reports.
type executionService struct {
	locks      *locking.Manager
	maxTries   int
	staleAfter time.Duration
	now        func() time.Time
}

// NewExecutionService creates a new ExecutionServicer. Orders are also marked
// executed once the broker confirms a rebalance newer than both the order and
// now minus staleAfter.
func NewExecutionService(locks *locking.Manager, maxTries int, staleAfter time.Duration) ExecutionServicer {
	return &executionService{locks: locks, maxTries: maxTries, staleAfter: staleAfter, now: time.Now}
}

// ReconcileAll reconciles every profile that has orders awaiting execution.
func (s *executionService) ReconcileAll(ctx context.Context) (*RunResult, error) {
	start := time.Now()
	result := newRunResult("reconcile")

	var profileIDs []int64
	if err := s.locks.DB().WithContext(ctx).Model(&models.TradingOrder{}).
		Where("status = ?", models.TradingOrderStatusPendingExecution).
		Distinct().Order("profile_id").
		Pluck("profile_id", &profileIDs).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	for _, profileID := range profileIDs {
		if err := ctx.Err(); err != nil {
			result.Duration = time.Since(start)
			return result, err
		}
		updated, err := s.ReconcileProfile(ctx, profileID)
		switch {
		case errors.Is(err, apperrors.ErrPortfolioNotFound):
			result.Skipped++
		case err != nil:
			logger.Get().Errorw("Failed to reconcile executed amounts",
				"profile_id", profileID,
				"error", err,
			)
			result.fail(profileID, err)
		default:
			result.Processed++
			logger.Get().Debugw("Reconciled profile", "profile_id", profileID, "orders_updated", len(updated))
		}
	}

	result.Duration = time.Since(start)
	logger.Get().Infow("Reconcile run finished",
		"processed", result.Processed,
		"skipped", result.Skipped,
		"failed", result.Failed,
		"duration", result.Duration,
	)
	return result, nil
}

// ReconcileProfile recomputes executed amounts for the profile's orders and
// commits the changed ones, anchored on the profile's portfolio version.
func (s *executionService) ReconcileProfile(ctx context.Context, profileID int64) ([]models.TradingOrder, error) {
	return locking.WithOptimisticLock(ctx, s.locks, locking.OptimisticTx[*models.Portfolio, []models.TradingOrder]{
		Load: func(_ context.Context, db *gorm.DB) (*models.Portfolio, error) {
			return portfolioByProfile(db, profileID)
		},
		Prepare: func(_ context.Context, db *gorm.DB, p *models.Portfolio) ([]models.TradingOrder, error) {
			return s.prepare(db, p)
		},
		Persist: func(_ context.Context, tx *gorm.DB, p *models.Portfolio) error {
			return updateVersion(tx, p)
		},
		Commit: func(_ context.Context, tx *gorm.DB, _ *models.Portfolio, orders []models.TradingOrder) error {
			for i := range orders {
				o := &orders[i]
				if err := tx.Model(o).
					Select("status", "executed_amount", "executed_at").
					Updates(o).Error; err != nil {
					return apperrors.Wrap(apperrors.ErrInternalServer, err)
				}
			}
			return nil
		},
	}, s.maxTries)
}

// prepare loads the profile's orders and cash flows and returns the orders
// whose executed amount or status changed.
func (s *executionService) prepare(db *gorm.DB, p *models.Portfolio) ([]models.TradingOrder, error) {
	var orders []models.TradingOrder
	if err := db.Where("profile_id = ? AND status IN ?", p.ProfileID, []models.TradingOrderStatus{
		models.TradingOrderStatusPendingExecution,
		models.TradingOrderStatusExecutedFully,
	}).Find(&orders).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	var flows []models.BrokerCashFlow
	if err := db.Where("profile_id = ?", p.ProfileID).Find(&flows).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	cashFlowSums := make(map[string]decimal.Decimal)
	for _, f := range flows {
		cashFlowSums[f.FundKey()] = cashFlowSums[f.FundKey()].Add(f.Amount)
	}

	executedSums := make(map[string]decimal.Decimal)
	pendingByKey := make(map[string][]*models.TradingOrder)
	for i := range orders {
		o := &orders[i]
		key := o.FundKey()
		if o.Status == models.TradingOrderStatusExecutedFully {
			executedSums[key] = executedSums[key].Add(o.ExecutedAmount)
			continue
		}
		pendingByKey[key] = append(pendingByKey[key], o)
	}

	now := s.now().UTC()
	var changed []models.TradingOrder
	for key, pending := range pendingByKey {
		before := snapshotOrders(pending)
		fillExecutedAmount(pending, executedSums[key], cashFlowSums[key], p, now, s.staleAfter)
		for _, o := range pending {
			prev := before[o.ID]
			if o.Status != prev.Status || !o.ExecutedAmount.Equal(prev.ExecutedAmount) {
				changed = append(changed, *o)
			}
		}
	}
	sort.Slice(changed, func(i, j int) bool { return changed[i].ID < changed[j].ID })
	return changed, nil
}

func snapshotOrders(orders []*models.TradingOrder) map[int64]models.TradingOrder {
	out := make(map[int64]models.TradingOrder, len(orders))
	for _, o := range orders {
		out[o.ID] = *o
	}
	return out
}

// fillExecutedAmount attributes the gap between what orders asked for and
// what the ledger shows to the most recent orders first. With
//
//	diff = executedSum + Σ pending targets - cashFlowSum
//
// each order takes the part of diff that fits within its own signed target as
// its unexecuted error and records target - error as executed. An order is
// executed fully when its error is below ExecutedAmountPrecision, or when the
// broker confirmed a rebalance after max(pending_execution_since, now -
// staleAfter) and the portfolio is not waiting for another one. Zero-delta
// orders only use the timestamp rule.
func fillExecutedAmount(pending []*models.TradingOrder, executedSum, cashFlowSum decimal.Decimal, p *models.Portfolio, now time.Time, staleAfter time.Duration) {
	sort.SliceStable(pending, func(i, j int) bool {
		ti, tj := orderRecency(pending[i]), orderRecency(pending[j])
		if ti.Equal(tj) {
			return pending[i].ID > pending[j].ID
		}
		return ti.After(tj)
	})

	diff := executedSum.Sub(cashFlowSum)
	for _, o := range pending {
		diff = diff.Add(o.TargetAmountDelta)
	}

	for _, o := range pending {
		target := o.TargetAmountDelta
		orderErr := clampToTarget(diff, target)
		diff = diff.Sub(orderErr)
		o.ExecutedAmount = target.Sub(orderErr)

		confirmed := rebalanceConfirmedAfter(p, o, now, staleAfter)
		var done bool
		if target.IsZero() {
			done = confirmed
		} else {
			done = orderErr.Abs().LessThan(ExecutedAmountPrecision) || confirmed
		}
		if done {
			o.Status = models.TradingOrderStatusExecutedFully
			executedAt := now
			o.ExecutedAt = &executedAt
		}
	}
}

// clampToTarget returns the part of diff that lies between zero and target.
func clampToTarget(diff, target decimal.Decimal) decimal.Decimal {
	lo, hi := decimal.Zero, target
	if target.IsNegative() {
		lo, hi = target, decimal.Zero
	}
	if diff.LessThan(lo) {
		return lo
	}
	if diff.GreaterThan(hi) {
		return hi
	}
	return diff
}

func rebalanceConfirmedAfter(p *models.Portfolio, o *models.TradingOrder, now time.Time, staleAfter time.Duration) bool {
	if p.LastRebalanceAt == nil || p.IsPendingRebalance() {
		return false
	}
	threshold := now.Add(-staleAfter)
	if o.PendingExecutionSince != nil && o.PendingExecutionSince.After(threshold) {
		threshold = *o.PendingExecutionSince
	}
	return p.LastRebalanceAt.After(threshold)
}

func orderRecency(o *models.TradingOrder) time.Time {
	if o.PendingExecutionSince != nil {
		return *o.PendingExecutionSince
	}
	return o.CreatedAt
}

func portfolioByProfile(db *gorm.DB, profileID int64) (*models.Portfolio, error) {
	var p models.Portfolio
	if err := db.Where("profile_id = ?", profileID).Order("id").First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrPortfolioNotFound
		}
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return &p, nil
}
