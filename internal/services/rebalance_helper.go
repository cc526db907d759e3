package services

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	apperrors "github.com/gainy-app/gainy-compute-sub000/internal/errors"
	"github.com/gainy-app/gainy-compute-sub000/internal/models"
)

var one = decimal.NewFromInt(1)

// RebalanceHelper turns dollar amounts into target weight moves between cash
// and one fund.
type RebalanceHelper struct {
	portfolios PortfolioServicer
	now        func() time.Time
}

// NewRebalanceHelper creates a RebalanceHelper.
func NewRebalanceHelper(portfolios PortfolioServicer) *RebalanceHelper {
	return &RebalanceHelper{portfolios: portfolios, now: time.Now}
}

// allocationBasis is the cash and fund allocation an amount is measured against.
type allocationBasis struct {
	cashWeight decimal.Decimal
	cashValue  decimal.Decimal
	fundWeight decimal.Decimal
	fundValue  decimal.Decimal
}

// basis syncs the status and picks the allocation amounts are measured
// against. While a rebalance is in flight the broker actuals are stale, so
// the portfolio's own targets are valued at the current total instead.
func (h *RebalanceHelper) basis(ctx context.Context, tx *gorm.DB, portfolio *models.Portfolio, fund *models.Fund) (allocationBasis, error) {
	status, err := h.portfolios.SyncStatus(ctx, tx, portfolio)
	if err != nil {
		return allocationBasis{}, err
	}
	ref := fund.Ref()

	if portfolio.IsPendingRebalance() {
		total := status.TotalValue()
		b := allocationBasis{
			cashWeight: portfolio.CashTargetWeight,
			fundWeight: portfolio.FundWeight(ref),
		}
		b.cashValue = b.cashWeight.Mul(total)
		b.fundValue = b.fundWeight.Mul(total)
		return b, nil
	}

	portfolio.SetTargetWeightsFromStatusActualWeights(status)
	return allocationBasis{
		cashWeight: portfolio.CashTargetWeight,
		cashValue:  status.CashValue,
		fundWeight: portfolio.FundWeight(ref),
		fundValue:  status.Fund(ref).Value,
	}, nil
}

// ApplyAmount moves amount dollars from cash into the fund (negative amounts
// sell out of the fund). It fails with ErrInsufficientFunds when the source
// side does not hold the amount.
func (h *RebalanceHelper) ApplyAmount(ctx context.Context, tx *gorm.DB, portfolio *models.Portfolio, fund *models.Fund, amount decimal.Decimal) error {
	b, err := h.basis(ctx, tx, portfolio, fund)
	if err != nil {
		return err
	}
	return h.apply(portfolio, fund, b, amount)
}

// HandleOrder applies an order to the portfolio. A relative order is first
// resolved to dollars against the fund's value and the resolved amount is
// stored on the order.
func (h *RebalanceHelper) HandleOrder(ctx context.Context, tx *gorm.DB, portfolio *models.Portfolio, fund *models.Fund, order *models.TradingOrder) error {
	b, err := h.basis(ctx, tx, portfolio, fund)
	if err != nil {
		return err
	}

	amount := order.TargetAmountDelta
	if order.IsRelative() {
		amount = order.TargetAmountDeltaRelative.Decimal.Mul(b.fundValue)
		order.TargetAmountDelta = amount.Round(2)
	}
	return h.apply(portfolio, fund, b, amount)
}

func (h *RebalanceHelper) apply(portfolio *models.Portfolio, fund *models.Fund, b allocationBasis, amount decimal.Decimal) error {
	var weightDelta decimal.Decimal
	switch amount.Sign() {
	case 0:
		return nil
	case 1:
		if !b.cashValue.IsPositive() || amount.GreaterThan(b.cashValue.Add(models.Precision)) {
			return apperrors.Wrap(apperrors.ErrInsufficientFunds,
				fmt.Errorf("buying %s needs more than the %s available in cash", amount, b.cashValue))
		}
		weightDelta = amount.Div(b.cashValue).Mul(b.cashWeight)
	default:
		if !b.fundValue.IsPositive() || amount.Abs().GreaterThan(b.fundValue.Add(models.Precision)) {
			return apperrors.Wrap(apperrors.ErrInsufficientFunds,
				fmt.Errorf("selling %s needs more than the %s held in fund %s", amount.Abs(), b.fundValue, fund.Ref()))
		}
		weightDelta = amount.Div(b.fundValue).Mul(b.fundWeight)
	}
	return portfolio.MoveCashToFund(fund.Ref(), weightDelta, h.now().UTC())
}
