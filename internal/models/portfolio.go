package models

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/gainy-app/gainy-compute-sub000/internal/errors"
	"github.com/gainy-app/gainy-compute-sub000/internal/locking"
)

// Weight tolerances.
var (
	// Precision is the tolerance used for weight bounds and weight sums.
	Precision = decimal.New(1, -3)
	// WeightDropThreshold is the smallest weight kept after normalization.
	WeightDropThreshold = decimal.New(1, -4)
)

// weightPlaces is the number of decimal places weights are rounded to.
const weightPlaces = 4

// Portfolio holds the target allocation of one broker account between cash and funds.
// TargetWeights is keyed by the broker fund ref.
type Portfolio struct {
	Base
	Versioning
	ProfileID             int64                      `gorm:"not null;index" json:"profile_id"`
	BrokerAccountID       int64                      `gorm:"not null;index" json:"broker_account_id"`
	RefID                 string                     `gorm:"not null;uniqueIndex" json:"ref_id"`
	CashTargetWeight      decimal.Decimal            `gorm:"type:numeric;not null" json:"cash_target_weight"`
	TargetWeights         map[string]decimal.Decimal `gorm:"type:jsonb;serializer:json" json:"target_weights"`
	WaitingRebalanceSince *time.Time                 `json:"waiting_rebalance_since,omitempty"`
	LastRebalanceAt       *time.Time                 `json:"last_rebalance_at,omitempty"`
	LastSyncAt            *time.Time                 `json:"last_sync_at,omitempty"`
}

// ResourceKey implements locking.Versioned.
func (p *Portfolio) ResourceKey() locking.ResourceKey {
	return locking.ResourceKey{Kind: locking.KindPortfolio, ID: p.ID}
}

// FundWeight returns the target weight of the fund, zero if absent.
func (p *Portfolio) FundWeight(fundRef string) decimal.Decimal {
	return p.TargetWeights[fundRef]
}

// TotalWeight returns cash plus every fund weight.
func (p *Portfolio) TotalWeight() decimal.Decimal {
	total := p.CashTargetWeight
	for _, w := range p.TargetWeights {
		total = total.Add(w)
	}
	return total
}

// NormalizeWeights rounds every weight to four decimal places, drops weights
// below WeightDropThreshold and rescales the rest so that cash plus funds sum
// to exactly one. The rounding residual goes to cash; if that would make cash
// negative it is taken from the largest fund instead.
func (p *Portfolio) NormalizeWeights() {
	weights := make(map[string]decimal.Decimal, len(p.TargetWeights))
	for ref, w := range p.TargetWeights {
		w = w.Round(weightPlaces)
		if w.LessThan(WeightDropThreshold) {
			continue
		}
		weights[ref] = w
	}
	cash := p.CashTargetWeight.Round(weightPlaces)
	if cash.LessThan(WeightDropThreshold) {
		cash = decimal.Zero
	}

	total := cash
	for _, w := range weights {
		total = total.Add(w)
	}
	if total.IsZero() {
		p.CashTargetWeight = decimal.NewFromInt(1)
		p.TargetWeights = map[string]decimal.Decimal{}
		return
	}

	if !total.Equal(decimal.NewFromInt(1)) {
		for ref, w := range weights {
			w = w.Div(total).Round(weightPlaces)
			if w.LessThan(WeightDropThreshold) {
				delete(weights, ref)
				continue
			}
			weights[ref] = w
		}
		cash = cash.Div(total).Round(weightPlaces)
	}

	sum := cash
	for _, w := range weights {
		sum = sum.Add(w)
	}
	cash = cash.Add(decimal.NewFromInt(1).Sub(sum))

	if cash.IsNegative() {
		if ref, ok := largestWeight(weights); ok {
			weights[ref] = weights[ref].Add(cash)
		}
		cash = decimal.Zero
	}

	p.CashTargetWeight = cash
	p.TargetWeights = weights
}

// largestWeight returns the key of the largest weight; ties break on key order.
func largestWeight(weights map[string]decimal.Decimal) (string, bool) {
	keys := make([]string, 0, len(weights))
	for k := range weights {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var best string
	found := false
	for _, k := range keys {
		if !found || weights[k].GreaterThan(weights[best]) {
			best = k
			found = true
		}
	}
	return best, found
}

// MoveCashToFund moves weightDelta from cash to the fund (negative moves it
// back to cash). Each side is clamped to [0, 1] when it overshoots by no more
// than Precision; larger overshoots return ErrWeightOutOfBounds and leave the
// portfolio unchanged. On success the weights are normalized and the
// portfolio is marked pending rebalance.
func (p *Portfolio) MoveCashToFund(fundRef string, weightDelta decimal.Decimal, now time.Time) error {
	cash, err := clampWeight(p.CashTargetWeight.Sub(weightDelta))
	if err != nil {
		return apperrors.Wrap(apperrors.ErrWeightOutOfBounds, fmt.Errorf("cash weight: %w", err))
	}
	fund, err := clampWeight(p.FundWeight(fundRef).Add(weightDelta))
	if err != nil {
		return apperrors.Wrap(apperrors.ErrWeightOutOfBounds, fmt.Errorf("fund %s weight: %w", fundRef, err))
	}

	if p.TargetWeights == nil {
		p.TargetWeights = map[string]decimal.Decimal{}
	}
	p.CashTargetWeight = cash
	p.TargetWeights[fundRef] = fund
	p.NormalizeWeights()
	p.SetPendingRebalance(now)
	return nil
}

func clampWeight(w decimal.Decimal) (decimal.Decimal, error) {
	one := decimal.NewFromInt(1)
	if w.LessThan(Precision.Neg()) || w.GreaterThan(one.Add(Precision)) {
		return w, fmt.Errorf("%s is outside [0, 1]", w)
	}
	if w.IsNegative() {
		return decimal.Zero, nil
	}
	if w.GreaterThan(one) {
		return one, nil
	}
	return w, nil
}

// SetTargetWeightsFromStatusActualWeights replaces every target weight with
// the broker's actual weight.
func (p *Portfolio) SetTargetWeightsFromStatusActualWeights(status *PortfolioStatus) {
	weights := make(map[string]decimal.Decimal, len(status.Funds))
	for ref, fs := range status.Funds {
		weights[ref] = fs.ActualWeight
	}
	p.CashTargetWeight = status.CashActualWeight
	p.TargetWeights = weights
	p.NormalizeWeights()
}

// SetPendingRebalance marks the target weights as not yet applied by the broker.
func (p *Portfolio) SetPendingRebalance(now time.Time) {
	t := now
	p.WaitingRebalanceSince = &t
}

// UpdateFromStatus records the broker's last rebalance time, never moving it backwards.
func (p *Portfolio) UpdateFromStatus(status *PortfolioStatus) {
	last := status.LastPortfolioRebalanceAt
	if last == nil {
		return
	}
	if p.LastRebalanceAt == nil || last.After(*p.LastRebalanceAt) {
		t := *last
		p.LastRebalanceAt = &t
	}
}

// IsPendingRebalance reports whether the target weights were changed after
// the broker's last confirmed rebalance.
func (p *Portfolio) IsPendingRebalance() bool {
	if p.WaitingRebalanceSince == nil {
		return false
	}
	if p.LastRebalanceAt == nil {
		return true
	}
	return p.WaitingRebalanceSince.After(*p.LastRebalanceAt)
}
