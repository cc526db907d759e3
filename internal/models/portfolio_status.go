package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// HoldingStatus is one symbol position inside a fund as reported by the broker.
type HoldingStatus struct {
	Symbol       string          `json:"symbol"`
	ActualWeight decimal.Decimal `json:"actual_weight"`
	Value        decimal.Decimal `json:"value"`
	OpenQty      decimal.Decimal `json:"open_qty"`
}

// FundStatus is the broker's view of one fund inside a portfolio.
type FundStatus struct {
	ActualWeight decimal.Decimal `json:"actual_weight"`
	TargetWeight decimal.Decimal `json:"target_weight"`
	Value        decimal.Decimal `json:"value"`
	Holdings     []HoldingStatus `json:"holdings"`
}

// SymbolValue returns the value of symbol held inside the fund.
func (f FundStatus) SymbolValue(symbol string) decimal.Decimal {
	total := decimal.Zero
	for _, h := range f.Holdings {
		if h.Symbol == symbol {
			total = total.Add(h.Value)
		}
	}
	return total
}

// PortfolioStatus is an immutable snapshot of the broker's actual portfolio state.
// Funds is keyed by the broker fund ref.
type PortfolioStatus struct {
	ID                       int64                 `gorm:"primaryKey;autoIncrement" json:"id"`
	PortfolioID              int64                 `gorm:"not null;index" json:"portfolio_id"`
	EquityValue              decimal.Decimal       `gorm:"type:numeric;not null" json:"equity_value"`
	CashValue                decimal.Decimal       `gorm:"type:numeric;not null" json:"cash_value"`
	CashActualWeight         decimal.Decimal       `gorm:"type:numeric;not null" json:"cash_actual_weight"`
	Funds                    map[string]FundStatus `gorm:"type:jsonb;serializer:json" json:"funds"`
	LastPortfolioRebalanceAt *time.Time            `json:"last_portfolio_rebalance_at,omitempty"`
	NextPortfolioRebalanceAt *time.Time            `json:"next_portfolio_rebalance_at,omitempty"`
	Valid                    bool                  `gorm:"not null;default:false" json:"valid"`
	CreatedAt                time.Time             `gorm:"not null;index" json:"created_at"`
}

// Fund returns the status of one fund, zero-valued if the broker does not report it.
func (s *PortfolioStatus) Fund(fundRef string) FundStatus {
	return s.Funds[fundRef]
}

// TotalValue returns cash plus the value of every fund.
func (s *PortfolioStatus) TotalValue() decimal.Decimal {
	total := s.CashValue
	for _, f := range s.Funds {
		total = total.Add(f.Value)
	}
	return total
}

// Validate checks that every weight lies in [0, 1] and that weights of the
// portfolio and of each fund sum to at most one, all within Precision.
func (s *PortfolioStatus) Validate() error {
	if !weightInRange(s.CashActualWeight) {
		return fmt.Errorf("cash weight %s out of range", s.CashActualWeight)
	}
	one := decimal.NewFromInt(1)
	limit := one.Add(Precision)

	total := s.CashActualWeight
	for ref, f := range s.Funds {
		if !weightInRange(f.ActualWeight) {
			return fmt.Errorf("fund %s actual weight %s out of range", ref, f.ActualWeight)
		}
		if !weightInRange(f.TargetWeight) {
			return fmt.Errorf("fund %s target weight %s out of range", ref, f.TargetWeight)
		}
		total = total.Add(f.ActualWeight)

		holdings := decimal.Zero
		for _, h := range f.Holdings {
			if !weightInRange(h.ActualWeight) {
				return fmt.Errorf("fund %s holding %s weight %s out of range", ref, h.Symbol, h.ActualWeight)
			}
			holdings = holdings.Add(h.ActualWeight)
		}
		if holdings.GreaterThan(limit) {
			return fmt.Errorf("fund %s holding weights sum to %s", ref, holdings)
		}
	}
	if total.GreaterThan(limit) {
		return fmt.Errorf("portfolio weights sum to %s", total)
	}
	return nil
}

// IsValid reports whether Validate passes.
func (s *PortfolioStatus) IsValid() bool {
	return s.Validate() == nil
}

func weightInRange(w decimal.Decimal) bool {
	return !w.LessThan(Precision.Neg()) && !w.GreaterThan(decimal.NewFromInt(1).Add(Precision))
}
