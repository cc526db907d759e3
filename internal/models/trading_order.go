package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradingOrderStatus represents the lifecycle state of a trading order.
type TradingOrderStatus string

const (
	TradingOrderStatusPending          TradingOrderStatus = "PENDING"
	TradingOrderStatusPendingExecution TradingOrderStatus = "PENDING_EXECUTION"
	TradingOrderStatusExecutedFully    TradingOrderStatus = "EXECUTED_FULLY"
	TradingOrderStatusCancelled        TradingOrderStatus = "CANCELLED"
	TradingOrderStatusFailed           TradingOrderStatus = "FAILED"
)

// TradingOrderSource records who created an order.
type TradingOrderSource string

const (
	TradingOrderSourceManual          TradingOrderSource = "MANUAL"
	TradingOrderSourceAutomatic       TradingOrderSource = "AUTOMATIC"
	TradingOrderSourceLiquidation     TradingOrderSource = "LIQUIDATION"
	TradingOrderSourceCorporateAction TradingOrderSource = "CORPORATE_ACTION"
)

// TradingOrder asks to move money into (positive) or out of (negative) one
// collection or ticker. TargetAmountDeltaRelative, when set, is a fraction of
// the fund's current value and takes precedence over TargetAmountDelta.
type TradingOrder struct {
	Base
	ProfileID                 int64               `gorm:"not null;index" json:"profile_id"`
	CollectionID              *int64              `gorm:"index" json:"collection_id,omitempty"`
	Symbol                    *string             `gorm:"index" json:"symbol,omitempty"`
	TargetAmountDelta         decimal.Decimal     `gorm:"type:numeric;not null;default:0" json:"target_amount_delta"`
	TargetAmountDeltaRelative decimal.NullDecimal `gorm:"type:numeric" json:"target_amount_delta_relative"`
	Status                    TradingOrderStatus  `gorm:"not null;index;default:'PENDING'" json:"status"`
	Source                    TradingOrderSource  `gorm:"not null;default:'MANUAL'" json:"source"`
	PendingExecutionSince     *time.Time          `json:"pending_execution_since,omitempty"`
	ExecutedAmount            decimal.Decimal     `gorm:"type:numeric;not null;default:0" json:"executed_amount"`
	ExecutedAt                *time.Time          `json:"executed_at,omitempty"`
	Note                      string              `json:"note,omitempty"`
}

// FundKey returns the key of the collection or ticker the order trades.
func (o *TradingOrder) FundKey() string {
	return FundKey(o.CollectionID, o.Symbol)
}

// IsRelative reports whether the order amount is a fraction of the fund value.
func (o *TradingOrder) IsRelative() bool {
	return o.TargetAmountDeltaRelative.Valid
}

// BrokerCashFlow is money the broker ledger confirms moved into or out of one
// collection or ticker for a profile.
type BrokerCashFlow struct {
	Base
	ProfileID    int64           `gorm:"not null;index" json:"profile_id"`
	CollectionID *int64          `gorm:"index" json:"collection_id,omitempty"`
	Symbol       *string         `gorm:"index" json:"symbol,omitempty"`
	Amount       decimal.Decimal `gorm:"type:numeric;not null" json:"amount"`
	OccurredAt   time.Time       `gorm:"not null" json:"occurred_at"`
}

// FundKey returns the key of the collection or ticker the cash flow belongs to.
func (c *BrokerCashFlow) FundKey() string {
	return FundKey(c.CollectionID, c.Symbol)
}
