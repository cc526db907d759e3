package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BrokerTransactionType is the broker's classification of a ledger transaction.
type BrokerTransactionType string

const (
	BrokerTransactionDividend          BrokerTransactionType = "DIV"
	BrokerTransactionDividendTax       BrokerTransactionType = "DIVTAX"
	BrokerTransactionDividendNRA       BrokerTransactionType = "DIVNRA"
	BrokerTransactionSpinoff           BrokerTransactionType = "SPINOFF"
	BrokerTransactionMergerAcquisition BrokerTransactionType = "MERGER_ACQUISITION"
	BrokerTransactionCashTransfer      BrokerTransactionType = "CSD"
	BrokerTransactionCashWithdrawal    BrokerTransactionType = "CSW"
	BrokerTransactionFill              BrokerTransactionType = "FILL"
)

// IsDividend reports whether the transaction is a dividend or dividend tax.
func (t BrokerTransactionType) IsDividend() bool {
	switch t {
	case BrokerTransactionDividend, BrokerTransactionDividendTax, BrokerTransactionDividendNRA:
		return true
	}
	return false
}

// IsSpinoff reports whether the transaction moves value between two symbols.
func (t BrokerTransactionType) IsSpinoff() bool {
	return t == BrokerTransactionSpinoff || t == BrokerTransactionMergerAcquisition
}

// BrokerTransaction is a ledger transaction reported by the broker.
type BrokerTransaction struct {
	Base
	RefID           string                `gorm:"not null;uniqueIndex" json:"ref_id"`
	BrokerAccountID int64                 `gorm:"not null;index" json:"broker_account_id"`
	Type            BrokerTransactionType `gorm:"not null;index" json:"type"`
	Symbol          string                `json:"symbol"`
	FromSymbol      *string               `json:"from_symbol,omitempty"`
	ToSymbol        *string               `json:"to_symbol,omitempty"`
	Amount          decimal.Decimal       `gorm:"type:numeric;not null;default:0" json:"amount"`
	PositionDelta   decimal.Decimal       `gorm:"type:numeric;not null;default:0" json:"position_delta"`
	OccurredAt      time.Time             `gorm:"not null" json:"occurred_at"`
}

// CorporateActionAdjustment is the share of a corporate action attributed to
// one fund and symbol. It is turned into a synthetic trading order.
type CorporateActionAdjustment struct {
	Base
	ProfileID      int64           `gorm:"not null;index" json:"profile_id"`
	FundID         int64           `gorm:"not null;index" json:"fund_id"`
	CollectionID   *int64          `json:"collection_id,omitempty"`
	Symbol         string          `gorm:"not null" json:"symbol"`
	Amount         decimal.Decimal `gorm:"type:numeric;not null" json:"amount"`
	TradingOrderID *int64          `gorm:"index" json:"trading_order_id,omitempty"`
}

// CorporateActionTransactionLink ties a broker transaction to an adjustment
// it contributed to. A transaction spread over several funds has one link per
// adjustment; any link marks the transaction as processed.
type CorporateActionTransactionLink struct {
	ID                          int64 `gorm:"primaryKey;autoIncrement" json:"id"`
	CorporateActionAdjustmentID int64 `gorm:"not null;uniqueIndex:idx_ca_link_adjustment_transaction" json:"corporate_action_adjustment_id"`
	BrokerTransactionID         int64 `gorm:"not null;uniqueIndex:idx_ca_link_adjustment_transaction;index" json:"broker_transaction_id"`
}
