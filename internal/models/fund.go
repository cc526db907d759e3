package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gainy-app/gainy-compute-sub000/internal/locking"
)

// FundKey identifies the allocation unit shared by funds, orders and cash
// flows: a collection or a single ticker.
func FundKey(collectionID *int64, symbol *string) string {
	if collectionID != nil {
		return fmt.Sprintf("collection:%d", *collectionID)
	}
	if symbol != nil {
		return "ticker:" + *symbol
	}
	return ""
}

// Fund is one allocatable unit inside a portfolio. It represents exactly one
// collection or one ticker. RefID is empty until the fund exists at the broker.
type Fund struct {
	Base
	Versioning
	ProfileID        int64                      `gorm:"not null;index" json:"profile_id"`
	PortfolioID      int64                      `gorm:"not null;index" json:"portfolio_id"`
	CollectionID     *int64                     `gorm:"index" json:"collection_id,omitempty"`
	Symbol           *string                    `gorm:"index" json:"symbol,omitempty"`
	RefID            *string                    `gorm:"uniqueIndex" json:"ref_id,omitempty"`
	Weights          map[string]decimal.Decimal `gorm:"type:jsonb;serializer:json" json:"weights"`
	WeightsUpdatedAt *time.Time                 `json:"weights_updated_at,omitempty"`
}

// ResourceKey implements locking.Versioned.
func (f *Fund) ResourceKey() locking.ResourceKey {
	return locking.ResourceKey{Kind: locking.KindFund, ID: f.ID}
}

// Key returns the fund key of the collection or ticker the fund represents.
func (f *Fund) Key() string {
	return FundKey(f.CollectionID, f.Symbol)
}

// Ref returns the broker fund ref or an empty string.
func (f *Fund) Ref() string {
	if f.RefID == nil {
		return ""
	}
	return *f.RefID
}

// Collection is a weighted basket of tickers maintained by the optimizer.
type Collection struct {
	ID               int64                      `gorm:"primaryKey" json:"id"`
	Name             string                     `gorm:"not null" json:"name"`
	Enabled          bool                       `gorm:"not null;default:true" json:"enabled"`
	Weights          map[string]decimal.Decimal `gorm:"type:jsonb;serializer:json" json:"weights"`
	WeightsUpdatedAt *time.Time                 `json:"weights_updated_at,omitempty"`
}

// Ticker is a tradeable symbol.
type Ticker struct {
	Symbol    string `gorm:"primaryKey" json:"symbol"`
	Name      string `json:"name"`
	Tradeable bool   `gorm:"not null;default:true" json:"tradeable"`
}
