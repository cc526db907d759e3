package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gainy-app/gainy-compute-sub000/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// counter provides unique values across fixtures within a test run.
var counter atomic.Int64

func nextID() int64 {
	return counter.Add(1)
}

// Dec parses a decimal literal and panics on malformed input.
func Dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

// CreateTestBrokerAccount creates an OPEN broker account for a new profile.
func CreateTestBrokerAccount(t *testing.T, db *gorm.DB) *models.BrokerAccount {
	t.Helper()

	n := nextID()
	account := &models.BrokerAccount{
		ProfileID: n,
		RefID:     fmt.Sprintf("acc_%d", n),
		RefNo:     fmt.Sprintf("GYEK%06d", n),
		Status:    models.BrokerAccountStatusOpen,
	}
	account.Version = 1
	if err := db.Create(account).Error; err != nil {
		t.Fatalf("failed to create test broker account: %v", err)
	}
	return account
}

// CreateTestPortfolio creates an all-cash portfolio for the account.
func CreateTestPortfolio(t *testing.T, db *gorm.DB, account *models.BrokerAccount) *models.Portfolio {
	t.Helper()

	portfolio := &models.Portfolio{
		ProfileID:        account.ProfileID,
		BrokerAccountID:  account.ID,
		RefID:            fmt.Sprintf("portfolio_%d", nextID()),
		CashTargetWeight: decimal.NewFromInt(1),
		TargetWeights:    map[string]decimal.Decimal{},
	}
	portfolio.Version = 1
	if err := db.Create(portfolio).Error; err != nil {
		t.Fatalf("failed to create test portfolio: %v", err)
	}
	return portfolio
}

// CreateTestCollection creates an enabled collection with the given weights.
func CreateTestCollection(t *testing.T, db *gorm.DB, weights map[string]string, updatedAt time.Time) *models.Collection {
	t.Helper()

	w := make(map[string]decimal.Decimal, len(weights))
	for symbol, weight := range weights {
		w[symbol] = Dec(weight)
	}
	n := nextID()
	collection := &models.Collection{
		ID:               n,
		Name:             fmt.Sprintf("Test Collection %d", n),
		Enabled:          true,
		Weights:          w,
		WeightsUpdatedAt: &updatedAt,
	}
	if err := db.Create(collection).Error; err != nil {
		t.Fatalf("failed to create test collection: %v", err)
	}
	return collection
}

// DisableTestCollection marks a collection as disabled.
func DisableTestCollection(t *testing.T, db *gorm.DB, collection *models.Collection) {
	t.Helper()

	if err := db.Model(collection).Update("enabled", false).Error; err != nil {
		t.Fatalf("failed to disable test collection: %v", err)
	}
	collection.Enabled = false
}

// CreateTestTicker creates a ticker.
func CreateTestTicker(t *testing.T, db *gorm.DB, symbol string, tradeable bool) *models.Ticker {
	t.Helper()

	ticker := &models.Ticker{Symbol: symbol, Name: symbol + " Inc.", Tradeable: true}
	if err := db.Create(ticker).Error; err != nil {
		t.Fatalf("failed to create test ticker: %v", err)
	}
	// false is a zero value, so Create would have used the column default.
	if !tradeable {
		if err := db.Model(ticker).Update("tradeable", false).Error; err != nil {
			t.Fatalf("failed to mark test ticker untradeable: %v", err)
		}
		ticker.Tradeable = false
	}
	return ticker
}

// CreateTestFund creates a broker-registered fund for a collection or a ticker.
func CreateTestFund(t *testing.T, db *gorm.DB, portfolio *models.Portfolio, collectionID *int64, symbol *string) *models.Fund {
	t.Helper()

	now := time.Now().UTC()
	fund := &models.Fund{
		ProfileID:        portfolio.ProfileID,
		PortfolioID:      portfolio.ID,
		CollectionID:     collectionID,
		Symbol:           symbol,
		RefID:            Ptr(fmt.Sprintf("fund_%d", nextID())),
		Weights:          map[string]decimal.Decimal{},
		WeightsUpdatedAt: &now,
	}
	if symbol != nil {
		fund.Weights[*symbol] = decimal.NewFromInt(1)
	}
	fund.Version = 1
	if err := db.Create(fund).Error; err != nil {
		t.Fatalf("failed to create test fund: %v", err)
	}
	return fund
}

// CreateTestOrder creates a trading order with an absolute amount.
func CreateTestOrder(t *testing.T, db *gorm.DB, profileID int64, collectionID *int64, symbol *string, amount string, status models.TradingOrderStatus) *models.TradingOrder {
	t.Helper()

	order := &models.TradingOrder{
		ProfileID:         profileID,
		CollectionID:      collectionID,
		Symbol:            symbol,
		TargetAmountDelta: Dec(amount),
		Status:            status,
		Source:            models.TradingOrderSourceManual,
	}
	if err := db.Create(order).Error; err != nil {
		t.Fatalf("failed to create test trading order: %v", err)
	}
	return order
}

// CreateTestCashFlow records a broker cash flow for a collection or ticker.
func CreateTestCashFlow(t *testing.T, db *gorm.DB, profileID int64, collectionID *int64, symbol *string, amount string) *models.BrokerCashFlow {
	t.Helper()

	flow := &models.BrokerCashFlow{
		ProfileID:    profileID,
		CollectionID: collectionID,
		Symbol:       symbol,
		Amount:       Dec(amount),
		OccurredAt:   time.Now().UTC(),
	}
	if err := db.Create(flow).Error; err != nil {
		t.Fatalf("failed to create test cash flow: %v", err)
	}
	return flow
}
