package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/gainy-app/gainy-compute-sub000/internal/broker"
	"github.com/gainy-app/gainy-compute-sub000/internal/locking"
	"github.com/gainy-app/gainy-compute-sub000/internal/models"
	"github.com/gainy-app/gainy-compute-sub000/internal/testutil"
)

type portfolioUpdate struct {
	ref   string
	cash  decimal.Decimal
	funds map[string]decimal.Decimal
}

// fakeBroker is an in-memory BrokerAPI recording every call.
type fakeBroker struct {
	mu sync.Mutex

	authCalls int
	authTTL   time.Duration
	authErr   error

	accountStatus models.BrokerAccountStatus
	portfolio     *broker.Portfolio
	status        *models.PortfolioStatus
	statusErr     error
	rebalanceAt   time.Time

	updates      []portfolioUpdate
	createdFunds []broker.Fund
	updatedFunds []string
	rebalances   [][]string
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		authTTL:       time.Hour,
		accountStatus: models.BrokerAccountStatusOpen,
		portfolio:     &broker.Portfolio{Cash: decimal.NewFromInt(1), Funds: map[string]decimal.Decimal{}},
		status:        statusWith("1000"),
		rebalanceAt:   time.Date(2026, 3, 2, 15, 30, 0, 0, time.UTC),
	}
}

func (f *fakeBroker) Authenticate(_ context.Context) (*broker.AuthToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.authErr != nil {
		return nil, f.authErr
	}
	f.authCalls++
	return &broker.AuthToken{
		Token:     fmt.Sprintf("token-%d", f.authCalls),
		ExpiresAt: time.Now().Add(f.authTTL).UTC(),
	}, nil
}

func (f *fakeBroker) GetAccount(_ context.Context, accountRef string) (*broker.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &broker.Account{RefID: accountRef, Status: f.accountStatus}, nil
}

func (f *fakeBroker) GetPortfolio(_ context.Context, portfolioRef string) (*broker.Portfolio, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := *f.portfolio
	p.RefID = portfolioRef
	return &p, nil
}

// GetPortfolioStatus returns a fresh copy of the configured status, the way
// every real call decodes a new snapshot.
func (f *fakeBroker) GetPortfolioStatus(_ context.Context, _ string) (*models.PortfolioStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	s := *f.status
	s.ID = 0
	return &s, nil
}

func (f *fakeBroker) UpdatePortfolio(_ context.Context, portfolioRef string, cash decimal.Decimal, funds map[string]decimal.Decimal) (*broker.Portfolio, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := make(map[string]decimal.Decimal, len(funds))
	for k, v := range funds {
		copied[k] = v
	}
	f.updates = append(f.updates, portfolioUpdate{ref: portfolioRef, cash: cash, funds: copied})
	return &broker.Portfolio{RefID: portfolioRef, Cash: cash, Funds: copied}, nil
}

func (f *fakeBroker) CreateFund(_ context.Context, name, _ string, weights map[string]decimal.Decimal) (*broker.Fund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fund := broker.Fund{RefID: fmt.Sprintf("bfund_%d", len(f.createdFunds)+1), Name: name, Weights: weights}
	f.createdFunds = append(f.createdFunds, fund)
	return &fund, nil
}

func (f *fakeBroker) UpdateFund(_ context.Context, fundRef string, weights map[string]decimal.Decimal) (*broker.Fund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updatedFunds = append(f.updatedFunds, fundRef)
	return &broker.Fund{RefID: fundRef, Weights: weights}, nil
}

func (f *fakeBroker) CreateForcedRebalance(_ context.Context, accountRefs []string) (*broker.RebalanceRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rebalances = append(f.rebalances, accountRefs)
	return &broker.RebalanceRun{RefID: fmt.Sprintf("run_%d", len(f.rebalances)), Status: "QUEUED", CreatedAt: f.rebalanceAt}, nil
}

func (f *fakeBroker) setStatus(s *models.PortfolioStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = s
}

// fundValue describes one fund of a status built by statusWith. Holdings map
// symbol to value.
type fundValue struct {
	ref      string
	value    string
	holdings map[string]string
}

// statusWith builds a consistent status whose actual weights follow the values.
func statusWith(cash string, funds ...fundValue) *models.PortfolioStatus {
	total := testutil.Dec(cash)
	for _, f := range funds {
		total = total.Add(testutil.Dec(f.value))
	}
	weight := func(v, of decimal.Decimal) decimal.Decimal {
		if !of.IsPositive() {
			return decimal.Zero
		}
		return v.Div(of).Round(4)
	}

	s := &models.PortfolioStatus{
		EquityValue:      total,
		CashValue:        testutil.Dec(cash),
		CashActualWeight: weight(testutil.Dec(cash), total),
		Funds:            map[string]models.FundStatus{},
	}
	for _, f := range funds {
		value := testutil.Dec(f.value)
		fs := models.FundStatus{
			ActualWeight: weight(value, total),
			TargetWeight: weight(value, total),
			Value:        value,
		}
		for symbol, v := range f.holdings {
			hv := testutil.Dec(v)
			fs.Holdings = append(fs.Holdings, models.HoldingStatus{
				Symbol:       symbol,
				ActualWeight: weight(hv, value),
				Value:        hv,
			})
		}
		s.Funds[f.ref] = fs
	}
	return s
}

func newTestLocks(db *gorm.DB) *locking.Manager {
	return locking.NewManager(db, locking.NewMemoryLocker(), locking.WithTimeout(5*time.Second))
}

func reloadPortfolio(t *testing.T, db *gorm.DB, id int64) *models.Portfolio {
	t.Helper()
	var p models.Portfolio
	if err := db.First(&p, id).Error; err != nil {
		t.Fatalf("failed to reload portfolio: %v", err)
	}
	return &p
}

func reloadOrder(t *testing.T, db *gorm.DB, id int64) *models.TradingOrder {
	t.Helper()
	var o models.TradingOrder
	if err := db.First(&o, id).Error; err != nil {
		t.Fatalf("failed to reload order: %v", err)
	}
	return &o
}
