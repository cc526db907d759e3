package services

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gainy-app/gainy-compute-sub000/internal/testutil"
)

func TestEnsureFund(t *testing.T) {
	t.Run("creates_collection_fund_at_broker", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		fb := newFakeBroker()
		svc := NewFundService(fb)

		account := testutil.CreateTestBrokerAccount(t, db)
		p := testutil.CreateTestPortfolio(t, db, account)
		c := testutil.CreateTestCollection(t, db, map[string]string{"AAPL": "0.6", "MSFT": "0.4"}, time.Now().Add(-time.Hour))

		fund, err := svc.EnsureFund(context.Background(), db, p, &c.ID, nil)
		testutil.AssertNoError(t, err)
		if fund.Ref() != "bfund_1" {
			t.Errorf("expected ref bfund_1, got %q", fund.Ref())
		}
		if fund.Version != 1 {
			t.Errorf("expected version 1, got %d", fund.Version)
		}
		if len(fb.createdFunds) != 1 || fb.createdFunds[0].Name != c.Name {
			t.Fatalf("expected broker fund %q to be created, got %+v", c.Name, fb.createdFunds)
		}
		testutil.AssertDecimal(t, fb.createdFunds[0].Weights["AAPL"], "0.6")
		testutil.AssertDecimal(t, fund.Weights["MSFT"], "0.4")
	})

	t.Run("unchanged_fund_is_left_alone", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		fb := newFakeBroker()
		svc := NewFundService(fb)

		account := testutil.CreateTestBrokerAccount(t, db)
		p := testutil.CreateTestPortfolio(t, db, account)
		c := testutil.CreateTestCollection(t, db, map[string]string{"AAPL": "1"}, time.Now().Add(-time.Hour))

		first, err := svc.EnsureFund(context.Background(), db, p, &c.ID, nil)
		testutil.AssertNoError(t, err)
		second, err := svc.EnsureFund(context.Background(), db, p, &c.ID, nil)
		testutil.AssertNoError(t, err)

		if first.ID != second.ID {
			t.Errorf("expected the same fund, got %d and %d", first.ID, second.ID)
		}
		if len(fb.createdFunds) != 1 || len(fb.updatedFunds) != 0 {
			t.Errorf("expected 1 create and 0 updates, got %d and %d", len(fb.createdFunds), len(fb.updatedFunds))
		}
		if second.Version != 1 {
			t.Errorf("expected version 1, got %d", second.Version)
		}
	})

	t.Run("changed_collection_weights_are_pushed", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		fb := newFakeBroker()
		svc := NewFundService(fb)

		account := testutil.CreateTestBrokerAccount(t, db)
		p := testutil.CreateTestPortfolio(t, db, account)
		c := testutil.CreateTestCollection(t, db, map[string]string{"AAPL": "1"}, time.Now().Add(-time.Hour))

		_, err := svc.EnsureFund(context.Background(), db, p, &c.ID, nil)
		testutil.AssertNoError(t, err)

		c.Weights = map[string]decimal.Decimal{"AAPL": testutil.Dec("0.5"), "NVDA": testutil.Dec("0.5")}
		testutil.AssertNoError(t, db.Save(c).Error)

		fund, err := svc.EnsureFund(context.Background(), db, p, &c.ID, nil)
		testutil.AssertNoError(t, err)
		if len(fb.updatedFunds) != 1 || fb.updatedFunds[0] != fund.Ref() {
			t.Errorf("expected fund %s to be updated at the broker, got %v", fund.Ref(), fb.updatedFunds)
		}
		if fund.Version != 2 {
			t.Errorf("expected version 2, got %d", fund.Version)
		}
		testutil.AssertDecimal(t, fund.Weights["NVDA"], "0.5")
	})

	t.Run("ticker_fund", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		fb := newFakeBroker()
		svc := NewFundService(fb)

		account := testutil.CreateTestBrokerAccount(t, db)
		p := testutil.CreateTestPortfolio(t, db, account)

		fund, err := svc.EnsureFund(context.Background(), db, p, nil, testutil.Ptr("TSLA"))
		testutil.AssertNoError(t, err)
		if fund.Key() != "ticker:TSLA" {
			t.Errorf("expected key ticker:TSLA, got %s", fund.Key())
		}
		testutil.AssertDecimal(t, fund.Weights["TSLA"], "1")
	})

	t.Run("unknown_collection", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewFundService(newFakeBroker())

		account := testutil.CreateTestBrokerAccount(t, db)
		p := testutil.CreateTestPortfolio(t, db, account)

		_, err := svc.EnsureFund(context.Background(), db, p, testutil.Ptr(int64(99999)), nil)
		testutil.AssertAppError(t, err, "NOT_FOUND")
	})

	t.Run("needs_exactly_one_target", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewFundService(newFakeBroker())

		account := testutil.CreateTestBrokerAccount(t, db)
		p := testutil.CreateTestPortfolio(t, db, account)

		_, err := svc.EnsureFund(context.Background(), db, p, nil, nil)
		testutil.AssertAppError(t, err, "INVALID_INPUT")
		_, err = svc.EnsureFund(context.Background(), db, p, testutil.Ptr(int64(1)), testutil.Ptr("AAPL"))
		testutil.AssertAppError(t, err, "INVALID_INPUT")
	})
}

func TestListFunds(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)
	svc := NewFundService(newFakeBroker())

	account := testutil.CreateTestBrokerAccount(t, db)
	p := testutil.CreateTestPortfolio(t, db, account)
	other := testutil.CreateTestPortfolio(t, db, testutil.CreateTestBrokerAccount(t, db))
	testutil.CreateTestFund(t, db, p, nil, testutil.Ptr("AAPL"))
	testutil.CreateTestFund(t, db, p, nil, testutil.Ptr("MSFT"))
	testutil.CreateTestFund(t, db, other, nil, testutil.Ptr("AAPL"))

	funds, err := svc.ListFunds(context.Background(), db, p.ID)
	testutil.AssertNoError(t, err)
	if len(funds) != 2 {
		t.Fatalf("expected 2 funds, got %d", len(funds))
	}
	if *funds[0].Symbol != "AAPL" || *funds[1].Symbol != "MSFT" {
		t.Errorf("expected funds in id order, got %s, %s", *funds[0].Symbol, *funds[1].Symbol)
	}
}
