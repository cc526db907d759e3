package services

import (
	"context"
	"testing"

	"github.com/gainy-app/gainy-compute-sub000/internal/models"
	"github.com/gainy-app/gainy-compute-sub000/internal/testutil"
)

func TestGetAccountByRef(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)
	svc := NewAccountService(newTestLocks(db), newFakeBroker(), 3)
	account := testutil.CreateTestBrokerAccount(t, db)

	got, err := svc.GetAccountByRef(context.Background(), account.RefID)
	testutil.AssertNoError(t, err)
	if got.ID != account.ID {
		t.Errorf("expected account %d, got %d", account.ID, got.ID)
	}

	_, err = svc.GetAccountByRef(context.Background(), "acc_missing")
	testutil.AssertAppError(t, err, "ACCOUNT_NOT_FOUND")
}

func TestSyncAccount(t *testing.T) {
	t.Run("explicit_status", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		fb := newFakeBroker()
		svc := NewAccountService(newTestLocks(db), fb, 3)
		account := testutil.CreateTestBrokerAccount(t, db)

		frozen := models.BrokerAccountStatusFrozen
		got, err := svc.SyncAccount(context.Background(), account.RefID, &frozen)
		testutil.AssertNoError(t, err)
		if got.Status != models.BrokerAccountStatusFrozen {
			t.Errorf("expected FROZEN, got %s", got.Status)
		}

		var stored models.BrokerAccount
		testutil.AssertNoError(t, db.First(&stored, account.ID).Error)
		if stored.Status != models.BrokerAccountStatusFrozen {
			t.Errorf("expected stored FROZEN, got %s", stored.Status)
		}
		if stored.Version != 2 {
			t.Errorf("expected version 2, got %d", stored.Version)
		}
		if stored.SyncedAt == nil {
			t.Error("expected synced_at to be set")
		}
	})

	t.Run("status_fetched_from_broker", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		fb := newFakeBroker()
		fb.accountStatus = models.BrokerAccountStatusClosed
		svc := NewAccountService(newTestLocks(db), fb, 3)
		account := testutil.CreateTestBrokerAccount(t, db)

		got, err := svc.SyncAccount(context.Background(), account.RefID, nil)
		testutil.AssertNoError(t, err)
		if got.Status != models.BrokerAccountStatusClosed {
			t.Errorf("expected CLOSED, got %s", got.Status)
		}
	})

	t.Run("unknown_account", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewAccountService(newTestLocks(db), newFakeBroker(), 3)

		open := models.BrokerAccountStatusOpen
		_, err := svc.SyncAccount(context.Background(), "acc_missing", &open)
		testutil.AssertAppError(t, err, "ACCOUNT_NOT_FOUND")
	})

	t.Run("repeated_syncs_bump_version_each_time", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		defer testutil.TeardownTestDB(t, db)
		svc := NewAccountService(newTestLocks(db), newFakeBroker(), 3)
		account := testutil.CreateTestBrokerAccount(t, db)

		open := models.BrokerAccountStatusOpen
		for i := 0; i < 3; i++ {
			_, err := svc.SyncAccount(context.Background(), account.RefID, &open)
			testutil.AssertNoError(t, err)
		}

		var stored models.BrokerAccount
		testutil.AssertNoError(t, db.First(&stored, account.ID).Error)
		if stored.Version != 4 {
			t.Errorf("expected version 4, got %d", stored.Version)
		}
	})
}
