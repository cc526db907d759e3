package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	apperrors "github.com/gainy-app/gainy-compute-sub000/internal/errors"
	"github.com/gainy-app/gainy-compute-sub000/internal/locking"
	"github.com/gainy-app/gainy-compute-sub000/internal/logger"
	"github.com/gainy-app/gainy-compute-sub000/internal/models"
)

// accountService handles broker account state.
type accountService struct {
	locks    *locking.Manager
	broker   BrokerAPI
	maxTries int
	now      func() time.Time
}

// NewAccountService creates a new AccountServicer.
func NewAccountService(locks *locking.Manager, broker BrokerAPI, maxTries int) AccountServicer {
	return &accountService{locks: locks, broker: broker, maxTries: maxTries, now: time.Now}
}

// GetAccountByRef retrieves a broker account by its broker ref.
func (s *accountService) GetAccountByRef(ctx context.Context, accountRef string) (*models.BrokerAccount, error) {
	return findAccountByRef(s.locks.DB().WithContext(ctx), accountRef)
}

// SyncAccount updates the local account status under the account lock. When
// status is nil the broker is asked for the current one.
func (s *accountService) SyncAccount(ctx context.Context, accountRef string, status *models.BrokerAccountStatus) (*models.BrokerAccount, error) {
	if status == nil {
		remote, err := s.broker.GetAccount(ctx, accountRef)
		if err != nil {
			return nil, err
		}
		status = &remote.Status
	}

	return locking.WithPessimisticLock(ctx, s.locks, locking.PessimisticTx[*models.BrokerAccount]{
		Load: func(_ context.Context, db *gorm.DB) (*models.BrokerAccount, error) {
			return findAccountByRef(db, accountRef)
		},
		Persist: func(_ context.Context, tx *gorm.DB, a *models.BrokerAccount) error {
			return updateVersion(tx, a)
		},
		Mutate: func(_ context.Context, tx *gorm.DB, a *models.BrokerAccount) error {
			previous := a.Status
			now := s.now().UTC()
			a.Status = *status
			a.SyncedAt = &now
			if err := tx.Model(a).Select("status", "synced_at").Updates(a).Error; err != nil {
				return apperrors.Wrap(apperrors.ErrInternalServer, err)
			}
			if previous != a.Status {
				logger.Get().Infow("Broker account status changed",
					"account_ref", accountRef,
					"from", previous,
					"to", a.Status,
				)
			}
			return nil
		},
	}, s.maxTries)
}

func findAccountByRef(db *gorm.DB, accountRef string) (*models.BrokerAccount, error) {
	var account models.BrokerAccount
	if err := db.Where("ref_id = ?", accountRef).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrAccountNotFound
		}
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return &account, nil
}

// updateVersion writes the version column of an existing anchor row.
func updateVersion(tx *gorm.DB, v locking.Versioned) error {
	if err := tx.Model(v).UpdateColumn("version", v.GetVersion()).Error; err != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return nil
}
