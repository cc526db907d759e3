package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	apperrors "github.com/gainy-app/gainy-compute-sub000/internal/errors"
	"github.com/gainy-app/gainy-compute-sub000/internal/locking"
	"github.com/gainy-app/gainy-compute-sub000/internal/logger"
	"github.com/gainy-app/gainy-compute-sub000/internal/models"
)

// tokenRefreshMargin is how long before expiry a token stops being handed out.
const tokenRefreshMargin = 5 * time.Minute

// authTokenService caches the shared broker token. Refreshes go through the
// pessimistic template so only one process talks to /auth/tokens at a time.
type authTokenService struct {
	locks    *locking.Manager
	broker   BrokerAPI
	maxTries int
	now      func() time.Time

	mu     sync.Mutex
	cached *models.BrokerAuthToken
}

// NewAuthTokenService creates a new AuthTokenServicer.
func NewAuthTokenService(locks *locking.Manager, broker BrokerAPI, maxTries int) AuthTokenServicer {
	return &authTokenService{locks: locks, broker: broker, maxTries: maxTries, now: time.Now}
}

// Token returns a token valid for at least tokenRefreshMargin.
func (s *authTokenService) Token(ctx context.Context) (string, error) {
	now := s.now()

	s.mu.Lock()
	if s.cached != nil && s.cached.IsValidAt(now, tokenRefreshMargin) {
		token := s.cached.AuthToken
		s.mu.Unlock()
		return token, nil
	}
	s.mu.Unlock()

	stored, err := loadAuthToken(ctx, s.locks.DB().WithContext(ctx))
	if err != nil {
		return "", err
	}
	if !stored.IsValidAt(now, tokenRefreshMargin) {
		if stored, err = s.Refresh(ctx); err != nil {
			return "", err
		}
	}

	s.mu.Lock()
	s.cached = stored
	s.mu.Unlock()
	return stored.AuthToken, nil
}

// Refresh obtains a new token unless another process refreshed it while this
// one waited for the lock.
func (s *authTokenService) Refresh(ctx context.Context) (*models.BrokerAuthToken, error) {
	return locking.WithPessimisticLock(ctx, s.locks, locking.PessimisticTx[*models.BrokerAuthToken]{
		Load: loadAuthToken,
		Persist: func(_ context.Context, tx *gorm.DB, t *models.BrokerAuthToken) error {
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(t).Error; err != nil {
				return apperrors.Wrap(apperrors.ErrInternalServer, err)
			}
			return nil
		},
		Mutate: func(ctx context.Context, tx *gorm.DB, t *models.BrokerAuthToken) error {
			if t.IsValidAt(s.now(), tokenRefreshMargin) {
				return nil
			}
			fresh, err := s.broker.Authenticate(ctx)
			if err != nil {
				return err
			}
			expiresAt := fresh.ExpiresAt
			t.AuthToken = fresh.Token
			t.ExpiresAt = &expiresAt
			if err := tx.Model(t).Select("auth_token", "expires_at").Updates(t).Error; err != nil {
				return apperrors.Wrap(apperrors.ErrInternalServer, err)
			}
			logger.Get().Infow("Refreshed broker auth token",
				"expires_at", expiresAt,
				"version", t.Version,
			)
			return nil
		},
	}, s.maxTries)
}

func loadAuthToken(_ context.Context, db *gorm.DB) (*models.BrokerAuthToken, error) {
	var t models.BrokerAuthToken
	err := db.First(&t, models.BrokerAuthTokenID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		t = models.BrokerAuthToken{}
		t.ID = models.BrokerAuthTokenID
		return &t, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return &t, nil
}
