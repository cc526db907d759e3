package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	apperrors "github.com/gainy-app/gainy-compute-sub000/internal/errors"
	"github.com/gainy-app/gainy-compute-sub000/internal/locking"
	"github.com/gainy-app/gainy-compute-sub000/internal/logger"
	"github.com/gainy-app/gainy-compute-sub000/internal/models"
)

// portfolioService syncs portfolios and their status snapshots with the broker.
type portfolioService struct {
	db             *gorm.DB
	broker         BrokerAPI
	fallbackMaxAge time.Duration
	now            func() time.Time
}

// NewPortfolioService creates a new PortfolioServicer. An invalid status
// snapshot is replaced by the latest valid one younger than fallbackMaxAge.
func NewPortfolioService(db *gorm.DB, broker BrokerAPI, fallbackMaxAge time.Duration) PortfolioServicer {
	return &portfolioService{db: db, broker: broker, fallbackMaxAge: fallbackMaxAge, now: time.Now}
}

// GetPortfolioByRef retrieves a portfolio by its broker ref.
func (s *portfolioService) GetPortfolioByRef(ctx context.Context, portfolioRef string) (*models.Portfolio, error) {
	var p models.Portfolio
	if err := s.db.WithContext(ctx).Where("ref_id = ?", portfolioRef).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrPortfolioNotFound
		}
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return &p, nil
}

// SyncStatus fetches and stores a status snapshot and applies its rebalance
// timestamp to the portfolio. The portfolio itself is not saved.
func (s *portfolioService) SyncStatus(ctx context.Context, tx *gorm.DB, portfolio *models.Portfolio) (*models.PortfolioStatus, error) {
	status, err := s.broker.GetPortfolioStatus(ctx, portfolio.RefID)
	if err != nil {
		return nil, fmt.Errorf("fetching status of portfolio %s: %w", portfolio.RefID, err)
	}

	now := s.now().UTC()
	status.PortfolioID = portfolio.ID
	status.CreatedAt = now
	verr := status.Validate()
	status.Valid = verr == nil

	if err := tx.WithContext(ctx).Create(status).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	if verr != nil {
		fallback, err := latestStatus(tx.WithContext(ctx), portfolio.ID, true, now.Add(-s.fallbackMaxAge))
		if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
		if fallback != nil {
			logger.Get().Warnw("Broker returned invalid portfolio status, using cached snapshot",
				"portfolio_id", portfolio.ID,
				"error", verr,
				"snapshot_id", fallback.ID,
				"snapshot_at", fallback.CreatedAt,
			)
			status = fallback
		} else {
			logger.Get().Errorw("Broker returned invalid portfolio status and no recent valid snapshot exists",
				"portfolio_id", portfolio.ID,
				"error", apperrors.Wrap(apperrors.ErrInvalidPortfolioStatus, verr),
			)
		}
	}

	portfolio.UpdateFromStatus(status)
	portfolio.LastSyncAt = &now
	return status, nil
}

// LatestStatus returns the newest valid snapshot, or the newest snapshot of
// any validity when no valid one exists.
func (s *portfolioService) LatestStatus(ctx context.Context, db *gorm.DB, portfolioID int64) (*models.PortfolioStatus, error) {
	status, err := latestStatus(db.WithContext(ctx), portfolioID, true, time.Time{})
	if errors.Is(err, apperrors.ErrNotFound) {
		return latestStatus(db.WithContext(ctx), portfolioID, false, time.Time{})
	}
	return status, err
}

func latestStatus(db *gorm.DB, portfolioID int64, validOnly bool, since time.Time) (*models.PortfolioStatus, error) {
	q := db.Where("portfolio_id = ?", portfolioID)
	if validOnly {
		q = q.Where("valid = ?", true)
	}
	if !since.IsZero() {
		q = q.Where("created_at >= ?", since)
	}

	var status models.PortfolioStatus
	if err := q.Order("created_at DESC").Order("id DESC").First(&status).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return &status, nil
}

// ImportTargetWeights adopts the target weights the broker currently holds.
func (s *portfolioService) ImportTargetWeights(ctx context.Context, portfolio *models.Portfolio) error {
	remote, err := s.broker.GetPortfolio(ctx, portfolio.RefID)
	if err != nil {
		return fmt.Errorf("fetching portfolio %s: %w", portfolio.RefID, err)
	}
	portfolio.CashTargetWeight = remote.Cash
	portfolio.TargetWeights = remote.Funds
	portfolio.NormalizeWeights()
	return nil
}

// PushTargetWeights sends the full weight vector to the broker.
func (s *portfolioService) PushTargetWeights(ctx context.Context, portfolio *models.Portfolio) error {
	if _, err := s.broker.UpdatePortfolio(ctx, portfolio.RefID, portfolio.CashTargetWeight, portfolio.TargetWeights); err != nil {
		return fmt.Errorf("updating portfolio %s: %w", portfolio.RefID, err)
	}
	return nil
}

// Save writes the portfolio if nobody else changed it since it was read and
// bumps its version.
func (s *portfolioService) Save(ctx context.Context, tx *gorm.DB, portfolio *models.Portfolio) error {
	expected := portfolio.Version
	portfolio.BumpVersion()

	res := tx.WithContext(ctx).Model(portfolio).
		Where("version = ?", expected).
		Select("cash_target_weight", "target_weights", "waiting_rebalance_since", "last_rebalance_at", "last_sync_at", "version").
		Updates(portfolio)
	if res.Error != nil {
		portfolio.Version = expected
		return apperrors.Wrap(apperrors.ErrInternalServer, res.Error)
	}
	if res.RowsAffected == 0 {
		portfolio.Version = expected
		return versionConflict(tx, portfolio)
	}
	return nil
}

// Claim checks that the portfolio is still at the version it was read with
// and holds its row until tx ends. Writers that touch the row meanwhile wait
// for tx and then fail their own version check.
func (s *portfolioService) Claim(ctx context.Context, tx *gorm.DB, portfolio *models.Portfolio) error {
	res := tx.WithContext(ctx).Model(&models.Portfolio{}).
		Where("id = ? AND version = ?", portfolio.ID, portfolio.Version).
		UpdateColumn("version", gorm.Expr("version"))
	if res.Error != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, res.Error)
	}
	if res.RowsAffected == 0 {
		return versionConflict(tx, portfolio)
	}
	return nil
}

func versionConflict(tx *gorm.DB, portfolio *models.Portfolio) error {
	var actual int
	if err := tx.Model(&models.Portfolio{}).Where("id = ?", portfolio.ID).Select("version").Scan(&actual).Error; err != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return &locking.ConcurrentVersionUpdateError{Key: portfolio.ResourceKey(), Expected: portfolio.Version, Actual: actual}
}

// Refresh syncs the status and saves the portfolio in its own transaction.
func (s *portfolioService) Refresh(ctx context.Context, portfolio *models.Portfolio) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.SyncStatus(ctx, tx, portfolio); err != nil {
			return err
		}
		return s.Save(ctx, tx, portfolio)
	})
}
