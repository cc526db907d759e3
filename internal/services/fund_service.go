package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	apperrors "github.com/gainy-app/gainy-compute-sub000/internal/errors"
	"github.com/gainy-app/gainy-compute-sub000/internal/logger"
	"github.com/gainy-app/gainy-compute-sub000/internal/models"
)

// fundService keeps local funds and broker funds in step.
type fundService struct {
	broker BrokerAPI
	now    func() time.Time
}

// NewFundService creates a new FundServicer.
func NewFundService(broker BrokerAPI) FundServicer {
	return &fundService{broker: broker, now: time.Now}
}

// EnsureFund returns the portfolio's fund for the collection or ticker,
// creating it at the broker or pushing changed weights as needed.
func (s *fundService) EnsureFund(ctx context.Context, tx *gorm.DB, portfolio *models.Portfolio, collectionID *int64, symbol *string) (*models.Fund, error) {
	if (collectionID == nil) == (symbol == nil) {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "A fund needs exactly one of collection or symbol")
	}
	tx = tx.WithContext(ctx)

	name, weights, err := fundTarget(tx, collectionID, symbol)
	if err != nil {
		return nil, err
	}

	var fund models.Fund
	q := tx.Where("portfolio_id = ?", portfolio.ID)
	if collectionID != nil {
		q = q.Where("collection_id = ?", *collectionID)
	} else {
		q = q.Where("symbol = ?", *symbol)
	}
	err = q.First(&fund).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	now := s.now().UTC()

	if errors.Is(err, gorm.ErrRecordNotFound) {
		fund = models.Fund{
			ProfileID:    portfolio.ProfileID,
			PortfolioID:  portfolio.ID,
			CollectionID: collectionID,
			Symbol:       symbol,
		}
	}

	switch {
	case fund.RefID == nil:
		remote, err := s.broker.CreateFund(ctx, name, fmt.Sprintf("profile %d", portfolio.ProfileID), weights)
		if err != nil {
			return nil, fmt.Errorf("creating fund %s: %w", name, err)
		}
		fund.RefID = &remote.RefID
		logger.Get().Infow("Created broker fund",
			"portfolio_id", portfolio.ID,
			"fund_ref", remote.RefID,
			"fund_key", fund.Key(),
		)
	case !weightsEqual(fund.Weights, weights):
		if _, err := s.broker.UpdateFund(ctx, *fund.RefID, weights); err != nil {
			return nil, fmt.Errorf("updating fund %s: %w", *fund.RefID, err)
		}
	default:
		return &fund, nil
	}

	fund.Weights = weights
	fund.WeightsUpdatedAt = &now
	fund.BumpVersion()
	if err := tx.Save(&fund).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return &fund, nil
}

// ListFunds returns every fund of the portfolio.
func (s *fundService) ListFunds(ctx context.Context, db *gorm.DB, portfolioID int64) ([]models.Fund, error) {
	var funds []models.Fund
	if err := db.WithContext(ctx).Where("portfolio_id = ?", portfolioID).Order("id").Find(&funds).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return funds, nil
}

// fundTarget returns the broker name and symbol weights a fund should carry.
func fundTarget(tx *gorm.DB, collectionID *int64, symbol *string) (string, map[string]decimal.Decimal, error) {
	if symbol != nil {
		return "ticker " + *symbol, map[string]decimal.Decimal{*symbol: decimal.NewFromInt(1)}, nil
	}

	var collection models.Collection
	if err := tx.First(&collection, *collectionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil, apperrors.WithMessage(apperrors.ErrNotFound, fmt.Sprintf("Collection %d not found", *collectionID))
		}
		return "", nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	if len(collection.Weights) == 0 {
		return "", nil, apperrors.WithMessage(apperrors.ErrInvalidInput, fmt.Sprintf("Collection %d has no weights", collection.ID))
	}
	return collection.Name, collection.Weights, nil
}

func weightsEqual(a, b map[string]decimal.Decimal) bool {
	if len(a) != len(b) {
		return false
	}
	for k, w := range a {
		other, ok := b[k]
		if !ok || !w.Equal(other) {
			return false
		}
	}
	return true
}
