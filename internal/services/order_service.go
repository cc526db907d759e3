package services

import (
	"context"
	"time"

	"gorm.io/gorm"

	apperrors "github.com/gainy-app/gainy-compute-sub000/internal/errors"
	"github.com/gainy-app/gainy-compute-sub000/internal/models"
)

// orderService handles trading order placement.
type orderService struct{}

// NewOrderService creates a new OrderServicer.
func NewOrderService() OrderServicer {
	return &orderService{}
}

// CreateOrder validates and inserts a PENDING order.
func (s *orderService) CreateOrder(ctx context.Context, tx *gorm.DB, order *models.TradingOrder) (*models.TradingOrder, error) {
	if order.ProfileID == 0 {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "Order needs a profile")
	}
	if (order.CollectionID == nil) == (order.Symbol == nil) {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "Order needs exactly one of collection or symbol")
	}
	if order.IsRelative() {
		rel := order.TargetAmountDeltaRelative.Decimal
		if rel.IsZero() || rel.Abs().GreaterThan(one) {
			return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "Relative amount must be in [-1, 1] and non-zero")
		}
	}
	if order.Status == "" {
		order.Status = models.TradingOrderStatusPending
	}
	if order.Source == "" {
		order.Source = models.TradingOrderSourceManual
	}

	if err := tx.WithContext(ctx).Create(order).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return order, nil
}

// ListOrders returns the profile's orders in the given status, oldest first.
func (s *orderService) ListOrders(ctx context.Context, db *gorm.DB, profileID int64, status models.TradingOrderStatus) ([]models.TradingOrder, error) {
	var orders []models.TradingOrder
	if err := db.WithContext(ctx).
		Where("profile_id = ? AND status = ?", profileID, status).
		Order("id").
		Find(&orders).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return orders, nil
}

// MarkPendingExecution moves an order to PENDING_EXECUTION, storing the
// dollar amount a relative order resolved to.
func (s *orderService) MarkPendingExecution(ctx context.Context, tx *gorm.DB, order *models.TradingOrder, since time.Time) error {
	order.Status = models.TradingOrderStatusPendingExecution
	order.PendingExecutionSince = &since
	if err := tx.WithContext(ctx).Model(order).
		Select("status", "pending_execution_since", "target_amount_delta").
		Updates(order).Error; err != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return nil
}
