package services

import (
	"errors"

	"gorm.io/gorm"

	apperrors "github.com/gainy-app/gainy-compute-sub000/internal/errors"
	"github.com/gainy-app/gainy-compute-sub000/internal/logger"
	"github.com/gainy-app/gainy-compute-sub000/internal/models"
)

// deliveryLogService records webhook deliveries.
type deliveryLogService struct {
	db *gorm.DB
}

// NewDeliveryLogService creates a new DeliveryLogServicer.
func NewDeliveryLogService(db *gorm.DB) DeliveryLogServicer {
	return &deliveryLogService{db: db}
}

// Record stores the outcome of one delivery. Errors are logged but never
// propagate so a logging failure cannot turn a processed event into a
// redelivery.
func (s *deliveryLogService) Record(event *WebhookEvent, requestID, ipAddress string, handleErr error) {
	entry := &models.WebhookDelivery{
		EventID:      event.ID,
		EventType:    event.Type,
		AccountRef:   event.AccountRef,
		PortfolioRef: event.PortfolioRef,
		Transactions: len(event.Transactions),
		Outcome:      deliveryOutcome(handleErr),
		RequestID:    requestID,
		IPAddress:    ipAddress,
	}
	if handleErr != nil {
		entry.Error = handleErr.Error()
		var appErr *apperrors.AppError
		if errors.As(handleErr, &appErr) {
			entry.ErrorCode = appErr.Code
		}
	}

	if err := s.db.Create(entry).Error; err != nil {
		logger.Get().Errorw("failed to record webhook delivery",
			"error", err,
			"event_id", event.ID,
			"event_type", event.Type,
		)
	}
}

// deliveryOutcome separates deliveries the broker should not retry (client
// errors) from those it should.
func deliveryOutcome(err error) models.WebhookOutcome {
	if err == nil {
		return models.WebhookOutcomeProcessed
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.StatusCode < 500 &&
		!errors.Is(err, apperrors.ErrLockTimeout) && !errors.Is(err, apperrors.ErrConcurrentUpdate) {
		return models.WebhookOutcomeRejected
	}
	return models.WebhookOutcomeFailed
}
