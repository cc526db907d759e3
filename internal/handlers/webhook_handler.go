package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	apperrors "github.com/gainy-app/gainy-compute-sub000/internal/errors"
	"github.com/gainy-app/gainy-compute-sub000/internal/middleware"
	"github.com/gainy-app/gainy-compute-sub000/internal/models"
	"github.com/gainy-app/gainy-compute-sub000/internal/services"
)

// WebhookHandler receives broker events.
type WebhookHandler struct {
	webhookService services.WebhookServicer
	deliveryLog    services.DeliveryLogServicer
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(webhookService services.WebhookServicer, deliveryLog services.DeliveryLogServicer) *WebhookHandler {
	return &WebhookHandler{webhookService: webhookService, deliveryLog: deliveryLog}
}

// WebhookRequest is the payload of a broker webhook delivery.
type WebhookRequest struct {
	ID           string                      `json:"id" binding:"required,max=100"`
	Type         string                      `json:"type" binding:"required,webhook_event_type"`
	AccountRef   string                      `json:"account_ref" binding:"max=100"`
	PortfolioRef string                      `json:"portfolio_ref" binding:"max=100"`
	Status       *models.BrokerAccountStatus `json:"status" binding:"omitempty,broker_account_status"`
	Transactions []WebhookTransactionRequest `json:"transactions" binding:"max=500,dive"`
}

// WebhookTransactionRequest is one ledger transaction of a transaction.created event.
type WebhookTransactionRequest struct {
	RefID         string                       `json:"ref_id" binding:"required,max=100"`
	Type          models.BrokerTransactionType `json:"type" binding:"required,broker_transaction_type"`
	Symbol        string                       `json:"symbol" binding:"required,ticker_symbol"`
	FromSymbol    *string                      `json:"from_symbol" binding:"omitempty,ticker_symbol"`
	ToSymbol      *string                      `json:"to_symbol" binding:"omitempty,ticker_symbol"`
	Amount        decimal.Decimal              `json:"amount"`
	PositionDelta decimal.Decimal              `json:"position_delta"`
	OccurredAt    time.Time                    `json:"occurred_at" binding:"required"`
}

func (r *WebhookRequest) toEvent() *services.WebhookEvent {
	event := &services.WebhookEvent{
		ID:           r.ID,
		Type:         r.Type,
		AccountRef:   r.AccountRef,
		PortfolioRef: r.PortfolioRef,
		Status:       r.Status,
	}
	for _, tx := range r.Transactions {
		event.Transactions = append(event.Transactions, services.WebhookTransaction{
			RefID:         tx.RefID,
			Type:          tx.Type,
			Symbol:        tx.Symbol,
			FromSymbol:    tx.FromSymbol,
			ToSymbol:      tx.ToSymbol,
			Amount:        tx.Amount,
			PositionDelta: tx.PositionDelta,
			OccurredAt:    tx.OccurredAt.UTC(),
		})
	}
	return event
}

// HandleBrokerEvent validates a broker delivery and dispatches it. Lock
// timeouts and version conflicts come back as 423 and 409 so the broker
// redelivers.
func (h *WebhookHandler) HandleBrokerEvent(c *gin.Context) {
	var req WebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		err = apperrors.WithMessage(apperrors.ErrInvalidWebhook, err.Error())
		h.deliveryLog.Record(req.toEvent(), middleware.RequestID(c), c.ClientIP(), err)
		middleware.RespondError(c, err)
		return
	}

	event := req.toEvent()
	err := h.webhookService.HandleEvent(c.Request.Context(), event)
	h.deliveryLog.Record(event, middleware.RequestID(c), c.ClientIP(), err)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"event_id": req.ID, "status": "processed"})
}
