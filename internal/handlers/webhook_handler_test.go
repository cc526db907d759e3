package handlers

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gainy-app/gainy-compute-sub000/internal/locking"
	"github.com/gainy-app/gainy-compute-sub000/internal/models"
	"github.com/gainy-app/gainy-compute-sub000/internal/services"
)

// --- mock webhook service ---

type mockWebhookService struct {
	handleEventFn func(event *services.WebhookEvent) error
	received      []*services.WebhookEvent
}

func (m *mockWebhookService) HandleEvent(_ context.Context, event *services.WebhookEvent) error {
	m.received = append(m.received, event)
	if m.handleEventFn != nil {
		return m.handleEventFn(event)
	}
	return nil
}

var _ services.WebhookServicer = (*mockWebhookService)(nil)

type delivery struct {
	eventID string
	err     error
}

type mockDeliveryLog struct {
	recorded []delivery
}

func (m *mockDeliveryLog) Record(event *services.WebhookEvent, _, _ string, handleErr error) {
	m.recorded = append(m.recorded, delivery{eventID: event.ID, err: handleErr})
}

var _ services.DeliveryLogServicer = (*mockDeliveryLog)(nil)

func setupWebhookRouter(handler *WebhookHandler) *gin.Engine {
	r := gin.New()
	r.POST("/webhooks/broker", handler.HandleBrokerEvent)
	return r
}

// --- tests ---

func TestWebhookHandler_HandleBrokerEvent(t *testing.T) {
	t.Run("returns 202 on account update", func(t *testing.T) {
		svc := &mockWebhookService{}
		deliveries := &mockDeliveryLog{}
		r := setupWebhookRouter(NewWebhookHandler(svc, deliveries))

		rec := doRequest(r, "POST", "/webhooks/broker",
			`{"id":"evt_1","type":"account.updated","account_ref":"acct_1","status":"FROZEN"}`)

		if rec.Code != http.StatusAccepted {
			t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
		}
		if parseJSON(t, rec)["event_id"] != "evt_1" {
			t.Error("expected event_id in response")
		}
		if len(svc.received) != 1 {
			t.Fatalf("expected 1 event, got %d", len(svc.received))
		}
		event := svc.received[0]
		if event.AccountRef != "acct_1" || event.Status == nil || *event.Status != models.BrokerAccountStatusFrozen {
			t.Errorf("unexpected event: %+v", event)
		}
		if len(deliveries.recorded) != 1 || deliveries.recorded[0].err != nil {
			t.Errorf("expected one successful delivery record, got %+v", deliveries.recorded)
		}
	})

	t.Run("maps transactions", func(t *testing.T) {
		svc := &mockWebhookService{}
		r := setupWebhookRouter(NewWebhookHandler(svc, &mockDeliveryLog{}))

		rec := doRequest(r, "POST", "/webhooks/broker", `{
			"id":"evt_2","type":"transaction.created","account_ref":"acct_1",
			"transactions":[
				{"ref_id":"tx_1","type":"DIV","symbol":"AAPL","amount":"1.25","occurred_at":"2026-03-01T09:00:00Z"},
				{"ref_id":"tx_2","type":"SPINOFF","symbol":"GEHC","from_symbol":"GE","to_symbol":"GEHC","amount":"120","position_delta":"3","occurred_at":"2026-03-01T09:00:00+02:00"}
			]}`)

		if rec.Code != http.StatusAccepted {
			t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
		}
		txs := svc.received[0].Transactions
		if len(txs) != 2 {
			t.Fatalf("expected 2 transactions, got %d", len(txs))
		}
		if !txs[0].Amount.Equal(mustDecimal(t, "1.25")) || txs[0].Type != models.BrokerTransactionDividend {
			t.Errorf("unexpected first transaction: %+v", txs[0])
		}
		if txs[1].FromSymbol == nil || *txs[1].FromSymbol != "GE" {
			t.Errorf("expected from_symbol GE, got %v", txs[1].FromSymbol)
		}
		want := time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)
		if !txs[1].OccurredAt.Equal(want) || txs[1].OccurredAt.Location() != time.UTC {
			t.Errorf("expected occurred_at %v in UTC, got %v", want, txs[1].OccurredAt)
		}
	})

	t.Run("returns 400 on invalid payloads", func(t *testing.T) {
		bodies := map[string]string{
			"missing id":           `{"type":"account.updated","account_ref":"acct_1"}`,
			"unknown type":         `{"id":"evt","type":"fund.deleted"}`,
			"bad status":           `{"id":"evt","type":"account.updated","account_ref":"acct_1","status":"open"}`,
			"bad transaction type": `{"id":"evt","type":"transaction.created","account_ref":"acct_1","transactions":[{"ref_id":"tx","type":"INTEREST","symbol":"AAPL","occurred_at":"2026-03-01T09:00:00Z"}]}`,
			"missing occurred_at":  `{"id":"evt","type":"transaction.created","account_ref":"acct_1","transactions":[{"ref_id":"tx","type":"DIV","symbol":"AAPL"}]}`,
			"malformed json":       `{"id":`,
		}
		for name, body := range bodies {
			t.Run(name, func(t *testing.T) {
				svc := &mockWebhookService{}
				deliveries := &mockDeliveryLog{}
				r := setupWebhookRouter(NewWebhookHandler(svc, deliveries))

				rec := doRequest(r, "POST", "/webhooks/broker", body)

				if rec.Code != http.StatusBadRequest {
					t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
				}
				assertErrorCode(t, parseJSON(t, rec), "INVALID_WEBHOOK")
				if len(svc.received) != 0 {
					t.Error("expected service not to be called")
				}
				if len(deliveries.recorded) != 1 || deliveries.recorded[0].err == nil {
					t.Errorf("expected the rejection to be recorded, got %+v", deliveries.recorded)
				}
			})
		}
	})

	t.Run("returns 423 on lock timeout", func(t *testing.T) {
		svc := &mockWebhookService{
			handleEventFn: func(*services.WebhookEvent) error {
				return &locking.LockAcquisitionTimeoutError{Key: locking.ResourceKey{Kind: locking.KindBrokerAccount, ID: 1}, Timeout: time.Second}
			},
		}
		r := setupWebhookRouter(NewWebhookHandler(svc, &mockDeliveryLog{}))

		rec := doRequest(r, "POST", "/webhooks/broker", `{"id":"evt","type":"account.updated","account_ref":"acct_1"}`)

		if rec.Code != http.StatusLocked {
			t.Fatalf("expected 423, got %d", rec.Code)
		}
		assertErrorCode(t, parseJSON(t, rec), "LOCK_TIMEOUT")
	})

	t.Run("returns 500 on unexpected error", func(t *testing.T) {
		svc := &mockWebhookService{
			handleEventFn: func(*services.WebhookEvent) error { return errors.New("connection reset") },
		}
		r := setupWebhookRouter(NewWebhookHandler(svc, &mockDeliveryLog{}))

		rec := doRequest(r, "POST", "/webhooks/broker", `{"id":"evt","type":"portfolio.rebalanced","portfolio_ref":"pf_1"}`)

		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("expected 500, got %d", rec.Code)
		}
		assertErrorCode(t, parseJSON(t, rec), "INTERNAL_ERROR")
	})
}
