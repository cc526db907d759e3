package models

// WebhookOutcome is how a webhook delivery ended.
type WebhookOutcome string

const (
	WebhookOutcomeProcessed WebhookOutcome = "PROCESSED"
	WebhookOutcomeRejected  WebhookOutcome = "REJECTED"
	WebhookOutcomeFailed    WebhookOutcome = "FAILED"
)

// WebhookDelivery records one inbound broker event for troubleshooting
// redeliveries. The same event id appears once per delivery attempt.
type WebhookDelivery struct {
	Base
	EventID      string         `gorm:"not null;index" json:"event_id"`
	EventType    string         `gorm:"not null" json:"event_type"`
	AccountRef   string         `json:"account_ref,omitempty"`
	PortfolioRef string         `json:"portfolio_ref,omitempty"`
	Transactions int            `gorm:"not null;default:0" json:"transactions"`
	Outcome      WebhookOutcome `gorm:"not null;index" json:"outcome"`
	ErrorCode    string         `json:"error_code,omitempty"`
	Error        string         `json:"error,omitempty"`
	RequestID    string         `json:"request_id,omitempty"`
	IPAddress    string         `json:"ip_address"`
}
