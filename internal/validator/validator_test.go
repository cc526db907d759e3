package validator

import (
	"testing"

	"github.com/go-playground/validator/v10"
)

type sample struct {
	Symbol      string `validate:"omitempty,ticker_symbol"`
	EventType   string `validate:"omitempty,webhook_event_type"`
	Status      string `validate:"omitempty,broker_account_status"`
	Transaction string `validate:"omitempty,broker_transaction_type"`
}

func TestValidators(t *testing.T) {
	v := validator.New()
	RegisterOn(v)

	tests := []struct {
		name    string
		input   sample
		wantErr bool
	}{
		{name: "symbol", input: sample{Symbol: "AAPL"}},
		{name: "class_share_symbol", input: sample{Symbol: "BRK.B"}},
		{name: "lowercase_symbol", input: sample{Symbol: "aapl"}, wantErr: true},
		{name: "long_symbol", input: sample{Symbol: "ABCDEFGHIJKL"}, wantErr: true},
		{name: "event_type", input: sample{EventType: "portfolio.rebalanced"}},
		{name: "unknown_event_type", input: sample{EventType: "fund.deleted"}, wantErr: true},
		{name: "account_status", input: sample{Status: "FROZEN"}},
		{name: "lowercase_account_status", input: sample{Status: "open"}, wantErr: true},
		{name: "transaction_type", input: sample{Transaction: "DIVNRA"}},
		{name: "unknown_transaction_type", input: sample{Transaction: "INTEREST"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Struct(tt.input)
			if tt.wantErr && err == nil {
				t.Error("expected validation error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}
