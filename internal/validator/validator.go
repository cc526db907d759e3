// Package validator provides custom validation functions for Gin's binding engine.
package validator

import (
	"regexp"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/gainy-app/gainy-compute-sub000/internal/models"
	"github.com/gainy-app/gainy-compute-sub000/internal/services"
)

// Ticker symbols, including class shares such as BRK.B.
var symbolRegex = regexp.MustCompile(`^[A-Z][A-Z0-9]{0,9}([.\-][A-Z0-9]{1,4})?$`)

var webhookEventTypes = map[string]bool{
	services.WebhookAccountUpdated:      true,
	services.WebhookTransactionCreated:  true,
	services.WebhookPortfolioRebalanced: true,
}

// Register registers all custom validators with the Gin binding engine.
func Register() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		RegisterOn(v)
	}
}

// RegisterOn registers the custom validators on v.
func RegisterOn(v *validator.Validate) {
	_ = v.RegisterValidation("ticker_symbol", validateSymbol)
	_ = v.RegisterValidation("webhook_event_type", validateWebhookEventType)
	_ = v.RegisterValidation("broker_account_status", validateBrokerAccountStatus)
	_ = v.RegisterValidation("broker_transaction_type", validateBrokerTransactionType)
}

func validateSymbol(fl validator.FieldLevel) bool {
	return symbolRegex.MatchString(fl.Field().String())
}

func validateWebhookEventType(fl validator.FieldLevel) bool {
	return webhookEventTypes[fl.Field().String()]
}

func validateBrokerAccountStatus(fl validator.FieldLevel) bool {
	switch models.BrokerAccountStatus(fl.Field().String()) {
	case models.BrokerAccountStatusPending, models.BrokerAccountStatusOpen,
		models.BrokerAccountStatusFrozen, models.BrokerAccountStatusClosed:
		return true
	}
	return false
}

func validateBrokerTransactionType(fl validator.FieldLevel) bool {
	switch models.BrokerTransactionType(fl.Field().String()) {
	case models.BrokerTransactionDividend, models.BrokerTransactionDividendTax,
		models.BrokerTransactionDividendNRA, models.BrokerTransactionSpinoff,
		models.BrokerTransactionMergerAcquisition, models.BrokerTransactionCashTransfer,
		models.BrokerTransactionCashWithdrawal, models.BrokerTransactionFill:
		return true
	}
	return false
}
