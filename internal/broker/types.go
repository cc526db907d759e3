package broker

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"

	"github.com/gainy-app/gainy-compute-sub000/internal/models"
)

// AuthToken is a broker bearer token.
type AuthToken struct {
	Token     string
	ExpiresAt time.Time
}

// Account is a brokerage account.
type Account struct {
	RefID  string
	RefNo  string
	Status models.BrokerAccountStatus
}

// Portfolio is the target allocation the broker holds for an account.
type Portfolio struct {
	RefID string
	Cash  decimal.Decimal
	Funds map[string]decimal.Decimal
}

// Fund is a broker fund: a basket of symbol weights.
type Fund struct {
	RefID   string
	Name    string
	Weights map[string]decimal.Decimal
}

// RebalanceRun is a rebalance the broker accepted.
type RebalanceRun struct {
	RefID     string
	Status    string
	CreatedAt time.Time
}

type rawAuthToken struct {
	AccessToken string `json:"access_token"`
	ExpiresAt   string `json:"expires_at"`
}

type rawAccount struct {
	ID     string `json:"id"`
	No     string `json:"account_no"`
	Status string `json:"status"`
}

type rawWeight struct {
	ID         string          `json:"id"`
	Percentage decimal.Decimal `json:"target"`
}

type rawPortfolio struct {
	ID       string      `json:"id"`
	Holdings []rawWeight `json:"holdings"`
	Cash     struct {
		Target decimal.Decimal `json:"target"`
	} `json:"cash"`
}

type rawPortfolioUpdate struct {
	Cash  decimal.Decimal `json:"cash"`
	Funds []rawWeight     `json:"funds"`
}

type rawHolding struct {
	Symbol  string          `json:"symbol"`
	Actual  decimal.Decimal `json:"actual"`
	Value   decimal.Decimal `json:"value"`
	OpenQty decimal.Decimal `json:"open_qty"`
}

type rawFundStatus struct {
	ID       string          `json:"id"`
	Actual   decimal.Decimal `json:"actual"`
	Target   decimal.Decimal `json:"target"`
	Value    decimal.Decimal `json:"value"`
	Holdings []rawHolding    `json:"holdings"`
}

type rawPortfolioStatus struct {
	ID     string          `json:"id"`
	Equity decimal.Decimal `json:"equity"`
	Cash   struct {
		Value  decimal.Decimal `json:"value"`
		Actual decimal.Decimal `json:"actual"`
	} `json:"cash"`
	Holdings                 []rawFundStatus `json:"holdings"`
	LastPortfolioRebalanceAt string          `json:"last_portfolio_rebalance_at"`
	NextPortfolioRebalanceAt string          `json:"next_portfolio_rebalance_at"`
}

type rawAllocation struct {
	Symbol string          `json:"symbol"`
	Target decimal.Decimal `json:"target"`
}

type rawFundRequest struct {
	Name        string          `json:"name,omitempty"`
	Description string          `json:"description,omitempty"`
	Type        string          `json:"type,omitempty"`
	Allocations []rawAllocation `json:"allocations"`
}

type rawFund struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Allocations []rawAllocation `json:"allocations"`
}

type rawRebalanceRun struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	CreatedAt string `json:"created"`
}

func decodeAuthToken(raw rawAuthToken) (*AuthToken, error) {
	if raw.AccessToken == "" {
		return nil, fmt.Errorf("auth token response has no access_token")
	}
	expiresAt, err := parseTime(raw.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("auth token expires_at: %w", err)
	}
	if expiresAt == nil {
		exp, err := tokenExpiry(raw.AccessToken)
		if err != nil {
			return nil, err
		}
		expiresAt = &exp
	}
	return &AuthToken{Token: raw.AccessToken, ExpiresAt: *expiresAt}, nil
}

// tokenExpiry reads the exp claim without verifying the signature; the token
// is only ever sent back to the broker that issued it.
func tokenExpiry(token string) (time.Time, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing auth token: %w", err)
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("reading auth token exp: %w", err)
	}
	if exp == nil {
		return time.Time{}, fmt.Errorf("auth token has neither expires_at nor exp")
	}
	return exp.Time, nil
}

func decodeAccount(raw rawAccount) (*Account, error) {
	if raw.ID == "" {
		return nil, fmt.Errorf("account response has no id")
	}
	status, err := ParseAccountStatus(raw.Status)
	if err != nil {
		return nil, err
	}
	return &Account{RefID: raw.ID, RefNo: raw.No, Status: status}, nil
}

// ParseAccountStatus maps a broker account status onto the local enum.
func ParseAccountStatus(s string) (models.BrokerAccountStatus, error) {
	switch strings.ToUpper(s) {
	case "OPEN":
		return models.BrokerAccountStatusOpen, nil
	case "FROZEN":
		return models.BrokerAccountStatusFrozen, nil
	case "CLOSED":
		return models.BrokerAccountStatusClosed, nil
	case "PENDING", "":
		return models.BrokerAccountStatusPending, nil
	default:
		return "", fmt.Errorf("unknown account status %q", s)
	}
}

func decodePortfolio(raw rawPortfolio) (*Portfolio, error) {
	if raw.ID == "" {
		return nil, fmt.Errorf("portfolio response has no id")
	}
	funds := make(map[string]decimal.Decimal, len(raw.Holdings))
	for _, h := range raw.Holdings {
		funds[h.ID] = h.Percentage
	}
	return &Portfolio{RefID: raw.ID, Cash: raw.Cash.Target, Funds: funds}, nil
}

func decodePortfolioStatus(raw rawPortfolioStatus) (*models.PortfolioStatus, error) {
	last, err := parseTime(raw.LastPortfolioRebalanceAt)
	if err != nil {
		return nil, fmt.Errorf("last_portfolio_rebalance_at: %w", err)
	}
	next, err := parseTime(raw.NextPortfolioRebalanceAt)
	if err != nil {
		return nil, fmt.Errorf("next_portfolio_rebalance_at: %w", err)
	}

	funds := make(map[string]models.FundStatus, len(raw.Holdings))
	for _, f := range raw.Holdings {
		holdings := make([]models.HoldingStatus, 0, len(f.Holdings))
		for _, h := range f.Holdings {
			holdings = append(holdings, models.HoldingStatus{
				Symbol:       h.Symbol,
				ActualWeight: h.Actual,
				Value:        h.Value,
				OpenQty:      h.OpenQty,
			})
		}
		funds[f.ID] = models.FundStatus{
			ActualWeight: f.Actual,
			TargetWeight: f.Target,
			Value:        f.Value,
			Holdings:     holdings,
		}
	}

	return &models.PortfolioStatus{
		EquityValue:              raw.Equity,
		CashValue:                raw.Cash.Value,
		CashActualWeight:         raw.Cash.Actual,
		Funds:                    funds,
		LastPortfolioRebalanceAt: last,
		NextPortfolioRebalanceAt: next,
	}, nil
}

func decodeFund(raw rawFund) (*Fund, error) {
	if raw.ID == "" {
		return nil, fmt.Errorf("fund response has no id")
	}
	weights := make(map[string]decimal.Decimal, len(raw.Allocations))
	for _, a := range raw.Allocations {
		weights[a.Symbol] = a.Target
	}
	return &Fund{RefID: raw.ID, Name: raw.Name, Weights: weights}, nil
}

func decodeRebalanceRun(raw rawRebalanceRun) (*RebalanceRun, error) {
	created, err := parseTime(raw.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("rebalance created: %w", err)
	}
	run := &RebalanceRun{RefID: raw.ID, Status: raw.Status}
	if created != nil {
		run.CreatedAt = *created
	}
	return run, nil
}

func weightsToRaw(weights map[string]decimal.Decimal) []rawAllocation {
	out := make([]rawAllocation, 0, len(weights))
	for _, symbol := range sortedKeys(weights) {
		out = append(out, rawAllocation{Symbol: symbol, Target: weights[symbol]})
	}
	return out
}

func sortedKeys(m map[string]decimal.Decimal) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func parseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}
