// Package broker provides an HTTP client for the brokerage API that holds the
// authoritative account, portfolio and fund state.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/gainy-app/gainy-compute-sub000/internal/errors"
	"github.com/gainy-app/gainy-compute-sub000/internal/models"
	"github.com/gainy-app/gainy-compute-sub000/internal/uuid"
)

// RequestIDHeader carries the per-request id on every outbound call.
const RequestIDHeader = "X-Request-ID"

// TokenSource returns the bearer token attached to authenticated calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// APIError is returned for every non-2xx broker response.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("broker %s %s: unexpected status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Unwrap maps the response status onto the application error taxonomy.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return apperrors.ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return apperrors.ErrUnauthorized
	default:
		return apperrors.ErrBrokerUnavailable
	}
}

// IsNotFound reports whether err is a broker 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client communicates with the broker API.
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
	tokens     TokenSource
}

// NewClient creates a new broker API client. Authenticated calls fail until a
// TokenSource is attached with UseTokenSource.
func NewClient(baseURL, apiKey, apiSecret string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		httpClient: httpClient,
	}
}

// UseTokenSource sets where bearer tokens come from.
func (c *Client) UseTokenSource(ts TokenSource) {
	c.tokens = ts
}

// Authenticate exchanges the API credentials for a bearer token.
func (c *Client) Authenticate(ctx context.Context) (*AuthToken, error) {
	body := struct {
		APIKey    string `json:"api_key"`
		APISecret string `json:"api_secret"`
	}{APIKey: c.apiKey, APISecret: c.apiSecret}

	var raw rawAuthToken
	if err := c.do(ctx, http.MethodPost, "/auth/tokens", body, &raw, false); err != nil {
		return nil, err
	}
	return decodeAuthToken(raw)
}

// GetAccount fetches one brokerage account.
func (c *Client) GetAccount(ctx context.Context, accountRef string) (*Account, error) {
	var raw rawAccount
	if err := c.do(ctx, http.MethodGet, "/accounts/"+accountRef, nil, &raw, true); err != nil {
		return nil, err
	}
	return decodeAccount(raw)
}

// GetPortfolio fetches the target weights the broker currently holds.
func (c *Client) GetPortfolio(ctx context.Context, portfolioRef string) (*Portfolio, error) {
	var raw rawPortfolio
	if err := c.do(ctx, http.MethodGet, "/portfolios/"+portfolioRef, nil, &raw, true); err != nil {
		return nil, err
	}
	return decodePortfolio(raw)
}

// GetPortfolioStatus fetches the actual state of a portfolio. The returned
// snapshot is not validated; callers decide what to do with invalid ones.
func (c *Client) GetPortfolioStatus(ctx context.Context, portfolioRef string) (*models.PortfolioStatus, error) {
	var raw rawPortfolioStatus
	if err := c.do(ctx, http.MethodGet, "/portfolios/"+portfolioRef+"/status", nil, &raw, true); err != nil {
		return nil, err
	}
	return decodePortfolioStatus(raw)
}

// UpdatePortfolio replaces the full target weight vector of a portfolio.
func (c *Client) UpdatePortfolio(ctx context.Context, portfolioRef string, cash decimal.Decimal, funds map[string]decimal.Decimal) (*Portfolio, error) {
	body := rawPortfolioUpdate{Cash: cash, Funds: make([]rawWeight, 0, len(funds))}
	for _, ref := range sortedKeys(funds) {
		body.Funds = append(body.Funds, rawWeight{ID: ref, Percentage: funds[ref]})
	}

	var raw rawPortfolio
	if err := c.do(ctx, http.MethodPatch, "/portfolios/"+portfolioRef, body, &raw, true); err != nil {
		return nil, err
	}
	return decodePortfolio(raw)
}

// CreateFund creates a fund at the broker with the given symbol weights.
func (c *Client) CreateFund(ctx context.Context, name, description string, weights map[string]decimal.Decimal) (*Fund, error) {
	body := rawFundRequest{Name: name, Description: description, Type: "portfolio", Allocations: weightsToRaw(weights)}

	var raw rawFund
	if err := c.do(ctx, http.MethodPost, "/funds", body, &raw, true); err != nil {
		return nil, err
	}
	return decodeFund(raw)
}

// UpdateFund replaces the symbol weights of an existing fund.
func (c *Client) UpdateFund(ctx context.Context, fundRef string, weights map[string]decimal.Decimal) (*Fund, error) {
	body := rawFundRequest{Allocations: weightsToRaw(weights)}

	var raw rawFund
	if err := c.do(ctx, http.MethodPatch, "/funds/"+fundRef, body, &raw, true); err != nil {
		return nil, err
	}
	return decodeFund(raw)
}

// CreateForcedRebalance asks the broker to rebalance the accounts now rather
// than at the next scheduled window.
func (c *Client) CreateForcedRebalance(ctx context.Context, accountRefs []string) (*RebalanceRun, error) {
	body := struct {
		Type     string   `json:"type"`
		Accounts []string `json:"accounts"`
	}{Type: "full_rebalance", Accounts: accountRefs}

	var raw rawRebalanceRun
	if err := c.do(ctx, http.MethodPost, "/rebalances", body, &raw, true); err != nil {
		return nil, err
	}
	return decodeRebalanceRun(raw)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any, authenticated bool) error {
	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling %s %s body: %w", method, path, err)
		}
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, uuid.New())

	if authenticated {
		if c.tokens == nil {
			return apperrors.WithMessage(apperrors.ErrUnauthorized, "broker client has no token source")
		}
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("getting broker token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrBrokerUnavailable, fmt.Errorf("%s %s: %w", method, path, err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s response: %w", method, path, err)
	}
	return nil
}
