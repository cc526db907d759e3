package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/gainy-app/gainy-compute-sub000/internal/errors"
	"github.com/gainy-app/gainy-compute-sub000/internal/models"
	"github.com/gainy-app/gainy-compute-sub000/internal/services"
)

type stubRebalance struct{ calls int }

func (s *stubRebalance) RebalancePortfolios(context.Context) (*services.RunResult, error) {
	s.calls++
	return &services.RunResult{Job: Rebalance, Processed: 2}, nil
}

func (s *stubRebalance) RebalancePortfolio(context.Context, *models.Portfolio) error { return nil }

type stubExecutions struct{ err error }

func (s *stubExecutions) ReconcileAll(context.Context) (*services.RunResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &services.RunResult{Job: Reconcile}, nil
}

func (s *stubExecutions) ReconcileProfile(context.Context, int64) ([]models.TradingOrder, error) {
	return nil, nil
}

type stubCorporateActions struct{}

func (stubCorporateActions) IngestTransactions(context.Context, []models.BrokerTransaction) (int64, error) {
	return 0, nil
}

func (stubCorporateActions) ProcessAll(context.Context) (*services.RunResult, error) {
	return &services.RunResult{Job: CorporateActions, Skipped: 1}, nil
}

func (stubCorporateActions) ProcessPortfolio(context.Context, *models.Portfolio) ([]models.CorporateActionAdjustment, error) {
	return nil, nil
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	rebalance := &stubRebalance{}
	executions := &stubExecutions{}
	r := NewRegistry(rebalance, executions, stubCorporateActions{})

	assert.Equal(t, []string{CorporateActions, Rebalance, Reconcile}, r.Names())

	result, err := r.Run(ctx, Rebalance)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 1, rebalance.calls)

	result, err = r.Run(ctx, CorporateActions)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)

	executions.err = apperrors.ErrBrokerUnavailable
	_, err = r.Run(ctx, Reconcile)
	assert.True(t, errors.Is(err, apperrors.ErrBrokerUnavailable))

	_, err = r.Run(ctx, "vacuum")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
	assert.Contains(t, err.Error(), "rebalance")
}
