// Package jobs names the batch runs of the engine and schedules them.
// The same registry backs the cron scheduler, the job trigger endpoint and
// the jobctl command.
package jobs

import (
	"context"
	"sort"
	"strings"

	apperrors "github.com/gainy-app/gainy-compute-sub000/internal/errors"
	"github.com/gainy-app/gainy-compute-sub000/internal/services"
)

// Job names.
const (
	Rebalance        = "rebalance"
	Reconcile        = "reconcile"
	CorporateActions = "corporate-actions"
)

// Func runs one batch over every eligible item.
type Func func(ctx context.Context) (*services.RunResult, error)

// Registry maps job names to their batch runs.
type Registry struct {
	jobs map[string]Func
}

// NewRegistry registers the rebalance, reconcile and corporate action runs.
func NewRegistry(rebalance services.RebalanceServicer, executions services.ExecutionServicer, corporateActions services.CorporateActionServicer) *Registry {
	r := &Registry{jobs: make(map[string]Func)}
	r.Register(Rebalance, rebalance.RebalancePortfolios)
	r.Register(Reconcile, executions.ReconcileAll)
	r.Register(CorporateActions, corporateActions.ProcessAll)
	return r
}

// Register adds or replaces a job.
func (r *Registry) Register(name string, fn Func) {
	r.jobs[name] = fn
}

// Names returns the registered job names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.jobs))
	for name := range r.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether name is a registered job.
func (r *Registry) Has(name string) bool {
	_, ok := r.jobs[name]
	return ok
}

// Run executes the named job. An unknown name is an INVALID_INPUT error.
func (r *Registry) Run(ctx context.Context, name string) (*services.RunResult, error) {
	fn, ok := r.jobs[name]
	if !ok {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidInput,
			"unknown job "+name+", expected one of: "+strings.Join(r.Names(), ", "))
	}
	return fn(ctx)
}
