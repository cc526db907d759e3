package services

import (
	"fmt"
	"time"
)

// ItemError records why one item of a batch job failed.
type ItemError struct {
	ID    int64  `json:"id"`
	Error string `json:"error"`
}

// RunResult contains the outcome of a batch job run.
type RunResult struct {
	Job       string        `json:"job"`
	Processed int           `json:"processed"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Errors    []ItemError   `json:"errors,omitempty"`
	Duration  time.Duration `json:"duration"`
}

func newRunResult(job string) *RunResult {
	return &RunResult{Job: job}
}

func (r *RunResult) fail(id int64, err error) {
	r.Failed++
	r.Errors = append(r.Errors, ItemError{ID: id, Error: err.Error()})
}

// String summarizes the run for logs and the CLI.
func (r *RunResult) String() string {
	return fmt.Sprintf("%s: processed=%d skipped=%d failed=%d duration=%s",
		r.Job, r.Processed, r.Skipped, r.Failed, r.Duration.Round(time.Millisecond))
}
