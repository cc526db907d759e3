package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"

	apperrors "github.com/gainy-app/gainy-compute-sub000/internal/errors"
	"github.com/gainy-app/gainy-compute-sub000/internal/services"
)

type mockJobRunner struct {
	runFn func(name string) (*services.RunResult, error)
}

func (m *mockJobRunner) Run(_ context.Context, name string) (*services.RunResult, error) {
	return m.runFn(name)
}

func setupJobRouter(handler *JobHandler) *gin.Engine {
	r := gin.New()
	r.POST("/jobs/:job", handler.RunJob)
	return r
}

func TestJobHandler_RunJob(t *testing.T) {
	t.Run("returns the run summary", func(t *testing.T) {
		var ran string
		runner := &mockJobRunner{runFn: func(name string) (*services.RunResult, error) {
			ran = name
			return &services.RunResult{Job: name, Processed: 3, Skipped: 1}, nil
		}}
		r := setupJobRouter(NewJobHandler(runner))

		rec := doRequest(r, "POST", "/jobs/reconcile", "")

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if ran != "reconcile" {
			t.Errorf("expected reconcile to run, got %q", ran)
		}
		result := parseJSON(t, rec)["result"].(map[string]interface{})
		if result["processed"] != float64(3) || result["skipped"] != float64(1) {
			t.Errorf("unexpected result: %v", result)
		}
	})

	t.Run("returns 400 on unknown job", func(t *testing.T) {
		runner := &mockJobRunner{runFn: func(name string) (*services.RunResult, error) {
			return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "unknown job "+name)
		}}
		r := setupJobRouter(NewJobHandler(runner))

		rec := doRequest(r, "POST", "/jobs/vacuum", "")

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
		assertErrorCode(t, parseJSON(t, rec), "INVALID_INPUT")
	})
}
