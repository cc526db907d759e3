package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gainy-app/gainy-compute-sub000/internal/middleware"
	"github.com/gainy-app/gainy-compute-sub000/internal/services"
)

// JobRunner runs a named batch job.
type JobRunner interface {
	Run(ctx context.Context, name string) (*services.RunResult, error)
}

// JobHandler triggers batch jobs on demand.
type JobHandler struct {
	jobs JobRunner
}

// NewJobHandler creates a new JobHandler.
func NewJobHandler(jobs JobRunner) *JobHandler {
	return &JobHandler{jobs: jobs}
}

// RunJob runs the job named by the :job path parameter once and returns its
// summary.
func (h *JobHandler) RunJob(c *gin.Context) {
	result, err := h.jobs.Run(c.Request.Context(), c.Param("job"))
	if err != nil {
		middleware.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"result": result})
}
