package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/gainy-app/gainy-compute-sub000/internal/errors"
	"github.com/gainy-app/gainy-compute-sub000/internal/logger"
)

// ErrorHandler renders the last error attached with c.Error when the handler
// wrote no response itself.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		RespondError(c, c.Errors.Last().Err)
	}
}

// RespondError writes the {"error":{"code","message"}} body for err.
//
// Errors that unwrap to an *AppError use its status, code and message. Lock
// timeouts (423) and version conflicts (409) also carry Retry-After so the
// broker redelivers the webhook. Anything else is logged and reported as a
// generic internal error.
func RespondError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		logger.Get().Errorw("unexpected error",
			"request_id", RequestID(c),
			"error", err.Error(),
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
		)
		appErr = apperrors.ErrInternalServer
	} else if appErr.Internal != nil || appErr.StatusCode >= http.StatusInternalServerError {
		logger.Get().Errorw("app error",
			"request_id", RequestID(c),
			"code", appErr.Code,
			"error", err.Error(),
			"path", c.Request.URL.Path,
		)
	}

	if errors.Is(err, apperrors.ErrLockTimeout) || errors.Is(err, apperrors.ErrConcurrentUpdate) {
		c.Header("Retry-After", "1")
	}
	c.AbortWithStatusJSON(appErr.StatusCode, gin.H{
		"error": gin.H{
			"code":    appErr.Code,
			"message": appErr.Message,
		},
	})
}
