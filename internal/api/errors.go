package api

import (
	"net/http"

	"ticket-service/internal/apperr"
	"ticket-service/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type errorBody struct {
	Error   string         `json:"error"`
	Code    string         `json:"code,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// respondError renders err as a structured payload. Unclassified errors are
// logged and hidden behind a generic message.
func respondError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)

	if status == http.StatusInternalServerError {
		util.GetLogger().Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(status, errorBody{Error: "internal server error"})
		return
	}

	body := errorBody{Error: err.Error()}
	if appErr, ok := apperr.As(err); ok {
		body.Error = appErr.Message
		body.Code = appErr.Code
		body.Details = appErr.Details
	}
	if status == http.StatusServiceUnavailable {
		util.GetLogger().Warn("Dependency unavailable", zap.Error(err))
	}
	c.JSON(status, body)
}
