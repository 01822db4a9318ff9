package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiredm-server/internal/core"
	"github.com/vovakirdan/wiredm-server/internal/proto"
)

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// HTTPStatusFromError maps a core error kind to an HTTP status.
func HTTPStatusFromError(err error) int {
	switch core.KindOf(err) {
	case core.KindValidation:
		return http.StatusBadRequest
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindAuthorization:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage hides storage details from clients.
func publicMessage(err error) string {
	if core.KindOf(err) == core.KindStore {
		return "internal server error"
	}
	return err.Error()
}

func respondError(c *gin.Context, logger *zerolog.Logger, err error) {
	status := HTTPStatusFromError(err)
	if status == http.StatusInternalServerError {
		logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(status, ErrorResponse{Error: publicMessage(err), Code: string(core.KindOf(err))})
}

// protoError converts a core error into a WebSocket error frame payload.
func protoError(err error) *proto.Error {
	return &proto.Error{Code: string(core.KindOf(err)), Msg: publicMessage(err)}
}
