package controller

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ramincsy/Sarafchi/internal/models"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// respondError maps domain sentinel errors to HTTP status codes. Anything
// unmapped is a 500 with a generic title so internals do not leak into the
// error field.
func respondError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrValidation):
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Validation failed", Message: err.Error()})
	case errors.Is(err, models.ErrNotFound):
		ctx.JSON(http.StatusNotFound, ErrorResponse{Error: "Not found", Message: err.Error()})
	case errors.Is(err, models.ErrInvalidState):
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid state", Message: err.Error()})
	case errors.Is(err, models.ErrConflict):
		ctx.JSON(http.StatusConflict, ErrorResponse{Error: "Conflict", Message: err.Error()})
	default:
		ctx.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Internal error", Message: err.Error()})
	}
}
