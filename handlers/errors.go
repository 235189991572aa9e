package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"trainflow/internal/predict"
)

// abortWithError maps domain errors onto HTTP status codes.
func abortWithError(c *gin.Context, log *slog.Logger, err error) {
	switch {
	case errors.Is(err, predict.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, predict.ErrNoModel):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no trained model available"})
	default:
		log.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
