package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"habitstreak/internal/model"
	"habitstreak/pkg/logger"
)

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidRecurrenceSpec),
		errors.Is(err, model.ErrInvalidMetricGate),
		errors.Is(err, model.ErrInvalidTask):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrDateOutOfAllowedRange):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrConcurrentModification):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// respondError logs err and writes the mapped status. Internal errors are
// not echoed to the client.
func respondError(c *gin.Context, log *zap.Logger, op string, err error) {
	status := statusFor(err)
	l := logger.WithTrace(c.Request.Context(), log)
	if status == http.StatusInternalServerError {
		l.Error(op+": failed", zap.Error(err))
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	l.Warn(op+": rejected", zap.Int("status", status), zap.Error(err))
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func parseID(c *gin.Context, name string) (int64, bool) {
	raw := c.Param(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return id, true
}

// parseDay reads a YYYY-MM-DD path parameter; "today" resolves via today.
func parseDay(c *gin.Context, name string, today func() time.Time) (time.Time, bool) {
	raw := c.Param(name)
	if raw == "today" {
		return today(), true
	}
	d, err := model.ParseDate(raw)
	if err != nil {
		badRequest(c, err.Error())
		return time.Time{}, false
	}
	return d, true
}

func queryInt(c *gin.Context, name string, def, min, max int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < min || v > max {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return v, true
}
