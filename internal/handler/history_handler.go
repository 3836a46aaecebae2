package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"habitstreak/internal/service"
)

type HistoryHandler struct {
	history *service.History
	logger  *zap.Logger
}

func NewHistoryHandler(history *service.History, logger *zap.Logger) *HistoryHandler {
	return &HistoryHandler{history: history, logger: logger}
}

func parseMonth(c *gin.Context) (int, time.Month, bool) {
	year, err := strconv.Atoi(c.Param("year"))
	if err != nil || year < 1970 || year > 9999 {
		badRequest(c, "invalid year")
		return 0, 0, false
	}
	month, err := strconv.Atoi(c.Param("month"))
	if err != nil || month < 1 || month > 12 {
		badRequest(c, "invalid month")
		return 0, 0, false
	}
	return year, time.Month(month), true
}

// Month handles GET /profiles/:profile_id/history/:year/:month
func (h *HistoryHandler) Month(c *gin.Context) {
	profileID, ok := parseID(c, "profile_id")
	if !ok {
		return
	}
	year, month, ok := parseMonth(c)
	if !ok {
		return
	}
	cal, err := h.history.Month(c.Request.Context(), profileID, year, month)
	if err != nil {
		respondError(c, h.logger, "HistoryMonth", err)
		return
	}
	c.JSON(http.StatusOK, cal)
}

// Stats handles GET /profiles/:profile_id/history/:year/:month/stats
func (h *HistoryHandler) Stats(c *gin.Context) {
	profileID, ok := parseID(c, "profile_id")
	if !ok {
		return
	}
	year, month, ok := parseMonth(c)
	if !ok {
		return
	}
	st, err := h.history.Stats(c.Request.Context(), profileID, year, month)
	if err != nil {
		respondError(c, h.logger, "HistoryStats", err)
		return
	}
	c.JSON(http.StatusOK, st)
}
