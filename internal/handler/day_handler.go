package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"habitstreak/internal/model"
	"habitstreak/internal/service"
)

// SnapshotIngester is satisfied by *service.MetricSync.
type SnapshotIngester interface {
	Ingest(ctx context.Context, profileID int64, date time.Time, snapshot model.MetricSnapshot, units map[string]string) (service.AutoCheckResult, error)
}

// DayHandler serves the day view, check toggles, metric pushes and streaks.
type DayHandler struct {
	eval     *service.Evaluator
	streak   *service.StreakCalculator
	ingester SnapshotIngester
	logger   *zap.Logger
}

func NewDayHandler(eval *service.Evaluator, streak *service.StreakCalculator, ingester SnapshotIngester, logger *zap.Logger) *DayHandler {
	return &DayHandler{eval: eval, streak: streak, ingester: ingester, logger: logger}
}

// GetDay handles GET /profiles/:profile_id/days/:date
func (h *DayHandler) GetDay(c *gin.Context) {
	profileID, ok := parseID(c, "profile_id")
	if !ok {
		return
	}
	date, ok := parseDay(c, "date", h.eval.Today)
	if !ok {
		return
	}

	ev, err := h.eval.Evaluate(c.Request.Context(), profileID, date)
	if err != nil {
		respondError(c, h.logger, "GetDay", err)
		return
	}
	c.JSON(http.StatusOK, ev)
}

type toggleRequest struct {
	Checked *bool             `json:"checked" binding:"required"`
	Source  model.CheckSource `json:"source"`
}

// ToggleCheck handles PUT /profiles/:profile_id/days/:date/checks/:task_id
func (h *DayHandler) ToggleCheck(c *gin.Context) {
	profileID, ok := parseID(c, "profile_id")
	if !ok {
		return
	}
	date, ok := parseDay(c, "date", h.eval.Today)
	if !ok {
		return
	}
	taskID, ok := parseID(c, "task_id")
	if !ok {
		return
	}

	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	if req.Source == "" {
		req.Source = model.SourceManual
	}
	if !req.Source.Valid() {
		badRequest(c, "invalid source")
		return
	}

	res, err := h.eval.ToggleCheck(c.Request.Context(), profileID, date, taskID, *req.Checked, req.Source)
	if err != nil {
		respondError(c, h.logger, "ToggleCheck", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GetStreak handles GET /profiles/:profile_id/streak
func (h *DayHandler) GetStreak(c *gin.Context) {
	profileID, ok := parseID(c, "profile_id")
	if !ok {
		return
	}

	today := h.eval.Today()
	asOf := today
	if raw := c.Query("as_of"); raw != "" {
		d, err := model.ParseDate(raw)
		if err != nil {
			badRequest(c, "invalid as_of")
			return
		}
		if d.After(today) {
			respondError(c, h.logger, "GetStreak", fmt.Errorf("%w: as_of %s is after today", model.ErrDateOutOfAllowedRange, raw))
			return
		}
		asOf = d
	}

	st, err := h.streak.CurrentStreak(c.Request.Context(), profileID, asOf)
	if err != nil {
		respondError(c, h.logger, "GetStreak", err)
		return
	}
	c.JSON(http.StatusOK, st)
}

type metricsRequest struct {
	Metrics map[string]float64 `json:"metrics" binding:"required"`
	Units   map[string]string  `json:"units"`
}

// PushMetrics handles POST /profiles/:profile_id/days/:date/metrics
func (h *DayHandler) PushMetrics(c *gin.Context) {
	profileID, ok := parseID(c, "profile_id")
	if !ok {
		return
	}
	date, ok := parseDay(c, "date", h.eval.Today)
	if !ok {
		return
	}

	var req metricsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	res, err := h.ingester.Ingest(c.Request.Context(), profileID, date, model.MetricSnapshot(req.Metrics), req.Units)
	if err != nil {
		respondError(c, h.logger, "PushMetrics", err)
		return
	}
	c.JSON(http.StatusOK, res)
}
