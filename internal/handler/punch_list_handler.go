package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"habitstreak/internal/model"
	"habitstreak/internal/service"
	"habitstreak/pkg/logger"
)

type PunchListHandler struct {
	punchList *service.PunchList
	logger    *zap.Logger
}

func NewPunchListHandler(punchList *service.PunchList, logger *zap.Logger) *PunchListHandler {
	return &PunchListHandler{punchList: punchList, logger: logger}
}

// List handles GET /profiles/:profile_id/punch-list?include_archived=true
func (h *PunchListHandler) List(c *gin.Context) {
	profileID, ok := parseID(c, "profile_id")
	if !ok {
		return
	}
	includeArchived := false
	if raw := c.Query("include_archived"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			badRequest(c, "invalid include_archived")
			return
		}
		includeArchived = v
	}

	tasks, err := h.punchList.List(c.Request.Context(), profileID, includeArchived)
	if err != nil {
		respondError(c, h.logger, "PunchList", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

// Complete handles POST /profiles/:profile_id/punch-list/:task_id/complete
func (h *PunchListHandler) Complete(c *gin.Context) {
	h.setCompleted(c, "CompletePunchListItem", h.punchList.Complete)
}

// Uncomplete handles DELETE /profiles/:profile_id/punch-list/:task_id/complete
func (h *PunchListHandler) Uncomplete(c *gin.Context) {
	h.setCompleted(c, "UncompletePunchListItem", h.punchList.Uncomplete)
}

func (h *PunchListHandler) setCompleted(
	c *gin.Context,
	op string,
	apply func(ctx context.Context, profileID, taskID int64) (model.Task, error),
) {
	profileID, ok := parseID(c, "profile_id")
	if !ok {
		return
	}
	taskID, ok := parseID(c, "task_id")
	if !ok {
		return
	}
	t, err := apply(c.Request.Context(), profileID, taskID)
	if err != nil {
		respondError(c, h.logger, op, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// Delete handles DELETE /profiles/:profile_id/punch-list/:task_id
func (h *PunchListHandler) Delete(c *gin.Context) {
	profileID, ok := parseID(c, "profile_id")
	if !ok {
		return
	}
	taskID, ok := parseID(c, "task_id")
	if !ok {
		return
	}
	if err := h.punchList.Delete(c.Request.Context(), profileID, taskID); err != nil {
		respondError(c, h.logger, "DeletePunchListItem", err)
		return
	}
	logger.WithTrace(c.Request.Context(), h.logger).Info("DeletePunchListItem: success",
		zap.Int64("profile_id", profileID),
		zap.Int64("task_id", taskID),
	)
	c.Status(http.StatusNoContent)
}
