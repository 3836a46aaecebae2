package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"habitstreak/internal/model"
	"habitstreak/internal/recurrence"
	"habitstreak/internal/service"
	"habitstreak/pkg/logger"
)

type TaskHandler struct {
	registry  *service.Registry
	scheduler *service.Scheduler
	autoSeed  bool
	logger    *zap.Logger
}

func NewTaskHandler(registry *service.Registry, scheduler *service.Scheduler, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{registry: registry, scheduler: scheduler, logger: logger}
}

// WithAutoSeed makes ListTasks seed the starter tasks for a profile that has
// none.
func (h *TaskHandler) WithAutoSeed(on bool) *TaskHandler {
	h.autoSeed = on
	return h
}

// taskRequest is the create/update body. Recurrence and metric_gate are kept
// raw so an update can tell "absent" from "null"; due_date uses the key set.
type taskRequest struct {
	Title          *string         `json:"title"`
	SortOrder      *int            `json:"sort_order"`
	Type           *model.TaskType `json:"type"`
	Required       *bool           `json:"required"`
	Active         *bool           `json:"active"`
	ActivationDate *string         `json:"activation_date"`
	DueDate        *string         `json:"due_date"`
	Recurrence     json.RawMessage `json:"recurrence"`
	MetricGate     json.RawMessage `json:"metric_gate"`

	present map[string]struct{}
}

func bindTaskRequest(c *gin.Context) (taskRequest, bool) {
	var raw map[string]json.RawMessage
	if err := c.ShouldBindJSON(&raw); err != nil {
		badRequest(c, "invalid request")
		return taskRequest{}, false
	}
	body, _ := json.Marshal(raw)

	var req taskRequest
	if err := json.Unmarshal(body, &req); err != nil {
		badRequest(c, "invalid request")
		return taskRequest{}, false
	}
	req.present = make(map[string]struct{}, len(raw))
	for k := range raw {
		req.present[k] = struct{}{}
	}
	return req, true
}

func (r taskRequest) has(key string) bool {
	_, ok := r.present[key]
	return ok
}

func (r taskRequest) activation() (*time.Time, error) {
	return parseOptionalDate(r.ActivationDate)
}

func (r taskRequest) due() (*time.Time, error) {
	return parseOptionalDate(r.DueDate)
}

func parseOptionalDate(s *string) (*time.Time, error) {
	if s == nil {
		return nil, nil
	}
	d, err := model.ParseDate(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r taskRequest) gate() (*model.MetricGate, error) {
	if len(r.MetricGate) == 0 || string(r.MetricGate) == "null" {
		return nil, nil
	}
	var g model.MetricGate
	if err := json.Unmarshal(r.MetricGate, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// ListTasks handles GET /profiles/:profile_id/tasks
func (h *TaskHandler) ListTasks(c *gin.Context) {
	profileID, ok := parseID(c, "profile_id")
	if !ok {
		return
	}
	tasks, err := h.registry.List(c.Request.Context(), profileID)
	if err == nil && len(tasks) == 0 && h.autoSeed {
		tasks, err = h.registry.SeedDefaults(c.Request.Context(), profileID)
	}
	if err != nil {
		respondError(c, h.logger, "ListTasks", err)
		return
	}
	if tasks == nil {
		tasks = []model.Task{}
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

// GetTask handles GET /profiles/:profile_id/tasks/:task_id
func (h *TaskHandler) GetTask(c *gin.Context) {
	profileID, ok := parseID(c, "profile_id")
	if !ok {
		return
	}
	taskID, ok := parseID(c, "task_id")
	if !ok {
		return
	}
	t, err := h.registry.Get(c.Request.Context(), profileID, taskID)
	if err != nil {
		respondError(c, h.logger, "GetTask", err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// CreateTask handles POST /profiles/:profile_id/tasks
func (h *TaskHandler) CreateTask(c *gin.Context) {
	profileID, ok := parseID(c, "profile_id")
	if !ok {
		return
	}
	req, ok := bindTaskRequest(c)
	if !ok {
		return
	}

	in := service.CreateTaskInput{Required: req.Required}
	if req.Title != nil {
		in.Title = *req.Title
	}
	if req.SortOrder != nil {
		in.SortOrder = *req.SortOrder
	}
	if req.Type != nil {
		in.Type = *req.Type
	}
	var err error
	if in.ActivationDate, err = req.activation(); err != nil {
		badRequest(c, err.Error())
		return
	}
	if in.DueDate, err = req.due(); err != nil {
		badRequest(c, err.Error())
		return
	}
	if in.Recurrence, err = model.UnmarshalRecurrence(req.Recurrence); err != nil {
		respondError(c, h.logger, "CreateTask", err)
		return
	}
	if in.MetricGate, err = req.gate(); err != nil {
		badRequest(c, "invalid metric_gate")
		return
	}

	t, err := h.registry.Create(c.Request.Context(), profileID, in)
	if err != nil {
		respondError(c, h.logger, "CreateTask", err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

// UpdateTask handles PATCH /profiles/:profile_id/tasks/:task_id
func (h *TaskHandler) UpdateTask(c *gin.Context) {
	profileID, ok := parseID(c, "profile_id")
	if !ok {
		return
	}
	taskID, ok := parseID(c, "task_id")
	if !ok {
		return
	}
	req, ok := bindTaskRequest(c)
	if !ok {
		return
	}

	in := service.UpdateTaskInput{
		Title:         req.Title,
		SortOrder:     req.SortOrder,
		Type:          req.Type,
		Required:      req.Required,
		Active:        req.Active,
		SetRecurrence: req.has("recurrence"),
		SetMetricGate: req.has("metric_gate"),
		SetDueDate:    req.has("due_date"),
	}
	var err error
	if in.ActivationDate, err = req.activation(); err != nil {
		badRequest(c, err.Error())
		return
	}
	if in.DueDate, err = req.due(); err != nil {
		badRequest(c, err.Error())
		return
	}
	if in.Recurrence, err = model.UnmarshalRecurrence(req.Recurrence); err != nil {
		respondError(c, h.logger, "UpdateTask", err)
		return
	}
	if in.MetricGate, err = req.gate(); err != nil {
		badRequest(c, "invalid metric_gate")
		return
	}

	t, err := h.registry.Update(c.Request.Context(), profileID, taskID, in)
	if err != nil {
		respondError(c, h.logger, "UpdateTask", err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// DeleteTask handles DELETE /profiles/:profile_id/tasks/:task_id
func (h *TaskHandler) DeleteTask(c *gin.Context) {
	profileID, ok := parseID(c, "profile_id")
	if !ok {
		return
	}
	taskID, ok := parseID(c, "task_id")
	if !ok {
		return
	}
	if err := h.registry.Delete(c.Request.Context(), profileID, taskID); err != nil {
		respondError(c, h.logger, "DeleteTask", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SeedTasks handles POST /profiles/:profile_id/tasks/seed
func (h *TaskHandler) SeedTasks(c *gin.Context) {
	profileID, ok := parseID(c, "profile_id")
	if !ok {
		return
	}
	created, err := h.registry.SeedDefaults(c.Request.Context(), profileID)
	if err != nil {
		respondError(c, h.logger, "SeedTasks", err)
		return
	}
	if created == nil {
		created = []model.Task{}
	}
	logger.WithTrace(c.Request.Context(), h.logger).Info("SeedTasks: success",
		zap.Int64("profile_id", profileID),
		zap.Int("created", len(created)),
	)
	c.JSON(http.StatusOK, gin.H{"tasks": created})
}

// Upcoming handles GET /profiles/:profile_id/scheduled/upcoming?days=7
func (h *TaskHandler) Upcoming(c *gin.Context) {
	profileID, ok := parseID(c, "profile_id")
	if !ok {
		return
	}
	days, ok := queryInt(c, "days", 7, 0, 366)
	if !ok {
		return
	}
	occ, err := h.scheduler.Upcoming(c.Request.Context(), profileID, days)
	if err != nil {
		respondError(c, h.logger, "Upcoming", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"occurrences": occ})
}

// Overdue handles GET /profiles/:profile_id/scheduled/overdue
func (h *TaskHandler) Overdue(c *gin.Context) {
	profileID, ok := parseID(c, "profile_id")
	if !ok {
		return
	}
	occ, err := h.scheduler.Overdue(c.Request.Context(), profileID)
	if err != nil {
		respondError(c, h.logger, "Overdue", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"occurrences": occ})
}

type previewRequest struct {
	Recurrence     json.RawMessage `json:"recurrence" binding:"required"`
	ActivationDate string          `json:"activation_date"`
	From           string          `json:"from" binding:"required"`
	Count          int             `json:"count"`
}

// PreviewRecurrence handles POST /recurrence/preview and lists the next due
// dates of a spec without storing anything.
func (h *TaskHandler) PreviewRecurrence(c *gin.Context) {
	var req previewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	spec, err := model.UnmarshalRecurrence(req.Recurrence)
	if err != nil {
		respondError(c, h.logger, "PreviewRecurrence", err)
		return
	}
	if spec == nil {
		badRequest(c, "recurrence is required")
		return
	}
	from, err := model.ParseDate(req.From)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	var anchor recurrence.Anchor
	if req.ActivationDate != "" {
		if anchor.Activation, err = model.ParseDate(req.ActivationDate); err != nil {
			badRequest(c, err.Error())
			return
		}
	}
	if req.Count <= 0 || req.Count > 52 {
		req.Count = 5
	}

	dates := make([]string, 0, req.Count)
	cursor := model.AddDays(from, -1)
	for len(dates) < req.Count {
		next := recurrence.NextDue(spec, anchor, cursor)
		if next.IsZero() {
			break
		}
		dates = append(dates, model.FormatDate(next))
		cursor = next
	}
	c.JSON(http.StatusOK, gin.H{"due_dates": dates})
}
