package httpserver

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"habitstreak/internal/handler"
	"habitstreak/pkg/metrics"
	"habitstreak/pkg/otel"
	"habitstreak/pkg/trace"
)

// Pinger is a dependency checked by /readyz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type Handlers struct {
	Day       *handler.DayHandler
	Task      *handler.TaskHandler
	History   *handler.HistoryHandler
	PunchList *handler.PunchListHandler
}

// TraceMiddleware 为每个请求分配 trace_id 并写回响应头
func TraceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if id := c.GetHeader(trace.HeaderName); id != "" {
			ctx = trace.WithContext(ctx, id)
		}
		ctx, id := trace.Ensure(ctx)
		c.Request = c.Request.WithContext(ctx)
		c.Header(trace.HeaderName, id)
		c.Next()
	}
}

// 请求日志 + 延迟指标
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		latency := time.Since(start)
		status := c.Writer.Status()
		metrics.RecordHTTPRequestDuration(c.Request.Method, route, strconv.Itoa(status), latency)

		logger.Info("HTTP Request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("query", c.Request.URL.RawQuery),
			zap.Int("status", status),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
			zap.String("trace_id", trace.FromContext(c.Request.Context())),
		)
	}
}

// NewRouter wires every route. Dependencies in ready are pinged by /readyz.
func NewRouter(h Handlers, logger *zap.Logger, ready map[string]Pinger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), TraceMiddleware(), otel.GinMiddleware(), requestLogger(logger))

	// Health endpoints (放在最前面)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(200)
	})
	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()

		for name, p := range ready {
			if err := p.Ping(ctx); err != nil {
				c.JSON(503, gin.H{"status": name + "_not_ready", "error": err.Error()})
				return
			}
		}
		c.JSON(200, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.POST("/recurrence/preview", h.Task.PreviewRecurrence)

	p := api.Group("/profiles/:profile_id")
	{
		p.GET("/days/:date", h.Day.GetDay)
		p.PUT("/days/:date/checks/:task_id", h.Day.ToggleCheck)
		p.POST("/days/:date/metrics", h.Day.PushMetrics)
		p.GET("/streak", h.Day.GetStreak)

		p.GET("/tasks", h.Task.ListTasks)
		p.POST("/tasks", h.Task.CreateTask)
		p.POST("/tasks/seed", h.Task.SeedTasks)
		p.GET("/tasks/:task_id", h.Task.GetTask)
		p.PATCH("/tasks/:task_id", h.Task.UpdateTask)
		p.DELETE("/tasks/:task_id", h.Task.DeleteTask)

		p.GET("/punch-list", h.PunchList.List)
		p.POST("/punch-list/:task_id/complete", h.PunchList.Complete)
		p.DELETE("/punch-list/:task_id/complete", h.PunchList.Uncomplete)
		p.DELETE("/punch-list/:task_id", h.PunchList.Delete)

		p.GET("/scheduled/upcoming", h.Task.Upcoming)
		p.GET("/scheduled/overdue", h.Task.Overdue)

		p.GET("/history/:year/:month", h.History.Month)
		p.GET("/history/:year/:month/stats", h.History.Stats)
	}
	return r
}
