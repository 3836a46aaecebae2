package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"habitstreak/internal/model"
	"habitstreak/pkg/logger"
	"habitstreak/pkg/metrics"
	"habitstreak/pkg/otel"
)

// Intent is one check change the engine applied.
type Intent struct {
	TaskID  int64 `json:"task_id"`
	Checked bool  `json:"checked"`
}

// Diagnostic reports a gated task that could not be evaluated or whose check
// could not be written.
type Diagnostic struct {
	TaskID    int64  `json:"task_id"`
	MetricKey string `json:"metric_key"`
	Reason    string `json:"reason"`
}

type AutoCheckResult struct {
	Applied     []Intent     `json:"applied"`
	Diagnostics []Diagnostic `json:"diagnostics"`
	// Day is the DayCompletion after the intents, nil when nothing was written.
	Day *model.DayCompletion `json:"day,omitempty"`
}

// AutoChecker turns metric snapshots into auto checks through the
// evaluator's write path.
type AutoChecker struct {
	eval   *Evaluator
	logger *zap.Logger
}

func NewAutoChecker(eval *Evaluator, logger *zap.Logger) *AutoChecker {
	return &AutoChecker{eval: eval, logger: logger}
}

// ApplyMetricSnapshot checks gated tasks whose goal is met and unchecks
// auto-checked tasks whose goal is no longer met. Manual checks are never
// undone and tasks whose metric is absent are left alone. The whole snapshot
// is applied under one day lock.
func (a *AutoChecker) ApplyMetricSnapshot(
	ctx context.Context,
	profileID int64,
	date time.Time,
	snapshot model.MetricSnapshot,
) (res AutoCheckResult, err error) {
	ctx, span := otel.StartSpan(ctx, "autocheck.ApplyMetricSnapshot",
		attribute.Int64("profile_id", profileID),
		attribute.Int("metrics", len(snapshot)),
	)
	defer func() { otel.EndSpan(span, err) }()

	res = AutoCheckResult{Applied: []Intent{}, Diagnostics: []Diagnostic{}}
	date = model.DateOf(date)
	if today := a.eval.Today(); date.After(today) {
		return res, fmt.Errorf("%w: snapshot for %s is after today (%s)",
			model.ErrDateOutOfAllowedRange, model.FormatDate(date), model.FormatDate(today))
	}

	store := a.eval.store
	tasks, err := store.ListTasks(ctx, profileID)
	if err != nil {
		return res, fmt.Errorf("failed to load tasks: %w", err)
	}

	release, err := a.eval.locker.Acquire(ctx, dayLockKey(profileID, date))
	if err != nil {
		return res, err
	}
	defer release()

	checks, err := store.ListChecks(ctx, profileID, date, date)
	if err != nil {
		return res, fmt.Errorf("failed to load checks: %w", err)
	}
	current := make(map[int64]model.CheckRecord, len(checks))
	for _, c := range checks {
		current[c.TaskID] = c
	}

	log := logger.WithTrace(ctx, a.logger)
	for _, t := range tasks {
		if t.MetricGate == nil || !t.ActiveOn(date) {
			continue
		}
		gate := *t.MetricGate
		value, present := snapshot[gate.MetricKey]
		if !present {
			continue
		}

		met, err := gate.Met(value)
		if err != nil {
			res.Diagnostics = append(res.Diagnostics, Diagnostic{
				TaskID:    t.ID,
				MetricKey: gate.MetricKey,
				Reason:    err.Error(),
			})
			metrics.IncrementAutoCheckDiagnostic("invalid_gate")
			log.Warn("Skipping gated task",
				zap.Int64("task_id", t.ID),
				zap.String("metric_key", gate.MetricKey),
				zap.Error(err),
			)
			continue
		}

		cur := current[t.ID]
		var want bool
		switch {
		case met && !cur.Checked:
			want = true
		case !met && cur.Checked && cur.Source == model.SourceAuto:
			want = false
		default:
			continue
		}

		if _, _, err := a.eval.writeCheckLocked(ctx, t, date, want, model.SourceAuto); err != nil {
			// 其余任务继续处理，日完成状态按已写入的检查重算
			res.Diagnostics = append(res.Diagnostics, Diagnostic{
				TaskID:    t.ID,
				MetricKey: gate.MetricKey,
				Reason:    err.Error(),
			})
			metrics.IncrementAutoCheckDiagnostic("write_failed")
			log.Error("Failed to write auto check",
				zap.Int64("task_id", t.ID),
				zap.String("date", model.FormatDate(date)),
				zap.Error(err),
			)
			continue
		}
		res.Applied = append(res.Applied, Intent{TaskID: t.ID, Checked: want})
		if want {
			metrics.IncrementAutoCheckIntent("check")
		} else {
			metrics.IncrementAutoCheckIntent("uncheck")
		}
	}

	if len(res.Applied) == 0 {
		return res, nil
	}
	dc, _, err := a.eval.recomputeLocked(ctx, profileID, date)
	if err != nil {
		return res, err
	}
	res.Day = &dc

	log.Info("Applied metric snapshot",
		zap.Int64("profile_id", profileID),
		zap.String("date", model.FormatDate(date)),
		zap.Int("applied", len(res.Applied)),
		zap.Int("diagnostics", len(res.Diagnostics)),
	)
	return res, nil
}
