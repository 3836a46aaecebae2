package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"habitstreak/internal/model"
	"habitstreak/internal/repository"
	"habitstreak/pkg/circuitbreaker"
	"habitstreak/pkg/logger"
	"habitstreak/pkg/metrics"
	"habitstreak/pkg/util"
)

// MetricProvider returns an already-fetched snapshot for one profile and
// date. Auth, retries and rate limiting live behind it.
type MetricProvider interface {
	FetchSnapshot(ctx context.Context, profileID int64, date time.Time) (model.MetricSnapshot, error)
}

// ProfileLister names the profiles with metric data in a date range.
type ProfileLister interface {
	ListMetricProfiles(ctx context.Context, from, to time.Time) ([]int64, error)
}

// SnapshotDeduper is satisfied by *util.SnapshotDeduper.
type SnapshotDeduper interface {
	Seen(ctx context.Context, profileID int64, date, fingerprint string) bool
	Remember(ctx context.Context, profileID int64, date, fingerprint string)
}

// StoredMetricProvider serves the last ingested snapshot from the store.
type StoredMetricProvider struct {
	store repository.MetricStore
}

func NewStoredMetricProvider(store repository.MetricStore) *StoredMetricProvider {
	return &StoredMetricProvider{store: store}
}

func (p *StoredMetricProvider) FetchSnapshot(ctx context.Context, profileID int64, date time.Time) (model.MetricSnapshot, error) {
	values, err := p.store.ListMetricValues(ctx, profileID, date)
	if err != nil {
		return nil, err
	}
	return model.SnapshotOf(values), nil
}

type MetricSyncConfig struct {
	Interval time.Duration
	// LookbackDays is how many days ending today each pass covers; 2 means
	// yesterday and today.
	LookbackDays int
}

type SyncReport struct {
	Units   int `json:"units"`
	Applied int `json:"applied"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// MetricSync periodically re-applies metric snapshots to recent days. Each
// (profile, date) unit runs to completion once started; cancellation is
// honored between units.
type MetricSync struct {
	auto     *AutoChecker
	provider MetricProvider
	profiles ProfileLister
	store    repository.MetricStore
	breaker  *circuitbreaker.CircuitBreaker
	deduper  SnapshotDeduper
	clock    Clock
	cfg      MetricSyncConfig
	logger   *zap.Logger
}

func NewMetricSync(
	auto *AutoChecker,
	provider MetricProvider,
	profiles ProfileLister,
	store repository.MetricStore,
	clock Clock,
	cfg MetricSyncConfig,
	logger *zap.Logger,
) *MetricSync {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = 2
	}
	return &MetricSync{
		auto:     auto,
		provider: provider,
		profiles: profiles,
		store:    store,
		breaker:  circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig()),
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}
}

// WithDeduper skips snapshots identical to the last applied one.
func (s *MetricSync) WithDeduper(d SnapshotDeduper) *MetricSync {
	s.deduper = d
	return s
}

// WithBreaker replaces the default circuit breaker around the provider.
func (s *MetricSync) WithBreaker(cb *circuitbreaker.CircuitBreaker) *MetricSync {
	s.breaker = cb
	return s
}

// Run syncs once immediately and then every interval until ctx is done.
func (s *MetricSync) Run(ctx context.Context) {
	s.logger.Info("Metric sync started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Int("lookback_days", s.cfg.LookbackDays),
	)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.SyncOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("Metric sync pass failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			s.logger.Info("Metric sync stopped")
			return
		case <-ticker.C:
		}
	}
}

// SyncOnce runs one pass over every profile with recent metric data.
func (s *MetricSync) SyncOnce(ctx context.Context) (SyncReport, error) {
	start := time.Now()
	defer func() { metrics.RecordMetricSyncDuration(time.Since(start)) }()

	var report SyncReport
	today := Today(s.clock)
	from := model.AddDays(today, -(s.cfg.LookbackDays - 1))

	profiles, err := s.profiles.ListMetricProfiles(ctx, from, today)
	if err != nil {
		return report, fmt.Errorf("failed to list profiles: %w", err)
	}

	for _, profileID := range profiles {
		for date := from; !date.After(today); date = model.AddDays(date, 1) {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			report.Units++
			// 单元开始后不再响应取消，避免一天只应用一半
			switch status := s.syncUnit(context.WithoutCancel(ctx), profileID, date); status {
			case "applied":
				report.Applied++
			case "skipped":
				report.Skipped++
			default:
				report.Failed++
			}
		}
	}

	s.logger.Info("Metric sync pass finished",
		zap.Int("units", report.Units),
		zap.Int("applied", report.Applied),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

func (s *MetricSync) syncUnit(ctx context.Context, profileID int64, date time.Time) (status string) {
	defer func() { metrics.IncrementMetricSyncUnit(status) }()
	log := s.logger.With(zap.Int64("profile_id", profileID), zap.String("date", model.FormatDate(date)))

	var snapshot model.MetricSnapshot
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		snapshot, err = s.provider.FetchSnapshot(ctx, profileID, date)
		return err
	})
	if err != nil {
		log.Warn("Failed to fetch metric snapshot", zap.Error(err))
		return "failed"
	}
	if len(snapshot) == 0 {
		return "skipped"
	}

	applied, err := s.apply(ctx, profileID, date, snapshot)
	if err != nil {
		log.Error("Failed to apply metric snapshot", zap.Error(err))
		return "failed"
	}
	if !applied {
		return "skipped"
	}
	return "applied"
}

// apply runs the auto-check engine unless the deduper has seen the exact
// snapshot already.
func (s *MetricSync) apply(ctx context.Context, profileID int64, date time.Time, snapshot model.MetricSnapshot) (bool, error) {
	day := model.FormatDate(date)
	fp := util.Fingerprint(snapshot)
	if s.deduper != nil && s.deduper.Seen(ctx, profileID, day, fp) {
		return false, nil
	}
	if _, err := s.auto.ApplyMetricSnapshot(ctx, profileID, date, snapshot); err != nil {
		return false, err
	}
	if s.deduper != nil {
		s.deduper.Remember(ctx, profileID, day, fp)
	}
	return true, nil
}

// Ingest stores a pushed snapshot and applies it right away.
func (s *MetricSync) Ingest(
	ctx context.Context,
	profileID int64,
	date time.Time,
	snapshot model.MetricSnapshot,
	units map[string]string,
) (AutoCheckResult, error) {
	date = model.DateOf(date)
	if today := Today(s.clock); date.After(today) {
		return AutoCheckResult{}, fmt.Errorf("%w: snapshot for %s is after today (%s)",
			model.ErrDateOutOfAllowedRange, model.FormatDate(date), model.FormatDate(today))
	}
	now := s.clock.Now().UTC()
	values := make([]model.MetricValue, 0, len(snapshot))
	for key, v := range snapshot {
		values = append(values, model.MetricValue{
			ProfileID: profileID,
			Date:      date,
			MetricKey: key,
			Value:     v,
			Unit:      units[key],
			SyncedAt:  now,
		})
	}
	if err := s.store.UpsertMetricValues(ctx, values); err != nil {
		return AutoCheckResult{}, fmt.Errorf("failed to store metric values: %w", err)
	}

	res, err := s.auto.ApplyMetricSnapshot(ctx, profileID, date, snapshot)
	if err != nil {
		return res, err
	}
	if s.deduper != nil {
		s.deduper.Remember(ctx, profileID, model.FormatDate(date), util.Fingerprint(snapshot))
	}

	logger.WithTrace(ctx, s.logger).Info("Metric snapshot ingested",
		zap.Int64("profile_id", profileID),
		zap.String("date", model.FormatDate(date)),
		zap.Int("metrics", len(snapshot)),
		zap.Int("applied", len(res.Applied)),
	)
	return res, nil
}
