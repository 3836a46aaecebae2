package util

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// SnapshotDeduper remembers the fingerprint of the last snapshot applied per
// (profile, date) so unchanged snapshots skip the engine entirely.
type SnapshotDeduper struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewSnapshotDeduper(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *SnapshotDeduper {
	return &SnapshotDeduper{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
	}
}

// Fingerprint hashes a snapshot independent of map order.
func Fingerprint(values map[string]float64) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(strconv.FormatFloat(values[k], 'g', -1, 64)))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func snapshotKey(profileID int64, date string) string {
	return fmt.Sprintf("dedup:snapshot:%d:%s", profileID, date)
}

// Seen reports whether fingerprint equals the last one recorded for the
// unit. Redis errors count as "not seen": the engine is idempotent anyway.
func (d *SnapshotDeduper) Seen(ctx context.Context, profileID int64, date, fingerprint string) bool {
	key := snapshotKey(profileID, date)
	last, err := d.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		d.logger.Warn("Redis dedup check failed, allowing processing",
			zap.String("dedup_key", key),
			zap.Error(err),
		)
		return false
	}
	if last == fingerprint {
		d.logger.Debug("Skipped duplicated snapshot", zap.String("dedup_key", key))
		return true
	}
	return false
}

// Remember records fingerprint after a successful apply.
func (d *SnapshotDeduper) Remember(ctx context.Context, profileID int64, date, fingerprint string) {
	key := snapshotKey(profileID, date)
	if err := d.rdb.Set(ctx, key, fingerprint, d.ttl).Err(); err != nil {
		d.logger.Warn("Failed to record snapshot fingerprint",
			zap.String("dedup_key", key),
			zap.Error(err),
		)
	}
}
