package util

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LocalSnapshotDeduper is the in-process SnapshotDeduper used when Redis is
// not configured. It keeps the newest fingerprints of at most size units.
type LocalSnapshotDeduper struct {
	cache *lru.Cache[string, string]
}

func NewLocalSnapshotDeduper(size int) (*LocalSnapshotDeduper, error) {
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create dedup cache: %w", err)
	}
	return &LocalSnapshotDeduper{cache: cache}, nil
}

func (d *LocalSnapshotDeduper) Seen(_ context.Context, profileID int64, date, fingerprint string) bool {
	last, ok := d.cache.Get(snapshotKey(profileID, date))
	return ok && last == fingerprint
}

func (d *LocalSnapshotDeduper) Remember(_ context.Context, profileID int64, date, fingerprint string) {
	d.cache.Add(snapshotKey(profileID, date), fingerprint)
}
