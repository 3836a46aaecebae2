package util

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintIgnoresOrder(t *testing.T) {
	a := Fingerprint(map[string]float64{"steps": 12000, "sleep_minutes": 430})
	b := Fingerprint(map[string]float64{"sleep_minutes": 430, "steps": 12000})
	assert.Equal(t, a, b)
}

func TestFingerprintDistinguishesValues(t *testing.T) {
	assert.NotEqual(t,
		Fingerprint(map[string]float64{"steps": 12000}),
		Fingerprint(map[string]float64{"steps": 8000}),
	)
	assert.NotEqual(t,
		Fingerprint(map[string]float64{"ab": 1}),
		Fingerprint(map[string]float64{"a": 1, "b": 1}),
	)
	assert.NotEqual(t, Fingerprint(nil), Fingerprint(map[string]float64{"steps": 0}))
}

func TestLocalSnapshotDeduper(t *testing.T) {
	d, err := NewLocalSnapshotDeduper(2)
	require.NoError(t, err)
	ctx := context.Background()
	fp := Fingerprint(map[string]float64{"steps": 12000})

	assert.False(t, d.Seen(ctx, 1, "2024-01-01", fp))
	d.Remember(ctx, 1, "2024-01-01", fp)
	assert.True(t, d.Seen(ctx, 1, "2024-01-01", fp))
	assert.False(t, d.Seen(ctx, 1, "2024-01-01", Fingerprint(map[string]float64{"steps": 1})))
	assert.False(t, d.Seen(ctx, 2, "2024-01-01", fp), "keyed by profile")

	// 超出容量后最旧的指纹被淘汰
	d.Remember(ctx, 1, "2024-01-02", fp)
	d.Remember(ctx, 1, "2024-01-03", fp)
	assert.False(t, d.Seen(ctx, 1, "2024-01-01", fp))
	assert.True(t, d.Seen(ctx, 1, "2024-01-03", fp))
}

func TestLocalSnapshotDeduperRejectsBadSize(t *testing.T) {
	_, err := NewLocalSnapshotDeduper(0)
	assert.Error(t, err)
}
