package db

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"habitstreak/pkg/config"
)

func TestSlowQueryTracerLogsOnlySlowQueries(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	tracer := NewSlowQueryTracer(zap.New(core), 20*time.Millisecond)

	ctx := tracer.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "SELECT 1"})
	tracer.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{})
	assert.Equal(t, 0, logs.Len())

	ctx = tracer.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "SELECT pg_sleep(1)"})
	time.Sleep(30 * time.Millisecond)
	tracer.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{Err: errors.New("canceled")})
	if assert.Equal(t, 1, logs.Len()) {
		entry := logs.All()[0]
		assert.Equal(t, "slow-query", entry.Message)
		assert.Equal(t, "SELECT pg_sleep(1)", entry.ContextMap()["sql"])
	}
}

func TestSlowQueryTracerDefaults(t *testing.T) {
	tracer := NewSlowQueryTracer(zap.NewNop(), 0)
	assert.Equal(t, defaultSlowThreshold, tracer.slowThreshold)

	// 没有开始记录时直接忽略
	tracer.TraceQueryEnd(context.Background(), nil, pgx.TraceQueryEndData{})

	long := strings.Repeat("x", 250)
	assert.Len(t, truncateSQL(long), 203)
	assert.Equal(t, "unknown", truncateSQL(""))
}

func TestDSN(t *testing.T) {
	dsn := DSN(config.DBConfig{Host: "postgres", Port: 5432, User: "habit", Password: "pw", Name: "habitstreak"})
	assert.Equal(t, "postgres://habit:pw@postgres:5432/habitstreak?sslmode=disable", dsn)
}
