package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOperationOf(t *testing.T) {
	assert.Equal(t, "select", operationOf("\n        SELECT id FROM tasks"))
	assert.Equal(t, "insert", operationOf("INSERT INTO task_checks VALUES ($1)"))
	assert.Equal(t, "unknown", operationOf("   "))
}

func TestDBSpanWithoutProvider(t *testing.T) {
	ctx, span := DBSpan(context.Background(), "UPDATE day_completions SET complete = $1")
	assert.NotNil(t, ctx)
	EndSpan(span, nil)
}
