package otel

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// DBSpan starts a client span for one PostgreSQL statement. The operation
// is the statement's leading keyword.
func DBSpan(ctx context.Context, statement string) (context.Context, trace.Span) {
	op := operationOf(statement)
	return Tracer().Start(ctx, "db."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.DBSystemPostgreSQL,
			semconv.DBOperationKey.String(op),
			attribute.String("db.statement", statement),
		),
	)
}

func operationOf(statement string) string {
	fields := strings.Fields(statement)
	if len(fields) == 0 {
		return "unknown"
	}
	return strings.ToLower(fields[0])
}
