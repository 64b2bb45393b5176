package db

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

type queryStart struct {
	sql   string
	start time.Time
}

type queryKey struct{}

// QueryTracer reports every query's duration by statement type and logs the
// ones slower than threshold.
type QueryTracer struct {
	logger    *zap.Logger
	threshold time.Duration
	observe   func(queryType string, d time.Duration)
}

func NewQueryTracer(logger *zap.Logger, threshold time.Duration, observe func(string, time.Duration)) *QueryTracer {
	if observe == nil {
		observe = func(string, time.Duration) {}
	}
	return &QueryTracer{
		logger:    logger,
		threshold: threshold,
		observe:   observe,
	}
}

func (t *QueryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, queryKey{}, queryStart{sql: data.SQL, start: time.Now()})
}

func (t *QueryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	qs, ok := ctx.Value(queryKey{}).(queryStart)
	if !ok {
		return
	}

	duration := time.Since(qs.start)
	t.observe(QueryType(qs.sql), duration)

	if duration > t.threshold {
		t.logger.Warn("slow query detected",
			zap.Duration("duration", duration),
			zap.String("sql", qs.sql),
			zap.Error(data.Err),
		)
	}
}

// QueryType is the lower-cased leading keyword of a statement.
func QueryType(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "unknown"
	}
	return strings.ToLower(fields[0])
}
