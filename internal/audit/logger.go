package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const (
	ActionAuthzReset      = "authz.reset"
	ActionAuthzInvalidate = "authz.invalidate"
	ActionRateLimitClear  = "ratelimit.clear"
)

type Event struct {
	ID           uuid.UUID
	ActorID      string
	Action       string
	ResourceType string
	ResourceID   string
	Metadata     map[string]any
	Timestamp    time.Time
}

// Logger records administrative actions. With a nil pool events are only
// written to the structured log.
type Logger struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewLogger(pool *pgxpool.Pool, logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{
		pool:   pool,
		logger: logger,
	}
}

func (al *Logger) Log(ctx context.Context, event Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	al.logger.Info("audit event",
		zap.String("event_id", event.ID.String()),
		zap.String("actor_id", event.ActorID),
		zap.String("action", event.Action),
		zap.String("resource_type", event.ResourceType),
		zap.String("resource_id", event.ResourceID),
		zap.Any("metadata", event.Metadata),
	)

	if al.pool == nil {
		return nil
	}

	metadata, err := json.Marshal(metadataOrEmpty(event.Metadata))
	if err != nil {
		return fmt.Errorf("encode audit metadata: %w", err)
	}

	_, err = al.pool.Exec(ctx, `
		INSERT INTO audit_log (id, actor_id, action, resource_type, resource_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, event.ID, event.ActorID, event.Action, event.ResourceType, event.ResourceID, metadata, event.Timestamp)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func metadataOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
