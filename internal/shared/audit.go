package shared

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Audit actions recorded against financial documents.
const (
	AuditActionCreate  = "CREATE"
	AuditActionUpdate  = "UPDATE"
	AuditActionApprove = "APPROVE"
	AuditActionReject  = "REJECT"
)

// AuditEvent represents a record stored in audit_logs.
type AuditEvent struct {
	ActorID  int64
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// AuditSink receives audit events from the domain services. Failures are
// best-effort: a sink error never rolls back the business transaction.
type AuditSink interface {
	LogCreate(ctx context.Context, entity, entityID string, actorID int64, meta map[string]any)
	LogUpdate(ctx context.Context, entity, entityID string, actorID int64, meta map[string]any)
	LogApprove(ctx context.Context, entity, entityID string, actorID int64, meta map[string]any)
	LogReject(ctx context.Context, entity, entityID string, actorID int64, meta map[string]any)
}

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ AuditSink = (*AuditLogger)(nil)

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool, logger *slog.Logger) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{pool: pool, logger: logger}
}

// Record persists the event.
func (l *AuditLogger) Record(ctx context.Context, event AuditEvent) error {
	if l == nil {
		return errors.New("audit logger not initialised")
	}
	if event.Action == "" || event.Entity == "" || event.EntityID == "" {
		return errors.New("audit event requires action/entity/entity_id")
	}
	metaJSON, err := json.Marshal(event.Meta)
	if err != nil {
		return err
	}
	_, err = l.pool.Exec(ctx, `INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at)
VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`, event.ActorID, event.Action, event.Entity, event.EntityID, metaJSON, occurredAt(event.At))
	return err
}

// occurredAt binds NULL for an unset event time so the database clock fills
// it in. Binding the zero time directly would store year 1.
func occurredAt(at time.Time) any {
	if at.IsZero() {
		return nil
	}
	return at
}

// LogCreate records a CREATE event best-effort.
func (l *AuditLogger) LogCreate(ctx context.Context, entity, entityID string, actorID int64, meta map[string]any) {
	l.record(ctx, AuditActionCreate, entity, entityID, actorID, meta)
}

// LogUpdate records an UPDATE event best-effort.
func (l *AuditLogger) LogUpdate(ctx context.Context, entity, entityID string, actorID int64, meta map[string]any) {
	l.record(ctx, AuditActionUpdate, entity, entityID, actorID, meta)
}

// LogApprove records an APPROVE event best-effort.
func (l *AuditLogger) LogApprove(ctx context.Context, entity, entityID string, actorID int64, meta map[string]any) {
	l.record(ctx, AuditActionApprove, entity, entityID, actorID, meta)
}

// LogReject records a REJECT event best-effort.
func (l *AuditLogger) LogReject(ctx context.Context, entity, entityID string, actorID int64, meta map[string]any) {
	l.record(ctx, AuditActionReject, entity, entityID, actorID, meta)
}

func (l *AuditLogger) record(ctx context.Context, action, entity, entityID string, actorID int64, meta map[string]any) {
	if err := l.Record(ctx, AuditEvent{ActorID: actorID, Action: action, Entity: entity, EntityID: entityID, Meta: meta}); err != nil {
		l.logger.Error("record audit event",
			slog.String("action", action),
			slog.String("entity", entity),
			slog.String("entity_id", entityID),
			slog.Any("error", err))
	}
}
