package consumer

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PresenceHandler projects lifecycle events into work_session_presence, one row per user
// holding the status of their most recent session.
type PresenceHandler struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPresenceHandler constructs a handler backed by the provided pool.
func NewPresenceHandler(pool *pgxpool.Pool) *PresenceHandler {
	return &PresenceHandler{pool: pool, now: time.Now}
}

// Handle upserts the user's row. Older or redelivered events never overwrite a newer one.
func (h *PresenceHandler) Handle(ctx context.Context, msg Message) error {
	_, err := h.pool.Exec(ctx,
		`INSERT INTO work_session_presence (user_id, session_id, status, occurred_at, schema_id, topic, partition, record_offset, updated_at)
         VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
         ON CONFLICT (user_id) DO UPDATE SET
             session_id = EXCLUDED.session_id,
             status = EXCLUDED.status,
             occurred_at = EXCLUDED.occurred_at,
             schema_id = EXCLUDED.schema_id,
             topic = EXCLUDED.topic,
             partition = EXCLUDED.partition,
             record_offset = EXCLUDED.record_offset,
             updated_at = EXCLUDED.updated_at
         WHERE work_session_presence.occurred_at < EXCLUDED.occurred_at`,
		msg.UserID,
		msg.Event.SessionID,
		msg.Event.Status,
		msg.Event.OccurredAt,
		msg.SchemaID,
		msg.Topic,
		msg.Partition,
		msg.Offset,
		h.now().UTC(),
	)
	return err
}
