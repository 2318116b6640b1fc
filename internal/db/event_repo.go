package db

import (
	"context"
	"time"

	"plainly/internal/types"
)

// EventRepository provides append-only access to the email_events table.
// The queue processor writes one 'sent' fact per successful delivery; the
// tracking endpoints append the engagement types.
type EventRepository struct {
	db DBTX
}

// NewEventRepository creates a new EventRepository backed by the given
// database connection (pool or transaction).
func NewEventRepository(db DBTX) *EventRepository {
	return &EventRepository{db: db}
}

// Insert appends one event.
func (r *EventRepository) Insert(ctx context.Context, ev *types.EmailEvent) error {
	row := r.db.QueryRow(ctx,
		`INSERT INTO email_events
		 (user_id, subscriber_id, broadcast_id, sequence_id, step_id, event_type, link_url)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at`,
		ev.UserID,
		ev.SubscriberID,
		nilIfEmpty(ev.BroadcastID),
		nilIfEmpty(ev.SequenceID),
		nilIfEmpty(ev.StepID),
		string(ev.EventType),
		nilIfEmpty(ev.LinkURL),
	)
	if err := row.Scan(&ev.ID, &ev.CreatedAt); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert email event", err)
	}
	return nil
}

// CountSince returns the number of events of one type recorded at or after
// the given time. Used by the analytics overview.
func (r *EventRepository) CountSince(ctx context.Context, userID string, eventType types.EventType, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM email_events
		 WHERE user_id = $1 AND event_type = $2 AND created_at >= $3`,
		userID, string(eventType), since,
	).Scan(&n)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count email events", err)
	}
	return n, nil
}
