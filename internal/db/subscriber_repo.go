package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"plainly/internal/types"
)

// SubscriberRepository provides data access for the subscribers table.
type SubscriberRepository struct {
	db DBTX
}

// NewSubscriberRepository creates a new SubscriberRepository backed by the
// given database connection (pool or transaction).
func NewSubscriberRepository(db DBTX) *SubscriberRepository {
	return &SubscriberRepository{db: db}
}

const subscriberColumns = `id, user_id, email, first_name, tags, status,
	current_sequence_id, current_sequence_step, created_at, updated_at`

// List returns every subscriber owned by userID, newest first.
func (r *SubscriberRepository) List(ctx context.Context, userID string) ([]*types.Subscriber, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+subscriberColumns+`
		 FROM subscribers
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list subscribers", err)
	}
	defer rows.Close()

	var out []*types.Subscriber
	for rows.Next() {
		s, scanErr := scanSubscriber(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan subscriber row", scanErr)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating subscriber rows", err)
	}
	return out, nil
}

// Get returns one owned subscriber.
func (r *SubscriberRepository) Get(ctx context.Context, userID, id string) (*types.Subscriber, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+subscriberColumns+`
		 FROM subscribers
		 WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	s, err := scanSubscriber(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundSubscriber, "subscriber not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get subscriber", err)
	}
	return s, nil
}

// Create inserts a new subscriber. A duplicate (user_id, email) pair maps to
// ErrCodeConflictEmail.
func (r *SubscriberRepository) Create(ctx context.Context, s *types.Subscriber) error {
	status := s.Status
	if status == "" {
		status = types.SubscriberActive
	}
	row := r.db.QueryRow(ctx,
		`INSERT INTO subscribers (user_id, email, first_name, tags, status)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at, updated_at`,
		s.UserID, s.Email, nilIfEmpty(s.FirstName), s.Tags, string(status),
	)
	if err := row.Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return types.NewAppError(types.ErrCodeConflictEmail, "subscriber email already exists", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create subscriber", err)
	}
	s.Status = status
	return nil
}

// Update applies a partial update to an owned subscriber.
func (r *SubscriberRepository) Update(ctx context.Context, s *types.Subscriber) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE subscribers SET
			email = $3, first_name = $4, tags = $5, status = $6, updated_at = NOW()
		 WHERE id = $1 AND user_id = $2`,
		s.ID, s.UserID, s.Email, nilIfEmpty(s.FirstName), s.Tags, string(s.Status),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update subscriber", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundSubscriber, "subscriber not found", nil)
	}
	return nil
}

// Delete removes an owned subscriber.
func (r *SubscriberRepository) Delete(ctx context.Context, userID, id string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM subscribers WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete subscriber", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundSubscriber, "subscriber not found", nil)
	}
	return nil
}

// Import upserts a batch of subscribers keyed on (user_id, email). Existing
// rows get their first name and tags refreshed; new rows arrive active.
// Returns the number of rows written.
func (r *SubscriberRepository) Import(ctx context.Context, userID string, batch []*types.Subscriber) (int, error) {
	written := 0
	for _, s := range batch {
		tag, err := r.db.Exec(ctx,
			`INSERT INTO subscribers (user_id, email, first_name, tags, status)
			 VALUES ($1, $2, $3, $4, 'active')
			 ON CONFLICT (user_id, email) DO UPDATE
			 SET first_name = EXCLUDED.first_name,
			     tags = EXCLUDED.tags,
			     updated_at = NOW()`,
			userID, s.Email, nilIfEmpty(s.FirstName), s.Tags,
		)
		if err != nil {
			return written, types.NewAppError(types.ErrCodeInternalDB, "failed to import subscriber", err)
		}
		written += int(tag.RowsAffected())
	}
	return written, nil
}

// ActiveCount returns the number of active subscribers for an account.
func (r *SubscriberRepository) ActiveCount(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM subscribers WHERE user_id = $1 AND status = 'active'`,
		userID,
	).Scan(&n)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count active subscribers", err)
	}
	return n, nil
}

// CountAddedSince returns the number of subscribers created at or after the
// given time. Used by the analytics overview.
func (r *SubscriberRepository) CountAddedSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM subscribers WHERE user_id = $1 AND created_at >= $2`,
		userID, since,
	).Scan(&n)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count subscribers since", err)
	}
	return n, nil
}

// GrowthByDay returns daily active-subscriber signup counts for the last
// `days` days, oldest first, with zero-filled gaps.
func (r *SubscriberRepository) GrowthByDay(ctx context.Context, userID string, days int, now time.Time) ([]types.GrowthPoint, error) {
	start := now.AddDate(0, 0, -days+1).Truncate(24 * time.Hour)
	rows, err := r.db.Query(ctx,
		`SELECT date_trunc('day', created_at)::date, COUNT(*)
		 FROM subscribers
		 WHERE user_id = $1 AND status = 'active' AND created_at >= $2
		 GROUP BY 1
		 ORDER BY 1`,
		userID, start,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query subscriber growth", err)
	}
	defer rows.Close()

	byDay := make(map[string]int)
	for rows.Next() {
		var day time.Time
		var n int
		if err := rows.Scan(&day, &n); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan growth row", err)
		}
		byDay[day.Format("2006-01-02")] = n
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating growth rows", err)
	}

	points := make([]types.GrowthPoint, 0, days)
	for d := 0; d < days; d++ {
		date := start.AddDate(0, 0, d).Format("2006-01-02")
		points = append(points, types.GrowthPoint{Date: date, Count: byDay[date]})
	}
	return points, nil
}

// Enroll places a subscriber at the start of a sequence. Used by the public
// landing-page conversion path.
func (r *SubscriberRepository) Enroll(ctx context.Context, userID, subscriberID, sequenceID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE subscribers
		 SET current_sequence_id = $3, current_sequence_step = 0, updated_at = NOW()
		 WHERE id = $1 AND user_id = $2`,
		subscriberID, userID, sequenceID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to enroll subscriber", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundSubscriber, "subscriber not found", nil)
	}
	return nil
}

// scanSubscriber decodes one subscriber row.
func scanSubscriber(row pgx.Row) (*types.Subscriber, error) {
	var (
		s         types.Subscriber
		firstName *string
		seqID     *string
		seqStep   *int
	)
	if err := row.Scan(
		&s.ID, &s.UserID, &s.Email, &firstName, &s.Tags, &s.Status,
		&seqID, &seqStep, &s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	s.FirstName = emptyIfNil(firstName)
	s.CurrentSequenceID = emptyIfNil(seqID)
	if seqStep != nil {
		s.CurrentSequenceStep = *seqStep
	}
	return &s, nil
}

// isUniqueViolation reports whether err is a Postgres unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
