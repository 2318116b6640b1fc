package db

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"plainly/internal/types"
)

// BroadcastRepository provides data access for the broadcasts table, plus
// the two operations the queue processor depends on: materializing due
// broadcasts into email jobs and merging recomputed aggregate stats.
type BroadcastRepository struct {
	db     DBTX
	logger *slog.Logger
}

// NewBroadcastRepository creates a new BroadcastRepository backed by the
// given database connection (pool or transaction).
func NewBroadcastRepository(db DBTX, logger *slog.Logger) *BroadcastRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &BroadcastRepository{db: db, logger: logger}
}

const broadcastColumns = `id, user_id, subject, body, status, scheduled_for,
	sent_at, recipient_filter, stats, is_ab_test, subject_b,
	test_size_percent, winner_metric, wait_time_hours, created_at, updated_at`

// List returns every broadcast owned by userID, newest first.
func (r *BroadcastRepository) List(ctx context.Context, userID string) ([]*types.Broadcast, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+broadcastColumns+`
		 FROM broadcasts
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list broadcasts", err)
	}
	defer rows.Close()

	var out []*types.Broadcast
	for rows.Next() {
		b, scanErr := scanBroadcast(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan broadcast row", scanErr)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating broadcast rows", err)
	}
	return out, nil
}

// Get returns one broadcast by id, scoped to its owner.
func (r *BroadcastRepository) Get(ctx context.Context, userID, id string) (*types.Broadcast, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+broadcastColumns+`
		 FROM broadcasts
		 WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	b, err := scanBroadcast(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeNotFoundBroadcast, "broadcast not found", nil)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get broadcast", err)
	}
	return b, nil
}

// Create inserts a new draft or scheduled broadcast.
func (r *BroadcastRepository) Create(ctx context.Context, b *types.Broadcast) error {
	status := b.Status
	if status == "" {
		status = types.BroadcastDraft
	}
	row := r.db.QueryRow(ctx,
		`INSERT INTO broadcasts
		 (user_id, subject, body, status, scheduled_for, recipient_filter,
		  is_ab_test, subject_b, test_size_percent, winner_metric, wait_time_hours)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING id, stats, created_at, updated_at`,
		b.UserID, b.Subject, b.Body, string(status),
		b.ScheduledFor, b.RecipientFilter,
		b.IsABTest, nilIfEmpty(b.SubjectB), b.TestSizePercent,
		nilIfEmpty(b.WinnerMetric), b.WaitTimeHours,
	)
	if err := row.Scan(&b.ID, &b.Stats, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create broadcast", err)
	}
	b.Status = status
	return nil
}

// Update applies a partial update to an owned broadcast.
func (r *BroadcastRepository) Update(ctx context.Context, b *types.Broadcast) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE broadcasts SET
			subject = $3, body = $4, status = $5, scheduled_for = $6,
			recipient_filter = $7, is_ab_test = $8, subject_b = $9,
			test_size_percent = $10, winner_metric = $11, wait_time_hours = $12,
			updated_at = NOW()
		 WHERE id = $1 AND user_id = $2`,
		b.ID, b.UserID, b.Subject, b.Body, string(b.Status), b.ScheduledFor,
		b.RecipientFilter, b.IsABTest, nilIfEmpty(b.SubjectB),
		b.TestSizePercent, nilIfEmpty(b.WinnerMetric), b.WaitTimeHours,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update broadcast", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundBroadcast, "broadcast not found", nil)
	}
	return nil
}

// Delete removes an owned broadcast.
func (r *BroadcastRepository) Delete(ctx context.Context, userID, id string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM broadcasts WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete broadcast", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundBroadcast, "broadcast not found", nil)
	}
	return nil
}

// Send schedules an owned broadcast for immediate delivery: status becomes
// 'scheduled' with scheduled_for = now. The materializer picks it up on the
// next processing cycle.
func (r *BroadcastRepository) Send(ctx context.Context, userID, id string, now time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE broadcasts
		 SET status = 'scheduled', scheduled_for = $3, updated_at = NOW()
		 WHERE id = $1 AND user_id = $2 AND status IN ('draft', 'scheduled')`,
		id, userID, now,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to schedule broadcast", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundBroadcast, "broadcast not found or already sending", nil)
	}
	return nil
}

// QueueDueBroadcasts materializes every due broadcast into email jobs: each
// broadcast with status 'scheduled' and scheduled_for <= now flips to
// 'sending' and gains one pending job per matching active subscriber.
//
// The status flip is what makes the operation idempotent: a broadcast is
// expanded exactly once even when cycles overlap, because only the caller
// whose UPDATE observed 'scheduled' proceeds to insert jobs for it.
func (r *BroadcastRepository) QueueDueBroadcasts(ctx context.Context, now time.Time) error {
	rows, err := r.db.Query(ctx,
		`UPDATE broadcasts
		 SET status = 'sending', updated_at = NOW()
		 WHERE status = 'scheduled' AND scheduled_for <= $1
		 RETURNING id, user_id, recipient_filter`,
		now,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to claim due broadcasts", err)
	}

	type dueBroadcast struct {
		id     string
		userID string
		filter types.RecipientFilter
	}
	var due []dueBroadcast
	for rows.Next() {
		var d dueBroadcast
		if err := rows.Scan(&d.id, &d.userID, &d.filter); err != nil {
			rows.Close()
			return types.NewAppError(types.ErrCodeInternalDB, "failed to scan due broadcast row", err)
		}
		due = append(due, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "error iterating due broadcast rows", err)
	}

	for _, d := range due {
		tag, err := r.db.Exec(ctx,
			`INSERT INTO email_jobs
			 (user_id, broadcast_id, subscriber_id, status, attempts, scheduled_at)
			 SELECT s.user_id, $1, s.id, 'pending', 0, $2
			 FROM subscribers s
			 WHERE s.user_id = $3
			   AND s.status = 'active'
			   AND ($4::text[] IS NULL OR s.tags && $4::text[])
			 ON CONFLICT (broadcast_id, subscriber_id) DO NOTHING`,
			d.id, now, d.userID, tagsParam(d.filter.Tags),
		)
		if err != nil {
			return types.NewAppError(types.ErrCodeInternalDB, "failed to materialize broadcast jobs", err)
		}
		r.logger.InfoContext(ctx, "broadcast materialized into jobs",
			"broadcast_id", d.id,
			"jobs_created", tag.RowsAffected(),
		)
	}
	return nil
}

// tagsParam converts an empty tag filter to NULL so the SQL guard skips the
// overlap check entirely.
func tagsParam(tags []string) any {
	if len(tags) == 0 {
		return nil
	}
	return tags
}

// GetStats reads the current stats JSONB for a broadcast.
func (r *BroadcastRepository) GetStats(ctx context.Context, broadcastID string) (types.BroadcastStats, error) {
	var stats types.BroadcastStats
	err := r.db.QueryRow(ctx,
		`SELECT stats FROM broadcasts WHERE id = $1`,
		broadcastID,
	).Scan(&stats)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeNotFoundBroadcast, "broadcast not found", nil)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read broadcast stats", err)
	}
	return stats, nil
}

// MergeStats writes a recomputed stats object and, when the broadcast has no
// job left pending or processing, marks it sent. The merge is additive at
// the JSONB level: keys not owned by the recompute (open/click counters)
// are preserved by the `||` concatenation.
func (r *BroadcastRepository) MergeStats(ctx context.Context, broadcastID string, counts types.StatusCounts) error {
	stats := types.BroadcastStats{}.Merge(counts.Sent, counts.Failed, counts.Total)
	complete := counts.Pending == 0

	tag, err := r.db.Exec(ctx,
		`UPDATE broadcasts
		 SET stats = COALESCE(stats, '{}'::jsonb) || $2::jsonb,
		     status = CASE WHEN $3 THEN 'sent' ELSE status END,
		     sent_at = CASE WHEN $3 AND sent_at IS NULL THEN NOW() ELSE sent_at END,
		     updated_at = NOW()
		 WHERE id = $1`,
		broadcastID, stats, complete,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to merge broadcast stats", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundBroadcast, "broadcast not found", nil)
	}
	return nil
}

// scanBroadcast decodes one broadcast row from either a pgx.Row or pgx.Rows.
func scanBroadcast(row pgx.Row) (*types.Broadcast, error) {
	var (
		b                      types.Broadcast
		subjectB, winnerMetric *string
		testSize, waitHours    *int
	)
	if err := row.Scan(
		&b.ID, &b.UserID, &b.Subject, &b.Body, &b.Status, &b.ScheduledFor,
		&b.SentAt, &b.RecipientFilter, &b.Stats, &b.IsABTest, &subjectB,
		&testSize, &winnerMetric, &waitHours, &b.CreatedAt, &b.UpdatedAt,
	); err != nil {
		return nil, err
	}
	b.SubjectB = emptyIfNil(subjectB)
	b.WinnerMetric = emptyIfNil(winnerMetric)
	if testSize != nil {
		b.TestSizePercent = *testSize
	}
	if waitHours != nil {
		b.WaitTimeHours = *waitHours
	}
	return &b, nil
}
