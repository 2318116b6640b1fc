package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"plainly/internal/types"
)

// JobRepository provides data access for the email_jobs table. It is the
// durable job store behind the queue processor: due-batch fetch, the
// conditional claim, status transitions, and the per-broadcast status counts
// used by the aggregate recompute.
//
// Jobs are never deleted here; the table is retained as the delivery audit
// trail.
type JobRepository struct {
	db DBTX
}

// NewJobRepository creates a new JobRepository backed by the given database
// connection (pool or transaction).
func NewJobRepository(db DBTX) *JobRepository {
	return &JobRepository{db: db}
}

// FetchDue retrieves up to limit eligible jobs: status 'pending', scheduled
// at or before now, attempts below the budget. Rows are joined with the
// subscriber, owning profile, and content references so the processor can
// act without further reads. No ordering is applied beyond the store's
// natural order; fairness is not a goal of the batch loop.
//
// The attempts < $2 pre-filter is the outer terminal guarantee: a job that
// exhausted its budget is never returned again even if its final failed
// transition was lost.
func (r *JobRepository) FetchDue(ctx context.Context, now time.Time, maxAttempts, limit int) ([]*types.DueJob, error) {
	rows, err := r.db.Query(ctx,
		`SELECT j.id, j.user_id, j.broadcast_id, j.sequence_id, j.step_id,
		        j.subscriber_id, j.attempts, j.scheduled_at,
		        s.email, s.first_name, s.status,
		        p.name, p.email,
		        b.subject, b.body,
		        st.subject, st.body
		 FROM email_jobs j
		 LEFT JOIN subscribers s ON s.id = j.subscriber_id
		 LEFT JOIN profiles p ON p.id = j.user_id
		 LEFT JOIN broadcasts b ON b.id = j.broadcast_id
		 LEFT JOIN sequence_steps st ON st.id = j.step_id
		 WHERE j.status = 'pending'
		   AND j.scheduled_at <= $1
		   AND j.attempts < $2
		 LIMIT $3`,
		now, maxAttempts, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to fetch due jobs", err)
	}
	defer rows.Close()

	var jobs []*types.DueJob
	for rows.Next() {
		job, scanErr := scanDueJob(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan due job row", scanErr)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating due job rows", err)
	}
	return jobs, nil
}

// scanDueJob decodes one joined row. Join misses produce nil projections.
func scanDueJob(rows pgx.Rows) (*types.DueJob, error) {
	var (
		job                             types.DueJob
		broadcastID, sequenceID, stepID *string
		subEmail, subFirstName          *string
		subStatus                       *string
		senderName, senderEmail         *string
		bSubject, bBody                 *string
		stSubject, stBody               *string
	)
	if err := rows.Scan(
		&job.ID, &job.UserID, &broadcastID, &sequenceID, &stepID,
		&job.SubscriberID, &job.Attempts, &job.ScheduledAt,
		&subEmail, &subFirstName, &subStatus,
		&senderName, &senderEmail,
		&bSubject, &bBody,
		&stSubject, &stBody,
	); err != nil {
		return nil, err
	}

	job.BroadcastID = emptyIfNil(broadcastID)
	job.SequenceID = emptyIfNil(sequenceID)
	job.StepID = emptyIfNil(stepID)

	if subEmail != nil {
		job.Subscriber = &types.DueSubscriber{
			Email:     *subEmail,
			FirstName: emptyIfNil(subFirstName),
			Status:    types.SubscriberStatus(emptyIfNil(subStatus)),
		}
	}
	if senderEmail != nil {
		job.Sender = &types.DueSender{
			Name:  emptyIfNil(senderName),
			Email: *senderEmail,
		}
	}
	if bSubject != nil || bBody != nil {
		job.Broadcast = &types.DueContent{
			Subject: emptyIfNil(bSubject),
			Body:    emptyIfNil(bBody),
		}
	}
	if stSubject != nil || stBody != nil {
		job.Step = &types.DueContent{
			Subject: emptyIfNil(stSubject),
			Body:    emptyIfNil(stBody),
		}
	}
	return &job, nil
}

// Claim atomically transitions a job from pending to processing and
// increments its attempt count. The WHERE status = 'pending' guard makes the
// claim conditional: a zero-row result means another processor instance
// claimed the job first and the caller must skip it. Returns the
// post-increment attempt count on success.
//
// Claiming happens before the send attempt (claim-then-act): a crash after
// the claim can strand a job in 'processing' for the reaper, but can never
// leave it silently pending with a stale attempt count.
func (r *JobRepository) Claim(ctx context.Context, jobID string) (int, bool, error) {
	var attempts int
	err := r.db.QueryRow(ctx,
		`UPDATE email_jobs
		 SET status = 'processing', attempts = attempts + 1, updated_at = NOW()
		 WHERE id = $1 AND status = 'pending'
		 RETURNING attempts`,
		jobID,
	).Scan(&attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, types.NewAppError(types.ErrCodeInternalDB, "failed to claim job", err)
	}
	return attempts, true, nil
}

// MarkSent records a successful delivery.
func (r *JobRepository) MarkSent(ctx context.Context, jobID string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE email_jobs
		 SET status = 'sent', processed_at = NOW(), updated_at = NOW()
		 WHERE id = $1`,
		jobID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark job sent", err)
	}
	return nil
}

// MarkFailed records a terminal failure with its reason.
func (r *JobRepository) MarkFailed(ctx context.Context, jobID string, reason string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE email_jobs
		 SET status = 'failed', error_message = $2, processed_at = NOW(), updated_at = NOW()
		 WHERE id = $1`,
		jobID, reason,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark job failed", err)
	}
	return nil
}

// Release returns a job to pending after a transient failure, leaving the
// incremented attempt count in place so the next cycle counts against the
// same budget.
func (r *JobRepository) Release(ctx context.Context, jobID string, reason string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE email_jobs
		 SET status = 'pending', error_message = $2, processed_at = NOW(), updated_at = NOW()
		 WHERE id = $1`,
		jobID, reason,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to release job", err)
	}
	return nil
}

// ReapStale demotes jobs stuck in 'processing' since before cutoff back to
// 'pending', bounded by the attempts budget. A crashed processor instance
// strands its in-flight batch in 'processing'; without this sweep those jobs
// would need manual intervention. Returns the number of jobs reaped.
func (r *JobRepository) ReapStale(ctx context.Context, cutoff time.Time, maxAttempts int) (int, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE email_jobs
		 SET status = 'pending', updated_at = NOW()
		 WHERE status = 'processing'
		   AND updated_at < $1
		   AND attempts < $2`,
		cutoff, maxAttempts,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to reap stale jobs", err)
	}
	return int(tag.RowsAffected()), nil
}

// Insert creates a new job row. Used by producers other than the broadcast
// materializer (sequence enrollment) and by tests; broadcast jobs are
// materialized set-wise in BroadcastRepository.QueueDueBroadcasts.
func (r *JobRepository) Insert(ctx context.Context, job *types.EmailJob) error {
	status := job.Status
	if status == "" {
		status = types.JobStatusPending
	}
	row := r.db.QueryRow(ctx,
		`INSERT INTO email_jobs
		 (user_id, broadcast_id, sequence_id, step_id, subscriber_id,
		  status, attempts, scheduled_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at`,
		job.UserID,
		nilIfEmpty(job.BroadcastID),
		nilIfEmpty(job.SequenceID),
		nilIfEmpty(job.StepID),
		job.SubscriberID,
		string(status),
		job.Attempts,
		job.ScheduledAt,
	)
	if err := row.Scan(&job.ID, &job.CreatedAt); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert email job", err)
	}
	return nil
}

// ListByBroadcast returns every job referencing a broadcast owned by the
// user, newest first. Serves the delivery audit view.
func (r *JobRepository) ListByBroadcast(ctx context.Context, userID, broadcastID string) ([]*types.EmailJob, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, user_id, broadcast_id, sequence_id, step_id, subscriber_id,
		        status, attempts, scheduled_at, error_message, processed_at,
		        created_at, updated_at
		 FROM email_jobs
		 WHERE broadcast_id = $1 AND user_id = $2
		 ORDER BY scheduled_at DESC, id DESC`,
		broadcastID, userID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list jobs by broadcast", err)
	}
	defer rows.Close()

	var jobs []*types.EmailJob
	for rows.Next() {
		var (
			job                 types.EmailJob
			bcID, seqID, stepID *string
			errorMessage        *string
		)
		if err := rows.Scan(
			&job.ID, &job.UserID, &bcID, &seqID, &stepID,
			&job.SubscriberID, &job.Status, &job.Attempts, &job.ScheduledAt,
			&errorMessage, &job.ProcessedAt, &job.CreatedAt, &job.UpdatedAt,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan job row", err)
		}
		job.BroadcastID = emptyIfNil(bcID)
		job.SequenceID = emptyIfNil(seqID)
		job.StepID = emptyIfNil(stepID)
		job.ErrorMessage = emptyIfNil(errorMessage)
		jobs = append(jobs, &job)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating job rows", err)
	}
	return jobs, nil
}

// CountByBroadcast returns the status breakdown for every job referencing a
// broadcast. Pending aggregates both 'pending' and 'processing' rows, which
// is the definition the broadcast completion check uses.
func (r *JobRepository) CountByBroadcast(ctx context.Context, broadcastID string) (types.StatusCounts, error) {
	rows, err := r.db.Query(ctx,
		`SELECT status, COUNT(*)
		 FROM email_jobs
		 WHERE broadcast_id = $1
		 GROUP BY status`,
		broadcastID,
	)
	if err != nil {
		return types.StatusCounts{}, types.NewAppError(types.ErrCodeInternalDB, "failed to count jobs by broadcast", err)
	}
	defer rows.Close()

	var counts types.StatusCounts
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return types.StatusCounts{}, types.NewAppError(types.ErrCodeInternalDB, "failed to scan job count row", err)
		}
		switch types.JobStatus(status) {
		case types.JobStatusSent:
			counts.Sent += n
		case types.JobStatusFailed:
			counts.Failed += n
		case types.JobStatusPending, types.JobStatusProcessing:
			counts.Pending += n
		}
		counts.Total += n
	}
	if err := rows.Err(); err != nil {
		return types.StatusCounts{}, types.NewAppError(types.ErrCodeInternalDB, "error iterating job count rows", err)
	}
	return counts, nil
}
