// Package queue implements the email delivery engine: each processing cycle
// materializes due broadcasts into jobs, claims a batch of due jobs, sends
// them through the mail provider with a fixed inter-send throttle, and
// recomputes per-broadcast aggregate stats.
//
// The cycle logic is runner-agnostic. The worker binary drives it on a cron
// schedule, the Lambda binary on function invocations, and the API exposes a
// manual trigger; all three call the same RunCycle.
package queue

import (
	"context"
	"log/slog"
	"time"

	"plainly/internal/config"
	"plainly/internal/types"
)

// Terminal failure reasons. These jobs fail immediately without consuming
// further attempts; the condition will not cure itself by retrying.
const (
	ReasonSenderMissing       = "Sender profile missing"
	ReasonSubscriberNotActive = "Subscriber not active"
	ReasonContentMissing      = "Content missing"
)

// JobStore is the job persistence surface the processor needs.
type JobStore interface {
	FetchDue(ctx context.Context, now time.Time, maxAttempts, limit int) ([]*types.DueJob, error)
	// Claim conditionally transitions a pending job to processing and
	// returns the post-increment attempt count. claimed=false means another
	// instance won the job.
	Claim(ctx context.Context, jobID string) (attempts int, claimed bool, err error)
	MarkSent(ctx context.Context, jobID string) error
	MarkFailed(ctx context.Context, jobID string, reason string) error
	// Release returns a job to pending after a transient failure without
	// resetting its attempt count.
	Release(ctx context.Context, jobID string, reason string) error
	ReapStale(ctx context.Context, cutoff time.Time, maxAttempts int) (int, error)
	CountByBroadcast(ctx context.Context, broadcastID string) (types.StatusCounts, error)
}

// BroadcastStore is the broadcast persistence surface the processor needs.
type BroadcastStore interface {
	QueueDueBroadcasts(ctx context.Context, now time.Time) error
	MergeStats(ctx context.Context, broadcastID string, counts types.StatusCounts) error
}

// EventLog records engagement facts.
type EventLog interface {
	Insert(ctx context.Context, event *types.EmailEvent) error
}

// MailProvider transmits one rendered email.
type MailProvider interface {
	Send(ctx context.Context, input types.SendInput) (providerMsgID string, err error)
}

// MetricsRecorder receives per-cycle delivery counters.
type MetricsRecorder interface {
	RecordCycle(ctx context.Context, result types.CycleResult)
}

// Processor runs email delivery cycles.
type Processor struct {
	jobs       JobStore
	broadcasts BroadcastStore
	events     EventLog
	mail       MailProvider
	metrics    MetricsRecorder
	cfg        config.QueueConfig
	fromName   string // fallback sender display name
	logger     *slog.Logger

	nowFn   func() time.Time
	sleepFn func(time.Duration)
}

// ProcessorParams bundles the dependencies for NewProcessor.
type ProcessorParams struct {
	Jobs       JobStore
	Broadcasts BroadcastStore
	Events     EventLog
	Mail       MailProvider
	Metrics    MetricsRecorder // optional; nil disables metrics
	Config     config.QueueConfig
	// DefaultFromName is used when the sender profile has no display name.
	DefaultFromName string
	Logger          *slog.Logger
}

// ProcessorOption is a functional option for configuring a Processor.
type ProcessorOption func(*Processor)

// WithNowFunc overrides the clock. Intended for tests.
func WithNowFunc(fn func() time.Time) ProcessorOption {
	return func(p *Processor) {
		p.nowFn = fn
	}
}

// WithSleepFunc overrides the inter-send throttle sleep. Intended for tests.
func WithSleepFunc(fn func(time.Duration)) ProcessorOption {
	return func(p *Processor) {
		p.sleepFn = fn
	}
}

// NewProcessor creates a Processor.
func NewProcessor(params ProcessorParams, opts ...ProcessorOption) *Processor {
	metrics := params.Metrics
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	p := &Processor{
		jobs:       params.Jobs,
		broadcasts: params.Broadcasts,
		events:     params.Events,
		mail:       params.Mail,
		metrics:    metrics,
		cfg:        params.Config,
		fromName:   params.DefaultFromName,
		logger:     logger,
		nowFn:      time.Now,
		sleepFn:    time.Sleep,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RunCycle executes one processing cycle:
//
//  1. Reap jobs stuck in processing since before the staleness cutoff.
//  2. Materialize due broadcasts into pending jobs.
//  3. Fetch one batch of due jobs and process each: claim, validate, send.
//  4. Recompute aggregate stats for every broadcast touched by the batch.
//
// Failures in steps 1, 2, and 4 are logged and do not abort the cycle; jobs
// left behind are picked up by a later cycle. Only a failed batch fetch
// returns an error.
//
// The Failed counter includes transient failures that were released for
// retry, so a single delivery can be counted failed in one cycle and sent
// in a later one.
func (p *Processor) RunCycle(ctx context.Context) (types.CycleResult, error) {
	now := p.nowFn()

	reaped, err := p.jobs.ReapStale(ctx, now.Add(-p.cfg.StaleAfter), p.cfg.MaxAttempts)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to reap stale jobs", "error", err)
	} else if reaped > 0 {
		p.logger.WarnContext(ctx, "reaped stale processing jobs", "count", reaped)
	}

	if err := p.broadcasts.QueueDueBroadcasts(ctx, now); err != nil {
		p.logger.ErrorContext(ctx, "failed to queue due broadcasts", "error", err)
	}

	jobs, err := p.jobs.FetchDue(ctx, now, p.cfg.MaxAttempts, p.cfg.BatchSize)
	if err != nil {
		return types.CycleResult{}, err
	}
	if len(jobs) == 0 {
		p.logger.DebugContext(ctx, "no pending jobs")
		return types.CycleResult{}, nil
	}
	p.logger.InfoContext(ctx, "processing job batch", "jobs", len(jobs))

	result := types.CycleResult{Processed: len(jobs)}
	touched := make(map[string]struct{})

	for _, job := range jobs {
		// Track the owning broadcast before any outcome is known, so
		// terminal failures still feed the stats recompute.
		if job.BroadcastID != "" {
			touched[job.BroadcastID] = struct{}{}
		}

		outcome := p.processJob(ctx, job)
		switch outcome {
		case outcomeSent:
			result.Sent++
		case outcomeFailed:
			result.Failed++
		case outcomeSkipped:
		}

		if ctx.Err() != nil {
			p.logger.WarnContext(ctx, "cycle interrupted", "error", ctx.Err())
			break
		}
	}

	for broadcastID := range touched {
		counts, err := p.jobs.CountByBroadcast(ctx, broadcastID)
		if err != nil {
			p.logger.ErrorContext(ctx, "failed to count broadcast jobs",
				"broadcast_id", broadcastID, "error", err)
			continue
		}
		if err := p.broadcasts.MergeStats(ctx, broadcastID, counts); err != nil {
			p.logger.ErrorContext(ctx, "failed to merge broadcast stats",
				"broadcast_id", broadcastID, "error", err)
			continue
		}
		p.logger.InfoContext(ctx, "broadcast stats updated",
			"broadcast_id", broadcastID,
			"sent", counts.Sent,
			"failed", counts.Failed,
			"pending", counts.Pending,
		)
	}

	p.metrics.RecordCycle(ctx, result)
	p.logger.InfoContext(ctx, "batch complete",
		"processed", result.Processed,
		"sent", result.Sent,
		"failed", result.Failed,
	)
	return result, nil
}

type jobOutcome int

const (
	outcomeSkipped jobOutcome = iota
	outcomeSent
	outcomeFailed
)

// processJob handles one job end to end: claim, validate, render, send,
// record. The claim happens before validation so every handled job consumes
// an attempt, exactly like a send failure would.
func (p *Processor) processJob(ctx context.Context, job *types.DueJob) jobOutcome {
	attempts, claimed, err := p.jobs.Claim(ctx, job.ID)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to claim job", "job_id", job.ID, "error", err)
		return outcomeSkipped
	}
	if !claimed {
		// Another processor instance got there first.
		p.logger.DebugContext(ctx, "job already claimed", "job_id", job.ID)
		return outcomeSkipped
	}

	if job.Sender == nil {
		p.failTerminal(ctx, job, ReasonSenderMissing)
		return outcomeFailed
	}
	if job.Subscriber == nil || job.Subscriber.Status != types.SubscriberActive {
		p.failTerminal(ctx, job, ReasonSubscriberNotActive)
		return outcomeFailed
	}

	subject, body, ok := resolveContent(job)
	if !ok {
		p.failTerminal(ctx, job, ReasonContentMissing)
		return outcomeFailed
	}

	fromName := job.Sender.Name
	if fromName == "" {
		fromName = p.fromName
	}

	_, sendErr := p.mail.Send(ctx, types.SendInput{
		To:       job.Subscriber.Email,
		Subject:  subject,
		HTML:     renderHTML(body, job.Subscriber.FirstName),
		FromName: fromName,
		ReplyTo:  job.Sender.Email,
	})

	var outcome jobOutcome
	if sendErr != nil {
		outcome = outcomeFailed
		p.handleSendFailure(ctx, job, attempts, sendErr)
	} else {
		outcome = outcomeSent
		if err := p.jobs.MarkSent(ctx, job.ID); err != nil {
			p.logger.ErrorContext(ctx, "failed to mark job sent", "job_id", job.ID, "error", err)
		}
		p.recordSentEvent(ctx, job)
		p.logger.InfoContext(ctx, "email sent",
			"job_id", job.ID,
			"subscriber_email", job.Subscriber.Email,
		)
	}

	// Throttle between send attempts so a full batch cannot burst past the
	// provider rate limit.
	p.sleepFn(p.cfg.SendDelay)
	return outcome
}

// failTerminal marks a job failed for a condition retrying cannot fix.
func (p *Processor) failTerminal(ctx context.Context, job *types.DueJob, reason string) {
	p.logger.WarnContext(ctx, "job failed terminally", "job_id", job.ID, "reason", reason)
	if err := p.jobs.MarkFailed(ctx, job.ID, reason); err != nil {
		p.logger.ErrorContext(ctx, "failed to mark job failed", "job_id", job.ID, "error", err)
	}
}

// handleSendFailure routes a send error to retry or terminal failure based
// on the post-claim attempt count.
func (p *Processor) handleSendFailure(ctx context.Context, job *types.DueJob, attempts int, sendErr error) {
	reason := sendErr.Error()
	if appErr, ok := sendErr.(*types.AppError); ok {
		// Store the provider message, not the wrapped error chain.
		reason = appErr.Message
	}

	p.logger.ErrorContext(ctx, "failed to send email",
		"job_id", job.ID,
		"subscriber_email", job.Subscriber.Email,
		"attempts", attempts,
		"error", reason,
	)

	if attempts >= p.cfg.MaxAttempts {
		if err := p.jobs.MarkFailed(ctx, job.ID, reason); err != nil {
			p.logger.ErrorContext(ctx, "failed to mark job failed", "job_id", job.ID, "error", err)
		}
		return
	}
	if err := p.jobs.Release(ctx, job.ID, reason); err != nil {
		p.logger.ErrorContext(ctx, "failed to release job for retry", "job_id", job.ID, "error", err)
	}
}

// recordSentEvent appends a 'sent' event. Event logging is best effort; a
// delivered email is never rolled back because the audit write failed.
func (p *Processor) recordSentEvent(ctx context.Context, job *types.DueJob) {
	event := &types.EmailEvent{
		UserID:       job.UserID,
		SubscriberID: job.SubscriberID,
		BroadcastID:  job.BroadcastID,
		SequenceID:   job.SequenceID,
		StepID:       job.StepID,
		EventType:    types.EventSent,
	}
	if err := p.events.Insert(ctx, event); err != nil {
		p.logger.ErrorContext(ctx, "failed to record sent event", "job_id", job.ID, "error", err)
	}
}

// resolveContent picks the job's content source: the broadcast when
// referenced, otherwise the sequence step. Both subject and body must be
// non-empty.
func resolveContent(job *types.DueJob) (subject, body string, ok bool) {
	if job.Broadcast != nil {
		subject, body = job.Broadcast.Subject, job.Broadcast.Body
	}
	if subject == "" && job.Step != nil {
		subject = job.Step.Subject
	}
	if body == "" && job.Step != nil {
		body = job.Step.Body
	}
	return subject, body, subject != "" && body != ""
}
