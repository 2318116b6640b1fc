package types

// JobStatus represents the delivery lifecycle state of an EmailJob.
//
// Transitions are monotonic (pending -> processing -> sent|failed) except the
// retry path, which returns a job from processing to pending while keeping
// its incremented attempt count.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusSent       JobStatus = "sent"
	JobStatusFailed     JobStatus = "failed"
)

// SubscriberStatus represents the mailing eligibility of a subscriber.
// Only active subscribers may receive a send.
type SubscriberStatus string

const (
	SubscriberActive       SubscriberStatus = "active"
	SubscriberUnsubscribed SubscriberStatus = "unsubscribed"
	SubscriberBounced      SubscriberStatus = "bounced"
)

// BroadcastStatus represents the lifecycle state of a broadcast.
type BroadcastStatus string

const (
	BroadcastDraft     BroadcastStatus = "draft"
	BroadcastScheduled BroadcastStatus = "scheduled"
	BroadcastSending   BroadcastStatus = "sending"
	BroadcastSent      BroadcastStatus = "sent"
)

// SequenceStatus represents whether a drip sequence enrolls new subscribers.
type SequenceStatus string

const (
	SequenceActive SequenceStatus = "active"
	SequencePaused SequenceStatus = "paused"
)

// PageStatus represents the publication state of a landing page.
type PageStatus string

const (
	PageDraft     PageStatus = "draft"
	PagePublished PageStatus = "published"
)

// EventType identifies the kind of email engagement event.
// The queue processor produces only 'sent'; the remaining types are written
// by the tracking endpoints.
type EventType string

const (
	EventSent         EventType = "sent"
	EventOpened       EventType = "opened"
	EventClicked      EventType = "clicked"
	EventUnsubscribed EventType = "unsubscribed"
	EventBounced      EventType = "bounced"
)

// PlanTier identifies the billing plan for an account.
type PlanTier string

const (
	PlanFree       PlanTier = "free"
	PlanStarter    PlanTier = "starter"
	PlanPro        PlanTier = "pro"
	PlanEnterprise PlanTier = "enterprise"
)

// SubscriptionStatus mirrors the Stripe subscription status values the
// webhook handler maps onto profiles.
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionCanceled SubscriptionStatus = "canceled"
	SubscriptionTrialing SubscriptionStatus = "trialing"
)
