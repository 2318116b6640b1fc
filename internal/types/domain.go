package types

import "time"

// Profile is the account-level record for a dashboard user. It carries the
// sender identity used on outbound email and the local mirror of the Stripe
// subscription state maintained by the webhook handler.
type Profile struct {
	ID                       string             `json:"id" db:"id"`
	Email                    string             `json:"email" db:"email"`
	Name                     string             `json:"name,omitempty" db:"name"`
	Plan                     PlanTier           `json:"plan" db:"plan"`
	SubscriptionStatus       SubscriptionStatus `json:"subscription_status,omitempty" db:"subscription_status"`
	StripeCustomerID         string             `json:"-" db:"stripe_customer_id"`
	StripeSubscriptionID     string             `json:"-" db:"stripe_subscription_id"`
	SubscriptionPeriodEndsAt *time.Time         `json:"subscription_period_ends_at,omitempty" db:"subscription_current_period_end"`
	CreatedAt                time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt                time.Time          `json:"updated_at" db:"updated_at"`
}

// Subscriber is a mailing-list member owned by one account.
type Subscriber struct {
	ID                  string           `json:"id" db:"id"`
	UserID              string           `json:"user_id" db:"user_id"`
	Email               string           `json:"email" db:"email"`
	FirstName           string           `json:"first_name,omitempty" db:"first_name"`
	Tags                []string         `json:"tags" db:"tags"`
	Status              SubscriberStatus `json:"status" db:"status"`
	CurrentSequenceID   string           `json:"current_sequence_id,omitempty" db:"current_sequence_id"`
	CurrentSequenceStep int              `json:"current_sequence_step,omitempty" db:"current_sequence_step"`
	CreatedAt           time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at" db:"updated_at"`
}

// Broadcast is a one-off email campaign. Body is authored as plain text;
// rendering is a newline-to-<br> conversion at send time.
//
// The A/B fields (SubjectB, TestSizePercent, WinnerMetric, WaitTimeHours)
// are stored and served but winner selection is not implemented.
type Broadcast struct {
	ID              string          `json:"id" db:"id"`
	UserID          string          `json:"user_id" db:"user_id"`
	Subject         string          `json:"subject" db:"subject"`
	Body            string          `json:"body" db:"body"`
	Status          BroadcastStatus `json:"status" db:"status"`
	ScheduledFor    *time.Time      `json:"scheduled_for,omitempty" db:"scheduled_for"`
	SentAt          *time.Time      `json:"sent_at,omitempty" db:"sent_at"`
	RecipientFilter RecipientFilter `json:"recipient_filter" db:"recipient_filter"`
	Stats           BroadcastStats  `json:"stats" db:"stats"`
	IsABTest        bool            `json:"is_ab_test" db:"is_ab_test"`
	SubjectB        string          `json:"subject_b,omitempty" db:"subject_b"`
	TestSizePercent int             `json:"test_size_percent,omitempty" db:"test_size_percent"`
	WinnerMetric    string          `json:"winner_metric,omitempty" db:"winner_metric"`
	WaitTimeHours   int             `json:"wait_time_hours,omitempty" db:"wait_time_hours"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

// Sequence is a drip campaign: an ordered list of steps sent to enrolled
// subscribers with per-step delays.
type Sequence struct {
	ID             string         `json:"id" db:"id"`
	UserID         string         `json:"user_id" db:"user_id"`
	Name           string         `json:"name" db:"name"`
	Status         SequenceStatus `json:"status" db:"status"`
	Steps          []SequenceStep `json:"steps" db:"-"`
	EnrolledCount  int            `json:"enrolled_count" db:"enrolled_count"`
	CompletedCount int            `json:"completed_count" db:"completed_count"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at" db:"updated_at"`
}

// SequenceStep is one email within a sequence. It is an alternate content
// source for email jobs that have no broadcast reference.
type SequenceStep struct {
	ID         string    `json:"id" db:"id"`
	SequenceID string    `json:"sequence_id" db:"sequence_id"`
	Order      int       `json:"order" db:"step_order"`
	DelayHours int       `json:"delay_hours" db:"delay_hours"`
	Subject    string    `json:"subject" db:"subject"`
	Body       string    `json:"body" db:"body"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// EmailJob is a unit of one-recipient-one-message work. Jobs are created by
// the broadcast materializer (broadcast sends) or the sequence enroller
// (step sends), mutated only by the queue processor, and never deleted --
// the table doubles as the delivery audit trail.
//
// Exactly one content source is set: BroadcastID, or SequenceID+StepID.
// Content lives on the referenced row, not on the job.
type EmailJob struct {
	ID           string     `json:"id" db:"id"`
	UserID       string     `json:"user_id" db:"user_id"`
	BroadcastID  string     `json:"broadcast_id,omitempty" db:"broadcast_id"`
	SequenceID   string     `json:"sequence_id,omitempty" db:"sequence_id"`
	StepID       string     `json:"step_id,omitempty" db:"step_id"`
	SubscriberID string     `json:"subscriber_id" db:"subscriber_id"`
	Status       JobStatus  `json:"status" db:"status"`
	Attempts     int        `json:"attempts" db:"attempts"`
	ScheduledAt  time.Time  `json:"scheduled_at" db:"scheduled_at"`
	ErrorMessage string     `json:"error_message,omitempty" db:"error_message"`
	ProcessedAt  *time.Time `json:"processed_at,omitempty" db:"processed_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// EmailEvent is an append-only engagement fact.
type EmailEvent struct {
	ID           string    `json:"id" db:"id"`
	UserID       string    `json:"user_id" db:"user_id"`
	SubscriberID string    `json:"subscriber_id" db:"subscriber_id"`
	BroadcastID  string    `json:"broadcast_id,omitempty" db:"broadcast_id"`
	SequenceID   string    `json:"sequence_id,omitempty" db:"sequence_id"`
	StepID       string    `json:"step_id,omitempty" db:"step_id"`
	EventType    EventType `json:"event_type" db:"event_type"`
	LinkURL      string    `json:"link_url,omitempty" db:"link_url"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// LandingPage is a hosted signup page that feeds subscribers into a list and
// optionally enrolls them into a sequence.
type LandingPage struct {
	ID               string     `json:"id" db:"id"`
	UserID           string     `json:"user_id" db:"user_id"`
	Name             string     `json:"name" db:"name"`
	Slug             string     `json:"slug" db:"slug"`
	Template         string     `json:"template" db:"template"`
	Headline         string     `json:"headline" db:"headline"`
	Subheadline      string     `json:"subheadline,omitempty" db:"subheadline"`
	ButtonText       string     `json:"button_text" db:"button_text"`
	ImageURL         string     `json:"image_url,omitempty" db:"image_url"`
	ShowFirstName    bool       `json:"show_first_name" db:"show_first_name"`
	AssignTag        string     `json:"assign_tag,omitempty" db:"assign_tag"`
	AssignSequenceID string     `json:"assign_sequence_id,omitempty" db:"assign_sequence_id"`
	SuccessMessage   string     `json:"success_message,omitempty" db:"success_message"`
	RedirectURL      string     `json:"redirect_url,omitempty" db:"redirect_url"`
	Views            int        `json:"views" db:"views"`
	Conversions      int        `json:"conversions" db:"conversions"`
	Status           PageStatus `json:"status" db:"status"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
}

// SenderIdentity is the from/reply-to identity resolved from the owning
// profile at send time.
type SenderIdentity struct {
	Name    string
	ReplyTo string
}

// SendInput is the transport-facing description of one outbound message.
type SendInput struct {
	To       string
	Subject  string
	HTML     string
	FromName string
	ReplyTo  string
}

// AnalyticsOverview contains the dashboard summary numbers.
type AnalyticsOverview struct {
	TotalSubscribers   int     `json:"total_subscribers"`
	AddedLast7Days     int     `json:"subscribers_added_last_7_days"`
	AddedLast30Days    int     `json:"subscribers_added_last_30_days"`
	EmailsSentLast30   int     `json:"emails_sent_last_30_days"`
	AverageOpenRate    float64 `json:"average_open_rate"`
	AverageClickRate   float64 `json:"average_click_rate"`
}

// GrowthPoint is one day of subscriber growth.
type GrowthPoint struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}
