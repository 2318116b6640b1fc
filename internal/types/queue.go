package types

import "time"

// DueJob is the joined projection returned by the due-jobs query: the job row
// plus the subscriber, sender profile, and content references the send
// procedure needs. Join targets that are absent (deleted subscriber, missing
// broadcast row) surface as nil pointers and are handled as terminal
// failures by the processor.
type DueJob struct {
	ID           string
	UserID       string
	BroadcastID  string
	SequenceID   string
	StepID       string
	SubscriberID string
	Attempts     int
	ScheduledAt  time.Time

	Subscriber *DueSubscriber
	Sender     *DueSender
	Broadcast  *DueContent
	Step       *DueContent
}

// DueSubscriber is the recipient projection joined onto a due job.
type DueSubscriber struct {
	Email     string
	FirstName string
	Status    SubscriberStatus
}

// DueSender is the sender-identity projection joined from the owning profile.
type DueSender struct {
	Name  string
	Email string
}

// DueContent is a subject/body pair from either the broadcast or the
// sequence step a job references.
type DueContent struct {
	Subject string
	Body    string
}

// CycleResult is the outcome summary of one queue processing cycle.
type CycleResult struct {
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
}

// StatusCounts is the per-broadcast breakdown used by the aggregate stats
// recompute. Pending includes both 'pending' and 'processing'.
type StatusCounts struct {
	Sent    int
	Failed  int
	Pending int
	Total   int
}
