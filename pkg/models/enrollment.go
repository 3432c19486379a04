package models

import "time"

// EnrollmentStatus is the lifecycle state of an enrollment.
type EnrollmentStatus string

const (
	EnrollmentStatusActive    EnrollmentStatus = "active"
	EnrollmentStatusWaiting   EnrollmentStatus = "waiting"
	EnrollmentStatusCompleted EnrollmentStatus = "completed"
	EnrollmentStatusFailed    EnrollmentStatus = "failed"
	EnrollmentStatusCancelled EnrollmentStatus = "cancelled"
)

// Runnable reports whether the scheduler may pick up an enrollment in this status.
func (s EnrollmentStatus) Runnable() bool {
	return s == EnrollmentStatusActive || s == EnrollmentStatusWaiting
}

// Terminal reports whether the status is final.
func (s EnrollmentStatus) Terminal() bool {
	return s == EnrollmentStatusCompleted || s == EnrollmentStatusFailed || s == EnrollmentStatusCancelled
}

// Enrollment is one member's progress cursor through a pinned flow version.
type Enrollment struct {
	ID            string           `json:"id"`
	FlowID        string           `json:"flow_id"`
	FlowVersion   int              `json:"flow_version"`
	OwnerID       string           `json:"owner_id"`
	MemberID      string           `json:"member_id"`
	CurrentNodeID string           `json:"current_node_id"`
	Status        EnrollmentStatus `json:"status"`
	NextRunAt     time.Time        `json:"next_run_at"`
	EnteredAt     time.Time        `json:"entered_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
	LastEventID   string           `json:"last_event_id,omitempty"`

	// Attempts counts failed dispatch attempts at the current node.
	Attempts int `json:"attempts"`
	// Steps counts executed steps over the lifetime of the enrollment.
	Steps int `json:"steps"`
	// Visit numbers the arrivals at nodes. It changes only when the
	// enrollment moves, so every pass through a loop gets its own value
	// and retries at one node share it.
	Visit int `json:"visit"`

	ClaimToken   string     `json:"-"`
	ClaimedUntil *time.Time `json:"-"`
}

// Clone returns a copy that can be mutated without touching e.
func (e *Enrollment) Clone() *Enrollment {
	out := *e

	if e.CompletedAt != nil {
		t := *e.CompletedAt
		out.CompletedAt = &t
	}

	if e.ClaimedUntil != nil {
		t := *e.ClaimedUntil
		out.ClaimedUntil = &t
	}

	return &out
}

// Due reports whether the enrollment should run at now.
func (e *Enrollment) Due(now time.Time) bool {
	return e.Status.Runnable() && !e.NextRunAt.After(now)
}

// Claimable reports whether no live lease is held on the enrollment at now.
func (e *Enrollment) Claimable(now time.Time) bool {
	return e.ClaimToken == "" || e.ClaimedUntil == nil || !e.ClaimedUntil.After(now)
}
