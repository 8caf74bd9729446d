package models

import (
	"errors"
	"fmt"
)

type CommissionStatus string

const (
	CommissionPending           CommissionStatus = "pending"
	CommissionPaymentPending    CommissionStatus = "payment_pending"
	CommissionPaymentAuthorized CommissionStatus = "payment_authorized"
	CommissionPaymentFailed     CommissionStatus = "payment_failed"
	CommissionAccepted          CommissionStatus = "accepted"
	CommissionRejected          CommissionStatus = "rejected"
	CommissionInProgress        CommissionStatus = "in_progress"
	CommissionCompleted         CommissionStatus = "completed"
	CommissionDelivered         CommissionStatus = "delivered"
	CommissionUnderReview       CommissionStatus = "under_review"
	CommissionRevisionRequested CommissionStatus = "revision_requested"
	CommissionCancelled         CommissionStatus = "cancelled"
	CommissionRefunded          CommissionStatus = "refunded"
)

var ErrInvalidTransition = errors.New("invalid commission status transition")

// OpenCommissionStatuses are the statuses covered by the one-open-request
// unique index and looked up by the existing-request check.
var OpenCommissionStatuses = []CommissionStatus{
	CommissionPending,
	CommissionPaymentPending,
	CommissionPaymentFailed,
	CommissionAccepted,
}

func ParseCommissionStatus(s string) (CommissionStatus, error) {
	st := CommissionStatus(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown commission status %q", s)
	}
	return st, nil
}

func (s CommissionStatus) Valid() bool {
	switch s {
	case CommissionPending, CommissionPaymentPending, CommissionPaymentAuthorized,
		CommissionPaymentFailed, CommissionAccepted, CommissionRejected,
		CommissionInProgress, CommissionCompleted, CommissionDelivered,
		CommissionUnderReview, CommissionRevisionRequested, CommissionCancelled,
		CommissionRefunded:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition can leave s.
func (s CommissionStatus) IsTerminal() bool {
	switch s {
	case CommissionRejected, CommissionCompleted, CommissionCancelled, CommissionRefunded:
		return true
	}
	return false
}

// In reports whether s is one of set.
func (s CommissionStatus) In(set ...CommissionStatus) bool {
	for _, candidate := range set {
		if s == candidate {
			return true
		}
	}
	return false
}

type ExistingAction string

const (
	ExistingActionNew     ExistingAction = "new"
	ExistingActionResume  ExistingAction = "resume"
	ExistingActionPayment ExistingAction = "payment"
	ExistingActionWarning ExistingAction = "warning"
)

// ExistingCheck tells the customer what to do with an open request for the
// same commission type.
type ExistingCheck struct {
	Action          ExistingAction     `json:"action"`
	Message         string             `json:"message,omitempty"`
	NeedsPayment    bool               `json:"needsPayment"`
	CanResume       bool               `json:"canResume"`
	ExistingRequest *CommissionRequest `json:"existingRequest,omitempty"`
}

// CheckExisting maps the status of the most recent open request to an
// action. A nil request means nothing open was found.
func CheckExisting(req *CommissionRequest) ExistingCheck {
	if req == nil {
		return ExistingCheck{Action: ExistingActionNew}
	}

	check := ExistingCheck{ExistingRequest: req}
	switch req.Status {
	case CommissionPending:
		check.Action = ExistingActionResume
		check.CanResume = true
		check.Message = "You already have a pending request for this commission. View it or create a new one."
	case CommissionPaymentPending:
		check.Action = ExistingActionPayment
		check.NeedsPayment = true
		check.CanResume = true
		check.Message = "Complete the payment of your existing request."
	case CommissionPaymentFailed:
		check.Action = ExistingActionPayment
		check.NeedsPayment = true
		check.CanResume = true
		check.Message = "The payment of your existing request failed. Retry it or create a new request."
	case CommissionAccepted:
		check.Action = ExistingActionWarning
		check.Message = "You already have an active commission of this type with this creator."
	case CommissionPaymentAuthorized, CommissionRejected, CommissionInProgress,
		CommissionCompleted, CommissionDelivered, CommissionUnderReview,
		CommissionRevisionRequested, CommissionCancelled, CommissionRefunded:
		return ExistingCheck{Action: ExistingActionNew}
	default:
		return ExistingCheck{Action: ExistingActionNew}
	}
	return check
}

var commissionTransitions = map[CommissionStatus][]CommissionStatus{
	CommissionPending:           {CommissionPaymentPending, CommissionAccepted, CommissionRejected, CommissionCancelled},
	CommissionPaymentPending:    {CommissionPaymentAuthorized, CommissionPaymentFailed, CommissionRejected, CommissionCancelled},
	CommissionPaymentFailed:     {CommissionPaymentPending, CommissionRejected, CommissionCancelled},
	CommissionPaymentAuthorized: {CommissionAccepted, CommissionRejected, CommissionPaymentFailed, CommissionCancelled},
	CommissionAccepted:          {CommissionInProgress, CommissionDelivered, CommissionRefunded},
	CommissionInProgress:        {CommissionCompleted, CommissionDelivered, CommissionRefunded},
	CommissionDelivered:         {CommissionUnderReview, CommissionRevisionRequested, CommissionCompleted},
	CommissionUnderReview:       {CommissionRevisionRequested, CommissionCompleted},
	CommissionRevisionRequested: {CommissionInProgress, CommissionDelivered},
}

// CanTransitionTo reports whether a user-driven move from s to next is allowed.
func (s CommissionStatus) CanTransitionTo(next CommissionStatus) bool {
	for _, allowed := range commissionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ValidateTransition wraps ErrInvalidTransition with both statuses.
func ValidateTransition(from, to CommissionStatus) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
