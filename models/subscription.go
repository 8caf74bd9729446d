package models

import (
	"time"
)

type SubscriptionStatus string

const (
	SubscriptionActive     SubscriptionStatus = "active"
	SubscriptionCancelling SubscriptionStatus = "cancelling"
	SubscriptionPastDue    SubscriptionStatus = "past_due"
)

// LiveSubscriptionStatuses are the statuses covered by the one-per-creator unique index.
var LiveSubscriptionStatuses = []SubscriptionStatus{
	SubscriptionActive,
	SubscriptionCancelling,
	SubscriptionPastDue,
}

// Subscription mirrors a Stripe subscription. Fully cancelled subscriptions
// have no row.
type Subscription struct {
	ID                   string             `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	UserID               string             `json:"userId" gorm:"type:uuid;not null;index"`
	CreatorID            string             `json:"creatorId" gorm:"type:uuid;not null;index"`
	TierID               string             `json:"tierId" gorm:"type:uuid;not null"`
	StripeSubscriptionID string             `json:"stripeSubscriptionId" gorm:"uniqueIndex;not null"`
	StripeCustomerID     string             `json:"stripeCustomerId"`
	Status               SubscriptionStatus `json:"status" gorm:"type:varchar(20);not null"`
	CurrentPeriodStart   time.Time          `json:"currentPeriodStart"`
	CurrentPeriodEnd     time.Time          `json:"currentPeriodEnd"`
	CancelAtPeriodEnd    bool               `json:"cancelAtPeriodEnd"`
	Amount               int64              `json:"amount"`
	LastEventAt          *time.Time         `json:"-"`
	CreatedAt            time.Time          `json:"createdAt"`
	UpdatedAt            time.Time          `json:"updatedAt"`
}

// SubscriptionCreate is the body of POST /subscriptions
type SubscriptionCreate struct {
	TierID    string `json:"tierId" binding:"required,uuid"`
	CreatorID string `json:"creatorId" binding:"required,uuid"`
}

// SubscriptionCancel is the body of POST /subscriptions/:id/cancel
type SubscriptionCancel struct {
	Immediate bool `json:"immediate"`
}

func (s Subscription) IsLive() bool {
	for _, st := range LiveSubscriptionStatuses {
		if s.Status == st {
			return true
		}
	}
	return false
}
