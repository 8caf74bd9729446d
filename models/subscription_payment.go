package models

import (
	"time"
)

// SubscriptionPayment records one paid invoice of a subscription.
type SubscriptionPayment struct {
	ID                    string    `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	SubscriptionID        string    `json:"subscriptionId" gorm:"type:uuid;not null;index"`
	Amount                int64     `json:"amount"`
	PaidAt                time.Time `json:"paidAt"`
	StripePaymentIntentId string    `json:"stripePaymentIntentId" gorm:"index"`
	CreatedAt             time.Time `json:"createdAt"`
}
