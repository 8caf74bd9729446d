package models

import (
	"time"
)

// StripeWebhookEvent records each delivered Stripe event once so retries
// and duplicate deliveries are not processed twice.
type StripeWebhookEvent struct {
	ID              string     `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	StripeEventID   string     `json:"stripeEventId" gorm:"uniqueIndex;not null"`
	EventType       string     `json:"eventType" gorm:"type:varchar(100);not null;index"`
	Payload         string     `json:"-" gorm:"type:text"`
	ProcessedAt     *time.Time `json:"processedAt,omitempty"`
	ProcessingError string     `json:"processingError,omitempty" gorm:"type:text"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}
