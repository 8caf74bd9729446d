package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// MembershipTier is a creator-defined subscription level billed monthly.
type MembershipTier struct {
	ID              string          `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	CreatorID       string          `json:"creatorId" gorm:"type:uuid;not null;index"`
	Title           string          `json:"title" gorm:"not null"`
	Description     string          `json:"description"`
	Price           decimal.Decimal `json:"price" gorm:"type:numeric(10,2);not null"`
	Features        datatypes.JSON  `json:"features" swaggertype:"array,string"`
	StripeProductID string          `json:"-" gorm:"index"`
	StripePriceID   string          `json:"-" gorm:"index"`
	Active          bool            `json:"active" gorm:"default:true"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

func (MembershipTier) TableName() string {
	return "membership_tiers"
}

// TierCreate model for creating a membership tier
// @Description model for creating a membership tier
type TierCreate struct {
	Title       string          `json:"title" binding:"required,max=120" example:"Supporter"`
	Description string          `json:"description" binding:"max=2000"`
	Price       decimal.Decimal `json:"price" swaggertype:"string" example:"5.00"`
	Features    []string        `json:"features"`
}

// TierUpdate model for updating a membership tier; price changes go through a new tier
type TierUpdate struct {
	Title       *string   `json:"title" binding:"omitempty,max=120"`
	Description *string   `json:"description" binding:"omitempty,max=2000"`
	Features    *[]string `json:"features"`
	Active      *bool     `json:"active"`
}
