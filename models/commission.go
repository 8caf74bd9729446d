package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// CommissionAddOn is an optional paid extra offered on a commission type.
type CommissionAddOn struct {
	Name  string          `json:"name" binding:"required"`
	Price decimal.Decimal `json:"price" swaggertype:"string"`
}

type CommissionType struct {
	ID           string          `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	CreatorID    string          `json:"creatorId" gorm:"type:uuid;not null;index"`
	Name         string          `json:"name" gorm:"not null"`
	Description  string          `json:"description"`
	BasePrice    decimal.Decimal `json:"basePrice" gorm:"type:numeric(10,2);not null" swaggertype:"string"`
	MaxRevisions int             `json:"maxRevisions" gorm:"not null"`
	AddOns       datatypes.JSON  `json:"addOns" swaggertype:"array,object"`
	Active       bool            `json:"active" gorm:"default:true"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// DefaultMaxRevisions applies when a commission type is created without maxRevisions.
const DefaultMaxRevisions = 2

// CommissionTypeCreate model for creating a commission type
// @Description model for creating a commission type
type CommissionTypeCreate struct {
	Name         string            `json:"name" binding:"required,max=120" example:"Character sheet"`
	Description  string            `json:"description" binding:"max=4000"`
	BasePrice    decimal.Decimal   `json:"basePrice" swaggertype:"string" example:"40.00"`
	MaxRevisions *int              `json:"maxRevisions" binding:"omitempty,min=0,max=20"`
	AddOns       []CommissionAddOn `json:"addOns" binding:"dive"`
}

// ParsedAddOns decodes the add-ons JSON column.
func (t CommissionType) ParsedAddOns() ([]CommissionAddOn, error) {
	if len(t.AddOns) == 0 {
		return nil, nil
	}
	var addOns []CommissionAddOn
	if err := json.Unmarshal(t.AddOns, &addOns); err != nil {
		return nil, fmt.Errorf("decode add-ons of commission type %s: %w", t.ID, err)
	}
	return addOns, nil
}

// PriceFor returns the base price plus the selected add-ons. Unknown add-on
// names are an error.
func (t CommissionType) PriceFor(selected []string) (decimal.Decimal, error) {
	total := t.BasePrice
	if len(selected) == 0 {
		return total, nil
	}
	addOns, err := t.ParsedAddOns()
	if err != nil {
		return decimal.Zero, err
	}
	byName := make(map[string]decimal.Decimal, len(addOns))
	for _, a := range addOns {
		byName[strings.ToLower(a.Name)] = a.Price
	}
	for _, name := range selected {
		price, ok := byName[strings.ToLower(name)]
		if !ok {
			return decimal.Zero, fmt.Errorf("unknown add-on %q", name)
		}
		total = total.Add(price)
	}
	return total, nil
}

type CommissionRequest struct {
	ID                    string              `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	CustomerID            string              `json:"customerId" gorm:"type:uuid;not null;index"`
	CreatorID             string              `json:"creatorId" gorm:"type:uuid;not null;index"`
	CommissionTypeID      string              `json:"commissionTypeId" gorm:"type:uuid;not null;index"`
	Title                 string              `json:"title" gorm:"not null"`
	Description           string              `json:"description"`
	ReferenceImages       datatypes.JSON      `json:"referenceImages" swaggertype:"array,string"`
	BudgetMin             decimal.NullDecimal `json:"budgetMin" gorm:"type:numeric(10,2)" swaggertype:"string"`
	BudgetMax             decimal.NullDecimal `json:"budgetMax" gorm:"type:numeric(10,2)" swaggertype:"string"`
	AgreedPrice           decimal.Decimal     `json:"agreedPrice" gorm:"type:numeric(10,2);not null" swaggertype:"string"`
	Status                CommissionStatus    `json:"status" gorm:"type:varchar(32);not null;index"`
	StripePaymentIntentID *string             `json:"stripePaymentIntentId,omitempty" gorm:"uniqueIndex"`
	CheckoutSessionID     *string             `json:"-" gorm:"column:stripe_checkout_session_id;index"`
	PaymentAttemptID      *string             `json:"-"`
	RevisionCount         int                 `json:"revisionCount" gorm:"not null;default:0"`
	SelectedAddOns        datatypes.JSON      `json:"selectedAddOns" swaggertype:"array,string"`
	CreatorNotes          string              `json:"creatorNotes"`
	LastReconciledAt      *time.Time          `json:"-" gorm:"index"`
	CreatedAt             time.Time           `json:"createdAt"`
	UpdatedAt             time.Time           `json:"updatedAt"`
}

// CommissionRequestCreate model for requesting a commission
// @Description model for requesting a commission
type CommissionRequestCreate struct {
	CommissionTypeID string              `json:"commissionTypeId" binding:"required,uuid"`
	Title            string              `json:"title" binding:"required,max=200" example:"My OC in a forest"`
	Description      string              `json:"description" binding:"required,max=8000"`
	ReferenceImages  []string            `json:"referenceImages" binding:"max=10,dive,url"`
	BudgetMin        decimal.NullDecimal `json:"budgetMin" swaggertype:"string"`
	BudgetMax        decimal.NullDecimal `json:"budgetMax" swaggertype:"string"`
	SelectedAddOns   []string            `json:"selectedAddOns"`
	ReplaceExisting  bool                `json:"replaceExisting"`
}

// CommissionActionInput is the creator decision on a request
type CommissionActionInput struct {
	Action string `json:"action" binding:"required,oneof=accept reject" example:"accept"`
}

// CommissionRefundInput is the body of a manual refund
type CommissionRefundInput struct {
	Reason string `json:"reason" binding:"max=500"`
}

// CommissionStatusInput lets the creator move an accepted request forward
type CommissionStatusInput struct {
	Status string `json:"status" binding:"required,oneof=in_progress completed"`
	Note   string `json:"note" binding:"max=1000"`
}

// CommissionReviewInput is the customer decision on delivered work
type CommissionReviewInput struct {
	Decision string `json:"decision" binding:"required,oneof=review approve revise"`
	Notes    string `json:"notes" binding:"max=2000"`
}

// PaymentIntentID returns the stored payment intent id or "".
func (r CommissionRequest) PaymentIntentID() string {
	if r.StripePaymentIntentID == nil {
		return ""
	}
	return *r.StripePaymentIntentID
}

// CheckoutSession returns the id of the latest checkout opened for the request or "".
func (r CommissionRequest) CheckoutSession() string {
	if r.CheckoutSessionID == nil {
		return ""
	}
	return *r.CheckoutSessionID
}

// IsPaymentAttempt reports whether attempt is the checkout the customer opened last.
func (r CommissionRequest) IsPaymentAttempt(attempt string) bool {
	return attempt != "" && r.PaymentAttemptID != nil && *r.PaymentAttemptID == attempt
}

// AppendNote returns the creator notes with one audit line appended.
func (r CommissionRequest) AppendNote(at time.Time, line string) string {
	entry := fmt.Sprintf("[%s] %s", at.UTC().Format(time.RFC3339), line)
	if r.CreatorNotes == "" {
		return entry
	}
	return r.CreatorNotes + "\n" + entry
}

// CommissionDeliverable holds delivered files; creating one moves the
// request to delivered.
type CommissionDeliverable struct {
	ID                  string         `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	CommissionRequestID string         `json:"commissionRequestId" gorm:"type:uuid;not null;index"`
	FileURLs            datatypes.JSON `json:"fileUrls" swaggertype:"array,string"`
	DeliveryNotes       string         `json:"deliveryNotes"`
	CreatedAt           time.Time      `json:"createdAt"`
}

// CommissionDeliverableInput is the JSON form of a delivery; multipart
// uploads use the same field names.
type CommissionDeliverableInput struct {
	FileURLs      []string `json:"fileUrls" binding:"max=20,dive,url"`
	DeliveryNotes string   `json:"deliveryNotes" binding:"max=4000"`
}
