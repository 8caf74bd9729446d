// Package payments wraps the payment processor behind an interface so handlers
// and the reconcile job can be exercised without network calls.
package payments

import (
	"context"
	"errors"
	"fmt"

	"fanrealms-backend/models"

	stripe "github.com/stripe/stripe-go/v82"
)

var ErrNotConfigured = errors.New("payment processor not configured")

// Processor is the subset of Stripe used by the service. Mutating calls take
// an idempotency key so a retried request never captures or refunds twice.
type Processor interface {
	EnsureCustomer(ctx context.Context, user models.User) (string, error)

	CreateSubscriptionCheckout(ctx context.Context, in SubscriptionCheckout) (*stripe.CheckoutSession, error)
	CreateCommissionCheckout(ctx context.Context, in CommissionCheckout) (*stripe.CheckoutSession, error)
	ExpireCheckoutSession(ctx context.Context, id, idempotencyKey string) error

	GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
	ChangeSubscriptionPrice(ctx context.Context, id, priceID, idempotencyKey string) (*stripe.Subscription, error)
	CancelSubscription(ctx context.Context, id, idempotencyKey string) (*stripe.Subscription, error)
	CancelSubscriptionAtPeriodEnd(ctx context.Context, id, idempotencyKey string) (*stripe.Subscription, error)
	ResumeSubscription(ctx context.Context, id, idempotencyKey string) (*stripe.Subscription, error)

	GetPaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error)
	CapturePaymentIntent(ctx context.Context, id, idempotencyKey string) (*stripe.PaymentIntent, error)
	CancelPaymentIntent(ctx context.Context, id, idempotencyKey string) (*stripe.PaymentIntent, error)
	RefundPaymentIntent(ctx context.Context, id, reason, idempotencyKey string) (*stripe.Refund, error)

	CreateTierPrice(ctx context.Context, in TierPrice) (productID, priceID string, err error)
	SetProductActive(ctx context.Context, productID string, active bool) error

	ConstructEvent(payload []byte, signatureHeader string) (stripe.Event, error)
}

// Client is the process-wide processor. main installs the Stripe one, tests
// replace it with a fake.
var Client Processor = unconfigured{}

type SubscriptionCheckout struct {
	CustomerID string
	PriceID    string
	Metadata   map[string]string
	SuccessURL string
	CancelURL  string
}

type CommissionCheckout struct {
	CustomerID     string
	ProductName    string
	AmountCents    int64
	Currency       string
	Metadata       map[string]string
	SuccessURL     string
	CancelURL      string
	IdempotencyKey string
}

type TierPrice struct {
	Name        string
	Description string
	AmountCents int64
	Currency    string
	Metadata    map[string]string
}

// Checkout metadata keys shared by the checkout builders and the webhook.
const (
	MetaUserID                 = "user_id"
	MetaCreatorID              = "creator_id"
	MetaTierID                 = "tier_id"
	MetaPreviousSubscriptionID = "previous_subscription_id"
	MetaCommissionRequestID    = "commission_request_id"
	MetaPaymentAttemptID       = "payment_attempt_id"
)

// IdempotencyKey derives a stable key from an entity id and an operation name.
func IdempotencyKey(entityID, operation string) string {
	return fmt.Sprintf("%s:%s", operation, entityID)
}

// SubscriptionPeriod returns the current period bounds, which live on the
// first subscription item.
func SubscriptionPeriod(sub *stripe.Subscription) (start, end int64) {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 {
		return 0, 0
	}
	item := sub.Items.Data[0]
	return item.CurrentPeriodStart, item.CurrentPeriodEnd
}

// SubscriptionItem returns the first item id and its price.
func SubscriptionItem(sub *stripe.Subscription) (itemID string, price *stripe.Price) {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 {
		return "", nil
	}
	item := sub.Items.Data[0]
	return item.ID, item.Price
}

type unconfigured struct{}

func (unconfigured) EnsureCustomer(context.Context, models.User) (string, error) {
	return "", ErrNotConfigured
}
func (unconfigured) CreateSubscriptionCheckout(context.Context, SubscriptionCheckout) (*stripe.CheckoutSession, error) {
	return nil, ErrNotConfigured
}
func (unconfigured) CreateCommissionCheckout(context.Context, CommissionCheckout) (*stripe.CheckoutSession, error) {
	return nil, ErrNotConfigured
}
func (unconfigured) ExpireCheckoutSession(context.Context, string, string) error {
	return ErrNotConfigured
}
func (unconfigured) GetSubscription(context.Context, string) (*stripe.Subscription, error) {
	return nil, ErrNotConfigured
}
func (unconfigured) ChangeSubscriptionPrice(context.Context, string, string, string) (*stripe.Subscription, error) {
	return nil, ErrNotConfigured
}
func (unconfigured) CancelSubscription(context.Context, string, string) (*stripe.Subscription, error) {
	return nil, ErrNotConfigured
}
func (unconfigured) CancelSubscriptionAtPeriodEnd(context.Context, string, string) (*stripe.Subscription, error) {
	return nil, ErrNotConfigured
}
func (unconfigured) ResumeSubscription(context.Context, string, string) (*stripe.Subscription, error) {
	return nil, ErrNotConfigured
}
func (unconfigured) GetPaymentIntent(context.Context, string) (*stripe.PaymentIntent, error) {
	return nil, ErrNotConfigured
}
func (unconfigured) CapturePaymentIntent(context.Context, string, string) (*stripe.PaymentIntent, error) {
	return nil, ErrNotConfigured
}
func (unconfigured) CancelPaymentIntent(context.Context, string, string) (*stripe.PaymentIntent, error) {
	return nil, ErrNotConfigured
}
func (unconfigured) RefundPaymentIntent(context.Context, string, string, string) (*stripe.Refund, error) {
	return nil, ErrNotConfigured
}
func (unconfigured) CreateTierPrice(context.Context, TierPrice) (string, string, error) {
	return "", "", ErrNotConfigured
}
func (unconfigured) SetProductActive(context.Context, string, bool) error {
	return ErrNotConfigured
}
func (unconfigured) ConstructEvent([]byte, string) (stripe.Event, error) {
	return stripe.Event{}, ErrNotConfigured
}
