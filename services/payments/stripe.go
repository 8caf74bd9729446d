package payments

import (
	"context"
	"fmt"

	"fanrealms-backend/models"

	stripe "github.com/stripe/stripe-go/v82"
	session "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/price"
	"github.com/stripe/stripe-go/v82/product"
	"github.com/stripe/stripe-go/v82/refund"
	stripeSubscription "github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"
)

// StripeProcessor talks to Stripe through the package-level API.
type StripeProcessor struct {
	webhookSecret string
}

func NewStripeProcessor(secretKey, webhookSecret string) *StripeProcessor {
	stripe.Key = secretKey
	return &StripeProcessor{webhookSecret: webhookSecret}
}

func (p *StripeProcessor) EnsureCustomer(ctx context.Context, user models.User) (string, error) {
	if user.StripeCustomerId != "" {
		params := &stripe.CustomerParams{}
		params.Context = ctx
		cust, err := customer.Get(user.StripeCustomerId, params)
		if err == nil && !cust.Deleted {
			return cust.ID, nil
		}
	}

	params := &stripe.CustomerParams{
		Email: stripe.String(user.Email),
		Name:  stripe.String(user.UserName),
	}
	params.Context = ctx
	params.AddMetadata(MetaUserID, user.ID)
	params.SetIdempotencyKey(IdempotencyKey(user.ID, "customer"))
	cust, err := customer.New(params)
	if err != nil {
		return "", fmt.Errorf("create stripe customer: %w", err)
	}
	return cust.ID, nil
}

func (p *StripeProcessor) CreateSubscriptionCheckout(ctx context.Context, in SubscriptionCheckout) (*stripe.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Customer:           stripe.String(in.CustomerID),
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(in.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: in.Metadata,
		},
		SuccessURL:        stripe.String(in.SuccessURL),
		CancelURL:         stripe.String(in.CancelURL),
		ClientReferenceID: stripe.String(in.Metadata[MetaUserID]),
	}
	params.Context = ctx
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}

	s, err := session.New(params)
	if err != nil {
		return nil, fmt.Errorf("create subscription checkout: %w", err)
	}
	return s, nil
}

func (p *StripeProcessor) CreateCommissionCheckout(ctx context.Context, in CommissionCheckout) (*stripe.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Customer:           stripe.String(in.CustomerID),
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(in.Currency),
					UnitAmount: stripe.Int64(in.AmountCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(in.ProductName),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
			Metadata:      in.Metadata,
		},
		SuccessURL: stripe.String(in.SuccessURL),
		CancelURL:  stripe.String(in.CancelURL),
	}
	params.Context = ctx
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}
	if in.IdempotencyKey != "" {
		params.SetIdempotencyKey(in.IdempotencyKey)
	}

	s, err := session.New(params)
	if err != nil {
		return nil, fmt.Errorf("create commission checkout: %w", err)
	}
	return s, nil
}

// ExpireCheckoutSession closes an open checkout so it can no longer be paid.
func (p *StripeProcessor) ExpireCheckoutSession(ctx context.Context, id, idempotencyKey string) error {
	params := &stripe.CheckoutSessionExpireParams{}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)
	if _, err := session.Expire(id, params); err != nil {
		return fmt.Errorf("expire checkout session %s: %w", id, err)
	}
	return nil
}

func (p *StripeProcessor) GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := stripeSubscription.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("get subscription %s: %w", id, err)
	}
	return sub, nil
}

func (p *StripeProcessor) ChangeSubscriptionPrice(ctx context.Context, id, priceID, idempotencyKey string) (*stripe.Subscription, error) {
	current, err := p.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	itemID, _ := SubscriptionItem(current)
	if itemID == "" {
		return nil, fmt.Errorf("subscription %s has no items", id)
	}

	params := &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{
			{ID: stripe.String(itemID), Price: stripe.String(priceID)},
		},
		ProrationBehavior: stripe.String("none"),
	}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)
	sub, err := stripeSubscription.Update(id, params)
	if err != nil {
		return nil, fmt.Errorf("change subscription price %s: %w", id, err)
	}
	return sub, nil
}

func (p *StripeProcessor) CancelSubscription(ctx context.Context, id, idempotencyKey string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)
	sub, err := stripeSubscription.Cancel(id, params)
	if err != nil {
		return nil, fmt.Errorf("cancel subscription %s: %w", id, err)
	}
	return sub, nil
}

func (p *StripeProcessor) setCancelAtPeriodEnd(ctx context.Context, id, idempotencyKey string, cancel bool) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(cancel),
	}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)
	sub, err := stripeSubscription.Update(id, params)
	if err != nil {
		return nil, fmt.Errorf("update subscription %s: %w", id, err)
	}
	return sub, nil
}

func (p *StripeProcessor) CancelSubscriptionAtPeriodEnd(ctx context.Context, id, idempotencyKey string) (*stripe.Subscription, error) {
	return p.setCancelAtPeriodEnd(ctx, id, idempotencyKey, true)
}

func (p *StripeProcessor) ResumeSubscription(ctx context.Context, id, idempotencyKey string) (*stripe.Subscription, error) {
	return p.setCancelAtPeriodEnd(ctx, id, idempotencyKey, false)
}

func (p *StripeProcessor) GetPaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	params.AddExpand("latest_charge")
	pi, err := paymentintent.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("get payment intent %s: %w", id, err)
	}
	return pi, nil
}

func (p *StripeProcessor) CapturePaymentIntent(ctx context.Context, id, idempotencyKey string) (*stripe.PaymentIntent, error) {
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)
	pi, err := paymentintent.Capture(id, params)
	if err != nil {
		return nil, fmt.Errorf("capture payment intent %s: %w", id, err)
	}
	return pi, nil
}

func (p *StripeProcessor) CancelPaymentIntent(ctx context.Context, id, idempotencyKey string) (*stripe.PaymentIntent, error) {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)
	pi, err := paymentintent.Cancel(id, params)
	if err != nil {
		return nil, fmt.Errorf("cancel payment intent %s: %w", id, err)
	}
	return pi, nil
}

func (p *StripeProcessor) RefundPaymentIntent(ctx context.Context, id, reason, idempotencyKey string) (*stripe.Refund, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(id),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	params.Context = ctx
	if reason != "" {
		params.AddMetadata("reason", reason)
	}
	params.SetIdempotencyKey(idempotencyKey)
	r, err := refund.New(params)
	if err != nil {
		return nil, fmt.Errorf("refund payment intent %s: %w", id, err)
	}
	return r, nil
}

func (p *StripeProcessor) CreateTierPrice(ctx context.Context, in TierPrice) (string, string, error) {
	productParams := &stripe.ProductParams{
		Name: stripe.String(in.Name),
	}
	if in.Description != "" {
		productParams.Description = stripe.String(in.Description)
	}
	productParams.Context = ctx
	for k, v := range in.Metadata {
		productParams.AddMetadata(k, v)
	}
	prod, err := product.New(productParams)
	if err != nil {
		return "", "", fmt.Errorf("create stripe product: %w", err)
	}

	priceParams := &stripe.PriceParams{
		Currency:   stripe.String(in.Currency),
		UnitAmount: stripe.Int64(in.AmountCents),
		Product:    stripe.String(prod.ID),
		Recurring: &stripe.PriceRecurringParams{
			Interval: stripe.String(string(stripe.PriceRecurringIntervalMonth)),
		},
	}
	priceParams.Context = ctx
	for k, v := range in.Metadata {
		priceParams.AddMetadata(k, v)
	}
	pr, err := price.New(priceParams)
	if err != nil {
		return prod.ID, "", fmt.Errorf("create stripe price: %w", err)
	}
	return prod.ID, pr.ID, nil
}

func (p *StripeProcessor) SetProductActive(ctx context.Context, productID string, active bool) error {
	params := &stripe.ProductParams{Active: stripe.Bool(active)}
	params.Context = ctx
	if _, err := product.Update(productID, params); err != nil {
		return fmt.Errorf("update stripe product %s: %w", productID, err)
	}
	return nil
}

// ConstructEvent verifies the Stripe-Signature header. An empty secret or
// header is always a failure.
func (p *StripeProcessor) ConstructEvent(payload []byte, signatureHeader string) (stripe.Event, error) {
	return VerifyEvent(payload, signatureHeader, p.webhookSecret)
}

func VerifyEvent(payload []byte, signatureHeader, secret string) (stripe.Event, error) {
	if secret == "" {
		return stripe.Event{}, fmt.Errorf("webhook secret not configured")
	}
	if signatureHeader == "" {
		return stripe.Event{}, fmt.Errorf("missing Stripe-Signature header")
	}
	return webhook.ConstructEventWithOptions(payload, signatureHeader, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
}
