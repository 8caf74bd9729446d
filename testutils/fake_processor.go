package testutils

import (
	"context"
	"fmt"
	"sync"

	"fanrealms-backend/models"
	"fanrealms-backend/services/payments"

	stripe "github.com/stripe/stripe-go/v82"
)

// Call is one recorded processor invocation.
type Call struct {
	Method         string
	ID             string
	IdempotencyKey string
}

// FakeProcessor records calls and answers from its maps. Err, when set,
// fails every mutating call.
type FakeProcessor struct {
	mu            sync.Mutex
	webhookSecret string

	Calls []Call
	Err   error

	PaymentIntents map[string]*stripe.PaymentIntent
	Subscriptions  map[string]*stripe.Subscription

	// LastCommissionCheckout is the input of the latest commission checkout.
	LastCommissionCheckout payments.CommissionCheckout

	CheckoutURL         string
	CommissionSessionID string
	CustomerID          string
}

func NewFakeProcessor(webhookSecret string) *FakeProcessor {
	return &FakeProcessor{
		webhookSecret:       webhookSecret,
		PaymentIntents:      make(map[string]*stripe.PaymentIntent),
		Subscriptions:       make(map[string]*stripe.Subscription),
		CheckoutURL:         "https://checkout.stripe.test/session",
		CommissionSessionID: "cs_test_pay",
		CustomerID:          "cus_test",
	}
}

func (f *FakeProcessor) record(method, id, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, Call{Method: method, ID: id, IdempotencyKey: key})
	return f.Err
}

// Called reports whether method was invoked at least once.
func (f *FakeProcessor) Called(method string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.Calls {
		if c.Method == method {
			return true
		}
	}
	return false
}

func (f *FakeProcessor) Last() Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Calls) == 0 {
		return Call{}
	}
	return f.Calls[len(f.Calls)-1]
}

func (f *FakeProcessor) EnsureCustomer(_ context.Context, user models.User) (string, error) {
	if err := f.record("EnsureCustomer", user.ID, ""); err != nil {
		return "", err
	}
	if user.StripeCustomerId != "" {
		return user.StripeCustomerId, nil
	}
	return f.CustomerID, nil
}

func (f *FakeProcessor) CreateSubscriptionCheckout(_ context.Context, in payments.SubscriptionCheckout) (*stripe.CheckoutSession, error) {
	if err := f.record("CreateSubscriptionCheckout", in.PriceID, ""); err != nil {
		return nil, err
	}
	return &stripe.CheckoutSession{ID: "cs_test_sub", URL: f.CheckoutURL, Metadata: in.Metadata}, nil
}

func (f *FakeProcessor) CreateCommissionCheckout(_ context.Context, in payments.CommissionCheckout) (*stripe.CheckoutSession, error) {
	if err := f.record("CreateCommissionCheckout", in.Metadata[payments.MetaCommissionRequestID], in.IdempotencyKey); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.LastCommissionCheckout = in
	f.mu.Unlock()
	return &stripe.CheckoutSession{ID: f.CommissionSessionID, URL: f.CheckoutURL, Metadata: in.Metadata}, nil
}

func (f *FakeProcessor) ExpireCheckoutSession(_ context.Context, id, key string) error {
	return f.record("ExpireCheckoutSession", id, key)
}

func (f *FakeProcessor) subscription(id string) (*stripe.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.Subscriptions[id]
	if !ok {
		return nil, fmt.Errorf("no such subscription: %s", id)
	}
	return sub, nil
}

func (f *FakeProcessor) GetSubscription(_ context.Context, id string) (*stripe.Subscription, error) {
	if err := f.record("GetSubscription", id, ""); err != nil {
		return nil, err
	}
	return f.subscription(id)
}

func (f *FakeProcessor) ChangeSubscriptionPrice(_ context.Context, id, priceID, key string) (*stripe.Subscription, error) {
	if err := f.record("ChangeSubscriptionPrice", id, key); err != nil {
		return nil, err
	}
	sub, err := f.subscription(id)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		sub.Items.Data[0].Price = &stripe.Price{ID: priceID}
	}
	f.mu.Unlock()
	return sub, nil
}

func (f *FakeProcessor) CancelSubscription(_ context.Context, id, key string) (*stripe.Subscription, error) {
	if err := f.record("CancelSubscription", id, key); err != nil {
		return nil, err
	}
	sub, err := f.subscription(id)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	sub.Status = stripe.SubscriptionStatusCanceled
	f.mu.Unlock()
	return sub, nil
}

func (f *FakeProcessor) CancelSubscriptionAtPeriodEnd(_ context.Context, id, key string) (*stripe.Subscription, error) {
	if err := f.record("CancelSubscriptionAtPeriodEnd", id, key); err != nil {
		return nil, err
	}
	sub, err := f.subscription(id)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	sub.CancelAtPeriodEnd = true
	f.mu.Unlock()
	return sub, nil
}

func (f *FakeProcessor) ResumeSubscription(_ context.Context, id, key string) (*stripe.Subscription, error) {
	if err := f.record("ResumeSubscription", id, key); err != nil {
		return nil, err
	}
	sub, err := f.subscription(id)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	sub.CancelAtPeriodEnd = false
	f.mu.Unlock()
	return sub, nil
}

func (f *FakeProcessor) paymentIntent(id string) (*stripe.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pi, ok := f.PaymentIntents[id]
	if !ok {
		return nil, fmt.Errorf("no such payment intent: %s", id)
	}
	return pi, nil
}

func (f *FakeProcessor) GetPaymentIntent(_ context.Context, id string) (*stripe.PaymentIntent, error) {
	f.mu.Lock()
	f.Calls = append(f.Calls, Call{Method: "GetPaymentIntent", ID: id})
	f.mu.Unlock()
	return f.paymentIntent(id)
}

func (f *FakeProcessor) CapturePaymentIntent(_ context.Context, id, key string) (*stripe.PaymentIntent, error) {
	if err := f.record("CapturePaymentIntent", id, key); err != nil {
		return nil, err
	}
	return &stripe.PaymentIntent{ID: id, Status: stripe.PaymentIntentStatusSucceeded}, nil
}

func (f *FakeProcessor) CancelPaymentIntent(_ context.Context, id, key string) (*stripe.PaymentIntent, error) {
	if err := f.record("CancelPaymentIntent", id, key); err != nil {
		return nil, err
	}
	return &stripe.PaymentIntent{ID: id, Status: stripe.PaymentIntentStatusCanceled}, nil
}

func (f *FakeProcessor) RefundPaymentIntent(_ context.Context, id, _ string, key string) (*stripe.Refund, error) {
	if err := f.record("RefundPaymentIntent", id, key); err != nil {
		return nil, err
	}
	return &stripe.Refund{ID: "re_test", Status: stripe.RefundStatusSucceeded}, nil
}

func (f *FakeProcessor) CreateTierPrice(_ context.Context, in payments.TierPrice) (string, string, error) {
	if err := f.record("CreateTierPrice", in.Name, ""); err != nil {
		return "", "", err
	}
	return "prod_test", "price_test", nil
}

func (f *FakeProcessor) SetProductActive(_ context.Context, productID string, _ bool) error {
	return f.record("SetProductActive", productID, "")
}

// ConstructEvent runs the real signature check against the test secret.
func (f *FakeProcessor) ConstructEvent(payload []byte, signatureHeader string) (stripe.Event, error) {
	return payments.VerifyEvent(payload, signatureHeader, f.webhookSecret)
}
