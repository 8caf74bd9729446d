package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fanrealms-backend/db"
	"fanrealms-backend/middleware"
	"fanrealms-backend/models"
	"fanrealms-backend/services/cache"
	"fanrealms-backend/services/payments"
	"fanrealms-backend/services/reconcile"
	"fanrealms-backend/utils"
	mailsmodels "fanrealms-backend/utils/mails-models"

	"github.com/google/uuid"
	stripe "github.com/stripe/stripe-go/v82"
	"gorm.io/gorm"
)

// commissionForIntent finds the request paid by pi, first by the stored
// payment intent id and then by the request id in the metadata. It returns
// nil when the payment is not a commission.
func commissionForIntent(ctx context.Context, paymentIntentID string, metadata map[string]string) (*models.CommissionRequest, error) {
	var req models.CommissionRequest
	err := db.DB.WithContext(ctx).First(&req, "stripe_payment_intent_id = ?", paymentIntentID).Error
	if err == nil {
		return &req, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	requestID := metadata[payments.MetaCommissionRequestID]
	if _, parseErr := uuid.Parse(requestID); parseErr != nil {
		return nil, nil
	}
	err = db.DB.WithContext(ctx).First(&req, "id = ?", requestID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// attachIntent stores the payment intent id on a request that has none yet.
func attachIntent(ctx context.Context, req *models.CommissionRequest, paymentIntentID string) error {
	if req.PaymentIntentID() == paymentIntentID {
		return nil
	}
	res := db.DB.WithContext(ctx).Model(&models.CommissionRequest{}).
		Where("id = ? AND stripe_payment_intent_id IS NULL", req.ID).
		UpdateColumn("stripe_payment_intent_id", paymentIntentID)
	if res.Error != nil {
		return fmt.Errorf("attach payment intent to %s: %w", req.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("attach payment intent %s to %s: %w", paymentIntentID, req.ID, utils.ErrStaleStatus)
	}
	req.StripePaymentIntentID = &paymentIntentID
	return nil
}

// ownsIntent reports whether pi pays the request as it stands: either it is
// the stored intent, or nothing is stored yet and pi comes from the checkout
// the customer opened last on a request that is still waiting for payment.
func ownsIntent(req *models.CommissionRequest, pi *stripe.PaymentIntent) bool {
	if stored := req.PaymentIntentID(); stored != "" {
		return stored == pi.ID
	}
	if req.Status.IsTerminal() {
		return false
	}
	return req.IsPaymentAttempt(pi.Metadata[payments.MetaPaymentAttemptID])
}

// releaseIntent cancels an authorization that no live request will capture,
// such as a checkout finished after the customer retried or cancelled.
func releaseIntent(ctx context.Context, req *models.CommissionRequest, pi *stripe.PaymentIntent) (string, error) {
	if pi.Status != stripe.PaymentIntentStatusRequiresCapture {
		return fmt.Sprintf("Payment intent %s is not the payment of commission request %s, ignored", pi.ID, req.ID), nil
	}
	if _, err := payments.Client.CancelPaymentIntent(ctx, pi.ID, payments.IdempotencyKey(pi.ID, "release")); err != nil {
		return "", fmt.Errorf("release payment intent %s: %w", pi.ID, err)
	}
	utils.LogInfo(fmt.Sprintf("Released payment intent %s authorized for commission request %s in status %s", pi.ID, req.ID, req.Status))
	return fmt.Sprintf("Payment intent %s released, commission request %s no longer waits for it", pi.ID, req.ID), nil
}

// applyCommissionIntent mirrors pi onto the request it pays.
func applyCommissionIntent(ctx context.Context, req *models.CommissionRequest, pi *stripe.PaymentIntent) (string, error) {
	if !ownsIntent(req, pi) {
		return releaseIntent(ctx, req, pi)
	}
	if err := attachIntent(ctx, req, pi.ID); err != nil {
		return "", err
	}

	result, err := reconcile.Apply(ctx, req, pi)
	if err != nil {
		return "", err
	}
	if !result.Changed {
		return fmt.Sprintf("Commission request %s already %s", req.ID, result.To), nil
	}
	return fmt.Sprintf("Commission request %s moved from %s to %s", req.ID, result.From, result.To), nil
}

func commissionCheckoutCompleted(ctx context.Context, session stripe.CheckoutSession) (string, error) {
	if session.PaymentIntent == nil || session.PaymentIntent.ID == "" {
		return "Checkout session without payment intent", nil
	}

	req, err := commissionForIntent(ctx, session.PaymentIntent.ID, session.Metadata)
	if err != nil {
		return "", err
	}
	if req == nil {
		return "Payment is not a commission", nil
	}

	pi, err := payments.Client.GetPaymentIntent(ctx, session.PaymentIntent.ID)
	if err != nil {
		return "", err
	}
	if pi.Metadata == nil {
		pi.Metadata = session.Metadata
	}
	return applyCommissionIntent(ctx, req, pi)
}

// handlePaymentIntentEvent applies the payment intent carried by the event
// the same way the reconcile job would.
func handlePaymentIntentEvent(ctx context.Context, event stripe.Event) (string, error) {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return "", fmt.Errorf("decode payment intent: %w", err)
	}

	req, err := commissionForIntent(ctx, pi.ID, pi.Metadata)
	if err != nil {
		return "", err
	}
	if req == nil {
		return "Payment is not a commission", nil
	}
	return applyCommissionIntent(ctx, req, &pi)
}

// handleCheckoutSessionExpired marks the payment failed when the checkout the
// customer opened last expires unpaid, so the request can be paid again.
func handleCheckoutSessionExpired(ctx context.Context, event stripe.Event) (string, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return "", fmt.Errorf("decode checkout session: %w", err)
	}
	if session.Mode != stripe.CheckoutSessionModePayment {
		return "Checkout mode ignored", nil
	}
	requestID := session.Metadata[payments.MetaCommissionRequestID]
	if _, err := uuid.Parse(requestID); err != nil {
		return "Payment is not a commission", nil
	}

	var req models.CommissionRequest
	err := db.DB.WithContext(ctx).First(&req, "id = ?", requestID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "Commission request not found", nil
	}
	if err != nil {
		return "", err
	}
	if req.CheckoutSession() != session.ID || req.Status != models.CommissionPaymentPending {
		return "Expired checkout is not the pending payment of " + req.ID, nil
	}

	note := req.AppendNote(time.Now(), "checkout session "+session.ID+" expired unpaid")
	res := db.DB.WithContext(ctx).Model(&models.CommissionRequest{}).
		Where("id = ? AND status = ? AND stripe_checkout_session_id = ?", req.ID, req.Status, session.ID).
		Updates(map[string]interface{}{
			"status":        models.CommissionPaymentFailed,
			"creator_notes": note,
		})
	if res.Error != nil {
		return "", fmt.Errorf("expire payment of %s: %w", req.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return "Commission request " + req.ID + " changed meanwhile", nil
	}

	middleware.CommissionTransitionsTotal.WithLabelValues(string(req.Status), string(models.CommissionPaymentFailed)).Inc()
	cache.Invalidate(ctx, cache.MutationCommissionRequest, cache.Scope{UserID: req.CustomerID, CreatorID: req.CreatorID})
	return "Commission request " + req.ID + " payment expired", nil
}

func handleChargeRefunded(ctx context.Context, event stripe.Event) (string, error) {
	var charge stripe.Charge
	if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
		return "", fmt.Errorf("decode charge: %w", err)
	}
	if charge.PaymentIntent == nil || charge.PaymentIntent.ID == "" {
		return "Charge without payment intent", nil
	}

	var req models.CommissionRequest
	err := db.DB.WithContext(ctx).First(&req, "stripe_payment_intent_id = ?", charge.PaymentIntent.ID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "Refund is not for a commission", nil
	}
	if err != nil {
		return "", err
	}
	if req.Status == models.CommissionRefunded {
		return "Commission request already refunded", nil
	}

	from := req.Status
	note := req.AppendNote(time.Now(), fmt.Sprintf("refund recorded from Stripe charge %s", charge.ID))
	res := db.DB.WithContext(ctx).Model(&models.CommissionRequest{}).
		Where("id = ? AND status = ?", req.ID, req.Status).
		Updates(map[string]interface{}{
			"status":        models.CommissionRefunded,
			"creator_notes": note,
		})
	if res.Error != nil {
		return "", fmt.Errorf("mark commission request %s refunded: %w", req.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return "", fmt.Errorf("mark commission request %s refunded: %w", req.ID, utils.ErrStaleStatus)
	}

	req.Status = models.CommissionRefunded
	middleware.CommissionTransitionsTotal.WithLabelValues(string(from), string(req.Status)).Inc()
	cache.Invalidate(ctx, cache.MutationCommissionRequest, cache.Scope{UserID: req.CustomerID, CreatorID: req.CreatorID})
	notifyCommissionCustomer(&req)
	return "Commission request " + req.ID + " refunded", nil
}

func notifyCommissionCustomer(req *models.CommissionRequest) {
	if !utils.MailEnabled() {
		return
	}
	var customer models.User
	if err := db.DB.Select("id", "email", "user_name").First(&customer, "id = ?", req.CustomerID).Error; err != nil {
		utils.LogError(err, "Could not load the customer of commission request "+req.ID)
		return
	}
	if err := mailsmodels.CommissionStatusUpdate(mailsmodels.CommissionStatusUpdateData{
		Email:           customer.Email,
		UserName:        customer.UserName,
		CommissionTitle: req.Title,
		Status:          req.Status,
	}); err != nil {
		utils.LogError(err, "Could not send the refund mail of commission request "+req.ID)
	}
}
