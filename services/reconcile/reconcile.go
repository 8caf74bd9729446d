// Package reconcile repairs commission requests whose local status drifted
// from the payment intent held by Stripe.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fanrealms-backend/db"
	"fanrealms-backend/middleware"
	"fanrealms-backend/models"
	"fanrealms-backend/services/cache"
	"fanrealms-backend/services/payments"
	"fanrealms-backend/utils"

	stripe "github.com/stripe/stripe-go/v82"
)

var ErrNoPaymentIntent = errors.New("commission request has no payment intent")

// Result describes one reconcile pass over a request.
type Result struct {
	RequestID string                  `json:"requestId"`
	From      models.CommissionStatus `json:"from"`
	To        models.CommissionStatus `json:"to"`
	Changed   bool                    `json:"changed"`
}

var preDecision = []models.CommissionStatus{
	models.CommissionPending,
	models.CommissionPaymentPending,
	models.CommissionPaymentAuthorized,
	models.CommissionPaymentFailed,
}

// Target maps the payment intent state onto the current status. It returns
// false when the row should stay as it is. Terminal statuses never move.
func Target(current models.CommissionStatus, pi *stripe.PaymentIntent) (models.CommissionStatus, bool) {
	if pi == nil || current.IsTerminal() {
		return current, false
	}

	next := current
	switch {
	case pi.LatestCharge != nil && pi.LatestCharge.Refunded:
		next = models.CommissionRefunded
	case !current.In(preDecision...):
		// work already progressed; only a refund can still move it
	case pi.Status == stripe.PaymentIntentStatusRequiresCapture:
		next = models.CommissionPaymentAuthorized
	case pi.Status == stripe.PaymentIntentStatusSucceeded:
		next = models.CommissionAccepted
	case pi.Status == stripe.PaymentIntentStatusCanceled:
		if current == models.CommissionPaymentAuthorized {
			next = models.CommissionRejected
		} else {
			next = models.CommissionCancelled
		}
	case pi.Status == stripe.PaymentIntentStatusRequiresPaymentMethod && pi.LastPaymentError != nil:
		next = models.CommissionPaymentFailed
	case pi.Status == stripe.PaymentIntentStatusRequiresPaymentMethod,
		pi.Status == stripe.PaymentIntentStatusRequiresConfirmation,
		pi.Status == stripe.PaymentIntentStatusRequiresAction,
		pi.Status == stripe.PaymentIntentStatusProcessing:
		if current != models.CommissionPaymentFailed {
			next = models.CommissionPaymentPending
		}
	}
	return next, next != current
}

// Commission reconciles one request against Stripe.
func Commission(ctx context.Context, id string) (Result, error) {
	var req models.CommissionRequest
	if err := db.DB.WithContext(ctx).First(&req, "id = ?", id).Error; err != nil {
		return Result{RequestID: id}, fmt.Errorf("load commission request %s: %w", id, err)
	}
	if req.PaymentIntentID() == "" {
		return Result{RequestID: id, From: req.Status, To: req.Status}, ErrNoPaymentIntent
	}

	pi, err := payments.Client.GetPaymentIntent(ctx, req.PaymentIntentID())
	if err != nil {
		return Result{RequestID: id, From: req.Status, To: req.Status}, err
	}
	return Apply(ctx, &req, pi)
}

// Apply writes the status derived from pi. The write is conditional on the
// status read, so a concurrent change wins and ErrStaleStatus is returned.
func Apply(ctx context.Context, req *models.CommissionRequest, pi *stripe.PaymentIntent) (Result, error) {
	result := Result{RequestID: req.ID, From: req.Status, To: req.Status}
	now := time.Now()

	next, changed := Target(req.Status, pi)
	if !changed {
		if err := db.DB.WithContext(ctx).Model(&models.CommissionRequest{}).
			Where("id = ?", req.ID).
			UpdateColumn("last_reconciled_at", now).Error; err != nil {
			return result, fmt.Errorf("mark commission request %s reconciled: %w", req.ID, err)
		}
		return result, nil
	}

	note := req.AppendNote(now, fmt.Sprintf("status reconciled from %s to %s (payment intent %s is %s)",
		req.Status, next, pi.ID, pi.Status))
	res := db.DB.WithContext(ctx).Model(&models.CommissionRequest{}).
		Where("id = ? AND status = ?", req.ID, req.Status).
		Updates(map[string]interface{}{
			"status":             next,
			"creator_notes":      note,
			"last_reconciled_at": now,
		})
	if res.Error != nil {
		return result, fmt.Errorf("update commission request %s: %w", req.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return result, fmt.Errorf("reconcile commission request %s: %w", req.ID, utils.ErrStaleStatus)
	}

	middleware.CommissionTransitionsTotal.WithLabelValues(string(req.Status), string(next)).Inc()
	cache.Invalidate(ctx, cache.MutationCommissionRequest, cache.Scope{UserID: req.CustomerID, CreatorID: req.CreatorID})
	req.Status = next
	req.CreatorNotes = note
	result.To = next
	result.Changed = true
	return result, nil
}

// Stale reconciles requests stuck in a payment state for longer than
// olderThan, at most limit of them.
func Stale(ctx context.Context, olderThan time.Duration, limit int) ([]Result, error) {
	cutoff := time.Now().Add(-olderThan)

	var ids []string
	err := db.DB.WithContext(ctx).Model(&models.CommissionRequest{}).
		Where("stripe_payment_intent_id IS NOT NULL").
		Where("status IN ?", []models.CommissionStatus{
			models.CommissionPaymentPending,
			models.CommissionPaymentAuthorized,
			models.CommissionAccepted,
		}).
		Where("updated_at < ?", cutoff).
		Where("last_reconciled_at IS NULL OR last_reconciled_at < ?", cutoff).
		Order("updated_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list stale commission requests: %w", err)
	}

	results := make([]Result, 0, len(ids))
	for _, id := range ids {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		result, err := Commission(ctx, id)
		if err != nil {
			utils.LogError(err, "reconcile failed for commission request "+id)
			continue
		}
		results = append(results, result)
	}
	return results, nil
}
