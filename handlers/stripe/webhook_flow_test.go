package stripe

import (
	"net/http"
	"testing"
	"time"

	"fanrealms-backend/services/payments"
	"fanrealms-backend/testutils"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripe "github.com/stripe/stripe-go/v82"
)

var commissionColumns = []string{"id", "customer_id", "creator_id", "commission_type_id", "title", "status", "stripe_payment_intent_id", "stripe_checkout_session_id", "payment_attempt_id", "agreed_price", "creator_notes"}

func commissionRow(status string, paymentIntent, session, attempt interface{}) *sqlmock.Rows {
	return sqlmock.NewRows(commissionColumns).
		AddRow(requestID, userID, creatorID, tierID, "Portrait", status, paymentIntent, session, attempt, "40.00", "")
}

// expectLookupByMetadata answers the stored intent lookup with nothing and
// the metadata lookup with rows.
func expectLookupByMetadata(mock sqlmock.Sqlmock, rows *sqlmock.Rows) {
	mock.ExpectQuery(`SELECT \* FROM "commission_requests" WHERE stripe_payment_intent_id = \$1`).
		WillReturnRows(sqlmock.NewRows(commissionColumns))
	mock.ExpectQuery(`SELECT \* FROM "commission_requests" WHERE id = \$1`).
		WillReturnRows(rows)
}

func commissionMeta(attempt string) gin.H {
	return gin.H{
		payments.MetaCommissionRequestID: requestID,
		payments.MetaUserID:              userID,
		payments.MetaCreatorID:           creatorID,
		payments.MetaPaymentAttemptID:    attempt,
	}
}

func TestWebhook_AuthorizationOfCurrentAttempt(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()
	testutils.SetupTestCache(t)
	fake := testutils.SetupFakeProcessor(t)

	payload := eventPayload(t, "evt_auth", "payment_intent.amount_capturable_updated", gin.H{
		"id":       "pi_new",
		"object":   "payment_intent",
		"status":   "requires_capture",
		"metadata": commissionMeta("att_2"),
	})

	expectEventRecorded(mock)
	expectLookupByMetadata(mock, commissionRow("payment_pending", nil, "cs_2", "att_2"))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "commission_requests" SET "stripe_payment_intent_id"=\$1 WHERE id = \$2 AND stripe_payment_intent_id IS NULL`).
		WithArgs("pi_new", requestID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "commission_requests" SET "creator_notes"=\$1,"last_reconciled_at"=\$2,"status"=\$3`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	expectEventMarked(mock)

	w := postWebhook(payload, sign(payload, testutils.TestWebhookSecret))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "moved from payment_pending to payment_authorized")
	assert.Empty(t, fake.Calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhook_EventOfReplacedAttemptIgnored(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()
	fake := testutils.SetupFakeProcessor(t)

	// the customer retried, so pi_old is no longer stored on the request
	payload := eventPayload(t, "evt_old_cancel", "payment_intent.canceled", gin.H{
		"id":       "pi_old",
		"object":   "payment_intent",
		"status":   "canceled",
		"metadata": commissionMeta("att_1"),
	})

	expectEventRecorded(mock)
	expectLookupByMetadata(mock, commissionRow("payment_pending", nil, "cs_2", "att_2"))
	expectEventMarked(mock)

	w := postWebhook(payload, sign(payload, testutils.TestWebhookSecret))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ignored")
	assert.Empty(t, fake.Calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhook_AuthorizationOfReplacedAttemptReleased(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()
	fake := testutils.SetupFakeProcessor(t)

	payload := eventPayload(t, "evt_old_auth", "payment_intent.amount_capturable_updated", gin.H{
		"id":       "pi_old",
		"object":   "payment_intent",
		"status":   "requires_capture",
		"metadata": commissionMeta("att_1"),
	})

	expectEventRecorded(mock)
	expectLookupByMetadata(mock, commissionRow("payment_pending", nil, "cs_2", "att_2"))
	expectEventMarked(mock)

	w := postWebhook(payload, sign(payload, testutils.TestWebhookSecret))

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, fake.Calls, 1)
	assert.Equal(t, "CancelPaymentIntent", fake.Calls[0].Method)
	assert.Equal(t, "pi_old", fake.Calls[0].ID)
	assert.Equal(t, "release:pi_old", fake.Calls[0].IdempotencyKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhook_CheckoutCompletedAfterCancellationReleased(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()
	fake := testutils.SetupFakeProcessor(t)
	fake.PaymentIntents["pi_late"] = &stripe.PaymentIntent{ID: "pi_late", Status: stripe.PaymentIntentStatusRequiresCapture}

	payload := eventPayload(t, "evt_late", "checkout.session.completed", gin.H{
		"id":             "cs_2",
		"object":         "checkout.session",
		"mode":           "payment",
		"payment_intent": "pi_late",
		"metadata":       commissionMeta("att_2"),
	})

	expectEventRecorded(mock)
	expectLookupByMetadata(mock, commissionRow("cancelled", nil, "cs_2", "att_2"))
	expectEventMarked(mock)

	w := postWebhook(payload, sign(payload, testutils.TestWebhookSecret))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "released")
	assert.Equal(t, "CancelPaymentIntent", fake.Last().Method)
	assert.Equal(t, "release:pi_late", fake.Last().IdempotencyKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhook_CommissionCheckoutCompleted(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()
	testutils.SetupTestCache(t)
	fake := testutils.SetupFakeProcessor(t)
	fake.PaymentIntents["pi_new"] = &stripe.PaymentIntent{ID: "pi_new", Status: stripe.PaymentIntentStatusRequiresCapture}

	payload := eventPayload(t, "evt_paid", "checkout.session.completed", gin.H{
		"id":             "cs_2",
		"object":         "checkout.session",
		"mode":           "payment",
		"payment_intent": "pi_new",
		"metadata":       commissionMeta("att_2"),
	})

	expectEventRecorded(mock)
	expectLookupByMetadata(mock, commissionRow("payment_pending", nil, "cs_2", "att_2"))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "commission_requests" SET "stripe_payment_intent_id"=\$1`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "commission_requests" SET "creator_notes"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	expectEventMarked(mock)

	w := postWebhook(payload, sign(payload, testutils.TestWebhookSecret))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "payment_authorized")
	assert.False(t, fake.Called("CancelPaymentIntent"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhook_PaymentFailed(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()
	testutils.SetupTestCache(t)
	testutils.SetupFakeProcessor(t)

	payload := eventPayload(t, "evt_declined", "payment_intent.payment_failed", gin.H{
		"id":                 "pi_new",
		"object":             "payment_intent",
		"status":             "requires_payment_method",
		"last_payment_error": gin.H{"type": "card_error", "message": "Your card was declined."},
		"metadata":           commissionMeta("att_2"),
	})

	expectEventRecorded(mock)
	mock.ExpectQuery(`SELECT \* FROM "commission_requests" WHERE stripe_payment_intent_id = \$1`).
		WillReturnRows(commissionRow("payment_pending", "pi_new", "cs_2", "att_2"))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "commission_requests" SET "creator_notes"=\$1,"last_reconciled_at"=\$2,"status"=\$3`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	expectEventMarked(mock)

	w := postWebhook(payload, sign(payload, testutils.TestWebhookSecret))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "moved from payment_pending to payment_failed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhook_CheckoutExpired(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()
	testutils.SetupTestCache(t)
	testutils.SetupFakeProcessor(t)

	payload := eventPayload(t, "evt_expired", "checkout.session.expired", gin.H{
		"id":       "cs_2",
		"object":   "checkout.session",
		"mode":     "payment",
		"metadata": commissionMeta("att_2"),
	})

	expectEventRecorded(mock)
	mock.ExpectQuery(`SELECT \* FROM "commission_requests" WHERE id = \$1`).
		WillReturnRows(commissionRow("payment_pending", nil, "cs_2", "att_2"))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "commission_requests" SET "creator_notes"=\$1,"status"=\$2,"updated_at"=\$3 WHERE id = \$4 AND status = \$5 AND stripe_checkout_session_id = \$6`).
		WithArgs(sqlmock.AnyArg(), "payment_failed", sqlmock.AnyArg(), requestID, "payment_pending", "cs_2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	expectEventMarked(mock)

	w := postWebhook(payload, sign(payload, testutils.TestWebhookSecret))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "payment expired")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhook_ReplacedCheckoutExpiredKeepsRequest(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()
	testutils.SetupFakeProcessor(t)

	payload := eventPayload(t, "evt_expired_old", "checkout.session.expired", gin.H{
		"id":       "cs_1",
		"object":   "checkout.session",
		"mode":     "payment",
		"metadata": commissionMeta("att_1"),
	})

	expectEventRecorded(mock)
	mock.ExpectQuery(`SELECT \* FROM "commission_requests" WHERE id = \$1`).
		WillReturnRows(commissionRow("payment_pending", nil, "cs_2", "att_2"))
	expectEventMarked(mock)

	w := postWebhook(payload, sign(payload, testutils.TestWebhookSecret))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "is not the pending payment")
	assert.NoError(t, mock.ExpectationsWereMet())
}

var checkoutSubscriptionColumns = []string{"id", "user_id", "creator_id", "tier_id", "stripe_subscription_id", "status", "current_period_end", "cancel_at_period_end"}

func liveSubscription(id string, meta map[string]string) *stripe.Subscription {
	now := time.Now()
	return &stripe.Subscription{
		ID:       id,
		Status:   stripe.SubscriptionStatusActive,
		Customer: &stripe.Customer{ID: "cus_1"},
		Metadata: meta,
		Items: &stripe.SubscriptionItemList{Data: []*stripe.SubscriptionItem{{
			ID:                 "si_1",
			Price:              &stripe.Price{ID: "price_1", UnitAmount: 500},
			CurrentPeriodStart: now.Unix(),
			CurrentPeriodEnd:   now.AddDate(0, 1, 0).Unix(),
		}}},
	}
}

func TestWebhook_SubscriptionCheckoutCompleted(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()
	testutils.SetupTestCache(t)
	fake := testutils.SetupFakeProcessor(t)
	fake.Subscriptions["sub_new"] = liveSubscription("sub_new", map[string]string{
		payments.MetaUserID:    userID,
		payments.MetaCreatorID: creatorID,
		payments.MetaTierID:    tierID,
	})

	payload := eventPayload(t, "evt_sub", "checkout.session.completed", gin.H{
		"id":           "cs_sub",
		"object":       "checkout.session",
		"mode":         "subscription",
		"subscription": "sub_new",
		"customer":     "cus_1",
	})

	expectEventRecorded(mock)
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "subscriptions" (.+) ON CONFLICT \("stripe_subscription_id"\) DO UPDATE SET`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(subID))
	mock.ExpectExec(`UPDATE "users" SET "stripe_customer_id"=\$1`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	expectEventMarked(mock)

	w := postWebhook(payload, sign(payload, testutils.TestWebhookSecret))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Subscription sub_new activated")
	assert.False(t, fake.Called("CancelSubscription"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhook_SubscriptionCheckoutSwitchesTier(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()
	testutils.SetupTestCache(t)
	fake := testutils.SetupFakeProcessor(t)
	fake.Subscriptions["sub_old"] = liveSubscription("sub_old", nil)
	fake.Subscriptions["sub_new"] = liveSubscription("sub_new", map[string]string{
		payments.MetaUserID:                 userID,
		payments.MetaCreatorID:              creatorID,
		payments.MetaTierID:                 tierID,
		payments.MetaPreviousSubscriptionID: subID,
	})

	payload := eventPayload(t, "evt_switch", "checkout.session.completed", gin.H{
		"id":           "cs_sub",
		"object":       "checkout.session",
		"mode":         "subscription",
		"subscription": "sub_new",
		"customer":     "cus_1",
	})

	expectEventRecorded(mock)
	mock.ExpectQuery(`SELECT \* FROM "subscriptions" WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows(checkoutSubscriptionColumns).
			AddRow(subID, userID, creatorID, "1f2e3d4c-5b6a-4798-8a7b-6c5d4e3f2a1b", "sub_old", "active", time.Now(), false))
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "subscriptions" WHERE "subscriptions"."id" = \$1`).
		WithArgs(subID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO "subscriptions"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("2a3b4c5d-6e7f-4a8b-9c0d-1e2f3a4b5c6d"))
	mock.ExpectExec(`UPDATE "users" SET "stripe_customer_id"=\$1`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	expectEventMarked(mock)

	w := postWebhook(payload, sign(payload, testutils.TestWebhookSecret))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Subscription sub_new replaced sub_old")
	assert.True(t, fake.Called("CancelSubscription"))
	assert.Equal(t, stripe.SubscriptionStatusCanceled, fake.Subscriptions["sub_old"].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhook_InvoicePaymentSucceeded(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()
	testutils.SetupTestCache(t)
	testutils.SetupFakeProcessor(t)

	periodEnd := time.Now().AddDate(0, 1, 0).Unix()
	payload := eventPayload(t, "evt_inv_ok", "invoice.payment_succeeded", gin.H{
		"id":          "in_1",
		"object":      "invoice",
		"amount_paid": 500,
		"parent":      gin.H{"subscription_details": gin.H{"subscription": "sub_1"}},
		"payments":    gin.H{"data": []gin.H{{"payment": gin.H{"payment_intent": "pi_inv"}}}},
		"lines":       gin.H{"data": []gin.H{{"period": gin.H{"start": time.Now().Unix(), "end": periodEnd}}}},
	})

	expectEventRecorded(mock)
	mock.ExpectQuery(`SELECT \* FROM "subscriptions" WHERE stripe_subscription_id = \$1`).
		WillReturnRows(sqlmock.NewRows(checkoutSubscriptionColumns).
			AddRow(subID, userID, creatorID, tierID, "sub_1", "past_due", time.Now().Add(-time.Hour), false))
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "subscription_payments" (.+) ON CONFLICT DO NOTHING RETURNING`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("6f5e4d3c-2b1a-4098-8f7e-6d5c4b3a2918"))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "subscriptions" SET "current_period_end"=\$1,"status"=\$2`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	expectEventMarked(mock)

	w := postWebhook(payload, sign(payload, testutils.TestWebhookSecret))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Payment recorded for subscription sub_1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhook_InvoiceBeforeCheckoutIsRetried(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()
	testutils.SetupFakeProcessor(t)

	payload := eventPayload(t, "evt_inv_early", "invoice.payment_succeeded", gin.H{
		"id":           "in_1",
		"object":       "invoice",
		"amount_paid":  500,
		"subscription": "sub_unknown",
	})

	expectEventRecorded(mock)
	mock.ExpectQuery(`SELECT \* FROM "subscriptions" WHERE stripe_subscription_id = \$1`).
		WillReturnRows(sqlmock.NewRows(checkoutSubscriptionColumns))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "stripe_webhook_events" SET "processing_error"=\$1`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	w := postWebhook(payload, sign(payload, testutils.TestWebhookSecret))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhook_InvoicePaymentFailed(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()
	testutils.SetupTestCache(t)
	testutils.SetupFakeProcessor(t)

	payload := eventPayload(t, "evt_inv_ko", "invoice.payment_failed", gin.H{
		"id":     "in_2",
		"object": "invoice",
		"parent": gin.H{"subscription_details": gin.H{"subscription": "sub_1"}},
	})

	expectEventRecorded(mock)
	mock.ExpectQuery(`SELECT \* FROM "subscriptions" WHERE stripe_subscription_id = \$1`).
		WillReturnRows(sqlmock.NewRows(checkoutSubscriptionColumns).
			AddRow(subID, userID, creatorID, tierID, "sub_1", "active", time.Now(), false))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "subscriptions" SET "status"=\$1`).
		WithArgs("past_due", sqlmock.AnyArg(), subID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	expectEventMarked(mock)

	w := postWebhook(payload, sign(payload, testutils.TestWebhookSecret))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "is past due")
	assert.NoError(t, mock.ExpectationsWereMet())
}

var tierColumns = []string{"id", "creator_id", "title", "price", "stripe_product_id", "stripe_price_id", "active"}

func TestWebhook_PriceUpdatedMirrorsTier(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()
	testutils.SetupTestCache(t)
	testutils.SetupFakeProcessor(t)

	payload := eventPayload(t, "evt_price", "price.updated", gin.H{
		"id":          "price_2",
		"object":      "price",
		"active":      true,
		"product":     "prod_1",
		"unit_amount": 700,
		"recurring":   gin.H{"interval": "month"},
	})

	expectEventRecorded(mock)
	mock.ExpectQuery(`SELECT \* FROM "membership_tiers" WHERE stripe_product_id = \$1`).
		WillReturnRows(sqlmock.NewRows(tierColumns).AddRow(tierID, creatorID, "Supporter", "5.00", "prod_1", "price_1", true))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "membership_tiers" SET "price"=\$1,"stripe_price_id"=\$2`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	expectEventMarked(mock)

	w := postWebhook(payload, sign(payload, testutils.TestWebhookSecret))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "synced with price price_2")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhook_ProductDeletedDeactivatesTier(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()
	testutils.SetupTestCache(t)
	testutils.SetupFakeProcessor(t)

	payload := eventPayload(t, "evt_product", "product.deleted", gin.H{
		"id":      "prod_1",
		"object":  "product",
		"active":  true,
		"deleted": true,
	})

	expectEventRecorded(mock)
	mock.ExpectQuery(`SELECT \* FROM "membership_tiers" WHERE stripe_product_id = \$1`).
		WillReturnRows(sqlmock.NewRows(tierColumns).AddRow(tierID, creatorID, "Supporter", "5.00", "prod_1", "price_1", true))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "membership_tiers" SET "active"=\$1`).
		WithArgs(false, sqlmock.AnyArg(), tierID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	expectEventMarked(mock)

	w := postWebhook(payload, sign(payload, testutils.TestWebhookSecret))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "synced with product prod_1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhook_PriceOfUnknownProduct(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()
	testutils.SetupFakeProcessor(t)

	payload := eventPayload(t, "evt_price_other", "price.created", gin.H{
		"id":      "price_9",
		"object":  "price",
		"active":  true,
		"product": "prod_other",
	})

	expectEventRecorded(mock)
	mock.ExpectQuery(`SELECT \* FROM "membership_tiers" WHERE stripe_product_id = \$1`).
		WillReturnRows(sqlmock.NewRows(tierColumns))
	expectEventMarked(mock)

	w := postWebhook(payload, sign(payload, testutils.TestWebhookSecret))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Price is not for a tier")
	assert.NoError(t, mock.ExpectationsWereMet())
}
