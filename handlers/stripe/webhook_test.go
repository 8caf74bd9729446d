package stripe

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"fanrealms-backend/testutils"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"
)

const (
	requestID = "5b0e3c1a-7f2d-4a6b-9c8e-1d2f3a4b5c6d"
	creatorID = "0b6f6c1e-2a8d-4d7e-9b1f-5c3a2e4d6f70"
	userID    = "9a1e7c3b-5d2f-4b8a-a6e4-1c0d3f2b5a90"
	tierID    = "c4d2e6f8-1a3b-4c5d-8e7f-9a0b1c2d3e4f"
	subID     = "7e5d4c3b-2a19-4f8e-b7d6-c5b4a3928170"
)

func TestMain(m *testing.M) {
	testutils.InitTestMain()
	log.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func eventPayload(t *testing.T, id, eventType string, object interface{}) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]interface{}{
		"id":          id,
		"object":      "event",
		"type":        eventType,
		"created":     time.Now().Unix(),
		"api_version": "2025-04-30.basil",
		"data":        map[string]interface{}{"object": object},
	})
	require.NoError(t, err)
	return payload
}

func postWebhook(payload []byte, signature string) *httptest.ResponseRecorder {
	r := testutils.SetupTestRouter()
	r.POST("/stripe/webhook", StripeWebhookHandler)

	req, _ := http.NewRequest(http.MethodPost, "/stripe/webhook", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func sign(payload []byte, secret string) string {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
	})
	return signed.Header
}

func expectEventRecorded(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "stripe_webhook_events" (.+) ON CONFLICT \("stripe_event_id"\) DO NOTHING RETURNING`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("4d3c2b1a-0f9e-4d8c-b7a6-958473625140"))
	mock.ExpectCommit()
}

func expectEventMarked(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "stripe_webhook_events" SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
}

func TestWebhook_MissingSignature(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()
	testutils.SetupFakeProcessor(t)

	w := postWebhook(eventPayload(t, "evt_1", "charge.refunded", gin.H{"id": "ch_1"}), "")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhook_BadSignature(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()
	testutils.SetupFakeProcessor(t)

	payload := eventPayload(t, "evt_1", "charge.refunded", gin.H{"id": "ch_1"})
	w := postWebhook(payload, sign(payload, "whsec_someone_else"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhook_TamperedPayload(t *testing.T) {
	testutils.SetupFakeProcessor(t)

	payload := eventPayload(t, "evt_1", "charge.refunded", gin.H{"id": "ch_1"})
	signature := sign(payload, testutils.TestWebhookSecret)
	tampered := bytes.Replace(payload, []byte("ch_1"), []byte("ch_2"), 1)

	w := postWebhook(tampered, signature)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhook_ChargeRefunded(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()
	testutils.SetupTestCache(t)
	testutils.SetupFakeProcessor(t)

	payload := eventPayload(t, "evt_refund", "charge.refunded", gin.H{
		"id":             "ch_1",
		"object":         "charge",
		"payment_intent": "pi_123",
		"refunded":       true,
	})

	expectEventRecorded(mock)
	mock.ExpectQuery(`SELECT \* FROM "commission_requests" WHERE stripe_payment_intent_id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "customer_id", "creator_id", "status", "stripe_payment_intent_id", "agreed_price"}).
			AddRow(requestID, userID, creatorID, "accepted", "pi_123", "40.00"))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "commission_requests" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	expectEventMarked(mock)

	w := postWebhook(payload, sign(payload, testutils.TestWebhookSecret))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "refunded")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhook_AlreadyProcessed(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()
	testutils.SetupFakeProcessor(t)

	payload := eventPayload(t, "evt_dup", "charge.refunded", gin.H{"id": "ch_1", "payment_intent": "pi_123"})

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "stripe_webhook_events"`).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()
	mock.ExpectQuery(`SELECT \* FROM "stripe_webhook_events" WHERE stripe_event_id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "stripe_event_id", "event_type", "processed_at"}).
			AddRow("4d3c2b1a-0f9e-4d8c-b7a6-958473625140", "evt_dup", "charge.refunded", time.Now()))

	w := postWebhook(payload, sign(payload, testutils.TestWebhookSecret))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "already processed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhook_UnknownEventIgnored(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()
	testutils.SetupFakeProcessor(t)

	payload := eventPayload(t, "evt_other", "customer.created", gin.H{"id": "cus_1"})
	expectEventRecorded(mock)
	expectEventMarked(mock)

	w := postWebhook(payload, sign(payload, testutils.TestWebhookSecret))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Event ignored")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhook_HandlerErrorAsksForRetry(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()
	testutils.SetupFakeProcessor(t)

	payload := eventPayload(t, "evt_fail", "charge.refunded", gin.H{"id": "ch_1", "payment_intent": "pi_123"})
	expectEventRecorded(mock)
	mock.ExpectQuery(`SELECT \* FROM "commission_requests" WHERE stripe_payment_intent_id = \$1`).
		WillReturnError(fmt.Errorf("connection reset"))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "stripe_webhook_events" SET "processing_error"=\$1`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	w := postWebhook(payload, sign(payload, testutils.TestWebhookSecret))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhook_OutOfOrderSubscriptionUpdate(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()
	testutils.SetupFakeProcessor(t)

	payload := eventPayload(t, "evt_old", "customer.subscription.updated", gin.H{
		"id":     "sub_1",
		"object": "subscription",
		"status": "past_due",
	})

	expectEventRecorded(mock)
	mock.ExpectQuery(`SELECT \* FROM "subscriptions" WHERE stripe_subscription_id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "creator_id", "tier_id", "stripe_subscription_id", "status", "last_event_at"}).
			AddRow(subID, userID, creatorID, tierID, "sub_1", "active", time.Now().Add(time.Hour)))
	expectEventMarked(mock)

	w := postWebhook(payload, sign(payload, testutils.TestWebhookSecret))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Out of order")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvoicePayloadReadsBothLayouts(t *testing.T) {
	basil := []byte(`{
		"id": "in_1",
		"amount_paid": 500,
		"parent": {"subscription_details": {"subscription": "sub_new"}},
		"payments": {"data": [{"payment": {"payment_intent": "pi_new"}}]},
		"lines": {"data": [{"period": {"start": 100, "end": 200}}, {"period": {"start": 100, "end": 300}}]}
	}`)
	var inv invoicePayload
	require.NoError(t, json.Unmarshal(basil, &inv))
	assert.Equal(t, "sub_new", inv.subscriptionID())
	assert.Equal(t, "pi_new", inv.paymentIntentID())
	assert.Equal(t, int64(300), inv.periodEnd())

	legacy := []byte(`{"id": "in_2", "subscription": {"id": "sub_old"}, "payment_intent": "pi_old", "parent": null}`)
	inv = invoicePayload{}
	require.NoError(t, json.Unmarshal(legacy, &inv))
	assert.Equal(t, "sub_old", inv.subscriptionID())
	assert.Equal(t, "pi_old", inv.paymentIntentID())
}
