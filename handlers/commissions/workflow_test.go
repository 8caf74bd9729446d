package commissions

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"fanrealms-backend/models"
	"fanrealms-backend/services/payments"
	"fanrealms-backend/services/reconcile"
	"fanrealms-backend/testutils"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripe "github.com/stripe/stripe-go/v82"
)

var checkoutColumns = append(append([]string{}, requestColumns...), "stripe_checkout_session_id", "payment_attempt_id", "revision_count", "updated_at")

// checkoutRows is a request row carrying the payment attempt columns.
func checkoutRows(status models.CommissionStatus, paymentIntent, session interface{}, revisions int, updatedAt time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(checkoutColumns).
		AddRow(requestID, customerID, creatorID, typeID, "Portrait", string(status), paymentIntent, "40.00", "",
			session, nil, revisions, updatedAt)
}

func expectPayer(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(`SELECT \* FROM "users" WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "user_name", "stripe_customer_id"}).
			AddRow(customerID, "buyer@example.com", "buyer", "cus_test"))
}

func expectPaymentUpdate(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "commission_requests" SET "creator_notes"=.+"payment_attempt_id"=.+"status"=.+"stripe_checkout_session_id"=.+"stripe_payment_intent_id"=.+WHERE id = .+ AND status = `).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
}

func TestCreatePayment_RetryAfterFailureStartsNewAttempt(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()
	testutils.SetupTestCache(t)
	fake := testutils.SetupFakeProcessor(t)

	failedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT \* FROM "commission_requests" WHERE id = \$1`).
		WillReturnRows(checkoutRows(models.CommissionPaymentFailed, "pi_old", "cs_first", 0, failedAt))
	expectPayer(mock)
	expectPaymentUpdate(mock)

	w := doJSON(actionRouter(customerID), http.MethodPost, "/commissions/"+requestID+"/payment", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "cs_test_pay", body["sessionId"])
	assert.NotEmpty(t, body["checkoutUrl"])

	first := fake.LastCommissionCheckout.Metadata[payments.MetaPaymentAttemptID]
	require.NotEmpty(t, first)
	assert.Equal(t, requestID, fake.LastCommissionCheckout.Metadata[payments.MetaCommissionRequestID])
	assert.Equal(t, "checkout:"+first+":"+requestID, fake.LastCommissionCheckout.IdempotencyKey)
	assert.False(t, fake.Called("ExpireCheckoutSession"))

	// the second checkout failed too, which moved updated_at
	mock.ExpectQuery(`SELECT \* FROM "commission_requests" WHERE id = \$1`).
		WillReturnRows(checkoutRows(models.CommissionPaymentFailed, "pi_second", "cs_test_pay", 0, failedAt.Add(time.Hour)))
	expectPayer(mock)
	expectPaymentUpdate(mock)

	w = doJSON(actionRouter(customerID), http.MethodPost, "/commissions/"+requestID+"/payment", nil)

	require.Equal(t, http.StatusOK, w.Code)
	second := fake.LastCommissionCheckout.Metadata[payments.MetaPaymentAttemptID]
	assert.NotEqual(t, first, second)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreatePayment_SameRowVersionReusesAttempt(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()
	testutils.SetupTestCache(t)
	fake := testutils.SetupFakeProcessor(t)

	createdAt := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var keys []string
	for i := 0; i < 2; i++ {
		mock.ExpectQuery(`SELECT \* FROM "commission_requests" WHERE id = \$1`).
			WillReturnRows(checkoutRows(models.CommissionPending, nil, nil, 0, createdAt))
		expectPayer(mock)
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE "commission_requests" SET`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		w := doJSON(actionRouter(customerID), http.MethodPost, "/commissions/"+requestID+"/payment", nil)
		assert.Equal(t, http.StatusConflict, w.Code)
		keys = append(keys, fake.LastCommissionCheckout.IdempotencyKey)
	}

	assert.Equal(t, keys[0], keys[1])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreatePayment_ReissueExpiresPreviousCheckout(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()
	testutils.SetupTestCache(t)
	fake := testutils.SetupFakeProcessor(t)

	mock.ExpectQuery(`SELECT \* FROM "commission_requests" WHERE id = \$1`).
		WillReturnRows(checkoutRows(models.CommissionPaymentPending, nil, "cs_old", 0, time.Now()))
	expectPayer(mock)
	expectPaymentUpdate(mock)

	w := doJSON(actionRouter(customerID), http.MethodPost, "/commissions/"+requestID+"/payment", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ExpireCheckoutSession", fake.Last().Method)
	assert.Equal(t, "cs_old", fake.Last().ID)
	assert.Equal(t, "expire:cs_old", fake.Last().IdempotencyKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreatePayment_ReissueWhileIntentInFlight(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()
	fake := testutils.SetupFakeProcessor(t)

	mock.ExpectQuery(`SELECT \* FROM "commission_requests" WHERE id = \$1`).
		WillReturnRows(checkoutRows(models.CommissionPaymentPending, "pi_processing", "cs_old", 0, time.Now()))

	w := doJSON(actionRouter(customerID), http.MethodPost, "/commissions/"+requestID+"/payment", nil)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Empty(t, fake.Calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreatePayment_Rules(t *testing.T) {
	tests := []struct {
		name   string
		user   string
		status models.CommissionStatus
		want   int
	}{
		{"creator cannot pay", creatorID, models.CommissionPending, http.StatusForbidden},
		{"already authorized", customerID, models.CommissionPaymentAuthorized, http.StatusBadRequest},
		{"work started", customerID, models.CommissionInProgress, http.StatusBadRequest},
		{"cancelled", customerID, models.CommissionCancelled, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, mock, cleanup := testutils.SetupTestDB(t)
			defer cleanup()
			fake := testutils.SetupFakeProcessor(t)

			expectLoad(mock, tt.status, nil)

			w := doJSON(actionRouter(tt.user), http.MethodPost, "/commissions/"+requestID+"/payment", nil)

			assert.Equal(t, tt.want, w.Code)
			assert.Empty(t, fake.Calls)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestCreatePayment_ProcessorError(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()
	fake := testutils.SetupFakeProcessor(t)
	fake.Err = assert.AnError

	expectLoad(mock, models.CommissionPending, nil)
	expectPayer(mock)

	w := doJSON(actionRouter(customerID), http.MethodPost, "/commissions/"+requestID+"/payment", nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancel_PendingPaymentClosesCheckout(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()
	testutils.SetupTestCache(t)
	fake := testutils.SetupFakeProcessor(t)

	mock.ExpectQuery(`SELECT \* FROM "commission_requests" WHERE id = \$1`).
		WillReturnRows(checkoutRows(models.CommissionPaymentPending, nil, "cs_open", 0, time.Now()))
	expectStatusUpdate(mock, 1)

	w := doJSON(actionRouter(customerID), http.MethodPost, "/commissions/"+requestID+"/cancel", nil)

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, fake.Calls, 1)
	assert.Equal(t, "ExpireCheckoutSession", fake.Calls[0].Method)
	assert.Equal(t, "cs_open", fake.Calls[0].ID)

	var req models.CommissionRequest
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &req))
	assert.Equal(t, models.CommissionCancelled, req.Status)
	assert.Contains(t, req.CreatorNotes, "checkout closed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancel_CheckoutAlreadyGone(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()
	testutils.SetupTestCache(t)
	fake := testutils.SetupFakeProcessor(t)
	fake.Err = assert.AnError

	mock.ExpectQuery(`SELECT \* FROM "commission_requests" WHERE id = \$1`).
		WillReturnRows(checkoutRows(models.CommissionPaymentPending, nil, "cs_open", 0, time.Now()))
	expectStatusUpdate(mock, 1)

	w := doJSON(actionRouter(customerID), http.MethodPost, "/commissions/"+requestID+"/cancel", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "checkout closed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatus(t *testing.T) {
	tests := []struct {
		name    string
		current models.CommissionStatus
		next    string
		update  bool
		want    int
	}{
		{"start work", models.CommissionAccepted, "in_progress", true, http.StatusOK},
		{"complete work in progress", models.CommissionInProgress, "completed", true, http.StatusOK},
		{"delivered work is completed by the customer", models.CommissionDelivered, "completed", false, http.StatusBadRequest},
		{"under review is completed by the customer", models.CommissionUnderReview, "completed", false, http.StatusBadRequest},
		{"not yet accepted", models.CommissionPaymentAuthorized, "in_progress", false, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, mock, cleanup := testutils.SetupTestDB(t)
			defer cleanup()
			testutils.SetupTestCache(t)

			expectLoad(mock, tt.current, "pi_123")
			if tt.update {
				expectStatusUpdate(mock, 1)
			}

			w := doJSON(actionRouter(creatorID), http.MethodPost, "/commissions/"+requestID+"/status", gin.H{"status": tt.next})

			assert.Equal(t, tt.want, w.Code)
			if tt.update {
				var req models.CommissionRequest
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &req))
				assert.Equal(t, models.CommissionStatus(tt.next), req.Status)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestUpdateStatus_OnlyCreator(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()

	expectLoad(mock, models.CommissionAccepted, "pi_123")

	w := doJSON(actionRouter(customerID), http.MethodPost, "/commissions/"+requestID+"/status", gin.H{"status": "in_progress"})

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatus_UnknownStatus(t *testing.T) {
	w := doJSON(actionRouter(creatorID), http.MethodPost, "/commissions/"+requestID+"/status", gin.H{"status": "refunded"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func expectMaxRevisions(mock sqlmock.Sqlmock, max int) {
	mock.ExpectQuery(`SELECT "id","max_revisions" FROM "commission_types" WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "max_revisions"}).AddRow(typeID, max))
}

func TestReview_Approve(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()
	testutils.SetupTestCache(t)

	expectLoad(mock, models.CommissionDelivered, "pi_123")
	expectStatusUpdate(mock, 1)

	w := doJSON(actionRouter(customerID), http.MethodPost, "/commissions/"+requestID+"/review", gin.H{"decision": "approve"})

	assert.Equal(t, http.StatusOK, w.Code)
	var req models.CommissionRequest
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &req))
	assert.Equal(t, models.CommissionCompleted, req.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReview_ReviseCountsRevision(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()
	testutils.SetupTestCache(t)

	mock.ExpectQuery(`SELECT \* FROM "commission_requests" WHERE id = \$1`).
		WillReturnRows(checkoutRows(models.CommissionUnderReview, "pi_123", nil, 1, time.Now()))
	expectMaxRevisions(mock, 2)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "commission_requests" SET "creator_notes"=\$1,"revision_count"=\$2,"status"=\$3`).
		WithArgs(sqlmock.AnyArg(), 2, models.CommissionRevisionRequested, sqlmock.AnyArg(), requestID, models.CommissionUnderReview).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	w := doJSON(actionRouter(customerID), http.MethodPost, "/commissions/"+requestID+"/review", gin.H{"decision": "revise", "notes": "Darker hair"})

	require.Equal(t, http.StatusOK, w.Code)
	var req models.CommissionRequest
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &req))
	assert.Equal(t, models.CommissionRevisionRequested, req.Status)
	assert.Equal(t, 2, req.RevisionCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReview_ReviseLimit(t *testing.T) {
	tests := []struct {
		name string
		used int
		max  int
	}{
		{"all revisions used", 2, 2},
		{"type without revisions", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, mock, cleanup := testutils.SetupTestDB(t)
			defer cleanup()

			mock.ExpectQuery(`SELECT \* FROM "commission_requests" WHERE id = \$1`).
				WillReturnRows(checkoutRows(models.CommissionDelivered, "pi_123", nil, tt.used, time.Now()))
			expectMaxRevisions(mock, tt.max)

			w := doJSON(actionRouter(customerID), http.MethodPost, "/commissions/"+requestID+"/review", gin.H{"decision": "revise"})

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), "revisions of this commission were used")
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestReview_OnlyCustomer(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()

	expectLoad(mock, models.CommissionDelivered, "pi_123")

	w := doJSON(actionRouter(creatorID), http.MethodPost, "/commissions/"+requestID+"/review", gin.H{"decision": "approve"})

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitDeliverable_JSON(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()
	testutils.SetupTestCache(t)

	expectLoad(mock, models.CommissionInProgress, "pi_123")
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "commission_deliverables" (.+) RETURNING`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("d1b2c3d4-0000-4000-8000-000000000001"))
	mock.ExpectExec(`UPDATE "commission_requests" SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	w := doJSON(actionRouter(creatorID), http.MethodPost, "/commissions/"+requestID+"/deliverables", gin.H{
		"fileUrls":      []string{"https://cdn.example.com/final.png"},
		"deliveryNotes": "Final version",
	})

	require.Equal(t, http.StatusCreated, w.Code)
	var deliverable models.CommissionDeliverable
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &deliverable))
	assert.Equal(t, requestID, deliverable.CommissionRequestID)
	assert.JSONEq(t, `["https://cdn.example.com/final.png"]`, string(deliverable.FileURLs))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitDeliverable_Rejected(t *testing.T) {
	tests := []struct {
		name   string
		user   string
		status models.CommissionStatus
		body   gin.H
		want   int
	}{
		{"no files", creatorID, models.CommissionInProgress, gin.H{"deliveryNotes": "nothing"}, http.StatusBadRequest},
		{"not a url", creatorID, models.CommissionInProgress, gin.H{"fileUrls": []string{"final.png"}}, http.StatusBadRequest},
		{"customer cannot deliver", customerID, models.CommissionInProgress, gin.H{"fileUrls": []string{"https://cdn.example.com/a.png"}}, http.StatusForbidden},
		{"not started", creatorID, models.CommissionPaymentAuthorized, gin.H{"fileUrls": []string{"https://cdn.example.com/a.png"}}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, mock, cleanup := testutils.SetupTestDB(t)
			defer cleanup()

			expectLoad(mock, tt.status, "pi_123")

			w := doJSON(actionRouter(tt.user), http.MethodPost, "/commissions/"+requestID+"/deliverables", tt.body)

			assert.Equal(t, tt.want, w.Code)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestReconcileHandler(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()
	testutils.SetupTestCache(t)
	fake := testutils.SetupFakeProcessor(t)
	fake.PaymentIntents["pi_123"] = &stripe.PaymentIntent{ID: "pi_123", Status: stripe.PaymentIntentStatusRequiresCapture}

	expectLoad(mock, models.CommissionPaymentPending, "pi_123")
	expectStatusUpdate(mock, 1)

	w := doJSON(actionRouter(customerID), http.MethodPost, "/commissions/"+requestID+"/reconcile", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var result reconcile.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.True(t, result.Changed)
	assert.Equal(t, models.CommissionPaymentPending, result.From)
	assert.Equal(t, models.CommissionPaymentAuthorized, result.To)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcileHandler_Errors(t *testing.T) {
	t.Run("no payment intent", func(t *testing.T) {
		_, mock, cleanup := testutils.SetupTestDB(t)
		defer cleanup()
		fake := testutils.SetupFakeProcessor(t)

		expectLoad(mock, models.CommissionPending, nil)

		w := doJSON(actionRouter(creatorID), http.MethodPost, "/commissions/"+requestID+"/reconcile", nil)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Empty(t, fake.Calls)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stranger", func(t *testing.T) {
		_, mock, cleanup := testutils.SetupTestDB(t)
		defer cleanup()

		expectLoad(mock, models.CommissionPaymentPending, "pi_123")

		w := doJSON(actionRouter(typeID), http.MethodPost, "/commissions/"+requestID+"/reconcile", nil)

		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("status moved meanwhile", func(t *testing.T) {
		_, mock, cleanup := testutils.SetupTestDB(t)
		defer cleanup()
		fake := testutils.SetupFakeProcessor(t)
		fake.PaymentIntents["pi_123"] = &stripe.PaymentIntent{ID: "pi_123", Status: stripe.PaymentIntentStatusSucceeded}

		expectLoad(mock, models.CommissionPaymentAuthorized, "pi_123")
		expectStatusUpdate(mock, 0)

		w := doJSON(actionRouter(creatorID), http.MethodPost, "/commissions/"+requestID+"/reconcile", nil)

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCreateCommissionType_MaxRevisions(t *testing.T) {
	zero := 0
	tests := []struct {
		name string
		max  *int
		want int
	}{
		{"omitted uses the default", nil, models.DefaultMaxRevisions},
		{"explicit zero is kept", &zero, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, mock, cleanup := testutils.SetupTestDB(t)
			defer cleanup()
			testutils.SetupTestCache(t)

			mock.ExpectBegin()
			mock.ExpectQuery(`INSERT INTO "commission_types"`).
				WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(typeID))
			mock.ExpectCommit()

			body := gin.H{"name": "Sketch", "basePrice": "15.00"}
			if tt.max != nil {
				body["maxRevisions"] = *tt.max
			}
			r := testutils.SetupTestRouter()
			r.POST("/commission-types", testutils.WithUser(creatorID, models.ContentCreator), CreateCommissionType)

			w := doJSON(r, http.MethodPost, "/commission-types", body)

			require.Equal(t, http.StatusCreated, w.Code)
			var created models.CommissionType
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
			assert.Equal(t, tt.want, created.MaxRevisions)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
