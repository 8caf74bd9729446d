package reconcile

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"testing"

	"fanrealms-backend/models"
	"fanrealms-backend/testutils"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripe "github.com/stripe/stripe-go/v82"
)

func TestMain(m *testing.M) {
	testutils.InitTestMain()
	log.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func pi(status stripe.PaymentIntentStatus) *stripe.PaymentIntent {
	return &stripe.PaymentIntent{ID: "pi_123", Status: status}
}

func TestTarget(t *testing.T) {
	refunded := pi(stripe.PaymentIntentStatusSucceeded)
	refunded.LatestCharge = &stripe.Charge{ID: "ch_1", Refunded: true}

	failed := pi(stripe.PaymentIntentStatusRequiresPaymentMethod)
	failed.LastPaymentError = &stripe.Error{Msg: "card declined"}

	tests := []struct {
		name    string
		current models.CommissionStatus
		intent  *stripe.PaymentIntent
		want    models.CommissionStatus
		changed bool
	}{
		{"authorized", models.CommissionPaymentPending, pi(stripe.PaymentIntentStatusRequiresCapture), models.CommissionPaymentAuthorized, true},
		{"already authorized", models.CommissionPaymentAuthorized, pi(stripe.PaymentIntentStatusRequiresCapture), models.CommissionPaymentAuthorized, false},
		{"captured", models.CommissionPaymentAuthorized, pi(stripe.PaymentIntentStatusSucceeded), models.CommissionAccepted, true},
		{"captured but work progressed", models.CommissionInProgress, pi(stripe.PaymentIntentStatusSucceeded), models.CommissionInProgress, false},
		{"refunded charge", models.CommissionAccepted, refunded, models.CommissionRefunded, true},
		{"card declined", models.CommissionPaymentPending, failed, models.CommissionPaymentFailed, true},
		{"waiting for customer", models.CommissionPending, pi(stripe.PaymentIntentStatusRequiresAction), models.CommissionPaymentPending, true},
		{"retry after failure keeps failed", models.CommissionPaymentFailed, pi(stripe.PaymentIntentStatusRequiresPaymentMethod), models.CommissionPaymentFailed, false},
		{"canceled after authorization", models.CommissionPaymentAuthorized, pi(stripe.PaymentIntentStatusCanceled), models.CommissionRejected, true},
		{"canceled before authorization", models.CommissionPaymentPending, pi(stripe.PaymentIntentStatusCanceled), models.CommissionCancelled, true},
		{"terminal refunded stays", models.CommissionRefunded, pi(stripe.PaymentIntentStatusSucceeded), models.CommissionRefunded, false},
		{"terminal rejected stays", models.CommissionRejected, pi(stripe.PaymentIntentStatusRequiresCapture), models.CommissionRejected, false},
		{"terminal completed ignores refund", models.CommissionCompleted, refunded, models.CommissionCompleted, false},
		{"nil intent", models.CommissionPending, nil, models.CommissionPending, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed := Target(tt.current, tt.intent)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.changed, changed)
		})
	}
}

func commissionRows(id string, status models.CommissionStatus, paymentIntent interface{}) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "customer_id", "creator_id", "commission_type_id", "title", "status", "stripe_payment_intent_id", "agreed_price", "creator_notes"}).
		AddRow(id, "customer-1", "creator-1", "type-1", "Portrait", string(status), paymentIntent, "40.00", "")
}

func TestCommissionIsIdempotent(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()
	testutils.SetupTestCache(t)
	fake := testutils.SetupFakeProcessor(t)
	fake.PaymentIntents["pi_123"] = pi(stripe.PaymentIntentStatusRequiresCapture)

	const id = "3f1c1a52-2f4e-4c1d-9d0b-0c6a9f1b2e11"

	mock.ExpectQuery(`SELECT \* FROM "commission_requests" WHERE id = \$1`).
		WillReturnRows(commissionRows(id, models.CommissionPaymentPending, "pi_123"))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "commission_requests" SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	first, err := Commission(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, first.Changed)
	assert.Equal(t, models.CommissionPaymentAuthorized, first.To)

	mock.ExpectQuery(`SELECT \* FROM "commission_requests" WHERE id = \$1`).
		WillReturnRows(commissionRows(id, models.CommissionPaymentAuthorized, "pi_123"))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "commission_requests" SET "last_reconciled_at"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	second, err := Commission(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, second.Changed)
	assert.Equal(t, models.CommissionPaymentAuthorized, second.To)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommissionWithoutPaymentIntent(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()
	fake := testutils.SetupFakeProcessor(t)

	mock.ExpectQuery(`SELECT \* FROM "commission_requests" WHERE id = \$1`).
		WillReturnRows(commissionRows("req-1", models.CommissionPending, nil))

	_, err := Commission(context.Background(), "req-1")
	assert.True(t, errors.Is(err, ErrNoPaymentIntent))
	assert.False(t, fake.Called("GetPaymentIntent"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommissionLostRace(t *testing.T) {
	_, mock, cleanup := testutils.SetupTestDB(t)
	defer cleanup()
	testutils.SetupTestCache(t)
	fake := testutils.SetupFakeProcessor(t)
	fake.PaymentIntents["pi_123"] = pi(stripe.PaymentIntentStatusSucceeded)

	mock.ExpectQuery(`SELECT \* FROM "commission_requests" WHERE id = \$1`).
		WillReturnRows(commissionRows("req-1", models.CommissionPaymentAuthorized, "pi_123"))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "commission_requests" SET`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	_, err := Commission(context.Background(), "req-1")
	assert.ErrorContains(t, err, "status changed concurrently")
	assert.NoError(t, mock.ExpectationsWereMet())
}
