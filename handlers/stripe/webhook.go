package stripe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"fanrealms-backend/db"
	"fanrealms-backend/middleware"
	"fanrealms-backend/models"
	"fanrealms-backend/services/payments"
	"fanrealms-backend/utils"

	"github.com/gin-gonic/gin"
	stripe "github.com/stripe/stripe-go/v82"
	"gorm.io/gorm/clause"
)

const maxWebhookBodyBytes = int64(65536)

type eventHandler func(ctx context.Context, event stripe.Event) (string, error)

var eventHandlers = map[stripe.EventType]eventHandler{
	"checkout.session.completed":               handleCheckoutSessionCompleted,
	"checkout.session.expired":                 handleCheckoutSessionExpired,
	"payment_intent.amount_capturable_updated": handlePaymentIntentEvent,
	"payment_intent.payment_failed":            handlePaymentIntentEvent,
	"payment_intent.canceled":                  handlePaymentIntentEvent,
	"charge.refunded":                          handleChargeRefunded,
	"customer.subscription.updated":            handleSubscriptionUpdated,
	"customer.subscription.deleted":            handleSubscriptionDeleted,
	"invoice.payment_succeeded":                handleInvoicePaymentSucceeded,
	"invoice.payment_failed":                   handleInvoicePaymentFailed,
	"price.created":                            handlePriceChanged,
	"price.updated":                            handlePriceChanged,
	"product.updated":                          handleProductChanged,
	"product.deleted":                          handleProductChanged,
}

// StripeWebhookHandler receives Stripe events
// @Summary Stripe webhook
// @Description Verifies the Stripe-Signature header, records the event once and mirrors it into subscriptions, commission requests and tiers. Handler failures answer 500 so Stripe retries.
// @Tags stripe
// @Accept json
// @Produce json
// @Param Stripe-Signature header string true "Stripe signature"
// @Success 200 {object} map[string]string "message"
// @Failure 400 {object} map[string]string "error: Invalid payload or signature"
// @Failure 500 {object} map[string]string "error: Event processing failed"
// @Router /stripe/webhook [post]
func StripeWebhookHandler(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodyBytes)
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		utils.LogError(err, "Unreadable webhook body")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unable to read the request body"})
		return
	}

	event, err := payments.Client.ConstructEvent(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		utils.LogError(err, "Stripe signature verification failed")
		middleware.WebhookEventsTotal.WithLabelValues("unknown", "rejected").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "Stripe signature verification failed"})
		return
	}
	eventType := string(event.Type)

	record, processed, err := recordEvent(event, payload)
	if err != nil {
		utils.LogError(err, "Could not record Stripe event "+event.ID)
		middleware.WebhookEventsTotal.WithLabelValues(eventType, "error").Inc()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not record the event"})
		return
	}
	if processed {
		middleware.WebhookEventsTotal.WithLabelValues(eventType, "duplicate").Inc()
		c.JSON(http.StatusOK, gin.H{"message": "Event already processed"})
		return
	}

	handler, ok := eventHandlers[event.Type]
	if !ok {
		markProcessed(record, nil)
		middleware.WebhookEventsTotal.WithLabelValues(eventType, "ignored").Inc()
		c.JSON(http.StatusOK, gin.H{"message": "Event ignored"})
		return
	}

	message, err := handler(c.Request.Context(), event)
	if err != nil {
		utils.LogError(err, fmt.Sprintf("Stripe event %s (%s) failed", event.ID, eventType))
		markProcessed(record, err)
		middleware.WebhookEventsTotal.WithLabelValues(eventType, "error").Inc()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Event processing failed"})
		return
	}

	markProcessed(record, nil)
	middleware.WebhookEventsTotal.WithLabelValues(eventType, "processed").Inc()
	utils.LogInfo(fmt.Sprintf("Stripe event %s (%s): %s", event.ID, eventType, message))
	c.JSON(http.StatusOK, gin.H{"message": message})
}

// recordEvent inserts the event row once. processed is true when an earlier
// delivery of the same event already went through.
func recordEvent(event stripe.Event, payload []byte) (models.StripeWebhookEvent, bool, error) {
	record := models.StripeWebhookEvent{
		StripeEventID: event.ID,
		EventType:     string(event.Type),
		Payload:       string(payload),
	}
	res := db.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "stripe_event_id"}},
		DoNothing: true,
	}).Create(&record)
	if res.Error != nil {
		return record, false, res.Error
	}
	if res.RowsAffected > 0 {
		return record, false, nil
	}

	if err := db.DB.First(&record, "stripe_event_id = ?", event.ID).Error; err != nil {
		return record, false, err
	}
	return record, record.ProcessedAt != nil, nil
}

// markProcessed stores the outcome; a failed event keeps processed_at empty
// so the retry runs the handler again.
func markProcessed(record models.StripeWebhookEvent, handlerErr error) {
	updates := map[string]interface{}{"processing_error": ""}
	if handlerErr != nil {
		updates["processing_error"] = handlerErr.Error()
	} else {
		updates["processed_at"] = time.Now()
	}
	if err := db.DB.Model(&record).Updates(updates).Error; err != nil {
		utils.LogError(err, "Could not update Stripe event "+record.StripeEventID)
	}
}
