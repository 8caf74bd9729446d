package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fanrealms-backend/db"
	"fanrealms-backend/models"
	"fanrealms-backend/services/cache"
	"fanrealms-backend/services/payments"
	"fanrealms-backend/utils"
	mailsmodels "fanrealms-backend/utils/mails-models"

	stripe "github.com/stripe/stripe-go/v82"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func handleCheckoutSessionCompleted(ctx context.Context, event stripe.Event) (string, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return "", fmt.Errorf("decode checkout session: %w", err)
	}

	switch session.Mode {
	case stripe.CheckoutSessionModeSubscription:
		return subscriptionCheckoutCompleted(ctx, event, session)
	case stripe.CheckoutSessionModePayment:
		return commissionCheckoutCompleted(ctx, session)
	default:
		return "Checkout mode ignored", nil
	}
}

// subscriptionStatus maps a live Stripe subscription onto the local status.
// ok is false for states that have no local row.
func subscriptionStatus(sub *stripe.Subscription) (models.SubscriptionStatus, bool) {
	switch sub.Status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		if sub.CancelAtPeriodEnd {
			return models.SubscriptionCancelling, true
		}
		return models.SubscriptionActive, true
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		return models.SubscriptionPastDue, true
	}
	return "", false
}

func subscriptionCheckoutCompleted(ctx context.Context, event stripe.Event, session stripe.CheckoutSession) (string, error) {
	if session.Subscription == nil || session.Subscription.ID == "" {
		return "Checkout session without subscription", nil
	}

	stripeSub, err := payments.Client.GetSubscription(ctx, session.Subscription.ID)
	if err != nil {
		return "", err
	}

	meta := stripeSub.Metadata
	if meta[payments.MetaUserID] == "" {
		meta = session.Metadata
	}
	userID, creatorID, tierID := meta[payments.MetaUserID], meta[payments.MetaCreatorID], meta[payments.MetaTierID]
	if userID == "" || creatorID == "" || tierID == "" {
		return "Subscription metadata incomplete, ignored", nil
	}

	var previous *models.Subscription
	if previousID := meta[payments.MetaPreviousSubscriptionID]; previousID != "" {
		var prev models.Subscription
		err := db.DB.WithContext(ctx).First(&prev, "id = ?", previousID).Error
		switch {
		case err == nil && prev.StripeSubscriptionID != stripeSub.ID:
			if _, err := payments.Client.CancelSubscription(ctx, prev.StripeSubscriptionID, payments.IdempotencyKey(prev.ID, "switch")); err != nil {
				return "", fmt.Errorf("cancel previous subscription %s: %w", prev.StripeSubscriptionID, err)
			}
			previous = &prev
		case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
			return "", err
		}
	}

	start, end := payments.SubscriptionPeriod(stripeSub)
	var amount int64
	if _, price := payments.SubscriptionItem(stripeSub); price != nil {
		amount = price.UnitAmount
	}
	customerID := ""
	if stripeSub.Customer != nil {
		customerID = stripeSub.Customer.ID
	} else if session.Customer != nil {
		customerID = session.Customer.ID
	}
	status := models.SubscriptionActive
	if stripeSub.CancelAtPeriodEnd {
		status = models.SubscriptionCancelling
	}
	eventAt := time.Unix(event.Created, 0).UTC()

	row := models.Subscription{
		UserID:               userID,
		CreatorID:            creatorID,
		TierID:               tierID,
		StripeSubscriptionID: stripeSub.ID,
		StripeCustomerID:     customerID,
		Status:               status,
		CurrentPeriodStart:   time.Unix(start, 0).UTC(),
		CurrentPeriodEnd:     time.Unix(end, 0).UTC(),
		CancelAtPeriodEnd:    stripeSub.CancelAtPeriodEnd,
		Amount:               amount,
		LastEventAt:          &eventAt,
	}

	err = db.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if previous != nil {
			if err := tx.Delete(previous).Error; err != nil {
				return err
			}
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "stripe_subscription_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"tier_id", "status", "current_period_start", "current_period_end",
				"cancel_at_period_end", "amount", "stripe_customer_id", "last_event_at", "updated_at",
			}),
		}).Create(&row).Error; err != nil {
			return err
		}
		if customerID == "" {
			return nil
		}
		return tx.Model(&models.User{}).
			Where("id = ? AND (stripe_customer_id IS NULL OR stripe_customer_id = '')", userID).
			Update("stripe_customer_id", customerID).Error
	})
	if err != nil {
		return "", fmt.Errorf("save subscription %s: %w", stripeSub.ID, err)
	}

	cache.Invalidate(ctx, cache.MutationSubscription, cache.Scope{UserID: userID, CreatorID: creatorID})
	sendSubscriptionConfirmation(userID, creatorID, tierID)

	if previous != nil {
		return fmt.Sprintf("Subscription %s replaced %s", stripeSub.ID, previous.StripeSubscriptionID), nil
	}
	return "Subscription " + stripeSub.ID + " activated", nil
}

func sendSubscriptionConfirmation(userID, creatorID, tierID string) {
	if !utils.MailEnabled() {
		return
	}

	var user, creator models.User
	var tier models.MembershipTier
	if err := db.DB.First(&user, "id = ?", userID).Error; err != nil {
		utils.LogError(err, "Could not load subscriber "+userID)
		return
	}
	if err := db.DB.First(&creator, "id = ?", creatorID).Error; err != nil {
		utils.LogError(err, "Could not load creator "+creatorID)
		return
	}
	if err := db.DB.First(&tier, "id = ?", tierID).Error; err != nil {
		utils.LogError(err, "Could not load tier "+tierID)
		return
	}

	creatorName := creator.DisplayName
	if creatorName == "" {
		creatorName = creator.UserName
	}
	if err := mailsmodels.SubscriptionConfirmation(mailsmodels.SubscriptionConfirmationData{
		Email:       user.Email,
		UserName:    user.UserName,
		CreatorName: creatorName,
		TierTitle:   tier.Title,
	}); err != nil {
		utils.LogError(err, "Could not send the subscription confirmation to "+userID)
	}
}

func findSubscription(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error) {
	var row models.Subscription
	err := db.DB.WithContext(ctx).First(&row, "stripe_subscription_id = ?", stripeSubscriptionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func handleSubscriptionUpdated(ctx context.Context, event stripe.Event) (string, error) {
	var stripeSub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &stripeSub); err != nil {
		return "", fmt.Errorf("decode subscription: %w", err)
	}

	row, err := findSubscription(ctx, stripeSub.ID)
	if err != nil {
		return "", err
	}
	if row == nil {
		return "Subscription not tracked", nil
	}

	eventAt := time.Unix(event.Created, 0).UTC()
	if row.LastEventAt != nil && eventAt.Before(*row.LastEventAt) {
		return "Out of order subscription event ignored", nil
	}
	scope := cache.Scope{UserID: row.UserID, CreatorID: row.CreatorID}

	status, live := subscriptionStatus(&stripeSub)
	if !live {
		if stripeSub.Status != stripe.SubscriptionStatusCanceled && stripeSub.Status != stripe.SubscriptionStatusIncompleteExpired {
			return fmt.Sprintf("Subscription status %s ignored", stripeSub.Status), nil
		}
		if err := db.DB.WithContext(ctx).Delete(row).Error; err != nil {
			return "", fmt.Errorf("delete subscription %s: %w", row.ID, err)
		}
		cache.Invalidate(ctx, cache.MutationSubscription, scope)
		return "Subscription " + stripeSub.ID + " removed", nil
	}

	updates := map[string]interface{}{
		"status":               status,
		"cancel_at_period_end": stripeSub.CancelAtPeriodEnd,
		"last_event_at":        eventAt,
	}
	if start, end := payments.SubscriptionPeriod(&stripeSub); end > 0 {
		updates["current_period_start"] = time.Unix(start, 0).UTC()
		updates["current_period_end"] = time.Unix(end, 0).UTC()
	}
	if _, price := payments.SubscriptionItem(&stripeSub); price != nil {
		updates["amount"] = price.UnitAmount
		var tier models.MembershipTier
		err := db.DB.WithContext(ctx).Select("id").First(&tier, "stripe_price_id = ?", price.ID).Error
		if err == nil && tier.ID != row.TierID {
			updates["tier_id"] = tier.ID
		} else if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return "", err
		}
	}

	if err := db.DB.WithContext(ctx).Model(row).Updates(updates).Error; err != nil {
		return "", fmt.Errorf("update subscription %s: %w", row.ID, err)
	}
	cache.Invalidate(ctx, cache.MutationSubscription, scope)
	return fmt.Sprintf("Subscription %s is %s", stripeSub.ID, status), nil
}

func handleSubscriptionDeleted(ctx context.Context, event stripe.Event) (string, error) {
	var stripeSub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &stripeSub); err != nil {
		return "", fmt.Errorf("decode subscription: %w", err)
	}

	row, err := findSubscription(ctx, stripeSub.ID)
	if err != nil {
		return "", err
	}
	if row == nil {
		return "Subscription already removed", nil
	}
	if err := db.DB.WithContext(ctx).Delete(row).Error; err != nil {
		return "", fmt.Errorf("delete subscription %s: %w", row.ID, err)
	}

	cache.Invalidate(ctx, cache.MutationSubscription, cache.Scope{UserID: row.UserID, CreatorID: row.CreatorID})
	return "Subscription " + stripeSub.ID + " removed", nil
}

// expandableID reads a Stripe reference that is either an id string or an
// expanded object.
type expandableID string

func (e *expandableID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		*e = expandableID(id)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*e = expandableID(obj.ID)
	return nil
}

// invoicePayload holds the invoice fields used here. Newer API versions moved
// the subscription under parent and the payment intent under payments, so
// both places are read.
type invoicePayload struct {
	ID            string       `json:"id"`
	AmountPaid    int64        `json:"amount_paid"`
	Subscription  expandableID `json:"subscription"`
	PaymentIntent expandableID `json:"payment_intent"`
	Parent        struct {
		SubscriptionDetails struct {
			Subscription expandableID `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
	Payments struct {
		Data []struct {
			Payment struct {
				PaymentIntent expandableID `json:"payment_intent"`
			} `json:"payment"`
		} `json:"data"`
	} `json:"payments"`
	Lines struct {
		Data []struct {
			Period struct {
				Start int64 `json:"start"`
				End   int64 `json:"end"`
			} `json:"period"`
		} `json:"data"`
	} `json:"lines"`
}

func (inv invoicePayload) subscriptionID() string {
	if id := inv.Parent.SubscriptionDetails.Subscription; id != "" {
		return string(id)
	}
	return string(inv.Subscription)
}

func (inv invoicePayload) paymentIntentID() string {
	for _, p := range inv.Payments.Data {
		if p.Payment.PaymentIntent != "" {
			return string(p.Payment.PaymentIntent)
		}
	}
	return string(inv.PaymentIntent)
}

func (inv invoicePayload) periodEnd() int64 {
	var end int64
	for _, line := range inv.Lines.Data {
		if line.Period.End > end {
			end = line.Period.End
		}
	}
	return end
}

func decodeInvoice(event stripe.Event) (invoicePayload, error) {
	var inv invoicePayload
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return inv, fmt.Errorf("decode invoice: %w", err)
	}
	return inv, nil
}

func handleInvoicePaymentSucceeded(ctx context.Context, event stripe.Event) (string, error) {
	inv, err := decodeInvoice(event)
	if err != nil {
		return "", err
	}
	subscriptionID := inv.subscriptionID()
	if subscriptionID == "" {
		return "Invoice without subscription", nil
	}

	row, err := findSubscription(ctx, subscriptionID)
	if err != nil {
		return "", err
	}
	if row == nil {
		// the first invoice can arrive before checkout.session.completed
		return "", fmt.Errorf("subscription %s not recorded yet", subscriptionID)
	}

	key := inv.paymentIntentID()
	if key == "" {
		key = inv.ID
	}
	payment := models.SubscriptionPayment{
		SubscriptionID:        row.ID,
		Amount:                inv.AmountPaid,
		PaidAt:                time.Unix(event.Created, 0).UTC(),
		StripePaymentIntentId: key,
	}
	res := db.DB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&payment)
	if res.Error != nil {
		return "", fmt.Errorf("record payment of %s: %w", subscriptionID, res.Error)
	}
	if res.RowsAffected == 0 {
		return "Payment already recorded", nil
	}

	updates := map[string]interface{}{}
	if row.Status == models.SubscriptionPastDue {
		updates["status"] = models.SubscriptionActive
		if row.CancelAtPeriodEnd {
			updates["status"] = models.SubscriptionCancelling
		}
	}
	if end := inv.periodEnd(); end > 0 && time.Unix(end, 0).After(row.CurrentPeriodEnd) {
		updates["current_period_end"] = time.Unix(end, 0).UTC()
	}
	if len(updates) > 0 {
		if err := db.DB.WithContext(ctx).Model(row).Updates(updates).Error; err != nil {
			return "", fmt.Errorf("update subscription %s: %w", row.ID, err)
		}
	}

	cache.Invalidate(ctx, cache.MutationSubscription, cache.Scope{UserID: row.UserID, CreatorID: row.CreatorID})
	return "Payment recorded for subscription " + subscriptionID, nil
}

func handleInvoicePaymentFailed(ctx context.Context, event stripe.Event) (string, error) {
	inv, err := decodeInvoice(event)
	if err != nil {
		return "", err
	}
	subscriptionID := inv.subscriptionID()
	if subscriptionID == "" {
		return "Invoice without subscription", nil
	}

	row, err := findSubscription(ctx, subscriptionID)
	if err != nil {
		return "", err
	}
	if row == nil {
		return "Subscription not tracked", nil
	}
	if row.Status == models.SubscriptionPastDue {
		return "Subscription already past due", nil
	}

	if err := db.DB.WithContext(ctx).Model(row).Update("status", models.SubscriptionPastDue).Error; err != nil {
		return "", fmt.Errorf("mark subscription %s past due: %w", row.ID, err)
	}
	cache.Invalidate(ctx, cache.MutationSubscription, cache.Scope{UserID: row.UserID, CreatorID: row.CreatorID})
	return "Subscription " + subscriptionID + " is past due", nil
}

func tierForProduct(ctx context.Context, productID string) (*models.MembershipTier, error) {
	var tier models.MembershipTier
	err := db.DB.WithContext(ctx).First(&tier, "stripe_product_id = ?", productID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tier, nil
}

func handlePriceChanged(ctx context.Context, event stripe.Event) (string, error) {
	var price stripe.Price
	if err := json.Unmarshal(event.Data.Raw, &price); err != nil {
		return "", fmt.Errorf("decode price: %w", err)
	}
	if price.Product == nil {
		return "Price without product", nil
	}

	tier, err := tierForProduct(ctx, price.Product.ID)
	if err != nil {
		return "", err
	}
	if tier == nil {
		return "Price is not for a tier", nil
	}

	updates := map[string]interface{}{}
	switch {
	case price.Active && price.Recurring != nil:
		updates["stripe_price_id"] = price.ID
		updates["price"] = utils.FromCents(price.UnitAmount)
	case !price.Active && price.ID == tier.StripePriceID:
		updates["active"] = false
	default:
		return "Price change does not affect the tier", nil
	}

	if err := db.DB.WithContext(ctx).Model(tier).Updates(updates).Error; err != nil {
		return "", fmt.Errorf("update tier %s: %w", tier.ID, err)
	}
	cache.Invalidate(ctx, cache.MutationTier, cache.Scope{CreatorID: tier.CreatorID})
	return "Tier " + tier.ID + " synced with price " + price.ID, nil
}

func handleProductChanged(ctx context.Context, event stripe.Event) (string, error) {
	var product stripe.Product
	if err := json.Unmarshal(event.Data.Raw, &product); err != nil {
		return "", fmt.Errorf("decode product: %w", err)
	}

	tier, err := tierForProduct(ctx, product.ID)
	if err != nil {
		return "", err
	}
	if tier == nil {
		return "Product is not a tier", nil
	}

	updates := map[string]interface{}{"active": product.Active}
	if event.Type == "product.deleted" {
		updates["active"] = false
	} else if product.Name != "" {
		updates["title"] = product.Name
	}

	if err := db.DB.WithContext(ctx).Model(tier).Updates(updates).Error; err != nil {
		return "", fmt.Errorf("update tier %s: %w", tier.ID, err)
	}
	cache.Invalidate(ctx, cache.MutationTier, cache.Scope{CreatorID: tier.CreatorID})
	return "Tier " + tier.ID + " synced with product " + product.ID, nil
}
