package stripe

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"fanrealms-backend/config"
	"fanrealms-backend/db"
	"fanrealms-backend/models"
	"fanrealms-backend/services/cache"
	"fanrealms-backend/services/payments"
	"fanrealms-backend/utils"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// CreateSubscription starts, switches or resumes a subscription to a creator tier.
// @Summary Subscribe to a creator tier
// @Description Returns a Stripe Checkout URL for a new subscription or an upgrade. A downgrade is applied at once without payment. Subscribing again to a tier being cancelled resumes it.
// @Tags subscriptions
// @Accept json
// @Produce json
// @Param body body models.SubscriptionCreate true "Tier and creator"
// @Security BearerAuth
// @Success 200 {object} map[string]interface{} "checkoutUrl and sessionId, or success: true"
// @Failure 400 {object} map[string]string "error: Invalid input"
// @Failure 401 {object} map[string]string "error: Unauthorized"
// @Failure 404 {object} map[string]string "error: Tier not found"
// @Failure 409 {object} map[string]string "error: Already subscribed to this tier"
// @Failure 500 {object} map[string]string "error: Stripe error or server error"
// @Router /subscriptions [post]
func CreateSubscription(c *gin.Context) {
	userID, ok := utils.CurrentUserID(c)
	if !ok {
		utils.LogError(nil, "User not authenticated in CreateSubscription")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	var input models.SubscriptionCreate
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input: " + err.Error()})
		return
	}
	if input.CreatorID == userID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "You cannot subscribe to yourself"})
		return
	}

	var tier models.MembershipTier
	if err := db.DB.First(&tier, "id = ?", input.TierID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Tier not found"})
			return
		}
		utils.LogErrorWithUser(userID, err, "Error loading tier in CreateSubscription")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error loading tier"})
		return
	}
	if tier.CreatorID != input.CreatorID || !tier.Active || tier.StripePriceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "This tier is not available for this creator"})
		return
	}

	var existing models.Subscription
	err := db.DB.Where("user_id = ? AND creator_id = ? AND status IN ?", userID, input.CreatorID, models.LiveSubscriptionStatuses).
		First(&existing).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		utils.LogErrorWithUser(userID, err, "Error loading subscription in CreateSubscription")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error loading subscription"})
		return
	}
	hasLive := err == nil
	newAmount := utils.ToCents(tier.Price)

	switch {
	case !hasLive:
		startCheckout(c, userID, tier, "")

	case existing.TierID == tier.ID && existing.Status == models.SubscriptionCancelling:
		resumeSubscription(c, userID, existing)

	case existing.TierID == tier.ID:
		c.JSON(http.StatusConflict, gin.H{"error": "You are already subscribed to this tier"})

	case newAmount <= existing.Amount:
		downgradeSubscription(c, userID, existing, tier, newAmount)

	default:
		startCheckout(c, userID, tier, existing.ID)
	}
}

func startCheckout(c *gin.Context, userID string, tier models.MembershipTier, previousSubscriptionID string) {
	ctx := c.Request.Context()

	var payer models.User
	if err := db.DB.First(&payer, "id = ?", userID).Error; err != nil {
		utils.LogErrorWithUser(userID, err, "User not found in CreateSubscription")
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	customerID, err := payments.Client.EnsureCustomer(ctx, payer)
	if err != nil {
		utils.LogErrorWithUser(userID, err, "Error creating the Stripe customer in CreateSubscription")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error creating the Stripe customer"})
		return
	}
	if customerID != payer.StripeCustomerId {
		if err := db.DB.Model(&payer).Update("stripe_customer_id", customerID).Error; err != nil {
			utils.LogErrorWithUser(userID, err, "Could not store the Stripe customer id")
		}
	}

	metadata := map[string]string{
		payments.MetaUserID:    userID,
		payments.MetaCreatorID: tier.CreatorID,
		payments.MetaTierID:    tier.ID,
	}
	if previousSubscriptionID != "" {
		metadata[payments.MetaPreviousSubscriptionID] = previousSubscriptionID
	}

	frontend := config.Get().App.FrontendURL
	session, err := payments.Client.CreateSubscriptionCheckout(ctx, payments.SubscriptionCheckout{
		CustomerID: customerID,
		PriceID:    tier.StripePriceID,
		Metadata:   metadata,
		SuccessURL: fmt.Sprintf("%s/creators/%s?subscription=success&session_id={CHECKOUT_SESSION_ID}", frontend, tier.CreatorID),
		CancelURL:  fmt.Sprintf("%s/creators/%s?subscription=cancelled", frontend, tier.CreatorID),
	})
	if err != nil {
		utils.LogErrorWithUser(userID, err, "Error creating the Stripe session in CreateSubscription")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error creating the checkout session"})
		return
	}

	utils.LogSuccessWithUser(userID, "Subscription checkout session created")
	c.JSON(http.StatusOK, gin.H{"checkoutUrl": session.URL, "sessionId": session.ID})
}

func resumeSubscription(c *gin.Context, userID string, sub models.Subscription) {
	ctx := c.Request.Context()

	if _, err := payments.Client.ResumeSubscription(ctx, sub.StripeSubscriptionID, payments.IdempotencyKey(sub.ID, "resume:"+sub.CurrentPeriodEnd.Format(time.RFC3339))); err != nil {
		utils.LogErrorWithUser(userID, err, "Stripe error in resumeSubscription")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error resuming the subscription"})
		return
	}

	if err := db.DB.Model(&sub).Updates(map[string]interface{}{
		"status":               models.SubscriptionActive,
		"cancel_at_period_end": false,
	}).Error; err != nil {
		utils.LogErrorWithUser(userID, err, "Subscription resumed on Stripe but not saved "+sub.StripeSubscriptionID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error saving the subscription"})
		return
	}

	cache.Invalidate(ctx, cache.MutationSubscription, cache.Scope{UserID: userID, CreatorID: sub.CreatorID})
	utils.LogSuccessWithUser(userID, "Subscription resumed "+sub.ID)
	c.JSON(http.StatusOK, gin.H{"success": true, "resumed": true})
}

func downgradeSubscription(c *gin.Context, userID string, sub models.Subscription, tier models.MembershipTier, amount int64) {
	ctx := c.Request.Context()

	key := payments.IdempotencyKey(sub.ID, "change-tier:"+tier.ID)
	if _, err := payments.Client.ChangeSubscriptionPrice(ctx, sub.StripeSubscriptionID, tier.StripePriceID, key); err != nil {
		utils.LogErrorWithUser(userID, err, "Stripe error in downgradeSubscription")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error changing the subscription tier"})
		return
	}

	if err := db.DB.Model(&sub).Updates(map[string]interface{}{
		"tier_id": tier.ID,
		"amount":  amount,
	}).Error; err != nil {
		utils.LogErrorWithUser(userID, err, "Subscription tier changed on Stripe but not saved "+sub.StripeSubscriptionID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error saving the subscription"})
		return
	}

	cache.Invalidate(ctx, cache.MutationSubscription, cache.Scope{UserID: userID, CreatorID: sub.CreatorID})
	utils.LogSuccessWithUser(userID, "Subscription downgraded "+sub.ID)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// CancelSubscription cancels a subscription now or at the end of the paid period
// @Summary Cancel a subscription
// @Description immediate=true cancels on Stripe and deletes the row. Otherwise the subscription stays until the end of the period with status cancelling.
// @Tags subscriptions
// @Accept json
// @Produce json
// @Param id path string true "Subscription ID"
// @Param body body models.SubscriptionCancel false "Cancellation mode"
// @Security BearerAuth
// @Success 200 {object} map[string]interface{} "success: true"
// @Failure 400 {object} map[string]string "error: Invalid subscription ID"
// @Failure 401 {object} map[string]string "error: Unauthorized"
// @Failure 403 {object} map[string]string "error: You are not authorized to cancel this subscription"
// @Failure 404 {object} map[string]string "error: Subscription not found"
// @Failure 500 {object} map[string]string "error: Error when canceling the Stripe subscription"
// @Router /subscriptions/{id}/cancel [post]
func CancelSubscription(c *gin.Context) {
	userID, ok := utils.CurrentUserID(c)
	if !ok {
		utils.LogError(nil, "User not authenticated in CancelSubscription")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	subscriptionID, ok := utils.PathUUID(c, "id")
	if !ok {
		return
	}

	var input models.SubscriptionCancel
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input: " + err.Error()})
			return
		}
	}

	var sub models.Subscription
	if err := db.DB.First(&sub, "id = ?", subscriptionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Subscription not found"})
			return
		}
		utils.LogErrorWithUser(userID, err, "Error loading subscription in CancelSubscription")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error loading subscription"})
		return
	}
	if sub.UserID != userID {
		utils.LogErrorWithUser(userID, nil, "Not the owner of the subscription in CancelSubscription")
		c.JSON(http.StatusForbidden, gin.H{"error": "You are not authorized to cancel this subscription"})
		return
	}

	ctx := c.Request.Context()
	scope := cache.Scope{UserID: userID, CreatorID: sub.CreatorID}

	if input.Immediate {
		if _, err := payments.Client.CancelSubscription(ctx, sub.StripeSubscriptionID, payments.IdempotencyKey(sub.ID, "cancel")); err != nil {
			utils.LogErrorWithUser(userID, err, "Stripe error in CancelSubscription")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Error when canceling the Stripe subscription"})
			return
		}
		if err := db.DB.Delete(&sub).Error; err != nil {
			utils.LogErrorWithUser(userID, err, "Subscription cancelled on Stripe but row not deleted "+sub.StripeSubscriptionID)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Error deleting the subscription"})
			return
		}
		cache.Invalidate(ctx, cache.MutationSubscription, scope)
		utils.LogSuccessWithUser(userID, "Subscription cancelled immediately "+sub.ID)
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "Subscription canceled successfully"})
		return
	}

	stripeSub, err := payments.Client.CancelSubscriptionAtPeriodEnd(ctx, sub.StripeSubscriptionID, payments.IdempotencyKey(sub.ID, "cancel-at-period-end"))
	if err != nil {
		utils.LogErrorWithUser(userID, err, "Stripe error in CancelSubscription")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error when canceling the Stripe subscription"})
		return
	}

	updates := map[string]interface{}{
		"status":               models.SubscriptionCancelling,
		"cancel_at_period_end": true,
	}
	if _, end := payments.SubscriptionPeriod(stripeSub); end > 0 {
		sub.CurrentPeriodEnd = time.Unix(end, 0).UTC()
		updates["current_period_end"] = sub.CurrentPeriodEnd
	}
	if err := db.DB.Model(&sub).Updates(updates).Error; err != nil {
		utils.LogErrorWithUser(userID, err, "Subscription cancellation scheduled on Stripe but not saved "+sub.StripeSubscriptionID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error saving the subscription"})
		return
	}
	sub.Status = models.SubscriptionCancelling
	sub.CancelAtPeriodEnd = true

	cache.Invalidate(ctx, cache.MutationSubscription, scope)
	utils.LogSuccessWithUser(userID, "Subscription cancellation scheduled "+sub.ID)
	c.JSON(http.StatusOK, gin.H{"success": true, "subscription": sub})
}

// @Summary List my subscriptions
// @Tags subscriptions
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.Subscription
// @Failure 401 {object} map[string]string "error: Unauthorized"
// @Failure 500 {object} map[string]string "error: Error message"
// @Router /subscriptions [get]
func ListSubscriptions(c *gin.Context) {
	userID, ok := utils.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	subs, err := cache.Remember(c.Request.Context(), "subscriptions:"+userID,
		[]cache.Tag{cache.UserSubscriptionsTag(userID)},
		func() ([]models.Subscription, error) {
			var subs []models.Subscription
			err := db.DB.Where("user_id = ?", userID).Order("created_at DESC").Find(&subs).Error
			return subs, err
		})
	if err != nil {
		utils.LogErrorWithUser(userID, err, "Error loading subscriptions in ListSubscriptions")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error loading subscriptions"})
		return
	}

	c.JSON(http.StatusOK, subs)
}

// @Summary Get one of my subscriptions
// @Tags subscriptions
// @Produce json
// @Param id path string true "Subscription ID"
// @Security BearerAuth
// @Success 200 {object} models.Subscription
// @Failure 403 {object} map[string]string "error: Forbidden"
// @Failure 404 {object} map[string]string "error: Subscription not found"
// @Router /subscriptions/{id} [get]
func GetSubscription(c *gin.Context) {
	userID, ok := utils.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	subscriptionID, ok := utils.PathUUID(c, "id")
	if !ok {
		return
	}

	var sub models.Subscription
	if err := db.DB.First(&sub, "id = ?", subscriptionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Subscription not found"})
			return
		}
		utils.LogErrorWithUser(userID, err, "Error loading subscription in GetSubscription")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error loading subscription"})
		return
	}
	if sub.UserID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "You cannot read this subscription"})
		return
	}

	c.JSON(http.StatusOK, sub)
}
