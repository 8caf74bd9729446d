package commissions

import (
	"errors"
	"fmt"
	"net/http"

	"fanrealms-backend/db"
	"fanrealms-backend/models"
	"fanrealms-backend/services/payments"
	"fanrealms-backend/services/reconcile"
	"fanrealms-backend/utils"

	"github.com/gin-gonic/gin"
	stripe "github.com/stripe/stripe-go/v82"
)

// HandleAction lets the creator accept or reject a request
// @Summary Accept or reject a commission request
// @Description accept captures the authorized payment, reject cancels it and releases the card authorization
// @Tags commissions
// @Accept json
// @Produce json
// @Param id path string true "Commission request ID"
// @Param body body models.CommissionActionInput true "accept or reject"
// @Security BearerAuth
// @Success 200 {object} map[string]interface{} "success, status, commission"
// @Failure 400 {object} map[string]string "error: Invalid action or status"
// @Failure 401 {object} map[string]string "error: Unauthorized"
// @Failure 403 {object} map[string]string "error: Only the creator can act on this request"
// @Failure 404 {object} map[string]string "error: Commission request not found"
// @Failure 409 {object} map[string]string "error: Status changed"
// @Failure 500 {object} map[string]string "error: No payment intent or Stripe error"
// @Router /commissions/{id}/action [post]
func HandleAction(c *gin.Context) {
	userID, ok := utils.CurrentUserID(c)
	if !ok {
		utils.LogError(nil, "User not authenticated in HandleAction")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	id, ok := utils.PathUUID(c, "id")
	if !ok {
		return
	}

	var input models.CommissionActionInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input: " + err.Error()})
		return
	}

	req, ok := loadRequest(c, userID, id)
	if !ok {
		return
	}
	if req.CreatorID != userID {
		utils.LogErrorWithUser(userID, nil, "Not the creator of commission request "+req.ID)
		c.JSON(http.StatusForbidden, gin.H{"error": "Only the creator can act on this request"})
		return
	}

	paymentIntentID := req.PaymentIntentID()
	if paymentIntentID == "" {
		utils.LogErrorWithUser(userID, nil, "Commission request has no payment intent "+req.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "No payment found for this commission request"})
		return
	}

	next := models.CommissionAccepted
	if input.Action == "reject" {
		next = models.CommissionRejected
	}
	if err := models.ValidateTransition(req.Status, next); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Cannot %s a request in status %s", input.Action, req.Status)})
		return
	}

	ctx := c.Request.Context()
	key := payments.IdempotencyKey(req.ID, input.Action)

	var (
		pi  *stripe.PaymentIntent
		err error
	)
	if next == models.CommissionAccepted {
		pi, err = payments.Client.CapturePaymentIntent(ctx, paymentIntentID, key)
	} else {
		pi, err = payments.Client.CancelPaymentIntent(ctx, paymentIntentID, key)
	}
	if err != nil {
		utils.LogErrorWithUser(userID, err, "Stripe error in HandleAction for "+req.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error processing the payment"})
		return
	}

	audit := fmt.Sprintf("%s by creator, payment intent %s is %s", next, pi.ID, pi.Status)
	if err := transition(ctx, db.DB, req, next, audit, nil); err != nil {
		utils.LogPaymentDrift(req.ID, paymentIntentID, err, "Payment "+input.Action+" done on Stripe but status not saved")
		respondTransitionError(c, userID, req, err)
		return
	}

	invalidate(ctx, req)
	notifyCustomer(req)
	utils.LogSuccessWithUser(userID, fmt.Sprintf("Commission request %s %s", req.ID, next))
	c.JSON(http.StatusOK, gin.H{"success": true, "status": req.Status, "commission": req})
}

// ManualRefund refunds a captured payment
// @Summary Refund a commission
// @Description Only accepted or in-progress commissions can be refunded
// @Tags commissions
// @Accept json
// @Produce json
// @Param id path string true "Commission request ID"
// @Param body body models.CommissionRefundInput false "Reason"
// @Security BearerAuth
// @Success 200 {object} map[string]interface{} "success, refundId"
// @Failure 400 {object} map[string]string "error: Invalid status"
// @Failure 401 {object} map[string]string "error: Unauthorized"
// @Failure 403 {object} map[string]string "error: Forbidden"
// @Failure 404 {object} map[string]string "error: Commission request not found"
// @Failure 409 {object} map[string]string "error: Status changed"
// @Failure 500 {object} map[string]string "error: No payment intent or Stripe error"
// @Router /commissions/{id}/refund [post]
func ManualRefund(c *gin.Context) {
	userID, ok := utils.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	id, ok := utils.PathUUID(c, "id")
	if !ok {
		return
	}

	var input models.CommissionRefundInput
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input: " + err.Error()})
			return
		}
	}

	req, ok := loadRequest(c, userID, id)
	if !ok {
		return
	}
	if req.CreatorID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only the creator can refund this request"})
		return
	}
	if err := models.ValidateTransition(req.Status, models.CommissionRefunded); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("A request in status %s cannot be refunded", req.Status)})
		return
	}

	paymentIntentID := req.PaymentIntentID()
	if paymentIntentID == "" {
		utils.LogErrorWithUser(userID, nil, "Commission request has no payment intent "+req.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "No payment found for this commission request"})
		return
	}

	ctx := c.Request.Context()
	refund, err := payments.Client.RefundPaymentIntent(ctx, paymentIntentID, input.Reason, payments.IdempotencyKey(req.ID, "refund"))
	if err != nil {
		utils.LogErrorWithUser(userID, err, "Stripe error in ManualRefund for "+req.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error refunding the payment"})
		return
	}

	audit := "refunded by creator, refund " + refund.ID
	if input.Reason != "" {
		audit += ": " + input.Reason
	}
	if err := transition(ctx, db.DB, req, models.CommissionRefunded, audit, nil); err != nil {
		utils.LogPaymentDrift(req.ID, paymentIntentID, err, "Refund "+refund.ID+" done on Stripe but status not saved")
		respondTransitionError(c, userID, req, err)
		return
	}

	invalidate(ctx, req)
	notifyCustomer(req)
	utils.LogSuccessWithUser(userID, "Commission request refunded "+req.ID)
	c.JSON(http.StatusOK, gin.H{"success": true, "refundId": refund.ID, "commission": req})
}

// @Summary Move an accepted commission forward
// @Description The creator marks the work in progress, or completed while it is in progress. Delivered work is completed by the customer.
// @Tags commissions
// @Accept json
// @Produce json
// @Param id path string true "Commission request ID"
// @Param body body models.CommissionStatusInput true "New status"
// @Security BearerAuth
// @Success 200 {object} models.CommissionRequest
// @Failure 400 {object} map[string]string "error: Invalid transition"
// @Failure 403 {object} map[string]string "error: Forbidden"
// @Failure 404 {object} map[string]string "error: Commission request not found"
// @Failure 409 {object} map[string]string "error: Status changed"
// @Router /commissions/{id}/status [post]
func UpdateStatus(c *gin.Context) {
	userID, ok := utils.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	id, ok := utils.PathUUID(c, "id")
	if !ok {
		return
	}

	var input models.CommissionStatusInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input: " + err.Error()})
		return
	}

	req, ok := loadRequest(c, userID, id)
	if !ok {
		return
	}
	if req.CreatorID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only the creator can update this request"})
		return
	}

	next := models.CommissionStatus(input.Status)
	if err := models.ValidateTransition(req.Status, next); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if next == models.CommissionCompleted && req.Status != models.CommissionInProgress {
		// delivered work is completed by the customer's approval
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("A request in status %s is completed by the customer", req.Status)})
		return
	}

	audit := fmt.Sprintf("%s by creator", next)
	if input.Note != "" {
		audit += ": " + input.Note
	}
	ctx := c.Request.Context()
	if err := transition(ctx, db.DB, req, next, audit, nil); err != nil {
		respondTransitionError(c, userID, req, err)
		return
	}

	invalidate(ctx, req)
	notifyCustomer(req)
	utils.LogSuccessWithUser(userID, fmt.Sprintf("Commission request %s %s", req.ID, next))
	c.JSON(http.StatusOK, req)
}

var reviewTargets = map[string]models.CommissionStatus{
	"review":  models.CommissionUnderReview,
	"approve": models.CommissionCompleted,
	"revise":  models.CommissionRevisionRequested,
}

// @Summary Review delivered work
// @Description The customer starts reviewing, approves or asks for a revision, up to the max revisions of the commission type
// @Tags commissions
// @Accept json
// @Produce json
// @Param id path string true "Commission request ID"
// @Param body body models.CommissionReviewInput true "Decision"
// @Security BearerAuth
// @Success 200 {object} models.CommissionRequest
// @Failure 400 {object} map[string]string "error: Invalid transition"
// @Failure 403 {object} map[string]string "error: Forbidden"
// @Failure 404 {object} map[string]string "error: Commission request not found"
// @Failure 409 {object} map[string]string "error: Status changed"
// @Router /commissions/{id}/review [post]
func Review(c *gin.Context) {
	userID, ok := utils.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	id, ok := utils.PathUUID(c, "id")
	if !ok {
		return
	}

	var input models.CommissionReviewInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input: " + err.Error()})
		return
	}

	req, ok := loadRequest(c, userID, id)
	if !ok {
		return
	}
	if req.CustomerID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only the customer can review this request"})
		return
	}

	next := reviewTargets[input.Decision]
	if err := models.ValidateTransition(req.Status, next); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var extra map[string]interface{}
	if next == models.CommissionRevisionRequested {
		var commissionType models.CommissionType
		if err := db.DB.Select("id", "max_revisions").First(&commissionType, "id = ?", req.CommissionTypeID).Error; err != nil {
			utils.LogErrorWithUser(userID, err, "Error loading the commission type of "+req.ID)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Error loading commission type"})
			return
		}
		if req.RevisionCount >= commissionType.MaxRevisions {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("All %d revisions of this commission were used", commissionType.MaxRevisions)})
			return
		}
		extra = map[string]interface{}{"revision_count": req.RevisionCount + 1}
	}

	audit := fmt.Sprintf("%s by customer", next)
	if input.Notes != "" {
		audit += ": " + input.Notes
	}
	ctx := c.Request.Context()
	if err := transition(ctx, db.DB, req, next, audit, extra); err != nil {
		respondTransitionError(c, userID, req, err)
		return
	}
	if extra != nil {
		req.RevisionCount++
	}

	invalidate(ctx, req)
	utils.LogSuccessWithUser(userID, fmt.Sprintf("Commission request %s %s", req.ID, next))
	c.JSON(http.StatusOK, req)
}

// @Summary Cancel a commission request
// @Description The customer cancels before the creator decides; an authorized payment is released first
// @Tags commissions
// @Produce json
// @Param id path string true "Commission request ID"
// @Security BearerAuth
// @Success 200 {object} models.CommissionRequest
// @Failure 400 {object} map[string]string "error: Invalid status"
// @Failure 403 {object} map[string]string "error: Forbidden"
// @Failure 404 {object} map[string]string "error: Commission request not found"
// @Failure 409 {object} map[string]string "error: Status changed"
// @Failure 500 {object} map[string]string "error: Stripe error"
// @Router /commissions/{id}/cancel [post]
func Cancel(c *gin.Context) {
	userID, ok := utils.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	id, ok := utils.PathUUID(c, "id")
	if !ok {
		return
	}

	req, ok := loadRequest(c, userID, id)
	if !ok {
		return
	}
	if req.CustomerID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only the customer can cancel this request"})
		return
	}
	if err := models.ValidateTransition(req.Status, models.CommissionCancelled); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("A request in status %s cannot be cancelled", req.Status)})
		return
	}

	ctx := c.Request.Context()
	audit := "cancelled by customer"
	if paymentIntentID := req.PaymentIntentID(); paymentIntentID != "" && req.Status == models.CommissionPaymentAuthorized {
		if _, err := payments.Client.CancelPaymentIntent(ctx, paymentIntentID, payments.IdempotencyKey(req.ID, "cancel")); err != nil {
			utils.LogErrorWithUser(userID, err, "Stripe error in Cancel for "+req.ID)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Error releasing the payment"})
			return
		}
		audit += ", payment authorization released"
	}
	if sessionID := req.CheckoutSession(); sessionID != "" && req.Status == models.CommissionPaymentPending {
		// a checkout completed after this point is released by the webhook
		if err := payments.Client.ExpireCheckoutSession(ctx, sessionID, payments.IdempotencyKey(sessionID, "expire")); err != nil {
			utils.LogErrorWithUser(userID, err, "Could not expire the checkout of "+req.ID)
		} else {
			audit += ", checkout closed"
		}
	}

	if err := transition(ctx, db.DB, req, models.CommissionCancelled, audit, nil); err != nil {
		if req.PaymentIntentID() != "" {
			utils.LogPaymentDrift(req.ID, req.PaymentIntentID(), err, "Cancellation not saved")
		}
		respondTransitionError(c, userID, req, err)
		return
	}

	invalidate(ctx, req)
	utils.LogSuccessWithUser(userID, "Commission request cancelled "+req.ID)
	c.JSON(http.StatusOK, req)
}

// @Summary Reconcile a commission request with Stripe
// @Description Re-reads the payment intent and repairs the local status. Running it twice is a no-op.
// @Tags commissions
// @Produce json
// @Param id path string true "Commission request ID"
// @Security BearerAuth
// @Success 200 {object} reconcile.Result
// @Failure 400 {object} map[string]string "error: No payment intent"
// @Failure 403 {object} map[string]string "error: Forbidden"
// @Failure 404 {object} map[string]string "error: Commission request not found"
// @Failure 409 {object} map[string]string "error: Status changed"
// @Failure 500 {object} map[string]string "error: Stripe error"
// @Router /commissions/{id}/reconcile [post]
func Reconcile(c *gin.Context) {
	userID, ok := utils.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	id, ok := utils.PathUUID(c, "id")
	if !ok {
		return
	}

	req, ok := loadRequest(c, userID, id)
	if !ok {
		return
	}
	if req.CustomerID != userID && req.CreatorID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "You cannot reconcile this commission request"})
		return
	}
	if req.PaymentIntentID() == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": reconcile.ErrNoPaymentIntent.Error()})
		return
	}

	ctx := c.Request.Context()
	pi, err := payments.Client.GetPaymentIntent(ctx, req.PaymentIntentID())
	if err != nil {
		utils.LogErrorWithUser(userID, err, "Stripe error in Reconcile for "+req.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error reading the payment"})
		return
	}

	result, err := reconcile.Apply(ctx, req, pi)
	if err != nil {
		if errors.Is(err, utils.ErrStaleStatus) {
			c.JSON(http.StatusConflict, gin.H{"error": "The commission request changed while reconciling, retry"})
			return
		}
		utils.LogErrorWithUser(userID, err, "Error reconciling "+req.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error reconciling the commission request"})
		return
	}

	if result.Changed {
		utils.LogSuccessWithUser(userID, fmt.Sprintf("Commission request %s reconciled from %s to %s", req.ID, result.From, result.To))
	}
	c.JSON(http.StatusOK, result)
}
