package commissions

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"fanrealms-backend/config"
	"fanrealms-backend/db"
	"fanrealms-backend/models"
	"fanrealms-backend/services/cache"
	"fanrealms-backend/services/payments"
	"fanrealms-backend/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errOpenRequest = errors.New("an open commission request already exists")

// findOpen returns the most recent open request of the triple, or nil.
func findOpen(tx *gorm.DB, customerID, commissionTypeID, creatorID string) (*models.CommissionRequest, error) {
	var req models.CommissionRequest
	err := tx.Where("customer_id = ? AND commission_type_id = ? AND creator_id = ? AND status IN ?",
		customerID, commissionTypeID, creatorID, models.OpenCommissionStatuses).
		Order("created_at DESC").
		First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// CheckExisting tells the customer what to do with an open request for the same commission
// @Summary Check for an open commission request
// @Description Looks up the most recent open request of the caller for this commission type and creator, and maps its status to an action: new, resume, payment or warning
// @Tags commissions
// @Produce json
// @Param commissionTypeId query string true "Commission type ID"
// @Param creatorId query string true "Creator ID"
// @Security BearerAuth
// @Success 200 {object} models.ExistingCheck
// @Failure 400 {object} map[string]string "error: Invalid query"
// @Failure 401 {object} map[string]string "error: Unauthorized"
// @Failure 500 {object} map[string]string "error: Error message"
// @Router /commissions/existing [get]
func CheckExisting(c *gin.Context) {
	userID, ok := utils.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	commissionTypeID := c.Query("commissionTypeId")
	creatorID := c.Query("creatorId")
	if _, err := uuid.Parse(commissionTypeID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid commissionTypeId"})
		return
	}
	if _, err := uuid.Parse(creatorID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid creatorId"})
		return
	}

	existing, err := findOpen(db.DB, userID, commissionTypeID, creatorID)
	if err != nil {
		utils.LogErrorWithUser(userID, err, "Error looking up open commission requests")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error checking existing requests"})
		return
	}

	c.JSON(http.StatusOK, models.CheckExisting(existing))
}

// @Summary Request a commission
// @Description Creates a pending request; the agreed price is the base price plus the selected add-ons. An open request for the same commission answers 409 unless replaceExisting is set.
// @Tags commissions
// @Accept json
// @Produce json
// @Param body body models.CommissionRequestCreate true "Request"
// @Security BearerAuth
// @Success 201 {object} models.CommissionRequest
// @Failure 400 {object} map[string]string "error: Invalid input"
// @Failure 401 {object} map[string]string "error: Unauthorized"
// @Failure 404 {object} map[string]string "error: Commission type not found"
// @Failure 409 {object} map[string]interface{} "error and the existing request check"
// @Failure 500 {object} map[string]string "error: Error message"
// @Router /commissions [post]
func CreateRequest(c *gin.Context) {
	userID, ok := utils.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	var input models.CommissionRequestCreate
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input: " + err.Error()})
		return
	}

	var commissionType models.CommissionType
	if err := db.DB.First(&commissionType, "id = ? AND active = ?", input.CommissionTypeID, true).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Commission type not found"})
			return
		}
		utils.LogErrorWithUser(userID, err, "Error loading commission type in CreateRequest")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error loading commission type"})
		return
	}
	if commissionType.CreatorID == userID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "You cannot commission yourself"})
		return
	}

	price, err := commissionType.PriceFor(input.SelectedAddOns)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if input.BudgetMin.Valid && input.BudgetMax.Valid && input.BudgetMin.Decimal.GreaterThan(input.BudgetMax.Decimal) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "budgetMin cannot be greater than budgetMax"})
		return
	}

	references, _ := json.Marshal(nonNil(input.ReferenceImages))
	addOns, _ := json.Marshal(nonNil(input.SelectedAddOns))

	req := models.CommissionRequest{
		CustomerID:       userID,
		CreatorID:        commissionType.CreatorID,
		CommissionTypeID: commissionType.ID,
		Title:            input.Title,
		Description:      input.Description,
		ReferenceImages:  datatypes.JSON(references),
		BudgetMin:        input.BudgetMin,
		BudgetMax:        input.BudgetMax,
		AgreedPrice:      price.Round(2),
		Status:           models.CommissionPending,
		SelectedAddOns:   datatypes.JSON(addOns),
	}

	var replaced *models.CommissionRequest
	err = db.DB.Transaction(func(tx *gorm.DB) error {
		existing, err := findOpen(tx, userID, commissionType.ID, commissionType.CreatorID)
		if err != nil {
			return err
		}
		if existing != nil {
			check := models.CheckExisting(existing)
			if !input.ReplaceExisting || check.Action == models.ExistingActionWarning {
				return errOpenRequest
			}
			if err := transition(c.Request.Context(), tx, existing, models.CommissionCancelled, "cancelled by customer, replaced by a new request", nil); err != nil {
				return err
			}
			replaced = existing
		}

		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&req)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errOpenRequest
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errOpenRequest) || errors.Is(err, utils.ErrStaleStatus) {
			existing, lookupErr := findOpen(db.DB, userID, commissionType.ID, commissionType.CreatorID)
			if lookupErr != nil {
				utils.LogErrorWithUser(userID, lookupErr, "Error looking up open commission requests")
			}
			check := models.CheckExisting(existing)
			c.JSON(http.StatusConflict, gin.H{
				"error":           "You already have an open request for this commission",
				"action":          check.Action,
				"message":         check.Message,
				"needsPayment":    check.NeedsPayment,
				"canResume":       check.CanResume,
				"existingRequest": check.ExistingRequest,
			})
			return
		}
		utils.LogErrorWithUser(userID, err, "Error creating commission request")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error creating commission request"})
		return
	}

	if replaced != nil {
		utils.LogInfo(fmt.Sprintf("Commission request %s replaced by %s", replaced.ID, req.ID))
	}
	invalidate(c.Request.Context(), &req)
	utils.LogSuccessWithUser(userID, "Commission request created "+req.ID)
	c.JSON(http.StatusCreated, req)
}

// @Summary Pay for a commission request
// @Description Opens a Stripe Checkout in payment mode; the card is only authorized until the creator accepts. Calling it again while the payment is pending replaces the previous checkout.
// @Tags commissions
// @Produce json
// @Param id path string true "Commission request ID"
// @Security BearerAuth
// @Success 200 {object} map[string]string "checkoutUrl, sessionId"
// @Failure 400 {object} map[string]string "error: Invalid status"
// @Failure 401 {object} map[string]string "error: Unauthorized"
// @Failure 403 {object} map[string]string "error: Forbidden"
// @Failure 404 {object} map[string]string "error: Commission request not found"
// @Failure 409 {object} map[string]string "error: Status changed or payment in progress"
// @Failure 500 {object} map[string]string "error: Stripe error or server error"
// @Router /commissions/{id}/payment [post]
func CreatePayment(c *gin.Context) {
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
		c.JSON(http.StatusForbidden, gin.H{"error": "Only the customer can pay for this request"})
		return
	}
	reissue := req.Status == models.CommissionPaymentPending
	if err := models.ValidateTransition(req.Status, models.CommissionPaymentPending); err != nil && !reissue {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("A request in status %s cannot be paid", req.Status)})
		return
	}

	if reissue && req.PaymentIntentID() != "" {
		c.JSON(http.StatusConflict, gin.H{"error": "A payment is already being processed for this request"})
		return
	}

	ctx := c.Request.Context()

	var payer models.User
	if err := db.DB.First(&payer, "id = ?", userID).Error; err != nil {
		utils.LogErrorWithUser(userID, err, "User not found in CreatePayment")
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	customerID, err := payments.Client.EnsureCustomer(ctx, payer)
	if err != nil {
		utils.LogErrorWithUser(userID, err, "Error creating the Stripe customer in CreatePayment")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error creating the Stripe customer"})
		return
	}
	if customerID != payer.StripeCustomerId {
		if err := db.DB.Model(&payer).Update("stripe_customer_id", customerID).Error; err != nil {
			utils.LogErrorWithUser(userID, err, "Could not store the Stripe customer id")
		}
	}

	// stable for one row version so a retried call reuses the same checkout
	attempt := uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s:%d", req.ID, req.UpdatedAt.UnixNano()))).String()
	cfg := config.Get()
	session, err := payments.Client.CreateCommissionCheckout(ctx, payments.CommissionCheckout{
		CustomerID:  customerID,
		ProductName: req.Title,
		AmountCents: utils.ToCents(req.AgreedPrice),
		Currency:    cfg.Stripe.Currency,
		Metadata: map[string]string{
			payments.MetaCommissionRequestID: req.ID,
			payments.MetaUserID:              req.CustomerID,
			payments.MetaCreatorID:           req.CreatorID,
			payments.MetaPaymentAttemptID:    attempt,
		},
		SuccessURL:     fmt.Sprintf("%s/commissions/%s?payment=success", cfg.App.FrontendURL, req.ID),
		CancelURL:      fmt.Sprintf("%s/commissions/%s?payment=cancelled", cfg.App.FrontendURL, req.ID),
		IdempotencyKey: payments.IdempotencyKey(req.ID, "checkout:"+attempt),
	})
	if err != nil {
		utils.LogErrorWithUser(userID, err, "Stripe error in CreatePayment")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error creating the checkout session"})
		return
	}

	if previous := req.CheckoutSession(); reissue && previous != "" && previous != session.ID {
		// a checkout finished anyway is released by the webhook
		if err := payments.Client.ExpireCheckoutSession(ctx, previous, payments.IdempotencyKey(previous, "expire")); err != nil {
			utils.LogErrorWithUser(userID, err, "Could not expire the previous checkout of "+req.ID)
		}
	}

	if err := transition(ctx, db.DB, req, models.CommissionPaymentPending, "checkout session "+session.ID+" opened by customer", map[string]interface{}{
		"stripe_payment_intent_id":   nil,
		"stripe_checkout_session_id": session.ID,
		"payment_attempt_id":         attempt,
	}); err != nil {
		respondTransitionError(c, userID, req, err)
		return
	}

	req.StripePaymentIntentID = nil
	req.CheckoutSessionID = &session.ID
	req.PaymentAttemptID = &attempt
	invalidate(ctx, req)
	utils.LogSuccessWithUser(userID, "Commission checkout created for "+req.ID)
	c.JSON(http.StatusOK, gin.H{"checkoutUrl": session.URL, "sessionId": session.ID})
}

// @Summary List my commission requests
// @Tags commissions
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.CommissionRequest
// @Failure 401 {object} map[string]string "error: Unauthorized"
// @Failure 500 {object} map[string]string "error: Error message"
// @Router /commissions [get]
func ListMine(c *gin.Context) {
	userID, ok := utils.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	requests, err := cache.Remember(c.Request.Context(), "commissions:customer:"+userID,
		[]cache.Tag{cache.CustomerCommissionsTag(userID)},
		func() ([]models.CommissionRequest, error) {
			var requests []models.CommissionRequest
			err := db.DB.Where("customer_id = ?", userID).Order("created_at DESC").Find(&requests).Error
			return requests, err
		})
	if err != nil {
		utils.LogErrorWithUser(userID, err, "Error loading commission requests in ListMine")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error loading commission requests"})
		return
	}

	c.JSON(http.StatusOK, requests)
}

// @Summary List the commission requests sent to me
// @Tags commissions
// @Produce json
// @Param status query string false "Filter by status"
// @Security BearerAuth
// @Success 200 {array} models.CommissionRequest
// @Failure 400 {object} map[string]string "error: Unknown status"
// @Failure 401 {object} map[string]string "error: Unauthorized"
// @Failure 500 {object} map[string]string "error: Error message"
// @Router /commissions/incoming [get]
func ListIncoming(c *gin.Context) {
	userID, ok := utils.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	var status models.CommissionStatus
	if raw := c.Query("status"); raw != "" {
		parsed, err := models.ParseCommissionStatus(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		status = parsed
	}

	requests, err := cache.Remember(c.Request.Context(), "commissions:creator:"+userID+":"+string(status),
		[]cache.Tag{cache.CreatorCommissionsTag(userID)},
		func() ([]models.CommissionRequest, error) {
			var requests []models.CommissionRequest
			query := db.DB.Where("creator_id = ?", userID)
			if status != "" {
				query = query.Where("status = ?", status)
			}
			err := query.Order("created_at DESC").Find(&requests).Error
			return requests, err
		})
	if err != nil {
		utils.LogErrorWithUser(userID, err, "Error loading commission requests in ListIncoming")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error loading commission requests"})
		return
	}

	c.JSON(http.StatusOK, requests)
}

// @Summary Get a commission request
// @Description Readable by the customer and the creator, deliverables included
// @Tags commissions
// @Produce json
// @Param id path string true "Commission request ID"
// @Security BearerAuth
// @Success 200 {object} map[string]interface{} "commission, deliverables"
// @Failure 403 {object} map[string]string "error: Forbidden"
// @Failure 404 {object} map[string]string "error: Commission request not found"
// @Router /commissions/{id} [get]
func GetRequest(c *gin.Context) {
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
		c.JSON(http.StatusForbidden, gin.H{"error": "You cannot read this commission request"})
		return
	}

	var deliverables []models.CommissionDeliverable
	if err := db.DB.Where("commission_request_id = ?", req.ID).Order("created_at ASC").Find(&deliverables).Error; err != nil {
		utils.LogErrorWithUser(userID, err, "Error loading deliverables of "+req.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error loading deliverables"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"commission": req, "deliverables": deliverables})
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
