package creators

import (
	"encoding/json"
	"errors"
	"net/http"

	"fanrealms-backend/config"
	"fanrealms-backend/db"
	"fanrealms-backend/models"
	"fanrealms-backend/services/cache"
	"fanrealms-backend/services/payments"
	"fanrealms-backend/utils"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// @Summary Become a content creator
// @Description Switch the current account to a creator account and return a fresh token carrying the new role
// @Tags creators
// @Accept json
// @Produce json
// @Param body body models.BecomeCreator true "Creator profile"
// @Security BearerAuth
// @Success 200 {object} map[string]interface{} "token, user"
// @Failure 400 {object} map[string]string "error: Invalid input"
// @Failure 401 {object} map[string]string "error: Unauthorized"
// @Failure 404 {object} map[string]string "error: User not found"
// @Failure 500 {object} map[string]string "error: Error message"
// @Router /creators/me [post]
func BecomeCreator(c *gin.Context) {
	userID, ok := utils.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	var input models.BecomeCreator
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input: " + err.Error()})
		return
	}

	var user models.User
	if err := db.DB.First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		utils.LogErrorWithUser(userID, err, "Error loading user in BecomeCreator")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error loading user"})
		return
	}

	role := user.Role
	if role != models.AdminRole {
		role = models.ContentCreator
	}
	if err := db.DB.Model(&user).Updates(map[string]interface{}{
		"role":         role,
		"display_name": input.DisplayName,
		"bio":          input.Bio,
	}).Error; err != nil {
		utils.LogErrorWithUser(userID, err, "Error updating user in BecomeCreator")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error updating user"})
		return
	}
	user.Role = role
	user.DisplayName = input.DisplayName
	user.Bio = input.Bio

	token, err := utils.GenerateJWT(user)
	if err != nil {
		utils.LogErrorWithUser(userID, err, "Error generating JWT in BecomeCreator")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "JWT not generated"})
		return
	}

	utils.LogSuccessWithUser(userID, "User became a creator")
	c.JSON(http.StatusOK, gin.H{"success": true, "token": token, "user": user})
}

// @Summary Create a membership tier
// @Description Create a monthly tier; a Stripe product and recurring price are created with it
// @Tags tiers
// @Accept json
// @Produce json
// @Param body body models.TierCreate true "Tier"
// @Security BearerAuth
// @Success 201 {object} models.MembershipTier
// @Failure 400 {object} map[string]string "error: Invalid input"
// @Failure 401 {object} map[string]string "error: Unauthorized"
// @Failure 500 {object} map[string]string "error: Stripe error or server error"
// @Router /tiers [post]
func CreateTier(c *gin.Context) {
	userID, ok := utils.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	var input models.TierCreate
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input: " + err.Error()})
		return
	}
	if !input.Price.IsPositive() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Price must be greater than zero"})
		return
	}

	features, err := json.Marshal(nonNil(input.Features))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid features"})
		return
	}

	productID, priceID, err := payments.Client.CreateTierPrice(c.Request.Context(), payments.TierPrice{
		Name:        input.Title,
		Description: input.Description,
		AmountCents: utils.ToCents(input.Price),
		Currency:    config.Get().Stripe.Currency,
		Metadata:    map[string]string{payments.MetaCreatorID: userID},
	})
	if err != nil {
		utils.LogErrorWithUser(userID, err, "Stripe error in CreateTier")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error creating the Stripe price"})
		return
	}

	tier := models.MembershipTier{
		CreatorID:       userID,
		Title:           input.Title,
		Description:     input.Description,
		Price:           input.Price.Round(2),
		Features:        datatypes.JSON(features),
		StripeProductID: productID,
		StripePriceID:   priceID,
		Active:          true,
	}
	if err := db.DB.Create(&tier).Error; err != nil {
		utils.LogErrorWithUser(userID, err, "Error saving tier in CreateTier, archiving Stripe product "+productID)
		if archiveErr := payments.Client.SetProductActive(c.Request.Context(), productID, false); archiveErr != nil {
			utils.LogErrorWithUser(userID, archiveErr, "Could not archive orphan Stripe product "+productID)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error creating tier"})
		return
	}

	cache.Invalidate(c.Request.Context(), cache.MutationTier, cache.Scope{CreatorID: userID})
	utils.LogSuccessWithUser(userID, "Tier created "+tier.ID)
	c.JSON(http.StatusCreated, tier)
}

// @Summary Update a membership tier
// @Description Update title, description, features or the active flag; price changes need a new tier
// @Tags tiers
// @Accept json
// @Produce json
// @Param id path string true "Tier ID"
// @Param body body models.TierUpdate true "Fields to update"
// @Security BearerAuth
// @Success 200 {object} models.MembershipTier
// @Failure 400 {object} map[string]string "error: Invalid input"
// @Failure 403 {object} map[string]string "error: Not your tier"
// @Failure 404 {object} map[string]string "error: Tier not found"
// @Failure 500 {object} map[string]string "error: Error message"
// @Router /tiers/{id} [put]
func UpdateTier(c *gin.Context) {
	userID, ok := utils.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	tierID, ok := utils.PathUUID(c, "id")
	if !ok {
		return
	}

	var input models.TierUpdate
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input: " + err.Error()})
		return
	}

	var tier models.MembershipTier
	if err := db.DB.First(&tier, "id = ?", tierID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Tier not found"})
			return
		}
		utils.LogErrorWithUser(userID, err, "Error loading tier in UpdateTier")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error loading tier"})
		return
	}
	if tier.CreatorID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "You can only update your own tiers"})
		return
	}

	updates := map[string]interface{}{}
	if input.Title != nil {
		updates["title"] = *input.Title
	}
	if input.Description != nil {
		updates["description"] = *input.Description
	}
	if input.Features != nil {
		features, err := json.Marshal(nonNil(*input.Features))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid features"})
			return
		}
		updates["features"] = datatypes.JSON(features)
	}
	if input.Active != nil && *input.Active != tier.Active {
		if tier.StripeProductID != "" {
			if err := payments.Client.SetProductActive(c.Request.Context(), tier.StripeProductID, *input.Active); err != nil {
				utils.LogErrorWithUser(userID, err, "Stripe error in UpdateTier")
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Error updating the Stripe product"})
				return
			}
		}
		updates["active"] = *input.Active
	}
	if len(updates) == 0 {
		c.JSON(http.StatusOK, tier)
		return
	}

	if err := db.DB.Model(&tier).Updates(updates).Error; err != nil {
		utils.LogErrorWithUser(userID, err, "Error updating tier in UpdateTier")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error updating tier"})
		return
	}

	if input.Title != nil {
		tier.Title = *input.Title
	}
	if input.Description != nil {
		tier.Description = *input.Description
	}
	if features, ok := updates["features"].(datatypes.JSON); ok {
		tier.Features = features
	}
	if active, ok := updates["active"].(bool); ok {
		tier.Active = active
	}

	cache.Invalidate(c.Request.Context(), cache.MutationTier, cache.Scope{CreatorID: userID})
	utils.LogSuccessWithUser(userID, "Tier updated "+tier.ID)
	c.JSON(http.StatusOK, tier)
}

// @Summary List the active tiers of a creator
// @Tags tiers
// @Produce json
// @Param id path string true "Creator ID"
// @Success 200 {array} models.MembershipTier
// @Failure 400 {object} map[string]string "error: Invalid id"
// @Failure 500 {object} map[string]string "error: Error message"
// @Router /creators/{id}/tiers [get]
func GetCreatorTiers(c *gin.Context) {
	creatorID, ok := utils.PathUUID(c, "id")
	if !ok {
		return
	}

	tiers, err := cache.Remember(c.Request.Context(), "tiers:active:"+creatorID,
		[]cache.Tag{cache.CreatorTiersTag(creatorID)},
		func() ([]models.MembershipTier, error) {
			var tiers []models.MembershipTier
			err := db.DB.Where("creator_id = ? AND active = ?", creatorID, true).
				Order("price ASC").
				Find(&tiers).Error
			return tiers, err
		})
	if err != nil {
		utils.LogError(err, "Error loading tiers in GetCreatorTiers")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error loading tiers"})
		return
	}

	c.JSON(http.StatusOK, tiers)
}

// @Summary List the live subscribers of a creator
// @Description Only the creator can read their own subscriber list
// @Tags creators
// @Produce json
// @Param id path string true "Creator ID"
// @Security BearerAuth
// @Success 200 {array} models.Subscription
// @Failure 403 {object} map[string]string "error: Forbidden"
// @Failure 500 {object} map[string]string "error: Error message"
// @Router /creators/{id}/subscribers [get]
func GetCreatorSubscribers(c *gin.Context) {
	userID, ok := utils.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	creatorID, ok := utils.PathUUID(c, "id")
	if !ok {
		return
	}
	if creatorID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "You can only list your own subscribers"})
		return
	}

	subs, err := cache.Remember(c.Request.Context(), "subscribers:"+creatorID,
		[]cache.Tag{cache.CreatorSubscribersTag(creatorID)},
		func() ([]models.Subscription, error) {
			var subs []models.Subscription
			err := db.DB.Where("creator_id = ? AND status IN ?", creatorID, models.LiveSubscriptionStatuses).
				Order("created_at DESC").
				Find(&subs).Error
			return subs, err
		})
	if err != nil {
		utils.LogErrorWithUser(userID, err, "Error loading subscribers in GetCreatorSubscribers")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error loading subscribers"})
		return
	}

	c.JSON(http.StatusOK, subs)
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
