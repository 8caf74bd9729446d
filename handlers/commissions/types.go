package commissions

import (
	"encoding/json"
	"net/http"

	"fanrealms-backend/db"
	"fanrealms-backend/models"
	"fanrealms-backend/services/cache"
	"fanrealms-backend/utils"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
)

// @Summary List the commission types of a creator
// @Tags commissions
// @Produce json
// @Param id path string true "Creator ID"
// @Success 200 {array} models.CommissionType
// @Failure 400 {object} map[string]string "error: Invalid id"
// @Failure 500 {object} map[string]string "error: Error message"
// @Router /creators/{id}/commission-types [get]
func GetCommissionTypes(c *gin.Context) {
	creatorID, ok := utils.PathUUID(c, "id")
	if !ok {
		return
	}

	types, err := cache.Remember(c.Request.Context(), "commission-types:active:"+creatorID,
		[]cache.Tag{cache.CreatorCommissionTypesTag(creatorID)},
		func() ([]models.CommissionType, error) {
			var types []models.CommissionType
			err := db.DB.Where("creator_id = ? AND active = ?", creatorID, true).
				Order("base_price ASC").
				Find(&types).Error
			return types, err
		})
	if err != nil {
		utils.LogError(err, "Error loading commission types in GetCommissionTypes")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error loading commission types"})
		return
	}

	c.JSON(http.StatusOK, types)
}

// @Summary Create a commission type
// @Description Create a kind of commission with a base price and optional paid add-ons
// @Tags commissions
// @Accept json
// @Produce json
// @Param body body models.CommissionTypeCreate true "Commission type"
// @Security BearerAuth
// @Success 201 {object} models.CommissionType
// @Failure 400 {object} map[string]string "error: Invalid input"
// @Failure 401 {object} map[string]string "error: Unauthorized"
// @Failure 500 {object} map[string]string "error: Error message"
// @Router /commission-types [post]
func CreateCommissionType(c *gin.Context) {
	userID, ok := utils.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	var input models.CommissionTypeCreate
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input: " + err.Error()})
		return
	}
	if !input.BasePrice.IsPositive() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Base price must be greater than zero"})
		return
	}
	seen := make(map[string]bool, len(input.AddOns))
	for i, addOn := range input.AddOns {
		if addOn.Price.IsNegative() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Add-on prices cannot be negative"})
			return
		}
		if seen[addOn.Name] {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Duplicate add-on " + addOn.Name})
			return
		}
		seen[addOn.Name] = true
		input.AddOns[i].Price = addOn.Price.Round(2)
	}

	if input.AddOns == nil {
		input.AddOns = []models.CommissionAddOn{}
	}
	addOns, err := json.Marshal(input.AddOns)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid add-ons"})
		return
	}

	maxRevisions := models.DefaultMaxRevisions
	if input.MaxRevisions != nil {
		maxRevisions = *input.MaxRevisions
	}

	commissionType := models.CommissionType{
		CreatorID:    userID,
		Name:         input.Name,
		Description:  input.Description,
		BasePrice:    input.BasePrice.Round(2),
		MaxRevisions: maxRevisions,
		AddOns:       datatypes.JSON(addOns),
		Active:       true,
	}
	if err := db.DB.Create(&commissionType).Error; err != nil {
		utils.LogErrorWithUser(userID, err, "Error creating commission type")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error creating commission type"})
		return
	}

	cache.Invalidate(c.Request.Context(), cache.MutationCommissionType, cache.Scope{CreatorID: userID})
	utils.LogSuccessWithUser(userID, "Commission type created "+commissionType.ID)
	c.JSON(http.StatusCreated, commissionType)
}
