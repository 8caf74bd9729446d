package users

import (
	"errors"
	"net/http"

	"fanrealms-backend/db"
	"fanrealms-backend/models"
	"fanrealms-backend/utils"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// @Summary Get my profile
// @Description Profile of the authenticated user with the number of live subscriptions and open commission requests
// @Tags users
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]interface{} "user, liveSubscriptions, openCommissions"
// @Failure 401 {object} map[string]string "error: Unauthorized"
// @Failure 404 {object} map[string]string "error: User not found"
// @Failure 500 {object} map[string]string "error: Error message"
// @Router /users/me [get]
func GetMe(c *gin.Context) {
	userID, ok := utils.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	var user models.User
	if err := db.DB.First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		utils.LogErrorWithUser(userID, err, "Error loading user in GetMe")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error loading user"})
		return
	}

	var liveSubscriptions int64
	if err := db.DB.Model(&models.Subscription{}).
		Where("user_id = ? AND status IN ?", userID, models.LiveSubscriptionStatuses).
		Count(&liveSubscriptions).Error; err != nil {
		utils.LogErrorWithUser(userID, err, "Error counting subscriptions in GetMe")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error loading user"})
		return
	}

	var openCommissions int64
	if err := db.DB.Model(&models.CommissionRequest{}).
		Where("customer_id = ? AND status IN ?", userID, models.OpenCommissionStatuses).
		Count(&openCommissions).Error; err != nil {
		utils.LogErrorWithUser(userID, err, "Error counting commissions in GetMe")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error loading user"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user":              user,
		"liveSubscriptions": liveSubscriptions,
		"openCommissions":   openCommissions,
	})
}

// @Summary Update my profile
// @Tags users
// @Accept multipart/form-data
// @Produce json
// @Param username formData string false "User name"
// @Param displayName formData string false "Display name"
// @Param bio formData string false "Bio"
// @Param profilePicture formData file false "Profile picture"
// @Security BearerAuth
// @Success 200 {object} models.User
// @Failure 400 {object} map[string]string "error: Invalid input"
// @Failure 401 {object} map[string]string "error: Unauthorized"
// @Failure 500 {object} map[string]string "error: Error message"
// @Router /users/me [put]
func UpdateMe(c *gin.Context) {
	userID, ok := utils.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	var input models.UserUpdate
	if err := c.ShouldBind(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input: " + err.Error()})
		return
	}

	updates := map[string]interface{}{}
	if input.UserName != "" {
		updates["user_name"] = input.UserName
	}
	if input.DisplayName != "" {
		updates["display_name"] = input.DisplayName
	}
	if input.Bio != "" {
		updates["bio"] = input.Bio
	}
	if file, err := c.FormFile("profilePicture"); err == nil && file != nil {
		url, err := utils.UploadFile(c.Request.Context(), file, "profile_pictures")
		if err != nil {
			utils.LogErrorWithUser(userID, err, "Error uploading profile picture in UpdateMe")
			c.JSON(http.StatusBadRequest, gin.H{"error": "Error uploading picture: " + err.Error()})
			return
		}
		updates["profile_picture"] = url
	}
	if len(updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Nothing to update"})
		return
	}

	if err := db.DB.Model(&models.User{ID: userID}).Updates(updates).Error; err != nil {
		utils.LogErrorWithUser(userID, err, "Error updating user in UpdateMe")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error updating user"})
		return
	}
	var user models.User
	if err := db.DB.First(&user, "id = ?", userID).Error; err != nil {
		utils.LogErrorWithUser(userID, err, "Error reloading user in UpdateMe")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error loading user"})
		return
	}

	utils.LogSuccessWithUser(userID, "Profile updated")
	c.JSON(http.StatusOK, user)
}
