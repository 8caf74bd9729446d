package commissions

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"fanrealms-backend/db"
	"fanrealms-backend/middleware"
	"fanrealms-backend/models"
	"fanrealms-backend/services/cache"
	"fanrealms-backend/utils"
	mailsmodels "fanrealms-backend/utils/mails-models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// loadRequest answers 404 or 500 itself and returns false when the request
// cannot be used.
func loadRequest(c *gin.Context, userID, id string) (*models.CommissionRequest, bool) {
	var req models.CommissionRequest
	if err := db.DB.First(&req, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Commission request not found"})
			return nil, false
		}
		utils.LogErrorWithUser(userID, err, "Error loading commission request "+id)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error loading commission request"})
		return nil, false
	}
	return &req, true
}

// transition writes next and an audit line, but only if the row still has the
// status that was read. A lost race gives utils.ErrStaleStatus.
func transition(ctx context.Context, tx *gorm.DB, req *models.CommissionRequest, next models.CommissionStatus, audit string, extra map[string]interface{}) error {
	now := time.Now()
	note := req.AppendNote(now, audit)

	updates := map[string]interface{}{
		"status":        next,
		"creator_notes": note,
	}
	for k, v := range extra {
		updates[k] = v
	}

	res := tx.WithContext(ctx).Model(&models.CommissionRequest{}).
		Where("id = ? AND status = ?", req.ID, req.Status).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update commission request %s: %w", req.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("commission request %s left %s: %w", req.ID, req.Status, utils.ErrStaleStatus)
	}

	middleware.CommissionTransitionsTotal.WithLabelValues(string(req.Status), string(next)).Inc()
	req.Status = next
	req.CreatorNotes = note
	req.UpdatedAt = now
	return nil
}

func invalidate(ctx context.Context, req *models.CommissionRequest) {
	cache.Invalidate(ctx, cache.MutationCommissionRequest, cache.Scope{UserID: req.CustomerID, CreatorID: req.CreatorID})
}

// respondTransitionError maps the error of transition to a response.
func respondTransitionError(c *gin.Context, userID string, req *models.CommissionRequest, err error) {
	if errors.Is(err, utils.ErrStaleStatus) {
		c.JSON(http.StatusConflict, gin.H{"error": "The commission request was changed by someone else, reload it"})
		return
	}
	utils.LogErrorWithUser(userID, err, "Error updating commission request "+req.ID)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Error updating commission request"})
}

// notifyCustomer mails the customer about a status change made by the creator.
func notifyCustomer(req *models.CommissionRequest) {
	if !utils.MailEnabled() {
		return
	}

	var customer models.User
	if err := db.DB.Select("id", "email", "user_name").First(&customer, "id = ?", req.CustomerID).Error; err != nil {
		utils.LogError(err, "Could not load the customer of commission request "+req.ID)
		return
	}
	if err := mailsmodels.CommissionStatusUpdate(mailsmodels.CommissionStatusUpdateData{
		Email:           customer.Email,
		UserName:        customer.UserName,
		CommissionTitle: req.Title,
		Status:          req.Status,
	}); err != nil {
		utils.LogError(err, "Could not send the status mail of commission request "+req.ID)
	}
}
