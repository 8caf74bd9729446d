package commissions

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"fanrealms-backend/db"
	"fanrealms-backend/models"
	"fanrealms-backend/utils"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const maxDeliverableFiles = 20

// readDeliverable accepts either a multipart form with "files" uploads or a
// JSON body; both may carry fileUrls and deliveryNotes.
func readDeliverable(c *gin.Context, req *models.CommissionRequest) ([]string, string, error) {
	if !strings.HasPrefix(c.ContentType(), "multipart/") {
		var input models.CommissionDeliverableInput
		if err := c.ShouldBindJSON(&input); err != nil {
			return nil, "", err
		}
		return input.FileURLs, input.DeliveryNotes, nil
	}

	form, err := c.MultipartForm()
	if err != nil {
		return nil, "", fmt.Errorf("invalid multipart form: %w", err)
	}

	urls := make([]string, 0, len(form.Value["fileUrls"])+len(form.File["files"]))
	for _, raw := range form.Value["fileUrls"] {
		u, err := url.ParseRequestURI(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return nil, "", fmt.Errorf("invalid file url %q", raw)
		}
		urls = append(urls, raw)
	}
	if len(urls)+len(form.File["files"]) > maxDeliverableFiles {
		return nil, "", fmt.Errorf("at most %d files per delivery", maxDeliverableFiles)
	}

	for _, file := range form.File["files"] {
		uploaded, err := utils.UploadFile(c.Request.Context(), file, "commissions/"+req.ID)
		if err != nil {
			return nil, "", fmt.Errorf("upload %s: %w", file.Filename, err)
		}
		urls = append(urls, uploaded)
	}

	var notes string
	if values := form.Value["deliveryNotes"]; len(values) > 0 {
		notes = values[0]
	}
	return urls, notes, nil
}

// @Summary Deliver a commission
// @Description The creator uploads files (multipart "files") and/or links (fileUrls); the request moves to delivered
// @Tags commissions
// @Accept multipart/form-data
// @Accept json
// @Produce json
// @Param id path string true "Commission request ID"
// @Param files formData file false "Delivered files"
// @Param fileUrls formData []string false "Links to delivered files"
// @Param deliveryNotes formData string false "Notes for the customer"
// @Security BearerAuth
// @Success 201 {object} models.CommissionDeliverable
// @Failure 400 {object} map[string]string "error: Invalid input or status"
// @Failure 403 {object} map[string]string "error: Forbidden"
// @Failure 404 {object} map[string]string "error: Commission request not found"
// @Failure 409 {object} map[string]string "error: Status changed"
// @Failure 500 {object} map[string]string "error: Error message"
// @Router /commissions/{id}/deliverables [post]
func SubmitDeliverable(c *gin.Context) {
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
	if req.CreatorID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only the creator can deliver this request"})
		return
	}
	if err := models.ValidateTransition(req.Status, models.CommissionDelivered); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("A request in status %s cannot be delivered", req.Status)})
		return
	}

	urls, notes, err := readDeliverable(c, req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(urls) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "A delivery needs at least one file"})
		return
	}

	encoded, err := json.Marshal(urls)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid file urls"})
		return
	}
	deliverable := models.CommissionDeliverable{
		CommissionRequestID: req.ID,
		FileURLs:            datatypes.JSON(encoded),
		DeliveryNotes:       notes,
	}

	ctx := c.Request.Context()
	err = db.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&deliverable).Error; err != nil {
			return err
		}
		return transition(ctx, tx, req, models.CommissionDelivered, fmt.Sprintf("delivered %d file(s)", len(urls)), nil)
	})
	if err != nil {
		respondTransitionError(c, userID, req, err)
		return
	}

	invalidate(ctx, req)
	notifyCustomer(req)
	utils.LogSuccessWithUser(userID, "Commission request delivered "+req.ID)
	c.JSON(http.StatusCreated, deliverable)
}
