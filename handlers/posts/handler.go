package posts

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"fanrealms-backend/db"
	"fanrealms-backend/models"
	"fanrealms-backend/services/cache"
	"fanrealms-backend/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// viewerAccess is what a viewer pays a creator, enough to decide which of
// the creator's posts they can read.
type viewerAccess struct {
	viewerID string
	sub      *models.Subscription
	prices   map[string]int64
}

func (a viewerAccess) canRead(p models.Post) bool {
	if p.IsFree || (a.viewerID != "" && p.CreatorID == a.viewerID) {
		return true
	}
	if a.sub == nil {
		return false
	}
	if p.RequiredTierID == nil {
		return true
	}
	// a tier that no longer exists only asks for a live subscription
	return a.sub.Amount >= a.prices[*p.RequiredTierID]
}

// loadAccess queries only what the gated posts in list need.
func loadAccess(ctx context.Context, viewerID, creatorID string, list []models.Post) (viewerAccess, error) {
	access := viewerAccess{viewerID: viewerID, prices: map[string]int64{}}
	if viewerID == "" || viewerID == creatorID {
		return access, nil
	}

	var tierIDs []string
	gated := false
	for _, p := range list {
		if p.IsFree {
			continue
		}
		gated = true
		if p.RequiredTierID != nil {
			tierIDs = append(tierIDs, *p.RequiredTierID)
		}
	}
	if !gated {
		return access, nil
	}

	var sub models.Subscription
	err := db.DB.WithContext(ctx).
		Where("user_id = ? AND creator_id = ? AND status IN ?", viewerID, creatorID, models.LiveSubscriptionStatuses).
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return access, nil
	}
	if err != nil {
		return access, err
	}
	access.sub = &sub

	if len(tierIDs) == 0 {
		return access, nil
	}
	var tiers []models.MembershipTier
	if err := db.DB.WithContext(ctx).Where("id IN ?", tierIDs).Find(&tiers).Error; err != nil {
		return access, err
	}
	for _, t := range tiers {
		access.prices[t.ID] = utils.ToCents(t.Price)
	}
	return access, nil
}

// @Summary Create a post
// @Description Create a post; when requiredTierId is set only subscribers paying at least that tier's price can read it
// @Tags posts
// @Accept multipart/form-data
// @Produce json
// @Param title formData string true "Post title"
// @Param content formData string false "Post content"
// @Param isFree formData boolean false "Readable by everyone"
// @Param requiredTierId formData string false "Minimum tier"
// @Param picture formData file false "Post picture"
// @Security BearerAuth
// @Success 201 {object} models.Post
// @Failure 400 {object} map[string]string "error: Invalid input"
// @Failure 401 {object} map[string]string "error: Unauthorized"
// @Failure 500 {object} map[string]string "error: Error message"
// @Router /posts [post]
func CreatePost(c *gin.Context) {
	userID, ok := utils.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	title := c.PostForm("title")
	if title == "" || len(title) > 200 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Title is required and at most 200 characters"})
		return
	}

	post := models.Post{
		CreatorID: userID,
		Title:     title,
		Content:   c.PostForm("content"),
	}
	if raw := c.PostForm("isFree"); raw != "" {
		isFree, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "isFree must be a boolean"})
			return
		}
		post.IsFree = isFree
	}

	if tierID := c.PostForm("requiredTierId"); tierID != "" && !post.IsFree {
		if _, err := uuid.Parse(tierID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid requiredTierId"})
			return
		}
		var tier models.MembershipTier
		err := db.DB.First(&tier, "id = ? AND creator_id = ?", tierID, userID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "The required tier is not one of your tiers"})
			return
		}
		if err != nil {
			utils.LogErrorWithUser(userID, err, "Error loading tier in CreatePost")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Error loading tier"})
			return
		}
		post.RequiredTierID = &tier.ID
	}

	if file, err := c.FormFile("picture"); err == nil && file != nil {
		url, err := utils.UploadFile(c.Request.Context(), file, "posts/"+userID)
		if err != nil {
			utils.LogErrorWithUser(userID, err, "Error uploading picture in CreatePost")
			c.JSON(http.StatusBadRequest, gin.H{"error": "Error uploading picture: " + err.Error()})
			return
		}
		post.PictureURL = url
	}

	if err := db.DB.Create(&post).Error; err != nil {
		utils.LogErrorWithUser(userID, err, "Error creating post in CreatePost")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error creating post"})
		return
	}

	cache.Invalidate(c.Request.Context(), cache.MutationPost, cache.Scope{CreatorID: userID})
	utils.LogSuccessWithUser(userID, "Post created "+post.ID)
	c.JSON(http.StatusCreated, post)
}

// @Summary List the posts of a creator
// @Description Posts the viewer cannot read come back with locked=true and no content or picture
// @Tags posts
// @Produce json
// @Param id path string true "Creator ID"
// @Success 200 {array} models.Post
// @Failure 400 {object} map[string]string "error: Invalid id"
// @Failure 500 {object} map[string]string "error: Error message"
// @Router /creators/{id}/posts [get]
func GetCreatorPosts(c *gin.Context) {
	creatorID, ok := utils.PathUUID(c, "id")
	if !ok {
		return
	}
	viewerID, _ := utils.CurrentUserID(c)
	ctx := c.Request.Context()

	list, err := cache.Remember(ctx, "posts:"+creatorID,
		[]cache.Tag{cache.CreatorPostsTag(creatorID)},
		func() ([]models.Post, error) {
			var list []models.Post
			err := db.DB.Where("creator_id = ?", creatorID).Order("created_at DESC").Find(&list).Error
			return list, err
		})
	if err != nil {
		utils.LogError(err, "Error loading posts in GetCreatorPosts")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error loading posts"})
		return
	}

	access, err := loadAccess(ctx, viewerID, creatorID, list)
	if err != nil {
		utils.LogErrorWithUser(viewerID, err, "Error loading access in GetCreatorPosts")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error loading posts"})
		return
	}

	out := make([]models.Post, 0, len(list))
	for _, p := range list {
		if !access.canRead(p) {
			p = p.Redacted()
		}
		out = append(out, p)
	}
	c.JSON(http.StatusOK, out)
}

// @Summary Get a post by ID
// @Tags posts
// @Produce json
// @Param id path string true "Post ID"
// @Success 200 {object} models.Post
// @Failure 403 {object} map[string]interface{} "error and requiredTierId"
// @Failure 404 {object} map[string]string "error: Post not found"
// @Failure 500 {object} map[string]string "error: Error message"
// @Router /posts/{id} [get]
func GetPostByID(c *gin.Context) {
	postID, ok := utils.PathUUID(c, "id")
	if !ok {
		return
	}
	viewerID, _ := utils.CurrentUserID(c)

	var post models.Post
	if err := db.DB.First(&post, "id = ?", postID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Post not found"})
			return
		}
		utils.LogError(err, "Error loading post in GetPostByID")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error loading post"})
		return
	}

	access, err := loadAccess(c.Request.Context(), viewerID, post.CreatorID, []models.Post{post})
	if err != nil {
		utils.LogErrorWithUser(viewerID, err, "Error loading access in GetPostByID")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error loading post"})
		return
	}
	if !access.canRead(post) {
		c.JSON(http.StatusForbidden, gin.H{
			"error":          "A subscription to this creator is required",
			"creatorId":      post.CreatorID,
			"requiredTierId": post.RequiredTierID,
		})
		return
	}

	c.JSON(http.StatusOK, post)
}

// @Summary Delete a post
// @Tags posts
// @Produce json
// @Param id path string true "Post ID"
// @Security BearerAuth
// @Success 200 {object} map[string]string "message: Post deleted successfully"
// @Failure 403 {object} map[string]string "error: Not authorized to delete this post"
// @Failure 404 {object} map[string]string "error: Post not found"
// @Router /posts/{id} [delete]
func DeletePost(c *gin.Context) {
	userID, ok := utils.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	postID, ok := utils.PathUUID(c, "id")
	if !ok {
		return
	}

	var post models.Post
	if err := db.DB.First(&post, "id = ?", postID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Post not found"})
		return
	}

	role, _ := c.Get("role")
	if post.CreatorID != userID && role != string(models.AdminRole) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not authorized to delete this post"})
		return
	}

	if err := db.DB.Delete(&post).Error; err != nil {
		utils.LogErrorWithUser(userID, err, "Error deleting post in DeletePost")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error deleting post"})
		return
	}

	cache.Invalidate(c.Request.Context(), cache.MutationPost, cache.Scope{CreatorID: post.CreatorID})
	c.JSON(http.StatusOK, gin.H{"message": "Post deleted successfully"})
}
