package ping

import (
	"context"
	"net/http"
	"time"

	"fanrealms-backend/utils"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	checkDB func(ctx context.Context) error
}

func New(checkDB func(ctx context.Context) error) *Handler {
	return &Handler{checkDB: checkDB}
}

// HandlePing answers pong and reports whether the database is reachable
// @Summary Health check
// @Description Answers pong with the database status
// @Tags health
// @Produce json
// @Success 200 {object} utils.Response
// @Failure 503 {object} map[string]string "error: database unavailable"
// @Router /ping [get]
func (h *Handler) HandlePing(c *gin.Context) {
	if h.checkDB != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.checkDB(ctx); err != nil {
			utils.LogError(err, "Database ping failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "database unavailable"})
			return
		}
	}

	utils.SendSuccess(c, http.StatusOK, "Ping successful", gin.H{
		"message":  "pong",
		"database": "up",
	})
}
