package utils

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ErrStaleStatus is returned when a conditional status update matched no
// row because another request changed the status first.
var ErrStaleStatus = errors.New("status changed concurrently")

// Response is the envelope of success payloads.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func SendSuccess(c *gin.Context, statusCode int, message string, data interface{}) {
	c.JSON(statusCode, Response{
		Success: true,
		Message: message,
		Data:    data,
	})
}

func SendError(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{"error": message})
}

// CurrentUserID returns the authenticated user id set by the JWT middleware.
func CurrentUserID(c *gin.Context) (string, bool) {
	raw, exists := c.Get("user_id")
	if !exists {
		return "", false
	}
	id, ok := raw.(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// PathUUID reads a uuid path parameter and answers 400 when it is malformed.
func PathUUID(c *gin.Context, name string) (string, bool) {
	value := c.Param(name)
	if _, err := uuid.Parse(value); err != nil {
		SendError(c, http.StatusBadRequest, "Invalid "+name)
		return "", false
	}
	return value, true
}
