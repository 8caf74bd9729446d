package middleware

import (
	"net/http"
	"strings"

	"fanrealms-backend/models"
	"fanrealms-backend/utils"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"
)

func extractJwtClaims(c *gin.Context) (jwt.MapClaims, bool) {
	authHeader := strings.Trim(c.GetHeader("Authorization"), "\"' ")
	if authHeader == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header missing"})
		return nil, false
	}

	if !strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		authHeader = "Bearer " + authHeader
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization format, expected: Bearer <token>"})
		return nil, false
	}

	claims, err := utils.DecodeJWT(strings.Trim(parts[1], "\"' "))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
		return nil, false
	}

	return claims, true
}

func setClaims(c *gin.Context, claims jwt.MapClaims) string {
	c.Set("user_id", claims["user_id"])
	c.Set("role", claims["role"])
	role, _ := claims["role"].(string)
	return role
}

func JWTAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := extractJwtClaims(c)
		if !ok {
			return
		}
		setClaims(c, claims)
		c.Next()
	}
}

// CreatorAuth admits content creators and admins.
func CreatorAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := extractJwtClaims(c)
		if !ok {
			return
		}

		role := setClaims(c, claims)
		if role != string(models.ContentCreator) && role != string(models.AdminRole) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Access denied: creator role required"})
			return
		}

		c.Next()
	}
}

func AdminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := extractJwtClaims(c)
		if !ok {
			return
		}

		if setClaims(c, claims) != string(models.AdminRole) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Access denied: admin role required"})
			return
		}

		c.Next()
	}
}

// OptionalJWT sets the caller's claims when a valid token is sent and lets
// anonymous requests through.
func OptionalJWT() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := strings.Trim(c.GetHeader("Authorization"), "\"' ")
		if header == "" {
			c.Next()
			return
		}
		token := header
		if strings.HasPrefix(strings.ToLower(header), "bearer ") {
			token = strings.TrimSpace(header[len("bearer "):])
		}
		if claims, err := utils.DecodeJWT(token); err == nil {
			setClaims(c, claims)
		}
		c.Next()
	}
}
