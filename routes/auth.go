package routes

import (
	"fanrealms-backend/handlers/auth"
	"fanrealms-backend/handlers/users"
	"fanrealms-backend/middleware"

	"github.com/gin-gonic/gin"
)

func AuthRoutes(r *gin.Engine, limiter *middleware.RateLimiter) {
	r.POST("/register", limiter.Limit(), auth.CreateUser)
	r.POST("/login", limiter.Limit(), auth.Login)
}

func UsersRoutes(r *gin.Engine, limiter *middleware.RateLimiter) {
	userRoutes := r.Group("/users")
	userRoutes.Use(middleware.JWTAuth())
	{
		userRoutes.GET("/me", users.GetMe)
		userRoutes.PUT("/me", limiter.Limit(), users.UpdateMe)
	}
}
