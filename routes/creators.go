package routes

import (
	"fanrealms-backend/handlers/commissions"
	"fanrealms-backend/handlers/creators"
	"fanrealms-backend/middleware"

	"github.com/gin-gonic/gin"
)

func CreatorsRoutes(r *gin.Engine, limiter *middleware.RateLimiter) {
	r.GET("/creators/:id/tiers", creators.GetCreatorTiers)
	r.GET("/creators/:id/commission-types", commissions.GetCommissionTypes)
	r.GET("/creators/:id/subscribers", middleware.JWTAuth(), creators.GetCreatorSubscribers)
	r.POST("/creators/me", middleware.JWTAuth(), limiter.Limit(), creators.BecomeCreator)

	tierRoutes := r.Group("/tiers")
	tierRoutes.Use(middleware.CreatorAuth(), limiter.Limit())
	{
		tierRoutes.POST("", creators.CreateTier)
		tierRoutes.PUT("/:id", creators.UpdateTier)
	}

	r.POST("/commission-types", middleware.CreatorAuth(), limiter.Limit(), commissions.CreateCommissionType)
}
