package routes

import (
	"fanrealms-backend/handlers/commissions"
	"fanrealms-backend/middleware"

	"github.com/gin-gonic/gin"
)

func CommissionsRoutes(r *gin.Engine, limiter *middleware.RateLimiter) {
	commissionRoutes := r.Group("/commissions")
	commissionRoutes.Use(middleware.JWTAuth())
	{
		commissionRoutes.GET("", commissions.ListMine)
		commissionRoutes.GET("/existing", commissions.CheckExisting)
		commissionRoutes.GET("/incoming", middleware.CreatorAuth(), commissions.ListIncoming)
		commissionRoutes.GET("/:id", commissions.GetRequest)
	}

	mutating := commissionRoutes.Group("")
	mutating.Use(limiter.Limit())
	{
		mutating.POST("", commissions.CreateRequest)
		mutating.POST("/:id/payment", commissions.CreatePayment)
		mutating.POST("/:id/action", commissions.HandleAction)
		mutating.POST("/:id/refund", commissions.ManualRefund)
		mutating.POST("/:id/status", commissions.UpdateStatus)
		mutating.POST("/:id/deliverables", commissions.SubmitDeliverable)
		mutating.POST("/:id/review", commissions.Review)
		mutating.POST("/:id/cancel", commissions.Cancel)
		mutating.POST("/:id/reconcile", commissions.Reconcile)
	}
}
