package routes

import (
	"fanrealms-backend/handlers/stripe"
	"fanrealms-backend/middleware"

	"github.com/gin-gonic/gin"
)

func StripeRoutes(r *gin.Engine, limiter *middleware.RateLimiter) {
	subscriptionRoutes := r.Group("/subscriptions")
	subscriptionRoutes.Use(middleware.JWTAuth())
	{
		subscriptionRoutes.GET("", stripe.ListSubscriptions)
		subscriptionRoutes.GET("/:id", stripe.GetSubscription)
		subscriptionRoutes.POST("", limiter.Limit(), stripe.CreateSubscription)
		subscriptionRoutes.POST("/:id/cancel", limiter.Limit(), stripe.CancelSubscription)
	}

	// signed by Stripe, no JWT and no rate limit
	r.POST("/stripe/webhook", stripe.StripeWebhookHandler)
}
