package routes

import (
	"fanrealms-backend/handlers/posts"
	"fanrealms-backend/middleware"

	"github.com/gin-gonic/gin"
)

func PostsRoutes(r *gin.Engine, limiter *middleware.RateLimiter) {
	// anonymous readers see locked posts redacted
	r.GET("/posts/:id", middleware.OptionalJWT(), posts.GetPostByID)
	r.GET("/creators/:id/posts", middleware.OptionalJWT(), posts.GetCreatorPosts)

	postsRoutes := r.Group("/posts")
	postsRoutes.Use(middleware.CreatorAuth(), limiter.Limit())
	{
		postsRoutes.POST("", posts.CreatePost)
		postsRoutes.DELETE("/:id", posts.DeletePost)
	}
}
