package routes

import (
	"context"
	"time"

	"fanrealms-backend/config"
	"fanrealms-backend/handlers/ping"
	"fanrealms-backend/middleware"
	"fanrealms-backend/utils"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func SetupRouter(cfg *config.Config, checkDB func(ctx context.Context) error) *gin.Engine {
	r := gin.New()
	r.Use(gin.LoggerWithWriter(utils.LogWriter()), gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.App.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	r.Use(middleware.Metrics())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	r.GET("/ping", ping.New(checkDB).HandlePing)

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)

	AuthRoutes(r, limiter)
	UsersRoutes(r, limiter)
	CreatorsRoutes(r, limiter)
	PostsRoutes(r, limiter)
	StripeRoutes(r, limiter)
	CommissionsRoutes(r, limiter)

	return r
}
