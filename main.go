package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fanrealms-backend/config"
	"fanrealms-backend/db"
	_ "fanrealms-backend/docs"
	"fanrealms-backend/routes"
	"fanrealms-backend/services/cache"
	"fanrealms-backend/services/payments"
	"fanrealms-backend/services/reconcile"
	"fanrealms-backend/utils"

	"github.com/gin-gonic/gin"
)

// @title FanRealms API
// @version 1.0
// @description Creator subscriptions, gated posts and paid commissions
// @host localhost:8080
// @BasePath /
// @SecurityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Enter the JWT with the Bearer prefix: Bearer <JWT>
func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}
	utils.ConfigureLogger(cfg.Log)

	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := db.InitDB(cfg.Database); err != nil {
		utils.LogError(err, "Database initialisation failed")
		os.Exit(1)
	}
	defer db.Close()

	if err := utils.InitCloudinary(cfg.Cloudinary); err != nil {
		utils.LogError(err, "Cloudinary initialisation failed, uploads are disabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Redis.URL != "" {
		store, err := cache.NewRedisStore(ctx, cfg.Redis.URL)
		if err != nil {
			utils.LogError(err, "Redis unavailable, using the in-memory cache")
			cache.Use(cache.NewMemoryStore(), cfg.Redis.CacheTTL)
		} else {
			defer store.Close()
			cache.Use(store, cfg.Redis.CacheTTL)
			utils.LogSuccess("Redis cache connected")
		}
	} else {
		cache.Use(cache.NewMemoryStore(), cfg.Redis.CacheTTL)
	}

	payments.Client = payments.NewStripeProcessor(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret)

	go reconcile.RunWorker(ctx, cfg.Reconcile)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           routes.SetupRouter(cfg, db.Ping),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		utils.LogInfo("Server listening on " + server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.LogError(err, "Server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	utils.LogInfo("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		utils.LogError(err, "Graceful shutdown failed")
	}
}
