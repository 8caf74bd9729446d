package db

import (
	"context"
	"fmt"
	"time"

	"fanrealms-backend/config"
	"fanrealms-backend/models"
	"fanrealms-backend/utils"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var DB *gorm.DB

// partialIndexes cannot be expressed with struct tags.
var partialIndexes = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_commission_requests_open
		ON commission_requests (customer_id, commission_type_id, creator_id)
		WHERE status IN ('pending', 'payment_pending', 'payment_failed', 'accepted')`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_subscriptions_live
		ON subscriptions (user_id, creator_id)
		WHERE status IN ('active', 'cancelling', 'past_due')`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_subscription_payments_intent
		ON subscription_payments (stripe_payment_intent_id)
		WHERE stripe_payment_intent_id <> ''`,
}

func InitDB(cfg config.DatabaseConfig) error {
	if cfg.URL == "" {
		return fmt.Errorf("database url is not configured")
	}

	var err error
	DB, err = gorm.Open(postgres.Open(cfg.URL), &gorm.Config{
		Logger: utils.GetGormLogger(),
	})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := Migrate(DB); err != nil {
		return err
	}

	utils.LogSuccess("Database connection successful")
	return nil
}

func Migrate(conn *gorm.DB) error {
	err := conn.AutoMigrate(
		&models.User{},
		&models.MembershipTier{},
		&models.Subscription{},
		&models.SubscriptionPayment{},
		&models.CommissionType{},
		&models.CommissionRequest{},
		&models.CommissionDeliverable{},
		&models.StripeWebhookEvent{},
		&models.Post{},
	)
	if err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	for _, stmt := range partialIndexes {
		if err := conn.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create partial index: %w", err)
		}
	}
	return nil
}

// Ping checks the connection for the health endpoint.
func Ping(ctx context.Context) error {
	if DB == nil {
		return fmt.Errorf("database not initialised")
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the pool on shutdown.
func Close() error {
	if DB == nil {
		return nil
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
