package testutils

import (
	"io"
	"log"
	"net/http"
	"testing"

	"fanrealms-backend/config"
	"fanrealms-backend/db"
	"fanrealms-backend/models"
	"fanrealms-backend/services/cache"
	"fanrealms-backend/services/payments"
	"fanrealms-backend/utils"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	TestJWTSecret     = "test-jwt-secret"
	TestWebhookSecret = "whsec_test_secret"
)

func SetupTestDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, func()) {
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("could not create sqlmock connection: %s", err)
	}

	newLogger := logger.New(
		log.New(io.Discard, "", log.LstdFlags),
		logger.Config{
			LogLevel: logger.Silent,
		},
	)

	dialector := postgres.New(postgres.Config{
		Conn:       sqlDB,
		DriverName: "postgres",
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		Logger: newLogger,
	})
	if err != nil {
		t.Fatalf("could not open gorm connection: %s", err)
	}

	originalDB := db.DB
	db.DB = gormDB

	cleanup := func() {
		db.DB = originalDB
		sqlDB.Close()
	}

	return gormDB, mock, cleanup
}

// SetupTestConfig installs a configuration with test secrets.
func SetupTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.JWT.Secret = TestJWTSecret
	cfg.Stripe.SecretKey = "sk_test_dummy"
	cfg.Stripe.WebhookSecret = TestWebhookSecret
	config.Set(cfg)
	t.Cleanup(func() { config.Set(nil) })
	return cfg
}

// SetupTestCache gives the test a fresh in-memory cache.
func SetupTestCache(t *testing.T) *cache.MemoryStore {
	t.Helper()
	store := cache.NewMemoryStore()
	cache.Use(store, 0)
	t.Cleanup(func() { cache.Use(cache.NewMemoryStore(), 0) })
	return store
}

// SetupFakeProcessor swaps payments.Client for a recording fake.
func SetupFakeProcessor(t *testing.T) *FakeProcessor {
	t.Helper()
	fake := NewFakeProcessor(TestWebhookSecret)
	original := payments.Client
	payments.Client = fake
	t.Cleanup(func() { payments.Client = original })
	return fake
}

func SetupTestRouter() *gin.Engine {
	r := gin.New()
	return r
}

func InitTestMain() {
	gin.SetMode(gin.TestMode)
	utils.Logger.SetOutput(io.Discard)
}

// AuthHeader signs a token for user with the test secret.
func AuthHeader(t *testing.T, user models.User) http.Header {
	t.Helper()
	token, err := utils.GenerateJWT(user)
	if err != nil {
		t.Fatalf("could not sign token: %s", err)
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	h.Set("Content-Type", "application/json")
	return h
}

// WithUser is a test middleware standing in for JWTAuth.
func WithUser(userID string, role models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if userID != "" {
			c.Set("user_id", userID)
			c.Set("role", string(role))
		}
		c.Next()
	}
}
