// internal/testutil/testutil.go
package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/your-org/storefront-backend/internal/config"
	"github.com/your-org/storefront-backend/internal/pkg/logger"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// NewDB opens a private in-memory SQLite database and migrates models into it
func NewDB(t testing.TB, models ...interface{}) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// one connection keeps the in-memory database alive and serializes writers
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if len(models) > 0 {
		require.NoError(t, db.AutoMigrate(models...))
	}
	return db
}

// NewRedis starts a miniredis server and returns a client connected to it
func NewRedis(t testing.TB) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

// Config returns a valid configuration for tests
func Config() *config.Config {
	return &config.Config{
		App: config.AppConfig{Name: "storefront-test", Version: "test", Environment: "test"},
		Server: config.ServerConfig{
			RequestTimeout: 5 * time.Second,
			MaxBodyBytes:   1 << 20,
		},
		JWT: config.JWTConfig{
			Secret:             "test-jwt-secret-that-is-long-enough-123",
			Issuer:             "storefront-test",
			AccessTokenExpiry:  15 * time.Minute,
			RefreshTokenExpiry: 24 * time.Hour,
		},
		Identity: config.IdentityConfig{
			Mode:          config.IdentityModeLocal,
			VerifyTimeout: time.Second,
			CookieNames:   []string{"sb-access-token", "supabase-auth-token"},
		},
		Session: config.SessionConfig{
			CookieName: "session_id",
			Secret:     "test-session-secret-that-is-long-enough",
			MaxAge:     30 * 24 * time.Hour,
		},
		Cart: config.CartConfig{
			MaxQuantity:   99,
			GuestTTL:      30 * 24 * time.Hour,
			MergeLockTTL:  30 * time.Second,
			SyncDedupeTTL: 24 * time.Hour,
			WebsocketPing: 30 * time.Second,
		},
		Security: config.SecurityConfig{
			BcryptCost:         4,
			RateLimitPerMinute: 1000,
			CORSAllowedOrigins: []string{"http://localhost:3000"},
			CORSAllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			CORSAllowedHeaders: []string{"Origin", "Content-Type", "Authorization"},
		},
		Logging: config.LoggingConfig{Level: "error", Format: "text"},
	}
}

// Logger returns a logger that drops everything
func Logger() *logrus.Logger {
	return logger.Discard()
}
