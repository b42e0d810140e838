package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.App.Environment)
	assert.Equal(t, "session_id", cfg.Session.CookieName)
	assert.Equal(t, 30*24*time.Hour, cfg.Session.MaxAge)
	assert.False(t, cfg.Session.Secure)
	assert.Equal(t, 99, cfg.Cart.MaxQuantity)
	assert.Equal(t, IdentityModeLocal, cfg.Identity.Mode)
	assert.Contains(t, cfg.Identity.CookieNames, "sb-access-token")
}

func TestLoad_ProductionSecuresSessionCookie(t *testing.T) {
	t.Setenv("APP_ENV", "production")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.True(t, cfg.Session.Secure)
	assert.False(t, cfg.App.Debug)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CART_MAX_QUANTITY", "50")
	t.Setenv("CART_MIRROR_GUEST", "true")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com,")
	t.Setenv("IDENTITY_MODE", "Hybrid")
	t.Setenv("IDENTITY_PROVIDER_URL", "https://auth.example.com/")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Cart.MaxQuantity)
	assert.True(t, cfg.Cart.MirrorGuest)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Security.CORSAllowedOrigins)
	assert.Equal(t, IdentityModeHybrid, cfg.Identity.Mode)
	assert.Equal(t, "https://auth.example.com", cfg.Identity.ProviderURL)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"short jwt secret", map[string]string{"JWT_SECRET": "short"}, "JWT_SECRET"},
		{"short session secret", map[string]string{"SESSION_SECRET": "short"}, "SESSION_SECRET"},
		{"remote without url", map[string]string{"IDENTITY_MODE": "remote"}, "IDENTITY_PROVIDER_URL"},
		{"unknown mode", map[string]string{"IDENTITY_MODE": "ldap"}, "IDENTITY_MODE"},
		{"max quantity zero", map[string]string{"CART_MAX_QUANTITY": "0"}, "CART_MAX_QUANTITY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGetDatabaseDSN(t *testing.T) {
	cfg := &Config{Database: DatabaseConfig{
		Host: "db", Port: "5432", User: "u", Password: "p", Name: "n", SSLMode: "disable",
	}}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=n sslmode=disable", cfg.GetDatabaseDSN())
}
