// internal/pkg/auth/verifier.go
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/your-org/storefront-backend/internal/config"
)

// NewVerifier assembles the verifier chain for the configured identity mode
func NewVerifier(cfg *config.Config, jwtManager *JWTManager, redisClient *redis.Client) Verifier {
	local := NewLocalVerifier(jwtManager)
	if cfg.Identity.Mode == config.IdentityModeLocal {
		return local
	}

	var provider []Verifier
	if cfg.Identity.JWTSecret != "" {
		provider = append(provider, NewProviderJWTVerifier(cfg.Identity.JWTSecret))
	}
	var remote Verifier = NewRemoteVerifier(cfg.Identity.ProviderURL, cfg.Identity.AnonKey, cfg.Identity.VerifyTimeout)
	if redisClient != nil && cfg.Identity.CacheTTL > 0 {
		remote = NewCachedVerifier(remote, redisClient, cfg.Identity.CacheTTL)
	}
	provider = append(provider, remote)

	if cfg.Identity.Mode == config.IdentityModeRemote {
		return NewChainVerifier(provider...)
	}
	return NewChainVerifier(append([]Verifier{local}, provider...)...)
}

// RemoteVerifier asks the external identity provider who owns a token
type RemoteVerifier struct {
	baseURL string
	anonKey string
	client  *http.Client
}

// NewRemoteVerifier creates a verifier for the provider's user endpoint
func NewRemoteVerifier(baseURL, anonKey string, timeout time.Duration) *RemoteVerifier {
	return &RemoteVerifier{
		baseURL: baseURL,
		anonKey: anonKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type providerUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Verify calls GET {provider}/auth/v1/user with the bearer token
func (v *RemoteVerifier) Verify(ctx context.Context, token string) (*Principal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if v.anonKey != "" {
		req.Header.Set("apikey", v.anonKey)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, ErrInvalidToken
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: provider returned %d", ErrProviderUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: provider returned %d", ErrInvalidToken, resp.StatusCode)
	}

	var user providerUser
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&user); err != nil {
		return nil, fmt.Errorf("%w: malformed provider response: %v", ErrProviderUnavailable, err)
	}
	if user.ID == "" {
		return nil, ErrInvalidToken
	}

	return &Principal{UserID: user.ID, Email: user.Email, Source: SourceProvider}, nil
}

// CachedVerifier memoizes successful verifications in Redis. Rejections and
// provider outages are never cached.
type CachedVerifier struct {
	next  Verifier
	redis *redis.Client
	ttl   time.Duration
}

// NewCachedVerifier wraps a verifier with a Redis cache
func NewCachedVerifier(next Verifier, redisClient *redis.Client, ttl time.Duration) *CachedVerifier {
	return &CachedVerifier{next: next, redis: redisClient, ttl: ttl}
}

// Verify returns the cached principal or delegates to the wrapped verifier
func (v *CachedVerifier) Verify(ctx context.Context, token string) (*Principal, error) {
	key := tokenCacheKey(token)

	// A cache miss or a Redis error falls through to the real verifier
	if data, err := v.redis.Get(ctx, key).Bytes(); err == nil {
		var principal Principal
		if json.Unmarshal(data, &principal) == nil && principal.UserID != "" {
			return &principal, nil
		}
	}

	principal, err := v.next.Verify(ctx, token)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(principal); err == nil {
		v.redis.Set(ctx, key, data, v.ttl)
	}

	return principal, nil
}

func tokenCacheKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "auth:token:" + hex.EncodeToString(sum[:])
}
