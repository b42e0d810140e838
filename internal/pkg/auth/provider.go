// internal/pkg/auth/provider.go
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrInvalidToken means the credential was checked and rejected
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrProviderUnavailable means the credential could not be checked at all
	ErrProviderUnavailable = errors.New("identity provider unavailable")
)

// Principal sources
const (
	SourceLocal    = "local"
	SourceProvider = "provider"
)

// Principal is an authenticated identity with a stable user id
type Principal struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Source string `json:"source"`
}

// Verifier turns a bearer credential into a Principal
type Verifier interface {
	Verify(ctx context.Context, token string) (*Principal, error)
}

// LocalVerifier accepts access tokens issued by this service
type LocalVerifier struct {
	jwt *JWTManager
}

// NewLocalVerifier creates a verifier backed by the JWT manager
func NewLocalVerifier(jwtManager *JWTManager) *LocalVerifier {
	return &LocalVerifier{jwt: jwtManager}
}

// Verify validates a locally issued access token
func (v *LocalVerifier) Verify(_ context.Context, token string) (*Principal, error) {
	claims, err := v.jwt.ValidateAccessToken(token)
	if err != nil {
		return nil, err
	}
	return &Principal{UserID: claims.UserID, Email: claims.Email, Source: SourceLocal}, nil
}

// ProviderJWTVerifier checks provider-issued tokens offline with the provider's signing secret
type ProviderJWTVerifier struct {
	secret []byte
	now    func() time.Time
}

// NewProviderJWTVerifier creates an offline provider token verifier
func NewProviderJWTVerifier(secret string) *ProviderJWTVerifier {
	return &ProviderJWTVerifier{secret: []byte(secret), now: time.Now}
}

// Verify validates the provider token signature and expiry
func (v *ProviderJWTVerifier) Verify(_ context.Context, token string) (*Principal, error) {
	claims, err := ParseProviderToken(token, v.secret, v.now)
	if err != nil {
		return nil, err
	}
	return &Principal{UserID: claims.Subject, Email: claims.Email, Source: SourceProvider}, nil
}

// ChainVerifier tries verifiers in order until one accepts the token
type ChainVerifier struct {
	verifiers []Verifier
}

// NewChainVerifier creates a verifier chain
func NewChainVerifier(verifiers ...Verifier) *ChainVerifier {
	return &ChainVerifier{verifiers: verifiers}
}

// Verify returns the first accepted principal. When no verifier accepts the
// token and at least one could not decide, ErrProviderUnavailable wins.
func (v *ChainVerifier) Verify(ctx context.Context, token string) (*Principal, error) {
	var unavailable error
	for _, verifier := range v.verifiers {
		principal, err := verifier.Verify(ctx, token)
		if err == nil {
			return principal, nil
		}
		if !errors.Is(err, ErrInvalidToken) && unavailable == nil {
			unavailable = err
		}
	}
	if unavailable != nil {
		return nil, unavailable
	}
	return nil, ErrInvalidToken
}

// ExtractTokenFromHeader extracts JWT token from Authorization header
func ExtractTokenFromHeader(authHeader string) string {
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return ""
}

// ExtractToken finds a bearer credential on the request: the Authorization
// header first, then any of the provider session cookies.
func ExtractToken(r *http.Request, cookieNames []string) string {
	if token := ExtractTokenFromHeader(r.Header.Get("Authorization")); token != "" {
		return token
	}

	for _, name := range cookieNames {
		cookie, err := r.Cookie(name)
		if err != nil {
			continue
		}
		if token := tokenFromCookieValue(cookie.Value); token != "" {
			return token
		}
	}

	return ""
}

// tokenFromCookieValue accepts raw tokens, URL-encoded tokens and JSON session
// objects carrying an access_token field.
func tokenFromCookieValue(value string) string {
	if value == "" {
		return ""
	}

	decoded, err := url.QueryUnescape(value)
	if err != nil {
		decoded = value
	}
	decoded = strings.TrimSpace(decoded)

	if strings.HasPrefix(decoded, "{") && strings.HasSuffix(decoded, "}") {
		var session struct {
			AccessToken string `json:"access_token"`
		}
		if err := json.Unmarshal([]byte(decoded), &session); err == nil && session.AccessToken != "" {
			return session.AccessToken
		}
	}

	return decoded
}
