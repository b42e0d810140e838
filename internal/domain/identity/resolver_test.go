package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/your-org/storefront-backend/internal/domain/cart"
	"github.com/your-org/storefront-backend/internal/pkg/auth"
	"github.com/your-org/storefront-backend/internal/testutil"
)

type stubVerifier struct {
	principal *auth.Principal
	err       error
}

func (s stubVerifier) Verify(context.Context, string) (*auth.Principal, error) {
	return s.principal, s.err
}

func newResolver(v auth.Verifier) *Resolver {
	return NewResolver(testutil.Config(), v, testutil.Logger())
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == "session_id" {
			return c
		}
	}
	t.Fatal("session cookie not set")
	return nil
}

func TestResolve_MintsGuestSession(t *testing.T) {
	t.Parallel()

	r := newResolver(stubVerifier{err: auth.ErrInvalidToken})
	rec := httptest.NewRecorder()

	res := r.Resolve(rec, httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil))

	assert.True(t, res.Owner.IsGuest())
	assert.True(t, res.NewSession)
	assert.NotEmpty(t, res.SessionID)
	assert.Equal(t, res.SessionID, res.Owner.ID)
	assert.False(t, res.Authenticated())

	cookie := sessionCookie(t, rec)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
	assert.Equal(t, 30*24*60*60, cookie.MaxAge)
	assert.NotContains(t, cookie.Value, res.SessionID)
}

func TestResolve_ReusesSessionCookie(t *testing.T) {
	t.Parallel()

	r := newResolver(stubVerifier{err: auth.ErrInvalidToken})
	rec := httptest.NewRecorder()
	first := r.Resolve(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(sessionCookie(t, rec))
	rec2 := httptest.NewRecorder()
	second := r.Resolve(rec2, req)

	assert.Equal(t, first.SessionID, second.SessionID)
	assert.False(t, second.NewSession)
	assert.Empty(t, rec2.Result().Cookies())
	assert.Equal(t, first.SessionID, r.SessionID(req))
}

func TestResolve_TamperedCookieStartsNewSession(t *testing.T) {
	t.Parallel()

	r := newResolver(stubVerifier{err: auth.ErrInvalidToken})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "session_id", Value: "forged-value"})
	rec := httptest.NewRecorder()

	res := r.Resolve(rec, req)
	assert.True(t, res.NewSession)
	assert.NotEqual(t, "forged-value", res.SessionID)
	sessionCookie(t, rec)
}

func TestResolve_VerifiedUser(t *testing.T) {
	t.Parallel()

	r := newResolver(stubVerifier{principal: &auth.Principal{UserID: "u7", Source: auth.SourceProvider}})

	// carry a guest session so the login flow can name the cart to merge
	rec := httptest.NewRecorder()
	guest := r.Resolve(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer token")
	req.AddCookie(sessionCookie(t, rec))
	rec2 := httptest.NewRecorder()

	res := r.Resolve(rec2, req)
	assert.Equal(t, cart.UserOwner("u7"), res.Owner)
	assert.True(t, res.Authenticated())
	assert.Equal(t, guest.SessionID, res.SessionID)
	assert.Empty(t, rec2.Result().Cookies())
}

func TestResolve_UserWithoutSessionGetsNone(t *testing.T) {
	t.Parallel()

	r := newResolver(stubVerifier{principal: &auth.Principal{UserID: "u7"}})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "sb-access-token", Value: "token"})
	rec := httptest.NewRecorder()

	res := r.Resolve(rec, req)
	assert.True(t, res.Owner.IsUser())
	assert.Empty(t, res.SessionID)
	assert.Empty(t, rec.Result().Cookies())
}

func TestResolve_FailsClosedToGuest(t *testing.T) {
	t.Parallel()

	for name, err := range map[string]error{
		"provider down": auth.ErrProviderUnavailable,
		"invalid token": auth.ErrInvalidToken,
	} {
		t.Run(name, func(t *testing.T) {
			r := newResolver(stubVerifier{err: err})
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", "Bearer token")

			res := r.Resolve(httptest.NewRecorder(), req)
			assert.True(t, res.Owner.IsGuest())
			assert.NotEmpty(t, res.Owner.ID)
		})
	}
}
