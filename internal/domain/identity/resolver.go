// internal/domain/identity/resolver.go
package identity

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"github.com/sirupsen/logrus"
	"github.com/your-org/storefront-backend/internal/config"
	"github.com/your-org/storefront-backend/internal/domain/cart"
	"github.com/your-org/storefront-backend/internal/pkg/auth"
)

const sessionIDKey = "sid"

// Resolution is the outcome of resolving one request
type Resolution struct {
	Owner      cart.Owner      `json:"owner"`
	SessionID  string          `json:"session_id,omitempty"`
	Principal  *auth.Principal `json:"principal,omitempty"`
	NewSession bool            `json:"-"`
}

// Authenticated reports whether the request carried a verified credential
func (r Resolution) Authenticated() bool {
	return r.Principal != nil
}

// Resolver derives the cart owner of a request: a verified user, or else the
// guest session named by the signed session cookie.
type Resolver struct {
	verifier     auth.Verifier
	store        *sessions.CookieStore
	cookieName   string
	tokenCookies []string
	logger       *logrus.Logger
}

// NewResolver creates a resolver with a signed session cookie store
func NewResolver(cfg *config.Config, verifier auth.Verifier, logger *logrus.Logger) *Resolver {
	store := sessions.NewCookieStore([]byte(cfg.Session.Secret))
	store.MaxAge(int(cfg.Session.MaxAge.Seconds()))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(cfg.Session.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   cfg.Session.Secure,
		SameSite: http.SameSiteLaxMode,
	}

	return &Resolver{
		verifier:     verifier,
		store:        store,
		cookieName:   cfg.Session.CookieName,
		tokenCookies: cfg.Identity.CookieNames,
		logger:       logger,
	}
}

// Resolve produces exactly one owner for the request. It never fails:
// anything short of a verified credential resolves to a guest, minting and
// setting the session cookie when the request has none.
func (r *Resolver) Resolve(w http.ResponseWriter, req *http.Request) Resolution {
	var res Resolution
	res.SessionID = r.readSessionID(req)

	if principal := r.authenticate(req); principal != nil {
		res.Principal = principal
		res.Owner = cart.UserOwner(principal.UserID)
		return res
	}

	if res.SessionID == "" {
		id, err := r.newSession(w, req)
		if err != nil {
			r.logger.WithError(err).Error("Failed to write session cookie")
		}
		res.SessionID = id
		res.NewSession = true
	}

	res.Owner = cart.GuestOwner(res.SessionID)
	return res
}

// SessionID returns the guest session id carried by the request, if any
func (r *Resolver) SessionID(req *http.Request) string {
	return r.readSessionID(req)
}

func (r *Resolver) authenticate(req *http.Request) *auth.Principal {
	token := auth.ExtractToken(req, r.tokenCookies)
	if token == "" {
		return nil
	}

	principal, err := r.verifier.Verify(req.Context(), token)
	if err == nil && principal != nil && principal.UserID != "" {
		return principal
	}

	entry := r.logger.WithError(err).WithField("path", req.URL.Path)
	if errors.Is(err, auth.ErrProviderUnavailable) {
		entry.Warn("Identity provider unavailable, treating request as guest")
	} else {
		entry.Debug("Rejected credential, treating request as guest")
	}
	return nil
}

func (r *Resolver) readSessionID(req *http.Request) string {
	// a tampered or expired cookie yields a fresh session and an error
	session, err := r.store.Get(req, r.cookieName)
	if err != nil || session.IsNew {
		return ""
	}

	id, _ := session.Values[sessionIDKey].(string)
	if _, err := uuid.Parse(id); err != nil {
		return ""
	}
	return id
}

func (r *Resolver) newSession(w http.ResponseWriter, req *http.Request) (string, error) {
	id := uuid.NewString()

	session, _ := r.store.New(req, r.cookieName)
	session.Values[sessionIDKey] = id
	return id, r.store.Save(req, w, session)
}
