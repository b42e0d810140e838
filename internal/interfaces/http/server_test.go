package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/your-org/storefront-backend/internal/domain/cart"
	"github.com/your-org/storefront-backend/internal/domain/product"
	"github.com/your-org/storefront-backend/internal/domain/user"
	"github.com/your-org/storefront-backend/internal/testutil"
	"gorm.io/gorm"
)

const testPassword = "Str0ng!Pass#"

func init() {
	gin.SetMode(gin.TestMode)
}

type envelope struct {
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

type testApp struct {
	t       *testing.T
	server  *Server
	db      *gorm.DB
	mr      *miniredis.Miniredis
	variant uint
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	cfg := testutil.Config()
	db := testutil.NewDB(t, &user.User{}, &product.Product{}, &product.ProductVariant{}, &cart.CartItem{})
	mr, rdb := testutil.NewRedis(t)
	logger := testutil.Logger()

	p := product.Product{
		SKU:      "TEE-1",
		Title:    "Cotton Tee",
		Slug:     "cotton-tee",
		Price:    1500,
		IsActive: true,
		Variants: []product.ProductVariant{{SKU: "TEE-1-S", Name: "Small", IsActive: true}},
	}
	require.NoError(t, db.Create(&p).Error)

	return &testApp{
		t:       t,
		server:  NewServer(cfg, db, rdb, cart.NewLocalBus(logger), logger),
		db:      db,
		mr:      mr,
		variant: p.Variants[0].ID,
	}
}

type requestOption func(*http.Request)

func withCookies(cookies []*http.Cookie) requestOption {
	return func(r *http.Request) {
		for _, c := range cookies {
			r.AddCookie(c)
		}
	}
}

func withBearer(token string) requestOption {
	return func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	}
}

func (a *testApp) do(method, path string, body interface{}, opts ...requestOption) (*httptest.ResponseRecorder, envelope) {
	a.t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(a.t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for _, opt := range opts {
		opt(req)
	}

	rec := httptest.NewRecorder()
	a.server.Handler().ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

func decodeCart(t *testing.T, data json.RawMessage) cart.Cart {
	t.Helper()
	var c cart.Cart
	require.NoError(t, json.Unmarshal(data, &c))
	return c
}

func TestServer_Health(t *testing.T) {
	app := newTestApp(t)

	rec, _ := app.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec, _ = app.do(http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	app.mr.Close()
	rec, _ = app.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_GuestCartAndLoginMerge(t *testing.T) {
	app := newTestApp(t)

	// first request mints the guest session
	rec, env := app.do(http.MethodPost, "/api/v1/cart/items", gin.H{"product_variant_id": app.variant, "quantity": 2})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Item added to cart successfully", env.Message)
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	assert.Equal(t, "session_id", cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	rec, _ = app.do(http.MethodPost, "/api/v1/cart/items", gin.H{"product_variant_id": app.variant, "quantity": 1}, withCookies(cookies))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Result().Cookies(), "an existing session is reused")

	rec, env = app.do(http.MethodGet, "/api/v1/cart", nil, withCookies(cookies))
	require.Equal(t, http.StatusOK, rec.Code)
	guestCart := decodeCart(t, env.Data)
	require.Len(t, guestCart.Items, 1)
	assert.Equal(t, 3, guestCart.Items[0].Quantity)
	assert.Equal(t, "TEE-1-S", guestCart.Items[0].SKU)
	assert.Equal(t, int64(4500), guestCart.Totals.SubTotal)

	// registering from the same browser carries the guest cart over
	rec, env = app.do(http.MethodPost, "/api/v1/auth/register", gin.H{
		"email":            "asha@example.com",
		"password":         testPassword,
		"confirm_password": testPassword,
	}, withCookies(cookies))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var signIn struct {
		AccessToken string            `json:"access_token"`
		CartMerge   *cart.MergeReport `json:"cart_merge"`
		Notice      string            `json:"notice"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &signIn))
	require.NotEmpty(t, signIn.AccessToken)
	require.NotNil(t, signIn.CartMerge)
	assert.Equal(t, 1, signIn.CartMerge.Migrated)
	assert.Equal(t, "1 of 1 items carried over", signIn.Notice)

	rec, env = app.do(http.MethodGet, "/api/v1/cart", nil, withBearer(signIn.AccessToken))
	require.Equal(t, http.StatusOK, rec.Code)
	userCart := decodeCart(t, env.Data)
	require.Len(t, userCart.Items, 1)
	assert.Equal(t, 3, userCart.Items[0].Quantity)

	rec, env = app.do(http.MethodGet, "/api/v1/cart", nil, withCookies(cookies))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeCart(t, env.Data).Items)

	rec, env = app.do(http.MethodGet, "/api/v1/cart/count", nil, withBearer(signIn.AccessToken))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"count":3}`, string(env.Data))

	// logging in again is harmless
	rec, env = app.do(http.MethodPost, "/api/v1/auth/login", gin.H{"email": "asha@example.com", "password": testPassword}, withCookies(cookies))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotContains(t, string(env.Data), "notice")
}

func TestServer_CartErrors(t *testing.T) {
	app := newTestApp(t)

	rec, env := app.do(http.MethodPost, "/api/v1/cart/items", gin.H{"product_variant_id": app.variant, "quantity": 100})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid quantity", env.Error)

	rec, _ = app.do(http.MethodPost, "/api/v1/cart/items", gin.H{"product_variant_id": 9999, "quantity": 1})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = app.do(http.MethodPost, "/api/v1/cart/items", gin.H{"quantity": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = app.do(http.MethodPut, "/api/v1/cart/items/abc", gin.H{"quantity": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = app.do(http.MethodDelete, "/api/v1/cart/items/77", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// a forged bearer token degrades to a guest instead of failing
	rec, _ = app.do(http.MethodGet, "/api/v1/cart", nil, withBearer("not-a-token"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Result().Cookies())
}

func TestServer_UpdateRemoveClear(t *testing.T) {
	app := newTestApp(t)

	rec, _ := app.do(http.MethodPost, "/api/v1/cart/items", gin.H{"product_variant_id": app.variant, "quantity": 1})
	require.Equal(t, http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()
	path := "/api/v1/cart/items/" + jsonNumber(app.variant)

	rec, env := app.do(http.MethodPut, path, gin.H{"quantity": 7}, withCookies(cookies))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 7, decodeCart(t, env.Data).Items[0].Quantity)

	rec, _ = app.do(http.MethodPut, path, gin.H{}, withCookies(cookies))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env = app.do(http.MethodDelete, path, nil, withCookies(cookies))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeCart(t, env.Data).Items)

	rec, _ = app.do(http.MethodDelete, "/api/v1/cart", nil, withCookies(cookies))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_MergeEndpoint(t *testing.T) {
	app := newTestApp(t)

	rec, _ := app.do(http.MethodPost, "/api/v1/cart/merge", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, env := app.do(http.MethodPost, "/api/v1/auth/register", gin.H{
		"email":            "asha@example.com",
		"password":         testPassword,
		"confirm_password": testPassword,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var auth struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &auth))

	items := []gin.H{{"productVariantId": jsonNumber(app.variant), "quantity": 2}, {"variantId": "bogus"}}

	rec, _ = app.do(http.MethodPost, "/api/v1/cart/merge", gin.H{"items": items}, withBearer(auth.AccessToken))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env = app.do(http.MethodPost, "/api/v1/cart/merge", gin.H{"sync_id": "tab-1", "items": items}, withBearer(auth.AccessToken))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "1 of 1 items carried over", env.Message)

	rec, env = app.do(http.MethodPost, "/api/v1/cart/merge", gin.H{"sync_id": "tab-1", "items": items}, withBearer(auth.AccessToken))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "No guest items to carry over", env.Message)

	rec, env = app.do(http.MethodGet, "/api/v1/auth/me", nil, withBearer(auth.AccessToken))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), "asha@example.com")

	rec, env = app.do(http.MethodGet, "/api/v1/cart", nil, withBearer(auth.AccessToken))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decodeCart(t, env.Data).Items[0].Quantity)
}

func TestServer_AuthErrors(t *testing.T) {
	app := newTestApp(t)

	rec, _ := app.do(http.MethodPost, "/api/v1/auth/login", gin.H{"email": "nobody@example.com", "password": testPassword})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = app.do(http.MethodPost, "/api/v1/auth/register", gin.H{"email": "asha@example.com", "password": "weak", "confirm_password": "weak"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = app.do(http.MethodGet, "/api/v1/auth/me", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = app.do(http.MethodPost, "/api/v1/auth/refresh", gin.H{"refresh_token": "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServer_Products(t *testing.T) {
	app := newTestApp(t)

	rec, env := app.do(http.MethodGet, "/api/v1/products?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var products []product.Product
	require.NoError(t, json.Unmarshal(env.Data, &products))
	require.Len(t, products, 1)
	require.Len(t, products[0].Variants, 1)
	assert.Equal(t, app.variant, products[0].Variants[0].ID)
	assert.Equal(t, "TEE-1-S", products[0].Variants[0].SKU)
	assert.Equal(t, int64(1500), products[0].Variants[0].Price)

	rec, env = app.do(http.MethodGet, "/api/v1/products/"+jsonNumber(products[0].ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var p product.Product
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, "Cotton Tee", p.Title)

	rec, _ = app.do(http.MethodGet, "/api/v1/products/9999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec, _ = app.do(http.MethodGet, "/api/v1/products/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = app.do(http.MethodGet, "/api/v1/products?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_CartWebsocket(t *testing.T) {
	app := newTestApp(t)
	ts := httptest.NewServer(app.server.Handler())
	defer ts.Close()

	// mint a guest session over plain HTTP first
	resp, err := http.Get(ts.URL + "/api/v1/cart")
	require.NoError(t, err)
	resp.Body.Close()
	cookies := resp.Cookies()
	require.NotEmpty(t, cookies)

	header := http.Header{}
	for _, c := range cookies {
		header.Add("Cookie", c.Name+"="+c.Value)
	}
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/cart/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ready struct {
		Type  string `json:"type"`
		Owner string `json:"owner"`
	}
	require.NoError(t, conn.ReadJSON(&ready))
	assert.Equal(t, "ready", ready.Type)
	assert.True(t, strings.HasPrefix(ready.Owner, "guest:"))

	body, err := json.Marshal(gin.H{"product_variant_id": app.variant, "quantity": 1})
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/cart/items", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var event cart.Event
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, cart.EventCartUpdate, event.Type)
	assert.Equal(t, ready.Owner, event.Owner)
	assert.Equal(t, cart.ActionAdd, event.Action)
	assert.Equal(t, app.variant, event.ProductVariantID)
}

func TestServer_CartWebsocketMintsSessionForNewGuest(t *testing.T) {
	app := newTestApp(t)
	ts := httptest.NewServer(app.server.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/cart/ws"
	conn, handshake, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	cookies := handshake.Cookies()
	require.NotEmpty(t, cookies, "the handshake should carry the new session cookie")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ready struct {
		Type  string `json:"type"`
		Owner string `json:"owner"`
	}
	require.NoError(t, conn.ReadJSON(&ready))
	require.True(t, strings.HasPrefix(ready.Owner, "guest:"))

	// a cart change made with that cookie reaches the socket
	body, err := json.Marshal(gin.H{"product_variant_id": app.variant, "quantity": 2})
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/cart/items", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var event cart.Event
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, ready.Owner, event.Owner)
	assert.Equal(t, cart.ActionAdd, event.Action)
}

func jsonNumber(id uint) string {
	b, _ := json.Marshal(id)
	return string(b)
}
