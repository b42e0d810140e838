// internal/interfaces/http/handlers/cart.go
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/your-org/storefront-backend/internal/domain/cart"
	"github.com/your-org/storefront-backend/internal/interfaces/http/middleware"
)

// CartHandler handles cart endpoints for guests and users alike
type CartHandler struct {
	cartService *cart.Service
	logger      *logrus.Logger
}

// NewCartHandler creates a new cart handler
func NewCartHandler(cartService *cart.Service, logger *logrus.Logger) *CartHandler {
	return &CartHandler{
		cartService: cartService,
		logger:      logger,
	}
}

// AddToCartRequest is the body of POST /cart/items
type AddToCartRequest struct {
	ProductVariantID uint `json:"product_variant_id" binding:"required"`
	Quantity         int  `json:"quantity"`
}

// UpdateCartItemRequest is the body of PUT /cart/items/:variant_id
type UpdateCartItemRequest struct {
	Quantity *int `json:"quantity" binding:"required"`
}

// MergeCartRequest is the body of POST /cart/merge. Items is the browser's
// local cart in whatever shape it stored it.
type MergeCartRequest struct {
	SyncID string          `json:"sync_id"`
	Items  json.RawMessage `json:"items"`
}

// GetCart handles GET /cart
func (h *CartHandler) GetCart(c *gin.Context) {
	owner, _ := middleware.GetOwner(c)

	cartResponse, err := h.cartService.GetCart(c.Request.Context(), owner)
	if err != nil {
		h.respondError(c, err, "Failed to retrieve cart")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Cart retrieved successfully",
		"data":    cartResponse,
	})
}

// GetCartCount handles GET /cart/count
func (h *CartHandler) GetCartCount(c *gin.Context) {
	owner, _ := middleware.GetOwner(c)

	count, err := h.cartService.Count(c.Request.Context(), owner)
	if err != nil {
		h.respondError(c, err, "Failed to get cart count")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Cart count retrieved successfully",
		"data": gin.H{
			"count": count,
		},
	})
}

// AddToCart handles POST /cart/items
func (h *CartHandler) AddToCart(c *gin.Context) {
	owner, _ := middleware.GetOwner(c)

	var req AddToCartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	ctx := c.Request.Context()
	item, err := h.cartService.AddToCart(ctx, owner, req.ProductVariantID, req.Quantity)
	if err != nil {
		h.respondError(c, err, "Failed to add item to cart")
		return
	}

	cartResponse, err := h.cartService.GetCart(ctx, owner)
	if err != nil {
		h.respondError(c, err, "Failed to retrieve cart")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Item added to cart successfully",
		"data": gin.H{
			"item": item,
			"cart": cartResponse,
		},
	})
}

// UpdateCartItem handles PUT /cart/items/:variant_id. A quantity of 0 removes the line.
func (h *CartHandler) UpdateCartItem(c *gin.Context) {
	owner, _ := middleware.GetOwner(c)

	variantID, ok := parseVariantID(c)
	if !ok {
		return
	}

	var req UpdateCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	ctx := c.Request.Context()
	if err := h.cartService.UpdateItem(ctx, owner, variantID, *req.Quantity); err != nil {
		h.respondError(c, err, "Failed to update cart item")
		return
	}

	cartResponse, err := h.cartService.GetCart(ctx, owner)
	if err != nil {
		h.respondError(c, err, "Failed to retrieve cart")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Cart item updated successfully",
		"data":    cartResponse,
	})
}

// RemoveFromCart handles DELETE /cart/items/:variant_id
func (h *CartHandler) RemoveFromCart(c *gin.Context) {
	owner, _ := middleware.GetOwner(c)

	variantID, ok := parseVariantID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if err := h.cartService.RemoveItem(ctx, owner, variantID); err != nil {
		h.respondError(c, err, "Failed to remove item from cart")
		return
	}

	cartResponse, err := h.cartService.GetCart(ctx, owner)
	if err != nil {
		h.respondError(c, err, "Failed to retrieve cart")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Item removed from cart successfully",
		"data":    cartResponse,
	})
}

// ClearCart handles DELETE /cart
func (h *CartHandler) ClearCart(c *gin.Context) {
	owner, _ := middleware.GetOwner(c)

	if err := h.cartService.ClearCart(c.Request.Context(), owner); err != nil {
		h.respondError(c, err, "Failed to clear cart")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Cart cleared successfully",
	})
}

// MergeGuestCart handles POST /cart/merge. The guest cart of the request's
// session, plus any uploaded local cart, is carried into the user's cart.
func (h *CartHandler) MergeGuestCart(c *gin.Context) {
	res, _ := middleware.GetResolution(c)
	if !res.Authenticated() {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "User not authenticated",
		})
		return
	}

	// the body is optional
	var req MergeCartRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	var upload *cart.LocalUpload
	if len(req.Items) > 0 {
		upload = &cart.LocalUpload{
			SyncID: req.SyncID,
			Items:  cart.DecodeLocalCart(req.Items, h.cartService.MaxQuantity()),
		}
	}

	ctx := c.Request.Context()
	report, err := h.cartService.MergeOnLogin(ctx, res.SessionID, res.Principal.UserID, upload)
	if err != nil {
		h.respondError(c, err, "Failed to merge cart")
		return
	}

	cartResponse, err := h.cartService.GetCart(ctx, res.Owner)
	if err != nil {
		h.respondError(c, err, "Failed to retrieve merged cart")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": report.Summary(),
		"data": gin.H{
			"merge": report,
			"cart":  cartResponse,
		},
	})
}

func parseVariantID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("variant_id"), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid product variant ID",
		})
		return 0, false
	}
	return uint(id), true
}

// respondError maps cart errors to status codes; anything unexpected is
// logged and reported without internals
func (h *CartHandler) respondError(c *gin.Context, err error, message string) {
	switch {
	case errors.Is(err, cart.ErrInvalidQuantity):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid quantity",
			"details": gin.H{"min": 1, "max": h.cartService.MaxQuantity()},
		})
	case errors.Is(err, cart.ErrVariantNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Product variant not found"})
	case errors.Is(err, cart.ErrItemNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Item not in cart"})
	case errors.Is(err, cart.ErrInvalidOwner), errors.Is(err, cart.ErrSyncIDRequired):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, cart.ErrMergeInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": "Cart merge already in progress"})
	default:
		owner, _ := middleware.GetOwner(c)
		h.logger.WithError(err).WithField("owner", owner.Key()).Error(message)
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": message})
	}
}
