// internal/interfaces/http/routes/routes.go
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/your-org/storefront-backend/internal/config"
	"github.com/your-org/storefront-backend/internal/domain/cart"
	"github.com/your-org/storefront-backend/internal/domain/identity"
	"github.com/your-org/storefront-backend/internal/domain/product"
	"github.com/your-org/storefront-backend/internal/domain/user"
	"github.com/your-org/storefront-backend/internal/interfaces/http/handlers"
	"github.com/your-org/storefront-backend/internal/interfaces/http/middleware"
	"github.com/your-org/storefront-backend/internal/pkg/auth"
	"gorm.io/gorm"
)

// SetupRoutes wires services and registers every API route
func SetupRoutes(rg *gin.RouterGroup, db *gorm.DB, redisClient *redis.Client, bus cart.Bus, cfg *config.Config, logger *logrus.Logger) {
	jwtManager := auth.NewJWTManager(cfg)
	resolver := identity.NewResolver(cfg, auth.NewVerifier(cfg, jwtManager, redisClient), logger)

	productService := product.NewService(db)
	cartService := cart.NewService(
		cart.NewGormStore(db, cfg.Cart.MaxQuantity),
		cart.NewRedisLocalStore(redisClient, cfg.Cart.GuestTTL, cfg.Cart.MaxQuantity),
		productService,
		bus,
		cart.NewRedisGuard(redisClient),
		cfg,
		logger,
	)
	userService := user.NewService(db, cfg, jwtManager, logger)

	SetupProductRoutes(rg, handlers.NewProductHandler(productService, logger))
	SetupAuthRoutes(rg, handlers.NewAuthHandler(userService, cartService, logger), resolver)
	SetupCartRoutes(rg,
		handlers.NewCartHandler(cartService, logger),
		handlers.NewCartSocketHandler(bus, cfg, logger),
		resolver,
	)
}

// SetupProductRoutes sets up the public catalog routes
func SetupProductRoutes(rg *gin.RouterGroup, productHandler *handlers.ProductHandler) {
	products := rg.Group("/products")
	{
		products.GET("", productHandler.GetProducts)
		products.GET("/:id", productHandler.GetProduct)
	}
}

// SetupAuthRoutes sets up authentication related routes
func SetupAuthRoutes(rg *gin.RouterGroup, authHandler *handlers.AuthHandler, resolver *identity.Resolver) {
	authGroup := rg.Group("/auth")
	authGroup.Use(middleware.ResolveOwner(resolver))
	{
		authGroup.POST("/register", authHandler.Register)
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/refresh", authHandler.RefreshToken)

		protected := authGroup.Group("")
		protected.Use(middleware.RequireUser())
		{
			protected.GET("/me", authHandler.Me)
			protected.PUT("/profile", authHandler.UpdateProfile)
			protected.PUT("/password", authHandler.ChangePassword)
			protected.POST("/sync", authHandler.Sync)
		}
	}
}

// SetupCartRoutes sets up cart routes; they serve guests and users alike
func SetupCartRoutes(rg *gin.RouterGroup, cartHandler *handlers.CartHandler, socketHandler *handlers.CartSocketHandler, resolver *identity.Resolver) {
	cartGroup := rg.Group("/cart")
	cartGroup.Use(middleware.ResolveOwner(resolver))
	{
		cartGroup.GET("", cartHandler.GetCart)
		cartGroup.GET("/count", cartHandler.GetCartCount)
		cartGroup.DELETE("", cartHandler.ClearCart)
		cartGroup.POST("/items", cartHandler.AddToCart)
		cartGroup.PUT("/items/:variant_id", cartHandler.UpdateCartItem)
		cartGroup.DELETE("/items/:variant_id", cartHandler.RemoveFromCart)
		cartGroup.GET("/ws", socketHandler.Serve)
		cartGroup.POST("/merge", middleware.RequireUser(), cartHandler.MergeGuestCart)
	}
}
