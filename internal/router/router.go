// Package router defines how HTTP routes are registered for the API.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/fridaylabs/token-market/internal/config"
	"github.com/fridaylabs/token-market/internal/handler"
	"github.com/fridaylabs/token-market/internal/middleware"
	"github.com/fridaylabs/token-market/internal/model"
)

// Handlers collects every handler the server mounts.
type Handlers struct {
	Auth         *handler.AuthHandler
	Market       *handler.MarketHandler
	Tokens       *handler.TokenHandler
	Listings     *handler.ListingHandler
	Calls        *handler.CallHandler
	Transactions *handler.TransactionHandler
	Payments     *handler.PaymentHandler
	Devices      *handler.DeviceHandler
	Admin        *handler.AdminHandler
}

// Register mounts every route on the Echo instance.  Public market
// reads go through the Redis response cache and the token-bucket rate
// limiter; everything under /v1 except auth and the payment webhook
// requires a valid access token.
func Register(e *echo.Echo, cfg config.Config, h Handlers, rdb *redis.Client) {
	e.GET("/healthz", handler.Health)

	rateLimit := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb)
	cache := middleware.NewRedisCache(config.LoadCacheConfig(), rdb)

	// Public marketplace reads.  Cached; no authentication.
	market := e.Group("/v1/market", rateLimit, cache)
	market.GET("/listings", h.Market.BrowseListings)
	market.GET("/supply", h.Market.Supply)
	market.GET("/price", h.Market.Price)

	// The payment gateway calls this without credentials; the request
	// is authenticated by its signature instead.
	e.POST("/v1/payments/webhook", h.Payments.Webhook)

	// Session management.
	authGroup := e.Group("/v1/auth", rateLimit)
	authGroup.POST("/register", h.Auth.Register)
	authGroup.POST("/login", h.Auth.Login)
	authGroup.POST("/refresh", h.Auth.RefreshPair)
	authGroup.POST("/logout", h.Auth.Logout)

	// Everything below requires a valid access token.
	auth := e.Group("/v1", middleware.JWTAuth(cfg.JWTSecret), rateLimit)
	auth.Use(middleware.RequireRole(model.RoleClient, model.RoleAdvisor, model.RoleAdmin))

	auth.GET("/me", h.Auth.Me)

	auth.POST("/tokens", h.Tokens.Create)
	auth.GET("/tokens", h.Tokens.List)
	auth.POST("/tokens/spend", h.Tokens.Spend)

	auth.POST("/listings", h.Listings.Create)
	auth.POST("/listings/:id/cancel", h.Listings.Cancel)
	auth.POST("/listings/:id/buy", h.Listings.Buy)

	auth.POST("/calls/start", h.Calls.Start)
	auth.POST("/calls/:id/end", h.Calls.End)
	auth.GET("/calls", h.Calls.Log)
	auth.GET("/calls/active", h.Calls.Active)

	auth.GET("/transactions", h.Transactions.List)
	auth.GET("/transactions/balance", h.Transactions.Balance)
	auth.GET("/transactions/recent", h.Transactions.Recent)

	auth.POST("/payments/checkout", h.Payments.Checkout)
	auth.GET("/payments", h.Payments.History)

	auth.POST("/devices", h.Devices.Register)

	// Operator endpoints: ADMIN role plus the optional env allow-list.
	admin := e.Group("/v1/admin", middleware.JWTAuth(cfg.JWTSecret), middleware.RequireAdmin(cfg.AdminUserIDs))
	admin.POST("/tokens/mint", h.Admin.Mint)
	admin.POST("/price", h.Admin.SetPrice)
	admin.GET("/users", h.Admin.ListUsers)
	admin.GET("/payments", h.Admin.ListPayments)
	admin.GET("/transactions", h.Admin.ListTransactions)
	admin.DELETE("/users/:id/tokens", h.Admin.PurgeTokens)
	admin.DELETE("/users/:id/transactions", h.Admin.ClearTransactions)
}
