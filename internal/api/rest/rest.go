package rest

import (
	"github.com/gin-gonic/gin"

	"github.com/artista/market-ledger/internal/api/middleware"
)

// SetupRoutes configures all REST API routes
func SetupRoutes(router *gin.Engine, handler *Handler, resolver middleware.Resolver) {
	// Health check endpoint (no auth, no version prefix)
	router.GET("/health", handler.HealthCheck)

	auth := middleware.Auth(resolver)

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		// Token endpoints (public read access)
		v1.GET("/tokens/:id", handler.GetToken)

		// Minting and approval (requires authentication)
		v1.POST("/tokens", auth, handler.MintToken)
		v1.POST("/tokens/:id/approve", auth, handler.ApproveToken)

		// Listing lifecycle (mutations require authentication)
		v1.GET("/listings/:id", handler.GetListing)
		v1.POST("/listings", auth, handler.CreateListing)
		v1.POST("/listings/:id/buy", auth, handler.BuyListing)
		v1.DELETE("/listings/:id", auth, handler.DelistListing)

		// Marketplace administration and reads
		v1.GET("/market/fee", handler.GetListingFee)
		v1.PUT("/market/fee", auth, handler.SetListingFee)
		v1.GET("/market/balances/:address", handler.GetBalance)

		// Catalog views (personal views require authentication)
		v1.GET("/views/listings", handler.AllListings)
		v1.GET("/views/creations", auth, handler.MyCreations)
		v1.GET("/views/purchases", auth, handler.BoughtByMe)
	}
}
