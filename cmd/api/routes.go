package main

import (
	"database/sql"
	"net/http"
	"time"

	"callpay-platform/internal/auth"
	"callpay-platform/internal/httpapi"
	"callpay-platform/pkg/utils"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, authMW gin.HandlerFunc, db *sql.DB) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), db, 2*time.Second); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// AUTH routes (token issuance).
	// NOTE: This is a placeholder login route; real credential validation is not implemented.
	r.POST("/v1/auth/login", h.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		v1.GET("/me", func(c *gin.Context) {
			uid, _ := auth.UserID(c.Request.Context())
			role, _ := auth.Role(c.Request.Context())
			c.JSON(http.StatusOK, gin.H{"user_id": uid, "role": role})
		})

		// CALL lifecycle
		callGroup := v1.Group("/calls")
		{
			callGroup.POST("", h.InitiateCall)
			callGroup.GET("", h.CallHistory)
			callGroup.GET("/:call_id", h.CallStatus)
			callGroup.POST("/:call_id/accept", h.AcceptCall)
			callGroup.POST("/:call_id/reject", h.RejectCall)
			callGroup.POST("/:call_id/confirm", h.ConfirmCall)
			callGroup.POST("/:call_id/connection-failure", h.ReportConnectionFailure)
			callGroup.POST("/:call_id/end", h.EndCall)
		}

		// COINS / EARNINGS
		coins := v1.Group("/coins")
		{
			coins.GET("/balance", h.GetBalance)
			coins.POST("/credit", h.CreditCoins)
		}
		v1.GET("/earnings", h.GetEarnings)
		v1.GET("/transactions", h.ListTransactions)

		// ADMIN routes
		admin := v1.Group("/admin")
		admin.Use(auth.RequireRole("admin"))
		{
			admin.GET("/ping", func(c *gin.Context) {
				c.JSON(http.StatusOK, gin.H{"status": "ok"})
			})
			admin.POST("/calls/cleanup", h.CleanupStaleCalls)
		}
	}
}
