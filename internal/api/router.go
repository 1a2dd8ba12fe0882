package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/homestay-payments/reconciliation/internal/api/handler"
	"github.com/homestay-payments/reconciliation/internal/api/middleware"
)

// setupRouter configures API routes and middleware for the application
func setupRouter(
	logger *slog.Logger,
	r *gin.Engine,
	webhookHandler *handler.WebhookHandler,
	paymentHandler *handler.PaymentHandler,
	unmatchedHandler *handler.UnmatchedHandler,
) {
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CorrelationID())

	// API v1 endpoints
	v1 := r.Group("/api/v1")
	{
		// Inbound bank notifications
		webhooks := v1.Group("/webhooks")
		{
			webhooks.POST("/bank-transfer", webhookHandler.HandleBankTransfer)
		}

		// Payment operations on reservations
		reservations := v1.Group("/reservations")
		{
			reservations.POST("/:id/qr", paymentHandler.IssueQR)
			reservations.POST("/:id/verify-payment", paymentHandler.VerifyPayment)
		}

		// Operator triage over the unmatched ledger
		unmatchedGroup := v1.Group("/unmatched-transactions")
		{
			unmatchedGroup.GET("", unmatchedHandler.List)
			unmatchedGroup.GET("/:transaction_id", unmatchedHandler.GetByTransactionID)
			unmatchedGroup.POST("/:transaction_id/resolve", unmatchedHandler.Resolve)
		}

		v1.GET("/reconciliation/stats", paymentHandler.ReconciliationStats)
	}

	// Health check endpoint for monitoring
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
	})
}
