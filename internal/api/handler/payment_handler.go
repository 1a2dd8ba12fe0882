package handler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/homestay-payments/reconciliation/internal/domain/reservation"
	"github.com/homestay-payments/reconciliation/internal/platform/gateway"
	"github.com/homestay-payments/reconciliation/internal/reconciliation/manual"
	"github.com/homestay-payments/reconciliation/internal/reconciliation/poller"
	"github.com/homestay-payments/reconciliation/internal/reconciliation/qr"
)

// QRIssuer issues payment QR codes for pending reservations
type QRIssuer interface {
	Issue(ctx context.Context, reservationID string) (*qr.Issuance, error)
}

// ManualVerifier settles a payment on an operator's authority
type ManualVerifier interface {
	VerifyPayment(ctx context.Context, reservationID, transactionID, operatorID, notes string) (*manual.Result, error)
}

// StatsProvider exposes the poller's running counters
type StatsProvider interface {
	Stats() poller.Stats
}

// PaymentHandler serves QR issuance, manual verification and reconciliation
// stats.
type PaymentHandler struct {
	logger   *slog.Logger
	issuer   QRIssuer
	verifier ManualVerifier
	stats    StatsProvider
}

func NewPaymentHandler(logger *slog.Logger, issuer QRIssuer, verifier ManualVerifier, stats StatsProvider) *PaymentHandler {
	return &PaymentHandler{
		logger:   logger,
		issuer:   issuer,
		verifier: verifier,
		stats:    stats,
	}
}

// IssueQR handles POST /api/v1/reservations/:id/qr
func (h *PaymentHandler) IssueQR(c *gin.Context) {
	reservationID := c.Param("id")

	issuance, err := h.issuer.Issue(c.Request.Context(), reservationID)
	if err != nil {
		switch {
		case errors.Is(err, reservation.ErrReservationNotFound{}):
			RespondNotFound(c, "reservation not found")
		case errors.Is(err, reservation.ErrReservationCancelled):
			RespondConflict(c, "reservation is cancelled")
		case errors.Is(err, reservation.ErrAlreadyCompleted):
			RespondConflict(c, "payment is not pending")
		default:
			h.logger.Error("QR issuance failed", "reservation_id", reservationID, "error", err)
			RespondInternalError(c)
		}
		return
	}

	if issuance.Reused {
		RespondOK(c, issuance)
		return
	}
	RespondCreated(c, issuance)
}

// VerifyPayment handles POST /api/v1/reservations/:id/verify-payment
func (h *PaymentHandler) VerifyPayment(c *gin.Context) {
	reservationID := c.Param("id")

	var req VerifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "transaction_id and operator_id are required")
		return
	}

	result, err := h.verifier.VerifyPayment(c.Request.Context(), reservationID, req.TransactionID, req.OperatorID, req.Notes)
	if err != nil {
		switch {
		case errors.Is(err, reservation.ErrReservationNotFound{}):
			RespondNotFound(c, "reservation not found")
		case errors.Is(err, gateway.ErrTransactionNotFound{}):
			RespondNotFound(c, "transaction not found at the banking gateway")
		case errors.Is(err, reservation.ErrReservationCancelled):
			RespondConflict(c, "reservation is cancelled")
		case errors.Is(err, reservation.ErrAlreadyCompleted):
			RespondConflict(c, "payment is not pending")
		default:
			h.logger.Error("Manual verification failed",
				"reservation_id", reservationID,
				"transaction_id", req.TransactionID,
				"error", err)
			RespondInternalError(c)
		}
		return
	}

	RespondOK(c, result)
}

// ReconciliationStats handles GET /api/v1/reconciliation/stats
func (h *PaymentHandler) ReconciliationStats(c *gin.Context) {
	RespondOK(c, ReconciliationStatsResponse{
		GeneratedAt: time.Now().UTC(),
		Poller:      h.stats.Stats(),
	})
}
