package handler

import (
	"errors"
	"log/slog"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/homestay-payments/reconciliation/internal/domain/unmatched"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

// UnmatchedHandler serves the operator triage surface over the
// unmatched-transaction ledger.
type UnmatchedHandler struct {
	logger *slog.Logger
	repo   unmatched.Repository
}

func NewUnmatchedHandler(logger *slog.Logger, repo unmatched.Repository) *UnmatchedHandler {
	return &UnmatchedHandler{
		logger: logger,
		repo:   repo,
	}
}

// List handles GET /api/v1/unmatched-transactions
func (h *UnmatchedHandler) List(c *gin.Context) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	perPage, err := strconv.Atoi(c.DefaultQuery("per_page", strconv.Itoa(defaultPerPage)))
	if err != nil || perPage < 1 || perPage > maxPerPage {
		perPage = defaultPerPage
	}

	status := unmatched.Status(c.Query("status"))
	switch status {
	case "", unmatched.StatusUnmatched, unmatched.StatusMatched, unmatched.StatusIgnored, unmatched.StatusRefunded:
	default:
		RespondBadRequest(c, "unknown status filter")
		return
	}

	transactions, total, err := h.repo.List(c.Request.Context(), status, perPage, (page-1)*perPage)
	if err != nil {
		h.logger.Error("Failed to list unmatched transactions", "error", err)
		RespondInternalError(c)
		return
	}

	RespondWithPaginatedData(c, 200, transactions, page, perPage, int(total))
}

// GetByTransactionID handles GET /api/v1/unmatched-transactions/:transaction_id
func (h *UnmatchedHandler) GetByTransactionID(c *gin.Context) {
	transactionID := c.Param("transaction_id")

	tx, err := h.repo.GetByTransactionID(c.Request.Context(), transactionID)
	if err != nil {
		if errors.Is(err, unmatched.ErrTransactionNotFound{}) {
			RespondNotFound(c, "unmatched transaction not found")
			return
		}
		h.logger.Error("Failed to get unmatched transaction", "transaction_id", transactionID, "error", err)
		RespondInternalError(c)
		return
	}

	RespondOK(c, tx)
}

// Resolve handles POST /api/v1/unmatched-transactions/:transaction_id/resolve.
// Resolution is terminal; a second resolution attempt gets a 409.
func (h *UnmatchedHandler) Resolve(c *gin.Context) {
	transactionID := c.Param("transaction_id")

	var req ResolveUnmatchedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "status and resolved_by are required")
		return
	}

	status := unmatched.Status(req.Status)
	switch status {
	case unmatched.StatusMatched:
		if req.MatchedBookingID == "" {
			RespondBadRequest(c, "matched_booking_id is required when status is matched")
			return
		}
	case unmatched.StatusIgnored, unmatched.StatusRefunded:
	default:
		RespondBadRequest(c, "status must be matched, ignored or refunded")
		return
	}

	tx, err := h.repo.Resolve(c.Request.Context(), transactionID, unmatched.Resolution{
		Status:           status,
		MatchedBookingID: req.MatchedBookingID,
		ResolvedBy:       req.ResolvedBy,
		Notes:            req.Notes,
	})
	if err != nil {
		switch {
		case errors.Is(err, unmatched.ErrTransactionNotFound{}):
			RespondNotFound(c, "unmatched transaction not found")
		case errors.Is(err, unmatched.ErrAlreadyResolved{}):
			RespondConflict(c, "transaction is already resolved")
		default:
			h.logger.Error("Failed to resolve unmatched transaction", "transaction_id", transactionID, "error", err)
			RespondInternalError(c)
		}
		return
	}

	h.logger.Info("Unmatched transaction resolved",
		"transaction_id", transactionID,
		"status", string(status),
		"resolved_by", req.ResolvedBy)

	RespondOK(c, tx)
}
