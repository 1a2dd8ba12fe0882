package handler

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/homestay-payments/reconciliation/internal/domain/reservation"
	"github.com/homestay-payments/reconciliation/internal/domain/shared"
	"github.com/homestay-payments/reconciliation/internal/domain/unmatched"
	"github.com/homestay-payments/reconciliation/internal/reconciliation/matcher"
	"github.com/homestay-payments/reconciliation/internal/reconciliation/orchestrator"
)

// SignatureHeader carries the HMAC-SHA256 of the raw request body, hex encoded
const SignatureHeader = "X-Signature"

// TransactionMatcher validates one transaction against pending reservations
type TransactionMatcher interface {
	Match(ctx context.Context, detail *shared.TransactionDetail) (*matcher.Result, error)
}

// PaymentCompleter runs the settlement critical section
type PaymentCompleter interface {
	CompletePayment(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error)
}

// WebhookHandler receives bank transfer notifications
type WebhookHandler struct {
	logger       *slog.Logger
	secret       string
	matcher      TransactionMatcher
	completer    PaymentCompleter
	reservations reservation.Repository
	unmatched    unmatched.Repository
}

func NewWebhookHandler(
	logger *slog.Logger,
	secret string,
	txMatcher TransactionMatcher,
	completer PaymentCompleter,
	reservations reservation.Repository,
	unmatchedRepo unmatched.Repository,
) *WebhookHandler {
	return &WebhookHandler{
		logger:       logger,
		secret:       secret,
		matcher:      txMatcher,
		completer:    completer,
		reservations: reservations,
		unmatched:    unmatchedRepo,
	}
}

// HandleBankTransfer processes POST /api/v1/webhooks/bank-transfer.
// Authenticated, well-formed deliveries always get a 200 so the bank does not
// retry; whether the transaction matched is reported in the body. Duplicate
// deliveries are acknowledged without reprocessing.
func (h *WebhookHandler) HandleBankTransfer(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		RespondBadRequest(c, "unable to read request body")
		return
	}

	if !h.verifySignature(c, body) {
		return
	}

	var payload WebhookPayload
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&payload); err != nil {
		RespondBadRequest(c, "invalid JSON payload")
		return
	}
	if fieldErrs := payload.Validate(); len(fieldErrs) > 0 {
		RespondBadRequest(c, joinFieldErrors(fieldErrs))
		return
	}

	detail, err := payload.ToDetail(body)
	if err != nil {
		RespondBadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()

	duplicate, err := h.alreadyProcessed(ctx, detail.ID)
	if err != nil {
		h.logger.Error("Webhook dedup check failed", "transaction_id", detail.ID, "error", err)
		RespondInternalError(c)
		return
	}
	if duplicate {
		RespondOK(c, WebhookResult{
			Success:       true,
			Message:       "transaction already processed",
			TransactionID: detail.ID,
		})
		return
	}

	result, err := h.matcher.Match(ctx, detail)
	if err != nil {
		h.logger.Error("Webhook match failed", "transaction_id", detail.ID, "error", err)
		RespondInternalError(c)
		return
	}

	if result.Matched {
		h.settle(c, detail, result)
		return
	}

	h.recordUnmatched(c, detail, result)
}

// verifySignature authenticates the delivery. A missing shared secret fails
// closed with a 500; a bad signature gets a 401. Signatures are 64 hex chars
// and compared in constant time.
func (h *WebhookHandler) verifySignature(c *gin.Context, body []byte) bool {
	if h.secret == "" {
		h.logger.Error("Webhook secret is not configured, rejecting delivery")
		RespondInternalError(c)
		return false
	}

	signature := c.GetHeader(SignatureHeader)
	if len(signature) != 64 {
		RespondUnauthorized(c, "missing or malformed signature")
		return false
	}
	provided, err := hex.DecodeString(signature)
	if err != nil {
		RespondUnauthorized(c, "missing or malformed signature")
		return false
	}

	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(body)
	if !hmac.Equal(provided, mac.Sum(nil)) {
		h.logger.Warn("Webhook signature mismatch", "client_ip", c.ClientIP())
		RespondUnauthorized(c, "invalid signature")
		return false
	}

	return true
}

// alreadyProcessed checks both stores concurrently: a transaction is a
// duplicate if it settled a reservation or already sits in the unmatched
// ledger.
func (h *WebhookHandler) alreadyProcessed(ctx context.Context, transactionID string) (bool, error) {
	var settledExists, unmatchedExists bool

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		exists, err := h.reservations.ExistsByTransactionID(gctx, transactionID)
		settledExists = exists
		return err
	})
	g.Go(func() error {
		exists, err := h.unmatched.ExistsByTransactionID(gctx, transactionID)
		unmatchedExists = exists
		return err
	})
	if err := g.Wait(); err != nil {
		return false, err
	}

	return settledExists || unmatchedExists, nil
}

func (h *WebhookHandler) settle(c *gin.Context, detail *shared.TransactionDetail, result *matcher.Result) {
	outcome, err := h.completer.CompletePayment(c.Request.Context(), orchestrator.Request{
		ReservationID: result.Reservation.ID,
		Detail:        detail,
		Method:        shared.VerificationMethodWebhook,
	})
	if err != nil {
		h.logger.Error("Webhook settlement failed",
			"transaction_id", detail.ID,
			"reservation_id", result.Reservation.ID,
			"error", err)
		RespondInternalError(c)
		return
	}

	message := "payment completed"
	if outcome.AlreadyProcessed {
		message = "payment already completed"
	}
	RespondOK(c, WebhookResult{
		Success:       true,
		Message:       message,
		ReservationID: result.Reservation.ID,
		TransactionID: detail.ID,
	})
}

func (h *WebhookHandler) recordUnmatched(c *gin.Context, detail *shared.TransactionDetail, result *matcher.Result) {
	row := unmatched.NewFromDetail(detail, result.Reason, &result.Details, "webhook")
	if err := h.unmatched.Create(c.Request.Context(), row); err != nil && !errors.Is(err, unmatched.ErrDuplicateTransaction{}) {
		h.logger.Error("Failed to record unmatched transaction",
			"transaction_id", detail.ID,
			"error", err)
		RespondInternalError(c)
		return
	}

	RespondOK(c, WebhookResult{
		Success:       false,
		Message:       "transaction recorded for manual review: " + result.Reason,
		TransactionID: detail.ID,
	})
}
