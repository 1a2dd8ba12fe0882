// Package matcher decides whether one externally-reported bank transaction
// corresponds to a specific pending reservation. Five ordered stages are
// applied and short-circuit on the first failure; every evaluated stage's
// outcome is retained for operator audit.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/homestay-payments/reconciliation/internal/config"
	"github.com/homestay-payments/reconciliation/internal/domain/reservation"
	"github.com/homestay-payments/reconciliation/internal/domain/shared"
	"github.com/homestay-payments/reconciliation/internal/reconciliation/reference"
)

// Result is the outcome of matching one transaction
type Result struct {
	Matched     bool
	Reservation *reservation.Reservation
	Reason      string
	Details     shared.ValidationDetails
}

// Matcher validates transactions against pending reservations
type Matcher struct {
	reservations reservation.Repository
	tolerance    int64
	clockSkew    time.Duration
	validity     time.Duration
	logger       *slog.Logger
}

func NewMatcher(logger *slog.Logger, reservations reservation.Repository, cfg *config.PaymentConfig) *Matcher {
	return &Matcher{
		reservations: reservations,
		tolerance:    cfg.AmountTolerance,
		clockSkew:    cfg.ClockSkew,
		validity:     cfg.QRValidity,
		logger:       logger,
	}
}

// Match runs the five validation stages against the transaction. A failed
// match is a normal Result, not an error; errors are reserved for storage
// failures.
func (m *Matcher) Match(ctx context.Context, detail *shared.TransactionDetail) (*Result, error) {
	result := &Result{}

	// Stage 1: reference extraction from the free-text memo
	decoded := reference.Decode(detail.Content)
	if decoded == nil {
		result.Details.ReferenceFound = shared.StageResult{Valid: false, Message: "no payment reference found in transaction content"}
		result.Reason = "no reference found"
		return result, nil
	}
	result.Details.ReferenceFound = shared.StageResult{Valid: true, Message: "reference " + reference.Prefix + decoded.ReservationID + decoded.Checksum}

	// Stage 2: reservation lookup and state gate
	res, err := m.reservations.GetByID(ctx, decoded.ReservationID)
	if err != nil {
		if errors.Is(err, reservation.ErrReservationNotFound{}) {
			result.Details.ReservationValid = shared.StageResult{Valid: false, Message: "reservation " + decoded.ReservationID + " does not exist"}
			result.Reason = "reservation not found"
			return result, nil
		}
		return nil, fmt.Errorf("matcher: lookup reservation %s: %w", decoded.ReservationID, err)
	}
	if res.Payment.Status != reservation.PaymentStatusPending {
		// Expected outcome of the webhook/poller/manual race, not an error
		result.Details.ReservationValid = shared.StageResult{Valid: false, Message: fmt.Sprintf("payment status is %s, not pending", res.Payment.Status)}
		result.Reason = "payment not pending"
		return result, nil
	}
	if res.Payment.QRCode == nil {
		result.Details.ReservationValid = shared.StageResult{Valid: false, Message: "reservation has no QR issuance"}
		result.Reason = "no QR issued"
		return result, nil
	}
	result.Details.ReservationValid = shared.StageResult{Valid: true}

	// Stage 3: checksum validation against the stored amount and stored
	// issuance timestamp
	issuedAtMillis := res.Payment.QRCode.CreatedAt.UnixMilli()
	if !reference.Verify(decoded, res.ID, res.TotalAmount, issuedAtMillis) {
		result.Details.ChecksumValid = shared.StageResult{Valid: false, Message: "checksum does not match the most recent QR issuance"}
		result.Reason = "checksum mismatch"
		return result, nil
	}
	result.Details.ChecksumValid = shared.StageResult{Valid: true}

	// Stage 4: amount tolerance
	if ok, msg := m.checkAmount(res.TotalAmount, detail.Amount); !ok {
		result.Details.AmountValid = shared.StageResult{Valid: false, Message: msg}
		result.Reason = msg
		return result, nil
	}
	result.Details.AmountValid = shared.StageResult{Valid: true}

	// Stage 5: timestamp window
	if ok, msg := m.checkTimestamp(res.Payment.QRCode.CreatedAt, detail.TransactionDate); !ok {
		result.Details.TimestampValid = shared.StageResult{Valid: false, Message: msg}
		result.Reason = msg
		return result, nil
	}
	result.Details.TimestampValid = shared.StageResult{Valid: true}

	m.logger.Info("Transaction matched",
		"transaction_id", detail.ID,
		"reservation_id", res.ID,
		"amount", detail.Amount,
	)

	result.Matched = true
	result.Reservation = res
	return result, nil
}

// checkAmount validates the transaction amount against the reservation total
// within the configured tolerance. Shortfall and excess are both failures
// but carry distinct messages; overpayment beyond tolerance is deliberately
// rejected on the automated paths and left to manual review.
func (m *Matcher) checkAmount(expected, received int64) (bool, string) {
	diff := received - expected
	switch {
	case diff < -m.tolerance:
		return false, fmt.Sprintf("insufficient amount: received %d, expected %d (tolerance %d)", received, expected, m.tolerance)
	case diff > m.tolerance:
		return false, fmt.Sprintf("amount exceeds expected: received %d, expected %d (tolerance %d)", received, expected, m.tolerance)
	default:
		return true, ""
	}
}

// checkTimestamp validates that the transaction falls inside the QR's
// validity window, allowing bounded clock skew before issuance.
func (m *Matcher) checkTimestamp(issuedAt, transactionAt time.Time) (bool, string) {
	earliest := issuedAt.Add(-m.clockSkew)
	latest := issuedAt.Add(m.validity)
	switch {
	case transactionAt.Before(earliest):
		return false, fmt.Sprintf("transaction timestamped too early: %s precedes QR issuance %s by more than %s",
			transactionAt.UTC().Format(time.RFC3339), issuedAt.UTC().Format(time.RFC3339), m.clockSkew)
	case transactionAt.After(latest):
		return false, fmt.Sprintf("QR expired: transaction at %s is outside the %s validity window from %s",
			transactionAt.UTC().Format(time.RFC3339), m.validity, issuedAt.UTC().Format(time.RFC3339))
	default:
		return true, ""
	}
}
