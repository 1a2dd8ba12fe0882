// Package manual implements operator-driven payment verification. An
// operator who has sighted a transfer ties its gateway transaction to a
// reservation directly, bypassing reference and timestamp validation; the
// amount is still checked, but only advisorily, so an operator can accept a
// deviation the automated paths would refuse.
package manual

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/homestay-payments/reconciliation/internal/config"
	"github.com/homestay-payments/reconciliation/internal/domain/reservation"
	"github.com/homestay-payments/reconciliation/internal/domain/shared"
	"github.com/homestay-payments/reconciliation/internal/reconciliation/orchestrator"
)

// GatewayClient fetches one transaction's detail from the banking gateway
type GatewayClient interface {
	GetTransaction(ctx context.Context, transactionID string) (*shared.TransactionDetail, error)
}

// PaymentCompleter runs the settlement critical section
type PaymentCompleter interface {
	CompletePayment(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error)
}

// AmountValidation is the advisory amount check returned with every manual
// verification. IsValid false does not block the verification.
type AmountValidation struct {
	IsValid    bool   `json:"is_valid"`
	Expected   int64  `json:"expected"`
	Received   int64  `json:"received"`
	Difference int64  `json:"difference"`
	Message    string `json:"message,omitempty"`
}

// Result is the outcome of a manual verification
type Result struct {
	Reservation      *reservation.Reservation `json:"reservation"`
	AlreadyProcessed bool                     `json:"already_processed"`
	AmountValidation AmountValidation         `json:"amount_validation"`
}

// Service verifies payments on behalf of operators
type Service struct {
	reservations reservation.Repository
	gateway      GatewayClient
	completer    PaymentCompleter
	tolerance    int64
	logger       *slog.Logger
}

func NewService(logger *slog.Logger, reservations reservation.Repository, gateway GatewayClient, completer PaymentCompleter, cfg *config.PaymentConfig) *Service {
	return &Service{
		reservations: reservations,
		gateway:      gateway,
		completer:    completer,
		tolerance:    cfg.AmountTolerance,
		logger:       logger,
	}
}

// VerifyPayment settles the reservation with the named gateway transaction on
// the operator's authority. The transaction must exist at the gateway; the
// reservation must still be awaiting payment.
func (s *Service) VerifyPayment(ctx context.Context, reservationID, transactionID, operatorID, notes string) (*Result, error) {
	if operatorID == "" {
		return nil, errors.New("manual verification requires an operator id")
	}
	if transactionID == "" {
		return nil, errors.New("manual verification requires a transaction id")
	}

	res, err := s.reservations.GetByID(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if res.Status == reservation.StatusCancelled {
		return nil, reservation.ErrReservationCancelled
	}
	if res.Payment.Status != reservation.PaymentStatusPending {
		return nil, reservation.ErrAlreadyCompleted
	}

	detail, err := s.gateway.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("verify payment for reservation %s: %w", reservationID, err)
	}

	validation := s.validateAmount(res.TotalAmount, detail.Amount)
	if !validation.IsValid {
		s.logger.Warn("Manual verification accepted with amount deviation",
			"reservation_id", reservationID,
			"transaction_id", transactionID,
			"operator", operatorID,
			"expected", validation.Expected,
			"received", validation.Received)
	}

	outcome, err := s.completer.CompletePayment(ctx, orchestrator.Request{
		ReservationID: reservationID,
		Detail:        detail,
		Method:        shared.VerificationMethodManual,
		VerifiedBy:    operatorID,
		Notes:         notes,
	})
	if err != nil {
		return nil, err
	}

	return &Result{
		Reservation:      outcome.Reservation,
		AlreadyProcessed: outcome.AlreadyProcessed,
		AmountValidation: validation,
	}, nil
}

// validateAmount compares received to expected under the automated tolerance.
// The outcome is reported to the operator, never enforced.
func (s *Service) validateAmount(expected, received int64) AmountValidation {
	diff := received - expected
	v := AmountValidation{
		Expected:   expected,
		Received:   received,
		Difference: diff,
	}
	switch {
	case diff < -s.tolerance:
		v.Message = fmt.Sprintf("received amount is %d below the reservation total", -diff)
	case diff > s.tolerance:
		v.Message = fmt.Sprintf("received amount is %d above the reservation total", diff)
	default:
		v.IsValid = true
	}
	return v
}
