// Package orchestrator owns the settlement critical section: one matched
// transaction completes at most one pending reservation, regardless of how
// many entry paths race to report it. The guarantee rests on a row lock plus
// a conditional status transition inside a single database transaction.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/homestay-payments/reconciliation/internal/domain/reservation"
	"github.com/homestay-payments/reconciliation/internal/domain/shared"
)

// TxRunner runs a function inside one database transaction
type TxRunner interface {
	ExecuteTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// Notifier receives completed payments after commit. Implementations must not
// block settlement; delivery is best effort.
type Notifier interface {
	PaymentCompleted(res *reservation.Reservation)
}

// Request carries one settlement attempt into the critical section
type Request struct {
	ReservationID string
	Detail        *shared.TransactionDetail
	Method        shared.VerificationMethod
	VerifiedBy    string // Required for manual verification
	Notes         string
}

// Result reports the outcome of a settlement attempt. AlreadyProcessed means
// a concurrent path settled the same reservation first; callers treat it as
// success.
type Result struct {
	Reservation      *reservation.Reservation
	AlreadyProcessed bool
}

// errAlreadyProcessed aborts the transaction when the lock reveals a
// completed payment. Internal; translated to Result.AlreadyProcessed.
var errAlreadyProcessed = errors.New("payment already processed")

// Orchestrator applies matched transactions to reservations exactly once
type Orchestrator struct {
	db           TxRunner
	reservations reservation.Repository
	notifier     Notifier
	logger       *slog.Logger
	now          func() time.Time
}

func NewOrchestrator(logger *slog.Logger, db TxRunner, reservations reservation.Repository, notifier Notifier) *Orchestrator {
	return &Orchestrator{
		db:           db,
		reservations: reservations,
		notifier:     notifier,
		logger:       logger,
		now:          time.Now,
	}
}

// CompletePayment settles the reservation with the given transaction. The
// reservation row is locked, re-checked under the lock, and transitioned with
// a statement conditional on the payment still being pending; losing either
// check yields AlreadyProcessed rather than an error. Notification happens
// after commit and never affects the outcome.
func (o *Orchestrator) CompletePayment(ctx context.Context, req Request) (*Result, error) {
	if req.Detail == nil || req.Detail.ID == "" {
		return nil, errors.New("settlement requires a transaction detail with an id")
	}
	if req.Method == shared.VerificationMethodManual && req.VerifiedBy == "" {
		return nil, errors.New("manual verification requires an operator id")
	}

	// Cheap pre-checks outside the transaction. The authoritative check
	// happens again under the row lock.
	res, err := o.reservations.GetByID(ctx, req.ReservationID)
	if err != nil {
		return nil, err
	}
	if res.Status == reservation.StatusCancelled {
		return nil, reservation.ErrReservationCancelled
	}
	if res.Payment.Status == reservation.PaymentStatusCompleted {
		return &Result{Reservation: res, AlreadyProcessed: true}, nil
	}

	var settled *reservation.Reservation
	var settledByOther *reservation.Reservation
	err = o.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		repoTx := o.reservations.WithTx(tx)

		locked, err := repoTx.LockForUpdate(ctx, req.ReservationID)
		if err != nil {
			return err
		}
		if locked.Status == reservation.StatusCancelled {
			return reservation.ErrReservationCancelled
		}
		if locked.Payment.Status == reservation.PaymentStatusCompleted {
			// Keep the locked copy: it carries the winner's settled state,
			// which the pre-check read above does not.
			settledByOther = locked
			return errAlreadyProcessed
		}
		if locked.Payment.Status != reservation.PaymentStatusPending {
			return reservation.ErrAlreadyCompleted
		}

		locked.Payment.Transaction = &reservation.Transaction{
			ID:            req.Detail.ID,
			BankReference: req.Detail.ID,
			Amount:        req.Detail.Amount,
			BankName:      req.Detail.BankName,
			AccountNumber: req.Detail.AccountNumber,
		}
		locked.Payment.Verification = &reservation.Verification{
			Method:     req.Method,
			VerifiedBy: req.VerifiedBy,
			VerifiedAt: o.now().UTC(),
			Notes:      req.Notes,
		}

		if err := repoTx.CompletePayment(ctx, locked); err != nil {
			return err
		}

		locked.Payment.Status = reservation.PaymentStatusCompleted
		locked.Status = reservation.StatusConfirmed
		settled = locked
		return nil
	})
	if err != nil {
		if errors.Is(err, errAlreadyProcessed) || errors.Is(err, reservation.ErrAlreadyCompleted) {
			o.logger.Info("Payment already processed by a concurrent path",
				"reservation_id", req.ReservationID,
				"transaction_id", req.Detail.ID,
				"method", string(req.Method))
			current := settledByOther
			if current == nil {
				// The conditional update lost without the lock revealing a
				// completed payment; re-read for the settled state.
				if reread, readErr := o.reservations.GetByID(ctx, req.ReservationID); readErr == nil {
					current = reread
				} else {
					current = res
				}
			}
			return &Result{Reservation: current, AlreadyProcessed: true}, nil
		}
		return nil, fmt.Errorf("complete payment for reservation %s: %w", req.ReservationID, err)
	}

	o.logger.Info("Payment completed",
		"reservation_id", settled.ID,
		"transaction_id", req.Detail.ID,
		"amount", req.Detail.Amount,
		"method", string(req.Method))

	if o.notifier != nil {
		o.notifier.PaymentCompleted(settled)
	}

	return &Result{Reservation: settled}, nil
}
