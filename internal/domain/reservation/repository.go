package reservation

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

var (
	// ErrAlreadyCompleted indicates the payment was settled by a concurrent
	// entry path. This is the expected outcome of the webhook/poller/manual
	// race, not bad input.
	ErrAlreadyCompleted = errors.New("payment already completed")

	// ErrReservationCancelled indicates the reservation can no longer accept
	// a payment.
	ErrReservationCancelled = errors.New("reservation is cancelled")
)

// Repository manages reservation persistence for the reconciliation engine
type Repository interface {
	// WithTx returns a repository bound to the given transaction so reads
	// and writes participate in one atomic unit.
	WithTx(tx pgx.Tx) Repository

	GetByID(ctx context.Context, id string) (*Reservation, error)

	// LockForUpdate reads the reservation under a row lock. Only meaningful
	// on a repository obtained from WithTx.
	LockForUpdate(ctx context.Context, id string) (*Reservation, error)

	// SaveQRIssuance persists the reference (first issuance only) and the
	// current QR code onto the reservation.
	SaveQRIssuance(ctx context.Context, id string, reference string, qr QRCode) error

	// CompletePayment writes the transaction detail, verification provenance,
	// payment status completed and reservation status confirmed in a single
	// statement.
	CompletePayment(ctx context.Context, r *Reservation) error

	// FindAwaitingPayment returns reservations with a pending payment, an
	// assigned reference, and a QR issued after the given cutoff.
	FindAwaitingPayment(ctx context.Context, qrIssuedAfter time.Time) ([]*Reservation, error)

	// ExistsByTransactionID reports whether any reservation has already been
	// settled by the given bank transaction.
	ExistsByTransactionID(ctx context.Context, transactionID string) (bool, error)
}

// ErrReservationNotFound indicates a missing reservation
type ErrReservationNotFound struct {
	ID string
}

func (e ErrReservationNotFound) Error() string {
	return "reservation not found: " + e.ID
}

// Is implements the errors.Is interface for ErrReservationNotFound
func (e ErrReservationNotFound) Is(target error) bool {
	t, ok := target.(ErrReservationNotFound)
	if !ok {
		return false
	}
	// An empty target ID matches any ErrReservationNotFound
	if t.ID == "" {
		return true
	}
	return e.ID == t.ID
}
