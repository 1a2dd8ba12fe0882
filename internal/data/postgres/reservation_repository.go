// Package postgres provides the PostgreSQL implementation of the reservation
// repository. The payment sub-document is flattened onto the reservations
// row; the conditional completed-transition keeps the webhook, poller and
// manual paths from double-settling a reservation.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/homestay-payments/reconciliation/internal/domain/reservation"
	"github.com/homestay-payments/reconciliation/internal/domain/shared"
	"github.com/homestay-payments/reconciliation/internal/platform/persistence"
	"github.com/jackc/pgx/v5"
)

const reservationColumns = `
		id, guest_name, host_name, total_amount, status,
		payment_status, payment_reference,
		qr_data, qr_created_at, qr_expires_at,
		transaction_id, transaction_bank_reference, transaction_amount,
		transaction_bank_name, transaction_account_number,
		verification_method, verified_by, verified_at, verification_notes,
		last_reminder_sent_at, created_at, updated_at`

// ReservationRepository implements the reservation.Repository interface for PostgreSQL
type ReservationRepository struct {
	querier persistence.Querier // Can be *pgxpool.Pool or pgx.Tx
	logger  *slog.Logger
}

// NewReservationRepository creates a new PostgreSQL reservation repository.
// It expects db.Pool() to satisfy persistence.Querier.
func NewReservationRepository(logger *slog.Logger, db *persistence.PostgresDB) reservation.Repository {
	return &ReservationRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// NewReservationRepositoryWithQuerier builds a repository over an arbitrary
// querier. Used by tests.
func NewReservationRepositoryWithQuerier(logger *slog.Logger, querier persistence.Querier) reservation.Repository {
	return &ReservationRepository{
		querier: querier,
		logger:  logger,
	}
}

// WithTx wraps the repository with a transaction so subsequent calls
// participate in one atomic unit.
func (r *ReservationRepository) WithTx(tx pgx.Tx) reservation.Repository {
	return &ReservationRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// GetByID retrieves a reservation by its ID
func (r *ReservationRepository) GetByID(ctx context.Context, id string) (*reservation.Reservation, error) {
	query := `SELECT` + reservationColumns + `
		FROM reservations
		WHERE id = $1`

	res, err := r.scanOne(r.querier.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, reservation.ErrReservationNotFound{ID: id}
		}
		r.logger.Error("Failed to get reservation", "id", id, "error", err)
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}

	return res, nil
}

// LockForUpdate reads the reservation under a row lock. Only meaningful on a
// repository obtained from WithTx.
func (r *ReservationRepository) LockForUpdate(ctx context.Context, id string) (*reservation.Reservation, error) {
	query := `SELECT` + reservationColumns + `
		FROM reservations
		WHERE id = $1
		FOR UPDATE`

	res, err := r.scanOne(r.querier.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, reservation.ErrReservationNotFound{ID: id}
		}
		r.logger.Error("Failed to lock reservation", "id", id, "error", err)
		return nil, fmt.Errorf("failed to lock reservation: %w", err)
	}

	return res, nil
}

// SaveQRIssuance persists the QR code and, on first issuance only, the
// payment reference. COALESCE keeps an already-assigned reference so a
// late-arriving transfer against the original reference still matches.
func (r *ReservationRepository) SaveQRIssuance(ctx context.Context, id string, reference string, qr reservation.QRCode) error {
	query := `
		UPDATE reservations
		SET payment_reference = COALESCE(payment_reference, $2),
		    qr_data = $3,
		    qr_created_at = $4,
		    qr_expires_at = $5,
		    updated_at = now()
		WHERE id = $1
	`

	tag, err := r.querier.Exec(ctx, query, id, reference, qr.Data, qr.CreatedAt, qr.ExpiresAt)
	if err != nil {
		r.logger.Error("Failed to save QR issuance", "id", id, "error", err)
		return fmt.Errorf("failed to save QR issuance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return reservation.ErrReservationNotFound{ID: id}
	}

	return nil
}

// CompletePayment writes the transaction detail, verification provenance and
// both status transitions in one statement, guarded on the payment still
// being pending. Zero rows affected means a concurrent path settled first.
func (r *ReservationRepository) CompletePayment(ctx context.Context, res *reservation.Reservation) error {
	if res.Payment.Transaction == nil || res.Payment.Verification == nil {
		return errors.New("completion requires transaction and verification detail")
	}

	query := `
		UPDATE reservations
		SET payment_status = $2,
		    status = $3,
		    transaction_id = $4,
		    transaction_bank_reference = $5,
		    transaction_amount = $6,
		    transaction_bank_name = $7,
		    transaction_account_number = $8,
		    verification_method = $9,
		    verified_by = $10,
		    verified_at = $11,
		    verification_notes = $12,
		    updated_at = now()
		WHERE id = $1 AND payment_status = 'pending'
	`

	tx := res.Payment.Transaction
	v := res.Payment.Verification
	tag, err := r.querier.Exec(ctx, query,
		res.ID,
		reservation.PaymentStatusCompleted,
		reservation.StatusConfirmed,
		tx.ID,
		tx.BankReference,
		tx.Amount,
		tx.BankName,
		tx.AccountNumber,
		v.Method,
		v.VerifiedBy,
		v.VerifiedAt,
		v.Notes,
	)
	if err != nil {
		r.logger.Error("Failed to complete payment", "id", res.ID, "transaction_id", tx.ID, "error", err)
		return fmt.Errorf("failed to complete payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return reservation.ErrAlreadyCompleted
	}

	return nil
}

// FindAwaitingPayment returns pending, uncancelled reservations whose QR was
// issued after the cutoff. Reservations with a definitely-expired QR are not
// worth matching against.
func (r *ReservationRepository) FindAwaitingPayment(ctx context.Context, qrIssuedAfter time.Time) ([]*reservation.Reservation, error) {
	query := `SELECT` + reservationColumns + `
		FROM reservations
		WHERE payment_status = 'pending'
		  AND status <> 'cancelled'
		  AND payment_reference IS NOT NULL
		  AND qr_created_at > $1
		ORDER BY qr_created_at DESC`

	rows, err := r.querier.Query(ctx, query, qrIssuedAfter)
	if err != nil {
		r.logger.Error("Failed to find reservations awaiting payment", "error", err)
		return nil, fmt.Errorf("failed to find reservations awaiting payment: %w", err)
	}
	defer rows.Close()

	var reservations []*reservation.Reservation
	for rows.Next() {
		res, err := r.scanOne(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		reservations = append(reservations, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reservations: %w", err)
	}

	return reservations, nil
}

// ExistsByTransactionID reports whether any reservation was settled by the
// given bank transaction.
func (r *ReservationRepository) ExistsByTransactionID(ctx context.Context, transactionID string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM reservations WHERE transaction_id = $1)`

	var exists bool
	if err := r.querier.QueryRow(ctx, query, transactionID).Scan(&exists); err != nil {
		r.logger.Error("Failed to check reservation by transaction id", "transaction_id", transactionID, "error", err)
		return false, fmt.Errorf("failed to check reservation by transaction id: %w", err)
	}

	return exists, nil
}

// scanOne maps one row onto the aggregate, reassembling the nullable QR,
// transaction and verification sub-documents.
func (r *ReservationRepository) scanOne(row pgx.Row) (*reservation.Reservation, error) {
	var (
		res                reservation.Reservation
		paymentReference   *string
		qrData             *string
		qrCreatedAt        *time.Time
		qrExpiresAt        *time.Time
		txID               *string
		txBankReference    *string
		txAmount           *int64
		txBankName         *string
		txAccountNumber    *string
		verificationMethod *string
		verifiedBy         *string
		verifiedAt         *time.Time
		verificationNotes  *string
	)

	err := row.Scan(
		&res.ID,
		&res.GuestName,
		&res.HostName,
		&res.TotalAmount,
		&res.Status,
		&res.Payment.Status,
		&paymentReference,
		&qrData,
		&qrCreatedAt,
		&qrExpiresAt,
		&txID,
		&txBankReference,
		&txAmount,
		&txBankName,
		&txAccountNumber,
		&verificationMethod,
		&verifiedBy,
		&verifiedAt,
		&verificationNotes,
		&res.Payment.LastReminderSentAt,
		&res.CreatedAt,
		&res.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if paymentReference != nil {
		res.Payment.Reference = *paymentReference
	}
	if qrData != nil && qrCreatedAt != nil && qrExpiresAt != nil {
		res.Payment.QRCode = &reservation.QRCode{
			Data:      *qrData,
			CreatedAt: *qrCreatedAt,
			ExpiresAt: *qrExpiresAt,
		}
	}
	if txID != nil {
		res.Payment.Transaction = &reservation.Transaction{
			ID: *txID,
		}
		if txBankReference != nil {
			res.Payment.Transaction.BankReference = *txBankReference
		}
		if txAmount != nil {
			res.Payment.Transaction.Amount = *txAmount
		}
		if txBankName != nil {
			res.Payment.Transaction.BankName = *txBankName
		}
		if txAccountNumber != nil {
			res.Payment.Transaction.AccountNumber = *txAccountNumber
		}
	}
	if verificationMethod != nil && verifiedAt != nil {
		res.Payment.Verification = &reservation.Verification{
			Method:     shared.VerificationMethod(*verificationMethod),
			VerifiedAt: *verifiedAt,
		}
		if verifiedBy != nil {
			res.Payment.Verification.VerifiedBy = *verifiedBy
		}
		if verificationNotes != nil {
			res.Payment.Verification.Notes = *verificationNotes
		}
	}

	return &res, nil
}
