// Package reservation defines the reservation aggregate as seen by the
// payment reconciliation engine: the embedded payment sub-document, its QR
// issuance state, and the transaction/verification provenance recorded when
// a payment completes.
package reservation

import (
	"time"

	"github.com/homestay-payments/reconciliation/internal/domain/shared"
)

// Status defines the reservation lifecycle states
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// PaymentStatus defines payment processing states. Once completed, the
// reconciliation engine applies no further transition.
type PaymentStatus string

const (
	PaymentStatusPending           PaymentStatus = "pending"
	PaymentStatusCompleted         PaymentStatus = "completed"
	PaymentStatusFailed            PaymentStatus = "failed"
	PaymentStatusRefunded          PaymentStatus = "refunded"
	PaymentStatusPartiallyRefunded PaymentStatus = "partially_refunded"
)

// QRCode is one QR issuance event. ExpiresAt strictly exceeds CreatedAt.
// Re-issuance regenerates Data and both timestamps; the stored Reference is
// fixed at first issuance, while each issuance renders a memo reference
// checksummed against its own CreatedAt.
type QRCode struct {
	Data      string    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Transaction is the bank transfer that settled the reservation. Populated
// exactly once, at the moment the payment status becomes completed.
type Transaction struct {
	ID            string `json:"id"`
	BankReference string `json:"bank_reference,omitempty"`
	Amount        int64  `json:"amount"`
	BankName      string `json:"bank_name,omitempty"`
	AccountNumber string `json:"account_number,omitempty"`
}

// Verification records which entry path confirmed the payment and by whom
type Verification struct {
	Method     shared.VerificationMethod `json:"method"`
	VerifiedBy string                    `json:"verified_by,omitempty"`
	VerifiedAt time.Time                 `json:"verified_at"`
	Notes      string                    `json:"notes,omitempty"`
}

// Payment is the payment sub-document embedded in the reservation aggregate
type Payment struct {
	Status             PaymentStatus `json:"status"`
	Reference          string        `json:"reference,omitempty"` // Absent until first QR issuance
	QRCode             *QRCode       `json:"qr_code,omitempty"`
	Transaction        *Transaction  `json:"transaction,omitempty"`
	Verification       *Verification `json:"verification,omitempty"`
	LastReminderSentAt *time.Time    `json:"last_reminder_sent_at,omitempty"` // Owned by the reminder scheduler, read-only here
}

// Reservation is the subset of the reservation aggregate the reconciliation
// engine reads and writes. IDs are 24-character hex strings so they embed
// directly into bank transfer memos.
type Reservation struct {
	ID          string    `json:"id"`
	GuestName   string    `json:"guest_name"`
	HostName    string    `json:"host_name"`
	TotalAmount int64     `json:"total_amount"` // Minor currency units
	Status      Status    `json:"status"`
	Payment     Payment   `json:"payment"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// HasActiveQR reports whether an issued QR code is still within its
// validity window at the given instant.
func (r *Reservation) HasActiveQR(now time.Time) bool {
	return r.Payment.QRCode != nil && r.Payment.QRCode.ExpiresAt.After(now)
}

// AwaitingPayment reports whether this reservation can still be settled by
// the reconciliation engine.
func (r *Reservation) AwaitingPayment() bool {
	return r.Status != StatusCancelled && r.Payment.Status == PaymentStatusPending
}
