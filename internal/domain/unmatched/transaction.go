// Package unmatched defines the durable ledger of bank transactions the
// matcher could not tie to a reservation, kept for operator triage.
package unmatched

import (
	"time"

	"github.com/homestay-payments/reconciliation/internal/domain/shared"
)

// Status defines the triage states of an unmatched transaction. A row is
// terminal once resolved; there is no un-resolve path.
type Status string

const (
	StatusUnmatched Status = "unmatched"
	StatusMatched   Status = "matched"
	StatusIgnored   Status = "ignored"
	StatusRefunded  Status = "refunded"
)

// BankInfo carries the counterparty bank details reported with the transfer
type BankInfo struct {
	BankName      string `json:"bank_name,omitempty" bson:"bank_name,omitempty"`
	AccountNumber string `json:"account_number,omitempty" bson:"account_number,omitempty"`
	AccountName   string `json:"account_name,omitempty" bson:"account_name,omitempty"`
}

// Transaction is one bank transfer that failed automatic matching
type Transaction struct {
	TransactionID     string                    `json:"transaction_id" bson:"transaction_id"`
	Amount            int64                     `json:"amount" bson:"amount"` // Minor currency units
	Content           string                    `json:"content" bson:"content"`
	BankInfo          BankInfo                  `json:"bank_info" bson:"bank_info"`
	TransactionDate   time.Time                 `json:"transaction_date" bson:"transaction_date"`
	Status            Status                    `json:"status" bson:"status"`
	Reason            string                    `json:"reason" bson:"reason"`
	ValidationDetails *shared.ValidationDetails `json:"validation_details,omitempty" bson:"validation_details,omitempty"`
	RawPayload        []byte                    `json:"-" bson:"raw_payload,omitempty"` // Verbatim gateway payload for audit/replay
	Source            string                    `json:"source" bson:"source"`           // webhook or polling

	// Resolution fields, populated once by an operator
	MatchedBookingID string     `json:"matched_booking_id,omitempty" bson:"matched_booking_id,omitempty"`
	MatchedBy        string     `json:"matched_by,omitempty" bson:"matched_by,omitempty"`
	MatchedAt        *time.Time `json:"matched_at,omitempty" bson:"matched_at,omitempty"`
	MatchNotes       string     `json:"match_notes,omitempty" bson:"match_notes,omitempty"`

	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// NewFromDetail builds an unmatched row from a converted transaction detail
// and the matcher's audit trail.
func NewFromDetail(detail *shared.TransactionDetail, reason string, details *shared.ValidationDetails, source string) *Transaction {
	return &Transaction{
		TransactionID:   detail.ID,
		Amount:          detail.Amount,
		Content:         detail.Content,
		TransactionDate: detail.TransactionDate,
		BankInfo: BankInfo{
			BankName:      detail.BankName,
			AccountNumber: detail.AccountNumber,
		},
		Status:            StatusUnmatched,
		Reason:            reason,
		ValidationDetails: details,
		RawPayload:        detail.Raw,
		Source:            source,
		CreatedAt:         time.Now().UTC(),
	}
}
