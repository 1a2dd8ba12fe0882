package unmatched

import (
	"context"
)

// Resolution is an operator's terminal decision on an unmatched transaction
type Resolution struct {
	Status           Status // matched, ignored or refunded
	MatchedBookingID string // Required when Status is matched
	ResolvedBy       string
	Notes            string
}

// Repository manages the unmatched-transaction ledger
type Repository interface {
	// Create inserts a new unmatched row. Returns ErrDuplicateTransaction
	// when the transaction ID already exists; callers racing on duplicate
	// webhook deliveries treat that as benign.
	Create(ctx context.Context, tx *Transaction) error

	GetByTransactionID(ctx context.Context, transactionID string) (*Transaction, error)

	ExistsByTransactionID(ctx context.Context, transactionID string) (bool, error)

	// List returns a page of transactions, newest first, optionally filtered
	// by status, along with the total count for that filter.
	List(ctx context.Context, status Status, limit, offset int) ([]*Transaction, int64, error)

	// Resolve applies the resolution only if the row is still unmatched.
	// Returns ErrAlreadyResolved when another operator won the race.
	Resolve(ctx context.Context, transactionID string, res Resolution) (*Transaction, error)
}

// ErrTransactionNotFound indicates a missing unmatched transaction
type ErrTransactionNotFound struct {
	TransactionID string
}

func (e ErrTransactionNotFound) Error() string {
	return "unmatched transaction not found: " + e.TransactionID
}

// Is implements the errors.Is interface for ErrTransactionNotFound
func (e ErrTransactionNotFound) Is(target error) bool {
	t, ok := target.(ErrTransactionNotFound)
	if !ok {
		return false
	}
	if t.TransactionID == "" {
		return true
	}
	return e.TransactionID == t.TransactionID
}

// ErrDuplicateTransaction indicates the transaction ID was already recorded
type ErrDuplicateTransaction struct {
	TransactionID string
}

func (e ErrDuplicateTransaction) Error() string {
	return "duplicate unmatched transaction: " + e.TransactionID
}

// Is implements the errors.Is interface for ErrDuplicateTransaction
func (e ErrDuplicateTransaction) Is(target error) bool {
	t, ok := target.(ErrDuplicateTransaction)
	if !ok {
		return false
	}
	if t.TransactionID == "" {
		return true
	}
	return e.TransactionID == t.TransactionID
}

// ErrAlreadyResolved indicates the row left the unmatched state before this
// resolution was applied.
type ErrAlreadyResolved struct {
	TransactionID string
}

func (e ErrAlreadyResolved) Error() string {
	return "unmatched transaction already resolved: " + e.TransactionID
}

// Is implements the errors.Is interface for ErrAlreadyResolved
func (e ErrAlreadyResolved) Is(target error) bool {
	t, ok := target.(ErrAlreadyResolved)
	if !ok {
		return false
	}
	if t.TransactionID == "" {
		return true
	}
	return e.TransactionID == t.TransactionID
}
