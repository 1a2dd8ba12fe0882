// Package shared holds the types exchanged between the three payment entry
// paths (webhook, poller, manual) and the matching/orchestration core.
package shared

import (
	"fmt"
	"time"
)

// TransactionDetail is the one internal shape every externally-reported bank
// transaction is converted into at the ingress boundary. The gateway and the
// webhook name their fields inconsistently; nothing past the boundary should
// care.
type TransactionDetail struct {
	ID              string    `json:"id"`
	Amount          int64     `json:"amount"` // Minor currency units
	Content         string    `json:"content"`
	TransactionDate time.Time `json:"transaction_date"`
	BankName        string    `json:"bank_name,omitempty"`
	AccountNumber   string    `json:"account_number,omitempty"`
	Raw             []byte    `json:"-"` // Verbatim source payload, webhook path only
}

// transactionDateLayouts lists the accepted wire formats for transaction
// timestamps, most specific first.
var transactionDateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// ParseTransactionDate parses a gateway or webhook timestamp string.
// Timestamps without an explicit zone are interpreted as UTC.
func ParseTransactionDate(value string) (time.Time, error) {
	for _, layout := range transactionDateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable transaction date %q", value)
}
