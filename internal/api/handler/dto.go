package handler

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/homestay-payments/reconciliation/internal/domain/shared"
)

// FieldError describes one invalid field in a request payload
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return e.Field + ": " + e.Message
}

// joinFieldErrors renders a field-error list as one message string
func joinFieldErrors(errs []FieldError) string {
	parts := make([]string, len(errs))
	for i, e := range errs {
		parts[i] = e.Error()
	}
	return strings.Join(parts, "; ")
}

// payloadField holds one webhook body field as raw JSON. Decoding never fails
// on a wrong type; Validate reports the mismatch alongside the other field
// violations instead of turning the whole body into a blanket parse error.
type payloadField struct {
	raw json.RawMessage
}

func (f *payloadField) UnmarshalJSON(data []byte) error {
	f.raw = append(json.RawMessage(nil), data...)
	return nil
}

func (f payloadField) absent() bool {
	return len(f.raw) == 0 || string(f.raw) == "null"
}

// text reads a field that arrives as either a JSON string or a JSON number;
// bank senders disagree on how transaction ids are encoded.
func (f payloadField) text() (string, error) {
	if f.absent() {
		return "", nil
	}
	if f.raw[0] == '"' {
		var s string
		if err := json.Unmarshal(f.raw, &s); err != nil {
			return "", fmt.Errorf("must be a string or number")
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(f.raw, &n); err != nil {
		return "", fmt.Errorf("must be a string or number")
	}
	return n.String(), nil
}

// str reads a string-only field
func (f payloadField) str() (string, error) {
	if f.absent() {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(f.raw, &s); err != nil {
		return "", fmt.Errorf("must be a string")
	}
	return s, nil
}

// number reads an amount field, accepting a JSON number or a numeric string
func (f payloadField) number() (json.Number, error) {
	if f.absent() {
		return "", nil
	}
	var n json.Number
	if err := json.Unmarshal(f.raw, &n); err != nil {
		return "", fmt.Errorf("must be numeric")
	}
	return n, nil
}

// WebhookPayload is the bank's transfer notification body
type WebhookPayload struct {
	ID                 payloadField `json:"id"`
	AmountIn           payloadField `json:"amount_in"`
	TransactionContent payloadField `json:"transaction_content"`
	TransactionDate    payloadField `json:"transaction_date"`
	BankBrandName      payloadField `json:"bank_brand_name"`
	AccountNumber      payloadField `json:"account_number"`
}

// Validate collects every field violation instead of stopping at the first,
// so the bank's integration team sees the full defect list in one response.
func (p *WebhookPayload) Validate() []FieldError {
	var errs []FieldError

	if id, err := p.ID.text(); err != nil {
		errs = append(errs, FieldError{Field: "id", Message: err.Error()})
	} else if id == "" {
		errs = append(errs, FieldError{Field: "id", Message: "is required"})
	}

	if p.AmountIn.absent() {
		errs = append(errs, FieldError{Field: "amount_in", Message: "is required"})
	} else if n, err := p.AmountIn.number(); err != nil {
		errs = append(errs, FieldError{Field: "amount_in", Message: err.Error()})
	} else if _, err := parsePayloadAmount(n); err != nil {
		errs = append(errs, FieldError{Field: "amount_in", Message: err.Error()})
	}

	if content, err := p.TransactionContent.str(); err != nil {
		errs = append(errs, FieldError{Field: "transaction_content", Message: err.Error()})
	} else if content == "" {
		errs = append(errs, FieldError{Field: "transaction_content", Message: "is required"})
	}

	if date, err := p.TransactionDate.str(); err != nil {
		errs = append(errs, FieldError{Field: "transaction_date", Message: err.Error()})
	} else if date == "" {
		errs = append(errs, FieldError{Field: "transaction_date", Message: "is required"})
	} else if _, err := shared.ParseTransactionDate(date); err != nil {
		errs = append(errs, FieldError{Field: "transaction_date", Message: "unrecognized timestamp format"})
	}

	if _, err := p.BankBrandName.str(); err != nil {
		errs = append(errs, FieldError{Field: "bank_brand_name", Message: err.Error()})
	}
	if _, err := p.AccountNumber.str(); err != nil {
		errs = append(errs, FieldError{Field: "account_number", Message: err.Error()})
	}

	return errs
}

// ToDetail converts a validated payload into the internal transaction shape,
// retaining the raw body for the audit trail.
func (p *WebhookPayload) ToDetail(raw []byte) (*shared.TransactionDetail, error) {
	id, err := p.ID.text()
	if err != nil {
		return nil, err
	}
	n, err := p.AmountIn.number()
	if err != nil {
		return nil, err
	}
	amount, err := parsePayloadAmount(n)
	if err != nil {
		return nil, err
	}
	dateStr, err := p.TransactionDate.str()
	if err != nil {
		return nil, err
	}
	date, err := shared.ParseTransactionDate(dateStr)
	if err != nil {
		return nil, err
	}
	content, err := p.TransactionContent.str()
	if err != nil {
		return nil, err
	}
	bankName, err := p.BankBrandName.str()
	if err != nil {
		return nil, err
	}
	accountNumber, err := p.AccountNumber.str()
	if err != nil {
		return nil, err
	}

	return &shared.TransactionDetail{
		ID:              id,
		Amount:          amount,
		Content:         content,
		TransactionDate: date,
		BankName:        bankName,
		AccountNumber:   accountNumber,
		Raw:             raw,
	}, nil
}

func parsePayloadAmount(n json.Number) (int64, error) {
	if v, err := n.Int64(); err == nil {
		if v <= 0 {
			return 0, fmt.Errorf("must be positive")
		}
		return v, nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, fmt.Errorf("must be numeric")
	}
	if f <= 0 {
		return 0, fmt.Errorf("must be positive")
	}
	return int64(f), nil
}

// WebhookResult is the acknowledgement returned for every authenticated,
// well-formed webhook delivery.
type WebhookResult struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	ReservationID string `json:"reservation_id,omitempty"`
	TransactionID string `json:"transaction_id"`
}

// VerifyPaymentRequest is the body of a manual verification call
type VerifyPaymentRequest struct {
	TransactionID string `json:"transaction_id" binding:"required"`
	OperatorID    string `json:"operator_id" binding:"required"`
	Notes         string `json:"notes"`
}

// ResolveUnmatchedRequest is the body of an unmatched-transaction resolution
type ResolveUnmatchedRequest struct {
	Status           string `json:"status" binding:"required"`
	MatchedBookingID string `json:"matched_booking_id"`
	ResolvedBy       string `json:"resolved_by" binding:"required"`
	Notes            string `json:"notes"`
}

// ReconciliationStatsResponse is the poller stats snapshot plus the instant
// it was taken.
type ReconciliationStatsResponse struct {
	GeneratedAt time.Time   `json:"generated_at"`
	Poller      interface{} `json:"poller"`
}
