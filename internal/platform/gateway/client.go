// Package gateway implements the banking API client used by the poller,
// manual verification and QR issuance paths. The gateway is treated as
// unreliable: every call carries a timeout and is retried with exponential
// backoff before the failure is surfaced to the caller.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/homestay-payments/reconciliation/internal/config"
	"github.com/homestay-payments/reconciliation/internal/domain/shared"
)

// Client queries the banking gateway over HTTPS with bearer-token auth
type Client struct {
	baseURL     string
	apiToken    string
	httpClient  *http.Client
	maxRetries  uint64
	backoffBase time.Duration
	backoffCap  time.Duration
	logger      *slog.Logger
}

func NewClient(logger *slog.Logger, cfg *config.GatewayConfig) *Client {
	return &Client{
		baseURL:  cfg.BaseURL,
		apiToken: cfg.APIToken,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		maxRetries:  cfg.MaxRetries,
		backoffBase: cfg.BackoffBase,
		backoffCap:  cfg.BackoffCap,
		logger:      logger,
	}
}

// wireTransaction is the gateway's own field naming; converted to
// shared.TransactionDetail at this boundary and nowhere else.
type wireTransaction struct {
	ID                 wireID      `json:"id"`
	AmountIn           json.Number `json:"amount_in"`
	TransactionContent string      `json:"transaction_content"`
	TransactionDate    string      `json:"transaction_date"`
	BankBrandName      string      `json:"bank_brand_name"`
	AccountNumber      string      `json:"account_number"`
}

// wireID absorbs the gateway's inconsistent id encoding: some senders emit a
// JSON string, others a bare number. Any other type leaves the id empty so
// the row is skipped as malformed instead of failing the whole response.
type wireID string

func (id *wireID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = wireID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*id = wireID(n.String())
		return nil
	}
	*id = ""
	return nil
}

type listResponse struct {
	Transactions []wireTransaction `json:"transactions"`
}

type detailResponse struct {
	Transaction *wireTransaction `json:"transaction"`
}

// ErrTransactionNotFound indicates the gateway has no transaction with the
// requested ID.
type ErrTransactionNotFound struct {
	TransactionID string
}

func (e ErrTransactionNotFound) Error() string {
	return "gateway transaction not found: " + e.TransactionID
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

// ListTransactions fetches all settlement-account transactions in [start, end]
func (c *Client) ListTransactions(ctx context.Context, start, end time.Time) ([]*shared.TransactionDetail, error) {
	endpoint := fmt.Sprintf("%s/api/v1/transactions?%s", c.baseURL, url.Values{
		"transaction_date_min": {start.UTC().Format(time.RFC3339)},
		"transaction_date_max": {end.UTC().Format(time.RFC3339)},
	}.Encode())

	var list listResponse
	if err := c.getJSON(ctx, endpoint, &list); err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}

	details := make([]*shared.TransactionDetail, 0, len(list.Transactions))
	for i := range list.Transactions {
		detail, err := convertWireTransaction(&list.Transactions[i])
		if err != nil {
			// A single malformed row must not poison the whole window
			c.logger.Warn("Skipping malformed gateway transaction", "transaction_id", string(list.Transactions[i].ID), "error", err)
			continue
		}
		details = append(details, detail)
	}

	return details, nil
}

// GetTransaction fetches one transaction's full detail by its gateway ID
func (c *Client) GetTransaction(ctx context.Context, transactionID string) (*shared.TransactionDetail, error) {
	endpoint := fmt.Sprintf("%s/api/v1/transactions/%s", c.baseURL, url.PathEscape(transactionID))

	var detail detailResponse
	if err := c.getJSON(ctx, endpoint, &detail); err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", transactionID, err)
	}
	if detail.Transaction == nil {
		return nil, ErrTransactionNotFound{TransactionID: transactionID}
	}

	converted, err := convertWireTransaction(detail.Transaction)
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", transactionID, err)
	}
	return converted, nil
}

// getJSON performs an authenticated GET with the client's retry policy.
// Network errors and 5xx responses are retried; 4xx responses and a 404 are
// terminal.
func (c *Client) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(c.newBackoff(), c.maxRetries), ctx)

	attempt := 0
	operation := func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Warn("Gateway request failed", "endpoint", endpoint, "attempt", attempt, "error", err)
			return fmt.Errorf("gateway request: %w", err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 500:
			c.logger.Warn("Gateway returned server error", "endpoint", endpoint, "attempt", attempt, "status", resp.StatusCode)
			return fmt.Errorf("gateway status %d", resp.StatusCode)
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(errStatusNotFound)
		case resp.StatusCode != http.StatusOK:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return backoff.Permanent(fmt.Errorf("gateway status %d: %s", resp.StatusCode, string(body)))
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode gateway response: %w", err))
		}
		return nil
	}

	if err := backoff.Retry(operation, policy); err != nil {
		if err == errStatusNotFound {
			// Callers map this through their own not-found handling; the
			// detail endpoint reports it as an empty transaction.
			return nil
		}
		return err
	}
	return nil
}

var errStatusNotFound = fmt.Errorf("gateway status %d", http.StatusNotFound)

func (c *Client) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.backoffBase
	b.MaxInterval = c.backoffCap
	b.MaxElapsedTime = 0 // Bounded by WithMaxRetries, not wall time
	return b
}

// convertWireTransaction maps the gateway's duck-typed payload into the one
// internal transaction shape.
func convertWireTransaction(w *wireTransaction) (*shared.TransactionDetail, error) {
	if w.ID == "" {
		return nil, fmt.Errorf("transaction id is empty")
	}

	amount, err := parseAmount(w.AmountIn)
	if err != nil {
		return nil, fmt.Errorf("transaction %s: %w", w.ID, err)
	}

	date, err := shared.ParseTransactionDate(w.TransactionDate)
	if err != nil {
		return nil, fmt.Errorf("transaction %s: %w", w.ID, err)
	}

	return &shared.TransactionDetail{
		ID:              string(w.ID),
		Amount:          amount,
		Content:         w.TransactionContent,
		TransactionDate: date,
		BankName:        w.BankBrandName,
		AccountNumber:   w.AccountNumber,
	}, nil
}

// parseAmount accepts integer or decimal wire amounts and normalizes them to
// minor currency units.
func parseAmount(n json.Number) (int64, error) {
	if v, err := n.Int64(); err == nil {
		if v <= 0 {
			return 0, fmt.Errorf("amount must be positive: %d", v)
		}
		return v, nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, fmt.Errorf("unparseable amount %q", n.String())
	}
	if f <= 0 {
		return 0, fmt.Errorf("amount must be positive: %v", f)
	}
	return int64(f), nil
}
