package qr

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/homestay-payments/reconciliation/internal/config"
)

// RenderRequest parameterizes one QR image
type RenderRequest struct {
	BankBIN       string
	AccountNumber string
	AccountName   string
	Amount        int64
	Content       string
}

// Renderer produces a scannable payment QR image URL
type Renderer interface {
	Render(ctx context.Context, req RenderRequest) (string, error)
}

// HTTPRenderer calls the external image-generation API. The service is
// unauthenticated and occasionally flaky, so each render is attempted a
// bounded number of times with exponential backoff.
type HTTPRenderer struct {
	baseURL     string
	httpClient  *http.Client
	maxAttempts uint64
	backoffBase time.Duration
	backoffCap  time.Duration
	logger      *slog.Logger
}

func NewHTTPRenderer(logger *slog.Logger, cfg *config.QRRendererConfig) *HTTPRenderer {
	return &HTTPRenderer{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		maxAttempts: cfg.MaxAttempts,
		backoffBase: cfg.BackoffBase,
		backoffCap:  cfg.BackoffCap,
		logger:      logger,
	}
}

// Render builds the image URL and confirms the renderer can serve it.
// Returns the URL on success.
func (r *HTTPRenderer) Render(ctx context.Context, req RenderRequest) (string, error) {
	imageURL := fmt.Sprintf("%s/image/%s-%s-compact.png?%s",
		r.baseURL,
		url.PathEscape(req.BankBIN),
		url.PathEscape(req.AccountNumber),
		url.Values{
			"amount":      {fmt.Sprintf("%d", req.Amount)},
			"addInfo":     {req.Content},
			"accountName": {req.AccountName},
		}.Encode(),
	)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.backoffBase
	b.MaxInterval = r.backoffCap
	b.MaxElapsedTime = 0

	// MaxAttempts counts total tries, WithMaxRetries counts retries after
	// the first.
	policy := backoff.WithContext(backoff.WithMaxRetries(b, r.maxAttempts-1), ctx)

	attempt := 0
	operation := func() error {
		attempt++
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build render request: %w", err))
		}

		resp, err := r.httpClient.Do(httpReq)
		if err != nil {
			r.logger.Warn("QR render request failed", "attempt", attempt, "error", err)
			return fmt.Errorf("render request: %w", err)
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		if resp.StatusCode != http.StatusOK {
			r.logger.Warn("QR renderer returned non-OK status", "attempt", attempt, "status", resp.StatusCode)
			return fmt.Errorf("renderer status %d", resp.StatusCode)
		}
		return nil
	}

	if err := backoff.Retry(operation, policy); err != nil {
		return "", fmt.Errorf("render QR after %d attempts: %w", attempt, err)
	}

	return imageURL, nil
}
