// Package qr issues payment QR codes against the settlement account. An
// issuance event fixes the payment reference embedded in the QR's transfer
// memo; the checksum in that reference is bound to the issuance timestamp,
// so re-issuing a QR invalidates references carried by older memos.
package qr

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/homestay-payments/reconciliation/internal/config"
	"github.com/homestay-payments/reconciliation/internal/domain/reservation"
	"github.com/homestay-payments/reconciliation/internal/reconciliation/reference"
)

// ManualInstructions carry everything a guest needs to complete the transfer
// by hand when the image renderer is unavailable.
type ManualInstructions struct {
	BankName        string `json:"bank_name"`
	AccountNumber   string `json:"account_number"`
	AccountName     string `json:"account_name"`
	Amount          int64  `json:"amount"`
	TransferContent string `json:"transfer_content"`
}

// Issuance is the result of issuing (or re-reading) a payment QR
type Issuance struct {
	ReservationID string              `json:"reservation_id"`
	Reference     string              `json:"reference"`
	Amount        int64               `json:"amount"`
	ImageURL      string              `json:"image_url,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	ExpiresAt     time.Time           `json:"expires_at"`
	Manual        *ManualInstructions `json:"manual_instructions,omitempty"`
	Reused        bool                `json:"reused"`
}

// Issuer creates payment QR codes for pending reservations
type Issuer struct {
	reservations reservation.Repository
	renderer     Renderer
	settlement   config.SettlementConfig
	validity     time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

func NewIssuer(logger *slog.Logger, reservations reservation.Repository, renderer Renderer, settlement config.SettlementConfig, paymentCfg *config.PaymentConfig) *Issuer {
	return &Issuer{
		reservations: reservations,
		renderer:     renderer,
		settlement:   settlement,
		validity:     paymentCfg.QRValidity,
		logger:       logger,
		now:          time.Now,
	}
}

// Issue returns a payment QR for the reservation. While an unexpired QR
// exists the same issuance is returned unchanged; once it expires a fresh
// issuance replaces it, carrying a reference checksummed against the new
// issuance timestamp. Renderer failure degrades to manual transfer
// instructions rather than failing the issuance.
func (i *Issuer) Issue(ctx context.Context, reservationID string) (*Issuance, error) {
	res, err := i.reservations.GetByID(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if res.Status == reservation.StatusCancelled {
		return nil, reservation.ErrReservationCancelled
	}
	if res.Payment.Status != reservation.PaymentStatusPending {
		return nil, reservation.ErrAlreadyCompleted
	}

	now := i.now().UTC()

	if res.HasActiveQR(now) {
		existing := res.Payment.QRCode
		ref := reference.Encode(res.ID, res.TotalAmount, existing.CreatedAt.UnixMilli())
		issuance := &Issuance{
			ReservationID: res.ID,
			Reference:     ref,
			Amount:        res.TotalAmount,
			CreatedAt:     existing.CreatedAt,
			ExpiresAt:     existing.ExpiresAt,
			Reused:        true,
		}
		if existing.Data != "" {
			issuance.ImageURL = existing.Data
		} else {
			issuance.Manual = i.manualInstructions(res.TotalAmount, ref)
		}
		return issuance, nil
	}

	createdAt := now
	ref := reference.Encode(res.ID, res.TotalAmount, createdAt.UnixMilli())

	issuance := &Issuance{
		ReservationID: res.ID,
		Reference:     ref,
		Amount:        res.TotalAmount,
		CreatedAt:     createdAt,
		ExpiresAt:     createdAt.Add(i.validity),
	}

	imageURL, err := i.renderer.Render(ctx, RenderRequest{
		BankBIN:       i.settlement.BankBIN,
		AccountNumber: i.settlement.AccountNumber,
		AccountName:   i.settlement.AccountName,
		Amount:        res.TotalAmount,
		Content:       ref,
	})
	if err != nil {
		i.logger.Warn("QR renderer unavailable, issuing manual transfer instructions",
			"reservation_id", res.ID,
			"error", err)
		issuance.Manual = i.manualInstructions(res.TotalAmount, ref)
	} else {
		issuance.ImageURL = imageURL
	}

	qrCode := reservation.QRCode{
		Data:      issuance.ImageURL,
		CreatedAt: issuance.CreatedAt,
		ExpiresAt: issuance.ExpiresAt,
	}
	if err := i.reservations.SaveQRIssuance(ctx, res.ID, ref, qrCode); err != nil {
		return nil, fmt.Errorf("persist QR issuance: %w", err)
	}

	i.logger.Info("QR issued",
		"reservation_id", res.ID,
		"reference", ref,
		"amount", res.TotalAmount,
		"expires_at", issuance.ExpiresAt,
		"manual_fallback", issuance.Manual != nil)

	return issuance, nil
}

func (i *Issuer) manualInstructions(amount int64, ref string) *ManualInstructions {
	return &ManualInstructions{
		BankName:        i.settlement.BankName,
		AccountNumber:   i.settlement.AccountNumber,
		AccountName:     i.settlement.AccountName,
		Amount:          amount,
		TransferContent: ref,
	}
}
