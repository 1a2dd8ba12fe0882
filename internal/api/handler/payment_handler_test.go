package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/homestay-payments/reconciliation/internal/domain/reservation"
	"github.com/homestay-payments/reconciliation/internal/platform/gateway"
	"github.com/homestay-payments/reconciliation/internal/reconciliation/manual"
	"github.com/homestay-payments/reconciliation/internal/reconciliation/poller"
	"github.com/homestay-payments/reconciliation/internal/reconciliation/qr"
)

type paymentDeps struct {
	issuer   *MockQRIssuer
	verifier *MockManualVerifier
	stats    *MockStatsProvider
}

func setupPaymentRouter() (*gin.Engine, *paymentDeps) {
	deps := &paymentDeps{
		issuer:   new(MockQRIssuer),
		verifier: new(MockManualVerifier),
		stats:    new(MockStatsProvider),
	}

	h := NewPaymentHandler(testLogger(), deps.issuer, deps.verifier, deps.stats)

	router := setupTestRouter()
	router.POST("/reservations/:id/qr", h.IssueQR)
	router.POST("/reservations/:id/verify-payment", h.VerifyPayment)
	router.GET("/reconciliation/stats", h.ReconciliationStats)
	return router, deps
}

func TestPaymentHandler_IssueQR(t *testing.T) {
	t.Run("FreshIssuanceIsCreated", func(t *testing.T) {
		router, deps := setupPaymentRouter()

		deps.issuer.On("Issue", mock.Anything, testReservationID).Return(&qr.Issuance{
			ReservationID: testReservationID,
			Reference:     "BOOKING665f1c2b8a9d3e4f5a6b7c8dABCD",
			Amount:        500000,
			ImageURL:      "https://img.example.com/qr.png",
			ExpiresAt:     time.Date(2026, 6, 10, 9, 15, 0, 0, time.UTC),
		}, nil)

		req, _ := http.NewRequest(http.MethodPost, "/reservations/"+testReservationID+"/qr", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusCreated, rr.Code)
	})

	t.Run("ActiveQRIsReturnedWithOK", func(t *testing.T) {
		router, deps := setupPaymentRouter()

		deps.issuer.On("Issue", mock.Anything, testReservationID).Return(&qr.Issuance{
			ReservationID: testReservationID,
			Reused:        true,
		}, nil)

		req, _ := http.NewRequest(http.MethodPost, "/reservations/"+testReservationID+"/qr", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("NotFound", func(t *testing.T) {
		router, deps := setupPaymentRouter()

		deps.issuer.On("Issue", mock.Anything, "missing").
			Return(nil, reservation.ErrReservationNotFound{ID: "missing"})

		req, _ := http.NewRequest(http.MethodPost, "/reservations/missing/qr", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("CompletedPaymentIsConflict", func(t *testing.T) {
		router, deps := setupPaymentRouter()

		deps.issuer.On("Issue", mock.Anything, testReservationID).
			Return(nil, reservation.ErrAlreadyCompleted)

		req, _ := http.NewRequest(http.MethodPost, "/reservations/"+testReservationID+"/qr", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusConflict, rr.Code)
	})
}

func TestPaymentHandler_VerifyPayment(t *testing.T) {
	verifyBody := func() []byte {
		b, _ := json.Marshal(VerifyPaymentRequest{
			TransactionID: "tx-1001",
			OperatorID:    "admin-42",
			Notes:         "guest sent receipt",
		})
		return b
	}

	t.Run("Success", func(t *testing.T) {
		router, deps := setupPaymentRouter()

		deps.verifier.On("VerifyPayment", mock.Anything, testReservationID, "tx-1001", "admin-42", "guest sent receipt").
			Return(&manual.Result{
				Reservation:      &reservation.Reservation{ID: testReservationID},
				AmountValidation: manual.AmountValidation{IsValid: true, Expected: 500000, Received: 500000},
			}, nil)

		req, _ := http.NewRequest(http.MethodPost, "/reservations/"+testReservationID+"/verify-payment", bytes.NewReader(verifyBody()))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		deps.verifier.AssertExpectations(t)
	})

	t.Run("MissingFields", func(t *testing.T) {
		router, deps := setupPaymentRouter()

		req, _ := http.NewRequest(http.MethodPost, "/reservations/"+testReservationID+"/verify-payment", bytes.NewBufferString(`{"notes":"x"}`))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		deps.verifier.AssertNotCalled(t, "VerifyPayment")
	})

	t.Run("GatewayTransactionNotFound", func(t *testing.T) {
		router, deps := setupPaymentRouter()

		deps.verifier.On("VerifyPayment", mock.Anything, testReservationID, "tx-1001", "admin-42", "guest sent receipt").
			Return(nil, gateway.ErrTransactionNotFound{TransactionID: "tx-1001"})

		req, _ := http.NewRequest(http.MethodPost, "/reservations/"+testReservationID+"/verify-payment", bytes.NewReader(verifyBody()))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("CancelledReservationIsConflict", func(t *testing.T) {
		router, deps := setupPaymentRouter()

		deps.verifier.On("VerifyPayment", mock.Anything, testReservationID, "tx-1001", "admin-42", "guest sent receipt").
			Return(nil, reservation.ErrReservationCancelled)

		req, _ := http.NewRequest(http.MethodPost, "/reservations/"+testReservationID+"/verify-payment", bytes.NewReader(verifyBody()))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusConflict, rr.Code)
	})
}

func TestPaymentHandler_ReconciliationStats(t *testing.T) {
	router, deps := setupPaymentRouter()

	deps.stats.On("Stats").Return(poller.Stats{
		CyclesCompleted: 12,
		PaymentsSettled: 3,
	})

	req, _ := http.NewRequest(http.MethodGet, "/reconciliation/stats", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.NotNil(t, resp.Data)
}
