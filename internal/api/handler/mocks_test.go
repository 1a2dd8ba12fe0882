package handler

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/mock"

	"github.com/homestay-payments/reconciliation/internal/domain/reservation"
	"github.com/homestay-payments/reconciliation/internal/domain/shared"
	"github.com/homestay-payments/reconciliation/internal/domain/unmatched"
	"github.com/homestay-payments/reconciliation/internal/reconciliation/manual"
	"github.com/homestay-payments/reconciliation/internal/reconciliation/matcher"
	"github.com/homestay-payments/reconciliation/internal/reconciliation/orchestrator"
	"github.com/homestay-payments/reconciliation/internal/reconciliation/poller"
	"github.com/homestay-payments/reconciliation/internal/reconciliation/qr"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

func setupTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

type MockTransactionMatcher struct {
	mock.Mock
}

func (m *MockTransactionMatcher) Match(ctx context.Context, detail *shared.TransactionDetail) (*matcher.Result, error) {
	args := m.Called(ctx, detail)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*matcher.Result), args.Error(1)
}

type MockPaymentCompleter struct {
	mock.Mock
}

func (m *MockPaymentCompleter) CompletePayment(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*orchestrator.Result), args.Error(1)
}

type MockQRIssuer struct {
	mock.Mock
}

func (m *MockQRIssuer) Issue(ctx context.Context, reservationID string) (*qr.Issuance, error) {
	args := m.Called(ctx, reservationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*qr.Issuance), args.Error(1)
}

type MockManualVerifier struct {
	mock.Mock
}

func (m *MockManualVerifier) VerifyPayment(ctx context.Context, reservationID, transactionID, operatorID, notes string) (*manual.Result, error) {
	args := m.Called(ctx, reservationID, transactionID, operatorID, notes)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*manual.Result), args.Error(1)
}

type MockStatsProvider struct {
	mock.Mock
}

func (m *MockStatsProvider) Stats() poller.Stats {
	args := m.Called()
	return args.Get(0).(poller.Stats)
}

type MockReservationRepository struct {
	mock.Mock
}

func (m *MockReservationRepository) WithTx(tx pgx.Tx) reservation.Repository {
	args := m.Called(tx)
	return args.Get(0).(reservation.Repository)
}

func (m *MockReservationRepository) GetByID(ctx context.Context, id string) (*reservation.Reservation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*reservation.Reservation), args.Error(1)
}

func (m *MockReservationRepository) LockForUpdate(ctx context.Context, id string) (*reservation.Reservation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*reservation.Reservation), args.Error(1)
}

func (m *MockReservationRepository) SaveQRIssuance(ctx context.Context, id string, ref string, code reservation.QRCode) error {
	args := m.Called(ctx, id, ref, code)
	return args.Error(0)
}

func (m *MockReservationRepository) CompletePayment(ctx context.Context, r *reservation.Reservation) error {
	args := m.Called(ctx, r)
	return args.Error(0)
}

func (m *MockReservationRepository) FindAwaitingPayment(ctx context.Context, qrIssuedAfter time.Time) ([]*reservation.Reservation, error) {
	args := m.Called(ctx, qrIssuedAfter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*reservation.Reservation), args.Error(1)
}

func (m *MockReservationRepository) ExistsByTransactionID(ctx context.Context, transactionID string) (bool, error) {
	args := m.Called(ctx, transactionID)
	return args.Bool(0), args.Error(1)
}

type MockUnmatchedRepository struct {
	mock.Mock
}

func (m *MockUnmatchedRepository) Create(ctx context.Context, tx *unmatched.Transaction) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

func (m *MockUnmatchedRepository) GetByTransactionID(ctx context.Context, transactionID string) (*unmatched.Transaction, error) {
	args := m.Called(ctx, transactionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*unmatched.Transaction), args.Error(1)
}

func (m *MockUnmatchedRepository) ExistsByTransactionID(ctx context.Context, transactionID string) (bool, error) {
	args := m.Called(ctx, transactionID)
	return args.Bool(0), args.Error(1)
}

func (m *MockUnmatchedRepository) List(ctx context.Context, status unmatched.Status, limit, offset int) ([]*unmatched.Transaction, int64, error) {
	args := m.Called(ctx, status, limit, offset)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]*unmatched.Transaction), args.Get(1).(int64), args.Error(2)
}

func (m *MockUnmatchedRepository) Resolve(ctx context.Context, transactionID string, res unmatched.Resolution) (*unmatched.Transaction, error) {
	args := m.Called(ctx, transactionID, res)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*unmatched.Transaction), args.Error(1)
}
