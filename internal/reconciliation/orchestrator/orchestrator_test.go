package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/homestay-payments/reconciliation/internal/domain/reservation"
	"github.com/homestay-payments/reconciliation/internal/domain/shared"
)

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

func (m *MockReservationRepository) SaveQRIssuance(ctx context.Context, id string, ref string, qr reservation.QRCode) error {
	args := m.Called(ctx, id, ref, qr)
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

// fakeTxRunner executes the callback directly; the repository is mocked, so
// no real transaction is needed.
type fakeTxRunner struct {
	err error
}

func (f *fakeTxRunner) ExecuteTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	if f.err != nil {
		return f.err
	}
	return fn(nil)
}

type recordingNotifier struct {
	completed []*reservation.Reservation
}

func (r *recordingNotifier) PaymentCompleted(res *reservation.Reservation) {
	r.completed = append(r.completed, res)
}

const testReservationID = "665f1c2b8a9d3e4f5a6b7c8d"

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

func pendingReservation() *reservation.Reservation {
	return &reservation.Reservation{
		ID:          testReservationID,
		GuestName:   "Nguyen Van A",
		TotalAmount: 500000,
		Status:      reservation.StatusPending,
		Payment: reservation.Payment{
			Status: reservation.PaymentStatusPending,
		},
	}
}

func testRequest() Request {
	return Request{
		ReservationID: testReservationID,
		Detail: &shared.TransactionDetail{
			ID:            "tx-1001",
			Amount:        500000,
			Content:       "payment memo",
			BankName:      "MB Bank",
			AccountNumber: "0123456789",
		},
		Method: shared.VerificationMethodWebhook,
	}
}

func TestOrchestrator_CompletePayment(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		repo := new(MockReservationRepository)
		repo.On("GetByID", mock.Anything, testReservationID).Return(pendingReservation(), nil)
		repo.On("WithTx", mock.Anything).Return(repo)
		repo.On("LockForUpdate", mock.Anything, testReservationID).Return(pendingReservation(), nil)
		repo.On("CompletePayment", mock.Anything, mock.MatchedBy(func(r *reservation.Reservation) bool {
			return r.Payment.Transaction != nil &&
				r.Payment.Transaction.ID == "tx-1001" &&
				r.Payment.Verification != nil &&
				r.Payment.Verification.Method == shared.VerificationMethodWebhook
		})).Return(nil)

		notifier := &recordingNotifier{}
		o := NewOrchestrator(testLogger(), &fakeTxRunner{}, repo, notifier)

		result, err := o.CompletePayment(context.Background(), testRequest())

		require.NoError(t, err)
		assert.False(t, result.AlreadyProcessed)
		require.NotNil(t, result.Reservation)
		assert.Equal(t, reservation.PaymentStatusCompleted, result.Reservation.Payment.Status)
		assert.Equal(t, reservation.StatusConfirmed, result.Reservation.Status)
		require.Len(t, notifier.completed, 1)
		assert.Equal(t, testReservationID, notifier.completed[0].ID)
		repo.AssertExpectations(t)
	})

	t.Run("AlreadyCompletedBeforeTransaction", func(t *testing.T) {
		res := pendingReservation()
		res.Payment.Status = reservation.PaymentStatusCompleted

		repo := new(MockReservationRepository)
		repo.On("GetByID", mock.Anything, testReservationID).Return(res, nil)

		notifier := &recordingNotifier{}
		o := NewOrchestrator(testLogger(), &fakeTxRunner{}, repo, notifier)

		result, err := o.CompletePayment(context.Background(), testRequest())

		require.NoError(t, err)
		assert.True(t, result.AlreadyProcessed)
		assert.Empty(t, notifier.completed)
		repo.AssertNotCalled(t, "LockForUpdate")
	})

	t.Run("LostRaceUnderLock", func(t *testing.T) {
		// A second delivery passes the pre-check, then finds the payment
		// completed once it holds the row lock.
		completed := pendingReservation()
		completed.Payment.Status = reservation.PaymentStatusCompleted

		repo := new(MockReservationRepository)
		repo.On("GetByID", mock.Anything, testReservationID).Return(pendingReservation(), nil)
		repo.On("WithTx", mock.Anything).Return(repo)
		repo.On("LockForUpdate", mock.Anything, testReservationID).Return(completed, nil)

		notifier := &recordingNotifier{}
		o := NewOrchestrator(testLogger(), &fakeTxRunner{}, repo, notifier)

		result, err := o.CompletePayment(context.Background(), testRequest())

		require.NoError(t, err)
		assert.True(t, result.AlreadyProcessed)
		// The race loser reports what it observed under the lock, not the
		// stale pre-check read.
		require.NotNil(t, result.Reservation)
		assert.Equal(t, reservation.PaymentStatusCompleted, result.Reservation.Payment.Status)
		assert.Empty(t, notifier.completed)
		repo.AssertNotCalled(t, "CompletePayment")
	})

	t.Run("ConditionalUpdateLost", func(t *testing.T) {
		settled := pendingReservation()
		settled.Payment.Status = reservation.PaymentStatusCompleted
		settled.Status = reservation.StatusConfirmed

		repo := new(MockReservationRepository)
		repo.On("GetByID", mock.Anything, testReservationID).Return(pendingReservation(), nil).Once()
		repo.On("WithTx", mock.Anything).Return(repo)
		repo.On("LockForUpdate", mock.Anything, testReservationID).Return(pendingReservation(), nil)
		repo.On("CompletePayment", mock.Anything, mock.Anything).Return(reservation.ErrAlreadyCompleted)
		repo.On("GetByID", mock.Anything, testReservationID).Return(settled, nil).Once()

		o := NewOrchestrator(testLogger(), &fakeTxRunner{}, repo, &recordingNotifier{})

		result, err := o.CompletePayment(context.Background(), testRequest())

		require.NoError(t, err)
		assert.True(t, result.AlreadyProcessed)
		require.NotNil(t, result.Reservation)
		assert.Equal(t, reservation.PaymentStatusCompleted, result.Reservation.Payment.Status)
		repo.AssertExpectations(t)
	})

	t.Run("CancelledReservation", func(t *testing.T) {
		res := pendingReservation()
		res.Status = reservation.StatusCancelled

		repo := new(MockReservationRepository)
		repo.On("GetByID", mock.Anything, testReservationID).Return(res, nil)

		o := NewOrchestrator(testLogger(), &fakeTxRunner{}, repo, &recordingNotifier{})

		_, err := o.CompletePayment(context.Background(), testRequest())

		assert.ErrorIs(t, err, reservation.ErrReservationCancelled)
	})

	t.Run("ReservationNotFound", func(t *testing.T) {
		repo := new(MockReservationRepository)
		repo.On("GetByID", mock.Anything, testReservationID).
			Return(nil, reservation.ErrReservationNotFound{ID: testReservationID})

		o := NewOrchestrator(testLogger(), &fakeTxRunner{}, repo, &recordingNotifier{})

		_, err := o.CompletePayment(context.Background(), testRequest())

		assert.ErrorIs(t, err, reservation.ErrReservationNotFound{})
	})

	t.Run("ManualWithoutOperator", func(t *testing.T) {
		repo := new(MockReservationRepository)
		o := NewOrchestrator(testLogger(), &fakeTxRunner{}, repo, &recordingNotifier{})

		req := testRequest()
		req.Method = shared.VerificationMethodManual

		_, err := o.CompletePayment(context.Background(), req)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "operator")
		repo.AssertNotCalled(t, "GetByID")
	})

	t.Run("MissingDetail", func(t *testing.T) {
		o := NewOrchestrator(testLogger(), &fakeTxRunner{}, new(MockReservationRepository), &recordingNotifier{})

		req := testRequest()
		req.Detail = nil

		_, err := o.CompletePayment(context.Background(), req)

		require.Error(t, err)
	})

	t.Run("TransactionFailure", func(t *testing.T) {
		repo := new(MockReservationRepository)
		repo.On("GetByID", mock.Anything, testReservationID).Return(pendingReservation(), nil)

		o := NewOrchestrator(testLogger(), &fakeTxRunner{err: errors.New("connection reset")}, repo, &recordingNotifier{})

		_, err := o.CompletePayment(context.Background(), testRequest())

		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection reset")
	})
}
