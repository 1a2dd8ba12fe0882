package notification

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homestay-payments/reconciliation/internal/domain/reservation"
	"github.com/homestay-payments/reconciliation/internal/domain/shared"
)

// capturingPublisher records published events and signals each publish so
// tests can wait for the notifier's detached goroutine.
type capturingPublisher struct {
	mu        sync.Mutex
	keys      []string
	values    []interface{}
	err       error
	published chan struct{}
}

func newCapturingPublisher(err error) *capturingPublisher {
	return &capturingPublisher{
		err:       err,
		published: make(chan struct{}, 1),
	}
}

func (p *capturingPublisher) Publish(ctx context.Context, key string, value interface{}) error {
	p.mu.Lock()
	p.keys = append(p.keys, key)
	p.values = append(p.values, value)
	p.mu.Unlock()
	p.published <- struct{}{}
	return p.err
}

func (p *capturingPublisher) Close() error { return nil }

func (p *capturingPublisher) waitForPublish(t *testing.T) {
	t.Helper()
	select {
	case <-p.published:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event publish")
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

func settledReservation() *reservation.Reservation {
	return &reservation.Reservation{
		ID:          "665f1c2b8a9d3e4f5a6b7c8d",
		GuestName:   "Nguyen Van A",
		HostName:    "Tran Thi B",
		TotalAmount: 500000,
		Status:      reservation.StatusConfirmed,
		Payment: reservation.Payment{
			Status:       reservation.PaymentStatusCompleted,
			Transaction:  &reservation.Transaction{ID: "tx-1001", Amount: 500000},
			Verification: &reservation.Verification{Method: shared.VerificationMethodWebhook},
		},
	}
}

func TestKafkaNotifier_PaymentCompleted(t *testing.T) {
	publisher := newCapturingPublisher(nil)
	notifier := NewKafkaNotifier(testLogger(), publisher)

	res := settledReservation()
	notifier.PaymentCompleted(res)
	publisher.waitForPublish(t)

	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	require.Len(t, publisher.values, 1)
	assert.Equal(t, res.ID, publisher.keys[0], "reservation id keys events for per-reservation ordering")

	event, ok := publisher.values[0].(PaymentCompletedEvent)
	require.True(t, ok)
	assert.Equal(t, "payment.completed", event.EventType)
	assert.Equal(t, res.ID, event.ReservationID)
	assert.Equal(t, "Nguyen Van A", event.GuestName)
	assert.Equal(t, int64(500000), event.Amount)
	assert.Equal(t, "tx-1001", event.TransactionID)
	assert.Equal(t, "webhook", event.Method)
	assert.False(t, event.OccurredAt.IsZero())
}

func TestKafkaNotifier_PublishErrorIsDropped(t *testing.T) {
	publisher := newCapturingPublisher(errors.New("broker unavailable"))
	notifier := NewKafkaNotifier(testLogger(), publisher)

	// Must not panic or propagate; the payment is already settled.
	notifier.PaymentCompleted(settledReservation())
	publisher.waitForPublish(t)
}

func TestKafkaNotifier_MissingDetailIsTolerated(t *testing.T) {
	publisher := newCapturingPublisher(nil)
	notifier := NewKafkaNotifier(testLogger(), publisher)

	res := settledReservation()
	res.Payment.Transaction = nil
	res.Payment.Verification = nil

	notifier.PaymentCompleted(res)
	publisher.waitForPublish(t)

	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	event := publisher.values[0].(PaymentCompletedEvent)
	assert.Empty(t, event.TransactionID)
	assert.Empty(t, event.Method)
}
