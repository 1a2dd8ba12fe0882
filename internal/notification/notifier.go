// Package notification fans completed payments out to the downstream
// notification service over Kafka. Delivery is best effort: settlement has
// already committed by the time an event is published, and a lost event only
// delays the confirmation email, it never un-settles a payment.
package notification

import (
	"context"
	"log/slog"
	"time"

	"github.com/homestay-payments/reconciliation/internal/domain/reservation"
	"github.com/homestay-payments/reconciliation/internal/platform/messaging/producers"
)

const publishTimeout = 5 * time.Second

// PaymentCompletedEvent is the payload published for each settled payment
type PaymentCompletedEvent struct {
	EventType     string    `json:"event_type"`
	ReservationID string    `json:"reservation_id"`
	GuestName     string    `json:"guest_name"`
	HostName      string    `json:"host_name"`
	Amount        int64     `json:"amount"`
	TransactionID string    `json:"transaction_id"`
	Method        string    `json:"method"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// KafkaNotifier publishes payment events through the async Kafka producer
type KafkaNotifier struct {
	producer producers.MessagePublisher
	logger   *slog.Logger
}

func NewKafkaNotifier(logger *slog.Logger, producer producers.MessagePublisher) *KafkaNotifier {
	return &KafkaNotifier{
		producer: producer,
		logger:   logger,
	}
}

// PaymentCompleted publishes the event in a detached goroutine with its own
// deadline. Publish errors are logged and dropped.
func (n *KafkaNotifier) PaymentCompleted(res *reservation.Reservation) {
	event := PaymentCompletedEvent{
		EventType:     "payment.completed",
		ReservationID: res.ID,
		GuestName:     res.GuestName,
		HostName:      res.HostName,
		Amount:        res.TotalAmount,
		OccurredAt:    time.Now().UTC(),
	}
	if res.Payment.Transaction != nil {
		event.TransactionID = res.Payment.Transaction.ID
	}
	if res.Payment.Verification != nil {
		event.Method = string(res.Payment.Verification.Method)
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()

		if err := n.producer.Publish(ctx, res.ID, event); err != nil {
			n.logger.Error("Failed to publish payment completed event",
				"reservation_id", res.ID,
				"error", err)
		}
	}()
}
