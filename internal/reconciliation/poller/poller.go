// Package poller implements the periodic reconciliation sweep: the safety
// net behind the webhook. Each cycle it fetches the recent settlement-account
// transactions from the banking gateway and runs them through the matcher,
// settling any payment the webhook missed and recording what it cannot tie
// to a reservation.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/homestay-payments/reconciliation/internal/config"
	"github.com/homestay-payments/reconciliation/internal/domain/reservation"
	"github.com/homestay-payments/reconciliation/internal/domain/shared"
	"github.com/homestay-payments/reconciliation/internal/domain/unmatched"
	"github.com/homestay-payments/reconciliation/internal/reconciliation/matcher"
	"github.com/homestay-payments/reconciliation/internal/reconciliation/orchestrator"
)

// Gateway lists settlement-account transactions in a time window
type Gateway interface {
	ListTransactions(ctx context.Context, start, end time.Time) ([]*shared.TransactionDetail, error)
}

// TransactionMatcher validates one transaction against pending reservations
type TransactionMatcher interface {
	Match(ctx context.Context, detail *shared.TransactionDetail) (*matcher.Result, error)
}

// PaymentCompleter runs the settlement critical section
type PaymentCompleter interface {
	CompletePayment(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error)
}

// Stats is a snapshot of the poller's running counters
type Stats struct {
	CyclesCompleted     uint64        `json:"cycles_completed"`
	CyclesSkipped       uint64        `json:"cycles_skipped"`
	CyclesFailed        uint64        `json:"cycles_failed"`
	ReservationsChecked uint64        `json:"reservations_checked"`
	TransactionsChecked uint64        `json:"transactions_checked"`
	PaymentsSettled     uint64        `json:"payments_settled"`
	UnmatchedRecorded   uint64        `json:"unmatched_recorded"`
	LastCycleAt         time.Time     `json:"last_cycle_at,omitempty"`
	LastCycleDuration   time.Duration `json:"last_cycle_duration,omitempty"`
	LastError           string        `json:"last_error,omitempty"`
}

// Poller periodically reconciles gateway transactions with reservations
type Poller struct {
	gateway      Gateway
	matcher      TransactionMatcher
	completer    PaymentCompleter
	reservations reservation.Repository
	unmatched    unmatched.Repository

	interval time.Duration
	lookback time.Duration
	validity time.Duration
	poolSize int

	inFlight atomic.Bool // Single-flight guard across overlapping ticks

	cyclesCompleted     atomic.Uint64
	cyclesSkipped       atomic.Uint64
	cyclesFailed        atomic.Uint64
	reservationsChecked atomic.Uint64
	transactionsChecked atomic.Uint64
	paymentsSettled     atomic.Uint64
	unmatchedRecorded   atomic.Uint64
	recordedThisCycle   atomic.Uint64

	mu                sync.Mutex
	lastCycleAt       time.Time
	lastCycleDuration time.Duration
	lastError         string

	logger *slog.Logger
	now    func() time.Time
}

func NewPoller(
	logger *slog.Logger,
	gateway Gateway,
	txMatcher TransactionMatcher,
	completer PaymentCompleter,
	reservations reservation.Repository,
	unmatchedRepo unmatched.Repository,
	pollerCfg *config.PollerConfig,
	paymentCfg *config.PaymentConfig,
) *Poller {
	return &Poller{
		gateway:      gateway,
		matcher:      txMatcher,
		completer:    completer,
		reservations: reservations,
		unmatched:    unmatchedRepo,
		interval:     pollerCfg.Interval,
		lookback:     pollerCfg.Lookback,
		validity:     paymentCfg.QRValidity,
		poolSize:     pollerCfg.WorkerPoolSize,
		logger:       logger,
		now:          time.Now,
	}
}

// Start runs reconciliation cycles until the context is cancelled. One cycle
// runs immediately; subsequent cycles follow the configured interval.
func (p *Poller) Start(ctx context.Context) {
	p.logger.Info("Reconciliation poller started",
		"interval", p.interval,
		"lookback", p.lookback,
		"workers", p.poolSize)

	p.RunCycle(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Reconciliation poller stopped")
			return
		case <-ticker.C:
			p.RunCycle(ctx)
		}
	}
}

// RunCycle executes one reconciliation sweep. If a previous cycle is still
// running the tick is skipped rather than queued; the next cycle's window
// overlaps enough to cover the gap.
func (p *Poller) RunCycle(ctx context.Context) {
	if !p.inFlight.CompareAndSwap(false, true) {
		p.cyclesSkipped.Add(1)
		p.logger.Warn("Skipping reconciliation cycle, previous cycle still running")
		return
	}
	defer p.inFlight.Store(false)

	now := p.now().UTC()
	start := now

	pending, err := p.reservations.FindAwaitingPayment(ctx, now.Add(-p.validity))
	if err != nil {
		p.recordFailure(now, p.sinceCycleStart(start), err)
		p.logger.Error("Reconciliation cycle failed to load pending reservations", "error", err)
		return
	}
	p.reservationsChecked.Add(uint64(len(pending)))
	if len(pending) == 0 {
		p.recordSuccess(now, p.sinceCycleStart(start))
		p.logger.Debug("Reconciliation cycle found no reservations awaiting payment")
		return
	}

	transactions, err := p.gateway.ListTransactions(ctx, now.Add(-p.lookback), now)
	if err != nil {
		// Gateway outage makes this cycle a no-op; the webhook path is
		// unaffected and the next cycle re-covers the window.
		p.recordFailure(now, p.sinceCycleStart(start), err)
		p.logger.Error("Reconciliation cycle failed to fetch gateway transactions", "error", err)
		return
	}
	p.transactionsChecked.Add(uint64(len(transactions)))

	settled, recorded := p.processTransactions(ctx, transactions)
	p.recordSuccess(now, p.sinceCycleStart(start))

	p.logger.Info("Reconciliation cycle finished",
		"pending_reservations", len(pending),
		"gateway_transactions", len(transactions),
		"settled", settled,
		"unmatched_recorded", recorded,
		"duration", p.now().UTC().Sub(start))
}

// cycleMatch is one transaction's successful match collected during the
// concurrent phase.
type cycleMatch struct {
	detail *shared.TransactionDetail
	result *matcher.Result
}

// processTransactions matches the window's transactions concurrently, then
// settles the winners sequentially. Matching is read-only so it parallelizes
// safely; settlement goes through the orchestrator's critical section one
// reservation at a time.
func (p *Poller) processTransactions(ctx context.Context, transactions []*shared.TransactionDetail) (settled, recorded uint64) {
	pool, err := ants.NewPool(p.poolSize)
	if err != nil {
		p.logger.Error("Failed to create matcher worker pool, matching sequentially", "error", err)
		pool = nil
	} else {
		defer pool.Release()
	}

	var (
		mu      sync.Mutex
		matches = make(map[string]cycleMatch) // reservation ID -> first matching transaction
		wg      sync.WaitGroup
	)

	for _, detail := range transactions {
		detail := detail
		task := func() {
			defer wg.Done()
			p.matchOne(ctx, detail, &mu, matches)
		}

		wg.Add(1)
		if pool != nil {
			if err := pool.Submit(task); err != nil {
				wg.Done()
				p.logger.Error("Failed to submit match task", "transaction_id", detail.ID, "error", err)
			}
		} else {
			task()
		}
	}
	wg.Wait()

	for reservationID, m := range matches {
		outcome, err := p.completer.CompletePayment(ctx, orchestrator.Request{
			ReservationID: reservationID,
			Detail:        m.detail,
			Method:        shared.VerificationMethodPolling,
		})
		if err != nil {
			p.logger.Error("Failed to settle matched transaction",
				"reservation_id", reservationID,
				"transaction_id", m.detail.ID,
				"error", err)
			continue
		}
		if !outcome.AlreadyProcessed {
			settled++
			p.paymentsSettled.Add(1)
		}
	}

	recorded = p.recordedThisCycle.Swap(0)
	return settled, recorded
}

// matchOne classifies a single transaction: already consumed, matched, or
// bound for the unmatched ledger.
func (p *Poller) matchOne(ctx context.Context, detail *shared.TransactionDetail, mu *sync.Mutex, matches map[string]cycleMatch) {
	// Transactions that already settled a reservation or already sit in the
	// ledger reappear every cycle while inside the lookback window.
	if consumed, err := p.reservations.ExistsByTransactionID(ctx, detail.ID); err != nil {
		p.logger.Error("Failed to check transaction consumption", "transaction_id", detail.ID, "error", err)
		return
	} else if consumed {
		return
	}
	if known, err := p.unmatched.ExistsByTransactionID(ctx, detail.ID); err != nil {
		p.logger.Error("Failed to check unmatched ledger", "transaction_id", detail.ID, "error", err)
		return
	} else if known {
		return
	}

	result, err := p.matcher.Match(ctx, detail)
	if err != nil {
		p.logger.Error("Matcher failed for transaction", "transaction_id", detail.ID, "error", err)
		return
	}

	if result.Matched {
		mu.Lock()
		if _, taken := matches[result.Reservation.ID]; !taken {
			matches[result.Reservation.ID] = cycleMatch{detail: detail, result: result}
		}
		mu.Unlock()
		return
	}

	row := unmatched.NewFromDetail(detail, result.Reason, &result.Details, "polling")
	if err := p.unmatched.Create(ctx, row); err != nil {
		if errors.Is(err, unmatched.ErrDuplicateTransaction{}) {
			return
		}
		p.logger.Error("Failed to record unmatched transaction", "transaction_id", detail.ID, "error", err)
		return
	}
	p.unmatchedRecorded.Add(1)
	p.recordedThisCycle.Add(1)
}

// Stats returns a snapshot of the poller's counters
func (p *Poller) Stats() Stats {
	p.mu.Lock()
	lastCycleAt, lastDuration, lastError := p.lastCycleAt, p.lastCycleDuration, p.lastError
	p.mu.Unlock()

	return Stats{
		CyclesCompleted:     p.cyclesCompleted.Load(),
		CyclesSkipped:       p.cyclesSkipped.Load(),
		CyclesFailed:        p.cyclesFailed.Load(),
		ReservationsChecked: p.reservationsChecked.Load(),
		TransactionsChecked: p.transactionsChecked.Load(),
		PaymentsSettled:     p.paymentsSettled.Load(),
		UnmatchedRecorded:   p.unmatchedRecorded.Load(),
		LastCycleAt:         lastCycleAt,
		LastCycleDuration:   lastDuration,
		LastError:           lastError,
	}
}

func (p *Poller) sinceCycleStart(start time.Time) time.Duration {
	return p.now().UTC().Sub(start)
}

func (p *Poller) recordSuccess(at time.Time, took time.Duration) {
	p.cyclesCompleted.Add(1)
	p.mu.Lock()
	p.lastCycleAt = at
	p.lastCycleDuration = took
	p.lastError = ""
	p.mu.Unlock()
}

func (p *Poller) recordFailure(at time.Time, took time.Duration, err error) {
	p.cyclesFailed.Add(1)
	p.mu.Lock()
	p.lastCycleAt = at
	p.lastCycleDuration = took
	p.lastError = err.Error()
	p.mu.Unlock()
}
