package workers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/meridianpay/gipswitch/gateway"
	"github.com/meridianpay/gipswitch/log"
	"github.com/meridianpay/gipswitch/storage"
)

// ReversalWorker compensates failed credit legs: every FTC_FAILED
// transaction gets a reversal dispatched, and reversals left unanswered
// past their deadline are re-sent until the attempt budget runs out.
type ReversalWorker struct {
	store    *storage.Store
	gip      gateway.Client
	interval time.Duration
	batch    int

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReversalWorker returns a worker polling at the given interval.
func NewReversalWorker(store *storage.Store, gip gateway.Client, interval time.Duration, batch int) *ReversalWorker {
	return &ReversalWorker{store: store, gip: gip, interval: interval, batch: batch}
}

// Start launches the polling loop.
func (w *ReversalWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return fmt.Errorf("reversal worker already running")
	}
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		log.Infow("reversal worker started", "interval", w.interval.String())
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.tick(ctx)
			}
		}
	}()
	return nil
}

// Stop halts the loop and waits for the in-flight tick.
func (w *ReversalWorker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel == nil {
		return
	}
	w.cancel()
	w.cancel = nil
	w.wg.Wait()
}

func (w *ReversalWorker) tick(ctx context.Context) {
	for i := 0; i < w.batch; i++ {
		ok, err := w.reverseOne(ctx)
		if err != nil {
			log.Warnw("reversal processing", "err", err.Error())
			return
		}
		if !ok {
			return
		}
	}
}

// reverseOne claims one transaction owed a reversal and dispatches it,
// or escalates it to an operator once the attempt budget is spent.
// Returns false when nothing is due.
func (w *ReversalWorker) reverseOne(ctx context.Context) (bool, error) {
	job, err := w.store.NextDueReversal(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	defer job.Close(ctx)

	txn := job.Txn
	if job.Exhausted {
		log.Errorw(fmt.Errorf("transaction %d: reversal attempts exhausted", txn.ID),
			"escalating to manual settlement")
		return true, job.Exhaust(ctx)
	}

	resp, err := w.gip.Reversal(ctx, gateway.TransferRequestFromTransaction(txn))
	if err != nil {
		// rollback; the row stays claimable for the next tick
		return false, fmt.Errorf("dispatch reversal for transaction %d: %w", txn.ID, err)
	}
	if err := job.MarkDispatched(ctx, resp); err != nil {
		return false, err
	}
	log.Infow("reversal dispatched",
		"transaction", txn.ID, "session", txn.SessionID, "attempt", txn.ReversalAttempts)
	return true, nil
}
