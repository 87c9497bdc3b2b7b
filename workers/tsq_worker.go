package workers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/meridianpay/gipswitch/engine"
	"github.com/meridianpay/gipswitch/gateway"
	"github.com/meridianpay/gipswitch/log"
	"github.com/meridianpay/gipswitch/storage"
	"github.com/meridianpay/gipswitch/types"
)

// TSQWorker escalates legs whose callback deadline lapsed and resolves
// transactions parked for a transaction status query. The TSQ response
// is authoritative: it can complete, fail or reschedule the leg.
type TSQWorker struct {
	store    *storage.Store
	gip      gateway.Client
	rules    engine.Rules
	interval time.Duration
	batch    int

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTSQWorker returns a worker polling at the given interval.
func NewTSQWorker(store *storage.Store, gip gateway.Client, rules engine.Rules, interval time.Duration, batch int) *TSQWorker {
	return &TSQWorker{store: store, gip: gip, rules: rules, interval: interval, batch: batch}
}

// Start launches the polling loop.
func (w *TSQWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return fmt.Errorf("tsq worker already running")
	}
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		log.Infow("tsq worker started", "interval", w.interval.String())
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
func (w *TSQWorker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel == nil {
		return
	}
	w.cancel()
	w.cancel = nil
	w.wg.Wait()
}

func (w *TSQWorker) tick(ctx context.Context) {
	if swept, err := w.store.SweepTimeouts(ctx, w.batch); err != nil {
		log.Warnw("timeout sweep", "err", err.Error())
	} else if swept > 0 {
		log.Infow("legs timed out", "count", swept)
	}
	for i := 0; i < w.batch; i++ {
		ok, err := w.queryOne(ctx)
		if err != nil {
			log.Warnw("tsq processing", "err", err.Error())
			return
		}
		if !ok {
			return
		}
	}
}

// queryOne claims a due transaction, asks GIP for the authoritative leg
// status and applies the verdict. Returns false when nothing is due.
func (w *TSQWorker) queryOne(ctx context.Context) (bool, error) {
	job, err := w.store.NextDueTSQ(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	defer job.Close(ctx)

	txn := job.Txn
	resp, err := w.gip.StatusQuery(ctx, txn.SessionID)
	if err != nil {
		// rollback uncounts the attempt; the row stays due
		return false, fmt.Errorf("status query for transaction %d: %w", txn.ID, err)
	}

	d := w.rules.ResolveTSQ(txn, resp.Code1, resp.Code2)
	if err := job.Apply(ctx, d, resp.Raw, w.dispatchCredit); err != nil {
		return false, err
	}
	log.Infow("tsq resolved",
		"transaction", txn.ID, "code1", resp.Code1, "code2", resp.Code2,
		"attempts", txn.TSQAttempts, "status", string(txn.Status))
	return true, nil
}

func (w *TSQWorker) dispatchCredit(ctx context.Context, txn *types.Transaction) (*gateway.TransferResponse, error) {
	return w.gip.FundsTransferCredit(ctx, gateway.TransferRequestFromTransaction(txn))
}
