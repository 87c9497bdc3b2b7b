// Package workers holds the background loops of the switch: the inbound
// callback processor, the status-query worker, the reversal worker and
// the client webhook deliverer. All of them coordinate exclusively
// through database row locks, so any number of replicas can run the
// same loops.
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

// CallbackProcessor drains the inbound GIP callback queue and advances
// transactions through the state machine.
type CallbackProcessor struct {
	store    *storage.Store
	gip      gateway.Client
	rules    engine.Rules
	interval time.Duration
	batch    int

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCallbackProcessor returns a processor polling at the given
// interval and draining up to batch callbacks per tick.
func NewCallbackProcessor(store *storage.Store, gip gateway.Client, rules engine.Rules, interval time.Duration, batch int) *CallbackProcessor {
	return &CallbackProcessor{store: store, gip: gip, rules: rules, interval: interval, batch: batch}
}

// Start launches the polling loop. It returns an error if the worker is
// already running.
func (p *CallbackProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return fmt.Errorf("callback processor already running")
	}
	ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		log.Infow("callback processor started", "interval", p.interval.String(), "batch", p.batch)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.drain(ctx)
			}
		}
	}()
	return nil
}

// Stop halts the loop and waits for the in-flight tick.
func (p *CallbackProcessor) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel == nil {
		return
	}
	p.cancel()
	p.cancel = nil
	p.wg.Wait()
}

func (p *CallbackProcessor) drain(ctx context.Context) {
	for i := 0; i < p.batch; i++ {
		ok, err := p.processOne(ctx)
		if err != nil {
			log.Warnw("callback processing", "err", err.Error())
			return
		}
		if !ok {
			return
		}
	}
}

// processOne claims and resolves a single callback. Returns false when
// the queue is empty.
func (p *CallbackProcessor) processOne(ctx context.Context) (bool, error) {
	job, err := p.store.NextPendingCallback(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	defer job.Close(ctx)

	cb := job.Callback
	if job.Txn == nil {
		log.Warnw("callback for unknown session",
			"callback", cb.ID, "session", cb.SessionID, "function", string(cb.FunctionCode))
		return true, job.Resolve(ctx, types.CallbackIgnored)
	}

	d := p.rules.RouteCallback(job.Txn, cb.FunctionCode, cb.ActionCode)
	if err := job.Apply(ctx, d, p.dispatchCredit); err != nil {
		// roll back, then flag the row so a poison callback cannot
		// wedge the queue
		job.Close(ctx)
		if markErr := p.store.MarkCallbackError(ctx, cb.ID, err.Error()); markErr != nil {
			return false, markErr
		}
		return false, err
	}
	log.Infow("callback processed",
		"callback", cb.ID, "transaction", job.Txn.ID, "function", string(cb.FunctionCode),
		"actionCode", cb.ActionCode, "status", string(job.Txn.Status))
	return true, nil
}

// dispatchCredit sends the credit leg inside the storage transaction
// that records the debit outcome.
func (p *CallbackProcessor) dispatchCredit(ctx context.Context, txn *types.Transaction) (*gateway.TransferResponse, error) {
	return p.gip.FundsTransferCredit(ctx, gateway.TransferRequestFromTransaction(txn))
}
