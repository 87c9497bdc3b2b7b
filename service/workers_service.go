package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/meridianpay/gipswitch/engine"
	"github.com/meridianpay/gipswitch/gateway"
	"github.com/meridianpay/gipswitch/log"
	"github.com/meridianpay/gipswitch/storage"
	"github.com/meridianpay/gipswitch/workers"
)

// WorkersConfig tunes the background loop fleet.
type WorkersConfig struct {
	CallbackInterval time.Duration
	CallbackBatch    int
	TSQInterval      time.Duration
	ReversalInterval time.Duration
	Webhook          workers.WebhookConfig
}

// DefaultWorkersConfig returns the documented defaults.
func DefaultWorkersConfig() WorkersConfig {
	return WorkersConfig{
		CallbackInterval: 2 * time.Second,
		CallbackBatch:    10,
		TSQInterval:      5 * time.Second,
		ReversalInterval: 5 * time.Second,
		Webhook:          workers.DefaultWebhookConfig(),
	}
}

// WorkersService supervises the four background loops as one unit.
type WorkersService struct {
	callbacks *workers.CallbackProcessor
	tsq       *workers.TSQWorker
	reversals *workers.ReversalWorker
	webhooks  *workers.WebhookDeliverer

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewWorkers builds the worker fleet over the shared store and gateway
// client.
func NewWorkers(store *storage.Store, gip gateway.Client, rules engine.Rules, cfg WorkersConfig) *WorkersService {
	return &WorkersService{
		callbacks: workers.NewCallbackProcessor(store, gip, rules, cfg.CallbackInterval, cfg.CallbackBatch),
		tsq:       workers.NewTSQWorker(store, gip, rules, cfg.TSQInterval, cfg.CallbackBatch),
		reversals: workers.NewReversalWorker(store, gip, cfg.ReversalInterval, cfg.CallbackBatch),
		webhooks:  workers.NewWebhookDeliverer(store, cfg.Webhook),
	}
}

// Start launches every loop. It returns an error if the service is
// already running or any loop fails to start.
func (ws *WorkersService) Start(ctx context.Context) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.cancel != nil {
		return fmt.Errorf("service already running")
	}
	ctx, ws.cancel = context.WithCancel(ctx)

	for _, start := range []func(context.Context) error{
		ws.callbacks.Start,
		ws.tsq.Start,
		ws.reversals.Start,
		ws.webhooks.Start,
	} {
		if err := start(ctx); err != nil {
			ws.stopAll()
			ws.cancel()
			ws.cancel = nil
			return err
		}
	}
	log.Infow("worker fleet started")
	return nil
}

// Stop halts every loop and waits for in-flight ticks.
func (ws *WorkersService) Stop() {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.cancel == nil {
		return
	}
	ws.cancel()
	ws.cancel = nil
	ws.stopAll()
}

func (ws *WorkersService) stopAll() {
	ws.callbacks.Stop()
	ws.tsq.Stop()
	ws.reversals.Stop()
	ws.webhooks.Stop()
}
