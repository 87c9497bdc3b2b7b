package workers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/meridianpay/gipswitch/log"
	"github.com/meridianpay/gipswitch/storage"
	"github.com/meridianpay/gipswitch/types"
)

// WebhookConfig tunes the outbound client notification deliverer.
type WebhookConfig struct {
	Interval time.Duration
	Batch    int
	// Timeout bounds each delivery attempt.
	Timeout time.Duration
	// InitialDelay seeds the exponential retry backoff; each retry
	// doubles it up to MaxDelay.
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// SigningSecret keys the HMAC-SHA256 signature sent in the
	// X-Switch-Signature header. Empty disables signing.
	SigningSecret string
}

// DefaultWebhookConfig returns the documented defaults.
func DefaultWebhookConfig() WebhookConfig {
	return WebhookConfig{
		Interval:     5 * time.Second,
		Batch:        10,
		Timeout:      30 * time.Second,
		InitialDelay: 5 * time.Second,
		MaxDelay:     time.Hour,
	}
}

// WebhookDeliverer drains the outbound queue of terminal-state
// notifications, POSTing each payload to the institution's callback
// URL with bounded exponential retry.
type WebhookDeliverer struct {
	store *storage.Store
	cfg   WebhookConfig
	http  *http.Client

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWebhookDeliverer returns a deliverer with the given tuning.
func NewWebhookDeliverer(store *storage.Store, cfg WebhookConfig) *WebhookDeliverer {
	return &WebhookDeliverer{
		store: store,
		cfg:   cfg,
		http:  &http.Client{Timeout: cfg.Timeout},
	}
}

// Start launches the polling loop.
func (w *WebhookDeliverer) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return fmt.Errorf("webhook deliverer already running")
	}
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.cfg.Interval)
		defer ticker.Stop()
		log.Infow("webhook deliverer started", "interval", w.cfg.Interval.String())
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
func (w *WebhookDeliverer) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel == nil {
		return
	}
	w.cancel()
	w.cancel = nil
	w.wg.Wait()
}

func (w *WebhookDeliverer) tick(ctx context.Context) {
	for i := 0; i < w.cfg.Batch; i++ {
		ok, err := w.deliverOne(ctx)
		if err != nil {
			log.Warnw("webhook delivery", "err", err.Error())
			return
		}
		if !ok {
			return
		}
	}
}

// deliverOne claims one due notification and attempts the POST.
// Returns false when nothing is due.
func (w *WebhookDeliverer) deliverOne(ctx context.Context) (bool, error) {
	job, err := w.store.NextDueClientCallback(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	defer job.Close(ctx)

	cb := job.Callback
	code, body, err := w.post(ctx, cb)
	if err == nil && code >= 200 && code < 300 {
		log.Infow("webhook delivered",
			"callback", cb.ID, "transaction", cb.TransactionID, "url", cb.URL,
			"attempt", cb.Attempts+1, "httpCode", code)
		return true, job.Succeed(ctx, code)
	}

	errMsg := fmt.Sprintf("http status %d", code)
	if body != "" {
		errMsg += ": " + body
	}
	if err != nil {
		errMsg = err.Error()
	}
	if cb.Attempts+1 >= cb.MaxAttempts {
		log.Warnw("webhook abandoned",
			"callback", cb.ID, "transaction", cb.TransactionID, "url", cb.URL,
			"attempts", cb.Attempts+1, "err", errMsg)
		return true, job.Fail(ctx, code, errMsg)
	}
	delay := RetryBackoff(w.cfg.InitialDelay, w.cfg.MaxDelay, cb.Attempts)
	log.Infow("webhook retry scheduled",
		"callback", cb.ID, "attempt", cb.Attempts+1, "nextIn", delay.String(), "err", errMsg)
	return true, job.RetryLater(ctx, code, errMsg, delay)
}

// maxBodySnippet bounds how much of the institution's response body is
// kept on a failed delivery attempt.
const maxBodySnippet = 512

// post attempts the delivery and returns the HTTP status with a bounded
// snippet of the response body on non-2xx replies.
func (w *WebhookDeliverer) post(ctx context.Context, cb *types.ClientCallback) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cb.URL, bytes.NewReader(cb.Payload))
	if err != nil {
		return 0, "", fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.cfg.SigningSecret != "" {
		req.Header.Set("X-Switch-Signature", Sign(w.cfg.SigningSecret, cb.Payload))
	}
	resp, err := w.http.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close() //nolint:errcheck
	var snippet string
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodySnippet))
		snippet = string(bytes.TrimSpace(b))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, snippet, nil
}

// Sign returns the hex HMAC-SHA256 of the payload under the secret,
// the value institutions verify on received webhooks.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// RetryBackoff returns initial * 2^attempts capped at max.
func RetryBackoff(initial, max time.Duration, attempts int) time.Duration {
	d := initial
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	return d
}
