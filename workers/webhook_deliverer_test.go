package workers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/meridianpay/gipswitch/types"
)

func TestRetryBackoffSchedule(t *testing.T) {
	c := qt.New(t)

	initial := 5 * time.Second
	max := time.Hour
	want := []time.Duration{
		5 * time.Second,
		10 * time.Second,
		20 * time.Second,
		40 * time.Second,
		80 * time.Second,
	}
	for attempts, expected := range want {
		c.Assert(RetryBackoff(initial, max, attempts), qt.Equals, expected,
			qt.Commentf("attempt %d", attempts))
	}
}

func TestRetryBackoffCap(t *testing.T) {
	c := qt.New(t)

	c.Assert(RetryBackoff(5*time.Second, time.Minute, 10), qt.Equals, time.Minute)
	c.Assert(RetryBackoff(2*time.Hour, time.Hour, 1), qt.Equals, time.Hour)
}

func TestPostKeepsRejectionBodySnippet(t *testing.T) {
	c := qt.New(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"maintenance window"}`))
	}))
	t.Cleanup(srv.Close)

	w := NewWebhookDeliverer(nil, DefaultWebhookConfig())
	code, body, err := w.post(context.Background(), &types.ClientCallback{
		URL:     srv.URL,
		Payload: []byte(`{"status":"SUCCESS"}`),
	})
	c.Assert(err, qt.IsNil)
	c.Assert(code, qt.Equals, http.StatusServiceUnavailable)
	c.Assert(body, qt.Equals, `{"error":"maintenance window"}`)
}

func TestPostTruncatesLongRejectionBody(t *testing.T) {
	c := qt.New(t)
	long := strings.Repeat("x", 4096)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(long))
	}))
	t.Cleanup(srv.Close)

	w := NewWebhookDeliverer(nil, DefaultWebhookConfig())
	code, body, err := w.post(context.Background(), &types.ClientCallback{URL: srv.URL})
	c.Assert(err, qt.IsNil)
	c.Assert(code, qt.Equals, http.StatusBadRequest)
	c.Assert(body, qt.HasLen, maxBodySnippet)
}

func TestPostDiscardsSuccessBody(t *testing.T) {
	c := qt.New(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("thanks"))
	}))
	t.Cleanup(srv.Close)

	w := NewWebhookDeliverer(nil, DefaultWebhookConfig())
	code, body, err := w.post(context.Background(), &types.ClientCallback{URL: srv.URL})
	c.Assert(err, qt.IsNil)
	c.Assert(code, qt.Equals, http.StatusOK)
	c.Assert(body, qt.Equals, "")
}

func TestSign(t *testing.T) {
	c := qt.New(t)

	payload := []byte(`{"status":"SUCCESS","transactionId":1}`)
	got := Sign("topsecret", payload)

	mac := hmac.New(sha256.New, []byte("topsecret"))
	mac.Write(payload)
	c.Assert(got, qt.Equals, hex.EncodeToString(mac.Sum(nil)))

	// different secret, different signature
	c.Assert(Sign("other", payload), qt.Not(qt.Equals), got)
}
