package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/shopspring/decimal"

	"github.com/meridianpay/gipswitch/types"
)

// captureServer answers every POST with the given response and records
// the last decoded request body.
func captureServer(t *testing.T, resp wireResponse) (*httptest.Server, *wireRequest) {
	t.Helper()
	var last wireRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&last); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Errorf("encode response: %v", err)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &last
}

func TestNameEnquiry(t *testing.T) {
	c := qt.New(t)
	srv, got := captureServer(t, wireResponse{ActionCode: "000", AccountName: "ADA OKONKWO"})
	cl := NewHTTPClient(Config{NECURL: srv.URL})

	resp, err := cl.NameEnquiry(context.Background(), &NameEnquiryRequest{
		DestBankCode: "058",
		DestAccount:  "0123456789",
	})
	c.Assert(err, qt.IsNil)
	c.Assert(resp.ActionCode, qt.Equals, "000")
	c.Assert(resp.AccountName, qt.Equals, "ADA OKONKWO")
	c.Assert(got.FunctionCode, qt.Equals, string(types.FuncNEC))
	c.Assert(got.DestBankCode, qt.Equals, "058")
}

func TestFundsTransferDebit(t *testing.T) {
	c := qt.New(t)
	srv, got := captureServer(t, wireResponse{ActionCode: "000", TrackingNumber: "TRK-1"})
	cl := NewHTTPClient(Config{FTDURL: srv.URL, CallbackURL: "https://switch.example/callback"})

	resp, err := cl.FundsTransferDebit(context.Background(), &TransferRequest{
		SessionID:       "s-1",
		ReferenceNumber: "REF-1",
		SourceBankCode:  "011",
		SourceAccount:   "1111111111",
		DestBankCode:    "058",
		DestAccount:     "0123456789",
		Amount:          decimal.RequireFromString("150.5"),
	})
	c.Assert(err, qt.IsNil)
	c.Assert(resp.TrackingNumber, qt.Equals, "TRK-1")
	c.Assert(got.FunctionCode, qt.Equals, string(types.FuncFTD))
	c.Assert(got.Amount, qt.Equals, "150.50")
	c.Assert(got.CallbackURL, qt.Equals, "https://switch.example/callback")
}

func TestReversalUsesCreditEndpointAndCode(t *testing.T) {
	c := qt.New(t)
	srv, got := captureServer(t, wireResponse{ActionCode: "000"})
	cl := NewHTTPClient(Config{FTCURL: srv.URL})

	_, err := cl.Reversal(context.Background(), &TransferRequest{
		SessionID: "s-1",
		Amount:    decimal.RequireFromString("10"),
	})
	c.Assert(err, qt.IsNil)
	c.Assert(got.FunctionCode, qt.Equals, string(types.FuncReversal))
	c.Assert(got.SessionID, qt.Equals, "s-1")
}

func TestStatusQuery(t *testing.T) {
	c := qt.New(t)
	srv, got := captureServer(t, wireResponse{ActionCode: "000", StatusCode: "990"})
	cl := NewHTTPClient(Config{TSQURL: srv.URL})

	resp, err := cl.StatusQuery(context.Background(), "s-1")
	c.Assert(err, qt.IsNil)
	c.Assert(resp.Code1, qt.Equals, "000")
	c.Assert(resp.Code2, qt.Equals, "990")
	c.Assert(got.FunctionCode, qt.Equals, string(types.FuncTSQ))
	c.Assert(got.SessionID, qt.Equals, "s-1")
}

func TestNon2xxIsError(t *testing.T) {
	c := qt.New(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)
	cl := NewHTTPClient(Config{TSQURL: srv.URL})

	_, err := cl.StatusQuery(context.Background(), "s-1")
	c.Assert(err, qt.IsNotNil)
	c.Assert(err, qt.ErrorMatches, `.*status 502.*`)
}

func TestCallTimeout(t *testing.T) {
	c := qt.New(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	t.Cleanup(srv.Close)
	cl := NewHTTPClient(Config{TSQURL: srv.URL, Timeout: 50 * time.Millisecond})

	_, err := cl.StatusQuery(context.Background(), "s-1")
	c.Assert(err, qt.IsNotNil)
}

func TestNameEnquiryTimeoutIsSeparate(t *testing.T) {
	c := qt.New(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(wireResponse{ActionCode: "000"})
	}))
	t.Cleanup(srv.Close)
	cl := NewHTTPClient(Config{
		NECURL:     srv.URL,
		TSQURL:     srv.URL,
		Timeout:    30 * time.Millisecond,
		NECTimeout: time.Second,
	})

	// the transfer budget is exhausted, the enquiry budget is not
	_, err := cl.StatusQuery(context.Background(), "s-1")
	c.Assert(err, qt.IsNotNil)
	resp, err := cl.NameEnquiry(context.Background(), &NameEnquiryRequest{DestBankCode: "058", DestAccount: "1"})
	c.Assert(err, qt.IsNil)
	c.Assert(resp.ActionCode, qt.Equals, "000")
}
