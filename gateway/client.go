package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/meridianpay/gipswitch/log"
	"github.com/meridianpay/gipswitch/types"
)

// DefaultTimeout bounds every outbound gateway call except name
// enquiries, which get DefaultNECTimeout.
const (
	DefaultTimeout    = 30 * time.Second
	DefaultNECTimeout = time.Minute
)

// wire formats exchanged with GIP. Amounts travel as strings with two
// decimal places.
type wireRequest struct {
	FunctionCode   string `json:"function_code"`
	SessionID      string `json:"session_id,omitempty"`
	TrackingNumber string `json:"tracking_number,omitempty"`
	ReferenceNum   string `json:"reference_number,omitempty"`

	SourceBankCode    string `json:"source_bank_code,omitempty"`
	SourceAccount     string `json:"source_account,omitempty"`
	SourceAccountName string `json:"source_account_name,omitempty"`
	DestBankCode      string `json:"dest_bank_code,omitempty"`
	DestAccount       string `json:"dest_account,omitempty"`
	DestAccountName   string `json:"dest_account_name,omitempty"`

	Amount      string `json:"amount,omitempty"`
	Narration   string `json:"narration,omitempty"`
	CallbackURL string `json:"callback_url,omitempty"`
}

type wireResponse struct {
	ActionCode     string `json:"action_code"`
	StatusCode     string `json:"status_code,omitempty"`
	TrackingNumber string `json:"tracking_number,omitempty"`
	AccountName    string `json:"account_name,omitempty"`
	Message        string `json:"message,omitempty"`
}

// HTTPClient is the production Client implementation.
type HTTPClient struct {
	cfg   Config
	hc    *http.Client
	necHC *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient builds the gateway client. Zero timeouts fall back to
// the package defaults.
func NewHTTPClient(cfg Config) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.NECTimeout <= 0 {
		cfg.NECTimeout = DefaultNECTimeout
	}
	return &HTTPClient{
		cfg:   cfg,
		hc:    &http.Client{Timeout: cfg.Timeout},
		necHC: &http.Client{Timeout: cfg.NECTimeout},
	}
}

func (c *HTTPClient) post(ctx context.Context, hc *http.Client, url string, req *wireRequest) (*wireResponse, json.RawMessage, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal gateway request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("build gateway request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := hc.Do(httpReq)
	if err != nil {
		return nil, nil, fmt.Errorf("gateway call %s: %w", req.FunctionCode, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read gateway response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, fmt.Errorf("gateway call %s: status %d", req.FunctionCode, resp.StatusCode)
	}
	var wr wireResponse
	if err := json.Unmarshal(raw, &wr); err != nil {
		return nil, nil, fmt.Errorf("decode gateway response: %w", err)
	}
	log.Debugw("gateway response",
		"function", req.FunctionCode,
		"session", req.SessionID,
		"actionCode", wr.ActionCode)
	return &wr, raw, nil
}

// NameEnquiry resolves the destination account name (function 230).
func (c *HTTPClient) NameEnquiry(ctx context.Context, req *NameEnquiryRequest) (*NameEnquiryResponse, error) {
	wr, raw, err := c.post(ctx, c.necHC, c.cfg.NECURL, &wireRequest{
		FunctionCode: string(types.FuncNEC),
		DestBankCode: req.DestBankCode,
		DestAccount:  req.DestAccount,
	})
	if err != nil {
		return nil, err
	}
	return &NameEnquiryResponse{
		ActionCode:  wr.ActionCode,
		AccountName: wr.AccountName,
		Raw:         raw,
	}, nil
}

func (c *HTTPClient) transfer(ctx context.Context, url string, fn types.FunctionCode, req *TransferRequest) (*TransferResponse, error) {
	wr, raw, err := c.post(ctx, c.hc, url, &wireRequest{
		FunctionCode:      string(fn),
		SessionID:         req.SessionID,
		TrackingNumber:    req.TrackingNumber,
		ReferenceNum:      req.ReferenceNumber,
		SourceBankCode:    req.SourceBankCode,
		SourceAccount:     req.SourceAccount,
		SourceAccountName: req.SourceAccountName,
		DestBankCode:      req.DestBankCode,
		DestAccount:       req.DestAccount,
		DestAccountName:   req.DestAccountName,
		Amount:            req.Amount.StringFixed(2),
		Narration:         req.Narration,
		CallbackURL:       c.cfg.CallbackURL,
	})
	if err != nil {
		return nil, err
	}
	return &TransferResponse{
		ActionCode:     wr.ActionCode,
		TrackingNumber: wr.TrackingNumber,
		Message:        wr.Message,
		Raw:            raw,
	}, nil
}

// FundsTransferDebit dispatches the debit leg (function 241).
func (c *HTTPClient) FundsTransferDebit(ctx context.Context, req *TransferRequest) (*TransferResponse, error) {
	return c.transfer(ctx, c.cfg.FTDURL, types.FuncFTD, req)
}

// FundsTransferCredit dispatches the credit leg (function 240).
func (c *HTTPClient) FundsTransferCredit(ctx context.Context, req *TransferRequest) (*TransferResponse, error) {
	return c.transfer(ctx, c.cfg.FTCURL, types.FuncFTC, req)
}

// Reversal dispatches the compensating leg (function 242) reusing the
// original session id.
func (c *HTTPClient) Reversal(ctx context.Context, req *TransferRequest) (*TransferResponse, error) {
	return c.transfer(ctx, c.cfg.FTCURL, types.FuncReversal, req)
}

// StatusQuery asks the gateway for the authoritative status of a
// session (function 111).
func (c *HTTPClient) StatusQuery(ctx context.Context, sessionID string) (*TSQResponse, error) {
	wr, raw, err := c.post(ctx, c.hc, c.cfg.TSQURL, &wireRequest{
		FunctionCode: string(types.FuncTSQ),
		SessionID:    sessionID,
	})
	if err != nil {
		return nil, err
	}
	return &TSQResponse{
		Code1: wr.ActionCode,
		Code2: wr.StatusCode,
		Raw:   raw,
	}, nil
}
