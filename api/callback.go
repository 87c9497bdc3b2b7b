package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/meridianpay/gipswitch/log"
	"github.com/meridianpay/gipswitch/types"
)

// gipCallback receives an asynchronous gateway callback, persists it on
// the inbound queue and acknowledges with 200 immediately. All
// interpretation happens later in the callback processor; the gateway
// only needs to know the callback was durably received.
func (a *API) gipCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		ErrMalformedBody.WithErr(err).Write(w)
		return
	}
	var req GipCallbackRequest
	if err := json.Unmarshal(body, &req); err != nil {
		ErrMalformedBody.WithErr(err).Write(w)
		return
	}
	if req.SessionID == "" {
		ErrMissingSessionID.Write(w)
		return
	}

	cb := &types.GipCallback{
		SessionID:      req.SessionID,
		FunctionCode:   types.FunctionCode(req.FunctionCode),
		ActionCode:     req.ActionCode,
		TrackingNumber: req.TrackingNumber,
		Payload:        bytes.TrimSpace(body),
	}
	if err := a.storage.EnqueueCallback(r.Context(), cb); err != nil {
		log.Warnw("enqueue gateway callback",
			"session", req.SessionID, "function", req.FunctionCode, "err", err.Error())
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	log.Infow("gateway callback received",
		"callback", cb.ID, "session", cb.SessionID,
		"function", req.FunctionCode, "actionCode", req.ActionCode)
	httpWriteOK(w)
}

// adminAlerts lists the newest critical audit entries, the queue of
// transactions waiting for manual intervention.
func (a *API) adminAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := a.storage.CriticalAlerts(r.Context(), 100)
	if err != nil {
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	httpWriteJSON(w, Envelope{
		ResponseCode:    "00",
		ResponseMessage: "critical alerts",
		Data:            alerts,
	})
}
