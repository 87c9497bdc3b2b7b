package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meridianpay/gipswitch/intake"
	"github.com/meridianpay/gipswitch/log"
	"github.com/meridianpay/gipswitch/storage"
)

// nameEnquiry resolves the destination account holder through GIP.
func (a *API) nameEnquiry(w http.ResponseWriter, r *http.Request) {
	var req NameEnquiryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrMalformedBody.WithErr(err).Write(w)
		return
	}
	resp, err := a.intake.NameEnquiry(r.Context(), req.DestBankCode, req.DestAccount)
	switch {
	case errors.Is(err, intake.ErrInvalidRequest):
		ErrMissingAccount.WithErr(err).Write(w)
		return
	case errors.Is(err, intake.ErrGatewayUnreachable):
		ErrGatewayUnreachable.WithErr(err).Write(w)
		return
	case err != nil:
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	httpWriteJSON(w, Envelope{
		ResponseCode:    resp.ActionCode,
		ResponseMessage: "name enquiry",
		Data: NameEnquiryData{
			ActionCode:  resp.ActionCode,
			AccountName: resp.AccountName,
		},
	})
}

// fundsTransfer accepts a transfer and dispatches the debit leg. The
// response acknowledges acceptance; the outcome arrives later on the
// institution's webhook.
func (a *API) fundsTransfer(w http.ResponseWriter, r *http.Request) {
	cred := institutionFromContext(r.Context())
	var req FundsTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrMalformedBody.WithErr(err).Write(w)
		return
	}
	txn, err := a.intake.FundsTransfer(r.Context(), &intake.TransferRequest{
		InstitutionID:     cred.InstitutionID,
		CredentialID:      cred.APIKey,
		ReferenceNumber:   req.ReferenceNumber,
		CallbackURL:       req.CallbackURL,
		SourceBankCode:    req.SourceBankCode,
		SourceAccount:     req.SourceAccount,
		SourceAccountName: req.SourceAccountName,
		DestBankCode:      req.DestBankCode,
		DestAccount:       req.DestAccount,
		DestAccountName:   req.DestAccountName,
		Amount:            req.Amount,
		Narration:         req.Narration,
	})
	switch {
	case errors.Is(err, intake.ErrInvalidRequest):
		ErrMalformedBody.WithErr(err).Write(w)
		return
	case errors.Is(err, storage.ErrDuplicateReference):
		ErrDuplicateReference.Withf("reference %s", req.ReferenceNumber).Write(w)
		return
	case errors.Is(err, intake.ErrGatewayUnreachable):
		// the row stays INITIATED; report the dispatch failure
		ErrGatewayUnreachable.WithErr(err).Write(w)
		return
	case err != nil:
		log.Warnw("funds transfer failed", "reference", req.ReferenceNumber, "err", err.Error())
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	httpWriteJSON(w, Envelope{
		ResponseCode:    "00",
		ResponseMessage: "transfer accepted",
		Status:          string(txn.Status),
		Data: FundsTransferData{
			TransactionID:   txn.ID,
			ReferenceNumber: txn.ReferenceNumber,
			SessionID:       txn.SessionID,
			Status:          string(txn.Status),
		},
	})
}

// statusQuery reports the state of a transfer by reference.
func (a *API) statusQuery(w http.ResponseWriter, r *http.Request) {
	var req StatusQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrMalformedBody.WithErr(err).Write(w)
		return
	}
	if req.ReferenceNumber == "" {
		ErrMissingReference.Write(w)
		return
	}
	a.writeTransaction(w, r, req.ReferenceNumber, false)
}

// transaction reports one transfer with its full gateway audit trail.
func (a *API) transaction(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, ReferenceURLParam)
	if reference == "" {
		ErrMissingReference.Write(w)
		return
	}
	a.writeTransaction(w, r, reference, true)
}

func (a *API) writeTransaction(w http.ResponseWriter, r *http.Request, reference string, withEvents bool) {
	cred := institutionFromContext(r.Context())
	txn, err := a.intake.TransactionStatus(r.Context(), cred.InstitutionID, reference)
	if errors.Is(err, storage.ErrNotFound) {
		ErrTransactionNotFound.Withf("reference %s", reference).Write(w)
		return
	}
	if err != nil {
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	data := transactionData(txn, nil)
	if withEvents {
		events, err := a.intake.TransactionEvents(r.Context(), txn.ID)
		if err != nil {
			ErrGenericInternalServerError.WithErr(err).Write(w)
			return
		}
		data.Events = events
	}
	httpWriteJSON(w, Envelope{
		ResponseCode:    "00",
		ResponseMessage: "transaction status",
		Status:          data.Status,
		Data:            data,
	})
}
