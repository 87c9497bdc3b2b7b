//nolint:lll
package api

import (
	"fmt"
	"net/http"
)

// The custom Error type satisfies the error interface.
// Error() returns a human-readable description of the error.
//
// Error codes in the 40001-49999 range are the caller's fault,
// and they return HTTP Status 400, 401, 404 or 409, whatever is most appropriate.
//
// Error codes 50001-59999 are the server's fault
// and they return HTTP Status 500 or 502, or something else if appropriate.
//
// NEVER change any of the current error codes, only append new errors after the current last 4XXX or 5XXX.
var (
	ErrResourceNotFound    = Error{Code: 40001, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("resource not found")}
	ErrMalformedBody       = Error{Code: 40002, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed JSON body")}
	ErrUnauthorized        = Error{Code: 40003, HTTPstatus: http.StatusUnauthorized, Err: fmt.Errorf("unauthorized")}
	ErrMissingReference    = Error{Code: 40004, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("missing reference number")}
	ErrDuplicateReference  = Error{Code: 40005, HTTPstatus: http.StatusConflict, Err: fmt.Errorf("duplicate reference number")}
	ErrTransactionNotFound = Error{Code: 40006, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("transaction not found")}
	ErrInvalidAmount       = Error{Code: 40007, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("invalid amount")}
	ErrMissingAccount      = Error{Code: 40008, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("missing account details")}
	ErrMissingSessionID    = Error{Code: 40009, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("missing session id")}
	ErrInvalidFunctionCode = Error{Code: 40010, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("invalid function code")}

	ErrMarshalingServerJSONFailed = Error{Code: 50001, HTTPstatus: http.StatusInternalServerError, Err: fmt.Errorf("marshaling (server-side) JSON failed")}
	ErrGenericInternalServerError = Error{Code: 50002, HTTPstatus: http.StatusInternalServerError, Err: fmt.Errorf("internal server error")}
	ErrGatewayUnreachable         = Error{Code: 50003, HTTPstatus: http.StatusBadGateway, Err: fmt.Errorf("clearing gateway unreachable")}
)
