// Error taxonomy mapping onto the HTTP boundary: every handler returns one
// of these sentinel-wrapped codes and writeError renders it as a stable,
// stack-trace-free JSON body with the matching status, with a named error
// code alongside the human message so clients can switch on code rather
// than parsing prose.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Code is one of the stable taxonomy labels clients can switch on.
type Code string

const (
	CodeAuthRequired = "AuthRequired"
	CodeAuthInvalid = "AuthInvalid"
	CodeForbidden = "Forbidden"
	CodeNotFound = "NotFound"
	CodeInvalid = "Invalid"
	CodeConflict = "Conflict"
	CodeRateLimited = "RateLimited"
	CodeUnavailable = "Unavailable"
	CodeInternal = "Internal"
)

var codeStatus = map[Code]int{
	CodeAuthRequired: http.StatusUnauthorized,
	CodeAuthInvalid: http.StatusUnauthorized,
	CodeForbidden: http.StatusForbidden,
	CodeNotFound: http.StatusNotFound,
	CodeInvalid: http.StatusBadRequest,
	CodeConflict: http.StatusConflict,
	CodeRateLimited: http.StatusTooManyRequests,
	CodeUnavailable: http.StatusServiceUnavailable,
	CodeInternal: http.StatusInternalServerError,
}

// apiError is a taxonomy-coded error a handler can return and have
// writeError render correctly, without every handler re-deriving a status
// code from scratch.
type apiError struct {
	code Code
	message string
}

func (e *apiError) Error() string { return e.message }
// newAPIError builds an apiError. Handlers construct one directly when
// they know the taxonomy label up front (e.g. a validation failure);
// mapStoreErr below covers the common case of translating a lower-layer
// sentinel.
func newAPIError(code Code, message string) error {
	return &apiError{code: code, message: message}
}

func errAuthRequired(msg string) error { return newAPIError(CodeAuthRequired, msg) }
func errForbidden(msg string) error { return newAPIError(CodeForbidden, msg) }
func errInvalid(msg string) error { return newAPIError(CodeInvalid, msg) }
func errNotFound(msg string) error { return newAPIError(CodeNotFound, msg) }
func errConflict(msg string) error { return newAPIError(CodeConflict, msg) }
func errUnavailable(msg string) error { return newAPIError(CodeUnavailable, msg) }
func errInternal(msg string) error { return newAPIError(CodeInternal, msg) }

// errorResponse is the stable JSON body every failed request receives.
// The customer never receives a stack trace, a provider error code, or an
// internal identifier.
type errorResponse struct {
	Error string `json:"error"`
	Code string `json:"code"`
}

// writeError renders err as the matching HTTP status and taxonomy code.
// Any error not already an *apiError is treated as CodeInternal and its
// underlying message is NOT echoed to the client — only the generic text
// is, with the real error going to the logger at the call site.
func writeError(w http.ResponseWriter, err error) {
	var ae *apiError
	if !errors.As(err, &ae) {
		ae = &apiError{code: CodeInternal, message: "internal error"}
	}
	status, ok := codeStatus[ae.code]
	if !ok {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: ae.message, Code: string(ae.code)})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
