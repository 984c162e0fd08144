// Package auth implements the partner-facing request authentication layer:
// AK/SK signature verification, bearer-token identity resolution, tenant
// resolution, and the per-request northbound context that ties them together.
//
// This file centralizes the error taxonomy. Every failure produced by the
// package carries a stable machine-readable code and maps deterministically
// to an HTTP status, so the transport layer never has to inspect error
// strings.
package auth

import "net/http"

// Code identifies a class of authentication failure.
type Code string

// Authentication failure codes. The first four are collectively
// "authentication failed" (the request never proves possession of the
// secret key); Unauthorized covers token/tenant resolution; StoreError is a
// persistence failure and is deliberately distinct from any not-found
// outcome.
const (
	CodeMissingCredential Code = "missing_credential"
	CodeInvalidTimestamp  Code = "invalid_timestamp"
	CodeSignatureExpired  Code = "signature_expired"
	CodeSignatureInvalid  Code = "signature_invalid"
	CodeUnauthorized      Code = "unauthorized"
	CodeLimitExceeded     Code = "limit_exceeded"
	CodeStoreError        Code = "store_error"
)

// StatusSignatureInvalid is the non-standard status used for signature
// failures so partners can distinguish a bad signature from a bad token.
const StatusSignatureInvalid = 498

// Error is the typed failure returned by every component in this package.
// Message is safe to return to callers; Cause (if any) is for server-side
// logs only.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string { return string(e.Code) + ": " + e.Message }

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.Cause }

// HTTPStatus maps the failure code to the response status the northbound
// surface documents: 401 for missing/ill-formed credentials and token
// failures, 498 for signature mismatch or replay-window violations, 429 for
// throttling, 500 for store failures.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeMissingCredential, CodeInvalidTimestamp, CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeSignatureExpired, CodeSignatureInvalid:
		return StatusSignatureInvalid
	case CodeLimitExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// newError builds an *Error without a cause.
func newError(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// wrapError builds an *Error around an underlying cause.
func wrapError(code Code, msg string, cause error) *Error {
	return &Error{Code: code, Message: msg, Cause: cause}
}
