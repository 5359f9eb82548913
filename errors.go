package keyforge

import (
	"errors"
	"fmt"
)

// ErrorCode identifies the kind of failure reported by the SDK.
type ErrorCode string

// Local token validation failures.
const (
	ErrCodeInvalidToken    ErrorCode = "invalid_token"
	ErrCodeProductMismatch ErrorCode = "product_mismatch"
	ErrCodeDeviceMismatch  ErrorCode = "device_mismatch"
	ErrCodeExpiredLicense  ErrorCode = "expired_license"
	ErrCodeMalformedToken  ErrorCode = "malformed_token"
)

// Failures reported by the license API or the transport.
const (
	ErrCodeNetwork                ErrorCode = "network_error"
	ErrCodeUnknown                ErrorCode = "unknown_error"
	ErrCodeInvalidLicense         ErrorCode = "invalid_license"
	ErrCodeLicenseRevoked         ErrorCode = "license_revoked"
	ErrCodeLicenseExpired         ErrorCode = "license_expired"
	ErrCodeDeviceAlreadyActivated ErrorCode = "device_already_activated"
	ErrCodeMaxDevicesReached      ErrorCode = "max_devices_reached"

	ErrCodeBadRequest          ErrorCode = "bad_request"
	ErrCodeUnauthorized        ErrorCode = "unauthorized"
	ErrCodeForbidden           ErrorCode = "forbidden"
	ErrCodeNotFound            ErrorCode = "not_found"
	ErrCodeTooManyRequests     ErrorCode = "too_many_requests"
	ErrCodeInternalServerError ErrorCode = "internal_server_error"
)

// Failures reported by the admin API.
const (
	ErrCodeInvalidParameters ErrorCode = "invalid_parameters"
	ErrCodeMissingAPIKey     ErrorCode = "missing_api_key"
	ErrCodeInvalidAPIKey     ErrorCode = "invalid_api_key"
	ErrCodeMethodNotAllowed  ErrorCode = "method_not_allowed"
	ErrCodeRateLimitExceeded ErrorCode = "rate_limit_exceeded"
	ErrCodeApplication       ErrorCode = "application_error"
)

var verifyErrorMessages = map[ErrorCode]string{
	ErrCodeInvalidToken:    "The provided token is invalid.",
	ErrCodeExpiredLicense:  "The license has expired.",
	ErrCodeDeviceMismatch:  "The device identifier does not match the license.",
	ErrCodeProductMismatch: "The product ID does not match the license.",
	ErrCodeMalformedToken:  "The provided token is malformed.",
}

// Error is the single error type returned by the SDK for expected failures.
//
// Status is the HTTP status code when the error originates from the API and
// zero otherwise. Err holds the underlying cause, if any.
type Error struct {
	Code    ErrorCode
	Message string
	Status  int
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code, so that
// errors.Is(err, ErrInvalidToken) matches any invalid_token failure.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidToken    = &Error{Code: ErrCodeInvalidToken, Message: verifyErrorMessages[ErrCodeInvalidToken]}
	ErrProductMismatch = &Error{Code: ErrCodeProductMismatch, Message: verifyErrorMessages[ErrCodeProductMismatch]}
	ErrDeviceMismatch  = &Error{Code: ErrCodeDeviceMismatch, Message: verifyErrorMessages[ErrCodeDeviceMismatch]}
	ErrExpiredLicense  = &Error{Code: ErrCodeExpiredLicense, Message: verifyErrorMessages[ErrCodeExpiredLicense]}
	ErrMalformedToken  = &Error{Code: ErrCodeMalformedToken, Message: verifyErrorMessages[ErrCodeMalformedToken]}
	ErrNetwork         = &Error{Code: ErrCodeNetwork, Message: "Failed to fetch"}
)

func newVerifyError(code ErrorCode, cause error) *Error {
	return &Error{Code: code, Message: verifyErrorMessages[code], Err: cause}
}

// CodeOf returns the ErrorCode carried by err, or an empty code when err does
// not wrap an *Error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// RefreshError is returned by ValidateAndRefreshToken when no usable token
// could be produced. DidRefresh reports whether a replacement token was
// fetched before the failure.
type RefreshError struct {
	DidRefresh bool
	Err        error
}

func (e *RefreshError) Error() string {
	if e.DidRefresh {
		return fmt.Sprintf("refreshed token rejected: %v", e.Err)
	}
	return fmt.Sprintf("token rejected: %v", e.Err)
}

func (e *RefreshError) Unwrap() error {
	return e.Err
}
