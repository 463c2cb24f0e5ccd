// Package activation implements the capability-gated activation
// protocol: channel signature verification, operator TOTP checks,
// capsule validation, replay suppression, quota consumption and
// license issuance.  The orchestrator sequences these as a fixed
// pipeline of fail-closed steps; the only writes happen in the
// final commit unit.
package activation

import "net/http"

// Code is a symbolic protocol error code.  Every rejected request
// maps to exactly one code; infrastructure faults are reported
// separately as plain errors so clients can tell a safe-to-retry
// rejection from a failed commit.
type Code string

// Protocol error codes.  The set is closed: handlers translate
// codes to HTTP statuses and never invent new ones ad hoc.
const (
    CodeMissingHeader       Code = "MISSING_HEADER"
    CodeEmptyBody           Code = "EMPTY_BODY"
    CodeInvalidJSON         Code = "INVALID_JSON"
    CodeInvalidPayload      Code = "INVALID_PAYLOAD"
    CodeChannelMismatch     Code = "CHANNEL_MISMATCH"
    CodeTimestampOutOfRange Code = "TIMESTAMP_OUT_OF_RANGE"
    CodeNonceTooShort       Code = "NONCE_TOO_SHORT"
    CodeChannelDisabled     Code = "CHANNEL_DISABLED"
    CodeChannelKeyMissing   Code = "CHANNEL_KEY_MISSING"
    CodeKeyLoadFailed       Code = "KEY_LOAD_FAILED"
    CodeSignatureInvalid    Code = "SIGNATURE_INVALID"
    CodeNonceReplay         Code = "NONCE_REPLAY"
    CodeTOTPReused          Code = "TOTP_REUSED"
    CodeSubaccountInvalid   Code = "SUBACCOUNT_INVALID"
    CodeTOTPFailed          Code = "TOTP_FAILED"
    CodeCACInvalid          Code = "CAC_INVALID"
    CodeCACChannelMismatch  Code = "CAC_CHANNEL_MISMATCH"
    CodeCACNotYetValid      Code = "CAC_NOT_YET_VALID"
    CodeCACExpired          Code = "CAC_EXPIRED"
    CodeScopeViolation      Code = "SCOPE_VIOLATION"
    CodeAlreadyActivated    Code = "ALREADY_ACTIVATED"
)

// Denial is a terminal protocol rejection.  It is safe for the
// caller to retry with a fresh nonce and code; nothing has been
// written.  Denial implements error so pipeline steps can return
// it through ordinary error plumbing.
type Denial struct {
    Code    Code
    Message string
}

// Error implements the error interface.
func (d *Denial) Error() string { return string(d.Code) + ": " + d.Message }

// Deny builds a Denial for the given code and message.
func Deny(code Code, message string) *Denial {
    return &Denial{Code: code, Message: message}
}

// httpStatus maps each protocol code to its failure class.  Codes
// absent from the map fall back to 400.
var httpStatus = map[Code]int{
    CodeMissingHeader:       http.StatusBadRequest,
    CodeEmptyBody:           http.StatusBadRequest,
    CodeInvalidJSON:         http.StatusBadRequest,
    CodeInvalidPayload:      http.StatusBadRequest,
    CodeChannelMismatch:     http.StatusBadRequest,
    CodeTimestampOutOfRange: http.StatusBadRequest,
    CodeNonceTooShort:       http.StatusBadRequest,
    CodeChannelDisabled:     http.StatusForbidden,
    CodeChannelKeyMissing:   http.StatusUnauthorized,
    CodeKeyLoadFailed:       http.StatusInternalServerError,
    CodeSignatureInvalid:    http.StatusUnauthorized,
    CodeNonceReplay:         http.StatusConflict,
    CodeTOTPReused:          http.StatusConflict,
    CodeSubaccountInvalid:   http.StatusUnauthorized,
    CodeTOTPFailed:          http.StatusUnauthorized,
    CodeCACInvalid:          http.StatusUnprocessableEntity,
    CodeCACChannelMismatch:  http.StatusUnprocessableEntity,
    CodeCACNotYetValid:      http.StatusUnprocessableEntity,
    CodeCACExpired:          http.StatusUnprocessableEntity,
    CodeScopeViolation:      http.StatusForbidden,
    CodeAlreadyActivated:    http.StatusConflict,
}

// HTTPStatus returns the HTTP status for a denial.
func (d *Denial) HTTPStatus() int {
    if s, ok := httpStatus[d.Code]; ok {
        return s
    }
    return http.StatusBadRequest
}
