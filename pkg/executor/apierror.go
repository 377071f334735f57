// Package executor exposes the vault over authenticated HTTP: it translates
// requests into vault operations and maps vault failures to stable error
// codes upstream decision-makers can act on.
package executor

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/agentpay/vault/pkg/vault"
)

// Stable error codes surfaced to the Brain and dashboards. Balance-related
// failures collapse into one code so a doomed execution can be pre-empted.
const (
	CodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeInvoiceNotFound     = "INVOICE_NOT_FOUND"
	CodeConditionNotMet     = "CONDITION_NOT_MET"
	CodeAlreadyPaid         = "ALREADY_PAID"
	CodeInvalidRequest      = "INVALID_REQUEST"
	CodeInternal            = "INTERNAL"
)

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs). All
// error responses use this format; Code carries the stable machine-readable
// error code.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Code     string `json:"code,omitempty"`
	Instance string `json:"instance,omitempty"`
	TraceID  string `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

// WriteError writes an RFC 7807 Problem Detail JSON response.
func WriteError(w http.ResponseWriter, status int, title, code, detail string) {
	problem := &ProblemDetail{
		Type:   fmt.Sprintf("https://agentpay.dev/errors/%d", status),
		Title:  title,
		Status: status,
		Detail: detail,
		Code:   code,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

// WriteBadRequest writes a 400 error response.
func WriteBadRequest(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusBadRequest, "Bad Request", CodeInvalidRequest, detail)
}

// WriteUnauthorized writes a 401 error response.
func WriteUnauthorized(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "Authentication required"
	}
	WriteError(w, http.StatusUnauthorized, "Unauthorized", CodeUnauthorized, detail)
}

// WriteMethodNotAllowed writes a 405 error response.
func WriteMethodNotAllowed(w http.ResponseWriter) {
	WriteError(w, http.StatusMethodNotAllowed, "Method Not Allowed", CodeInvalidRequest, "The HTTP method is not supported for this endpoint")
}

// WriteTooManyRequests writes a 429 error response with Retry-After header.
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	WriteError(w, http.StatusTooManyRequests, "Too Many Requests", CodeInvalidRequest, "Rate limit exceeded. Retry after the specified interval.")
}

// WriteInternal writes a 500 error response. The err is logged, never exposed.
func WriteInternal(w http.ResponseWriter, err error) {
	slog.Error("internal server error", "error", err)
	WriteError(w, http.StatusInternalServerError, "Internal Server Error", CodeInternal, "An unexpected error occurred. Please try again later.")
}

// WriteVaultError maps a vault failure to its HTTP status and stable code.
func WriteVaultError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, vault.ErrInsufficientFunds), errors.Is(err, vault.ErrTransferFailed):
		WriteError(w, http.StatusPaymentRequired, "Payment Required", CodeInsufficientBalance, err.Error())
	case errors.Is(err, vault.ErrUnauthorized), errors.Is(err, vault.ErrReentrancy):
		WriteError(w, http.StatusForbidden, "Forbidden", CodeUnauthorized, err.Error())
	case errors.Is(err, vault.ErrInvoiceNotFound):
		WriteError(w, http.StatusNotFound, "Not Found", CodeInvoiceNotFound, err.Error())
	case errors.Is(err, vault.ErrConditionNotMet):
		WriteError(w, http.StatusConflict, "Conflict", CodeConditionNotMet, err.Error())
	case errors.Is(err, vault.ErrAlreadyPaidOrEmpty):
		WriteError(w, http.StatusConflict, "Conflict", CodeAlreadyPaid, err.Error())
	case errors.Is(err, vault.ErrInvalidAmount), errors.Is(err, vault.ErrInvalidRecipient), errors.Is(err, vault.ErrZeroAddress):
		WriteBadRequest(w, err.Error())
	default:
		WriteInternal(w, err)
	}
}
