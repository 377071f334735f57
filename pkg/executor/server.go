package executor

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/agentpay/vault/pkg/token"
	"github.com/agentpay/vault/pkg/vault"
)

// Server translates authenticated HTTP calls into vault operations. The
// caller identity seen by the vault is always the authenticated principal;
// the server itself holds no privileged role.
type Server struct {
	vault  *vault.Vault
	tok    token.Ledger
	logger *slog.Logger
}

// NewServer creates an executor server for the given vault and token ledger.
func NewServer(v *vault.Vault, tok token.Ledger) *Server {
	return &Server{
		vault:  v,
		tok:    tok,
		logger: slog.Default(),
	}
}

// WithLogger sets the structured logger.
func (s *Server) WithLogger(l *slog.Logger) *Server {
	if l != nil {
		s.logger = l
	}
	return s
}

// Routes returns the bare route mux without middleware. Callers normally use
// Handler instead.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/check-balance", s.handleCheckBalance)
	mux.HandleFunc("/api/create-on-chain", s.handleCreateOnChain)
	mux.HandleFunc("/api/trigger-payment", s.handleTriggerPayment)
	mux.HandleFunc("/api/payment-status", s.handlePaymentStatus)
	return mux
}

// Handler wires the full middleware stack around the routes: request IDs,
// authentication, rate limiting, idempotent replay.
func (s *Server) Handler(validator *JWTValidator, limiter LimiterStore, policy LimitPolicy, idem IdempotencyStorer) http.Handler {
	var h http.Handler = s.Routes()
	if idem != nil {
		h = IdempotencyMiddleware(idem)(h)
	}
	if limiter != nil {
		h = RateLimitMiddleware(limiter, policy)(h)
	}
	if validator != nil {
		h = AuthMiddleware(validator)(h)
	}
	return RequestIDMiddleware(h)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCheckBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	principal, ok := GetPrincipal(r.Context())
	if !ok {
		WriteUnauthorized(w, "")
		return
	}

	// The operating identity's balance is what future funding can draw on;
	// custody is what already backs registered payments.
	units := s.tok.BalanceOf(principal.Identity)
	writeJSON(w, http.StatusOK, map[string]any{
		"balance": token.FormatUnits(units),
		"units":   units,
		"custody": s.vault.CustodyBalance(),
	})
}

type createOnChainRequest struct {
	InvoiceID        string `json:"invoiceId"`
	RecipientAddress string `json:"recipientAddress"`
	Amount           string `json:"amount"`
	FundVia          string `json:"fundVia"`
}

// handleCreateOnChain funds the vault and registers the payment in one call,
// mirroring the create flow the decision layer drives.
func (s *Server) handleCreateOnChain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	principal, ok := GetPrincipal(r.Context())
	if !ok {
		WriteUnauthorized(w, "")
		return
	}

	var req createOnChainRequest
	if err := decodeAndValidate(r.Body, createOnChainValidator, &req); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	units, err := token.ParseUnits(req.Amount)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}

	ctx := r.Context()
	caller := principal.Identity

	switch req.FundVia {
	case "", "manager":
		err = s.vault.DepositFromManager(ctx, caller, units)
	case "self":
		err = s.vault.Deposit(ctx, caller, units)
	case "none":
		// Registration only; custody is already funded.
	}
	if err != nil {
		s.logger.Warn("funding failed", "invoice_id", req.InvoiceID, "caller", caller, "error", err)
		WriteVaultError(w, err)
		return
	}

	if err := s.vault.UpsertPayment(ctx, caller, req.InvoiceID, req.RecipientAddress, units); err != nil {
		WriteVaultError(w, err)
		return
	}

	s.logger.Info("payment registered",
		"invoice_id", req.InvoiceID,
		"recipient", req.RecipientAddress,
		"amount", token.FormatUnits(units),
		"request_id", GetRequestID(ctx))

	writeJSON(w, http.StatusCreated, map[string]any{
		"invoiceId": req.InvoiceID,
		"recipient": req.RecipientAddress,
		"amount":    token.FormatUnits(units),
		"status":    "PENDING_CONDITION",
	})
}

type triggerPaymentRequest struct {
	InvoiceID string `json:"invoiceId"`
}

// handleTriggerPayment marks the invoice condition fulfilled and executes the
// payout in one call.
func (s *Server) handleTriggerPayment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	principal, ok := GetPrincipal(r.Context())
	if !ok {
		WriteUnauthorized(w, "")
		return
	}

	var req triggerPaymentRequest
	if err := decodeAndValidate(r.Body, triggerPaymentValidator, &req); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}

	ctx := r.Context()
	caller := principal.Identity

	if err := s.vault.SetPaymentFulfilled(ctx, caller, req.InvoiceID, true); err != nil {
		WriteVaultError(w, err)
		return
	}
	if err := s.vault.ExecutePayment(ctx, caller, req.InvoiceID); err != nil {
		s.logger.Warn("execution failed", "invoice_id", req.InvoiceID, "caller", caller, "error", err)
		WriteVaultError(w, err)
		return
	}

	paidAt := time.Now().UTC()
	s.logger.Info("payment executed", "invoice_id", req.InvoiceID, "paid_at", paidAt, "request_id", GetRequestID(ctx))

	writeJSON(w, http.StatusOK, map[string]any{
		"invoiceId": req.InvoiceID,
		"status":    "PAID",
		"paidAt":    paidAt.Format(time.RFC3339),
	})
}

func (s *Server) handlePaymentStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	invoiceID := r.URL.Query().Get("invoiceId")
	if invoiceID == "" {
		WriteBadRequest(w, "invoiceId query parameter is required")
		return
	}

	p := s.vault.GetPayment(invoiceID)
	writeJSON(w, http.StatusOK, map[string]any{
		"invoiceId":   invoiceID,
		"exists":      p.Exists,
		"amount":      p.Amount,
		"recipient":   p.Recipient,
		"isFulfilled": p.IsFulfilled,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
