// Command braind runs the condition monitor: it tracks invoice conditions
// and drives the executor once a condition is confirmed.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/agentpay/vault/pkg/brain"
	"github.com/agentpay/vault/pkg/config"
	"github.com/agentpay/vault/pkg/token"
)

func main() {
	os.Exit(Run(os.Stderr))
}

// Run starts the brain service.
func Run(stderr io.Writer) int {
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	identity := os.Getenv("BRAIN_IDENTITY")
	if identity == "" {
		identity = cfg.OwnerIdentity
	}
	if identity == "" {
		_, _ = fmt.Fprintln(stderr, "BRAIN_IDENTITY or OWNER_IDENTITY is required")
		return 1
	}

	client := brain.NewHTTPClient(cfg.ExecutorURL, identity, []byte(cfg.JWTSigningKey))
	monitor := brain.NewMonitor(client).WithLogger(logger)

	port := os.Getenv("BRAIN_PORT")
	if port == "" {
		port = "5000"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/api/create-payment", handleCreatePayment(monitor))
	mux.HandleFunc("/api/process-invoice", handleProcessInvoice(monitor))
	mux.HandleFunc("/api/confirm-condition", handleConfirmCondition(monitor))
	mux.HandleFunc("/api/payment-status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, monitor.States())
	})

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("brain listening", "port", port, "executor", cfg.ExecutorURL)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		logger.Error("server failed", "error", err)
		return 1
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}
	return 0
}

type createPaymentRequest struct {
	InvoiceID        string `json:"invoiceId"`
	RecipientAddress string `json:"recipientAddress"`
	Amount           string `json:"amount"`
}

func handleCreatePayment(monitor *brain.Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		var req createPaymentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.InvoiceID == "" {
			writeError(w, http.StatusBadRequest, "invoiceId, recipientAddress and amount are required")
			return
		}
		amount, err := token.ParseUnits(req.Amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		err = monitor.CreatePayment(r.Context(), req.InvoiceID, req.RecipientAddress, amount)
		switch {
		case errors.Is(err, brain.ErrDuplicateInvoice):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, brain.ErrInsufficientBalance):
			writeError(w, http.StatusPaymentRequired, err.Error())
		case err != nil:
			writeError(w, http.StatusBadGateway, err.Error())
		default:
			writeJSON(w, http.StatusCreated, map[string]string{
				"invoiceId": req.InvoiceID,
				"status":    string(brain.StatePending),
			})
		}
	}
}

type invoiceRequest struct {
	InvoiceID string `json:"invoiceId"`
}

func handleProcessInvoice(monitor *brain.Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeInvoice(w, r)
		if !ok {
			return
		}
		if err := monitor.StartMonitoring(r.Context(), req.InvoiceID); err != nil {
			if errors.Is(err, brain.ErrUnknownInvoice) {
				writeError(w, http.StatusNotFound, err.Error())
				return
			}
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		state, _ := monitor.State(req.InvoiceID)
		writeJSON(w, http.StatusOK, map[string]string{"invoiceId": req.InvoiceID, "status": string(state)})
	}
}

func handleConfirmCondition(monitor *brain.Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeInvoice(w, r)
		if !ok {
			return
		}
		if err := monitor.ConfirmCondition(r.Context(), req.InvoiceID); err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		state, tracked := monitor.State(req.InvoiceID)
		if !tracked {
			writeJSON(w, http.StatusOK, map[string]string{"invoiceId": req.InvoiceID, "status": "CONFIRMATION_RECORDED"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"invoiceId": req.InvoiceID, "status": string(state)})
	}
}

func decodeInvoice(w http.ResponseWriter, r *http.Request) (invoiceRequest, bool) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return invoiceRequest{}, false
	}
	var req invoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.InvoiceID) == "" {
		writeError(w, http.StatusBadRequest, "invoiceId is required")
		return invoiceRequest{}, false
	}
	return req, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"error": detail})
}
