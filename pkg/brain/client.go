package brain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/agentpay/vault/pkg/token"
	"github.com/agentpay/vault/pkg/vault"
)

// ExecutorClient is the brain's view of the executor adapter.
type ExecutorClient interface {
	// CheckBalance reports the caller's own ledger balance in smallest units,
	// the balance funding draws from.
	CheckBalance(ctx context.Context) (uint64, error)

	// CreateOnChain funds and registers a payment.
	CreateOnChain(ctx context.Context, invoiceID, recipient string, amount uint64) error

	// TriggerPayment marks the condition fulfilled and executes the payout.
	TriggerPayment(ctx context.Context, invoiceID string) error

	// PaymentStatus returns the vault's authoritative record.
	PaymentStatus(ctx context.Context, invoiceID string) (vault.Payment, error)
}

// APIError is a structured failure from the executor API.
type APIError struct {
	Status int    `json:"status"`
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("executor returned %d (%s): %s", e.Status, e.Code, e.Detail)
}

// HTTPClient talks to a remote executor, minting a bearer token per request.
type HTTPClient struct {
	baseURL    string
	identity   string
	signingKey []byte
	httpClient *http.Client
}

// NewHTTPClient creates a client for the executor at baseURL, authenticating
// as identity with the shared HMAC signing key.
func NewHTTPClient(baseURL, identity string, signingKey []byte) *HTTPClient {
	return &HTTPClient{
		baseURL:    baseURL,
		identity:   identity,
		signingKey: signingKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *HTTPClient) mintToken() (string, error) {
	claims := jwt.MapClaims{
		"identity": c.identity,
		"roles":    []string{"brain"},
		"iat":      time.Now().Unix(),
		"exp":      time.Now().Add(5 * time.Minute).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.signingKey)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	bearer, err := c.mintToken()
	if err != nil {
		return fmt.Errorf("mint token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call executor: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// CheckBalance implements ExecutorClient.
func (c *HTTPClient) CheckBalance(ctx context.Context) (uint64, error) {
	var out struct {
		Units uint64 `json:"units"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/check-balance", nil, &out); err != nil {
		return 0, err
	}
	return out.Units, nil
}

// CreateOnChain implements ExecutorClient.
func (c *HTTPClient) CreateOnChain(ctx context.Context, invoiceID, recipient string, amount uint64) error {
	body := map[string]string{
		"invoiceId":        invoiceID,
		"recipientAddress": recipient,
		"amount":           token.FormatUnits(amount),
	}
	return c.do(ctx, http.MethodPost, "/api/create-on-chain", body, nil)
}

// TriggerPayment implements ExecutorClient.
func (c *HTTPClient) TriggerPayment(ctx context.Context, invoiceID string) error {
	body := map[string]string{"invoiceId": invoiceID}
	return c.do(ctx, http.MethodPost, "/api/trigger-payment", body, nil)
}

// PaymentStatus implements ExecutorClient.
func (c *HTTPClient) PaymentStatus(ctx context.Context, invoiceID string) (vault.Payment, error) {
	var out struct {
		Exists      bool   `json:"exists"`
		Amount      uint64 `json:"amount"`
		Recipient   string `json:"recipient"`
		IsFulfilled bool   `json:"isFulfilled"`
	}
	path := "/api/payment-status?invoiceId=" + url.QueryEscape(invoiceID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return vault.Payment{}, err
	}
	return vault.Payment{
		Exists:      out.Exists,
		Amount:      out.Amount,
		Recipient:   out.Recipient,
		IsFulfilled: out.IsFulfilled,
	}, nil
}
