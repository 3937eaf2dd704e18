package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/clinicops/appointment-scheduling/internal/config"
)

var (
	ErrGatewayUnconfigured = errors.New("payment gateway not configured")
	ErrInvalidSignature    = errors.New("invalid webhook signature")
)

// Session is a provider-hosted, time-limited checkout reference.
type Session struct {
	ID         string
	PaymentURL string
	ExpiresAt  time.Time
}

// CheckoutRequest describes the charge for one appointment. Reference is the
// appointment id, carried by the provider as opaque metadata so the callback
// can be attributed.
type CheckoutRequest struct {
	Reference   string
	Amount      int64
	Currency    string
	Description string
	ExpiresAt   time.Time
}

// Gateway is the injected payment-provider capability. Exactly two variants
// exist: the HTTP-backed checkout gateway and Unconfigured; callers branch on
// Configured() instead of nil-checking a client.
type Gateway interface {
	Configured() bool
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*Session, error)
	VerifySignature(payload []byte, signature string) error
}

// NewGateway selects the gateway variant from deploy-time configuration.
func NewGateway(cfg config.Config) Gateway {
	if cfg.PaymentBaseURL == "" || cfg.PaymentAPIKey == "" {
		return Unconfigured{}
	}
	return &checkoutGateway{
		baseURL: strings.TrimRight(cfg.PaymentBaseURL, "/"),
		apiKey:  cfg.PaymentAPIKey,
		secret:  []byte(cfg.PaymentWebhookSecret),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Unconfigured is the documented no-provider fallback variant.
type Unconfigured struct{}

func (Unconfigured) Configured() bool { return false }

func (Unconfigured) CreateCheckoutSession(context.Context, CheckoutRequest) (*Session, error) {
	return nil, ErrGatewayUnconfigured
}

func (Unconfigured) VerifySignature([]byte, string) error {
	return ErrGatewayUnconfigured
}

type checkoutGateway struct {
	baseURL string
	apiKey  string
	secret  []byte
	client  *http.Client
}

func (g *checkoutGateway) Configured() bool { return true }

type createSessionRequest struct {
	Reference   string            `json:"reference"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Description string            `json:"description,omitempty"`
	ExpiresAt   time.Time         `json:"expires_at"`
	Metadata    map[string]string `json:"metadata"`
}

type createSessionResponse struct {
	ID         string    `json:"id"`
	PaymentURL string    `json:"payment_url"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func (g *checkoutGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*Session, error) {
	body, err := json.Marshal(createSessionRequest{
		Reference:   req.Reference,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Description: req.Description,
		ExpiresAt:   req.ExpiresAt,
		Metadata:    map[string]string{"appointment_id": req.Reference},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal checkout request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/checkout/sessions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build checkout request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call payment provider: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read provider response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("payment provider returned %d: %s", resp.StatusCode, respBody)
	}

	var out createSessionResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("decode provider response: %w", err)
	}
	if out.ID == "" || out.PaymentURL == "" {
		return nil, fmt.Errorf("provider response missing session id or payment url")
	}

	return &Session{
		ID:         out.ID,
		PaymentURL: out.PaymentURL,
		ExpiresAt:  out.ExpiresAt,
	}, nil
}

// VerifySignature checks the provider's HMAC-SHA256 hex signature over the
// raw callback body. An optional "sha256=" prefix is tolerated.
func (g *checkoutGateway) VerifySignature(payload []byte, signature string) error {
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	if signature == "" {
		return ErrInvalidSignature
	}

	provided, err := hex.DecodeString(signature)
	if err != nil {
		return ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, g.secret)
	mac.Write(payload)
	if !hmac.Equal(provided, mac.Sum(nil)) {
		return ErrInvalidSignature
	}
	return nil
}
