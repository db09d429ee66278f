// Package payment wraps the Paystack transaction API and its webhook signature.
package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zeroxmods/certmint/pkg/errs"
	"github.com/zeroxmods/certmint/pkg/httpx"
)

// ErrGatewayUnavailable is wrapped by every transport or 5xx failure.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// SignatureHeader 为 Paystack webhook 签名头
const SignatureHeader = "X-Paystack-Signature"

// Gateway 支付网关接口
type Gateway interface {
	InitializeTransaction(ctx context.Context, req InitRequest) (*InitResult, error)
	VerifyTransaction(ctx context.Context, reference string) (*Transaction, error)
	VerifyWebhookSignature(signature string, rawBody []byte) bool
}

// InitRequest starts a hosted checkout.
type InitRequest struct {
	Email       string
	AmountCents int64
	Reference   string
	Currency    string
	Metadata    map[string]string
}

// InitResult 托管支付页
type InitResult struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// Transaction is the subset of a verified transaction the pipeline relies on.
type Transaction struct {
	Reference string    `json:"reference"`
	Status    string    `json:"status"`
	Amount    int64     `json:"amount"`
	Currency  string    `json:"currency"`
	PaidAt    time.Time `json:"paid_at"`
}

// Succeeded reports whether the gateway settled the charge.
func (t *Transaction) Succeeded() bool { return t.Status == "success" }

// Config Paystack 参数
type Config struct {
	BaseURL       string
	SecretKey     string
	WebhookSecret string
	CallbackURL   string
	Timeout       time.Duration
}

// Paystack implements Gateway over the REST API.
type Paystack struct {
	cfg    Config
	client *http.Client
}

func NewPaystack(cfg Config) *Paystack {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.paystack.co"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.WebhookSecret == "" {
		cfg.WebhookSecret = cfg.SecretKey
	}
	return &Paystack{cfg: cfg, client: httpx.NewClient(cfg.Timeout)}
}

type envelope[T any] struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

func (p *Paystack) InitializeTransaction(ctx context.Context, req InitRequest) (*InitResult, error) {
	const op = "payment.InitializeTransaction"
	if req.Email == "" || req.Reference == "" || req.AmountCents <= 0 {
		return nil, errs.Ef(errs.InvalidInput, op, "email, reference and a positive amount are required")
	}
	if p.cfg.SecretKey == "" {
		return nil, errs.E(errs.ServiceUnavailable, op, ErrGatewayUnavailable)
	}
	body := map[string]any{
		"email":     req.Email,
		"amount":    req.AmountCents,
		"reference": req.Reference,
		"currency":  req.Currency,
		"metadata":  req.Metadata,
	}
	if p.cfg.CallbackURL != "" {
		body["callback_url"] = p.cfg.CallbackURL
	}
	var out envelope[InitResult]
	if err := p.do(ctx, op, http.MethodPost, "/transaction/initialize", body, &out); err != nil {
		return nil, err
	}
	if !out.Status || out.Data.AuthorizationURL == "" {
		return nil, errs.Ef(errs.InvalidInput, op, "gateway rejected transaction: %s", out.Message)
	}
	if out.Data.Reference == "" {
		out.Data.Reference = req.Reference
	}
	return &out.Data, nil
}

func (p *Paystack) VerifyTransaction(ctx context.Context, reference string) (*Transaction, error) {
	const op = "payment.VerifyTransaction"
	if reference == "" {
		return nil, errs.Ef(errs.InvalidInput, op, "reference is required")
	}
	if p.cfg.SecretKey == "" {
		return nil, errs.E(errs.ServiceUnavailable, op, ErrGatewayUnavailable)
	}
	var out envelope[Transaction]
	if err := p.do(ctx, op, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil, &out); err != nil {
		return nil, err
	}
	if !out.Status {
		return nil, errs.Ef(errs.InvalidInput, op, "verify failed: %s", out.Message)
	}
	return &out.Data, nil
}

func (p *Paystack) do(ctx context.Context, op, method, path string, body, out any) error {
	err := httpx.DoJSON(ctx, p.client, httpx.Request{
		Op:     op,
		Method: method,
		URL:    p.cfg.BaseURL + path,
		Header: http.Header{"Authorization": []string{"Bearer " + p.cfg.SecretKey}},
		Body:   body,
	}, out)
	if err != nil && errs.Retryable(err) {
		return errs.E(errs.ServiceUnavailable, op, errors.Join(ErrGatewayUnavailable, err))
	}
	return err
}

func (p *Paystack) VerifyWebhookSignature(signature string, rawBody []byte) bool {
	return VerifySignature(p.cfg.WebhookSecret, signature, rawBody)
}

// VerifySignature checks a hex HMAC-SHA512 of rawBody. An empty secret or
// signature, or one that is not hex, is always rejected.
func VerifySignature(secret, signature string, rawBody []byte) bool {
	if secret == "" || signature == "" {
		return false
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	return hmac.Equal(got, Sign(secret, rawBody))
}

// Sign returns the raw HMAC-SHA512 of body.
func Sign(secret string, body []byte) []byte {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

// SignHex is Sign encoded the way the gateway sends it.
func SignHex(secret string, body []byte) string {
	return hex.EncodeToString(Sign(secret, body))
}

// WebhookEvent 为 webhook 载荷
type WebhookEvent struct {
	Event string      `json:"event"`
	Data  Transaction `json:"data"`
}
