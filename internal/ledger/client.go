// Package ledger talks to a Hedera token-service gateway: collection
// creation, NFT minting, account freeze/unfreeze and transaction receipts.
package ledger

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/zeroxmods/certmint/pkg/errs"
	"github.com/zeroxmods/certmint/pkg/httpx"
)

// Client 账本客户端接口（测试中以 fake 替换）
type Client interface {
	CreateToken(ctx context.Context, spec TokenSpec) (string, error)
	Mint(ctx context.Context, req MintRequest) (*Receipt, error)
	Freeze(ctx context.Context, tokenID, accountID string) (*Receipt, error)
	Unfreeze(ctx context.Context, tokenID, accountID string) (*Receipt, error)
	GetReceipt(ctx context.Context, transactionID string) (*Receipt, error)
}

// TokenSpec describes an NFT collection. The treasury is the operator account.
type TokenSpec struct {
	Name          string `json:"name"`
	Symbol        string `json:"symbol"`
	Memo          string `json:"memo,omitempty"`
	FreezeDefault bool   `json:"freeze_default"`
	FreezeKey     bool   `json:"freeze_key"`
	WipeKey       bool   `json:"wipe_key"`
}

// MintRequest mints one serial of TokenID carrying Metadata.
type MintRequest struct {
	TokenID        string
	Metadata       []byte
	Memo           string
	IdempotencyKey string
	// Frozen leaves the serial frozen on the treasury account.
	Frozen bool
}

// Receipt 交易回执
type Receipt struct {
	Status        string  `json:"status"`
	TokenID       string  `json:"token_id"`
	TransactionID string  `json:"transaction_id"`
	SerialNumbers []int64 `json:"serial_numbers"`
}

// Serial returns the first minted serial number.
func (r *Receipt) Serial() int64 {
	if len(r.SerialNumbers) == 0 {
		return 0
	}
	return r.SerialNumbers[0]
}

const statusSuccess = "SUCCESS"

// transient receipt statuses worth retrying
var retryableStatuses = map[string]bool{
	"BUSY":                             true,
	"PLATFORM_TRANSACTION_NOT_CREATED": true,
	"PLATFORM_NOT_ACTIVE":              true,
	"TRANSACTION_EXPIRED":              true,
	"UNKNOWN":                          true,
	"RECEIPT_NOT_FOUND":                true,
	"INSUFFICIENT_TX_FEE":              true,
	"THROTTLED_AT_CONSENSUS":           true,
	"CONSENSUS_GAS_EXHAUSTED":          true,
	"MAX_ENTITIES_IN_PRICE_REGIME_HAVE_BEEN_CREATED": true,
}

// Config HTTP 网关参数
type Config struct {
	GatewayURL         string
	OperatorAccountID  string
	OperatorPrivateKey string
	Timeout            time.Duration
}

// HTTPClient signs every request with the operator's ed25519 key.
type HTTPClient struct {
	baseURL   string
	accountID string
	key       ed25519.PrivateKey
	client    *http.Client
	now       func() time.Time
}

// derPrefix is the PKCS#8 header Hedera prepends to ed25519 private keys.
const derPrefix = "302e020100300506032b657004220420"

// ParsePrivateKey accepts a raw or DER-prefixed hex ed25519 key.
func ParsePrivateKey(s string) (ed25519.PrivateKey, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	s = strings.TrimPrefix(strings.ToLower(s), derPrefix)
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode operator key: %w", err)
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	default:
		return nil, fmt.Errorf("operator key has %d bytes", len(raw))
	}
}

// NewHTTPClient 创建网关客户端；私钥为空时不签名（仅限本地网关）
func NewHTTPClient(cfg Config) (*HTTPClient, error) {
	if cfg.GatewayURL == "" {
		return nil, errors.New("ledger gateway url is empty")
	}
	c := &HTTPClient{
		baseURL:   strings.TrimRight(cfg.GatewayURL, "/"),
		accountID: cfg.OperatorAccountID,
		client:    httpx.NewClient(cfg.Timeout),
		now:       time.Now,
	}
	if cfg.OperatorPrivateKey != "" {
		key, err := ParsePrivateKey(cfg.OperatorPrivateKey)
		if err != nil {
			return nil, err
		}
		c.key = key
	}
	return c, nil
}

func (c *HTTPClient) CreateToken(ctx context.Context, spec TokenSpec) (string, error) {
	const op = "ledger.CreateToken"
	if spec.Name == "" || spec.Symbol == "" {
		return "", errs.Ef(errs.InvalidInput, op, "token name and symbol are required")
	}
	body := struct {
		TokenSpec
		Treasury string `json:"treasury_account_id"`
	}{spec, c.accountID}
	var rec Receipt
	if err := c.post(ctx, op, "/api/v1/tokens", "", body, &rec); err != nil {
		return "", err
	}
	if err := checkStatus(op, &rec); err != nil {
		return "", err
	}
	if rec.TokenID == "" {
		return "", errs.Ef(errs.ServiceUnavailable, op, "gateway returned no token id")
	}
	return rec.TokenID, nil
}

func (c *HTTPClient) Mint(ctx context.Context, req MintRequest) (*Receipt, error) {
	const op = "ledger.Mint"
	if req.TokenID == "" {
		return nil, errs.Ef(errs.InvalidInput, op, "token id is required")
	}
	// Hedera caps NFT metadata at 100 bytes
	if len(req.Metadata) == 0 || len(req.Metadata) > 100 {
		return nil, errs.Ef(errs.InvalidInput, op, "metadata must be 1..100 bytes, got %d", len(req.Metadata))
	}
	body := map[string]any{
		"metadata": [][]byte{req.Metadata},
		"memo":     req.Memo,
		"freeze":   req.Frozen,
	}
	var rec Receipt
	path := "/api/v1/tokens/" + url.PathEscape(req.TokenID) + "/mint"
	if err := c.post(ctx, op, path, req.IdempotencyKey, body, &rec); err != nil {
		return nil, err
	}
	if err := checkStatus(op, &rec); err != nil {
		return nil, err
	}
	if rec.TransactionID == "" || len(rec.SerialNumbers) == 0 {
		return nil, errs.Ef(errs.ServiceUnavailable, op, "incomplete receipt for %s", req.TokenID)
	}
	if rec.TokenID == "" {
		rec.TokenID = req.TokenID
	}
	return &rec, nil
}

func (c *HTTPClient) Freeze(ctx context.Context, tokenID, accountID string) (*Receipt, error) {
	return c.freeze(ctx, "ledger.Freeze", "freeze", tokenID, accountID)
}

func (c *HTTPClient) Unfreeze(ctx context.Context, tokenID, accountID string) (*Receipt, error) {
	return c.freeze(ctx, "ledger.Unfreeze", "unfreeze", tokenID, accountID)
}

func (c *HTTPClient) freeze(ctx context.Context, op, action, tokenID, accountID string) (*Receipt, error) {
	if tokenID == "" || accountID == "" {
		return nil, errs.Ef(errs.InvalidInput, op, "token id and account id are required")
	}
	var rec Receipt
	path := "/api/v1/tokens/" + url.PathEscape(tokenID) + "/" + action
	if err := c.post(ctx, op, path, "", map[string]string{"account_id": accountID}, &rec); err != nil {
		return nil, err
	}
	if err := checkStatus(op, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *HTTPClient) GetReceipt(ctx context.Context, transactionID string) (*Receipt, error) {
	const op = "ledger.GetReceipt"
	if transactionID == "" {
		return nil, errs.Ef(errs.InvalidInput, op, "transaction id is required")
	}
	var rec Receipt
	req := httpx.Request{
		Op:     op,
		Method: http.MethodGet,
		URL:    c.baseURL + "/api/v1/transactions/" + url.PathEscape(transactionID) + "/receipt",
		Header: c.sign(nil),
	}
	if err := httpx.DoJSON(ctx, c.client, req, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *HTTPClient) post(ctx context.Context, op, path, idempotencyKey string, body any, out any) error {
	raw, err := jsonBody(op, body)
	if err != nil {
		return err
	}
	header := c.sign(raw)
	if idempotencyKey != "" {
		header.Set("Idempotency-Key", idempotencyKey)
	}
	return httpx.DoJSON(ctx, c.client, httpx.Request{
		Op:      op,
		Method:  http.MethodPost,
		URL:     c.baseURL + path,
		Header:  header,
		RawBody: raw,
	}, out)
}

// sign covers "<unix-millis>.<body>" so a captured body cannot be replayed later.
func (c *HTTPClient) sign(body []byte) http.Header {
	h := http.Header{}
	if c.accountID != "" {
		h.Set("X-Operator-Account-Id", c.accountID)
	}
	if c.key == nil {
		return h
	}
	ts := strconv.FormatInt(c.now().UnixMilli(), 10)
	msg := append([]byte(ts+"."), body...)
	h.Set("X-Timestamp", ts)
	h.Set("X-Signature", hex.EncodeToString(ed25519.Sign(c.key, msg)))
	return h
}

func checkStatus(op string, rec *Receipt) error {
	status := strings.ToUpper(rec.Status)
	if status == statusSuccess || status == "" {
		return nil
	}
	if retryableStatuses[status] {
		return errs.Ef(errs.ServiceUnavailable, op, "receipt status %s", status)
	}
	return errs.Ef(errs.InvalidInput, op, "receipt status %s", status)
}

func jsonBody(op string, body any) ([]byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, errs.E(errs.InvalidInput, op, err)
	}
	return raw, nil
}
