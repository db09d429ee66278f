// Package pinning stores certificate metadata documents on IPFS through a
// Pinata-compatible pinning API.
package pinning

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/zeroxmods/certmint/pkg/errs"
	"github.com/zeroxmods/certmint/pkg/httpx"
)

// Client pins a JSON document and returns its content address.
type Client interface {
	PinJSON(ctx context.Context, name string, doc any) (*Pin, error)
}

// Pin 固定结果
type Pin struct {
	CID  string
	URI  string
	Size int64
}

// Config Pinata 凭证
type Config struct {
	BaseURL   string
	APIKey    string
	APISecret string
	// JWT takes precedence over the key pair when set.
	JWT     string
	Timeout time.Duration
}

// PinataClient 实现 Client
type PinataClient struct {
	cfg    Config
	client *http.Client
}

func NewPinataClient(cfg Config) (*PinataClient, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.pinata.cloud"
	}
	if cfg.JWT == "" && (cfg.APIKey == "" || cfg.APISecret == "") {
		return nil, errors.New("pinning credentials are not configured")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &PinataClient{cfg: cfg, client: httpx.NewClient(cfg.Timeout)}, nil
}

type pinRequest struct {
	Content  any `json:"pinataContent"`
	Metadata struct {
		Name string `json:"name"`
	} `json:"pinataMetadata"`
	Options struct {
		CIDVersion int `json:"cidVersion"`
	} `json:"pinataOptions"`
}

type pinResponse struct {
	IpfsHash  string `json:"IpfsHash"`
	PinSize   int64  `json:"PinSize"`
	Timestamp string `json:"Timestamp"`
}

func (c *PinataClient) PinJSON(ctx context.Context, name string, doc any) (*Pin, error) {
	const op = "pinning.PinJSON"
	if doc == nil {
		return nil, errs.Ef(errs.InvalidInput, op, "document is nil")
	}
	var body pinRequest
	body.Content = doc
	body.Metadata.Name = name
	body.Options.CIDVersion = 1

	header := http.Header{}
	if c.cfg.JWT != "" {
		header.Set("Authorization", "Bearer "+c.cfg.JWT)
	} else {
		header.Set("pinata_api_key", c.cfg.APIKey)
		header.Set("pinata_secret_api_key", c.cfg.APISecret)
	}

	var out pinResponse
	err := httpx.DoJSON(ctx, c.client, httpx.Request{
		Op:     op,
		Method: http.MethodPost,
		URL:    c.cfg.BaseURL + "/pinning/pinJSONToIPFS",
		Header: header,
		Body:   body,
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.IpfsHash == "" {
		return nil, errs.Ef(errs.ServiceUnavailable, op, "empty content hash")
	}
	return &Pin{CID: out.IpfsHash, URI: URI(out.IpfsHash), Size: out.PinSize}, nil
}

// URI renders the ipfs:// form of a CID.
func URI(cid string) string {
	return "ipfs://" + cid
}

// GatewayURL rewrites an ipfs:// URI onto an HTTP gateway.
func GatewayURL(gateway, uri string) string {
	cid, ok := strings.CutPrefix(uri, "ipfs://")
	if !ok || gateway == "" {
		return uri
	}
	return strings.TrimRight(gateway, "/") + "/ipfs/" + cid
}
