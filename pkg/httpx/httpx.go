// Package httpx is the JSON-over-HTTP plumbing shared by the ledger,
// pinning and payment gateway clients.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zeroxmods/certmint/pkg/errs"
)

const maxBody = 1 << 20

// NewClient returns an http.Client with the given timeout (30s when zero).
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// Request describes a JSON call.
type Request struct {
	Op      string
	Method  string
	URL     string
	Header  http.Header
	Body    any
	RawBody []byte
}

// DoJSON sends req and decodes a 2xx response into out. Transport failures,
// 408/429 and 5xx become ServiceUnavailable; other non-2xx are InvalidInput.
func DoJSON(ctx context.Context, client *http.Client, req Request, out any) error {
	body := req.RawBody
	if body == nil && req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return errs.E(errs.InvalidInput, req.Op, err)
		}
		body = b
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, reader)
	if err != nil {
		return errs.E(errs.InvalidInput, req.Op, err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return errs.E(errs.ServiceUnavailable, req.Op, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return errs.E(errs.ServiceUnavailable, req.Op, err)
	}
	if err := StatusError(req.Op, resp.StatusCode, payload); err != nil {
		return err
	}
	if out == nil || len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return errs.Ef(errs.ServiceUnavailable, req.Op, "decode response: %v", err)
	}
	return nil
}

// StatusError classifies an HTTP status code; nil for 2xx.
func StatusError(op string, status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 256 {
		msg = msg[:256]
	}
	cause := fmt.Errorf("http status %d", status)
	if msg != "" {
		cause = fmt.Errorf("http status %d: %s", status, msg)
	}
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		return errs.E(errs.ServiceUnavailable, op, cause)
	default:
		return errs.E(errs.InvalidInput, op, cause)
	}
}
