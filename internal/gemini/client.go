// Package gemini is a minimal Gemini REST/websocket client covering the
// endpoints the purchase flow needs: balances, fee tier, ticker, order
// placement, order status, and the order events stream.
package gemini

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// DefaultBaseURL targets the production Gemini API.
const DefaultBaseURL = "https://api.gemini.com"

// APIError is a structured Gemini error response. 4xx responses are
// order rejections; 5xx responses mean the exchange cannot vouch for
// whether the order landed.
type APIError struct {
	StatusCode int
	Reason     string `json:"reason"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Reason == "" && e.Message == "" {
		return fmt.Sprintf("gemini: http %d", e.StatusCode)
	}
	return fmt.Sprintf("gemini: http %d %s: %s", e.StatusCode, e.Reason, e.Message)
}

// Client signs private requests with the account API key pair. It holds a
// strictly increasing nonce, so one Client serves one invocation.
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  []byte
	httpClient *http.Client
	nonce      atomic.Int64
	log        zerolog.Logger
}

// Option configures Client construction.
type Option func(*Client)

// WithBaseURL points the client at a non-default API host (testnet,
// httptest server).
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = baseURL
		}
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger attaches a logger for request diagnostics.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// NewClient builds a client for the given key pair.
func NewClient(apiKey, apiSecret string, opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		apiKey:     apiKey,
		apiSecret:  []byte(apiSecret),
		httpClient: &http.Client{Timeout: 20 * time.Second},
		log:        zerolog.Nop(),
	}
	c.nonce.Store(time.Now().UnixMilli())
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) nextNonce() string {
	return strconv.FormatInt(c.nonce.Add(1), 10)
}

// sign produces the base64 payload and its HMAC-SHA384 signature.
func (c *Client) sign(payload []byte) (string, string) {
	encoded := base64.StdEncoding.EncodeToString(payload)
	mac := hmac.New(sha512.New384, c.apiSecret)
	mac.Write([]byte(encoded))
	return encoded, hex.EncodeToString(mac.Sum(nil))
}

// privatePost issues a signed request. Gemini private endpoints carry the
// payload in headers and an empty body.
func (c *Client) privatePost(ctx context.Context, endpoint string, params map[string]any, out any) error {
	payload := map[string]any{
		"request": endpoint,
		"nonce":   c.nextNonce(),
	}
	for k, v := range params {
		payload[k] = v
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("gemini: encode payload: %w", err)
	}
	encoded, signature := c.sign(raw)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("gemini: build request: %w", err)
	}
	req.Header.Set("X-GEMINI-APIKEY", c.apiKey)
	req.Header.Set("X-GEMINI-PAYLOAD", encoded)
	req.Header.Set("X-GEMINI-SIGNATURE", signature)
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Cache-Control", "no-cache")

	return c.do(req, endpoint, out)
}

func (c *Client) publicGet(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("gemini: build request: %w", err)
	}
	return c.do(req, endpoint, out)
}

func (c *Client) do(req *http.Request, endpoint string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gemini: %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("gemini: read %s response: %w", endpoint, err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(body, apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("gemini: decode %s response: %w", endpoint, err)
	}
	return nil
}
