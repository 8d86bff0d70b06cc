package backend

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

	"payflow/monitoring"
	"payflow/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Config struct {
	BaseURL       string
	Token         string
	Timeout       time.Duration
	WebhookPath   string
	WebhookSecret string
}

// HTTPError is a non-2xx reply from the backend.
type HTTPError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: resp.StatusCode: %d => %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: resp.StatusCode: %d", e.Op, e.StatusCode)
}

// ComposeReply is the backend's answer to a compose call. Fields carries the
// whole reply so shells can pick out their domain identifiers.
type ComposeReply struct {
	ID        string
	Reference string
	Montant   decimal.Decimal
	Fields    map[string]json.RawMessage
}

type Client struct {
	// baseURL is the base url of the platform backend.
	baseURL string

	// token is sent as a bearer token on every call.
	token string

	webhookPath   string
	webhookSecret string

	// breaker guards compose calls only; reconciliation must always reach the wire.
	breaker *utils.CircuitBreaker

	hc *http.Client
}

func NewClient(cfg Config, hc *http.Client) *Client {
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		token:         cfg.Token,
		webhookPath:   cfg.WebhookPath,
		webhookSecret: cfg.WebhookSecret,
		breaker: utils.NewCircuitBreakerWithSettings("backend-compose", utils.Settings{
			MaxRequests: 20,
			Timeout:     30 * time.Second,
		}),
		hc: hc,
	}
}

// Compose POSTs payload to the product's transaction-creation path. Only
// transport errors and 5xx replies count against the circuit breaker.
func (c *Client) Compose(ctx context.Context, path string, payload any) (*ComposeReply, error) {
	type result struct {
		reply *ComposeReply
		err   error
	}

	start := time.Now()
	res, err := c.breaker.Execute(ctx, func() (any, error) {
		reply, err := c.compose(ctx, path, payload)
		var he *HTTPError
		if errors.As(err, &he) && he.StatusCode < 500 {
			return result{err: err}, nil
		}
		return result{reply: reply}, err
	})
	if err == nil {
		r := res.(result)
		err = r.err
		if err == nil {
			monitoring.TrackBackendCall("compose", nil, time.Since(start))
			return r.reply, nil
		}
	}
	monitoring.TrackBackendCall("compose", err, time.Since(start))
	return nil, err
}

func (c *Client) compose(ctx context.Context, path string, payload any) (*ComposeReply, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("compose: json.Marshal: %w", err)
	}

	resp, err := c.post(ctx, path, body, nil)
	if err != nil {
		return nil, fmt.Errorf("compose: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("compose: io.ReadAll: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{Op: "compose", StatusCode: resp.StatusCode, Message: replyMessage(raw)}
	}

	return decodeComposeReply(raw)
}

// decodeComposeReply accepts the transaction either at the top level or
// wrapped in a "data" object.
func decodeComposeReply(raw []byte) (*ComposeReply, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("compose: json.Unmarshal: %w", err)
	}
	if _, ok := fields["id"]; !ok {
		if data, ok := fields["data"]; ok {
			var inner map[string]json.RawMessage
			if err := json.Unmarshal(data, &inner); err == nil {
				fields = inner
			}
		}
	}

	reply := &ComposeReply{Fields: fields}
	reply.ID = scalar(fields["id"])
	if ref, ok := fields["reference"]; ok {
		if err := json.Unmarshal(ref, &reply.Reference); err != nil {
			return nil, fmt.Errorf("compose: reply reference: %w", err)
		}
	}
	if m, ok := fields["montant"]; ok {
		if err := json.Unmarshal(m, &reply.Montant); err != nil {
			return nil, fmt.Errorf("compose: reply montant: %w", err)
		}
	}
	if reply.ID == "" {
		return nil, errors.New("compose: reply has no id")
	}
	if !reply.Montant.IsPositive() {
		return nil, fmt.Errorf("compose: reply montant %s is not positive", reply.Montant)
	}
	return reply, nil
}

// Reconcile POSTs a signed webhook body. Any non-2xx is an error.
func (c *Client) Reconcile(ctx context.Context, record any) error {
	start := time.Now()
	err := c.reconcile(ctx, record)
	monitoring.TrackBackendCall("reconcile", err, time.Since(start))
	return err
}

func (c *Client) reconcile(ctx context.Context, record any) error {
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("reconcile: json.Marshal: %w", err)
	}

	headers := map[string]string{}
	if c.webhookSecret != "" {
		headers["X-Signature"] = Sign(body, []byte(c.webhookSecret))
	}

	resp, err := c.post(ctx, c.webhookPath, body, headers)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &HTTPError{Op: "reconcile", StatusCode: resp.StatusCode, Message: replyMessage(raw)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) post(ctx context.Context, path string, body []byte, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("http.NewReq: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http.Do: %w", err)
	}
	return resp, nil
}

// scalar renders a JSON string or number as text.
func scalar(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func replyMessage(raw []byte) string {
	var reply struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &reply); err == nil {
		if reply.Message != "" {
			return reply.Message
		}
		return reply.Error
	}
	return ""
}

// Sign returns the hex HMAC-SHA256 of body.
func Sign(body, key []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether sig is the signature of body under key.
func Verify(body, key []byte, sig string) bool {
	return hmac.Equal([]byte(Sign(body, key)), []byte(sig))
}
