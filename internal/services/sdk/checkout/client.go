package checkout

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"payflow/internal/services/gateway"

	"github.com/google/uuid"
)

var errUnauthorized = errors.New("resp.StatusCode: 401 => Unauthorized")

type ClientConfig struct {
	BaseURL      string `json:"baseUrl" yaml:"base_url"`
	ClientID     string `json:"clientId" yaml:"client_id"`
	ClientSecret string `json:"clientSecret" yaml:"client_secret"`
	HMACKey      string `json:"hmacKey" yaml:"hmac_key"`
}

type Client struct {
	// baseURL is the base url of the checkout provider API.
	baseURL string

	clientID     string
	clientSecret string

	// hmacKey signs every request body.
	hmacKey string

	// accessToken authenticates with the provider API.
	accessToken string

	// mu guards accessToken.
	mu sync.Mutex

	// toggleTokenRefresher tells the refresher to renew now.
	toggleTokenRefresher chan struct{}

	// refreshEvery is the regular renewal period.
	refreshEvery time.Duration

	hc *http.Client
}

func newClient(c *ClientConfig, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL:      strings.TrimRight(c.BaseURL, "/"),
		clientID:     c.ClientID,
		clientSecret: c.ClientSecret,
		hmacKey:      c.HMACKey,

		// buffered so a 401 never blocks the caller
		toggleTokenRefresher: make(chan struct{}, 1),
		refreshEvery:         10 * time.Minute,

		hc: hc,
	}
}

// notifyAccessTokenExpired renews the token periodically, or right away after
// a 401, retrying with exponential backoff until ctx is done.
func (c *Client) notifyAccessTokenExpired(ctx context.Context) {
	ticker := time.NewTicker(c.refreshEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-c.toggleTokenRefresher:
			slog.Info("checkout: access token rejected, refreshing")
		}

		backOff := time.Second

	Retry:
		for {
			token, err := c.connect(ctx)
			if err == nil {
				c.setAccessToken(token)
				break Retry
			}

			slog.Error("checkout: token refresh failed", "error", err, "retry_in", backOff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backOff):
				if backOff < time.Minute {
					backOff *= 2
				}
			}
		}
	}
}

func (c *Client) setAccessToken(accessToken string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = accessToken
}

func (c *Client) getAccessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken
}

func (c *Client) tokenExpired() {
	select {
	case c.toggleTokenRefresher <- struct{}{}:
	default:
	}
}

// connect authenticates with the provider and returns the Authorization value.
func (c *Client) connect(ctx context.Context) (string, error) {
	body, err := json.Marshal(map[string]string{
		"requestId":    uuid.NewString(),
		"clientId":     c.clientID,
		"clientSecret": c.clientSecret,
	})
	if err != nil {
		return "", fmt.Errorf("connect: json.Marshal: %w", err)
	}

	var reply struct {
		Status  string `json:"status"`
		Message string `json:"message"`
		Data    struct {
			AccessToken string `json:"accessToken"`
			TokenType   string `json:"tokenType"`
		} `json:"data"`
	}
	if err := c.do(ctx, "/v1/auth/token", body, false, &reply); err != nil {
		return "", fmt.Errorf("connect: %w", err)
	}
	if reply.Status != "OK" {
		return "", fmt.Errorf("connect: reply.Status: %v, reply.Message: %v", reply.Status, reply.Message)
	}

	return fmt.Sprintf("%s %s", reply.Data.TokenType, reply.Data.AccessToken), nil
}

// widgetSession is a widget opening on the provider side.
type widgetSession struct {
	ID      string `json:"sessionId"`
	Channel string `json:"channel"`
}

// openSession registers a widget opening and returns the channel its outcome
// will be published on.
func (c *Client) openSession(ctx context.Context, wc gateway.WidgetConfig) (*widgetSession, error) {
	body, err := json.Marshal(struct {
		RequestID string `json:"requestId"`
		gateway.WidgetConfig
	}{uuid.NewString(), wc})
	if err != nil {
		return nil, fmt.Errorf("openSession: json.Marshal: %w", err)
	}

	var reply struct {
		Status  string        `json:"status"`
		Message string        `json:"message"`
		Data    widgetSession `json:"data"`
	}
	if err := c.do(ctx, "/v1/widget/sessions", body, true, &reply); err != nil {
		return nil, fmt.Errorf("openSession: %w", err)
	}
	if reply.Status != "OK" {
		return nil, fmt.Errorf("openSession: reply.Status: %v, reply.Message: %v", reply.Status, reply.Message)
	}
	if reply.Data.ID == "" {
		return nil, errors.New("openSession: reply has no sessionId")
	}
	return &reply.Data, nil
}

func (c *Client) do(ctx context.Context, path string, body []byte, auth bool, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("http.NewReq: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("SignedHash", Hmac256(body, []byte(c.hmacKey)))
	if auth {
		req.Header.Set("Authorization", c.getAccessToken())
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("http.Do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		if auth {
			c.tokenExpired()
		}
		return errUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("resp.StatusCode: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("json.Decode: %w", err)
	}
	return nil
}

// Hmac256 returns the hex HMAC-SHA256 of body.
func Hmac256(body, key []byte) string {
	hash := hmac.New(sha256.New, key)
	hash.Write(body)
	return hex.EncodeToString(hash.Sum(nil))
}
