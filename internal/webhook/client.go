package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/editflow/internal/id"
)

// Standard Webhooks headers, the scheme Replicate signs its deliveries with.
const (
	HeaderID        = "Webhook-Id"
	HeaderTimestamp = "Webhook-Timestamp"
	HeaderSignature = "Webhook-Signature"

	secretPrefix  = "whsec_"
	signatureV1   = "v1"
	userAgentName = "editflow-webhook/1"
)

type Config struct {
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type Client struct {
	httpClient     *http.Client
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	now            func() time.Time
}

func NewClient(cfg Config) *Client {
	c := &Client{
		httpClient:     &http.Client{Timeout: positiveOr(cfg.Timeout, 10*time.Second)},
		maxAttempts:    max(cfg.MaxAttempts, 1),
		initialBackoff: positiveOr(cfg.InitialBackoff, 500*time.Millisecond),
		now:            time.Now,
	}
	c.maxBackoff = cfg.MaxBackoff
	if c.maxBackoff < c.initialBackoff {
		c.maxBackoff = 8 * c.initialBackoff
	}
	return c
}

// Send POSTs payload as JSON, signed with secret when one is given. Network
// errors, 429 and 5xx responses are retried with exponential backoff. An
// empty endpoint is a no-op.
func (c *Client) Send(ctx context.Context, endpoint, secret string, payload any) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("User-Agent", userAgentName)
	msgID := "msg_" + id.New()
	timestamp := strconv.FormatInt(c.now().UTC().Unix(), 10)
	header.Set(HeaderID, msgID)
	header.Set(HeaderTimestamp, timestamp)
	if secret != "" {
		signature, err := Sign(secret, msgID, timestamp, body)
		if err != nil {
			return err
		}
		header.Set(HeaderSignature, signature)
	}

	wait := c.initialBackoff
	for attempt := 1; ; attempt++ {
		retry, err := c.deliver(ctx, endpoint, header, body)
		if err == nil {
			return nil
		}
		if !retry || attempt >= c.maxAttempts {
			return fmt.Errorf("webhook delivery failed after %d attempt(s): %w", attempt, err)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		wait = min(wait*2, c.maxBackoff)
	}
}

// deliver makes one attempt and reports whether a failure is worth retrying.
func (c *Client) deliver(ctx context.Context, endpoint string, header http.Header, body []byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("build webhook request: %w", err)
	}
	req.Header = header.Clone()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ctx.Err() == nil, err
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return false, nil
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
		return true, fmt.Errorf("webhook returned status=%d", resp.StatusCode)
	default:
		return false, fmt.Errorf("webhook returned status=%d", resp.StatusCode)
	}
}

// Sign returns the webhook-signature header value for one message.
func Sign(secret, msgID, timestamp string, body []byte) (string, error) {
	key, err := decodeSecret(secret)
	if err != nil {
		return "", err
	}
	return signatureV1 + "," + base64.StdEncoding.EncodeToString(computeMAC(key, msgID, timestamp, body)), nil
}

func computeMAC(key []byte, msgID, timestamp string, body []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(msgID))
	mac.Write([]byte("."))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return mac.Sum(nil)
}

// decodeSecret accepts "whsec_<base64>" secrets and falls back to the raw
// bytes for anything else.
func decodeSecret(secret string) ([]byte, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, fmt.Errorf("webhook secret is empty")
	}
	if !strings.HasPrefix(secret, secretPrefix) {
		return []byte(secret), nil
	}
	key, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(secret, secretPrefix))
	if err != nil {
		return nil, fmt.Errorf("decode webhook secret: %w", err)
	}
	return key, nil
}

func positiveOr(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
