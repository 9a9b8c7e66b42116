package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	defaultTimeout    = 15 * time.Second
	defaultBaseURL    = "https://www.smslocal.com/dev/bulkV2"
	defaultMaxRetries = 3
	defaultRetryBase  = 200 * time.Millisecond
)

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("sms: API key not configured")

// SMSLocalClient sends text messages through the SMS Local bulk API.
// Transient failures (network errors, 5xx, 429) are retried with exponential backoff;
// other responses fail immediately.
type SMSLocalClient struct {
	APIKey     string
	BaseURL    string
	Sender     string
	HTTPClient *http.Client
	MaxRetries uint64
	RetryBase  time.Duration
}

// NewSMSLocalClient returns a client that uses the given API key and optional base URL/sender.
func NewSMSLocalClient(apiKey, baseURL, sender string) *SMSLocalClient {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &SMSLocalClient{
		APIKey:     apiKey,
		BaseURL:    baseURL,
		Sender:     sender,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
		MaxRetries: defaultMaxRetries,
		RetryBase:  defaultRetryBase,
	}
}

// Send delivers message to phone. The message body is never included in returned errors.
func (c *SMSLocalClient) Send(ctx context.Context, phone, message string) error {
	if c.APIKey == "" {
		return ErrNotConfigured
	}
	body := map[string]interface{}{
		"route":   "q",
		"numbers": phone,
		"message": message,
	}
	if c.Sender != "" {
		body["sender_id"] = c.Sender
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	backoff := retry.WithMaxRetries(c.MaxRetries, retry.NewExponential(c.RetryBase))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		return c.post(ctx, raw)
	})
}

func (c *SMSLocalClient) post(ctx context.Context, raw []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.APIKey)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return retry.RetryableError(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	err = fmt.Errorf("sms: request failed status=%d body=%s", resp.StatusCode, string(b))
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return retry.RetryableError(err)
	}
	return err
}
