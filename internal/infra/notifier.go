package infra

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// NotifierConfig configures webhook notification delivery
type NotifierConfig struct {
	// Channels maps channel names to webhook URLs
	Channels map[string]string `yaml:"channels"`
	Secret   string            `yaml:"secret"`

	MaxRetries     int           `yaml:"max_retries"`
	RetryInterval  time.Duration `yaml:"retry_interval"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// DefaultNotifierConfig returns sensible defaults
func DefaultNotifierConfig() *NotifierConfig {
	return &NotifierConfig{
		MaxRetries:     3,
		RetryInterval:  time.Second,
		RequestTimeout: 30 * time.Second,
	}
}

// WebhookNotifier delivers notifications to channel webhooks. Channels
// without a configured URL are logged and skipped, so plans can name
// channels before operators wire them up.
type WebhookNotifier struct {
	config     *NotifierConfig
	httpClient *http.Client
	logger     *zap.Logger
}

func NewWebhookNotifier(config *NotifierConfig, logger *zap.Logger) *WebhookNotifier {
	if config == nil {
		config = DefaultNotifierConfig()
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 1
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WebhookNotifier{
		config:     config,
		httpClient: &http.Client{Timeout: config.RequestTimeout},
		logger:     logger,
	}
}

type notificationPayload struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Channel   string    `json:"channel"`
	Timestamp time.Time `json:"timestamp"`
	Attempt   int       `json:"attempt"`
}

// Send delivers the message to every channel, returning the last
// delivery error if any channel could not be reached
func (n *WebhookNotifier) Send(ctx context.Context, message string, channels []string) error {
	var lastErr error
	for _, channel := range channels {
		url, ok := n.config.Channels[channel]
		if !ok || url == "" {
			n.logger.Warn("no webhook configured for channel",
				zap.String("channel", channel))
			continue
		}
		if err := n.deliver(ctx, channel, url, message); err != nil {
			n.logger.Error("notification delivery failed",
				zap.String("channel", channel),
				zap.Error(err))
			lastErr = err
		}
	}
	return lastErr
}

func (n *WebhookNotifier) deliver(ctx context.Context, channel, url, message string) error {
	payload := &notificationPayload{
		ID:        uuid.NewString(),
		Message:   message,
		Channel:   channel,
		Timestamp: time.Now().UTC(),
	}

	var lastErr error
	for attempt := 1; attempt <= n.config.MaxRetries; attempt++ {
		payload.Attempt = attempt

		statusCode, err := n.post(ctx, url, payload)
		if err == nil && statusCode >= 200 && statusCode < 300 {
			return nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("webhook returned status %d", statusCode)
		}

		if attempt < n.config.MaxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(n.config.RetryInterval):
			}
		}
	}
	return lastErr
}

func (n *WebhookNotifier) post(ctx context.Context, url string, payload *notificationPayload) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Notification-ID", payload.ID)
	req.Header.Set("X-Delivery-Attempt", fmt.Sprintf("%d", payload.Attempt))
	if n.config.Secret != "" {
		req.Header.Set("X-Signature", signPayload(body, n.config.Secret))
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	return resp.StatusCode, nil
}

// signPayload generates an HMAC-SHA256 signature over the request body
func signPayload(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}
