// Package notify sends short operator messages.
package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pressroom/internal/httpx"
	"github.com/JakeFAU/pressroom/internal/retry"
)

// Notifier delivers a message to the operator.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// Slack posts messages to an incoming webhook.
type Slack struct {
	http  *httpx.Client
	path  string
	retry retry.Policy
}

// SlackConfig configures a Slack notifier.
type SlackConfig struct {
	WebhookURL string
	Timeout    time.Duration
	HTTP       *http.Client
	Retry      retry.Policy
}

// NewSlack builds a Slack notifier for the webhook URL.
func NewSlack(cfg SlackConfig) (*Slack, error) {
	u, err := url.Parse(cfg.WebhookURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("parse slack webhook url %q: invalid", cfg.WebhookURL)
	}
	path := u.EscapedPath()
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Slack{
		http:  httpx.New(httpx.Config{BaseURL: u.Scheme + "://" + u.Host, Timeout: timeout, HTTP: cfg.HTTP}),
		path:  path,
		retry: cfg.Retry,
	}, nil
}

type slackMessage struct {
	Text string `json:"text"`
}

// Notify posts {"text": message}.
func (s *Slack) Notify(ctx context.Context, message string) error {
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		return s.http.DoJSON(ctx, "slack webhook", http.MethodPost, s.path, slackMessage{Text: message}, nil)
	})
	if err != nil {
		return fmt.Errorf("notify slack: %w", err)
	}
	return nil
}

// Log writes messages to the logger. Used when no webhook is configured.
type Log struct {
	logger *zap.Logger
}

// NewLog builds a Log notifier.
func NewLog(logger *zap.Logger) *Log {
	return &Log{logger: logger.Named("notify")}
}

// Notify logs the message at Info.
func (l *Log) Notify(_ context.Context, message string) error {
	l.logger.Info("operator notification", zap.String("message", message))
	return nil
}

// Alert prefixes message with an alert marker and sends it. Delivery
// failures are logged, never returned.
func Alert(ctx context.Context, n Notifier, logger *zap.Logger, message string) {
	if n == nil {
		return
	}
	if err := n.Notify(ctx, "ALERT: "+message); err != nil {
		logger.Error("send operator alert", zap.String("message", message), zap.Error(err))
	}
}
