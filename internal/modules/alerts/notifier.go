package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/arbiter/internal/domain"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// LogNotifier records notifications in the log instead of delivering them.
// It stands in for channels without an integration (email, social).
type LogNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier creates a LogNotifier
func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log.With().Str("component", "log_notifier").Logger()}
}

// Send logs the message
func (n *LogNotifier) Send(_ context.Context, channel, target, message string) error {
	n.log.Info().
		Str("channel", channel).
		Str("target", target).
		Str("message", message).
		Msg("Notification")
	return nil
}

// WebhookPayload is the JSON body posted to webhook targets
type WebhookPayload struct {
	ID      string    `json:"id"`
	Channel string    `json:"channel"`
	Message string    `json:"message"`
	SentAt  time.Time `json:"sent_at"`
}

// WebhookNotifier posts notifications to the target URL
type WebhookNotifier struct {
	client *resty.Client
	log    zerolog.Logger
}

// NewWebhookNotifier creates a WebhookNotifier with a per-request timeout
func NewWebhookNotifier(timeout time.Duration, log zerolog.Logger) *WebhookNotifier {
	client := resty.New()
	client.SetTimeout(timeout)
	client.SetHeader("Content-Type", "application/json")

	return &WebhookNotifier{
		client: client,
		log:    log.With().Str("component", "webhook_notifier").Logger(),
	}
}

// Send posts message to target. Non-2xx responses are errors.
func (n *WebhookNotifier) Send(ctx context.Context, channel, target, message string) error {
	payload := WebhookPayload{
		ID:      uuid.NewString(),
		Channel: channel,
		Message: message,
		SentAt:  time.Now().UTC(),
	}

	resp, err := n.client.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", payload.ID).
		SetBody(payload).
		Post(target)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode())
	}

	n.log.Debug().Str("target", target).Str("notification_id", payload.ID).Msg("Webhook delivered")
	return nil
}

// Dispatcher routes a notification to the notifier registered for its channel
type Dispatcher struct {
	routes   map[string]domain.Notifier
	fallback domain.Notifier
}

// NewDispatcher creates a dispatcher that uses fallback for unrouted channels
func NewDispatcher(fallback domain.Notifier) *Dispatcher {
	return &Dispatcher{routes: make(map[string]domain.Notifier), fallback: fallback}
}

// Route registers n for channel
func (d *Dispatcher) Route(channel string, n domain.Notifier) *Dispatcher {
	d.routes[channel] = n
	return d
}

// Send delivers through the channel's notifier
func (d *Dispatcher) Send(ctx context.Context, channel, target, message string) error {
	n, ok := d.routes[channel]
	if !ok {
		n = d.fallback
	}
	if n == nil {
		return fmt.Errorf("no notifier for channel %q", channel)
	}
	return n.Send(ctx, channel, target, message)
}
