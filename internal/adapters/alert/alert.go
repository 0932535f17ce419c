// Package alert notifies operators when update cycles keep failing.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/okian/halom/internal/domain/model"
	"github.com/okian/halom/pkg/logger"
	"github.com/okian/halom/pkg/metrics"
)

// ErrWebhookStatus is returned when the webhook answers with a non-2xx status.
var ErrWebhookStatus = errors.New("webhook returned error status")

const defaultWebhookTimeout = 10 * time.Second

// Alerter delivers an alert message with the current update statistics.
type Alerter interface {
	Alert(ctx context.Context, message string, stats model.Stats) error
}

// LogAlerter writes alerts to the log at error level.
type LogAlerter struct {
	log logger.Logger
}

// NewLogAlerter returns an alerter backed by l, or the global logger when nil.
func NewLogAlerter(l logger.Logger) *LogAlerter {
	if l == nil {
		l = logger.Get().Named("alert")
	}
	return &LogAlerter{log: l}
}

func (a *LogAlerter) Alert(ctx context.Context, message string, stats model.Stats) error {
	a.log.Error(ctx, "ALERT: "+message,
		logger.Int("successful_updates", stats.SuccessfulUpdates),
		logger.Int("failed_updates", stats.FailedUpdates),
		logger.Int("consecutive_failures", stats.ConsecutiveFailures),
		logger.Float64("success_rate", stats.SuccessRate()),
	)
	return nil
}

// WebhookAlerter posts Slack-compatible payloads to an incoming webhook URL.
type WebhookAlerter struct {
	url    string
	prefix string
	client *http.Client
}

// NewWebhookAlerter returns a webhook alerter. client may be nil.
func NewWebhookAlerter(url string, client *http.Client) *WebhookAlerter {
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	}
	return &WebhookAlerter{url: url, prefix: "Halom Oracle Alert: ", client: client}
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type slackAttachment struct {
	Fields []slackField `json:"fields"`
}

type slackPayload struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

func (a *WebhookAlerter) Alert(ctx context.Context, message string, stats model.Stats) error {
	payload := slackPayload{
		Text: a.prefix + message,
		Attachments: []slackAttachment{{Fields: []slackField{
			{Title: "Successful Updates", Value: strconv.Itoa(stats.SuccessfulUpdates), Short: true},
			{Title: "Failed Updates", Value: strconv.Itoa(stats.FailedUpdates), Short: true},
			{Title: "Consensus Achieved", Value: strconv.Itoa(stats.ConsensusAchieved), Short: true},
			{Title: "Consensus Failed", Value: strconv.Itoa(stats.ConsensusFailed), Short: true},
		}}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		metrics.RecordErrorByComponent("alert", "webhook_request")
		return fmt.Errorf("post alert: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.RecordErrorByComponent("alert", "webhook_status")
		return fmt.Errorf("%w: %d", ErrWebhookStatus, resp.StatusCode)
	}
	return nil
}

// Multi sends every alert to all alerters and joins their errors.
type Multi []Alerter

func (m Multi) Alert(ctx context.Context, message string, stats model.Stats) error {
	var errs []error
	for _, a := range m {
		if a == nil {
			continue
		}
		if err := a.Alert(ctx, message, stats); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
