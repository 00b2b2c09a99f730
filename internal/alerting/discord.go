package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// DiscordNotifier 通过 Discord webhook 推送消息。
type DiscordNotifier struct {
	webhookURL string
	username   string
	client     *http.Client
	logger     zerolog.Logger
}

// NewDiscordNotifier 构造 Discord 告警器。
func NewDiscordNotifier(webhookURL, username string, timeout time.Duration, logger zerolog.Logger) *DiscordNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &DiscordNotifier{
		webhookURL: webhookURL,
		username:   username,
		client:     &http.Client{Timeout: timeout},
		logger:     logger.With().Str("component", "alert_discord").Logger(),
	}
}

// Name implements Notifier.
func (n *DiscordNotifier) Name() string { return "discord" }

// Notify posts the message as webhook content. Discord renders the same
// link Markdown as Telegram.
func (n *DiscordNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]any{
		"content": note.Text,
		"flags":   4, // SUPPRESS_EMBEDS
	}
	if n.username != "" {
		payload["username"] = n.username
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal discord payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send discord request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("discord 响应码异常 %d: %s", resp.StatusCode, string(respBody))
	}

	n.logger.Info().Int64("snapshot_id", note.SnapshotID).
		Str("delivery_id", note.DeliveryID).
		Msg("告警已发送 (Discord)")
	return nil
}

// MultiNotifier 向所有渠道扇出; 任一渠道成功即视为送达。
type MultiNotifier struct {
	notifiers []Notifier
	logger    zerolog.Logger
}

// NewMultiNotifier 组合多个渠道。
func NewMultiNotifier(logger zerolog.Logger, notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{
		notifiers: notifiers,
		logger:    logger.With().Str("component", "alert_fanout").Logger(),
	}
}

// Name implements Notifier.
func (m *MultiNotifier) Name() string { return "multi" }

// Notify delivers to every channel and fails only when all of them fail.
func (m *MultiNotifier) Notify(ctx context.Context, note Notification) error {
	if len(m.notifiers) == 0 {
		return errors.New("no notification channels configured")
	}

	var errs []error
	delivered := 0
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, note); err != nil {
			m.logger.Warn().Err(err).Str("channel", n.Name()).Int64("snapshot_id", note.SnapshotID).Msg("渠道发送失败")
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
			continue
		}
		delivered++
	}
	if delivered == 0 {
		return errors.Join(errs...)
	}
	return nil
}

var (
	_ Notifier = (*DiscordNotifier)(nil)
	_ Notifier = (*MultiNotifier)(nil)
)
