package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"sentinel-oracle/internal/detector"
)

// ActionEvent 描述一次已在账本上确认的 flag/clear 操作。
type ActionEvent struct {
	ActionID    string
	Asset       string
	Kind        detector.ActionKind
	Reason      string
	TxHash      string
	ConfirmedAt time.Time
	Verdict     detector.Verdict
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, event ActionEvent) error
}

// Noop 丢弃所有事件，未配置告警通道时使用。
type Noop struct{}

// Notify implements Notifier.
func (Noop) Notify(context.Context, ActionEvent) error { return nil }

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, event ActionEvent) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    RenderMessage(event),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && !result.OK {
		return fmt.Errorf("telegram 返回 ok=false")
	}

	n.logger.Info().
		Str("asset", event.Asset).
		Str("kind", event.Kind.String()).
		Str("tx", event.TxHash).
		Msg("告警已发送 (Telegram)")
	return nil
}

// RenderMessage formats the event as a plain-text alert.
func RenderMessage(event ActionEvent) string {
	var b strings.Builder
	switch event.Kind {
	case detector.ActionFlag:
		b.WriteString("[Sentinel] ANOMALY FLAGGED\n")
	case detector.ActionClear:
		b.WriteString("[Sentinel] anomaly cleared\n")
	default:
		b.WriteString("[Sentinel]\n")
	}
	b.WriteString(fmt.Sprintf("Asset: %s\n", event.Asset))
	b.WriteString(fmt.Sprintf("Price: %.4f\n", event.Verdict.Price))
	if !event.Verdict.Insufficient() {
		b.WriteString(fmt.Sprintf("Z-score: %.2f (threshold %.2f)\n", event.Verdict.Z(), event.Verdict.Threshold))
	}
	if event.Kind == detector.ActionFlag {
		b.WriteString(fmt.Sprintf("Severity: %s\n", event.Verdict.Severity))
	}
	if event.Reason != "" {
		b.WriteString(fmt.Sprintf("Reason: %s\n", event.Reason))
	}
	if event.TxHash != "" {
		b.WriteString(fmt.Sprintf("Tx: %s\n", event.TxHash))
	}
	b.WriteString(fmt.Sprintf("Confirmed: %s UTC", event.ConfirmedAt.UTC().Format(time.RFC3339)))
	return b.String()
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = Noop{}
)
