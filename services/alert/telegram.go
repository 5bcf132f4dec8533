package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"salesbi-dataplane/pkg/config"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Notifier delivers alert messages to a Telegram chat via the Bot API.
type Notifier struct {
	httpClient *http.Client
	baseURL    string
	botToken   string
	chatID     string
}

type NotifierParams struct {
	fx.In
	Config *config.Config
}

func NewNotifier(p NotifierParams) *Notifier {
	return &Notifier{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    "https://api.telegram.org",
		botToken:   p.Config.Telegram.BotToken,
		chatID:     p.Config.Telegram.ChatID,
	}
}

// Send posts a message to the configured chat. A missing bot token means
// alerting is not set up for this deployment; the message is logged instead
// of dropped silently.
func (n *Notifier) Send(ctx context.Context, message string) error {
	if n.botToken == "" || n.chatID == "" {
		zap.L().Warn("telegram not configured, alert logged only", zap.String("message", message))
		return nil
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	form := url.Values{}
	form.Set("chat_id", n.chatID)
	form.Set("text", message)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call telegram: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram responded %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// Handler consumes alert tasks from the queue.
type Handler struct {
	notifier *Notifier
}

func NewHandler(notifier *Notifier) *Handler {
	return &Handler{notifier: notifier}
}

func (h *Handler) HandleLowSalesAlert(ctx context.Context, t *asynq.Task) error {
	var payload LowSalesPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		zap.L().Error("invalid low sales alert payload", zap.Error(err))
		return err
	}

	if err := h.notifier.Send(ctx, payload.Message()); err != nil {
		zap.L().Error("failed to deliver low sales alert",
			zap.String("tenant_id", payload.TenantID),
			zap.Error(err),
		)
		return err
	}

	zap.L().Info("low sales alert delivered", zap.String("tenant_id", payload.TenantID))
	return nil
}

var Module = fx.Module("alert.module",
	fx.Provide(
		NewNotifier,
		NewHandler,
	),
)
