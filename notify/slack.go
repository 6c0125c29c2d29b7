package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"
)

// SlackNotifier posts admin alerts to a slack channel via "incoming
// webhook". Moderator-directed messages have no slack equivalent and are
// logged only; actual DM delivery belongs to the command layer.
//
// Alert volume is throttled so a runaway burst of safety alerts can't flood
// the channel; throttled messages are dropped with a log line.
type SlackNotifier struct {
	WebhookURL string
	Logger     *slog.Logger

	limiter *rate.Limiter
	client  *http.Client
}

func NewSlackNotifier(webhookURL string, logger *slog.Logger) *SlackNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlackNotifier{
		WebhookURL: webhookURL,
		Logger:     logger.With("system", "notify"),
		limiter:    rate.NewLimiter(rate.Limit(1), 10),
		client:     http.DefaultClient,
	}
}

func (n *SlackNotifier) NotifyModerator(ctx context.Context, userID, text string) error {
	n.Logger.Info("moderator notification", "userID", userID, "text", text)
	return nil
}

func (n *SlackNotifier) NotifyAdministrators(ctx context.Context, guildID, text string) error {
	if !n.limiter.Allow() {
		n.Logger.Warn("dropping throttled admin alert", "guildID", guildID)
		return nil
	}
	msg := fmt.Sprintf("🛡️ Moderation Safety Alert 🛡️\nguild: `%s`\n%s", guildID, text)
	return n.sendSlackMsg(ctx, msg)
}

type slackWebhookBody struct {
	Text string `json:"text"`
}

func (n *SlackNotifier) sendSlackMsg(ctx context.Context, msg string) error {
	body, err := json.Marshal(slackWebhookBody{Text: msg})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.WebhookURL, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Add("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	buf := new(bytes.Buffer)
	buf.ReadFrom(resp.Body)
	if resp.StatusCode != 200 || buf.String() != "ok" {
		return fmt.Errorf("failed slack webhook POST request. status=%d", resp.StatusCode)
	}
	return nil
}
