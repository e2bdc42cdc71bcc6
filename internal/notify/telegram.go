package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

const telegramAPI = "https://api.telegram.org"

// TelegramSender posts alerts to a chat through the Bot API.
type TelegramSender struct {
	apiBase string
	token   string
	chatID  string
	client  *http.Client
}

// NewTelegramSender creates a TelegramSender for the bot token and chat.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{apiBase: telegramAPI, token: token, chatID: chatID, client: defaultHTTPClient()}
}

// Send calls sendMessage with the title in bold.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	url := strings.TrimRight(t.apiBase, "/") + "/bot" + t.token + "/sendMessage"
	payload := map[string]string{
		"chat_id":    t.chatID,
		"text":       fmt.Sprintf("*%s*\n%s", title, message),
		"parse_mode": "Markdown",
	}
	if err := postJSON(ctx, t.client, url, payload); err != nil {
		// The URL embeds the bot token; never let it reach the logs.
		return fmt.Errorf("telegram: %s", strings.ReplaceAll(err.Error(), t.token, "<redacted>"))
	}
	return nil
}

// Name implements Sender.
func (t *TelegramSender) Name() string { return "telegram" }
