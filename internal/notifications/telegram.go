package notifications

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tradecore/execd/pkg/types"
)

type TelegramNotifier struct {
	token  string
	chatID string
}

func NewTelegramNotifier(token, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		token:  token,
		chatID: chatID,
	}
}

func (t *TelegramNotifier) Notify(alert types.Alert) error {
	emoji := "ℹ️"
	switch alert.Severity {
	case types.AlertSeverityWarning:
		emoji = "⚠️"
	case types.AlertSeverityCritical:
		emoji = "🚨"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s *Risk Alert: %s*\n\n%s", emoji, alert.Type, alert.Message)
	for k, v := range alert.Details {
		fmt.Fprintf(&b, "\n%s: %s", k, v)
	}

	apiURL := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.token)

	data := url.Values{}
	data.Set("chat_id", t.chatID)
	data.Set("text", b.String())
	data.Set("parse_mode", "Markdown")

	resp, err := http.Post(apiURL, "application/x-www-form-urlencoded",
		strings.NewReader(data.Encode()))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}

	return nil
}
