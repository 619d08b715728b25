package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"intraday-signals/internal/model"
)

// TelegramNotifier posts alerts to a chat through the Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	apiBase  string
	client   *http.Client
}

// NewTelegramNotifier creates a notifier for the bot token and target chat.
func NewTelegramNotifier(botToken, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		apiBase:  "https://api.telegram.org",
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(map[string]any{
		"chat_id":    t.chatID,
		"text":       telegramText(alert),
		"parse_mode": "MarkdownV2",
	})
	if err != nil {
		return fmt.Errorf("telegram: marshal: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram: unexpected status %d", resp.StatusCode)
	}

	log.Printf("[telegram] sent %s %s", alert.Kind, alert.Symbol)
	return nil
}

var kindEmoji = map[model.AlertKind]string{
	model.AlertBuy:         "📈",
	model.AlertExitWarning: "⚠️",
	model.AlertExitNow:     "🚨",
	model.AlertStopLossHit: "🛑",
}

// telegramText renders the alert's payload as a MarkdownV2 message: a bold
// header line followed by one "label: value" line per price field.
func telegramText(a Alert) string {
	emoji, ok := kindEmoji[a.Kind]
	if !ok {
		emoji = "ℹ️"
	}
	p := a.Data

	var lines []string
	line := func(label, value string) {
		lines = append(lines, escapeMarkdown(label)+": *"+escapeMarkdown(value)+"*")
	}
	price := func(key string) string { return fmt.Sprintf("%.2f", num(p, key)) }
	pct := func(key string) string { return fmt.Sprintf("%.2f%%", num(p, key)) }

	header := strings.ReplaceAll(string(a.Kind), "_", " ") + " " + a.Symbol
	switch a.Kind {
	case model.AlertBuy:
		if name, _ := p["companyName"].(string); name != "" && name != a.Symbol {
			header += " (" + name + ")"
		}
		line("Price", price("price")+" ("+fmt.Sprintf("%+.2f%%", num(p, "changePercent"))+" from open)")
		line("Stop", price("stopLoss"))
		line("Targets", price("target1")+" / "+price("target2"))
		line("Exit below", price("exitWarningLevel"))
	case model.AlertExitWarning:
		line("Now", price("currentPrice"))
		line("Peak", price("peakPrice")+" (down "+pct("dropFromPeak")+")")
		line("Entry", price("entryPrice")+" (up "+pct("profitFromEntry")+")")
		line("Exit level", price("exitWarningLevel"))
	case model.AlertExitNow:
		line("Now", price("currentPrice"))
		line("Entry", price("entryPrice"))
		line("Exit level", price("exitWarningLevel"))
	case model.AlertStopLossHit:
		line("Now", price("currentPrice"))
		line("Stop", price("stopLoss"))
		line("Entry", price("entryPrice")+" (down "+pct("lossFromEntry")+")")
	default:
		if a.Message != "" {
			lines = append(lines, escapeMarkdown(a.Message))
		}
	}

	return emoji + " *" + escapeMarkdown(header) + "*\n\n" + strings.Join(lines, "\n")
}

// escapeMarkdown escapes the MarkdownV2 reserved characters.
func escapeMarkdown(s string) string {
	const specials = "_*[]()~`>#+-=|{}.!"
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(specials, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
