// Package notifier consumes stream:trade-notifications and forwards each
// accepted trade to Telegram, with the same best-effort retry shape the
// teacher used for its outbound webhook delivery.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"kis-trader/internal/config"
	"kis-trader/internal/domain"
)

const (
	telegramAPIBase  = "https://api.telegram.org/bot%s/sendMessage"
	deliveryTimeout  = 10 * time.Second
	maxDeliveryRetry = 3
	retryBackoff     = 2 * time.Second
)

// Notifier delivers trade notifications to Telegram. A zero BotToken makes
// every delivery a no-op, so the rest of the system never needs to branch
// on whether Telegram is configured.
type Notifier struct {
	cfg    config.TelegramConfig
	client *http.Client
	log    zerolog.Logger
}

func New(cfg config.TelegramConfig, log zerolog.Logger) *Notifier {
	return &Notifier{
		cfg:    cfg,
		client: &http.Client{Timeout: deliveryTimeout},
		log:    log,
	}
}

func (n *Notifier) enabled() bool {
	return n.cfg.BotToken != "" && n.cfg.ChatID != ""
}

// HandleTrade is the bus.TypedStreamConsumer handler: format the trade and
// deliver it, retrying transient failures a bounded number of times.
func (n *Notifier) HandleTrade(ctx context.Context, rec domain.TradeRecord) error {
	if !n.enabled() {
		return nil
	}

	text := formatMessage(rec)
	var lastErr error
	for attempt := 1; attempt <= maxDeliveryRetry; attempt++ {
		if err := n.deliver(ctx, text); err != nil {
			lastErr = err
			n.log.Warn().Err(err).Int("attempt", attempt).Str("code", rec.Code).Msg("⚠️ telegram delivery failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryBackoff):
			}
			continue
		}
		return nil
	}
	// A notification that never delivers is not worth crashing the consumer
	// over: the trade itself already landed, so ack and move on.
	n.log.Error().Err(lastErr).Str("code", rec.Code).Msg("❌ telegram delivery abandoned")
	return nil
}

func (n *Notifier) deliver(ctx context.Context, text string) error {
	payload, err := json.Marshal(map[string]string{
		"chat_id":    n.cfg.ChatID,
		"text":       text,
		"parse_mode": "Markdown",
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf(telegramAPIBase, n.cfg.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram responded %d", resp.StatusCode)
	}
	return nil
}

func formatMessage(rec domain.TradeRecord) string {
	emoji := "🟢"
	if rec.TradeType == domain.TradeSell {
		emoji = "🔴"
	}

	msg := fmt.Sprintf("%s *%s* %s\nQty: %d @ %s\nTotal: %s\nReason: %s",
		emoji, rec.TradeType, rec.Code,
		rec.Quantity, formatWon(rec.Price),
		formatWon(rec.TotalAmount), rec.Reason,
	)
	if rec.ProfitPct != 0 {
		msg += fmt.Sprintf("\nP/L: %.2f%% (%s)", rec.ProfitPct, formatWon(rec.ProfitAmount))
	}
	return msg
}

// formatWon renders a float amount as Korean won with thousand separators.
func formatWon(amount float64) string {
	value := int64(amount)
	negative := value < 0
	if negative {
		value = -value
	}

	str := fmt.Sprintf("%d", value)
	length := len(str)
	var grouped string
	for i, digit := range str {
		if i > 0 && (length-i)%3 == 0 {
			grouped += ","
		}
		grouped += string(digit)
	}

	if negative {
		return fmt.Sprintf("₩-%s", grouped)
	}
	return fmt.Sprintf("₩%s", grouped)
}
