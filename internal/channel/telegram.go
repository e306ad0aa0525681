package channel

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

const telegramMaxTextLength = 4096

// TelegramChannel polls the Telegram Bot API via long polling and buffers
// updates into an internal channel so Receive can stay non-blocking.
type TelegramChannel struct {
	bot     *telego.Bot
	inbound chan Inbound
}

func NewTelegramChannel(ctx context.Context, token string) (*TelegramChannel, error) {
	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("telegram channel: create bot: %w", err)
	}

	updates, err := bot.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram channel: start long polling: %w", err)
	}

	c := &TelegramChannel{bot: bot, inbound: make(chan Inbound, 64)}
	go c.pump(ctx, updates)
	return c, nil
}

func (c *TelegramChannel) pump(ctx context.Context, updates <-chan telego.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			msg := Inbound{
				Channel:   c.ID(),
				Sender:    fmt.Sprintf("%d", update.Message.Chat.ID),
				Text:      update.Message.Text,
				Timestamp: time.Now().UTC(),
			}
			select {
			case c.inbound <- msg:
			default:
				slog.Warn("telegram channel: inbound buffer full, dropping update")
			}
		}
	}
}

func (c *TelegramChannel) ID() string                 { return "telegram" }
func (c *TelegramChannel) MaxTextLength() int         { return telegramMaxTextLength }
func (c *TelegramChannel) Chunk(text string) []string { return Chunk(text, c.MaxTextLength()) }

func (c *TelegramChannel) Receive(ctx context.Context) (Inbound, bool, error) {
	select {
	case msg := <-c.inbound:
		return msg, true, nil
	default:
		return Inbound{}, false, nil
	}
}

func (c *TelegramChannel) Send(ctx context.Context, recipient, text string, threadID string) error {
	chatID, err := parseChatID(recipient)
	if err != nil {
		return fmt.Errorf("telegram channel: %w", err)
	}
	for _, chunk := range c.Chunk(text) {
		if _, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), chunk)); err != nil {
			return fmt.Errorf("telegram channel: send: %w", err)
		}
	}
	return nil
}

func parseChatID(recipient string) (int64, error) {
	var id int64
	if _, err := fmt.Sscanf(recipient, "%d", &id); err != nil {
		return 0, fmt.Errorf("invalid chat id %q: %w", recipient, err)
	}
	return id, nil
}
