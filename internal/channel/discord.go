package channel

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
)

const discordMaxTextLength = 2000

// DiscordChannel connects to Discord over the gateway (websocket) using
// discordgo's event-driven session, bridged into the poll-style Receive
// contract via a buffered channel.
type DiscordChannel struct {
	session   *discordgo.Session
	botUserID string
	inbound   chan Inbound
}

func NewDiscordChannel(token string) (*DiscordChannel, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord channel: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	c := &DiscordChannel{session: session, inbound: make(chan Inbound, 64)}
	session.AddHandler(c.handleMessage)

	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("discord channel: open session: %w", err)
	}
	user, err := session.User("@me")
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("discord channel: fetch bot identity: %w", err)
	}
	c.botUserID = user.ID
	return c, nil
}

func (c *DiscordChannel) Close() error { return c.session.Close() }

func (c *DiscordChannel) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == c.botUserID || m.Author.Bot {
		return
	}
	content := m.Content
	for _, att := range m.Attachments {
		if content != "" {
			content += "\n"
		}
		content += fmt.Sprintf("[attachment: %s]", att.URL)
	}
	if content == "" {
		return
	}

	msg := Inbound{
		Channel:   c.ID(),
		Sender:    m.ChannelID,
		Text:      content,
		ThreadID:  m.ChannelID,
		Timestamp: time.Now().UTC(),
	}
	select {
	case c.inbound <- msg:
	default:
		slog.Warn("discord channel: inbound buffer full, dropping message")
	}
}

func (c *DiscordChannel) ID() string                 { return "discord" }
func (c *DiscordChannel) MaxTextLength() int         { return discordMaxTextLength }
func (c *DiscordChannel) Chunk(text string) []string { return Chunk(text, c.MaxTextLength()) }

func (c *DiscordChannel) Receive(ctx context.Context) (Inbound, bool, error) {
	select {
	case msg := <-c.inbound:
		return msg, true, nil
	default:
		return Inbound{}, false, nil
	}
}

// Send posts text to a Discord channel ID, one message per chunk.
func (c *DiscordChannel) Send(ctx context.Context, recipient, text string, threadID string) error {
	for _, chunk := range c.Chunk(text) {
		if _, err := c.session.ChannelMessageSend(recipient, chunk); err != nil {
			return fmt.Errorf("discord channel: send: %w", err)
		}
	}
	return nil
}
