// Package discord implements gateway.Gateway on a Discord bot session.
package discord

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/3leaps/beacon/pkg/gateway"
)

// MaxMessageLen is Discord's per-message limit.
const MaxMessageLen = 2000

// Config configures the Discord gateway.
type Config struct {
	Token           string
	AllowedChannels []string
	// MaxMessageLen caps outgoing chunks. Zero uses gateway.DefaultChunkLen.
	MaxMessageLen int
	// SendRate is the sustained outgoing message rate per second. Zero uses 1.
	SendRate  float64
	SendBurst int
	Logger    *zap.Logger
}

// session is the subset of *discordgo.Session used here.
type session interface {
	AddHandler(handler interface{}) func()
	Open() error
	Close() error
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
}

// Gateway relays messages from allowed Discord channels.
type Gateway struct {
	session  session
	inbox    *gateway.Inbox
	allowed  map[string]struct{}
	limiter  *rate.Limiter
	chunkLen int
	logger   *zap.Logger
	remove   func()
}

var _ gateway.Gateway = (*Gateway)(nil)

// New creates a bot session and registers the message handler. Call Open to
// connect.
func New(cfg Config) (*Gateway, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("discord: bot token is required")
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent
	return newWithSession(s, cfg), nil
}

func newWithSession(s session, cfg Config) *Gateway {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	chunkLen := cfg.MaxMessageLen
	if chunkLen <= 0 || chunkLen > MaxMessageLen {
		chunkLen = gateway.DefaultChunkLen
	}
	r := cfg.SendRate
	if r <= 0 {
		r = 1
	}
	burst := cfg.SendBurst
	if burst <= 0 {
		burst = 5
	}

	g := &Gateway{
		session:  s,
		inbox:    gateway.NewInbox(),
		allowed:  make(map[string]struct{}, len(cfg.AllowedChannels)),
		limiter:  rate.NewLimiter(rate.Limit(r), burst),
		chunkLen: chunkLen,
		logger:   logger,
	}
	for _, ch := range cfg.AllowedChannels {
		if ch = strings.TrimSpace(ch); ch != "" {
			g.allowed[ch] = struct{}{}
		}
	}
	g.remove = s.AddHandler(g.onMessageCreate)
	return g
}

// Open connects the session.
func (g *Gateway) Open() error {
	if err := g.session.Open(); err != nil {
		return fmt.Errorf("discord: open session: %w", err)
	}
	g.logger.Info("discord gateway connected", zap.Int("allowed_channels", len(g.allowed)))
	return nil
}

func (g *Gateway) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil {
		return
	}
	g.accept(m.Message)
}

// accept queues m when it comes from a human in an allowed channel.
func (g *Gateway) accept(m *discordgo.Message) {
	if m == nil || m.Author == nil || m.Author.Bot {
		return
	}
	if len(g.allowed) > 0 {
		if _, ok := g.allowed[m.ChannelID]; !ok {
			return
		}
	}
	text := strings.TrimSpace(m.Content)
	if text == "" {
		return
	}
	sentAt := m.Timestamp
	if sentAt.IsZero() {
		sentAt = time.Now().UTC()
	}
	if !g.inbox.Push(gateway.Message{
		ID:      m.ID,
		Channel: m.ChannelID,
		Author:  m.Author.Username,
		Text:    text,
		SentAt:  sentAt,
	}) {
		g.logger.Debug("dropped duplicate message", zap.String("message_id", m.ID))
	}
}

// Poll returns queued messages, waiting up to timeout for the first one.
func (g *Gateway) Poll(ctx context.Context, timeout time.Duration) ([]gateway.Message, error) {
	return g.inbox.Wait(ctx, timeout)
}

// Send posts text to channel, split into chunks and throttled.
func (g *Gateway) Send(ctx context.Context, channel, text string) error {
	for i, chunk := range gateway.SplitMessage(text, g.chunkLen) {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
		if _, err := g.session.ChannelMessageSend(channel, chunk, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("discord: send chunk %d to %s: %w", i+1, channel, err)
		}
	}
	return nil
}

// SendTyping shows the typing indicator in channel.
func (g *Gateway) SendTyping(ctx context.Context, channel string) error {
	if err := g.session.ChannelTyping(channel, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: typing in %s: %w", channel, err)
	}
	return nil
}

// Close disconnects the session and wakes pending polls.
func (g *Gateway) Close() error {
	if g.remove != nil {
		g.remove()
	}
	g.inbox.Close()
	return g.session.Close()
}
