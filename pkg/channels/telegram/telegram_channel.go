// Package telegram serves the Telegram bot chat channel.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"gptbridge/pkg/api"
	"gptbridge/pkg/channels"
	"gptbridge/pkg/llm"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ChannelID is the gateway id of the Telegram channel.
const ChannelID = "telegram"

// TokenEnv is read when the config block has no token.
const TokenEnv = "TELEGRAM_BOT_TOKEN"

const (
	replyPrefix    = "🤖 Assistant response:\n\n"
	thinkingPrefix = "💭 Reasoning process:\n\n"
	pollTimeout    = 60
)

// TelegramConfig encapsulates the credentials required to authenticate with
// the Telegram Bot API.
type TelegramConfig struct {
	Token string `json:"token"` // The secret BOT API string provided by @BotFather
}

// sender is the part of *tgbotapi.BotAPI used to reply.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramChannel implements api.Channel over long polling. Each Telegram
// chat is one conversation, "telegram_<chatID>".
type TelegramChannel struct {
	bot          *tgbotapi.BotAPI
	out          sender
	messageLimit int
	stopCtx      context.Context    // Aborts the long-polling request on Stop
	stopCancel   context.CancelFunc // Triggers the abort
}

// NewTelegramChannel authorizes the bot. msgLimit is the maximum rune count
// of one outgoing message.
func NewTelegramChannel(cfg TelegramConfig, msgLimit int) (*TelegramChannel, error) {
	t := newChannel(nil, msgLimit)

	// Tying DialContext to stopCtx aborts an active long poll on Stop, which
	// avoids the 409 Conflict when a reloaded bot starts polling.
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	client := &http.Client{
		Timeout: (pollTimeout + 10) * time.Second,
		Transport: &http.Transport{
			DialContext: func(dialCtx context.Context, network, addr string) (net.Conn, error) {
				merged, mergedCancel := context.WithCancel(dialCtx)
				go func() {
					select {
					case <-t.stopCtx.Done():
						mergedCancel()
					case <-merged.Done():
					}
				}()
				return dialer.DialContext(merged, network, addr)
			},
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, tgbotapi.APIEndpoint, client)
	if err != nil {
		t.stopCancel()
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	slog.Info("Telegram bot authorized", "username", bot.Self.UserName)

	t.bot = bot
	t.out = bot
	return t, nil
}

func newChannel(out sender, msgLimit int) *TelegramChannel {
	if msgLimit <= 0 {
		msgLimit = 4000
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &TelegramChannel{
		out:          out,
		messageLimit: msgLimit,
		stopCtx:      ctx,
		stopCancel:   cancel,
	}
}

// ID returns the unique platform identifier "telegram".
func (t *TelegramChannel) ID() string {
	return ChannelID
}

// Start runs the long-polling loop in the background.
func (t *TelegramChannel) Start(ctx api.ChannelContext) error {
	if t.bot == nil {
		return errors.New("telegram bot not authorized")
	}
	go t.poll(ctx)
	return nil
}

// poll uses GetUpdates instead of GetUpdatesChan to keep the offset and
// stop promptly.
func (t *TelegramChannel) poll(ctx api.ChannelContext) {
	offset := 0
	for {
		select {
		case <-t.stopCtx.Done():
			return
		default:
		}

		req := tgbotapi.NewUpdate(offset)
		req.Timeout = pollTimeout

		updates, err := t.bot.GetUpdates(req)
		if err != nil {
			if t.stopCtx.Err() != nil {
				return
			}
			slog.Debug("Failed to get telegram updates", "error", err)
			select {
			case <-t.stopCtx.Done():
				return
			case <-time.After(3 * time.Second):
			}
			continue
		}

		for _, update := range updates {
			if update.UpdateID < offset {
				continue
			}
			offset = update.UpdateID + 1
			if msg := toUnified(update); msg != nil {
				ctx.OnMessage(t.ID(), msg)
			}
		}
	}
}

// toUnified maps a text update to a gateway message. Updates without text
// (stickers, photos without caption, edits) yield nil.
func toUnified(update tgbotapi.Update) *api.UnifiedMessage {
	m := update.Message
	if m == nil || m.Chat == nil {
		return nil
	}
	content := m.Text
	if content == "" {
		content = m.Caption
	}
	if strings.TrimSpace(content) == "" {
		return nil
	}

	session := api.SessionContext{
		ChannelID: ChannelID,
		ChatID:    strconv.FormatInt(m.Chat.ID, 10),
	}
	if m.From != nil {
		session.UserID = strconv.FormatInt(m.From.ID, 10)
		session.Username = m.From.UserName
		if session.Username == "" {
			session.Username = strings.TrimSpace(m.From.FirstName + " " + m.From.LastName)
		}
	}

	// Commands addressed to the bot in groups arrive as /cmd@botname.
	if m.IsCommand() {
		content = "/" + m.Command()
		if args := m.CommandArguments(); args != "" {
			content += " " + args
		}
	}

	return &api.UnifiedMessage{
		Session: session,
		Content: content,
		Raw:     update,
	}
}

// SendSignal implements api.SignalingChannel. Only "thinking" maps to an
// action, the typing indicator.
func (t *TelegramChannel) SendSignal(session api.SessionContext, signal string) error {
	if signal != llm.BlockTypeThinking {
		return nil
	}
	chatID, err := strconv.ParseInt(session.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id for telegram: %s", session.ChatID)
	}
	_, err = t.out.Send(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))
	return err
}

func (t *TelegramChannel) Stop() error {
	t.stopCancel()

	if t.bot != nil {
		if client, ok := t.bot.Client.(*http.Client); ok && client != nil {
			if transport, ok := client.Transport.(*http.Transport); ok {
				transport.CloseIdleConnections()
			}
		}
	}
	return nil
}

// Send delivers message, split into chunks of at most messageLimit runes.
func (t *TelegramChannel) Send(session api.SessionContext, message string) error {
	chatID, err := strconv.ParseInt(session.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id for telegram: %s", session.ChatID)
	}

	for i, chunk := range SplitMessage(message, t.messageLimit) {
		if _, err := t.out.Send(tgbotapi.NewMessage(chatID, chunk)); err != nil {
			return fmt.Errorf("telegram send chunk %d failed: %w", i, err)
		}
	}
	return nil
}

// SplitMessage cuts text into pieces of at most limit runes, preferring the
// last newline of each piece.
func SplitMessage(text string, limit int) []string {
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return []string{text}
	}

	var out []string
	for len(runes) > limit {
		cut := limit
		for i := limit - 1; i > limit/2; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		out = append(out, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		out = append(out, string(runes))
	}
	return out
}

// Stream collects the blocks and sends them once the stream ends, since
// Telegram has no mid-message updates. Reasoning goes out first as its own
// bubble.
func (t *TelegramChannel) Stream(session api.SessionContext, blocks <-chan llm.ContentBlock) error {
	var thinking, text strings.Builder
	for block := range blocks {
		switch block.Type {
		case llm.BlockTypeThinking:
			thinking.WriteString(block.Text)
		case llm.BlockTypeText, llm.BlockTypeError:
			text.WriteString(block.Text)
		}
	}

	if thinking.Len() > 0 {
		if err := t.Send(session, thinkingPrefix+thinking.String()); err != nil {
			slog.Error("Failed to send thinking", "error", err)
		}
	}
	if text.Len() == 0 {
		return nil
	}
	return t.Send(session, replyPrefix+text.String())
}

func init() {
	channels.RegisterChannel(ChannelID, channels.FactoryFunc(func(rawConfig jsoniter.RawMessage, deps channels.Deps) (api.Channel, error) {
		var cfg TelegramConfig
		if len(rawConfig) > 0 {
			if err := json.Unmarshal(rawConfig, &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse telegram config: %w", err)
			}
		}
		if cfg.Token == "" {
			cfg.Token = os.Getenv(TokenEnv)
		}
		if cfg.Token == "" {
			return nil, errors.New("missing telegram token")
		}

		limit := 0
		if deps.System != nil {
			limit = deps.System.TelegramMessageLimit
		}
		ch, err := NewTelegramChannel(cfg, limit)
		if err != nil {
			return nil, err
		}
		return ch, nil
	}))
}
