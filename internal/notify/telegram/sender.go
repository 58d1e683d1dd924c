// Package telegram delivers messages through the Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/forumwatch/internal/clock/system"
)

// DefaultEndpoint is the public Bot API endpoint template.
const DefaultEndpoint = tgbotapi.APIEndpoint

// Config holds the bot credentials and transport settings.
type Config struct {
	Token  string
	ChatID string
	// Endpoint overrides the Bot API URL template ("…/bot%s/%s").
	Endpoint string
	Timeout  time.Duration
}

// Sender sends HTML messages to a single chat.
type Sender struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	handle string
	logger *zap.Logger
}

// New builds a Sender without contacting Telegram; use Verify to check the
// token.
func New(cfg Config, logger *zap.Logger) (*Sender, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	chat := strings.TrimSpace(cfg.ChatID)
	if chat == "" {
		return nil, fmt.Errorf("telegram chat id is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	bot := &tgbotapi.BotAPI{
		Token:  cfg.Token,
		Client: &http.Client{Timeout: timeout},
		Buffer: 100,
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	bot.SetAPIEndpoint(endpoint)

	s := &Sender{bot: bot, logger: logger}
	if strings.HasPrefix(chat, "@") {
		s.handle = chat
	} else {
		id, err := strconv.ParseInt(chat, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("telegram chat id %q must be numeric or @channel", chat)
		}
		s.chatID = id
	}
	return s, nil
}

// Verify calls getMe and returns the bot username.
func (s *Sender) Verify(_ context.Context) (string, error) {
	me, err := s.bot.GetMe()
	if err != nil {
		return "", fmt.Errorf("telegram getMe: %w", err)
	}
	return me.UserName, nil
}

// Send delivers text with HTML parse mode and link previews disabled. A
// rate-limit response is retried once after the advertised delay.
func (s *Sender) Send(ctx context.Context, text string) error {
	err := s.send(text)
	var apiErr *tgbotapi.Error
	if err == nil || !errors.As(err, &apiErr) || apiErr.RetryAfter <= 0 {
		return err
	}
	wait := time.Duration(apiErr.RetryAfter) * time.Second
	s.logger.Warn("telegram rate limited", zap.Duration("retry_after", wait))
	if sleepErr := system.Sleep(ctx, wait); sleepErr != nil {
		return fmt.Errorf("telegram retry wait: %w", sleepErr)
	}
	return s.send(text)
}

func (s *Sender) send(text string) error {
	msg := s.message(text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if _, err := s.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram sendMessage: %w", err)
	}
	return nil
}

func (s *Sender) message(text string) tgbotapi.MessageConfig {
	if s.handle != "" {
		return tgbotapi.NewMessageToChannel(s.handle, text)
	}
	return tgbotapi.NewMessage(s.chatID, text)
}
