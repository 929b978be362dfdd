package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

// maxMessageLen is the safe Telegram message length under HTML parse mode.
const maxMessageLen = 3800

const (
	maxSendAttempts = 3
	initialBackoff  = 600 * time.Millisecond
	maxBackoff      = 5 * time.Second
)

// BotAPI is the slice of the Telegram client the sender uses.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSender delivers HTML messages to chats with splitting, throttling
// and bounded retries.
type TelegramSender struct {
	api     BotAPI
	limiter *rate.Limiter
	logger  *slog.Logger
	sleep   func(time.Duration)
}

// NewTelegramSender connects the bot and builds a sender. The limiter keeps
// the process under Telegram's global ~30 msg/s ceiling.
func NewTelegramSender(token string, logger *slog.Logger) (*TelegramSender, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connecting telegram bot: %w", err)
	}
	return newTelegramSender(bot, logger), nil
}

func newTelegramSender(api BotAPI, logger *slog.Logger) *TelegramSender {
	return &TelegramSender{
		api:     api,
		limiter: rate.NewLimiter(rate.Limit(25), 5),
		logger:  logger,
		sleep:   time.Sleep,
	}
}

// Send delivers text to one chat, splitting into parts when needed.
//
// Error policy per part: retry-after sleeps the indicated duration and
// retries; forbidden abandons the whole chat (user blocked the bot); "message
// is too long" resplits the part smaller; anything else backs off
// exponentially up to three attempts.
func (s *TelegramSender) Send(ctx context.Context, chatID int64, text string) error {
	chunks := splitMessage(text, maxMessageLen)
	for i := 0; i < len(chunks); i++ {
		part := chunks[i]
		attempt := 0
		backoff := initialBackoff

	retry:
		for {
			if err := s.limiter.Wait(ctx); err != nil {
				return err
			}
			msg := tgbotapi.NewMessage(chatID, part)
			msg.ParseMode = tgbotapi.ModeHTML
			_, err := s.api.Send(msg)
			if err == nil {
				break
			}

			var apiErr *tgbotapi.Error
			if errors.As(err, &apiErr) {
				switch {
				case apiErr.RetryAfter > 0:
					delay := time.Duration(apiErr.RetryAfter) * time.Second
					s.logger.Warn("telegram throttled", "chat_id", chatID, "sleep", delay)
					s.sleep(delay)
					continue
				case apiErr.Code == 403:
					s.logger.Warn("telegram forbidden, abandoning chat", "chat_id", chatID)
					return nil
				case strings.Contains(strings.ToLower(apiErr.Message), "message is too long") && len(part) > 1000:
					extra := splitMessage(part, 1500)
					chunks = append(chunks[:i], append(extra, chunks[i+1:]...)...)
					i--
					break retry
				}
			}

			attempt++
			if attempt >= maxSendAttempts {
				return fmt.Errorf("sending to chat %d: %w", chatID, err)
			}
			s.sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
	return nil
}

// splitMessage splits text into parts of at most limit characters,
// preferring newline boundaries and falling back to hard slices for
// oversized lines.
func splitMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}

	var parts []string
	var cur string
	for _, line := range strings.Split(text, "\n") {
		cand := line
		if cur != "" {
			cand = cur + "\n" + line
		}
		if len(cand) <= limit {
			cur = cand
			continue
		}
		if cur != "" {
			parts = append(parts, cur)
		}
		cur = line
	}
	if cur != "" {
		parts = append(parts, cur)
	}

	var out []string
	for _, p := range parts {
		for len(p) > limit {
			out = append(out, p[:limit])
			p = p[limit:]
		}
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
