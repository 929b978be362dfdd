package notify

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pingtower/pingtower/pkg/types"
)

func intPtr(v int) *int { return &v }
func floatPtr(v float64) *float64 { return &v }

func redEvent() *types.ProbeEvent {
	return &types.ProbeEvent{
		ID:   1,
		URL:  "https://example.com",
		Name: "Example <Shop>",
		Logs: types.ProbeSnapshot{
			Timestamp:    "2025-03-01T12:00:00",
			TrafficLight: types.LightRed,
			LatencyMs:    intPtr(2500),
			PingMs:       floatPtr(10.25),
			DNSResolved:  true,
			ErrorsLast:   intPtr(3),
		},
	}
}

func TestFormatChat(t *testing.T) {
	event := redEvent()
	text := FormatChat(event)

	for _, want := range []string{
		"<b>Example &lt;Shop&gt;</b> (https://example.com)",
		"❌ Светофор: RED",
		"🕒 Время: 2025-03-01T12:00:00",
		"📡 Код ответа: —",
		"⚡ Задержка HTTP: 2500 мс",
		"📶 Пинг: 10.25 мс",
		"🔐 SSL дней осталось: —",
		"🌐 DNS резолвинг: OK",
		"↪️ Редиректы: —",
		"❗ Ошибки (последние проверки): 3",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("chat text missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "Вердикт LLM") {
		t.Error("verdict section present without explanation")
	}

	event.Explanation = "Сервис недоступен, проверьте <бэкенд>."
	text = FormatChat(event)
	if !strings.Contains(text, "💬 <b>Вердикт LLM</b>\nСервис недоступен, проверьте &lt;бэкенд&gt;.") {
		t.Errorf("verdict section wrong:\n%s", text)
	}
}

func TestFormatEmail(t *testing.T) {
	event := redEvent()
	subject := FormatEmailSubject(event)
	if subject != "[RED] Example <Shop> — статус обновлён" {
		t.Errorf("subject = %q", subject)
	}

	plain, htmlBody := FormatEmailBodies(event)
	if !strings.Contains(plain, "Задержка HTTP, мс: 2500") {
		t.Errorf("plain body missing latency:\n%s", plain)
	}
	if strings.Contains(plain, "<") {
		t.Errorf("plain body contains markup:\n%s", plain)
	}
	if !strings.Contains(htmlBody, "<td>Задержка HTTP, мс</td><td>2500</td>") {
		t.Errorf("html body missing latency row:\n%s", htmlBody)
	}
	if !strings.Contains(htmlBody, "Example &lt;Shop&gt;") {
		t.Errorf("html body not escaped:\n%s", htmlBody)
	}
}

func TestSplitMessageShort(t *testing.T) {
	parts := splitMessage("hello", maxMessageLen)
	if len(parts) != 1 || parts[0] != "hello" {
		t.Errorf("parts = %v", parts)
	}
}

func TestSplitMessagePrefersNewlines(t *testing.T) {
	lines := make([]string, 0, 100)
	for i := 0; i < 100; i++ {
		lines = append(lines, strings.Repeat("x", 100))
	}
	text := strings.Join(lines, "\n")

	parts := splitMessage(text, 1000)
	for i, p := range parts {
		if len(p) > 1000 {
			t.Errorf("part %d length %d exceeds limit", i, len(p))
		}
		if strings.HasPrefix(p, "\n") || strings.HasSuffix(p, "\n") {
			t.Errorf("part %d has dangling newline", i)
		}
	}
	if got := strings.Join(parts, "\n"); got != text {
		t.Error("joining parts does not restore the text")
	}
}

func TestSplitMessageHardSlice(t *testing.T) {
	text := strings.Repeat("a", 2500)
	parts := splitMessage(text, 1000)
	if len(parts) != 3 {
		t.Fatalf("parts = %d, want 3", len(parts))
	}
	if len(parts[0]) != 1000 || len(parts[1]) != 1000 || len(parts[2]) != 500 {
		t.Errorf("part lengths = %d/%d/%d", len(parts[0]), len(parts[1]), len(parts[2]))
	}
}

// scriptedBot fails with the queued errors before succeeding.
type scriptedBot struct {
	errs []error
	sent []string
}

func (b *scriptedBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if len(b.errs) > 0 {
		err := b.errs[0]
		b.errs = b.errs[1:]
		if err != nil {
			return tgbotapi.Message{}, err
		}
	}
	msg := c.(tgbotapi.MessageConfig)
	b.sent = append(b.sent, msg.Text)
	return tgbotapi.Message{}, nil
}

func newTestTelegramSender(bot BotAPI) *TelegramSender {
	s := newTelegramSender(bot, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.sleep = func(time.Duration) {}
	return s
}

func TestTelegramSendSplitsLongText(t *testing.T) {
	bot := &scriptedBot{}
	s := newTestTelegramSender(bot)

	text := strings.Repeat(strings.Repeat("x", 100)+"\n", 80) // ~8080 chars
	if err := s.Send(context.Background(), 42, text); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(bot.sent) < 2 {
		t.Errorf("messages sent = %d, want split delivery", len(bot.sent))
	}
	for i, m := range bot.sent {
		if len(m) > maxMessageLen {
			t.Errorf("message %d length %d over limit", i, len(m))
		}
	}
}

func TestTelegramSendRetriesTransientErrors(t *testing.T) {
	bot := &scriptedBot{errs: []error{
		&tgbotapi.Error{Code: 500, Message: "internal"},
		&tgbotapi.Error{Code: 500, Message: "internal"},
	}}
	s := newTestTelegramSender(bot)

	if err := s.Send(context.Background(), 42, "hi"); err != nil {
		t.Fatalf("Send after transient errors: %v", err)
	}
	if len(bot.sent) != 1 {
		t.Errorf("sent = %d, want 1", len(bot.sent))
	}
}

func TestTelegramSendGivesUpAfterMaxAttempts(t *testing.T) {
	bot := &scriptedBot{errs: []error{
		&tgbotapi.Error{Code: 500, Message: "internal"},
		&tgbotapi.Error{Code: 500, Message: "internal"},
		&tgbotapi.Error{Code: 500, Message: "internal"},
	}}
	s := newTestTelegramSender(bot)

	if err := s.Send(context.Background(), 42, "hi"); err == nil {
		t.Error("want error after exhausted attempts")
	}
	if len(bot.sent) != 0 {
		t.Errorf("sent = %d, want 0", len(bot.sent))
	}
}

func TestTelegramSendForbiddenAbandonsChat(t *testing.T) {
	bot := &scriptedBot{errs: []error{
		&tgbotapi.Error{Code: 403, Message: "Forbidden: bot was blocked by the user"},
	}}
	s := newTestTelegramSender(bot)

	if err := s.Send(context.Background(), 42, "hi"); err != nil {
		t.Fatalf("forbidden must not be an error: %v", err)
	}
	if len(bot.sent) != 0 {
		t.Errorf("sent = %d, want 0 after forbidden", len(bot.sent))
	}
}

func TestTelegramSendHonorsRetryAfter(t *testing.T) {
	bot := &scriptedBot{errs: []error{
		&tgbotapi.Error{
			Code:               429,
			Message:            "Too Many Requests: retry after 2",
			ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 2},
		},
	}}
	s := newTestTelegramSender(bot)
	var slept []time.Duration
	s.sleep = func(d time.Duration) { slept = append(slept, d) }

	if err := s.Send(context.Background(), 42, "hi"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(slept) != 1 || slept[0] != 2*time.Second {
		t.Errorf("slept = %v, want [2s]", slept)
	}
	if len(bot.sent) != 1 {
		t.Errorf("sent = %d, want 1", len(bot.sent))
	}
}

func TestTelegramSendResplitsTooLong(t *testing.T) {
	bot := &scriptedBot{errs: []error{
		&tgbotapi.Error{Code: 400, Message: "Bad Request: message is too long"},
	}}
	s := newTestTelegramSender(bot)

	text := strings.Repeat("a", 3000)
	if err := s.Send(context.Background(), 42, text); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(bot.sent) != 2 {
		t.Fatalf("sent = %d, want 2 after resplit at 1500", len(bot.sent))
	}
	if len(bot.sent[0]) != 1500 || len(bot.sent[1]) != 1500 {
		t.Errorf("resplit lengths = %d/%d", len(bot.sent[0]), len(bot.sent[1]))
	}
}
