// Package notify delivers formatted status messages over Telegram and email.
package notify

import (
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/pingtower/pingtower/pkg/types"
)

// FormatChat renders the HTML status message for Telegram.
func FormatChat(event *types.ProbeEvent) string {
	logs := event.Logs

	light := strings.ToLower(string(logs.TrafficLight))
	if light == "" {
		light = "unknown"
	}

	timestamp := logs.Timestamp
	if timestamp == "" {
		timestamp = "—"
	}

	dns := "FAIL"
	if logs.DNSResolved {
		dns = "OK"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b> (%s)\n", html.EscapeString(event.Name), html.EscapeString(event.URL))
	fmt.Fprintf(&b, "%s Светофор: %s\n\n", logs.TrafficLight.Icon(), strings.ToUpper(light))
	fmt.Fprintf(&b, "🕒 Время: %s\n", timestamp)
	fmt.Fprintf(&b, "📡 Код ответа: %s\n", intOrDash(logs.HTTPStatus))
	fmt.Fprintf(&b, "⚡ Задержка HTTP: %s мс\n", intOrDash(logs.LatencyMs))
	fmt.Fprintf(&b, "📶 Пинг: %s мс\n", floatOrDash(logs.PingMs))
	fmt.Fprintf(&b, "🔐 SSL дней осталось: %s\n", intOrDash(logs.SSLDaysLeft))
	fmt.Fprintf(&b, "🌐 DNS резолвинг: %s\n", dns)
	fmt.Fprintf(&b, "↪️ Редиректы: %s\n", intOrDash(logs.Redirects))
	fmt.Fprintf(&b, "❗ Ошибки (последние проверки): %s\n", intOrDash(logs.ErrorsLast))

	if explanation := strings.TrimSpace(event.Explanation); explanation != "" {
		fmt.Fprintf(&b, "\n💬 <b>Вердикт LLM</b>\n%s", html.EscapeString(explanation))
	}
	return b.String()
}

// FormatEmailSubject renders the email subject line.
func FormatEmailSubject(event *types.ProbeEvent) string {
	light := strings.ToUpper(string(event.Logs.TrafficLight))
	if light == "" {
		light = "UNKNOWN"
	}
	return fmt.Sprintf("[%s] %s — статус обновлён", light, event.Name)
}

// FormatEmailBodies renders the plain-text and HTML email bodies. The plain
// body mirrors the chat layout without tags; the HTML body is a two-column
// table.
func FormatEmailBodies(event *types.ProbeEvent) (plain, htmlBody string) {
	logs := event.Logs

	dns := "FAIL"
	if logs.DNSResolved {
		dns = "OK"
	}
	timestamp := logs.Timestamp
	if timestamp == "" {
		timestamp = "—"
	}

	rows := []struct{ label, value string }{
		{"Светофор", strings.ToUpper(string(logs.TrafficLight))},
		{"Время", timestamp},
		{"Код ответа", intOrDash(logs.HTTPStatus)},
		{"Задержка HTTP, мс", intOrDash(logs.LatencyMs)},
		{"Пинг, мс", floatOrDash(logs.PingMs)},
		{"SSL дней осталось", intOrDash(logs.SSLDaysLeft)},
		{"DNS резолвинг", dns},
		{"Редиректы", intOrDash(logs.Redirects)},
		{"Ошибки (последние проверки)", intOrDash(logs.ErrorsLast)},
	}

	var pb strings.Builder
	fmt.Fprintf(&pb, "%s (%s)\n\n", event.Name, event.URL)
	for _, row := range rows {
		fmt.Fprintf(&pb, "%s: %s\n", row.label, row.value)
	}

	var hb strings.Builder
	fmt.Fprintf(&hb, "<h3>%s (%s)</h3>\n", html.EscapeString(event.Name), html.EscapeString(event.URL))
	hb.WriteString("<table border=\"1\" cellpadding=\"4\" cellspacing=\"0\">\n")
	for _, row := range rows {
		fmt.Fprintf(&hb, "<tr><td>%s</td><td>%s</td></tr>\n",
			html.EscapeString(row.label), html.EscapeString(row.value))
	}
	hb.WriteString("</table>\n")

	if explanation := strings.TrimSpace(event.Explanation); explanation != "" {
		fmt.Fprintf(&pb, "\nВердикт LLM:\n%s\n", explanation)
		fmt.Fprintf(&hb, "<p><b>Вердикт LLM</b><br>%s</p>\n", html.EscapeString(explanation))
	}
	return pb.String(), hb.String()
}

func intOrDash(v *int) string {
	if v == nil {
		return "—"
	}
	return strconv.Itoa(*v)
}

func floatOrDash(v *float64) string {
	if v == nil {
		return "—"
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
