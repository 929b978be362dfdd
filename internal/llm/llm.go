// Package llm enriches probe events with a model-generated explanation.
//
// The worker sits between the pinger and the dispatcher: it consumes raw
// events, optionally asks an OpenAI-compatible model for a short plaintext
// summary, and republishes. Model failures never drop an event; the event
// goes out with an empty explanation so downstream fan-out is not lost.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/pingtower/pingtower/internal/config"
	"github.com/pingtower/pingtower/pkg/types"
	openai "github.com/sashabaranov/go-openai"
)

// Completer asks the model for a response to one prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Publisher sends enriched events to the bus.
type Publisher interface {
	Publish(ctx context.Context, exchange, key string, payload any) error
}

// Client wraps the OpenAI-compatible chat completions API.
type Client struct {
	api   *openai.Client
	model string
}

// NewClient builds a model client. baseURL may point at any
// OpenAI-compatible endpoint.
func NewClient(apiKey, model, baseURL string) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Client{api: openai.NewClientWithConfig(cfg), model: model}
}

// Complete sends the prompt as a single user message and returns the model's
// reply.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("model returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Worker consumes raw probe events and republishes them enriched.
type Worker struct {
	completer Completer
	publisher Publisher
	cfg       config.LLMConfig
	logger    *slog.Logger

	exchange   string
	routingKey string
}

// NewWorker builds a Worker. completer may be nil when no API key is
// configured; events then pass through with empty explanations.
func NewWorker(completer Completer, publisher Publisher, cfg config.LLMConfig, exchange, routingKey string, logger *slog.Logger) *Worker {
	return &Worker{
		completer:  completer,
		publisher:  publisher,
		cfg:        cfg,
		logger:     logger,
		exchange:   exchange,
		routingKey: routingKey,
	}
}

// Handle processes one raw event body from the bus.
func (w *Worker) Handle(ctx context.Context, body []byte) error {
	var event types.ProbeEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("decoding event: %w", err)
	}
	w.logger.Info("event received", "name", event.Name, "url", event.URL)

	if w.cfg.UseSkipNotification && event.Com.Skips() {
		w.logger.Info("skip_notification set, dropping", "url", event.URL)
		return nil
	}

	event.Explanation = ""
	if event.Com.WantsLLM() && w.completer != nil {
		explanation, err := w.explain(ctx, &event)
		if err != nil {
			// The event still flows downstream with an empty explanation.
			w.logger.Error("model request failed", "url", event.URL, "error", err)
		} else {
			event.Explanation = explanation
		}
	}

	if err := w.publisher.Publish(ctx, w.exchange, w.routingKey, &event); err != nil {
		return fmt.Errorf("republishing event: %w", err)
	}
	return nil
}

func (w *Worker) explain(ctx context.Context, event *types.ProbeEvent) (string, error) {
	logs, err := json.MarshalIndent(event.Logs, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding snapshot: %w", err)
	}
	prompt := fmt.Sprintf(
		"Проанализируй состояние сервиса '%s' (%s).\n"+
			"Последние метрики:\n%s\n\n"+
			"Сформулируй короткий вывод о статусе и дай рекомендацию, что стоит проверить."+
			" Не используй форматирование Markdown или HTML.",
		event.Name, event.URL, logs,
	)
	return w.completer.Complete(ctx, prompt)
}
