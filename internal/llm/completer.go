package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/comigor/queryhub-go/internal/logger"
)

// ErrBackendUnavailable marks every failure to obtain a completion: connection
// errors, timeouts, non-success statuses and unusable response bodies.
var ErrBackendUnavailable = errors.New("completion backend unavailable")

const defaultTimeout = 60 * time.Second

// CompleterConfig identifies the model and bounds each round trip.
type CompleterConfig struct {
	Model        string
	SystemPrompt string
	Timeout      time.Duration
}

// Completer turns a prompt into raw completion text. It never retries.
type Completer struct {
	client       Client
	model        string
	systemPrompt string
	timeout      time.Duration
}

func NewCompleter(client Client, cfg CompleterConfig) *Completer {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Completer{
		client:       client,
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		timeout:      timeout,
	}
}

// Generate sends prompt as the final user message and returns the first
// choice's content verbatim.
func (c *Completer) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	if err := opts.Validate(); err != nil {
		return "", fmt.Errorf("invalid generation options: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if c.systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: c.systemPrompt})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   opts.MaxTokens,
		Temperature: wireTemperature(opts.Temperature),
		Stop:        opts.StopSequences,
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		logger.L.Warn("completion request failed", "model", c.model, "error", err, "elapsed", time.Since(start).String())
		return "", fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: response carried no choices", ErrBackendUnavailable)
	}
	logger.L.Debug("completion received", "model", c.model, "finish_reason", resp.Choices[0].FinishReason, "elapsed", time.Since(start).String())

	return resp.Choices[0].Message.Content, nil
}

// wireTemperature keeps an explicit zero on the wire; go-openai drops a zero
// temperature through omitempty and backends then apply their own default.
func wireTemperature(t float64) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(t)
}
