package llm

import (
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

// NewClient creates an OpenAI-compatible client. Any server speaking the chat
// completions protocol works (OpenAI, LM Studio, Ollama, vLLM).
func NewClient(baseURL, apiKey string, timeout time.Duration) *openai.Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if timeout > 0 {
		config.HTTPClient = &http.Client{Timeout: timeout}
	}

	return openai.NewClientWithConfig(config)
}
