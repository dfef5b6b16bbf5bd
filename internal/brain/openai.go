package brain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAIConfig controls the chat-completions client.
type OpenAIConfig struct {
	APIKey        string
	BaseURL       string
	Model         string
	PersonaPrompt string
	MaxTokens     int
	Temperature   float64
}

// OpenAICompleter generates advisor replies through an OpenAI-style
// chat-completions endpoint with a fixed persona system prompt.
type OpenAICompleter struct {
	cfg    OpenAIConfig
	client *http.Client
}

func NewOpenAICompleter(cfg OpenAIConfig) *OpenAICompleter {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "gpt-3.5-turbo"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 150
	}
	return &OpenAICompleter{
		cfg: cfg,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *OpenAICompleter) Complete(ctx context.Context, userMessage string) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: c.cfg.PersonaPrompt},
			{Role: "user", Content: userMessage},
		},
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	})
	if err != nil {
		return "", completionError(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", completionError(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	res, err := c.client.Do(req)
	if err != nil {
		return "", completionError(fmt.Errorf("send request: %w", err))
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", completionError(fmt.Errorf("read response: %w", err))
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", completionError(fmt.Errorf("status %d: %s", res.StatusCode, raw))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", completionError(fmt.Errorf("decode: %w", err))
	}
	if len(parsed.Choices) == 0 {
		return "", completionError(fmt.Errorf("no choices in response"))
	}
	text := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if text == "" {
		return "", completionError(fmt.Errorf("empty completion"))
	}
	return text, nil
}
