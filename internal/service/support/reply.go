package support

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

const (
	DefaultReplyBaseURL = "https://api.minimax.io/anthropic"
	DefaultReplyModel   = "MiniMax-M2.1"
	DefaultReplyTimeout = 30 * time.Second

	replyAPIVersion   = "2023-06-01"
	replyMaxTokens    = 800
	replyMaxRetries   = 3
	replyInitialDelay = 500 * time.Millisecond
	replySystemPrompt = "You are a helpful customer support assistant for the JIELAN shoe store. Answer concisely in the same language as the user."
	// FallbackReply возвращается, если модель не прислала текстовый блок.
	FallbackReply = "Sorry, I could not generate a response."
)

// ReplyConfig: параметры Messages-совместимого API.
type ReplyConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// AnthropicClient генерирует ответы поддержки через Messages API.
type AnthropicClient struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
	backoff time.Duration
}

type messagesRequest struct {
	Model     string         `json:"model"`
	MaxTokens int            `json:"max_tokens"`
	System    string         `json:"system"`
	Messages  []messageParam `json:"messages"`
}

type messageParam struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type messagesResponse struct {
	Content []contentBlock `json:"content"`
}

type messagesError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewAnthropicClient создаёт клиент. Префикс провайдера "minimax/" в имени модели отбрасывается.
func NewAnthropicClient(cfg ReplyConfig) *AnthropicClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultReplyBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultReplyModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultReplyTimeout
	}
	return &AnthropicClient{
		apiKey:  strings.TrimSpace(cfg.APIKey),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   strings.TrimPrefix(cfg.Model, "minimax/"),
		client:  &http.Client{Timeout: cfg.Timeout},
		backoff: replyInitialDelay,
	}
}

// Generate отправляет переписку и возвращает первый текстовый блок ответа.
func (c *AnthropicClient) Generate(ctx context.Context, conversation []Turn) (string, error) {
	if c == nil || c.apiKey == "" {
		return "", domain.ErrSupportUnavailable
	}

	req := messagesRequest{
		Model:     c.model,
		MaxTokens: replyMaxTokens,
		System:    replySystemPrompt,
		Messages:  make([]messageParam, 0, len(conversation)),
	}
	for _, turn := range conversation {
		role := "assistant"
		if turn.Role == domain.SupportRoleUser {
			role = "user"
		}
		req.Messages = append(req.Messages, messageParam{
			Role:    role,
			Content: []contentBlock{{Type: "text", Text: turn.Text}},
		})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal messages request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < replyMaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(math.Pow(2, float64(attempt-1))) * c.backoff
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
		if err != nil {
			return "", fmt.Errorf("create messages request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-api-key", c.apiKey)
		httpReq.Header.Set("anthropic-version", replyAPIVersion)
		httpReq.Header.Set("User-Agent", version.UserAgent())

		resp, err := c.client.Do(httpReq)
		if err != nil {
			lastErr = fmt.Errorf("messages request failed: %w", err)
			if ctx.Err() != nil {
				return "", lastErr
			}
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read messages response: %w", err)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			var apiErr messagesError
			if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
				lastErr = fmt.Errorf("messages api error (%d): %s", resp.StatusCode, apiErr.Error.Message)
			} else {
				lastErr = fmt.Errorf("messages api error (%d): %s", resp.StatusCode, string(respBody))
			}
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				continue
			}
			return "", lastErr
		}

		var parsed messagesResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return "", fmt.Errorf("decode messages response: %w", err)
		}
		for _, block := range parsed.Content {
			if block.Type == "text" && block.Text != "" {
				return block.Text, nil
			}
		}
		return FallbackReply, nil
	}

	return "", fmt.Errorf("max retries (%d) exceeded: %w", replyMaxRetries, lastErr)
}
