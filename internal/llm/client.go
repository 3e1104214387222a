// Package llm is the completion client used by the plan and synthesis
// phases. Both phases issue exactly one message call and degrade on any
// failure, so the client keeps a deliberately small surface.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/metadeep/orchestrator/internal/ratecontrol"
)

// ErrNoCredential is returned when no API key is configured; callers use it
// to pick the deterministic fallback without a network attempt.
var ErrNoCredential = errors.New("ANTHROPIC_API_KEY not configured")

const anthropicVersion = "2023-06-01"

// Client calls the Anthropic messages API.
type Client struct {
	baseURL string
	key     func() string
	rate    *ratecontrol.Controller
	http    *http.Client
	logger  *zap.Logger
}

// NewClient builds the completion client. The key function is consulted on
// every call.
func NewClient(baseURL string, key func() string, rate *ratecontrol.Controller, logger *zap.Logger) *Client {
	if rate == nil {
		rate = ratecontrol.NewController(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: baseURL,
		key:     key,
		rate:    rate,
		http:    &http.Client{Timeout: 2 * time.Minute},
		logger:  logger,
	}
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete issues one user message and returns the concatenated text blocks
// of the response.
func (c *Client) Complete(ctx context.Context, model, prompt string, maxTokens int) (string, error) {
	key := c.key()
	if key == "" {
		return "", ErrNoCredential
	}
	if err := c.rate.Wait(ctx, "anthropic"); err != nil {
		return "", err
	}

	body, err := json.Marshal(messagesRequest{
		Model:     model,
		MaxTokens: maxTokens,
		Messages:  []message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", key)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("completion API returned status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var parsed messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode completion response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("completion API error: %s", parsed.Error.Message)
	}

	var b strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" || block.Type == "" {
			b.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", fmt.Errorf("completion API returned empty content")
	}
	return text, nil
}
