package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Harshitk-cp/skytrust/internal/domain"
)

const (
	anthropicMessagesURL = "https://api.anthropic.com/v1/messages"
	anthropicModel       = "claude-3-5-haiku-20241022"
	anthropicVersion     = "2023-06-01"
)

type AnthropicClassifier struct {
	apiKey string
	opts   options
}

func NewAnthropicClassifier(apiKey string, opts ...Option) *AnthropicClassifier {
	return &AnthropicClassifier{
		apiKey: apiKey,
		opts:   buildOptions(anthropicMessagesURL, anthropicModel, opts),
	}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float32            `json:"temperature"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *AnthropicClassifier) complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(anthropicRequest{
		Model:       c.opts.model,
		MaxTokens:   classifyMaxTokens,
		Temperature: classifyTemperature,
		Messages:    []anthropicMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal anthropic request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create anthropic request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.opts.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: anthropic request failed: %w", domain.ErrUpstreamUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read anthropic response: %w", domain.ErrUpstreamUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", upstreamStatusError("anthropic", resp.StatusCode, respBody)
	}

	var result anthropicResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("%w: unmarshal anthropic response: %v", domain.ErrMalformedResponse, err)
	}

	if result.Error != nil {
		return "", fmt.Errorf("%w: anthropic API error: %s", domain.ErrUpstreamUnavailable, result.Error.Message)
	}

	for _, block := range result.Content {
		if block.Type == "text" || block.Type == "" {
			return strings.TrimSpace(block.Text), nil
		}
	}
	return "", fmt.Errorf("%w: anthropic API returned no content", domain.ErrMalformedResponse)
}

func (c *AnthropicClassifier) Classify(ctx context.Context, text, topic string) (domain.ClaimResult, error) {
	result, err := c.complete(ctx, fmt.Sprintf(classifyPrompt, topic, safeText(text)))
	if err != nil {
		return domain.ClaimResult{}, fmt.Errorf("classify: %w", err)
	}
	return parseClaimResult(result)
}
