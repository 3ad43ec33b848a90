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
	openAIChatURL = "https://api.openai.com/v1/chat/completions"
	chatModel     = "gpt-4o-mini"
)

// chatCompletion speaks the OpenAI chat completions protocol, which
// Cerebras also implements.
type chatCompletion struct {
	name   string
	apiKey string
	opts   options
}

type OpenAIClassifier struct {
	chat chatCompletion
}

func NewOpenAIClassifier(apiKey string, opts ...Option) *OpenAIClassifier {
	return &OpenAIClassifier{chat: chatCompletion{
		name:   ProviderOpenAI,
		apiKey: apiKey,
		opts:   buildOptions(openAIChatURL, chatModel, opts),
	}}
}

func (c *OpenAIClassifier) Classify(ctx context.Context, text, topic string) (domain.ClaimResult, error) {
	return c.chat.classify(ctx, text, topic)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c chatCompletion) complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.opts.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: classifyTemperature,
		MaxTokens:   classifyMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal %s request: %w", c.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create %s request: %w", c.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.opts.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %s request failed: %w", domain.ErrUpstreamUnavailable, c.name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read %s response: %w", domain.ErrUpstreamUnavailable, c.name, err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", upstreamStatusError(c.name, resp.StatusCode, respBody)
	}

	var result chatResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("%w: unmarshal %s response: %v", domain.ErrMalformedResponse, c.name, err)
	}

	if result.Error != nil {
		return "", fmt.Errorf("%w: %s API error: %s", domain.ErrUpstreamUnavailable, c.name, result.Error.Message)
	}

	if len(result.Choices) == 0 {
		return "", fmt.Errorf("%w: %s API returned no choices", domain.ErrMalformedResponse, c.name)
	}

	return strings.TrimSpace(result.Choices[0].Message.Content), nil
}

func (c chatCompletion) classify(ctx context.Context, text, topic string) (domain.ClaimResult, error) {
	result, err := c.complete(ctx, fmt.Sprintf(classifyPrompt, topic, safeText(text)))
	if err != nil {
		return domain.ClaimResult{}, fmt.Errorf("classify: %w", err)
	}
	return parseClaimResult(result)
}
