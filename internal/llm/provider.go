package llm

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Harshitk-cp/skytrust/internal/domain"
)

// Provider constants
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
	ProviderCerebras  = "cerebras"
	ProviderMock      = "mock"
)

const (
	classifyTemperature = 0.2
	classifyMaxTokens   = 200
	maxEvidenceRefs     = 2
)

type options struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

type Option func(*options)

// WithBaseURL points the client at a different endpoint, e.g. a test server.
func WithBaseURL(u string) Option {
	return func(o *options) { o.baseURL = u }
}

func WithModel(m string) Option {
	return func(o *options) { o.model = m }
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

func buildOptions(baseURL, model string, opts []Option) options {
	o := options{
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// NewClassifier creates a claim classifier based on the provider name.
// Returns an error if the provider is unknown or the API key is empty (except for mock).
func NewClassifier(provider, apiKey string, opts ...Option) (domain.ClaimClassifier, error) {
	switch provider {
	case ProviderOpenAI:
		if apiKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for OpenAI provider")
		}
		return NewOpenAIClassifier(apiKey, opts...), nil

	case ProviderAnthropic:
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is required for Anthropic provider")
		}
		return NewAnthropicClassifier(apiKey, opts...), nil

	case ProviderGemini:
		if apiKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is required for Gemini provider")
		}
		return NewGeminiClassifier(apiKey, opts...), nil

	case ProviderCerebras:
		if apiKey == "" {
			return nil, fmt.Errorf("CEREBRAS_API_KEY is required for Cerebras provider")
		}
		return NewCerebrasClassifier(apiKey, opts...), nil

	case ProviderMock:
		return NewMockClassifier(), nil

	default:
		return nil, fmt.Errorf("unknown LLM provider: %s (valid options: openai, anthropic, gemini, cerebras, mock)", provider)
	}
}

// parseClaimResult decodes the single-line JSON verdict a model returns,
// tolerating markdown fences around it.
func parseClaimResult(raw string) (domain.ClaimResult, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var out struct {
		Classification string   `json:"classification"`
		EvidenceRefs   []string `json:"evidenceRefs"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return domain.ClaimResult{}, fmt.Errorf("%w: parse classification: %v (raw: %s)", domain.ErrMalformedResponse, err, raw)
	}

	c := strings.ToLower(strings.TrimSpace(out.Classification))
	if !domain.ValidClassification(c) {
		return domain.ClaimResult{}, fmt.Errorf("%w: unknown classification %q", domain.ErrMalformedResponse, out.Classification)
	}

	refs := make([]string, 0, len(out.EvidenceRefs))
	for _, r := range out.EvidenceRefs {
		if r = strings.TrimSpace(r); r != "" {
			refs = append(refs, r)
		}
		if len(refs) == maxEvidenceRefs {
			break
		}
	}
	return domain.ClaimResult{Classification: domain.Classification(c), EvidenceRefs: refs}, nil
}

// safeText keeps the post from closing the quoted block in the prompt.
func safeText(text string) string {
	return strings.ReplaceAll(text, `"`, "'")
}

func upstreamStatusError(provider string, status int, body []byte) error {
	const maxBody = 512
	if len(body) > maxBody {
		body = body[:maxBody]
	}
	return fmt.Errorf("%w: %s API returned status %d: %s", domain.ErrUpstreamUnavailable, provider, status, string(body))
}
