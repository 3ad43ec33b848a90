package llm

import (
	"context"

	"github.com/Harshitk-cp/skytrust/internal/domain"
)

const (
	cerebrasAPIURL = "https://api.cerebras.ai/v1/chat/completions"
	cerebrasModel  = "llama-3.3-70b"
)

// CerebrasClassifier uses the OpenAI-compatible Cerebras inference API.
type CerebrasClassifier struct {
	chat chatCompletion
}

func NewCerebrasClassifier(apiKey string, opts ...Option) *CerebrasClassifier {
	return &CerebrasClassifier{chat: chatCompletion{
		name:   ProviderCerebras,
		apiKey: apiKey,
		opts:   buildOptions(cerebrasAPIURL, cerebrasModel, opts),
	}}
}

func (c *CerebrasClassifier) Classify(ctx context.Context, text, topic string) (domain.ClaimResult, error) {
	return c.chat.classify(ctx, text, topic)
}
