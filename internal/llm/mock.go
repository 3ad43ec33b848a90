package llm

import (
	"context"
	"sync"

	"github.com/Harshitk-cp/skytrust/internal/domain"
)

// MockClassifier is a configurable classifier for tests and for running
// without an API key. By default every text is neutral.
type MockClassifier struct {
	mu sync.Mutex

	ClassifyResponse domain.ClaimResult
	ClassifyError    error
	// ClassifyFunc, when set, decides the verdict per text and takes
	// precedence over ClassifyResponse and ClassifyError.
	ClassifyFunc func(text string) (domain.ClaimResult, error)

	// Call tracking for assertions
	ClassifyCalls []struct{ Text, Domain string }
}

func NewMockClassifier() *MockClassifier {
	return &MockClassifier{ClassifyResponse: domain.NeutralResult()}
}

func (c *MockClassifier) Classify(ctx context.Context, text, topic string) (domain.ClaimResult, error) {
	c.mu.Lock()
	c.ClassifyCalls = append(c.ClassifyCalls, struct{ Text, Domain string }{text, topic})
	fn, resp, err := c.ClassifyFunc, c.ClassifyResponse, c.ClassifyError
	c.mu.Unlock()

	if fn != nil {
		return fn(text)
	}
	if err != nil {
		return domain.ClaimResult{}, err
	}
	return resp, nil
}

// Calls returns how many times Classify has been called.
func (c *MockClassifier) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ClassifyCalls)
}

// Reset clears all recorded calls and resets responses to defaults.
func (c *MockClassifier) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ClassifyResponse = domain.NeutralResult()
	c.ClassifyError = nil
	c.ClassifyFunc = nil
	c.ClassifyCalls = nil
}
