package agent

import (
	"context"
	"strings"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/orak-cli/api/schemas"
)

// MockLLMClient mocks the schemas.LLMClient interface used by LLMAgent.
type MockLLMClient struct {
	mock.Mock
}

// Generate mocks the LLM generation call.
func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

// Close mocks the client shutdown.
func (m *MockLLMClient) Close() error {
	return nil
}

// userPromptContains matches requests whose user prompt contains every fragment.
func userPromptContains(fragments ...string) any {
	return mock.MatchedBy(func(req schemas.GenerationRequest) bool {
		for _, f := range fragments {
			if !strings.Contains(req.UserPrompt, f) {
				return false
			}
		}
		return true
	})
}
