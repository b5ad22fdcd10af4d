package llmclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/orak-cli/api/schemas"
	"github.com/xkilldash9x/orak-cli/internal/config"
)

func TestNewClient_Success_RouterInitialization(t *testing.T) {
	logger := setupTestLogger(t)
	ctx := context.Background()

	fastConfig := getValidLLMConfig()
	fastConfig.Model = "gemini-flash"
	powerfulConfig := getValidLLMConfig()
	powerfulConfig.Model = "gemini-pro"

	cfg := config.AgentConfig{
		LLM: config.LLMRouterConfig{
			DefaultFastModel:     "FastAlias",
			DefaultPowerfulModel: "PowerfulAlias",
			Models: map[string]config.LLMModelConfig{
				"FastAlias":     fastConfig,
				"PowerfulAlias": powerfulConfig,
			},
		},
	}

	client, err := NewClient(ctx, cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	router, ok := client.(*LLMRouter)
	require.True(t, ok, "the created client should be of type *LLMRouter")

	fast, ok := router.clients[schemas.TierFast].(*GeminiClient)
	require.True(t, ok)
	assert.Equal(t, "gemini-flash", fast.config.Model)

	powerful, ok := router.clients[schemas.TierPowerful].(*GeminiClient)
	require.True(t, ok)
	assert.Equal(t, "gemini-pro", powerful.config.Model)
}

func TestNewClient_SharedModel(t *testing.T) {
	cfg := config.AgentConfig{
		LLM: config.LLMRouterConfig{
			DefaultFastModel:     "only",
			DefaultPowerfulModel: "only",
			Models:               map[string]config.LLMModelConfig{"only": getValidLLMConfig()},
		},
	}

	client, err := NewClient(context.Background(), cfg, setupTestLogger(t))
	require.NoError(t, err)

	router := client.(*LLMRouter)
	assert.Same(t, router.clients[schemas.TierFast], router.clients[schemas.TierPowerful])
}

func TestNewClient_Failures(t *testing.T) {
	ctx := context.Background()
	logger := setupTestLogger(t)

	t.Run("missing model alias", func(t *testing.T) {
		cfg := config.AgentConfig{LLM: config.LLMRouterConfig{
			DefaultFastModel: "missing",
			Models:           map[string]config.LLMModelConfig{},
		}}
		_, err := NewClient(ctx, cfg, logger)
		assert.ErrorContains(t, err, "failed to resolve fast tier model")
	})

	t.Run("unsupported provider", func(t *testing.T) {
		bad := getValidLLMConfig()
		bad.Provider = "carrier-pigeon"
		cfg := config.AgentConfig{LLM: config.LLMRouterConfig{
			DefaultFastModel:     "bad",
			DefaultPowerfulModel: "bad",
			Models:               map[string]config.LLMModelConfig{"bad": bad},
		}}
		_, err := NewClient(ctx, cfg, logger)
		assert.ErrorContains(t, err, "unknown or unsupported LLM provider configured: 'carrier-pigeon'")
	})

	t.Run("gemini without key", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "")
		t.Setenv("GOOGLE_API_KEY", "")
		noKey := getValidLLMConfig()
		noKey.APIKey = ""
		cfg := config.AgentConfig{LLM: config.LLMRouterConfig{
			DefaultFastModel:     "g",
			DefaultPowerfulModel: "g",
			Models:               map[string]config.LLMModelConfig{"g": noKey},
		}}
		_, err := NewClient(ctx, cfg, logger)
		assert.ErrorContains(t, err, "Gemini API Key is required")
	})
}
