// internal/llmclient/factory.go
package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/orak-cli/api/schemas"
	"github.com/xkilldash9x/orak-cli/internal/config"
)

// NewClient builds the tier router described by the agent configuration. When both tiers
// name the same model a single underlying client serves them.
func NewClient(ctx context.Context, cfg config.AgentConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	fastCfg, err := cfg.LLM.ModelFor(string(schemas.TierFast))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve fast tier model: %w", err)
	}
	powerfulCfg, err := cfg.LLM.ModelFor(string(schemas.TierPowerful))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve powerful tier model: %w", err)
	}

	fastClient, err := NewModelClient(ctx, fastCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create fast tier client (%s): %w", cfg.LLM.DefaultFastModel, err)
	}

	powerfulClient := fastClient
	if cfg.LLM.DefaultPowerfulModel != cfg.LLM.DefaultFastModel {
		powerfulClient, err = NewModelClient(ctx, powerfulCfg, logger)
		if err != nil {
			_ = fastClient.Close()
			return nil, fmt.Errorf("failed to create powerful tier client (%s): %w", cfg.LLM.DefaultPowerfulModel, err)
		}
	}

	return NewLLMRouter(logger, fastClient, powerfulClient)
}

// NewModelClient creates a client for a single model configuration based on its provider.
func NewModelClient(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		return NewGeminiClient(ctx, cfg, logger)
	case config.ProviderOpenAI, config.ProviderAnthropic, config.ProviderOllama:
		return NewGollmClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s, %s, %s, %s]",
			cfg.Provider, config.ProviderGemini, config.ProviderOpenAI, config.ProviderAnthropic, config.ProviderOllama)
	}
}
