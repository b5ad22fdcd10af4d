// internal/llmclient/gollm_client.go
package llmclient

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/teilomillet/gollm"
	"go.uber.org/zap"

	"github.com/xkilldash9x/orak-cli/api/schemas"
	"github.com/xkilldash9x/orak-cli/internal/config"
)

// GollmClient implements schemas.LLMClient for the providers gollm supports
// (OpenAI, Anthropic, Ollama). Images are not forwarded.
type GollmClient struct {
	provider config.LLMProvider
	model    string
	timeout  time.Duration
	logger   *zap.Logger
	generate func(ctx context.Context, prompt *gollm.Prompt) (string, error)
}

// NewGollmClient builds a gollm-backed client for the configured provider and model.
func NewGollmClient(cfg config.LLMModelConfig, logger *zap.Logger) (*GollmClient, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("model name is required for provider '%s'", cfg.Provider)
	}
	if cfg.APIKey == "" && cfg.Provider != config.ProviderOllama {
		return nil, fmt.Errorf("API key is required for provider '%s'", cfg.Provider)
	}

	opts := []gollm.ConfigOption{
		gollm.SetProvider(string(cfg.Provider)),
		gollm.SetModel(cfg.Model),
		gollm.SetTemperature(float64(cfg.Temperature)),
		// Retries are owned by the agent loop.
		gollm.SetMaxRetries(0),
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if cfg.MaxTokens > 0 {
		opts = append(opts, gollm.SetMaxTokens(cfg.MaxTokens))
	}
	if cfg.APIKey != "" {
		opts = append(opts, gollm.SetAPIKey(cfg.APIKey))
	}

	llm, err := gollm.NewLLM(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gollm LLM for provider %s: %w", cfg.Provider, err)
	}

	return &GollmClient{
		provider: cfg.Provider,
		model:    cfg.Model,
		timeout:  cfg.APITimeout,
		logger:   logger.Named("llm_client." + string(cfg.Provider)),
		generate: func(ctx context.Context, prompt *gollm.Prompt) (string, error) {
			return llm.Generate(ctx, prompt)
		},
	}, nil
}

// Generate implements schemas.LLMClient.
func (c *GollmClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	if len(req.Image) > 0 {
		c.logger.Debug("Image attachments are not supported for this provider; sending text only.")
	}

	startTime := time.Now()
	text, err := c.generate(ctx, c.buildPrompt(req))
	if err != nil {
		return "", fmt.Errorf("%s generation failed: %w", c.provider, err)
	}
	c.logger.Debug("LLM generation complete",
		zap.String("model", c.model),
		zap.Duration("duration", time.Since(startTime)),
		zap.Int("response_len", len(text)),
	)
	return text, nil
}

// Close implements schemas.LLMClient.
func (c *GollmClient) Close() error { return nil }

func (c *GollmClient) buildPrompt(req schemas.GenerationRequest) *gollm.Prompt {
	var promptOpts []gollm.PromptOption
	if sys := strings.TrimSpace(req.SystemPrompt); sys != "" {
		promptOpts = append(promptOpts, gollm.WithSystemPrompt(sys, gollm.CacheTypeEphemeral))
	}
	if req.Options.MaxTokens > 0 {
		promptOpts = append(promptOpts, gollm.WithMaxLength(req.Options.MaxTokens))
	}
	text := req.UserPrompt
	if req.Options.ForceJSONFormat {
		text += "\n\nRespond with a single JSON object only."
	}
	return gollm.NewPrompt(text, promptOpts...)
}
