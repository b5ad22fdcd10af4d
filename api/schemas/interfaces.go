package schemas

import (
	"context"
)

// -- Agent Interface --

// Agent is the user-authored decision unit. The runner calls Act once per game step
// and sends the returned string to the game server as-is.
type Agent interface {
	// Act observes the current game state and returns an action from the game's vocabulary.
	Act(ctx context.Context, obs Observation) (string, error)
}

// AgentFunc adapts a plain function to the Agent interface.
type AgentFunc func(ctx context.Context, obs Observation) (string, error)

// Act implements Agent.
func (f AgentFunc) Act(ctx context.Context, obs Observation) (string, error) { return f(ctx, obs) }

// -- Environment Interface --

// Environment is an in-process game. Game servers wrap an Environment and expose it
// over the command protocol.
type Environment interface {
	// Observe returns the current textual state and an optional JPEG snapshot.
	Observe() (text string, image []byte, err error)
	// Step applies a raw action string. Unparseable actions are a no-op step, not an error.
	Step(action string) (score float64, terminated bool, err error)
	// Reset starts a new episode.
	Reset() error
	// Info returns the context attached to every observation.
	Info() GameInfo
}

// EnvironmentFactory builds fresh environments, used when a soft reset fails.
type EnvironmentFactory func() (Environment, error)

// -- Renderer Interface --

// Renderer owns all terminal presentation of an evaluation run. Implementations must be
// safe for concurrent use because every game reports from its own goroutine.
type Renderer interface {
	Start(info RunInfo) error
	Stop()
	Event(msg string)
	Warn(msg string)
	SetServerStatus(game GameID, status ServerStatus)
	SetSessionInfo(sessionID, submissionID string)
	StartGameTimer(game GameID)
	UpdateGameProgress(game GameID, score float64)
	CompleteGame(game GameID, avgScore float64)
	// Confirm asks a yes/no question. Non-interactive renderers return def.
	Confirm(question string, def bool) bool
	ShowFinalSummary(total float64)
	CompleteEvaluation(success bool)
}

// RunInfo is the static header information shown by a Renderer.
type RunInfo struct {
	Local        bool
	SessionID    string
	SubmissionID string
	GameDataPath string
	Games        []GameID
}

// -- LLM Client Schemas & Interface --

// ModelTier allows for selecting a large language model based on a preference
// for speed versus advanced capabilities.
type ModelTier string

const (
	TierFast     ModelTier = "fast"     // Prefers a faster, potentially less capable model.
	TierPowerful ModelTier = "powerful" // Prefers a more capable, potentially slower model.
)

// GenerationOptions provides detailed parameters to control the text generation
// process of the LLM, such as creativity (temperature) and output format.
type GenerationOptions struct {
	Temperature     float64 `json:"temperature"`       // Controls randomness. Lower is more deterministic.
	ForceJSONFormat bool    `json:"force_json_format"` // If true, forces the model to output valid JSON.
	MaxTokens       int     `json:"max_tokens"`
}

// GenerationRequest encapsulates a complete request to the LLM, including the
// system and user prompts, the desired model tier, and generation options.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"` // Instructions for the model's persona and task.
	UserPrompt   string            `json:"user_prompt"`   // The rendered game state prompt.
	Tier         ModelTier         `json:"tier"`          // The desired model tier (fast or powerful).
	Options      GenerationOptions `json:"options"`       // Advanced generation parameters.
	// Image is an optional JPEG snapshot sent alongside the prompt to multimodal models.
	Image []byte `json:"-"`
}

// LLMClient defines a standard interface for interacting with a Large Language
// Model, abstracting the specifics of the underlying provider.
type LLMClient interface {
	// Generate produces a text completion based on the provided request.
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	// Close cleans up any resources held by the client.
	Close() error
}
