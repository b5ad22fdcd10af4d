// Package agent provides the agents evaluated by the runner: model-backed agents,
// scripted heuristics and a random baseline, all selected through a Registry.
package agent

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/orak-cli/api/schemas"
	"github.com/xkilldash9x/orak-cli/internal/config"
	"github.com/xkilldash9x/orak-cli/internal/game"
	"github.com/xkilldash9x/orak-cli/internal/observability"
)

// Kind selects an agent implementation.
type Kind string

const (
	KindLLM       Kind = "llm"
	KindHeuristic Kind = "heuristic"
	KindRandom    Kind = "random"
)

// ErrUnknownAgent is returned when no constructor is registered for a game and kind.
var ErrUnknownAgent = errors.New("unknown agent")

// Deps are the shared dependencies handed to agent constructors.
type Deps struct {
	// Client is nil when no model is configured.
	Client  schemas.LLMClient
	Config  config.AgentConfig
	Metrics *observability.Metrics
	Logger  *zap.Logger
	// Seed makes random agents reproducible. Zero seeds from the clock.
	Seed int64
}

// Constructor builds a fresh agent for one game.
type Constructor func(id schemas.GameID, deps Deps) (schemas.Agent, error)

type registryKey struct {
	game schemas.GameID
	kind Kind
}

// Registry maps (game, kind) pairs to constructors.
type Registry struct {
	mu    sync.RWMutex
	ctors map[registryKey]Constructor
}

// NewRegistry returns a registry with the built-in agents of every catalog game.
func NewRegistry() *Registry {
	r := &Registry{ctors: make(map[registryKey]Constructor)}
	heuristics := map[schemas.GameID]func() schemas.Agent{
		schemas.GameTwentyFourtyEight: func() schemas.Agent { return TwentyFortyEightHeuristic{} },
		schemas.GameSuperMario:        func() schemas.Agent { return MarioHeuristic{} },
		schemas.GamePokemonRed:        func() schemas.Agent { return &PokemonHeuristic{} },
		schemas.GameStarCraft:         func() schemas.Agent { return StarCraftHeuristic{} },
	}
	for _, id := range game.IDs() {
		r.Register(id, KindLLM, newLLMFromDeps)
		r.Register(id, KindRandom, newRandomFromDeps)
		if build, ok := heuristics[id]; ok {
			r.Register(id, KindHeuristic, func(schemas.GameID, Deps) (schemas.Agent, error) { return build(), nil })
		}
	}
	return r
}

// Register adds or replaces a constructor.
func (r *Registry) Register(id schemas.GameID, kind Kind, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[registryKey{id, kind}] = ctor
}

// Kinds lists the kinds registered for a game, sorted.
func (r *Registry) Kinds(id schemas.GameID) []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var kinds []Kind
	for k := range r.ctors {
		if k.game == id {
			kinds = append(kinds, k.kind)
		}
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// New builds an agent. The result is wrapped so that any reply outside the game's
// vocabulary is normalized or replaced by the fallback action.
func (r *Registry) New(id schemas.GameID, kind Kind, deps Deps) (schemas.Agent, error) {
	r.mu.RLock()
	ctor, ok := r.ctors[registryKey{id, kind}]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no '%s' agent for game '%s'", ErrUnknownAgent, kind, id)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	a, err := ctor(id, deps)
	if err != nil {
		return nil, fmt.Errorf("failed to build '%s' agent for '%s': %w", kind, id, err)
	}
	spec, ok := game.Lookup(id)
	if !ok {
		return a, nil
	}
	return &guarded{inner: a, game: id, vocab: spec.Vocabulary, logger: deps.Logger.Named("agent.guard")}, nil
}

// ResolveKind picks the agent kind of a game: the configured kind when set, otherwise
// llm when a model client is available and heuristic when not.
func ResolveKind(cfg config.AgentConfig, id schemas.GameID, llmAvailable bool) Kind {
	if k, ok := cfg.Kinds[string(id)]; ok && k != "" {
		return Kind(strings.ToLower(k))
	}
	if llmAvailable {
		return KindLLM
	}
	return KindHeuristic
}

// OptionsFromConfig maps agent configuration onto LLMOptions.
func OptionsFromConfig(cfg config.AgentConfig) LLMOptions {
	tier := schemas.TierFast
	if cfg.Tier == string(schemas.TierPowerful) {
		tier = schemas.TierPowerful
	}
	return LLMOptions{
		MaxAttempts:       cfg.MaxAttempts,
		FallbackOnFailure: cfg.FallbackOnFailure,
		RequestsPerSecond: cfg.RequestsPerSecond,
		CacheSize:         cfg.CacheSize,
		SendImages:        cfg.SendImages,
		Tier:              tier,
		RetryInterval:     cfg.RetryInterval,
		RetryMaxInterval:  cfg.RetryMaxInterval,
	}
}

func newLLMFromDeps(id schemas.GameID, deps Deps) (schemas.Agent, error) {
	return NewLLMAgent(id, deps.Client, OptionsFromConfig(deps.Config), deps.Metrics, deps.Logger)
}

func newRandomFromDeps(id schemas.GameID, deps Deps) (schemas.Agent, error) {
	spec, ok := game.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w '%s'", game.ErrUnknownGame, id)
	}
	return NewRandomAgent(spec, deps.Seed), nil
}

// guarded enforces vocabulary membership on another agent's replies.
type guarded struct {
	inner  schemas.Agent
	game   schemas.GameID
	vocab  game.Vocabulary
	logger *zap.Logger
}

func (g *guarded) Act(ctx context.Context, obs schemas.Observation) (string, error) {
	action, err := g.inner.Act(ctx, obs)
	if err != nil {
		return "", err
	}
	if normalized, ok := g.vocab.Normalize(action, obs.GameInfo); ok {
		return normalized, nil
	}
	fallback := g.vocab.Fallback(obs.GameInfo)
	g.logger.Warn("Agent returned an action outside the vocabulary",
		observability.Game(g.game),
		zap.String("action", truncate(action, 120)),
		zap.String("fallback", fallback))
	return fallback, nil
}

// RandomAgent plays uniformly random actions. It is the baseline every other agent
// should beat.
type RandomAgent struct {
	spec game.Spec
	mu   sync.Mutex
	rng  *rand.Rand
}

// NewRandomAgent creates a random agent. A zero seed seeds from the clock.
func NewRandomAgent(spec game.Spec, seed int64) *RandomAgent {
	s := uint64(seed)
	if seed == 0 {
		s = uint64(time.Now().UnixNano())
	}
	return &RandomAgent{spec: spec, rng: rand.New(rand.NewPCG(s, s>>1|1))}
}

// Act implements schemas.Agent.
func (r *RandomAgent) Act(_ context.Context, obs schemas.Observation) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info := obs.GameInfo
	actions := r.spec.Vocabulary.Actions(info)
	if len(actions) == 0 {
		return r.spec.Vocabulary.Fallback(info), nil
	}
	if r.spec.ID == schemas.GameStarCraft {
		n := game.NumActions(info)
		picks := make([]string, n)
		for i := range picks {
			picks[i] = strings.ToUpper(actions[r.rng.IntN(len(actions))])
		}
		return game.FormatStarCraftActions(picks, n), nil
	}
	return actions[r.rng.IntN(len(actions))], nil
}
