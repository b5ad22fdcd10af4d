package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/orak-cli/api/schemas"
	"github.com/xkilldash9x/orak-cli/internal/game"
	"github.com/xkilldash9x/orak-cli/internal/llmutil"
	"github.com/xkilldash9x/orak-cli/internal/observability"
)

// ErrNoValidAction is returned when the model never produced a valid action and
// fallback is disabled.
var ErrNoValidAction = errors.New("no valid action produced")

// Outcomes recorded for every model call.
const (
	outcomeValid   = "valid"
	outcomeInvalid = "invalid"
	outcomeError   = "error"
)

// LLMOptions tunes an LLMAgent.
type LLMOptions struct {
	// MaxAttempts bounds the model calls made for a single step. Values below 1 mean 1.
	MaxAttempts int
	// FallbackOnFailure returns the vocabulary fallback instead of ErrNoValidAction.
	FallbackOnFailure bool
	// RequestsPerSecond paces model calls. Zero disables pacing.
	RequestsPerSecond float64
	// CacheSize is the number of prompt/action pairs remembered. Zero disables the cache.
	CacheSize int
	// SendImages attaches the observation snapshot to the request.
	SendImages bool
	Tier       schemas.ModelTier
	// RetryInterval is the first wait after a failed model call; it grows
	// exponentially up to RetryMaxInterval. Zero retries immediately.
	RetryInterval    time.Duration
	RetryMaxInterval time.Duration
}

// LLMAgent asks a language model for the next action and validates the reply against the
// game's vocabulary. It keeps the previous state and action between steps, so one instance
// serves exactly one game.
type LLMAgent struct {
	game    schemas.GameID
	vocab   game.Vocabulary
	client  schemas.LLMClient
	prompts promptSet
	opts    LLMOptions
	limiter *rate.Limiter
	cache   *lru.Cache[string, string]
	metrics *observability.Metrics
	logger  *zap.Logger

	mu         sync.Mutex
	prevState  string
	lastAction string
	steps      int
}

var _ schemas.Agent = (*LLMAgent)(nil)

// NewLLMAgent builds an agent for a catalog game.
func NewLLMAgent(id schemas.GameID, client schemas.LLMClient, opts LLMOptions, metrics *observability.Metrics, logger *zap.Logger) (*LLMAgent, error) {
	if client == nil {
		return nil, fmt.Errorf("LLM agent for '%s' requires an LLM client", id)
	}
	spec, ok := game.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w '%s'", game.ErrUnknownGame, id)
	}
	prompts, ok := promptsFor(id)
	if !ok {
		return nil, fmt.Errorf("no prompts defined for game '%s'", id)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.Tier == "" {
		opts.Tier = schemas.TierFast
	}

	a := &LLMAgent{
		game:       id,
		vocab:      spec.Vocabulary,
		client:     client,
		prompts:    prompts,
		opts:       opts,
		metrics:    metrics,
		logger:     observability.ForGame(logger.Named("agent.llm"), id),
		prevState:  prompts.initialPrevState,
		lastAction: prompts.initialLastAction,
	}
	if opts.RequestsPerSecond > 0 {
		a.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	if opts.CacheSize > 0 {
		cache, err := lru.New[string, string](opts.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create decision cache: %w", err)
		}
		a.cache = cache
	}
	return a, nil
}

// Act implements schemas.Agent.
func (a *LLMAgent) Act(ctx context.Context, obs schemas.Observation) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	info := obs.GameInfo
	if strings.TrimSpace(obs.ObsStr) == "" && !obs.HasImage() {
		a.logger.Debug("Empty observation, playing the fallback action")
		return a.remember(obs.ObsStr, a.vocab.Fallback(info)), nil
	}

	var image []byte
	if a.opts.SendImages {
		img, err := obs.Image()
		if err != nil {
			a.logger.Warn("Dropping undecodable observation image", zap.Error(err))
		}
		image = img
	}

	data := a.promptData(obs)
	// The key covers the observation and history only; stage notes are model
	// output and differ on every call.
	basePrompt, err := render(a.prompts.user, data)
	if err != nil {
		return "", fmt.Errorf("failed to render prompt for '%s': %w", a.game, err)
	}
	key := cacheKey(a.prompts.system, basePrompt, image)
	if a.cache != nil {
		if action, ok := a.cache.Get(key); ok {
			a.logger.Debug("Decision cache hit", zap.String("action", action))
			return a.remember(obs.ObsStr, action), nil
		}
	}

	userPrompt := basePrompt
	if len(a.prompts.stages) > 0 {
		if err := a.runStages(ctx, &data); err != nil {
			return "", err
		}
		if userPrompt, err = render(a.prompts.user, data); err != nil {
			return "", fmt.Errorf("failed to render prompt for '%s': %w", a.game, err)
		}
	}

	var (
		lastErr error
		retry   backoff.BackOff
	)
	prompt := userPrompt
	for attempt := 1; attempt <= a.opts.MaxAttempts; attempt++ {
		reply, err := a.generate(ctx, a.prompts.system, prompt, image)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", fmt.Errorf("agent for '%s' interrupted: %w", a.game, ctxErr)
			}
			a.metrics.IncLLMAttempt(string(a.game), outcomeError)
			a.logger.Warn("LLM call failed", zap.Int("attempt", attempt), zap.Error(err))
			lastErr = err
			if attempt == a.opts.MaxAttempts {
				break
			}
			if retry == nil {
				retry = a.newRetryBackOff()
			}
			if err := waitBackOff(ctx, retry); err != nil {
				return "", fmt.Errorf("agent for '%s' interrupted: %w", a.game, err)
			}
			continue
		}

		if action, ok := a.parse(reply, info); ok {
			a.metrics.IncLLMAttempt(string(a.game), outcomeValid)
			if a.cache != nil {
				a.cache.Add(key, action)
			}
			return a.remember(obs.ObsStr, action), nil
		}

		a.metrics.IncLLMAttempt(string(a.game), outcomeInvalid)
		a.logger.Warn("LLM reply held no valid action",
			zap.Int("attempt", attempt),
			zap.String("reply", truncate(reply, 300)))
		lastErr = fmt.Errorf("unparseable reply %q", truncate(reply, 120))
		prompt = userPrompt + fmt.Sprintf(correctiveNote, strings.Join(a.vocab.Actions(info), "\n"))
	}

	if !a.opts.FallbackOnFailure {
		return "", fmt.Errorf("%w for '%s' after %d attempts: %w", ErrNoValidAction, a.game, a.opts.MaxAttempts, lastErr)
	}
	fallback := a.vocab.Fallback(info)
	a.metrics.IncFallback(string(a.game))
	a.logger.Warn("Falling back to the default action",
		zap.String("action", fallback),
		zap.Int("attempts", a.opts.MaxAttempts),
		zap.Error(lastErr))
	return a.remember(obs.ObsStr, fallback), nil
}

func (a *LLMAgent) promptData(obs schemas.Observation) promptData {
	info := obs.GameInfo
	task := info.TaskDescription
	if task == "" {
		if spec, ok := game.Lookup(a.game); ok {
			task = spec.TaskDescription
		}
	}
	return promptData{
		TaskDescription: task,
		PrevState:       a.prevState,
		LastAction:      a.lastAction,
		CurrentState:    obs.ObsStr,
		ValidActions:    strings.Join(a.vocab.Actions(info), "\n"),
		NumActions:      game.NumActions(info),
		SkillLibrary:    info.SkillLibrary,
		Notes:           make(map[string]string, len(a.prompts.stages)),
	}
}

// runStages fills data.Notes. A failed stage degrades to its fallback text; only
// cancellation aborts the step.
func (a *LLMAgent) runStages(ctx context.Context, data *promptData) error {
	for _, st := range a.prompts.stages {
		if st.skipFirst && a.steps == 0 {
			data.Notes[st.name] = st.skipNote
			continue
		}
		note := st.fallback
		userPrompt, err := render(st.user, *data)
		if err != nil {
			return fmt.Errorf("failed to render %s prompt for '%s': %w", st.name, a.game, err)
		}
		reply, err := a.generate(ctx, st.system, userPrompt, nil)
		switch {
		case err != nil && ctx.Err() != nil:
			return fmt.Errorf("agent for '%s' interrupted: %w", a.game, ctx.Err())
		case err != nil:
			a.logger.Warn("LLM stage failed", zap.String("stage", st.name), zap.Error(err))
		default:
			if parsed := joinSections(reply, st.sections); parsed != "" {
				note = parsed
			}
		}
		data.Notes[st.name] = note
	}
	return nil
}

// newRetryBackOff spaces out calls after transport errors, such as rate limits.
func (a *LLMAgent) newRetryBackOff() backoff.BackOff {
	if a.opts.RetryInterval <= 0 {
		return &backoff.ZeroBackOff{}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.opts.RetryInterval
	b.MaxInterval = a.opts.RetryMaxInterval
	if b.MaxInterval < b.InitialInterval {
		b.MaxInterval = b.InitialInterval
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// waitBackOff sleeps for the next interval of b or until ctx is done.
func waitBackOff(ctx context.Context, b backoff.BackOff) error {
	d := b.NextBackOff()
	if d == backoff.Stop || d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (a *LLMAgent) generate(ctx context.Context, system, user string, image []byte) (string, error) {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	return a.client.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: system,
		UserPrompt:   user,
		Tier:         a.opts.Tier,
		Image:        image,
	})
}

// parse tries the "### Actions" section, then a JSON envelope, then the raw reply.
func (a *LLMAgent) parse(reply string, info schemas.GameInfo) (string, bool) {
	var candidates []string
	if section, ok := llmutil.ExtractActionsSection(reply); ok {
		candidates = append(candidates, section)
	}
	if action, ok := llmutil.ExtractJSONAction(reply); ok {
		candidates = append(candidates, action)
	}
	candidates = append(candidates, reply)

	for _, c := range candidates {
		if action, ok := a.vocab.Normalize(c, info); ok {
			return action, true
		}
	}
	return "", false
}

func (a *LLMAgent) remember(state, action string) string {
	a.prevState = state
	a.lastAction = action
	a.steps++
	return action
}

// joinSections renders the found sections as "Name: body" lines. A single section
// is returned bare.
func joinSections(reply string, names []string) string {
	var parts []string
	for _, name := range names {
		body, ok := llmutil.ExtractSection(reply, name)
		if !ok {
			continue
		}
		if len(names) == 1 {
			return body
		}
		parts = append(parts, name+": "+body)
	}
	return strings.Join(parts, "\n")
}

func cacheKey(system, user string, image []byte) string {
	h := sha256.New()
	h.Write([]byte(system))
	h.Write([]byte{0})
	h.Write([]byte(user))
	h.Write([]byte{0})
	h.Write(image)
	return hex.EncodeToString(h.Sum(nil))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
