// Package llm provides interchangeable text-generation backends behind a
// single Provider interface, selected once at startup, with rate limiting
// and bounded retry wrapped around every call.
package llm

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/filing-analyzer/internal/config"
	"github.com/sells-group/filing-analyzer/internal/resilience"
)

// Sentinel errors for the two failure classes callers distinguish.
var (
	// ErrUnavailable means no provider is configured or its credentials are
	// missing; the analysis feature degrades rather than the process crashing.
	ErrUnavailable = eris.New("llm: provider unavailable")
	// ErrProviderCall wraps the last upstream failure after retries are
	// exhausted.
	ErrProviderCall = eris.New("llm: provider call failed")
)

// Provider generates text from a prompt. One variant per backend; chosen
// once at construction, never by runtime branching on a name.
type Provider interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}

func newProvider(cfg *config.Config) (Provider, error) {
	switch cfg.LLM.Provider {
	case "claude":
		if cfg.Anthropic.Key == "" {
			return nil, eris.Wrap(ErrUnavailable, "claude: missing ANTHROPIC_API_KEY")
		}
		return newClaude(cfg.Anthropic, cfg.LLM), nil
	case "groq":
		if cfg.Groq.Key == "" {
			return nil, eris.Wrap(ErrUnavailable, "groq: missing GROQ_API_KEY")
		}
		return newGroq(cfg.Groq, cfg.LLM), nil
	case "ollama":
		if cfg.Ollama.Host == "" {
			return nil, eris.Wrap(ErrUnavailable, "ollama: missing host")
		}
		return newOllama(cfg.Ollama, cfg.LLM), nil
	case "":
		return nil, eris.Wrap(ErrUnavailable, "no llm provider configured")
	default:
		return nil, eris.Wrapf(ErrUnavailable, "unknown llm provider %q", cfg.LLM.Provider)
	}
}

// Generator wraps the selected Provider with a request rate limiter and
// exponential-backoff retry. Any provider error counts as retryable; after
// the attempt budget is spent the last failure's message is surfaced wrapped
// in ErrProviderCall.
type Generator struct {
	provider Provider
	limiter  *rate.Limiter
	retry    resilience.RetryConfig
}

// New builds the Generator for the configured provider.
func New(cfg *config.Config) (*Generator, error) {
	p, err := newProvider(cfg)
	if err != nil {
		return nil, err
	}

	rpm := cfg.LLM.RequestsPerMin
	if rpm <= 0 {
		rpm = 30
	}

	return &Generator{
		provider: p,
		limiter:  rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1),
		retry: resilience.RetryConfig{
			MaxAttempts:    cfg.LLM.MaxAttempts,
			InitialBackoff: time.Second,
			Multiplier:     2.0,
			OnRetry:        resilience.RetryLogger(cfg.LLM.Provider, "generate"),
		},
	}, nil
}

// Name reports the active provider.
func (g *Generator) Name() string {
	return g.provider.Name()
}

// Generate produces the raw response text for a prompt.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", eris.Wrap(err, "llm: rate limiter")
	}

	out, err := resilience.Retry(ctx, g.retry, func(ctx context.Context) (string, error) {
		return g.provider.Generate(ctx, prompt)
	})
	if err != nil {
		return "", eris.Wrapf(ErrProviderCall, "%s: %v", g.provider.Name(), err)
	}
	return out, nil
}
