package provider

import (
	"fmt"
	"log/slog"
	"sync"

	"chataide/internal/config"
	"chataide/internal/domain"
)

// Constructor creates a provider from a config entry.
type Constructor func(pc config.ProviderConfig, logger *slog.Logger) domain.Provider

// Factory creates and caches the LLM providers used by the reply service.
type Factory struct {
	cfg          *config.Config
	logger       *slog.Logger
	constructors map[string]Constructor
	cache        map[string]domain.Provider
	mu           sync.Mutex
}

// NewFactory creates a provider factory with the built-in constructors registered.
func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	f := &Factory{
		cfg:          cfg,
		logger:       logger,
		constructors: make(map[string]Constructor),
		cache:        make(map[string]domain.Provider),
	}
	f.constructors["openai"] = func(pc config.ProviderConfig, logger *slog.Logger) domain.Provider {
		return NewOpenAI(OpenAIConfig{APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.DefaultModel, Logger: logger})
	}
	f.constructors["ollama"] = func(pc config.ProviderConfig, logger *slog.Logger) domain.Provider {
		return NewOllama(OllamaConfig{APIBase: pc.APIBase, DefaultModel: pc.DefaultModel, Logger: logger})
	}
	return f
}

// RegisterConstructor adds or replaces a provider constructor by name.
func (f *Factory) RegisterConstructor(name string, ctor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[name] = ctor
}

// Get returns the provider with the given name. Created providers are cached.
func (f *Factory) Get(name string) (domain.Provider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if cached, ok := f.cache[name]; ok {
		return cached, nil
	}

	pc, ok := f.cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	if !pc.Enabled {
		return nil, fmt.Errorf("provider %s is disabled", name)
	}

	var p domain.Provider
	if ctor, found := f.constructors[name]; found {
		p = ctor(pc, f.logger)
	} else if pc.APIBase != "" {
		// Unknown names are treated as OpenAI-compatible endpoints.
		p = NewOpenAI(OpenAIConfig{APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.DefaultModel, Logger: f.logger})
	} else {
		return nil, fmt.Errorf("provider %s: no constructor registered and no apiBase configured", name)
	}

	f.cache[name] = p
	return p, nil
}

// Chain returns the reply service's provider: server.defaultProvider followed
// by server.failoverChain, skipping duplicates and providers that cannot be
// built. A single provider is returned unwrapped. With a rate limit
// configured the result is throttled as a whole.
func (f *Factory) Chain() (domain.Provider, error) {
	p, err := f.chain()
	if err != nil || f.cfg.Server.RateLimitPerMinute <= 0 {
		return p, err
	}
	return NewThrottledProvider(p, NewRateLimiter(f.cfg.Server.RateLimitBurst, f.cfg.Server.RateLimitPerMinute)), nil
}

func (f *Factory) chain() (domain.Provider, error) {
	names := append([]string{f.cfg.Server.DefaultProvider}, f.cfg.Server.FailoverChain...)
	seen := make(map[string]bool, len(names))

	var chain []domain.Provider
	for _, name := range names {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		p, err := f.Get(name)
		if err != nil {
			f.logger.Warn("skipping provider", "provider", name, "error", err)
			continue
		}
		chain = append(chain, p)
	}

	switch len(chain) {
	case 0:
		return nil, fmt.Errorf("no usable provider configured")
	case 1:
		return chain[0], nil
	}
	return NewFailoverProvider(chain, f.logger), nil
}
