package provider

import (
	"strings"
	"testing"

	"chataide/internal/config"
)

func TestFactory_ChainOrderAndSkips(t *testing.T) {
	cfg := config.Defaults()
	cfg.Providers["openai"] = config.ProviderConfig{Enabled: true, APIKey: "sk-test"}
	cfg.Providers["ollama"] = config.ProviderConfig{Enabled: true}
	cfg.Providers["off"] = config.ProviderConfig{Enabled: false, APIBase: "http://x"}
	cfg.Server.DefaultProvider = "openai"
	cfg.Server.FailoverChain = []string{"openai", "off", "ollama", "missing"}

	p, err := NewFactory(cfg, testLogger()).Chain()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name() != "failover(openai→ollama)" {
		t.Fatalf("unexpected chain %q", p.Name())
	}
}

func TestFactory_SingleProviderUnwrapped(t *testing.T) {
	cfg := config.Defaults()
	cfg.Providers["openai"] = config.ProviderConfig{Enabled: true}
	cfg.Server.DefaultProvider = "openai"
	cfg.Server.FailoverChain = nil

	p, err := NewFactory(cfg, testLogger()).Chain()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name() != "openai" {
		t.Fatalf("expected bare openai provider, got %q", p.Name())
	}
}

func TestFactory_NoUsableProvider(t *testing.T) {
	cfg := config.Defaults()
	cfg.Providers = map[string]config.ProviderConfig{}
	cfg.Server.DefaultProvider = "openai"
	cfg.Server.FailoverChain = nil

	if _, err := NewFactory(cfg, testLogger()).Chain(); err == nil || !strings.Contains(err.Error(), "no usable provider") {
		t.Fatalf("expected no usable provider error, got %v", err)
	}
}

func TestFactory_UnknownNameIsOpenAICompatible(t *testing.T) {
	cfg := config.Defaults()
	cfg.Providers["groq"] = config.ProviderConfig{Enabled: true, APIBase: "https://api.groq.example/v1"}

	f := NewFactory(cfg, testLogger())
	p, err := f.Get("groq")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := p.(*OpenAI); !ok {
		t.Fatalf("expected OpenAI-compatible provider, got %T", p)
	}
	again, _ := f.Get("groq")
	if again != p {
		t.Fatal("providers should be cached")
	}
}

func TestFactory_RateLimitWrapsChain(t *testing.T) {
	cfg := config.Defaults()
	cfg.Providers["openai"] = config.ProviderConfig{Enabled: true}
	cfg.Server.DefaultProvider = "openai"
	cfg.Server.FailoverChain = nil
	cfg.Server.RateLimitPerMinute = 20
	cfg.Server.RateLimitBurst = 2

	p, err := NewFactory(cfg, testLogger()).Chain()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := p.(*ThrottledProvider); !ok {
		t.Fatalf("expected throttled provider, got %T", p)
	}
	if p.Name() != "openai" {
		t.Fatalf("unexpected name %q", p.Name())
	}
}
