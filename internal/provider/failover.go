package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"chataide/internal/domain"
	"chataide/internal/metrics"
)

const defaultCooldown = 30 * time.Second

// FailoverProvider walks its providers in order and answers with the first
// success. A provider that just failed is passed over for a cooldown period
// while another one is available, so a dead primary does not add its timeout
// to every reply request.
type FailoverProvider struct {
	providers []domain.Provider
	logger    *slog.Logger
	cooldown  time.Duration
	now       func() time.Time

	mu         sync.Mutex
	benchUntil map[string]time.Time
}

// NewFailoverProvider creates a failover chain from the given providers.
func NewFailoverProvider(providers []domain.Provider, logger *slog.Logger) *FailoverProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &FailoverProvider{
		providers:  providers,
		logger:     logger,
		cooldown:   defaultCooldown,
		now:        time.Now,
		benchUntil: make(map[string]time.Time),
	}
}

func (fp *FailoverProvider) Name() string {
	names := make([]string, len(fp.providers))
	for i, p := range fp.providers {
		names[i] = p.Name()
	}
	return "failover(" + strings.Join(names, "→") + ")"
}

// Healthy succeeds when any provider in the chain is healthy.
func (fp *FailoverProvider) Healthy(ctx context.Context) error {
	var errs []error
	for _, p := range fp.providers {
		err := p.Healthy(ctx)
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
	}
	return fmt.Errorf("no healthy provider in failover chain: %w", errors.Join(errs...))
}

// order returns ready providers first, then benched ones, each in chain order.
func (fp *FailoverProvider) order() []domain.Provider {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	now := fp.now()
	ready := make([]domain.Provider, 0, len(fp.providers))
	var benched []domain.Provider
	for _, p := range fp.providers {
		if until, ok := fp.benchUntil[p.Name()]; ok && now.Before(until) {
			benched = append(benched, p)
			continue
		}
		ready = append(ready, p)
	}
	return append(ready, benched...)
}

func (fp *FailoverProvider) mark(name string, failed bool) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	if failed {
		fp.benchUntil[name] = fp.now().Add(fp.cooldown)
	} else {
		delete(fp.benchUntil, name)
	}
}

// Chat returns the first successful response. The error of the last provider
// tried is wrapped when all of them fail.
func (fp *FailoverProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	var lastErr error
	for i, p := range fp.order() {
		resp, err := p.Chat(ctx, req)
		if err == nil {
			fp.mark(p.Name(), false)
			if i > 0 {
				fp.logger.Info("failover: answered by fallback provider", "provider", p.Name(), "attempt", i+1)
			}
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		fp.mark(p.Name(), true)
		metrics.ProviderFailure(p.Name())
		fp.logger.Warn("failover: provider failed, trying next", "provider", p.Name(), "attempt", i+1, "error", err)
	}
	if lastErr == nil {
		return nil, fmt.Errorf("failover chain is empty")
	}
	return nil, fmt.Errorf("all providers in failover chain failed: %w", lastErr)
}
