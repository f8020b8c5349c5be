package provider

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"chataide/internal/domain"
)

// mockProvider implements domain.Provider for testing.
type mockProvider struct {
	name     string
	healthy  bool
	chatErr  error
	chatResp *domain.ChatResponse
	calls    int
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) Healthy(ctx context.Context) error {
	if !m.healthy {
		return errors.New("unhealthy")
	}
	return nil
}

func (m *mockProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	m.calls++
	if m.chatErr != nil {
		return nil, m.chatErr
	}
	return m.chatResp, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestFailoverProvider_UsesFirstProvider(t *testing.T) {
	p1 := &mockProvider{name: "primary", healthy: true, chatResp: &domain.ChatResponse{Content: "from-primary"}}
	p2 := &mockProvider{name: "secondary", healthy: true, chatResp: &domain.ChatResponse{Content: "from-secondary"}}
	fp := NewFailoverProvider([]domain.Provider{p1, p2}, testLogger())

	resp, err := fp.Chat(context.Background(), domain.ChatRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "from-primary" {
		t.Fatalf("expected 'from-primary', got %q", resp.Content)
	}
	if p2.calls != 0 {
		t.Fatal("secondary should not be called when primary succeeds")
	}
}

func TestFailoverProvider_FallsBackOnError(t *testing.T) {
	p1 := &mockProvider{name: "primary", healthy: true, chatErr: errors.New("api error")}
	p2 := &mockProvider{name: "secondary", healthy: true, chatResp: &domain.ChatResponse{Content: "from-secondary"}}
	fp := NewFailoverProvider([]domain.Provider{p1, p2}, testLogger())

	resp, err := fp.Chat(context.Background(), domain.ChatRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "from-secondary" {
		t.Fatalf("expected 'from-secondary', got %q", resp.Content)
	}
}

func TestFailoverProvider_AllProvidersFail(t *testing.T) {
	last := errors.New("fail 2")
	p1 := &mockProvider{name: "p1", healthy: true, chatErr: errors.New("fail 1")}
	p2 := &mockProvider{name: "p2", healthy: true, chatErr: last}
	fp := NewFailoverProvider([]domain.Provider{p1, p2}, testLogger())

	_, err := fp.Chat(context.Background(), domain.ChatRequest{})
	if !errors.Is(err, last) {
		t.Fatalf("expected wrapped last error, got %v", err)
	}
}

func TestFailoverProvider_StopsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p1 := &mockProvider{name: "p1", chatErr: context.Canceled}
	p2 := &mockProvider{name: "p2", chatResp: &domain.ChatResponse{Content: "late"}}
	fp := NewFailoverProvider([]domain.Provider{p1, p2}, testLogger())

	if _, err := fp.Chat(ctx, domain.ChatRequest{}); err == nil {
		t.Fatal("expected error after cancellation")
	}
	if p2.calls != 0 {
		t.Fatal("no provider should be tried after the context is done")
	}
}

func TestFailoverProvider_Empty(t *testing.T) {
	fp := NewFailoverProvider(nil, testLogger())
	if _, err := fp.Chat(context.Background(), domain.ChatRequest{}); err == nil {
		t.Fatal("expected error for empty chain")
	}
}

func TestFailoverProvider_Healthy(t *testing.T) {
	sick := &mockProvider{name: "sick", healthy: false}
	well := &mockProvider{name: "well", healthy: true}

	if err := NewFailoverProvider([]domain.Provider{sick, well}, testLogger()).Healthy(context.Background()); err != nil {
		t.Fatalf("expected healthy, got: %v", err)
	}
	if err := NewFailoverProvider([]domain.Provider{sick}, testLogger()).Healthy(context.Background()); err == nil {
		t.Fatal("expected unhealthy error")
	}
}

func TestFailoverProvider_Name(t *testing.T) {
	fp := NewFailoverProvider([]domain.Provider{&mockProvider{name: "openai"}, &mockProvider{name: "ollama"}}, testLogger())
	if name := fp.Name(); name != "failover(openai→ollama)" {
		t.Fatalf("expected 'failover(openai→ollama)', got %q", name)
	}
}

func TestFailoverProvider_BenchesFailedProvider(t *testing.T) {
	p1 := &mockProvider{name: "primary", chatErr: errors.New("down")}
	p2 := &mockProvider{name: "secondary", chatResp: &domain.ChatResponse{Content: "ok"}}
	fp := NewFailoverProvider([]domain.Provider{p1, p2}, testLogger())
	now := time.Unix(1_700_000_000, 0)
	fp.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if _, err := fp.Chat(context.Background(), domain.ChatRequest{}); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if p1.calls != 1 {
		t.Fatalf("benched primary called %d times, want 1", p1.calls)
	}

	now = now.Add(defaultCooldown + time.Second)
	p1.chatErr = nil
	p1.chatResp = &domain.ChatResponse{Content: "back"}
	resp, err := fp.Chat(context.Background(), domain.ChatRequest{})
	if err != nil || resp.Content != "back" {
		t.Fatalf("expected primary after cooldown, got %v, %v", resp, err)
	}
}

func TestFailoverProvider_BenchedProvidersStillTriedLast(t *testing.T) {
	p1 := &mockProvider{name: "p1", chatErr: errors.New("down")}
	fp := NewFailoverProvider([]domain.Provider{p1}, testLogger())

	fp.Chat(context.Background(), domain.ChatRequest{})
	p1.chatErr = nil
	p1.chatResp = &domain.ChatResponse{Content: "recovered"}

	resp, err := fp.Chat(context.Background(), domain.ChatRequest{})
	if err != nil || resp.Content != "recovered" {
		t.Fatalf("a benched provider must still be tried when nothing else is ready: %v, %v", resp, err)
	}
}
