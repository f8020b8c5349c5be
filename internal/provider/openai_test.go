package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"chataide/internal/domain"
)

func TestOpenAI_Chat(t *testing.T) {
	var got oaiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing bearer token")
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"one\ntwo\nthree"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	o := NewOpenAI(OpenAIConfig{APIKey: "sk-test", APIBase: srv.URL, Logger: testLogger()})
	resp, err := o.Chat(context.Background(), domain.ChatRequest{
		Messages:    []domain.ChatMessage{{Role: "system", Content: "be brief"}, {Role: "user", Content: "hi"}},
		MaxTokens:   500,
		Temperature: 0.7,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "one\ntwo\nthree" || resp.FinishReason != "stop" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if got.Model != "gpt-4" || got.MaxTokens != 500 || got.Temperature == nil || *got.Temperature != 0.7 {
		t.Errorf("unexpected request body %+v", got)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" {
		t.Errorf("unexpected messages %+v", got.Messages)
	}
}

func TestOpenAI_RetriesServerError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	o := NewOpenAI(OpenAIConfig{APIBase: srv.URL, Logger: testLogger()})
	o.retry = retryPolicy{maxRetries: 1, baseDelay: time.Millisecond}
	resp, err := o.Chat(context.Background(), domain.ChatRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "ok" || atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected success on retry, got %q after %d calls", resp.Content, calls)
	}
}

func TestOpenAI_ClientErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, `{"error":"bad key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	o := NewOpenAI(OpenAIConfig{APIBase: srv.URL, Logger: testLogger()})
	o.retry = retryPolicy{maxRetries: 2, baseDelay: time.Millisecond}
	if _, err := o.Chat(context.Background(), domain.ChatRequest{}); err == nil {
		t.Fatal("expected error for 401")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("4xx must not be retried, got %d calls", calls)
	}
}

func TestOpenAI_Healthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer good" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	if err := NewOpenAI(OpenAIConfig{APIKey: "good", APIBase: srv.URL}).Healthy(context.Background()); err != nil {
		t.Fatalf("expected healthy, got %v", err)
	}
	if err := NewOpenAI(OpenAIConfig{APIKey: "bad", APIBase: srv.URL}).Healthy(context.Background()); err == nil {
		t.Fatal("expected invalid key error")
	}
}

func TestOllama_Chat(t *testing.T) {
	var got ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"message":{"role":"assistant","content":"sure"},"done":true,"done_reason":"stop"}`))
	}))
	defer srv.Close()

	o := NewOllama(OllamaConfig{APIBase: srv.URL, Logger: testLogger()})
	resp, err := o.Chat(context.Background(), domain.ChatRequest{
		Messages:    []domain.ChatMessage{{Role: "user", Content: "hi"}},
		MaxTokens:   100,
		Temperature: 0.5,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "sure" {
		t.Fatalf("unexpected content %q", resp.Content)
	}
	if got.Stream || got.Model != ollamaDefaultModel {
		t.Errorf("unexpected request %+v", got)
	}
	if got.Options["num_predict"] != float64(100) || got.Options["temperature"] != 0.5 {
		t.Errorf("unexpected options %v", got.Options)
	}
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := retryPolicy{maxRetries: 2, baseDelay: 100 * time.Millisecond, maxDelay: 2 * time.Second}

	if got := p.backoff(1, &retryableError{statusCode: 429, retryAfter: time.Second}); got != time.Second {
		t.Errorf("Retry-After within the cap should be honoured, got %v", got)
	}
	got := p.backoff(2, &retryableError{statusCode: 429, retryAfter: time.Minute})
	if got < 400*time.Millisecond || got > 600*time.Millisecond {
		t.Errorf("oversized Retry-After should fall back to quadratic backoff, got %v", got)
	}

	h := http.Header{}
	h.Set("Retry-After", "3")
	if retryAfter(h) != 3*time.Second {
		t.Errorf("retryAfter(3) = %v", retryAfter(h))
	}
	h.Set("Retry-After", "Wed, 21 Oct 2015 07:28:00 GMT")
	if retryAfter(h) != 0 {
		t.Errorf("HTTP-date Retry-After should be ignored")
	}
}
