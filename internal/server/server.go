// Package server is the reply-generation service the backend client talks to.
// It turns recent conversation messages into three reply suggestions using
// an LLM provider.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"chataide/internal/domain"
	"chataide/internal/metrics"
)

const (
	maxBodySize = 1 << 20 // 1MB

	defaultMaxTokens   = 500
	defaultTemperature = 0.7
	defaultLLMTimeout  = 30 * time.Second
)

// DefaultSystemPrompt is used when the prompt file cannot be read.
const DefaultSystemPrompt = `You suggest replies for a chat conversation.
Read the messages and write exactly three short replies the user could send next,
matching the tone of the conversation. Put each reply on its own line with no
numbering, quotes or extra commentary.`

var (
	// padReplies fill the gaps when the model returns fewer than three lines.
	padReplies = [3]string{
		"Sure, sounds good!",
		"Let me check and get back to you",
		"Thanks for letting me know!",
	}
	// failReplies are returned when the provider call fails.
	failReplies = [3]string{
		"Sounds good!",
		"Let me think about it",
		"Thanks for the update!",
	}
)

type Config struct {
	Host        string
	Port        int
	Provider    domain.Provider
	Model       string
	PromptFile  string
	MaxTokens   int
	Temperature float64
	APIKey      string        // bearer token required on /generate-replies when set
	MetricsPath string        // empty disables /metrics
	LLMTimeout  time.Duration // per request; keep it under the client's attempt window
	Logger      *slog.Logger
}

type Server struct {
	cfg    Config
	router chi.Router
	logger *slog.Logger
	http   *http.Server
}

func New(cfg Config) *Server {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.LLMTimeout <= 0 {
		cfg.LLMTimeout = defaultLLMTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{cfg: cfg, logger: cfg.Logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.health)
	if cfg.MetricsPath != "" {
		r.Get(cfg.MetricsPath, metrics.Collector.Handler())
	}
	r.Group(func(r chi.Router) {
		r.Use(s.auth)
		r.Use(s.instrument)
		r.Post("/generate-replies", s.generateReplies)
	})

	s.router = r
	return s
}

// Handler returns the service's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.http = &http.Server{
		Addr:              s.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      s.cfg.LLMTimeout + 15*time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.http.Shutdown(shutdownCtx)
	}()

	s.logger.Info("reply service started", "addr", s.http.Addr, "provider", providerName(s.cfg.Provider))
	if err := s.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"provider": providerName(s.cfg.Provider),
	})
}

type generateRequest struct {
	Messages json.RawMessage `json:"messages"`
	Age      *int            `json:"age,omitempty"`
}

func (s *Server) generateReplies(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad request"})
		return
	}
	var req generateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Messages array required"})
		return
	}
	messages, ok := parseMessages(req.Messages)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Messages array required"})
		return
	}

	replies := s.replies(r.Context(), s.systemPrompt(req.Age), messages)
	writeJSON(w, http.StatusOK, domain.ReplyResponse{Replies: replies[:]})
}

// parseMessages accepts a JSON array. String items are used as-is; any other
// item is passed through as its JSON text.
func parseMessages(raw json.RawMessage) ([]string, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, false
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		var s string
		if err := json.Unmarshal(it, &s); err != nil {
			s = string(it)
		}
		out = append(out, s)
	}
	return out, true
}

// systemPrompt reads the prompt file on every request so edits apply
// without a restart.
func (s *Server) systemPrompt(age *int) string {
	prompt := DefaultSystemPrompt
	if s.cfg.PromptFile != "" {
		data, err := os.ReadFile(s.cfg.PromptFile)
		switch {
		case err != nil:
			s.logger.Warn("cannot read prompt file, using built-in prompt", "path", s.cfg.PromptFile, "err", err)
		case strings.TrimSpace(string(data)) != "":
			prompt = string(data)
		}
	}
	if age != nil && *age > 0 {
		prompt += fmt.Sprintf("\nThe user is %d years old; keep the replies natural for their age.", *age)
	}
	return prompt
}

// replies asks the provider for suggestions. It always returns three
// non-empty replies.
func (s *Server) replies(ctx context.Context, prompt string, messages []string) [3]string {
	if s.cfg.Provider == nil {
		s.logger.Error("no LLM provider configured")
		metrics.LLMFailures.Inc()
		return failReplies
	}

	chat := make([]domain.ChatMessage, 0, len(messages)+1)
	chat = append(chat, domain.ChatMessage{Role: "system", Content: prompt})
	for _, m := range messages {
		chat = append(chat, domain.ChatMessage{Role: "user", Content: m})
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.LLMTimeout)
	defer cancel()

	metrics.LLMRequestsTotal.Inc()
	start := time.Now()
	resp, err := s.cfg.Provider.Chat(ctx, domain.ChatRequest{
		Messages:    chat,
		Model:       s.cfg.Model,
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: s.cfg.Temperature,
	})
	metrics.LLMLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.LLMFailures.Inc()
		s.logger.Error("LLM request failed, returning static replies", "provider", s.cfg.Provider.Name(), "err", err)
		return failReplies
	}

	out := SplitReplies(resp.Content)
	s.logger.Debug("replies generated", "provider", s.cfg.Provider.Name(), "latency_ms", resp.LatencyMs)
	return out
}

// SplitReplies takes the first three non-blank lines of text, trimmed, and
// pads missing ones with stock replies.
func SplitReplies(text string) [3]string {
	out := padReplies
	i := 0
	for _, line := range strings.Split(text, "\n") {
		if i == len(out) {
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out[i] = line
		i++
	}
	return out
}

func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIKey != "" {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.APIKey)) != 1 {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid API key"})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		metrics.ServiceInFlight.Inc()
		defer metrics.ServiceInFlight.Dec()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		metrics.ServiceRequest(ww.Status())
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func providerName(p domain.Provider) string {
	if p == nil {
		return "none"
	}
	return p.Name()
}
