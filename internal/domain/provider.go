package domain

import (
	"context"
	"fmt"
)

// Outcome classifies a single backend attempt.
type Outcome string

const (
	OutcomeOK           Outcome = "ok"
	OutcomeHTTPError    Outcome = "httpError"
	OutcomeTimeout      Outcome = "timeout"
	OutcomeNetworkError Outcome = "networkError"
	OutcomeMalformed    Outcome = "malformed"
)

// BackendAttempt records one endpoint tried during reply acquisition.
type BackendAttempt struct {
	Endpoint  string  `json:"endpoint"`
	Outcome   Outcome `json:"outcome"`
	Status    int     `json:"status,omitempty"` // set for httpError
	Err       string  `json:"error,omitempty"`
	LatencyMs int64   `json:"latencyMs"`
}

func (a BackendAttempt) String() string {
	if a.Outcome == OutcomeHTTPError {
		return fmt.Sprintf("%s: %s(%d)", a.Endpoint, a.Outcome, a.Status)
	}
	return fmt.Sprintf("%s: %s", a.Endpoint, a.Outcome)
}

// ReplySource tells where a ReplySet came from.
type ReplySource string

const (
	SourceRemote   ReplySource = "remote"
	SourceFallback ReplySource = "fallback"
)

// ReplyRequest is the wire body sent to the reply-generation backend.
type ReplyRequest struct {
	Messages []string `json:"messages"`
	Age      *int     `json:"age,omitempty"`
}

// ReplyResponse is the wire body returned by the reply-generation backend.
type ReplyResponse struct {
	Replies []string `json:"replies"`
}

// ChatMessage is one turn of an LLM chat request.
type ChatMessage struct {
	Role    string `json:"role"` // system | user | assistant
	Content string `json:"content"`
}

// ChatRequest is a provider-agnostic chat-completion request.
type ChatRequest struct {
	Messages    []ChatMessage
	Model       string
	MaxTokens   int
	Temperature float64
}

// ChatResponse is a provider-agnostic chat-completion response.
type ChatResponse struct {
	Content      string
	FinishReason string
	LatencyMs    int64
}

// Provider is an LLM backend used by the reply service.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Name() string
	Healthy(ctx context.Context) error
}
