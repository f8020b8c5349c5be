package domain

import (
	"context"
	"time"
)

// Action names an operation recorded in the outcome journal.
type Action string

const (
	ActionScan     Action = "scan"
	ActionGenerate Action = "generate"
	ActionInsert   Action = "insert"
)

// OutcomeRecord is one journal entry. It never carries message or reply text,
// only what support needs to see why an operation failed.
type OutcomeRecord struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"sessionId"`
	Action    Action    `json:"action"`
	Site      SiteID    `json:"site"`
	Success   bool      `json:"success"`
	Detail    string    `json:"detail,omitempty"` // chain, reply source or winning strategy
	Error     string    `json:"error,omitempty"`
	Count     int       `json:"count"` // messages extracted, attempts made
	CreatedAt time.Time `json:"createdAt"`
}

// Journal persists operation outcomes for later triage.
type Journal interface {
	Record(ctx context.Context, rec OutcomeRecord) error
	Recent(ctx context.Context, limit int) ([]OutcomeRecord, error)
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
	Close() error
}
