// Package aide drives one user's flow against a page: scan the conversation,
// fetch reply suggestions, and insert the chosen one.
package aide

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"chataide/internal/backend"
	"chataide/internal/domain"
	"chataide/internal/extract"
	"chataide/internal/inject"
	"chataide/internal/metrics"
	"chataide/internal/site"
)

var (
	// ErrNotScanned is returned by Generate before any successful Scan.
	ErrNotScanned = errors.New("no conversation scanned yet")
	// ErrNoReplies is returned by Insert before any Generate.
	ErrNoReplies = errors.New("no replies generated yet")
	// ErrUnknownReply names a reply choice that is not one of the three.
	ErrUnknownReply = errors.New("unknown reply choice")
)

type Config struct {
	Registry  *site.Registry
	Extractor *extract.Extractor
	Injector  *inject.Injector
	Backend   *backend.Client
	Journal   domain.Journal // optional
	Logger    *slog.Logger
}

// Session holds the state of one flow: the last scanned conversation and
// the last reply set. Operations are serialized; only one runs at a time.
type Session struct {
	id        string
	registry  *site.Registry
	extractor *extract.Extractor
	injector  *inject.Injector
	backend   *backend.Client
	journal   domain.Journal
	logger    *slog.Logger

	mu      sync.Mutex
	site    domain.SiteID
	conv    *domain.Conversation
	replies *backend.Acquisition
}

func New(cfg Config) *Session {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Registry == nil {
		cfg.Registry = site.NewRegistry()
	}
	if cfg.Extractor == nil {
		cfg.Extractor = extract.New(extract.Config{Registry: cfg.Registry, Logger: cfg.Logger})
	}
	if cfg.Injector == nil {
		cfg.Injector = inject.New(inject.Config{Logger: cfg.Logger})
	}
	if cfg.Backend == nil {
		cfg.Backend = backend.New(backend.Config{Logger: cfg.Logger})
	}
	id := uuid.New().String()
	return &Session{
		id:        id,
		registry:  cfg.Registry,
		extractor: cfg.Extractor,
		injector:  cfg.Injector,
		backend:   cfg.Backend,
		journal:   cfg.Journal,
		logger:    cfg.Logger.With("session", id[:8]),
	}
}

func (s *Session) ID() string { return s.id }

// Scan extracts the conversation from doc and makes it current. A failed
// scan clears the previous conversation and replies.
func (s *Session) Scan(ctx context.Context, doc domain.Document) (domain.ExtractResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	host, err := doc.Host(ctx)
	if err != nil {
		metrics.Scan("error")
		return domain.ExtractResult{}, fmt.Errorf("%w: %v", domain.ErrNoActiveTarget, err)
	}
	profile := s.registry.Resolve(host)

	res, err := s.extractor.Extract(ctx, doc, profile)
	s.site = profile.ID
	s.conv, s.replies = nil, nil

	rec := domain.OutcomeRecord{
		Action: domain.ActionScan,
		Site:   profile.ID,
		Detail: string(res.Diagnostics.Chain),
		Count:  res.Diagnostics.MessageCount,
	}
	if res.Diagnostics.Fallback {
		metrics.ExtractionFallbacks.Inc()
	}
	switch {
	case errors.Is(err, domain.ErrNoMessagesFound):
		metrics.Scan("empty")
		rec.Error = err.Error()
	case err != nil:
		metrics.Scan("error")
		rec.Error = err.Error()
	default:
		metrics.Scan("ok")
		rec.Success = true
		conv := res.Conversation
		s.conv = &conv
	}
	s.record(ctx, rec)
	return res, err
}

// Generate fetches replies for the current conversation. Backend failures
// never surface here: the acquisition falls back to offline replies.
func (s *Session) Generate(ctx context.Context) (backend.Acquisition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generate(ctx)
}

// Regenerate asks for a fresh reply set for the same conversation.
func (s *Session) Regenerate(ctx context.Context) (backend.Acquisition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.replies == nil {
		s.logger.Debug("regenerate without prior replies")
	}
	return s.generate(ctx)
}

func (s *Session) generate(ctx context.Context) (backend.Acquisition, error) {
	if s.conv == nil {
		return backend.Acquisition{}, ErrNotScanned
	}
	acq := s.backend.Acquire(ctx, *s.conv)
	for _, a := range acq.Attempts {
		metrics.BackendAttempt(string(a.Outcome))
		metrics.BackendLatency.Observe(float64(a.LatencyMs) / 1000)
	}
	metrics.ReplySource(string(acq.Source))
	s.replies = &acq

	rec := domain.OutcomeRecord{
		Action:  domain.ActionGenerate,
		Site:    s.site,
		Success: acq.Source == domain.SourceRemote,
		Detail:  string(acq.Source),
		Count:   len(acq.Attempts),
	}
	if acq.LastError != nil {
		rec.Error = acq.LastError.Error()
	}
	s.record(ctx, rec)
	return acq, nil
}

// Insert writes the chosen reply (recommended, backup-1 or backup-2) into
// the page's input.
func (s *Session) Insert(ctx context.Context, doc domain.Editor, choice string) (domain.InjectionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.replies == nil {
		return domain.InjectionResult{}, ErrNoReplies
	}
	reply, ok := s.replies.Replies.Pick(choice)
	if !ok {
		return domain.InjectionResult{}, fmt.Errorf("%w: %q", ErrUnknownReply, choice)
	}
	return s.insert(ctx, doc, reply)
}

// InsertText writes arbitrary text, e.g. a reply the user edited.
func (s *Session) InsertText(ctx context.Context, doc domain.Editor, text string) (domain.InjectionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(ctx, doc, text)
}

func (s *Session) insert(ctx context.Context, doc domain.Editor, text string) (domain.InjectionResult, error) {
	host, err := doc.Host(ctx)
	if err != nil {
		return domain.InjectionResult{}, fmt.Errorf("%w: %v", domain.ErrNoActiveTarget, err)
	}
	profile := s.registry.Resolve(host)

	res, err := s.injector.Inject(ctx, doc, profile, text)

	var winner domain.Strategy
	if n := len(res.Log); n > 0 && res.Log[n-1].Succeeded {
		winner = res.Log[n-1].Strategy
	}
	result := "ok"
	switch {
	case errors.Is(err, domain.ErrNoInputFound):
		result = "no_input"
	case err != nil:
		result = "unverified"
	}
	metrics.Injection(result, string(winner))

	rec := domain.OutcomeRecord{
		Action:  domain.ActionInsert,
		Site:    profile.ID,
		Success: res.Success,
		Detail:  res.Target,
		Count:   len(res.Log),
	}
	if winner != "" {
		rec.Detail += " " + string(winner)
	}
	if err != nil {
		rec.Error = err.Error()
	}
	s.record(ctx, rec)
	return res, err
}

// Conversation returns the current conversation, if any.
func (s *Session) Conversation() (domain.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conv == nil {
		return domain.Conversation{}, false
	}
	return *s.conv, true
}

// Replies returns the current reply set, if any.
func (s *Session) Replies() (domain.ReplySet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.replies == nil {
		return domain.ReplySet{}, false
	}
	return s.replies.Replies, true
}

// Reset drops the current conversation and replies.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.site, s.conv, s.replies = "", nil, nil
}

// record writes to the journal. Journal errors are logged, never returned.
func (s *Session) record(ctx context.Context, rec domain.OutcomeRecord) {
	if s.journal == nil {
		return
	}
	rec.SessionID = s.id
	rec.CreatedAt = time.Now()
	if err := s.journal.Record(ctx, rec); err != nil {
		s.logger.Warn("failed to record outcome", "action", rec.Action, "err", err)
	}
}
