// Package extract reads the recent conversation out of a live document.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"chataide/internal/domain"
	"chataide/internal/site"
	"chataide/internal/tone"
)

const (
	// genericPoolSize caps the deduplicated generic candidate pool.
	genericPoolSize = 30
	sampleSize      = 5
)

// Extractor produces a Conversation from a document using a site profile's
// extraction chain, falling back to the generic chain. It holds no per-call
// state and may be shared.
type Extractor struct {
	registry    *site.Registry
	maxMessages int
	logger      *slog.Logger
}

type Config struct {
	Registry    *site.Registry
	MaxMessages int // default domain.MaxMessages
	Logger      *slog.Logger
}

func New(cfg Config) *Extractor {
	if cfg.Registry == nil {
		cfg.Registry = site.NewRegistry()
	}
	if cfg.MaxMessages <= 0 || cfg.MaxMessages > domain.MaxMessages {
		cfg.MaxMessages = domain.MaxMessages
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Extractor{
		registry:    cfg.Registry,
		maxMessages: cfg.MaxMessages,
		logger:      cfg.Logger,
	}
}

// chain is one entry of the extraction priority list.
type chain struct {
	id        domain.SiteID
	selectors []string
	generic   bool // dedupe + pool cap, skip editable nodes
}

// Scan resolves the document's host to a profile and extracts with it.
func (e *Extractor) Scan(ctx context.Context, doc domain.Document) (domain.ExtractResult, error) {
	host, err := doc.Host(ctx)
	if err != nil {
		return domain.ExtractResult{}, fmt.Errorf("resolve host: %w", err)
	}
	return e.Extract(ctx, doc, e.registry.Resolve(host))
}

// Extract runs the profile's chain, then the generic chain if the first came
// back empty. Diagnostics are returned on success and on failure.
func (e *Extractor) Extract(ctx context.Context, doc domain.Document, profile domain.SiteProfile) (domain.ExtractResult, error) {
	diag := domain.ExtractDiagnostics{
		Site:           profile.ID,
		SelectorCounts: make(map[domain.SiteID]int, len(domain.SiteIDs)),
	}
	if url, err := doc.URL(ctx); err == nil {
		diag.URL = url
	}
	res := domain.ExtractResult{Diagnostics: diag}

	plan := e.plan(profile)
	var msgs []string
	for i, c := range plan {
		texts, err := e.candidates(ctx, doc, c)
		if err != nil {
			return res, fmt.Errorf("%s chain: %w", c.id, err)
		}
		res.Diagnostics.SelectorCounts[c.id] = len(texts)
		e.logger.Debug("extraction chain ran", "chain", c.id, "candidates", len(texts))

		msgs = collect(texts, c.generic)
		if len(msgs) > 0 {
			res.Diagnostics.Chain = c.id
			res.Diagnostics.Fallback = i > 0
			break
		}
		if i+1 < len(plan) {
			e.logger.Warn("site chain found nothing, falling back", "site", profile.ID, "next", plan[i+1].id)
		}
	}

	if len(msgs) > e.maxMessages {
		msgs = msgs[len(msgs)-e.maxMessages:]
	}
	res.Diagnostics.MessageCount = len(msgs)
	res.Diagnostics.Sample = sample(msgs)

	if len(msgs) == 0 {
		e.countRemaining(ctx, doc, res.Diagnostics.SelectorCounts)
		e.logger.Warn("no messages found", "site", profile.ID, "url", res.Diagnostics.URL,
			"counts", res.Diagnostics.SelectorCounts)
		return res, fmt.Errorf("%w on %s page", domain.ErrNoMessagesFound, profile.ID)
	}

	conv := domain.Conversation{Messages: make([]domain.Message, len(msgs))}
	for i, m := range msgs {
		conv.Messages[i] = domain.Message{Text: m}
	}
	conv.Tone, conv.HasEmojis = tone.Classify(strings.Join(msgs, " "))
	res.Conversation = conv

	e.logger.Info("conversation extracted", "site", profile.ID, "chain", res.Diagnostics.Chain,
		"messages", len(msgs), "tone", conv.Tone)
	return res, nil
}

// plan returns the ordered chains for a profile. A generic profile has only
// the generic chain; every other profile falls back to it.
func (e *Extractor) plan(profile domain.SiteProfile) []chain {
	if profile.ID == domain.SiteGeneric {
		return []chain{{id: domain.SiteGeneric, selectors: profile.ExtractionSelectors, generic: true}}
	}
	generic := e.registry.Profile(domain.SiteGeneric)
	return []chain{
		{id: profile.ID, selectors: profile.ExtractionSelectors},
		{id: domain.SiteGeneric, selectors: generic.ExtractionSelectors, generic: true},
	}
}

// countRemaining fills hit counts for chains that did not run so a failure
// report covers every known site. Errors only cost diagnostics.
func (e *Extractor) countRemaining(ctx context.Context, doc domain.Document, counts map[domain.SiteID]int) {
	for _, id := range domain.SiteIDs {
		if _, done := counts[id]; done {
			continue
		}
		p := e.registry.Profile(id)
		texts, err := e.candidates(ctx, doc, chain{id: id, selectors: p.ExtractionSelectors, generic: id == domain.SiteGeneric})
		if err != nil {
			e.logger.Debug("diagnostic count failed", "chain", id, "err", err)
			continue
		}
		counts[id] = len(texts)
	}
}

// candidates returns the trimmed text of every visible, non-empty node the
// chain matches, in document order.
func (e *Extractor) candidates(ctx context.Context, doc domain.Document, c chain) ([]string, error) {
	if len(c.selectors) == 0 {
		return nil, nil
	}
	refs, err := doc.Query(ctx, c.selectors)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	if len(refs) == 0 {
		return nil, nil
	}
	infos, err := doc.Describe(ctx, refs)
	if err != nil {
		return nil, fmt.Errorf("describe: %w", err)
	}

	texts := make([]string, 0, len(infos))
	for _, n := range infos {
		if !n.Visible || (c.generic && n.Editable) {
			continue
		}
		if t := strings.TrimSpace(n.Text); t != "" {
			texts = append(texts, t)
		}
	}
	return texts, nil
}

// collect turns candidate texts into message fragments. The generic chain
// deduplicates first and then keeps the last genericPoolSize texts.
func collect(texts []string, generic bool) []string {
	if generic {
		texts = dedupe(texts)
		if len(texts) > genericPoolSize {
			texts = texts[len(texts)-genericPoolSize:]
		}
	}
	var msgs []string
	for _, t := range texts {
		msgs = append(msgs, splitLines(t)...)
	}
	return msgs
}

// dedupe keeps the first occurrence of each text, preserving order.
func dedupe(texts []string) []string {
	seen := make(map[string]bool, len(texts))
	out := texts[:0:0]
	for _, t := range texts {
		if seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// splitLines splits on line breaks, trims and drops empty fragments.
func splitLines(text string) []string {
	parts := strings.FieldsFunc(text, func(r rune) bool { return r == '\n' || r == '\r' })
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func sample(msgs []string) []string {
	if len(msgs) > sampleSize {
		msgs = msgs[:sampleSize]
	}
	return append([]string(nil), msgs...)
}
