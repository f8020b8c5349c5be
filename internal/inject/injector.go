// Package inject writes a reply into a page's message input and verifies the
// write by reading the input back.
package inject

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"chataide/internal/domain"
)

var (
	// whatsappExcluded are regions whose editables are never the composer.
	whatsappExcluded = []string{"header", `[role="search"]`, ".app-search", ".chat-search"}
	whatsappFooter   = []string{"footer"}
	composerName     = regexp.MustCompile(`(?i)type a message|message`)
)

// Injector selects an input target and runs the write strategies against it.
// It is stateless; concurrent injections into the same page must be
// serialized by the caller.
type Injector struct {
	logger *slog.Logger
}

type Config struct {
	Logger *slog.Logger
}

func New(cfg Config) *Injector {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Injector{logger: cfg.Logger}
}

// writeFunc performs one strategy's write and returns a short detail string.
type writeFunc func(ctx context.Context, doc domain.Editor, ref domain.NodeRef, text string) (string, error)

type strategy struct {
	name   domain.Strategy
	write  writeFunc
	settle bool // move the caret to the end after writing
}

// richChain is tried in order against contenteditable targets.
var richChain = []strategy{
	{domain.StrategyNativeInsert, writeNativeInsert, true},
	{domain.StrategyContentReplace, writeContentReplace, true},
	{domain.StrategyRangeSplice, writeRangeSplice, true},
}

// plainChain is used for textarea and input controls.
var plainChain = []strategy{
	{domain.StrategyValueAssign, writeValue, false},
}

type target struct {
	info domain.NodeInfo
	how  string
}

// Inject writes reply into the active input of doc. It returns an error
// wrapping domain.ErrNoInputFound or domain.ErrInjectionUnverified on
// failure; the result carries the attempt log either way.
func (in *Injector) Inject(ctx context.Context, doc domain.Editor, profile domain.SiteProfile, reply string) (domain.InjectionResult, error) {
	res := domain.InjectionResult{Site: profile.ID, Log: []domain.InjectionAttempt{}}
	if url, err := doc.URL(ctx); err == nil {
		res.URL = url
	}
	// Rich controls read back trimmed text, so surrounding whitespace would
	// never verify.
	reply = strings.TrimSpace(reply)
	if reply == "" {
		res.Error = "empty reply"
		return res, errors.New("inject: empty reply")
	}

	tgt, err := in.findTarget(ctx, doc, profile)
	if err != nil {
		res.Error = err.Error()
		return res, fmt.Errorf("find input: %w", err)
	}
	if tgt == nil {
		res.Error = "no_input"
		in.logger.Warn("no chat input found to insert reply", "site", profile.ID, "url", res.URL)
		return res, fmt.Errorf("%w on %s page", domain.ErrNoInputFound, profile.ID)
	}
	res.Target = tgt.how

	ref := tgt.info.Ref
	if err := doc.Focus(ctx, ref); err != nil {
		in.logger.Debug("focus failed, continuing", "err", err)
	}

	chain := richChain
	if !tgt.info.Editable {
		chain = plainChain
	}

	for _, s := range chain {
		attempt := in.try(ctx, doc, ref, s, reply)
		res.Log = append(res.Log, attempt)
		if attempt.Observed != nil {
			res.Final = *attempt.Observed
		}
		if attempt.Succeeded {
			res.Success = true
			in.logger.Info("reply inserted", "site", profile.ID, "target", tgt.how,
				"strategy", s.name, "attempts", len(res.Log))
			return res, nil
		}
		in.logger.Debug("strategy did not verify", "strategy", s.name, "error", attempt.Error)
	}

	res.Error = "verification_failed"
	in.logger.Warn("insert verification failed", "site", profile.ID, "target", tgt.how,
		"attempts", len(res.Log), "final", res.Final)
	return res, fmt.Errorf("%w after %d attempts", domain.ErrInjectionUnverified, len(res.Log))
}

// try runs one strategy and verifies it. Read-back is attempted even when
// the write failed so the log shows what the control actually holds.
func (in *Injector) try(ctx context.Context, doc domain.Editor, ref domain.NodeRef, s strategy, reply string) domain.InjectionAttempt {
	attempt := domain.InjectionAttempt{Strategy: s.name}

	detail, werr := s.write(ctx, doc, ref, reply)
	attempt.Detail = detail
	var errs []string
	if werr != nil {
		errs = append(errs, werr.Error())
	} else {
		if s.settle {
			if err := doc.CaretToEnd(ctx, ref); err != nil {
				errs = append(errs, "caret: "+err.Error())
			}
		}
		if err := doc.Notify(ctx, ref); err != nil {
			errs = append(errs, "notify: "+err.Error())
		}
	}

	observed, rerr := doc.ReadBack(ctx, ref)
	if rerr != nil {
		errs = append(errs, "read-back: "+rerr.Error())
	} else {
		attempt.Observed = &observed
		attempt.Succeeded = werr == nil && Verified(observed, reply)
	}
	attempt.Error = strings.Join(errs, "; ")
	return attempt
}

// Verified reports whether read-back content shows the reply was written.
func Verified(observed, reply string) bool {
	if observed == "" || reply == "" {
		return false
	}
	return observed == reply || strings.Contains(observed, reply)
}

func (in *Injector) findTarget(ctx context.Context, doc domain.Editor, profile domain.SiteProfile) (*target, error) {
	if profile.ID == domain.SiteWhatsApp {
		return in.whatsappTarget(ctx, doc, profile.InjectionSelectors)
	}
	return firstVisible(ctx, doc, profile.InjectionSelectors)
}

// whatsappTarget prefers the footer composer over search boxes and other
// editables WhatsApp keeps on screen.
func (in *Injector) whatsappTarget(ctx context.Context, doc domain.Editor, selectors []string) (*target, error) {
	infos, err := visible(ctx, doc, selectors)
	if err != nil {
		return nil, err
	}

	var candidates, preferred []domain.NodeInfo
	for _, n := range infos {
		excluded, err := doc.Closest(ctx, n.Ref, whatsappExcluded)
		if err != nil {
			return nil, err
		}
		if excluded {
			continue
		}
		candidates = append(candidates, n)

		inFooter, err := doc.Closest(ctx, n.Ref, whatsappFooter)
		if err != nil {
			return nil, err
		}
		if inFooter || composerName.MatchString(n.Attr("title")) || composerName.MatchString(n.Attr("aria-label")) {
			preferred = append(preferred, n)
		}
	}
	in.logger.Debug("whatsapp input candidates", "visible", len(infos),
		"eligible", len(candidates), "preferred", len(preferred))

	switch {
	case len(preferred) > 0:
		return &target{info: preferred[len(preferred)-1], how: "whatsapp-preferred"}, nil
	case len(candidates) > 0:
		return &target{info: candidates[len(candidates)-1], how: "whatsapp-fallback"}, nil
	}
	return nil, nil
}

// firstVisible walks the selector list in order and returns the first
// visible match.
func firstVisible(ctx context.Context, doc domain.Editor, selectors []string) (*target, error) {
	for _, sel := range selectors {
		infos, err := visible(ctx, doc, []string{sel})
		if err != nil {
			return nil, err
		}
		if len(infos) > 0 {
			return &target{info: infos[0], how: sel}, nil
		}
	}
	return nil, nil
}

func visible(ctx context.Context, doc domain.Editor, selectors []string) ([]domain.NodeInfo, error) {
	refs, err := doc.Query(ctx, selectors)
	if err != nil || len(refs) == 0 {
		return nil, err
	}
	infos, err := doc.Describe(ctx, refs)
	if err != nil {
		return nil, err
	}
	out := infos[:0]
	for _, n := range infos {
		if n.Visible {
			out = append(out, n)
		}
	}
	return out, nil
}

func writeNativeInsert(ctx context.Context, doc domain.Editor, ref domain.NodeRef, text string) (string, error) {
	ok, err := doc.InsertText(ctx, ref, text)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("command returned %v", ok), nil
}

func writeContentReplace(ctx context.Context, doc domain.Editor, ref domain.NodeRef, text string) (string, error) {
	replaced, err := doc.ReplaceTextChild(ctx, ref, text)
	if err != nil {
		return "single-text-node", err
	}
	if replaced {
		return "single-text-node", nil
	}
	return "text-content", doc.SetTextContent(ctx, ref, text)
}

func writeRangeSplice(ctx context.Context, doc domain.Editor, ref domain.NodeRef, text string) (string, error) {
	return "", doc.SpliceText(ctx, ref, text)
}

func writeValue(ctx context.Context, doc domain.Editor, ref domain.NodeRef, text string) (string, error) {
	return "", doc.SetValue(ctx, ref, text)
}
