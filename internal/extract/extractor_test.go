package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"

	"chataide/internal/domain"
	"chataide/internal/domain/domaintest"
	"chataide/internal/site"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newExtractor() *Extractor {
	return New(Config{Registry: site.NewRegistry(), Logger: testLogger()})
}

// waMsg is a WhatsApp message bubble.
func waMsg(text string) *domaintest.Node {
	return domaintest.Text("span", text, "span.selectable-text")
}

func TestExtract_WhatsAppSplitsLines(t *testing.T) {
	doc := domaintest.New("web.whatsapp.com",
		waMsg("hey\n  are you around?  \n\n"),
		waMsg("yes"),
	)
	res, err := newExtractor().Scan(context.Background(), doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"hey", "are you around?", "yes"}
	got := res.Conversation.Texts()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if res.Diagnostics.Chain != domain.SiteWhatsApp || res.Diagnostics.Fallback {
		t.Errorf("expected whatsapp chain without fallback, got %+v", res.Diagnostics)
	}
	if res.Diagnostics.SelectorCounts[domain.SiteWhatsApp] != 2 {
		t.Errorf("expected 2 whatsapp hits, got %d", res.Diagnostics.SelectorCounts[domain.SiteWhatsApp])
	}
}

func TestExtract_SkipsHiddenAndEmpty(t *testing.T) {
	hidden := waMsg("secret")
	hidden.Hidden = true
	doc := domaintest.New("web.whatsapp.com",
		waMsg("first"),
		hidden,
		waMsg("   "),
		waMsg("last"),
	)
	res, err := newExtractor().Scan(context.Background(), doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := res.Conversation.Texts(); fmt.Sprint(got) != "[first last]" {
		t.Fatalf("expected [first last], got %q", got)
	}
}

func TestExtract_CapsToLastTenInOrder(t *testing.T) {
	doc := domaintest.New("web.whatsapp.com")
	for i := 0; i < 25; i++ {
		doc.Add(waMsg(fmt.Sprintf("m%02d", i)))
	}
	res, err := newExtractor().Scan(context.Background(), doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := res.Conversation.Texts()
	if len(got) != domain.MaxMessages {
		t.Fatalf("expected %d messages, got %d", domain.MaxMessages, len(got))
	}
	for i, m := range got {
		if want := fmt.Sprintf("m%02d", 15+i); m != want {
			t.Fatalf("message %d: expected %q, got %q", i, want, m)
		}
	}
	if len(res.Diagnostics.Sample) != 5 || res.Diagnostics.Sample[0] != "m15" {
		t.Errorf("unexpected sample: %v", res.Diagnostics.Sample)
	}
}

func TestExtract_CapCountsFragmentsNotNodes(t *testing.T) {
	doc := domaintest.New("web.whatsapp.com",
		waMsg("a\nb\nc\nd\ne\nf"),
		waMsg("g\nh\ni\nj\nk\nl"),
	)
	res, err := newExtractor().Scan(context.Background(), doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := res.Conversation.Texts(); fmt.Sprint(got) != "[c d e f g h i j k l]" {
		t.Fatalf("expected last ten fragments, got %q", got)
	}
}

func TestExtract_FallsBackToGenericWhenSiteChainEmpty(t *testing.T) {
	doc := domaintest.New("www.messenger.com",
		domaintest.Text("div", "hello there"),
		domaintest.Text("p", "how are you"),
	)
	res, err := newExtractor().Scan(context.Background(), doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Diagnostics.Fallback || res.Diagnostics.Chain != domain.SiteGeneric {
		t.Fatalf("expected generic fallback, got %+v", res.Diagnostics)
	}
	if res.Diagnostics.SelectorCounts[domain.SiteMessenger] != 0 {
		t.Errorf("expected zero messenger hits, got %d", res.Diagnostics.SelectorCounts[domain.SiteMessenger])
	}
}

func TestExtract_DetachedNodeDoesNotAbortScan(t *testing.T) {
	gone := waMsg("deleted message")
	gone.Detached = true
	doc := domaintest.New("web.whatsapp.com", waMsg("still here"), gone)
	res, err := newExtractor().Scan(context.Background(), doc)
	if err != nil {
		t.Fatalf("a node leaving the page must not fail the scan: %v", err)
	}
	if got := res.Conversation.Texts(); fmt.Sprint(got) != "[still here]" {
		t.Fatalf("expected only the live message, got %q", got)
	}
}

func TestExtract_DetachedSiteChainFallsBackToGeneric(t *testing.T) {
	gone := domaintest.Text("div", "vanished", `[data-testid="message-text"]`)
	gone.Detached = true
	doc := domaintest.New("www.messenger.com", gone, domaintest.Text("p", "how are you"))
	res, err := newExtractor().Scan(context.Background(), doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Diagnostics.Fallback {
		t.Fatalf("expected generic fallback, got %+v", res.Diagnostics)
	}
	if got := res.Conversation.Texts(); fmt.Sprint(got) != "[how are you]" {
		t.Fatalf("expected the generic text, got %q", got)
	}
}

func TestExtract_NoFallbackWhenSiteChainHits(t *testing.T) {
	doc := domaintest.New("www.messenger.com",
		domaintest.Text("div", "page chrome"),
		domaintest.Text("div", "real message", `[data-testid="message-text"]`),
	)
	res, err := newExtractor().Scan(context.Background(), doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Diagnostics.Fallback {
		t.Fatal("generic fallback must not run when the site chain yields messages")
	}
	if got := res.Conversation.Texts(); fmt.Sprint(got) != "[real message]" {
		t.Fatalf("expected only the site message, got %q", got)
	}
	if _, ran := res.Diagnostics.SelectorCounts[domain.SiteGeneric]; ran {
		t.Error("generic chain should not have been counted on success")
	}
}

func TestExtract_GenericDedupesAndSkipsEditable(t *testing.T) {
	composer := domaintest.Input()
	composer.Content = "draft reply"
	doc := domaintest.New("example.com",
		domaintest.Text("div", "same text"),
		domaintest.Text("span", "same text"),
		composer,
		domaintest.Text("p", "other"),
	)
	res, err := newExtractor().Scan(context.Background(), doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := res.Conversation.Texts(); fmt.Sprint(got) != "[same text other]" {
		t.Fatalf("expected deduped texts without the composer, got %q", got)
	}
	if res.Diagnostics.Fallback {
		t.Error("generic host runs the generic chain directly, not as a fallback")
	}
}

func TestExtract_GenericPoolCappedAfterDedupe(t *testing.T) {
	doc := domaintest.New("example.com")
	// 40 unique texts, each rendered twice. Dedupe leaves 40, the cap keeps
	// the last 30, and the window keeps the last 10 of those.
	for i := 0; i < 40; i++ {
		text := fmt.Sprintf("t%02d", i)
		doc.Add(domaintest.Text("div", text), domaintest.Text("span", text))
	}
	res, err := newExtractor().Scan(context.Background(), doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := res.Conversation.Texts()
	if got[0] != "t30" || got[len(got)-1] != "t39" {
		t.Fatalf("expected t30..t39, got %q", got)
	}
}

func TestExtract_GenericEmptyPageFails(t *testing.T) {
	hidden := domaintest.Text("div", "invisible")
	hidden.Hidden = true
	doc := domaintest.New("example.com", hidden)

	res, err := newExtractor().Scan(context.Background(), doc)
	if !errors.Is(err, domain.ErrNoMessagesFound) {
		t.Fatalf("expected ErrNoMessagesFound, got %v", err)
	}
	for _, id := range domain.SiteIDs {
		count, ok := res.Diagnostics.SelectorCounts[id]
		if !ok {
			t.Errorf("missing diagnostic count for %s", id)
		}
		if count != 0 {
			t.Errorf("expected zero count for %s, got %d", id, count)
		}
	}
	if res.Diagnostics.Site != domain.SiteGeneric {
		t.Errorf("expected generic site, got %q", res.Diagnostics.Site)
	}
}

func TestExtract_ToneFromJoinedText(t *testing.T) {
	doc := domaintest.New("web.whatsapp.com",
		waMsg("omg!!"),
		waMsg("can't believe it!! 🎉"),
	)
	res, err := newExtractor().Scan(context.Background(), doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Conversation.Tone != domain.ToneEnthusiastic || !res.Conversation.HasEmojis {
		t.Fatalf("expected enthusiastic with emojis, got %q/%v", res.Conversation.Tone, res.Conversation.HasEmojis)
	}
}

type failingDoc struct {
	*domaintest.Document
}

func (failingDoc) Query(ctx context.Context, selectors []string) ([]domain.NodeRef, error) {
	return nil, errors.New("target closed")
}

func TestExtract_QueryErrorSurfaces(t *testing.T) {
	doc := failingDoc{domaintest.New("web.whatsapp.com")}
	_, err := newExtractor().Scan(context.Background(), doc)
	if err == nil || errors.Is(err, domain.ErrNoMessagesFound) {
		t.Fatalf("expected a query error, got %v", err)
	}
}

func TestSplitLines(t *testing.T) {
	got := splitLines("a\r\n b \n\n\tc\t")
	if fmt.Sprint(got) != "[a b c]" {
		t.Fatalf("unexpected split: %q", got)
	}
}
