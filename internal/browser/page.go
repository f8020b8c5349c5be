package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"

	"chataide/internal/domain"
)

// registry installs window.__chataide once per document. Node handles are
// monotonic ids; nodes that left the document are swept on every query, so
// the table only holds what the page still shows.
const registry = `(function(){
  if (window.__chataide) return window.__chataide;
  var r = {next: 0, byId: new Map(), ids: new WeakMap()};
  r.ref = function(el) {
    var i = r.ids.get(el);
    if (i === undefined) { i = r.next++; r.ids.set(el, i); }
    r.byId.set(i, el);
    return i;
  };
  r.peek = function(i) {
    var el = r.byId.get(i);
    return el && el.isConnected ? el : null;
  };
  r.get = function(i) {
    var el = r.peek(i);
    if (!el) throw new Error('stale node ' + i);
    return el;
  };
  r.sweep = function() {
    r.byId.forEach(function(el, i) { if (!el.isConnected) r.byId.delete(i); });
  };
  r.all = function(sels) {
    r.sweep();
    var seen = new Set();
    sels.forEach(function(s) {
      try { document.querySelectorAll(s).forEach(function(el) { seen.add(el); }); } catch (e) {}
    });
    return Array.from(seen).sort(function(a, b) {
      return a.compareDocumentPosition(b) & Node.DOCUMENT_POSITION_FOLLOWING ? -1 : 1;
    });
  };
  Object.defineProperty(window, '__chataide', {value: r});
  return r;
})()`

// Page is one attached tab. It implements domain.Editor by evaluating small
// scripts against the live document over a flat DevTools session.
type Page struct {
	conn    *cdpConn
	session target.SessionID
	logger  *slog.Logger
}

var _ domain.Editor = (*Page)(nil)

// Close ends the DevTools session and drops the connection. The tab and the
// browser stay open.
func (p *Page) Close() {
	p.logger.Debug("detaching from tab", "session", p.session)
	ctx, cancel := context.WithTimeout(context.Background(), detachTimeout)
	defer cancel()
	if err := p.conn.call(ctx, "", target.CommandDetachFromTarget, target.DetachFromTarget().WithSessionID(p.session), nil); err != nil {
		p.logger.Warn("detach failed", "err", err)
	}
	p.conn.Close()
}

type evalResult struct {
	Result struct {
		Type  string          `json:"type"`
		Value json.RawMessage `json:"value"`
	} `json:"result"`
	ExceptionDetails *struct {
		Text      string `json:"text"`
		Exception *struct {
			Description string `json:"description"`
		} `json:"exception"`
	} `json:"exceptionDetails"`
}

// eval runs script with the registry bound to r and decodes its return value
// into res.
func (p *Page) eval(ctx context.Context, script string, res any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	expr := "(function(r){" + script + "})(" + registry + ")"
	var out evalResult
	params := cdpruntime.Evaluate(expr).WithReturnByValue(true)
	if err := p.conn.call(ctx, string(p.session), cdpruntime.CommandEvaluate, params, &out); err != nil {
		return err
	}
	if d := out.ExceptionDetails; d != nil {
		msg := d.Text
		if d.Exception != nil && d.Exception.Description != "" {
			msg = d.Exception.Description
		}
		return fmt.Errorf("script error: %s", msg)
	}
	if res == nil || len(out.Result.Value) == 0 {
		return nil
	}
	if err := json.Unmarshal(out.Result.Value, res); err != nil {
		return fmt.Errorf("decode script result: %w", err)
	}
	return nil
}

// js encodes v as a JavaScript literal.
func js(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("browser: encode script argument: %v", err))
	}
	return string(b)
}

func (p *Page) Host(ctx context.Context) (string, error) {
	raw, err := p.URL(ctx)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse page url: %w", err)
	}
	return u.Hostname(), nil
}

func (p *Page) URL(ctx context.Context) (string, error) {
	var href string
	if err := p.eval(ctx, `return location.href;`, &href); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return href, nil
}

func (p *Page) Query(ctx context.Context, selectors []string) ([]domain.NodeRef, error) {
	if len(selectors) == 0 {
		return nil, nil
	}
	var refs []domain.NodeRef
	script := fmt.Sprintf(`return r.all(%s).map(r.ref);`, js(selectors))
	if err := p.eval(ctx, script, &refs); err != nil {
		return nil, fmt.Errorf("query %s: %w", strings.Join(selectors, ", "), err)
	}
	return refs, nil
}

// describeScript reports nodes that left the document as invisible rather
// than failing the whole batch.
const describeScript = `return %s.map(function(i) {
  var el = r.peek(i);
  if (!el) return {ref: i, tag: '', text: '', visible: false, editable: false, attrs: {}};
  var rect = el.getBoundingClientRect();
  var style = getComputedStyle(el);
  var attrs = {};
  for (var k = 0; k < el.attributes.length; k++) {
    attrs[el.attributes[k].name] = el.attributes[k].value;
  }
  return {
    ref: i,
    tag: el.tagName.toLowerCase(),
    text: el.innerText || el.textContent || '',
    visible: rect.width > 0 && rect.height > 0 && style.visibility !== 'hidden' && style.display !== 'none',
    editable: el.isContentEditable,
    attrs: attrs
  };
});`

func (p *Page) Describe(ctx context.Context, refs []domain.NodeRef) ([]domain.NodeInfo, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	var infos []domain.NodeInfo
	if err := p.eval(ctx, fmt.Sprintf(describeScript, js(refs)), &infos); err != nil {
		return nil, fmt.Errorf("describe nodes: %w", err)
	}
	return infos, nil
}

const closestScript = `var el = r.peek(%d);
if (!el) return false;
return %s.some(function(s) { try { return el.closest(s) !== null; } catch (e) { return false; } });`

func (p *Page) Closest(ctx context.Context, ref domain.NodeRef, selectors []string) (bool, error) {
	var found bool
	script := fmt.Sprintf(closestScript, ref, js(selectors))
	if err := p.eval(ctx, script, &found); err != nil {
		return false, fmt.Errorf("closest: %w", err)
	}
	return found, nil
}

func (p *Page) Focus(ctx context.Context, ref domain.NodeRef) error {
	return p.run(ctx, "focus", fmt.Sprintf(`r.get(%d).focus(); return true;`, ref))
}

func (p *Page) InsertText(ctx context.Context, ref domain.NodeRef, text string) (bool, error) {
	var ok bool
	script := fmt.Sprintf(`var el = r.get(%d); el.focus();
return document.execCommand('insertText', false, %s);`, ref, js(text))
	if err := p.eval(ctx, script, &ok); err != nil {
		return false, fmt.Errorf("insertText: %w", err)
	}
	return ok, nil
}

func (p *Page) ReplaceTextChild(ctx context.Context, ref domain.NodeRef, text string) (bool, error) {
	var ok bool
	script := fmt.Sprintf(`var el = r.get(%d);
var texts = Array.from(el.childNodes).filter(function(n) { return n.nodeType === Node.TEXT_NODE; });
if (texts.length !== 1) return false;
texts[0].nodeValue = %s;
return true;`, ref, js(text))
	if err := p.eval(ctx, script, &ok); err != nil {
		return false, fmt.Errorf("replace text child: %w", err)
	}
	return ok, nil
}

func (p *Page) SetTextContent(ctx context.Context, ref domain.NodeRef, text string) error {
	return p.run(ctx, "set textContent", fmt.Sprintf(`r.get(%d).textContent = %s; return true;`, ref, js(text)))
}

func (p *Page) SpliceText(ctx context.Context, ref domain.NodeRef, text string) error {
	script := fmt.Sprintf(`var el = r.get(%d);
var range = document.createRange();
range.selectNodeContents(el);
range.deleteContents();
range.insertNode(document.createTextNode(%s));
return true;`, ref, js(text))
	return p.run(ctx, "splice text", script)
}

func (p *Page) CaretToEnd(ctx context.Context, ref domain.NodeRef) error {
	script := fmt.Sprintf(`var el = r.get(%d);
var range = document.createRange();
range.selectNodeContents(el);
range.collapse(false);
var sel = window.getSelection();
sel.removeAllRanges();
sel.addRange(range);
return true;`, ref)
	return p.run(ctx, "caret", script)
}

func (p *Page) Notify(ctx context.Context, ref domain.NodeRef) error {
	script := fmt.Sprintf(`var el = r.get(%d);
el.dispatchEvent(new Event('input', {bubbles: true}));
el.dispatchEvent(new Event('change', {bubbles: true}));
return true;`, ref)
	return p.run(ctx, "notify", script)
}

// SetValue goes through the prototype setter so framework-controlled inputs
// see the change.
func (p *Page) SetValue(ctx context.Context, ref domain.NodeRef, text string) error {
	script := fmt.Sprintf(`var el = r.get(%d);
var d = Object.getOwnPropertyDescriptor(Object.getPrototypeOf(el), 'value');
if (d && d.set) { d.set.call(el, %s); } else { el.value = %s; }
return true;`, ref, js(text), js(text))
	return p.run(ctx, "set value", script)
}

func (p *Page) ReadBack(ctx context.Context, ref domain.NodeRef) (string, error) {
	var s string
	script := fmt.Sprintf(`var el = r.get(%d);
if (el.isContentEditable) return (el.innerText || el.textContent || '').trim();
return typeof el.value === 'string' ? el.value : '';`, ref)
	if err := p.eval(ctx, script, &s); err != nil {
		return "", fmt.Errorf("read back: %w", err)
	}
	return s, nil
}

// SelectedText returns the page's current text selection, trimmed.
func (p *Page) SelectedText(ctx context.Context) (string, error) {
	var s string
	if err := p.eval(ctx, `return String(window.getSelection() || '').trim();`, &s); err != nil {
		return "", fmt.Errorf("read selection: %w", err)
	}
	return s, nil
}

func (p *Page) run(ctx context.Context, op, script string) error {
	var ok bool
	if err := p.eval(ctx, script, &ok); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
