// Package domaintest provides an in-memory domain.Editor for tests.
//
// Nodes do not parse CSS. A node matches a selector when the selector equals
// its tag or appears in its Matches list, which keeps fixtures explicit about
// what each selector is expected to hit.
package domaintest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"chataide/internal/domain"
)

// Op names a write or read operation that a node can be told to fail or ignore.
type Op string

const (
	OpInsert      Op = "insert"
	OpReplace     Op = "replace"
	OpTextContent Op = "textContent"
	OpSplice      Op = "splice"
	OpSetValue    Op = "setValue"
	OpReadBack    Op = "readBack"
)

// Node is a fake document node.
type Node struct {
	Tag      string
	Text     string // rendered text for non-editable nodes
	Hidden   bool
	Editable bool // contenteditable
	Attrs    map[string]string
	Matches  []string
	Parent   *Node
	Detached bool // removed from the page after Query returned it

	// Content is the editable content (rich) or value (plain).
	Content      string
	TextChildren int

	Fail  map[Op]error // operation returns this error
	Inert map[Op]bool  // operation reports success but changes nothing

	Focused bool
	Events  []string
}

func (n *Node) matches(sel string) bool {
	return sel == n.Tag || slices.Contains(n.Matches, sel)
}

func (n *Node) plain() bool {
	return !n.Editable && (n.Tag == "textarea" || n.Tag == "input")
}

func (n *Node) rendered() string {
	if n.Editable || n.plain() {
		return n.Content
	}
	return n.Text
}

// Document is a fake page made of nodes in document order.
type Document struct {
	HostName string
	Href     string
	Nodes    []*Node
}

// New builds a document for the given host.
func New(host string, nodes ...*Node) *Document {
	return &Document{HostName: host, Href: "https://" + host + "/", Nodes: nodes}
}

// Add appends nodes and returns the document for chaining.
func (d *Document) Add(nodes ...*Node) *Document {
	d.Nodes = append(d.Nodes, nodes...)
	return d
}

// Node returns the node behind a ref.
func (d *Document) Node(ref domain.NodeRef) *Node {
	return d.Nodes[ref]
}

var errDetached = errors.New("node detached")

func (d *Document) node(ref domain.NodeRef) (*Node, error) {
	if int(ref) < 0 || int(ref) >= len(d.Nodes) {
		return nil, fmt.Errorf("stale node ref %d", ref)
	}
	if d.Nodes[ref].Detached {
		return nil, fmt.Errorf("stale node ref %d: %w", ref, errDetached)
	}
	return d.Nodes[ref], nil
}

func (d *Document) Host(ctx context.Context) (string, error) { return d.HostName, nil }
func (d *Document) URL(ctx context.Context) (string, error)  { return d.Href, nil }

func (d *Document) Query(ctx context.Context, selectors []string) ([]domain.NodeRef, error) {
	var refs []domain.NodeRef
	for i, n := range d.Nodes {
		for _, sel := range selectors {
			if n.matches(sel) {
				refs = append(refs, domain.NodeRef(i))
				break
			}
		}
	}
	return refs, nil
}

func (d *Document) Describe(ctx context.Context, refs []domain.NodeRef) ([]domain.NodeInfo, error) {
	out := make([]domain.NodeInfo, 0, len(refs))
	for _, ref := range refs {
		n, err := d.node(ref)
		if errors.Is(err, errDetached) {
			out = append(out, domain.NodeInfo{Ref: ref})
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, domain.NodeInfo{
			Ref:      ref,
			Tag:      n.Tag,
			Text:     n.rendered(),
			Visible:  !n.Hidden,
			Editable: n.Editable,
			Attrs:    n.Attrs,
		})
	}
	return out, nil
}

func (d *Document) Closest(ctx context.Context, ref domain.NodeRef, selectors []string) (bool, error) {
	n, err := d.node(ref)
	if errors.Is(err, errDetached) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	for cur := n; cur != nil; cur = cur.Parent {
		for _, sel := range selectors {
			if cur.matches(sel) {
				return true, nil
			}
		}
	}
	return false, nil
}

func (d *Document) Focus(ctx context.Context, ref domain.NodeRef) error {
	n, err := d.node(ref)
	if err != nil {
		return err
	}
	n.Focused = true
	return nil
}

func (d *Document) InsertText(ctx context.Context, ref domain.NodeRef, text string) (bool, error) {
	n, err := d.write(ref, OpInsert)
	if err != nil {
		return false, err
	}
	if n != nil {
		n.Content += text
	}
	return true, nil
}

func (d *Document) ReplaceTextChild(ctx context.Context, ref domain.NodeRef, text string) (bool, error) {
	n, err := d.node(ref)
	if err != nil {
		return false, err
	}
	if n.TextChildren != 1 {
		return false, nil
	}
	n, err = d.write(ref, OpReplace)
	if err != nil {
		return false, err
	}
	if n != nil {
		n.Content = text
	}
	return true, nil
}

func (d *Document) SetTextContent(ctx context.Context, ref domain.NodeRef, text string) error {
	n, err := d.write(ref, OpTextContent)
	if err != nil || n == nil {
		return err
	}
	n.Content = text
	n.TextChildren = 1
	return nil
}

func (d *Document) SpliceText(ctx context.Context, ref domain.NodeRef, text string) error {
	n, err := d.write(ref, OpSplice)
	if err != nil || n == nil {
		return err
	}
	n.Content = text
	n.TextChildren = 1
	return nil
}

func (d *Document) CaretToEnd(ctx context.Context, ref domain.NodeRef) error {
	_, err := d.node(ref)
	return err
}

func (d *Document) Notify(ctx context.Context, ref domain.NodeRef) error {
	n, err := d.node(ref)
	if err != nil {
		return err
	}
	n.Events = append(n.Events, "input", "change")
	return nil
}

func (d *Document) SetValue(ctx context.Context, ref domain.NodeRef, text string) error {
	n, err := d.write(ref, OpSetValue)
	if err != nil || n == nil {
		return err
	}
	n.Content = text
	return nil
}

func (d *Document) ReadBack(ctx context.Context, ref domain.NodeRef) (string, error) {
	n, err := d.node(ref)
	if err != nil {
		return "", err
	}
	if e := n.Fail[OpReadBack]; e != nil {
		return "", e
	}
	if n.plain() {
		return n.Content, nil
	}
	return strings.TrimSpace(n.Content), nil
}

// write resolves a node for a mutating op. A nil node with nil error means
// the op is inert and should report success without changing anything.
func (d *Document) write(ref domain.NodeRef, op Op) (*Node, error) {
	n, err := d.node(ref)
	if err != nil {
		return nil, err
	}
	if e := n.Fail[op]; e != nil {
		return nil, e
	}
	if n.Inert[op] {
		return nil, nil
	}
	return n, nil
}

// Text returns a visible text node with the given tag and selector matches.
func Text(tag, text string, matches ...string) *Node {
	return &Node{Tag: tag, Text: text, Matches: matches}
}

// Input returns a visible rich editable node.
func Input(matches ...string) *Node {
	return &Node{Tag: "div", Editable: true, Matches: matches}
}
