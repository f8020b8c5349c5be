package domain

import "context"

// NodeRef is an opaque handle to a live document node. Handles stay valid for
// the duration of one operation against the same Document.
type NodeRef int

// NodeInfo is a snapshot of the properties the core reads from a node.
type NodeInfo struct {
	Ref      NodeRef           `json:"ref"`
	Tag      string            `json:"tag"`      // lower-case tag name
	Text     string            `json:"text"`     // rendered text, untrimmed
	Visible  bool              `json:"visible"`  // attached and laid out with non-zero area
	Editable bool              `json:"editable"` // rich editable region (contenteditable)
	Attrs    map[string]string `json:"attrs,omitempty"`
}

// Attr returns the named attribute or "".
func (n NodeInfo) Attr(name string) string {
	if n.Attrs == nil {
		return ""
	}
	return n.Attrs[name]
}

// Plain reports whether the node is a plain form control (textarea/input).
func (n NodeInfo) Plain() bool {
	return !n.Editable && (n.Tag == "textarea" || n.Tag == "input")
}

// Document is the read-only query surface over a live page.
type Document interface {
	Host(ctx context.Context) (string, error)
	URL(ctx context.Context) (string, error)
	// Query returns every node matching any of the selectors, each once, in
	// document order.
	Query(ctx context.Context, selectors []string) ([]NodeRef, error)
	Describe(ctx context.Context, refs []NodeRef) ([]NodeInfo, error)
	// Closest reports whether the node or one of its ancestors matches any
	// of the selectors.
	Closest(ctx context.Context, ref NodeRef, selectors []string) (bool, error)
}

// Editor extends Document with the write operations used by reply injection.
type Editor interface {
	Document
	Focus(ctx context.Context, ref NodeRef) error
	// InsertText runs the platform's text-insertion command on the focused
	// node and returns the command's own success flag.
	InsertText(ctx context.Context, ref NodeRef, text string) (bool, error)
	// ReplaceTextChild replaces the value of the node's only text-bearing
	// child. It reports false, without writing, when there is not exactly one.
	ReplaceTextChild(ctx context.Context, ref NodeRef, text string) (bool, error)
	SetTextContent(ctx context.Context, ref NodeRef, text string) error
	// SpliceText clears the node's contents through a selection range and
	// inserts a fresh text node.
	SpliceText(ctx context.Context, ref NodeRef, text string) error
	CaretToEnd(ctx context.Context, ref NodeRef) error
	// Notify dispatches input and change events on the node.
	Notify(ctx context.Context, ref NodeRef) error
	SetValue(ctx context.Context, ref NodeRef, text string) error
	// ReadBack returns the trimmed rendered text of a rich node or the value
	// of a plain control.
	ReadBack(ctx context.Context, ref NodeRef) (string, error)
}
