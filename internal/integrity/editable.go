package integrity

import (
	"fmt"
	"strings"
	"sync"
)

// MaxEditableDepth bounds the ancestor walk when looking for an editable
// region, frame hops included.
const MaxEditableDepth = 12

// Node is one element of the host's containment hierarchy.
type Node struct {
	Tag        string
	Attributes map[string]string
	Classes    []string
	Parent     *Node
	// Frame is the frame element hosting this node's document. It is only set
	// on the root of a nested document.
	Frame *Node
}

// Attr returns the attribute value and whether it is present.
func (n *Node) Attr(name string) (string, bool) {
	if n == nil || n.Attributes == nil {
		return "", false
	}
	v, ok := n.Attributes[strings.ToLower(name)]
	return v, ok
}

// HasClass reports whether the node carries class c.
func (n *Node) HasClass(c string) bool {
	if n == nil {
		return false
	}
	for _, cl := range n.Classes {
		if cl == c {
			return true
		}
	}
	return false
}

// up returns the next node outward, crossing into the hosting frame when the
// current document ends.
func (n *Node) up() *Node {
	if n.Parent != nil {
		return n.Parent
	}
	return n.Frame
}

// Element is the wire form of a Node. Paths arrive ordered from the event
// target outward.
type Element struct {
	Tag        string            `json:"tag"`
	Attributes map[string]string `json:"attrs,omitempty"`
	Classes    []string          `json:"classes,omitempty"`
	// FrameRoot marks the outermost element of a nested document; the next
	// element in the path is the frame that hosts it.
	FrameRoot bool `json:"frame_root,omitempty"`
}

// BuildPath links a target-first element path into a Node chain and returns
// the target.
func BuildPath(path []Element) *Node {
	if len(path) == 0 {
		return nil
	}

	nodes := make([]*Node, len(path))
	for i, el := range path {
		attrs := make(map[string]string, len(el.Attributes))
		for k, v := range el.Attributes {
			attrs[strings.ToLower(k)] = v
		}
		nodes[i] = &Node{Tag: strings.ToLower(el.Tag), Attributes: attrs, Classes: el.Classes}
	}
	for i := 0; i < len(nodes)-1; i++ {
		if path[i].FrameRoot {
			nodes[i].Frame = nodes[i+1]
		} else {
			nodes[i].Parent = nodes[i+1]
		}
	}
	return nodes[0]
}

// EditableSurface decides whether a single node is an editable widget of
// some family. Implementations look at the node only; the registry walks.
type EditableSurface interface {
	IsEditableSurface(n *Node) bool
}

// EditableFunc adapts a function to EditableSurface.
type EditableFunc func(n *Node) bool

func (f EditableFunc) IsEditableSurface(n *Node) bool { return f(n) }

// EditableRegistry composes editable detectors.
type EditableRegistry struct {
	mu       sync.RWMutex
	surfaces []EditableSurface
}

// NewEditableRegistry creates a registry holding the given detectors.
func NewEditableRegistry(surfaces ...EditableSurface) *EditableRegistry {
	return &EditableRegistry{surfaces: append([]EditableSurface(nil), surfaces...)}
}

// DefaultEditableRegistry returns a registry with the built-in detectors.
func DefaultEditableRegistry() *EditableRegistry {
	return NewEditableRegistry(
		NativeInput{},
		ContentEditable{},
		RichTextFamily{Name: "quill", Classes: []string{"ql-editor"}},
		RichTextFamily{Name: "tinymce", Classes: []string{"mce-content-body", "tox-edit-area"}},
		RichTextFamily{Name: "prosemirror", Classes: []string{"ProseMirror"}},
		RichTextFamily{Name: "ckeditor", Classes: []string{"ck-editor__editable", "cke_editable"}},
	)
}

// Register adds a detector.
func (r *EditableRegistry) Register(s EditableSurface) {
	r.mu.Lock()
	r.surfaces = append(r.surfaces, s)
	r.mu.Unlock()
}

// IsEditable walks from n outward, at most MaxEditableDepth nodes, and
// reports whether any node is claimed by a detector. A panicking detector is
// skipped; its failures are returned alongside the answer.
func (r *EditableRegistry) IsEditable(n *Node) (bool, []error) {
	r.mu.RLock()
	surfaces := r.surfaces
	r.mu.RUnlock()

	var errs []error
	for depth := 0; n != nil && depth < MaxEditableDepth; depth++ {
		for _, s := range surfaces {
			ok, err := runDetector(s, n)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if ok {
				return true, errs
			}
		}
		n = n.up()
	}
	return false, errs
}

func runDetector(s EditableSurface, n *Node) (ok bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("editable detector %T panicked: %v", s, rec)
		}
	}()
	return s.IsEditableSurface(n), nil
}

// ─── Built-in detectors ─────────────────────────────────────────────

// NativeInput matches textarea and text-like input elements.
type NativeInput struct{}

var textInputTypes = map[string]bool{
	"": true, "text": true, "search": true, "email": true, "url": true,
	"tel": true, "password": true, "number": true,
}

func (NativeInput) IsEditableSurface(n *Node) bool {
	if _, ok := n.Attr("readonly"); ok {
		return false
	}
	if _, ok := n.Attr("disabled"); ok {
		return false
	}
	switch n.Tag {
	case "textarea":
		return true
	case "input":
		t, _ := n.Attr("type")
		return textInputTypes[strings.ToLower(t)]
	}
	return false
}

// ContentEditable matches contenteditable hosts and ARIA textboxes.
type ContentEditable struct{}

func (ContentEditable) IsEditableSurface(n *Node) bool {
	if v, ok := n.Attr("contenteditable"); ok {
		switch strings.ToLower(v) {
		case "", "true", "plaintext-only":
			return true
		}
		return false
	}
	role, _ := n.Attr("role")
	return role == "textbox"
}

// RichTextFamily matches a third-party editor by its root classes.
type RichTextFamily struct {
	Name    string
	Classes []string
}

func (f RichTextFamily) IsEditableSurface(n *Node) bool {
	for _, c := range f.Classes {
		if n.HasClass(c) {
			return true
		}
	}
	return false
}
