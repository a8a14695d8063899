package integrity

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEditableRegistry_Families(t *testing.T) {
	reg := DefaultEditableRegistry()

	tests := []struct {
		name string
		el   Element
		want bool
	}{
		{"textarea", Element{Tag: "TEXTAREA"}, true},
		{"text input", Element{Tag: "input", Attributes: map[string]string{"type": "text"}}, true},
		{"untyped input", Element{Tag: "input"}, true},
		{"checkbox", Element{Tag: "input", Attributes: map[string]string{"type": "checkbox"}}, false},
		{"readonly textarea", Element{Tag: "textarea", Attributes: map[string]string{"readonly": ""}}, false},
		{"contenteditable", Element{Tag: "div", Attributes: map[string]string{"contentEditable": "true"}}, true},
		{"contenteditable false", Element{Tag: "div", Attributes: map[string]string{"contenteditable": "false"}}, false},
		{"aria textbox", Element{Tag: "div", Attributes: map[string]string{"role": "textbox"}}, true},
		{"quill", Element{Tag: "div", Classes: []string{"ql-editor", "ql-blank"}}, true},
		{"tinymce", Element{Tag: "body", Classes: []string{"mce-content-body"}}, true},
		{"prosemirror", Element{Tag: "div", Classes: []string{"ProseMirror"}}, true},
		{"ckeditor", Element{Tag: "div", Classes: []string{"ck", "ck-editor__editable"}}, true},
		{"plain paragraph", Element{Tag: "p"}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, errs := reg.IsEditable(BuildPath([]Element{tc.el}))
			assert.Empty(t, errs)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEditableRegistry_WalksIntoHostingFrame(t *testing.T) {
	// A <p> inside a TinyMCE iframe whose document body is not itself
	// marked, hosted by an editor container in the outer page.
	path := []Element{
		{Tag: "strong"},
		{Tag: "p"},
		{Tag: "html", FrameRoot: true},
		{Tag: "iframe"},
		{Tag: "div", Classes: []string{"tox-edit-area"}},
		{Tag: "body"},
	}
	target := BuildPath(path)

	assert.Nil(t, target.Parent.Parent.Parent, "frame root has no parent")
	assert.NotNil(t, target.Parent.Parent.Frame)

	ok, _ := DefaultEditableRegistry().IsEditable(target)
	assert.True(t, ok)
}

func TestEditableRegistry_DepthIsBounded(t *testing.T) {
	path := make([]Element, 0, MaxEditableDepth+2)
	for i := 0; i < MaxEditableDepth; i++ {
		path = append(path, Element{Tag: fmt.Sprintf("span%d", i)})
	}
	path = append(path, Element{Tag: "textarea"})

	ok, _ := DefaultEditableRegistry().IsEditable(BuildPath(path))
	assert.False(t, ok, "editable ancestor beyond the depth limit is ignored")

	ok, _ = DefaultEditableRegistry().IsEditable(BuildPath(path[1:]))
	assert.True(t, ok)
}

func TestEditableRegistry_PanickingDetectorIsSkipped(t *testing.T) {
	reg := NewEditableRegistry(
		EditableFunc(func(*Node) bool { panic("boom") }),
		NativeInput{},
	)

	ok, errs := reg.IsEditable(BuildPath([]Element{{Tag: "textarea"}}))
	assert.True(t, ok)
	assert.Len(t, errs, 1)
}

func TestClassifyShortcut(t *testing.T) {
	tests := []struct {
		combo KeyCombo
		want  ShortcutClass
	}{
		{KeyCombo{Key: "F12"}, ShortcutForbidden},
		{KeyCombo{Key: "i", Meta: true, Alt: true}, ShortcutForbidden},
		{KeyCombo{Key: "C", Ctrl: true, Shift: true}, ShortcutForbidden},
		{KeyCombo{Key: "p", Ctrl: true}, ShortcutForbidden},
		{KeyCombo{Key: "4", Meta: true, Shift: true}, ShortcutForbidden},
		{KeyCombo{Key: "v", Ctrl: true}, ShortcutClipboard},
		{KeyCombo{Key: "V", Ctrl: true, Shift: true}, ShortcutClipboard},
		{KeyCombo{Key: "x", Meta: true}, ShortcutClipboard},
		{KeyCombo{Key: "a", Ctrl: true}, ShortcutSelectAll},
		{KeyCombo{Key: "z", Ctrl: true}, ShortcutAllowed},
		{KeyCombo{Key: "c"}, ShortcutAllowed},
		{KeyCombo{Key: "Enter"}, ShortcutAllowed},
	}

	for _, tc := range tests {
		t.Run(describe(InputEvent{Kind: InputKeyDown, Key: tc.combo}), func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyShortcut(tc.combo))
		})
	}
}
