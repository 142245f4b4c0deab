// Package editor holds the in-session model of a live .s3 document and the
// controller that drives one panel.
package editor

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/software3/software3"
)

// EditType names the field an edit overwrites.
type EditType string

const (
	EditInstructions EditType = "instructions"
	EditCode         EditType = "code"
	EditLanguage     EditType = "language"
)

// ErrInvalidEdit is returned for an edit of an unknown type.
var ErrInvalidEdit = errors.New("invalid edit type")

// ErrDirty is returned when a document with unsaved edits would be replaced.
var ErrDirty = errors.New("document has unsaved changes")

// Edit is one entry of the edit log.
type Edit struct {
	Type      EditType  `json:"type"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Content is the simplified editing shape: one block of instructions and code.
type Content struct {
	Instructions string `json:"instructions"`
	Code         string `json:"code"`
	Language     string `json:"language,omitempty"`
}

func (c *Content) apply(e Edit) {
	switch e.Type {
	case EditInstructions:
		c.Instructions = e.Content
	case EditCode:
		c.Code = e.Content
	case EditLanguage:
		c.Language = e.Content
	}
}

// Change is delivered to listeners after every content change.
type Change struct {
	Label   string
	Content []byte
	Edits   int
	Dirty   bool
}

// Snapshot captures a document so it can be restored later.
type Snapshot struct {
	URI        string    `json:"uri"`
	Base       []byte    `json:"base"`
	Edits      []Edit    `json:"edits"`
	SavedEdits []Edit    `json:"savedEdits"`
	Taken      time.Time `json:"taken"`
}

// Document is the edit log of one open file. Content is always derived from
// the base snapshot with the log replayed over it.
type Document struct {
	uri string
	now func() time.Time

	mu         sync.Mutex
	base       []byte
	edits      []Edit
	savedEdits []Edit
	redo       []Edit
	parsed     Content
	content    []byte
	listeners  map[int]func(Change)
	nextID     int
}

// DocumentOption configures a Document.
type DocumentOption func(*Document)

// WithDocumentClock sets the time source for edit timestamps.
func WithDocumentClock(now func() time.Time) DocumentOption {
	return func(d *Document) {
		d.now = now
	}
}

// NewDocument opens a document over base.
func NewDocument(uri string, base []byte, opts ...DocumentOption) *Document {
	d := &Document{
		uri:       uri,
		now:       time.Now,
		base:      append([]byte(nil), base...),
		listeners: make(map[int]func(Change)),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.replay()
	return d
}

// URI returns the document location.
func (d *Document) URI() string { return d.uri }

// ParseContent decodes the simplified shape. Invalid input yields the empty
// shape.
func ParseContent(data []byte) Content {
	var c Content
	if err := json.Unmarshal(data, &c); err != nil {
		return Content{}
	}
	return c
}

// IsContent reports whether data holds the simplified shape rather than a
// full multi-block document.
func IsContent(data []byte) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return false
	}
	_, blocks := fields["blocks"]
	return !blocks
}

// Document converts c into a one-block document titled title.
func (c Content) Document(title string) *software3.Document {
	lang := software3.LanguageFromFence(c.Language)
	if c.Language == "" {
		lang = software3.LanguagePython
	}
	return &software3.Document{
		Version: "1.0",
		Title:   title,
		Blocks:  []*software3.Block{software3.NewBlock("main", c.Instructions, c.Code, lang)},
	}
}

// Marshal encodes c with two-space indentation.
func (c Content) Marshal() []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	// Content has only string fields
	_ = enc.Encode(c)
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
}

// replay rebuilds content from the base and the edit log. Caller holds mu.
func (d *Document) replay() {
	c := ParseContent(d.base)
	for _, e := range d.edits {
		c.apply(e)
	}
	d.parsed = c
	d.content = c.Marshal()
}

// MakeEdit appends e to the log and applies it. It clears the redo stack.
func (d *Document) MakeEdit(e Edit) error {
	switch e.Type {
	case EditInstructions, EditCode, EditLanguage:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidEdit, e.Type)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = d.now()
	}

	d.mu.Lock()
	d.edits = append(d.edits, e)
	d.redo = nil
	d.parsed.apply(e)
	d.content = d.parsed.Marshal()
	ch := d.change("Edit " + string(e.Type))
	d.mu.Unlock()

	d.notify(ch)
	return nil
}

// Undo removes the last edit and rebuilds. It reports false when there is
// nothing to undo.
func (d *Document) Undo() bool {
	d.mu.Lock()
	if len(d.edits) == 0 {
		d.mu.Unlock()
		return false
	}
	last := d.edits[len(d.edits)-1]
	d.edits = d.edits[:len(d.edits)-1]
	d.redo = append(d.redo, last)
	d.replay()
	ch := d.change("Undo")
	d.mu.Unlock()

	d.notify(ch)
	return true
}

// Redo re-applies the most recently undone edit.
func (d *Document) Redo() bool {
	d.mu.Lock()
	if len(d.redo) == 0 {
		d.mu.Unlock()
		return false
	}
	e := d.redo[len(d.redo)-1]
	d.redo = d.redo[:len(d.redo)-1]
	d.edits = append(d.edits, e)
	d.replay()
	ch := d.change("Redo")
	d.mu.Unlock()

	d.notify(ch)
	return true
}

// Save marks the current edit log as the saved baseline. Content is not
// re-derived.
func (d *Document) Save() {
	d.mu.Lock()
	d.savedEdits = append([]Edit(nil), d.edits...)
	d.mu.Unlock()
}

// Revert drops the edits made since the last save.
func (d *Document) Revert() {
	d.mu.Lock()
	d.edits = append([]Edit(nil), d.savedEdits...)
	d.redo = nil
	d.replay()
	ch := d.change("Revert")
	d.mu.Unlock()

	d.notify(ch)
}

// Reload replaces the base with data read from disk and clears the log.
// It fails with ErrDirty when there are unsaved edits.
func (d *Document) Reload(data []byte) error {
	d.mu.Lock()
	if d.dirty() {
		d.mu.Unlock()
		return ErrDirty
	}
	d.base = append([]byte(nil), data...)
	d.edits = nil
	d.savedEdits = nil
	d.redo = nil
	d.replay()
	ch := d.change("Reload")
	d.mu.Unlock()

	d.notify(ch)
	return nil
}

// IsDirty reports whether edits were made since the last save.
func (d *Document) IsDirty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dirty()
}

// dirty is true when the log holds more edits than at the last save.
// Undoing past the save point counts as clean.
func (d *Document) dirty() bool {
	return len(d.edits) > len(d.savedEdits)
}

// Content returns the serialized document.
func (d *Document) Content() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.content...)
}

// Parsed returns the current simplified shape.
func (d *Document) Parsed() Content {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.parsed
}

// Edits returns a copy of the edit log.
func (d *Document) Edits() []Edit {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Edit(nil), d.edits...)
}

// CanUndo reports whether Undo would change anything.
func (d *Document) CanUndo() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.edits) > 0
}

// CanRedo reports whether Redo would change anything.
func (d *Document) CanRedo() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.redo) > 0
}

// Snapshot captures base and logs.
func (d *Document) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Snapshot{
		URI:        d.uri,
		Base:       append([]byte(nil), d.base...),
		Edits:      append([]Edit(nil), d.edits...),
		SavedEdits: append([]Edit(nil), d.savedEdits...),
		Taken:      d.now(),
	}
}

// Restore replaces the document state with s.
func (d *Document) Restore(s Snapshot) {
	d.mu.Lock()
	d.base = append([]byte(nil), s.Base...)
	d.edits = append([]Edit(nil), s.Edits...)
	d.savedEdits = append([]Edit(nil), s.SavedEdits...)
	d.redo = nil
	d.replay()
	ch := d.change("Restore")
	d.mu.Unlock()

	d.notify(ch)
}

// OnChange registers fn and returns a function that removes it.
func (d *Document) OnChange(fn func(Change)) func() {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.listeners[id] = fn
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.listeners, id)
		d.mu.Unlock()
	}
}

// change builds the notification for the current state. Caller holds mu.
func (d *Document) change(label string) Change {
	return Change{
		Label:   label,
		Content: append([]byte(nil), d.content...),
		Edits:   len(d.edits),
		Dirty:   d.dirty(),
	}
}

func (d *Document) notify(ch Change) {
	d.mu.Lock()
	fns := make([]func(Change), 0, len(d.listeners))
	for id := 0; id < d.nextID; id++ {
		if fn, ok := d.listeners[id]; ok {
			fns = append(fns, fn)
		}
	}
	d.mu.Unlock()

	for _, fn := range fns {
		fn(ch)
	}
}
