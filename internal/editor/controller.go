package editor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/software3/software3/internal/ai"
	"github.com/software3/software3/internal/exec"
	"github.com/software3/software3/internal/host"
	"github.com/software3/software3/internal/store"
)

// State is the lifecycle state of a Controller.
type State int

const (
	Closed State = iota
	Opening
	Ready
	Dirty
	Saving
	Reverting
	Disposed
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Opening:
		return "opening"
	case Ready:
		return "ready"
	case Dirty:
		return "dirty"
	case Saving:
		return "saving"
	case Reverting:
		return "reverting"
	case Disposed:
		return "disposed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var (
	// ErrNotReady is returned for requests made before Open finished.
	ErrNotReady = errors.New("document is not open")
	// ErrDisposed is returned for requests made after Dispose.
	ErrDisposed = errors.New("controller is disposed")
	// ErrUnknownMessage is returned for messages the controller does not handle.
	ErrUnknownMessage = errors.New("unknown message type")
	// ErrNoGenerator is returned for generate requests when no AI client is configured.
	ErrNoGenerator = errors.New("AI generation is not configured")
	// ErrNoBackups is returned when no backup store is configured.
	ErrNoBackups = errors.New("backups are not configured")
)

// Executor runs code for a panel.
type Executor interface {
	Execute(ctx context.Context, p host.Panel, req exec.Request)
	Stop(panelID string)
}

// Generator streams generated code.
type Generator interface {
	Generate(ctx context.Context, prompt ai.Prompt, onChunk func(string)) (ai.Result, error)
}

// Backups persists document snapshots.
type Backups interface {
	Save(ctx context.Context, b store.Backup) (store.Backup, error)
	Load(ctx context.Context, id string) (store.Backup, error)
}

// Controller drives one panel showing one document.
type Controller struct {
	uri      string
	path     string
	fs       host.FileSystem
	panel    host.Panel
	executor Executor
	gen      Generator
	backups  Backups
	log      zerolog.Logger
	docOpts  []DocumentOption

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	state       State
	doc         *Document
	unsubscribe func()
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithGenerator enables generate messages.
func WithGenerator(g Generator) ControllerOption {
	return func(c *Controller) {
		c.gen = g
	}
}

// WithBackups enables Backup and OpenBackup.
func WithBackups(b Backups) ControllerOption {
	return func(c *Controller) {
		c.backups = b
	}
}

// WithDocumentPath sets the path handed to the executor, when it differs
// from the uri used with the file system.
func WithDocumentPath(path string) ControllerOption {
	return func(c *Controller) {
		c.path = path
	}
}

// WithDocumentOptions passes options to the underlying Document.
func WithDocumentOptions(opts ...DocumentOption) ControllerOption {
	return func(c *Controller) {
		c.docOpts = append(c.docOpts, opts...)
	}
}

// NewController creates a closed controller for uri shown in panel.
func NewController(uri string, panel host.Panel, fs host.FileSystem, executor Executor, log zerolog.Logger, opts ...ControllerOption) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		uri:      uri,
		path:     uri,
		fs:       fs,
		panel:    panel,
		executor: executor,
		log:      log.With().Str("component", "editor").Str("panel", panel.ID()).Logger(),
		ctx:      ctx,
		cancel:   cancel,
		state:    Closed,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Document returns the open document, or nil before Open.
func (c *Controller) Document() *Document {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doc
}

// URI returns the document location.
func (c *Controller) URI() string { return c.uri }

// Panel returns the panel this controller drives.
func (c *Controller) Panel() host.Panel { return c.panel }

// Open reads the document and moves to Ready.
func (c *Controller) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin(Opening, Closed); err != nil {
		return err
	}

	data, err := c.fs.ReadFile(c.uri)
	if err != nil {
		c.state = Closed
		return fmt.Errorf("failed to open %s: %w", c.uri, err)
	}
	c.attach(NewDocument(c.uri, data, c.docOpts...))
	c.log.Debug().Str("uri", c.uri).Msg("Opened document")
	return nil
}

// OpenBackup restores the backup id and moves to Ready or Dirty.
func (c *Controller) OpenBackup(ctx context.Context, id string) error {
	if c.backups == nil {
		return ErrNoBackups
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin(Opening, Closed); err != nil {
		return err
	}

	b, err := c.backups.Load(ctx, id)
	if err != nil {
		c.state = Closed
		return fmt.Errorf("failed to load backup %s: %w", id, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(b.Data, &snap); err != nil {
		c.state = Closed
		return fmt.Errorf("failed to decode backup %s: %w", id, err)
	}

	doc := NewDocument(c.uri, snap.Base, c.docOpts...)
	doc.Restore(snap)
	c.attach(doc)
	c.log.Info().Str("uri", c.uri).Str("backup", id).Msg("Restored backup")
	return nil
}

// attach installs doc and the listener that mirrors changes to the panel.
// Caller holds mu.
func (c *Controller) attach(doc *Document) {
	c.doc = doc
	c.unsubscribe = doc.OnChange(func(ch Change) {
		msg := host.Update(string(ch.Content), ch.Dirty)
		if ch.Label == "Reload" {
			msg = host.Reload(string(ch.Content))
		}
		c.post(msg)
	})
	c.settle()
}

// begin checks the current state against allowed and enters next.
// Caller holds mu.
func (c *Controller) begin(next State, allowed ...State) error {
	for _, s := range allowed {
		if c.state == s {
			c.state = next
			return nil
		}
	}
	return c.stateErr()
}

func (c *Controller) stateErr() error {
	switch c.state {
	case Disposed:
		return ErrDisposed
	case Closed, Opening:
		return ErrNotReady
	default:
		return fmt.Errorf("controller is %s", c.state)
	}
}

// settle moves to Ready or Dirty from the document. Caller holds mu.
func (c *Controller) settle() {
	if c.doc.IsDirty() {
		c.state = Dirty
	} else {
		c.state = Ready
	}
}

// ready fails unless the controller is Ready or Dirty. Caller holds mu.
func (c *Controller) ready() error {
	if c.state == Ready || c.state == Dirty {
		return nil
	}
	return c.stateErr()
}

// Handle dispatches one inbound panel message.
func (c *Controller) Handle(ctx context.Context, msg host.Message) error {
	switch msg.Type {
	case host.TypeEdit:
		return c.Edit(EditType(msg.EditType), msg.Content)
	case host.TypeSave:
		return c.Save(ctx)
	case host.TypeExecute:
		return c.Execute(msg)
	case host.TypeStopExecution:
		return c.StopExecution()
	case host.TypeUndo:
		return c.Undo()
	case host.TypeRedo:
		return c.Redo()
	case host.TypeRevert:
		return c.Revert()
	case host.TypeGenerate:
		return c.Generate(msg.Prompt, msg.Language)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMessage, msg.Type)
	}
}

// Edit applies one edit.
func (c *Controller) Edit(t EditType, content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ready(); err != nil {
		return err
	}
	if err := c.doc.MakeEdit(Edit{Type: t, Content: content}); err != nil {
		return err
	}
	c.settle()
	return nil
}

// Undo reverts the last edit, if any.
func (c *Controller) Undo() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ready(); err != nil {
		return err
	}
	c.doc.Undo()
	c.settle()
	return nil
}

// Redo re-applies the last undone edit, if any.
func (c *Controller) Redo() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ready(); err != nil {
		return err
	}
	c.doc.Redo()
	c.settle()
	return nil
}

// Save writes the content and marks it as the saved baseline.
func (c *Controller) Save(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.state
	if err := c.begin(Saving, Ready, Dirty); err != nil {
		return err
	}

	if err := c.fs.WriteFile(c.uri, c.doc.Content()); err != nil {
		c.state = prev
		return fmt.Errorf("failed to save %s: %w", c.uri, err)
	}
	c.doc.Save()
	c.settle()
	c.log.Debug().Str("uri", c.uri).Msg("Saved document")
	c.post(host.Saved())
	return nil
}

// Revert drops unsaved edits.
func (c *Controller) Revert() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin(Reverting, Ready, Dirty); err != nil {
		return err
	}
	c.doc.Revert()
	c.settle()
	return nil
}

// Reload replaces a clean document with data read from disk. It reports
// false when the document has unsaved edits and was left alone.
func (c *Controller) Reload(data []byte) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ready(); err != nil {
		return false, err
	}
	if err := c.doc.Reload(data); err != nil {
		if errors.Is(err, ErrDirty) {
			return false, nil
		}
		return false, err
	}
	c.settle()
	return true, nil
}

// Execute runs code in the background. Code and language default to the
// document's. Execution does not change the dirty state.
func (c *Controller) Execute(msg host.Message) error {
	c.mu.Lock()
	if err := c.ready(); err != nil {
		c.mu.Unlock()
		return err
	}
	parsed := c.doc.Parsed()
	c.wg.Add(1)
	c.mu.Unlock()

	req := exec.Request{
		Code:         msg.Code,
		Language:     msg.Language,
		DocumentPath: c.path,
		Requirements: msg.Requirements,
	}
	if req.Code == "" {
		req.Code = parsed.Code
	}
	if req.Language == "" {
		req.Language = parsed.Language
	}

	go func() {
		defer c.wg.Done()
		c.executor.Execute(c.ctx, c.panel, req)
	}()
	return nil
}

// StopExecution stops whatever the panel runs and reports the stop.
func (c *Controller) StopExecution() error {
	c.mu.Lock()
	if c.state == Disposed {
		c.mu.Unlock()
		return ErrDisposed
	}
	c.mu.Unlock()

	c.executor.Stop(c.panel.ID())
	c.post(host.Output("Execution stopped.", host.OutputInfo))
	c.post(host.ExecutionComplete())
	return nil
}

// Generate streams generated code for prompt to the panel in the background.
func (c *Controller) Generate(prompt, language string) error {
	if c.gen == nil {
		c.post(host.Error(ErrNoGenerator.Error()))
		return ErrNoGenerator
	}

	c.mu.Lock()
	if err := c.ready(); err != nil {
		c.mu.Unlock()
		return err
	}
	if strings.TrimSpace(prompt) == "" {
		c.mu.Unlock()
		c.post(host.Error("prompt is empty"))
		return nil
	}
	if language == "" {
		language = c.doc.Parsed().Language
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		res, err := c.gen.Generate(c.ctx, ai.Prompt{Text: prompt, Language: language}, func(chunk string) {
			c.post(host.GenerationChunk(chunk))
		})
		if err != nil {
			if c.ctx.Err() == nil {
				c.log.Warn().Err(err).Msg("Generation failed")
				c.post(host.Error("generation failed: " + err.Error()))
			}
			return
		}
		c.post(host.GenerationComplete(res.Code, res.Language, res.Requirements))
	}()
	return nil
}

// Backup stores a snapshot of the document and returns the backup id.
func (c *Controller) Backup(ctx context.Context) (string, error) {
	if c.backups == nil {
		return "", ErrNoBackups
	}

	c.mu.Lock()
	if err := c.ready(); err != nil {
		c.mu.Unlock()
		return "", err
	}
	snap := c.doc.Snapshot()
	c.mu.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}
	b, err := c.backups.Save(ctx, store.Backup{URI: c.uri, Data: data, Created: snap.Taken})
	if err != nil {
		return "", fmt.Errorf("failed to save backup: %w", err)
	}
	c.log.Debug().Str("uri", c.uri).Str("backup", b.ID).Msg("Backed up document")
	return b.ID, nil
}

// Dispose stops execution for the panel, drops listeners and waits for
// background work to finish. Later calls are no-ops.
func (c *Controller) Dispose() {
	c.mu.Lock()
	if c.state == Disposed {
		c.mu.Unlock()
		return
	}
	c.state = Disposed
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	c.mu.Unlock()

	c.cancel()
	c.executor.Stop(c.panel.ID())
	c.wg.Wait()
	c.log.Debug().Str("uri", c.uri).Msg("Disposed")
}

func (c *Controller) post(msg host.Message) {
	if err := c.panel.PostMessage(msg); err != nil {
		c.log.Debug().Err(err).Str("type", msg.Type).Msg("Failed to post message")
	}
}
