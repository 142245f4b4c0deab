// Package exec runs the code of a document for a panel: HTML and CSS are
// served by a local preview server, JavaScript, Python and TypeScript run
// as child processes whose output is streamed back to the panel.
package exec

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/software3/software3/internal/config"
	"github.com/software3/software3/internal/host"
	"github.com/software3/software3/internal/logging"
)

// NoOutput is reported when a script printed nothing at all.
const NoOutput = "(Program completed with no output)"

// errStopped marks a run that ended because the panel stopped it.
var errStopped = errors.New("execution stopped")

// Request is one execute message from a panel.
type Request struct {
	Code         string
	Language     string
	DocumentPath string // absolute path of the .s3 file, if known
	Requirements string // pip requirements for Python runs
}

// strategy runs one language. A standing strategy leaves a server running
// and does not end with a terminal message.
type strategy struct {
	run      func(h *Handler, ctx context.Context, p host.Panel, req Request) error
	standing bool
}

var strategies = map[string]strategy{
	"html":       {run: (*Handler).runHTML, standing: true},
	"htm":        {run: (*Handler).runHTML, standing: true},
	"css":        {run: (*Handler).runCSS, standing: true},
	"javascript": {run: (*Handler).runJavaScript},
	"js":         {run: (*Handler).runJavaScript},
	"python":     {run: (*Handler).runPython},
	"py":         {run: (*Handler).runPython},
	"typescript": {run: (*Handler).runTypeScript},
	"ts":         {run: (*Handler).runTypeScript},
}

var unsupported = strategy{run: (*Handler).runUnsupported}

// Supported reports whether language can be executed.
func Supported(language string) bool {
	_, ok := strategies[strings.ToLower(language)]
	return ok
}

// panelState is what a panel currently owns. Each field is zero when unused.
type panelState struct {
	tempFile string
	cancel   context.CancelFunc
	run      uint64 // identifies the run that owns cancel
	server   *http.Server
}

// Handler owns the temp files, processes and preview servers of every panel.
type Handler struct {
	cfg       config.ExecutionConfig
	runner    host.Runner
	log       zerolog.Logger
	workspace string
	now       func() time.Time

	mu     sync.Mutex
	panels map[string]*panelState
	runs   uint64

	venvLocks keyedMutex
}

// Option configures a Handler.
type Option func(*Handler)

// WithWorkspace places HTML previews under dir instead of the temp directory.
func WithWorkspace(dir string) Option {
	return func(h *Handler) {
		h.workspace = dir
	}
}

// WithClock sets the time source used to name and date preview files.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		h.now = now
	}
}

// New creates a Handler. A nil runner runs commands on the local machine.
func New(cfg config.ExecutionConfig, runner host.Runner, log zerolog.Logger, opts ...Option) *Handler {
	if runner == nil {
		runner = host.ExecRunner{}
	}
	h := &Handler{
		cfg:    cfg,
		runner: runner,
		log:    logging.Component(log, "exec"),
		now:    time.Now,
		panels: make(map[string]*panelState),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Execute runs req for panel p. Scripts block until they finish and always
// end with exactly one execution-complete or execution-error message, unless
// the run was stopped. HTML and CSS return once the preview server is up.
//
// Starting a run releases the server and process the panel owned before.
func (h *Handler) Execute(ctx context.Context, p host.Panel, req Request) {
	id := p.ID()
	lang := strings.ToLower(strings.TrimSpace(req.Language))
	s, ok := strategies[lang]
	if !ok {
		s = unsupported
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if s.standing {
		h.begin(id, nil)
	} else {
		run := h.begin(id, cancel)
		defer h.clearCancel(id, run)
	}

	h.log.Debug().Str("panel", id).Str("language", lang).Msg("Executing")

	err := s.run(h, runCtx, p, req)
	switch {
	case errors.Is(err, errStopped):
		h.log.Debug().Str("panel", id).Msg("Execution stopped")
	case err != nil:
		h.log.Warn().Err(err).Str("panel", id).Str("language", lang).Msg("Execution failed")
		h.post(p, host.ExecutionError(err.Error()))
	case !s.standing:
		h.post(p, host.ExecutionComplete())
	}
}

func (h *Handler) runUnsupported(_ context.Context, p host.Panel, req Request) error {
	h.post(p, host.Output("Language '"+req.Language+"' is not supported for execution yet.", host.OutputError))
	return nil
}

// Stop releases everything panelID owns: the preview server, the running
// process and the temp file. It is safe to call at any time.
func (h *Handler) Stop(panelID string) {
	h.mu.Lock()
	st, ok := h.panels[panelID]
	delete(h.panels, panelID)
	h.mu.Unlock()
	if !ok {
		return
	}

	h.shutdown(panelID, st)
	if st.tempFile != "" {
		if err := os.Remove(st.tempFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			h.log.Warn().Err(err).Str("file", st.tempFile).Msg("Failed to remove temp file")
		}
	}
}

// Dispose stops every tracked panel.
func (h *Handler) Dispose() {
	h.mu.Lock()
	ids := make([]string, 0, len(h.panels))
	for id := range h.panels {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	for _, id := range ids {
		h.Stop(id)
	}
}

// Running reports whether panelID owns a process or a server.
func (h *Handler) Running(panelID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.panels[panelID]
	return ok && (st.cancel != nil || st.server != nil)
}

// begin stops the server and process panelID owned before, keeping its
// files. A non-nil cancel becomes the panel's running process within the
// same lock, so a panel never has more than one registered run. begin
// returns the run number that owns cancel.
func (h *Handler) begin(panelID string, cancel context.CancelFunc) uint64 {
	var run uint64
	h.mu.Lock()
	st := h.state(panelID)
	old := *st
	st.cancel = nil
	st.server = nil
	if cancel != nil {
		h.runs++
		run = h.runs
		st.cancel = cancel
		st.run = run
	}
	h.mu.Unlock()

	h.shutdown(panelID, &old)
	return run
}

func (h *Handler) shutdown(panelID string, st *panelState) {
	if st.cancel != nil {
		st.cancel()
	}
	if st.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := st.server.Shutdown(ctx); err != nil {
			h.log.Warn().Err(err).Str("panel", panelID).Msg("Preview server shutdown")
			_ = st.server.Close()
		}
	}
}

func (h *Handler) state(panelID string) *panelState {
	st, ok := h.panels[panelID]
	if !ok {
		st = &panelState{}
		h.panels[panelID] = st
	}
	return st
}

func (h *Handler) clearCancel(panelID string, run uint64) {
	h.mu.Lock()
	if st, ok := h.panels[panelID]; ok && st.run == run {
		st.cancel = nil
	}
	h.mu.Unlock()
}

func (h *Handler) setTempFile(panelID, path string) {
	h.mu.Lock()
	h.state(panelID).tempFile = path
	h.mu.Unlock()
}

// removeTempFile deletes path and forgets it if the panel still tracks it.
func (h *Handler) removeTempFile(panelID, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		h.log.Warn().Err(err).Str("file", path).Msg("Failed to remove temp file")
	}
	h.mu.Lock()
	if st, ok := h.panels[panelID]; ok && st.tempFile == path {
		st.tempFile = ""
	}
	h.mu.Unlock()
}

func (h *Handler) post(p host.Panel, msg host.Message) {
	if err := p.PostMessage(msg); err != nil {
		h.log.Debug().Err(err).Str("panel", p.ID()).Str("type", msg.Type).Msg("Failed to post message")
	}
}

// scratchDir is where script files are written.
func (h *Handler) scratchDir() (string, error) {
	dir := filepath.Join(h.cfg.GetTempDir(), "software3")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}

// previewDir is where HTML previews are written.
func (h *Handler) previewDir() string {
	if h.workspace != "" {
		return filepath.Join(h.workspace, h.cfg.GetPreviewDir())
	}
	return filepath.Join(h.cfg.GetTempDir(), "software3", "preview")
}
