// Package server hosts .s3 documents over HTTP. Every WebSocket connection
// is one editor panel driven by its own editor.Controller; execution,
// rendering and validation are shared.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/software3/software3"
	"github.com/software3/software3/internal/assets"
	"github.com/software3/software3/internal/cache"
	"github.com/software3/software3/internal/config"
	"github.com/software3/software3/internal/editor"
	"github.com/software3/software3/internal/exec"
	"github.com/software3/software3/internal/host"
	"github.com/software3/software3/internal/logging"
	"github.com/software3/software3/internal/render"
	"github.com/software3/software3/internal/store"
)

// Document kinds reported by DocInfo.
const (
	KindDocument = "document" // multi-block document
	KindContent  = "content"  // simplified instructions and code
)

// DocInfo describes a discovered document.
type DocInfo struct {
	Path   string `json:"path"` // slash-separated, relative to the root
	Title  string `json:"title"`
	Kind   string `json:"kind"`
	Blocks int    `json:"blocks"`
}

// Executor runs code for every panel of the server.
type Executor interface {
	editor.Executor
	Dispose()
}

// Server is the document server.
type Server struct {
	rootDir  string
	cfg      *config.Config
	base     zerolog.Logger
	log      zerolog.Logger
	fs       *host.DirFS
	parser   *software3.Parser
	renderer *render.Renderer
	executor Executor
	gen      editor.Generator
	backups  *store.BackupStore
	exports  *cache.MemoryCache

	ctx     context.Context
	cancel  context.CancelFunc
	handler http.Handler

	mu   sync.RWMutex
	docs []DocInfo

	panelMu sync.RWMutex
	panels  map[string]*wsPanel

	watcher *Watcher
}

// Option configures a Server.
type Option func(*Server)

// WithExecutor replaces the execution handler.
func WithExecutor(e Executor) Option {
	return func(s *Server) {
		s.executor = e
	}
}

// WithGenerator enables AI code generation for panels.
func WithGenerator(g editor.Generator) Option {
	return func(s *Server) {
		s.gen = g
	}
}

// WithBackups enables backups of unsaved edits when a panel disconnects.
func WithBackups(b *store.BackupStore) Option {
	return func(s *Server) {
		s.backups = b
	}
}

// New creates a server for rootDir. Call Discover before serving.
func New(rootDir string, cfg *config.Config, log zerolog.Logger, opts ...Option) (*Server, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := isDir(rootDir); err != nil {
		return nil, err
	}
	fsys, err := host.NewDirFS(rootDir)
	if err != nil {
		return nil, err
	}
	rootDir = fsys.Root()
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		rootDir:  rootDir,
		cfg:      cfg,
		base:     log,
		log:      logging.Component(log, "server"),
		fs:       fsys,
		parser:   software3.NewParser(append(cfg.Parser.Options(), software3.WithStrict(false))...),
		renderer: render.New(log),
		exports:  cache.NewMemoryCache(time.Minute),
		ctx:      ctx,
		cancel:   cancel,
		panels:   make(map[string]*wsPanel),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.executor == nil {
		s.executor = exec.New(cfg.Execution, nil, log, exec.WithWorkspace(rootDir))
	}
	s.handler = s.buildHandler()
	return s, nil
}

func (s *Server) buildHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.serveIndex)
	mux.HandleFunc("GET /edit/{path...}", s.serveEditor)
	mux.HandleFunc("GET /ws", s.serveWebSocket)
	mux.Handle("GET /assets/", http.StripPrefix("/assets/", http.FileServer(http.FS(assets.ClientFS()))))
	mux.HandleFunc("GET /api/docs", s.handleDocs)
	mux.HandleFunc("GET /api/validate", s.handleValidate)
	mux.HandleFunc("POST /api/validate", s.handleValidate)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/backups", s.handleBackups)
	mux.HandleFunc("DELETE /api/backups/{id}", s.handleDeleteBackup)
	mux.HandleFunc("GET /export", s.handleExport)

	limiter := newClientLimiter(s.cfg.Server.RateLimit, logging.Component(s.base, "ratelimit"))
	go limiter.run(s.ctx)

	var h http.Handler = mux
	h = compressionMiddleware(h)
	h = limiter.middleware(h)
	h = SecurityHeadersMiddleware()(h)
	h = LoggingMiddleware(s.log)(h)
	return h
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Discover scans the root directory for .s3 files.
func (s *Server) Discover() error {
	var docs []DocInfo
	err := filepath.WalkDir(s.rootDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != s.rootDir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(p) != ".s3" {
			return nil
		}

		rel, err := filepath.Rel(s.rootDir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		info, err := s.describe(rel)
		if err != nil {
			s.log.Warn().Err(err).Str("file", rel).Msg("Skipping unreadable document")
			return nil
		}
		docs = append(docs, info)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to discover documents: %w", err)
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].Path < docs[j].Path })

	s.mu.Lock()
	s.docs = docs
	s.mu.Unlock()

	s.log.Info().Int("documents", len(docs)).Str("root", s.rootDir).Msg("Discovered documents")
	return nil
}

// describe reads rel and summarizes it.
func (s *Server) describe(rel string) (DocInfo, error) {
	data, err := s.fs.ReadFile(rel)
	if err != nil {
		return DocInfo{}, err
	}
	if editor.IsContent(data) {
		return DocInfo{Path: rel, Title: contentTitle(rel, editor.ParseContent(data)), Kind: KindContent, Blocks: 1}, nil
	}

	var head struct {
		Title  string            `json:"title"`
		Blocks []json.RawMessage `json:"blocks"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return DocInfo{}, err
	}
	title := head.Title
	if title == "" {
		title = baseName(rel)
	}
	return DocInfo{Path: rel, Title: title, Kind: KindDocument, Blocks: len(head.Blocks)}, nil
}

func baseName(rel string) string {
	return strings.TrimSuffix(path.Base(rel), path.Ext(rel))
}

// contentTitle is the first line of the instructions, without heading
// markers, or the file name.
func contentTitle(rel string, c editor.Content) string {
	line, _, _ := strings.Cut(strings.TrimSpace(c.Instructions), "\n")
	line = strings.TrimSpace(strings.TrimLeft(line, "# "))
	if line == "" {
		return baseName(rel)
	}
	if len(line) > 80 {
		line = line[:77] + "..."
	}
	return line
}

// Documents returns the discovered documents.
func (s *Server) Documents() []DocInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]DocInfo(nil), s.docs...)
}

// known reports whether rel was discovered.
func (s *Server) known(rel string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.docs {
		if d.Path == rel {
			return true
		}
	}
	return false
}

var errUnknownDocument = errors.New("document not found")

// docParam reads and checks the doc query parameter.
func (s *Server) docParam(r *http.Request) (string, error) {
	rel := strings.TrimPrefix(path.Clean("/"+r.URL.Query().Get("doc")), "/")
	if rel == "" || !s.known(rel) {
		return "", errUnknownDocument
	}
	return rel, nil
}

// loadDocument parses rel into a full document. Simplified documents become
// a single block.
func (s *Server) loadDocument(rel string) (*software3.Document, software3.ValidationResult, error) {
	data, err := s.fs.ReadFile(rel)
	if err != nil {
		return nil, software3.ValidationResult{}, err
	}
	return s.parseDocument(rel, data)
}

func (s *Server) parseDocument(name string, data []byte) (*software3.Document, software3.ValidationResult, error) {
	if editor.IsContent(data) {
		doc := editor.ParseContent(data).Document(baseName(name))
		return doc, s.parser.Validate(doc), nil
	}
	return s.parser.ParseWithReport(data)
}

// EnableWatch starts reloading open panels when their file changes on disk.
func (s *Server) EnableWatch() error {
	w, err := NewWatcher(s.rootDir, s.fileChanged, logging.Component(s.base, "watch"))
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	s.watcher = w
	s.watcher.Start()
	s.log.Info().Str("root", s.rootDir).Msg("File watcher started")
	return nil
}

// fileChanged rediscovers documents and reloads clean panels showing rel.
func (s *Server) fileChanged(rel string) {
	s.exports.InvalidatePrefix(exportPrefix(rel))
	if err := s.Discover(); err != nil {
		s.log.Warn().Err(err).Msg("Rediscovery failed")
	}

	data, err := s.fs.ReadFile(rel)
	if err != nil {
		s.log.Debug().Err(err).Str("file", rel).Msg("Changed file is unreadable")
		return
	}

	for _, p := range s.panelsFor(rel) {
		doc := p.ctrl.Document()
		if doc == nil || string(doc.Content()) == string(data) {
			continue
		}
		reloaded, err := p.ctrl.Reload(data)
		switch {
		case err != nil:
			p.log.Debug().Err(err).Msg("Reload skipped")
		case reloaded:
			p.log.Info().Str("file", rel).Msg("Reloaded from disk")
		default:
			p.log.Info().Str("file", rel).Msg("File changed on disk, keeping unsaved edits")
		}
	}
}

// StopWatch stops the file watcher if it's running.
func (s *Server) StopWatch() error {
	if s.watcher != nil {
		return s.watcher.Stop()
	}
	return nil
}

// ListenAndServe serves on the configured address until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.Addr(),
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", "http://"+srv.Addr).Msg("Serving documents")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// Close disposes every panel, stops the watcher and releases execution
// resources.
func (s *Server) Close() error {
	err := s.StopWatch()

	s.panelMu.Lock()
	panels := make([]*wsPanel, 0, len(s.panels))
	for _, p := range s.panels {
		panels = append(panels, p)
	}
	s.panelMu.Unlock()

	for _, p := range panels {
		s.backupOnClose(p)
		p.close()
	}
	s.executor.Dispose()
	s.exports.Stop()
	s.cancel()
	return err
}

func (s *Server) serveIndex(w http.ResponseWriter, r *http.Request) {
	var sb strings.Builder
	sb.WriteString(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>Software 3 documents</title>
<link rel="stylesheet" href="/assets/editor.css">
</head>
<body>
<header><h1>Documents</h1></header>
<main style="display:block">
<ul class="s3-documents">
`)
	for _, d := range s.Documents() {
		p := html.EscapeString(d.Path)
		q := html.EscapeString(url.QueryEscape(d.Path))
		fmt.Fprintf(&sb, `<li><a href="/edit/%s">%s</a> <small>%s</small>`, p, html.EscapeString(d.Title), p)
		if d.Kind == KindDocument {
			fmt.Fprintf(&sb, ` <small>(%d blocks)</small>`, d.Blocks)
		}
		fmt.Fprintf(&sb, ` <a href="/export?doc=%s">html</a> <a href="/export?doc=%s&amp;format=markdown">md</a></li>
`, q, q)
	}
	sb.WriteString("</ul>\n</main>\n</body>\n</html>\n")

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(sb.String()))
}

func (s *Server) serveEditor(w http.ResponseWriter, r *http.Request) {
	rel := strings.TrimPrefix(path.Clean("/"+r.PathValue("path")), "/")
	if !s.known(rel) {
		http.NotFound(w, r)
		return
	}
	backup := r.URL.Query().Get("backup")

	page := fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>%s</title>
<link rel="stylesheet" href="/assets/editor.css">
</head>
<body>
<div id="s3-editor" data-doc="%s" data-backup="%s">
<header>
<h1 id="title">%s</h1>
<select id="language">
<option value="python">Python</option>
<option value="javascript">JavaScript</option>
<option value="typescript">TypeScript</option>
<option value="html">HTML</option>
<option value="css">CSS</option>
</select>
<button id="generate">Generate</button>
<button id="run">Run</button>
<button id="stop" disabled>Stop</button>
<button id="undo">Undo</button>
<button id="redo">Redo</button>
<button id="revert">Revert</button>
<button id="save">Save</button>
</header>
<main>
<div>
<label for="instructions">Instructions</label>
<textarea id="instructions"></textarea>
<label for="requirements">Requirements</label>
<textarea id="requirements" rows="3" placeholder="package==version"></textarea>
</div>
<div>
<label for="code">Code</label>
<textarea id="code" spellcheck="false"></textarea>
</div>
<div id="output"></div>
</main>
</div>
<script src="/assets/editor.js"></script>
</body>
</html>
`, html.EscapeString(rel), html.EscapeString(rel), html.EscapeString(backup), html.EscapeString(rel))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(page))
}

// absPath resolves rel for logging and the executor.
func (s *Server) absPath(rel string) string {
	if p, err := s.fs.Resolve(rel); err == nil {
		return p
	}
	return filepath.Join(s.rootDir, filepath.FromSlash(rel))
}

// isDir fails unless dir is an existing directory.
func isDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	return nil
}
