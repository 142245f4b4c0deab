package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/software3/software3/internal/config"
	"github.com/software3/software3/internal/editor"
	"github.com/software3/software3/internal/exec"
	"github.com/software3/software3/internal/host"
)

const fullDoc = `{
  "version": "1.0",
  "title": "Sample",
  "blocks": [
    {"id": "intro", "text": "Say <script>alert(1)</script> hi", "code": "console.log('<b>')", "language": "javascript",
     "metadata": {"tags": ["basics"], "complexity": "beginner"}},
    {"id": "second", "text": "Then **print**", "code": "print(2)\nprint(3)", "language": "python"}
  ]
}`

const contentDoc = `{
  "instructions": "# Fetch the weather\nCall the API.",
  "code": "print('sunny')",
  "language": "python"
}`

// fakeExecutor records requests and answers every run with one output line.
type fakeExecutor struct {
	mu       sync.Mutex
	requests []exec.Request
	stopped  []string
	disposed bool
}

func (f *fakeExecutor) Execute(_ context.Context, p host.Panel, req exec.Request) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	_ = p.PostMessage(host.Output("ran "+req.Language, host.OutputInfo))
	_ = p.PostMessage(host.ExecutionComplete())
}

func (f *fakeExecutor) Stop(panelID string) {
	f.mu.Lock()
	f.stopped = append(f.stopped, panelID)
	f.mu.Unlock()
}

func (f *fakeExecutor) Dispose() {
	f.mu.Lock()
	f.disposed = true
	f.mu.Unlock()
}

func (f *fakeExecutor) Requests() []exec.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]exec.Request(nil), f.requests...)
}

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		fullPath := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
			t.Fatalf("Failed to create directory: %v", err)
		}
		if err := os.WriteFile(fullPath, []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write file: %v", err)
		}
	}
}

// newTestServer writes files into a temp dir and returns a discovered server.
func newTestServer(t *testing.T, files map[string]string, opts ...Option) (*Server, string) {
	t.Helper()
	dir := t.TempDir()
	writeFiles(t, dir, files)

	opts = append([]Option{WithExecutor(&fakeExecutor{})}, opts...)
	srv, err := New(dir, config.DefaultConfig(), zerolog.Nop(), opts...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })

	if err := srv.Discover(); err != nil {
		t.Fatalf("Discover() error: %v", err)
	}
	return srv, dir
}

func get(t *testing.T, srv http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func TestNewRejectsMissingDir(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), "missing"), nil, zerolog.Nop()); err == nil {
		t.Error("New() on a missing directory should fail")
	}

	file := filepath.Join(t.TempDir(), "file.s3")
	if err := os.WriteFile(file, []byte(contentDoc), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(file, nil, zerolog.Nop()); err == nil {
		t.Error("New() on a file should fail")
	}
}

func TestServerDiscover(t *testing.T) {
	srv, _ := newTestServer(t, map[string]string{
		"weather.s3":         contentDoc,
		"guides/sample.s3":   fullDoc,
		"notes.txt":          "not a document",
		".hidden/secret.s3":  contentDoc,
		"broken.s3":          "{not json",
		"guides/untitled.s3": `{"version": "1.0", "blocks": []}`,
	})

	docs := srv.Documents()
	if len(docs) != 3 {
		t.Fatalf("Expected 3 documents, got %d", len(docs))
	}

	byPath := make(map[string]DocInfo)
	for _, d := range docs {
		byPath[d.Path] = d
	}

	if d := byPath["weather.s3"]; d.Kind != KindContent || d.Title != "Fetch the weather" || d.Blocks != 1 {
		t.Errorf("weather.s3 = %+v", d)
	}
	if d := byPath["guides/sample.s3"]; d.Kind != KindDocument || d.Title != "Sample" || d.Blocks != 2 {
		t.Errorf("guides/sample.s3 = %+v", d)
	}
	if d := byPath["guides/untitled.s3"]; d.Title != "untitled" {
		t.Errorf("guides/untitled.s3 title = %q, want file name", d.Title)
	}
	if _, ok := byPath[".hidden/secret.s3"]; ok {
		t.Error("Documents in hidden directories should be skipped")
	}

	// Sorted by path
	if docs[0].Path != "guides/sample.s3" || docs[2].Path != "weather.s3" {
		t.Errorf("Documents are not sorted: %v", docs)
	}
}

func TestContentTitle(t *testing.T) {
	tests := []struct {
		instructions string
		want         string
	}{
		{"## Build a form\nwith fields", "Build a form"},
		{"plain first line", "plain first line"},
		{"", "doc"},
		{"   \n\n", "doc"},
		{strings.Repeat("x", 100), strings.Repeat("x", 77) + "..."},
	}
	for _, tt := range tests {
		got := contentTitle("dir/doc.s3", editor.Content{Instructions: tt.instructions})
		if got != tt.want {
			t.Errorf("contentTitle(%q) = %q, want %q", tt.instructions, got, tt.want)
		}
	}
}

func TestServeIndex(t *testing.T) {
	srv, _ := newTestServer(t, map[string]string{
		"weather.s3":       contentDoc,
		"guides/sample.s3": fullDoc,
	})

	w := get(t, srv, "/")
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
	}
	body := w.Body.String()
	for _, want := range []string{
		`href="/edit/weather.s3"`,
		`href="/edit/guides/sample.s3"`,
		`/export?doc=guides%2Fsample.s3&amp;format=markdown`,
		"(2 blocks)",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("Index does not contain %q", want)
		}
	}
	if got := w.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want DENY", got)
	}
}

func TestServeEditor(t *testing.T) {
	srv, _ := newTestServer(t, map[string]string{"weather.s3": contentDoc})

	w := get(t, srv, "/edit/weather.s3?backup=abc")
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
	}
	body := w.Body.String()
	if !strings.Contains(body, `data-doc="weather.s3"`) {
		t.Error("Editor page does not name the document")
	}
	if !strings.Contains(body, `data-backup="abc"`) {
		t.Error("Editor page does not carry the backup id")
	}
	if !strings.Contains(body, `/assets/editor.js`) {
		t.Error("Editor page does not load the client script")
	}

	if w := get(t, srv, "/edit/missing.s3"); w.Code != http.StatusNotFound {
		t.Errorf("Unknown document status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestServeAssets(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	w := get(t, srv, "/assets/editor.js")
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "WebSocket") {
		t.Error("editor.js does not open a WebSocket")
	}
}

func TestAPIDocs(t *testing.T) {
	srv, _ := newTestServer(t, map[string]string{"weather.s3": contentDoc})

	w := get(t, srv, "/api/docs")
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
	}
	var docs []DocInfo
	if err := json.Unmarshal(w.Body.Bytes(), &docs); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(docs) != 1 || docs[0].Path != "weather.s3" {
		t.Errorf("docs = %+v", docs)
	}

	empty, _ := newTestServer(t, nil)
	if got := strings.TrimSpace(get(t, empty, "/api/docs").Body.String()); got != "[]" {
		t.Errorf("Empty listing = %s, want []", got)
	}
}

func TestAPIValidate(t *testing.T) {
	srv, _ := newTestServer(t, map[string]string{
		"sample.s3":  fullDoc,
		"weather.s3": contentDoc,
		"empty.s3":   `{"version": "1.0", "title": "Empty", "blocks": []}`,
	})

	decode := func(t *testing.T, w *httptest.ResponseRecorder) validationResponse {
		t.Helper()
		if w.Code != http.StatusOK {
			t.Fatalf("Status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
		}
		var resp validationResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		return resp
	}

	t.Run("valid document", func(t *testing.T) {
		if resp := decode(t, get(t, srv, "/api/validate?doc=sample.s3")); !resp.Valid {
			t.Errorf("Expected valid, got errors %v", resp.Errors)
		}
	})

	t.Run("content document", func(t *testing.T) {
		if resp := decode(t, get(t, srv, "/api/validate?doc=weather.s3")); !resp.Valid {
			t.Errorf("Expected valid, got errors %v", resp.Errors)
		}
	})

	t.Run("invalid document", func(t *testing.T) {
		resp := decode(t, get(t, srv, "/api/validate?doc=empty.s3"))
		if resp.Valid || len(resp.Errors) == 0 {
			t.Fatalf("Expected errors, got %+v", resp)
		}
		if resp.Errors[0].Code != "empty_blocks_array" {
			t.Errorf("Error code = %q, want empty_blocks_array", resp.Errors[0].Code)
		}
	})

	t.Run("posted syntax error", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/validate", strings.NewReader("{not json"))
		w := httptest.NewRecorder()
		srv.ServeHTTP(w, req)
		resp := decode(t, w)
		if resp.Valid || !strings.Contains(resp.ParseError, "Invalid JSON") {
			t.Errorf("Expected a parse error, got %+v", resp)
		}
	})

	t.Run("posted document", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/validate", strings.NewReader(fullDoc))
		w := httptest.NewRecorder()
		srv.ServeHTTP(w, req)
		if resp := decode(t, w); !resp.Valid {
			t.Errorf("Expected valid, got errors %v", resp.Errors)
		}
	})

	t.Run("unknown document", func(t *testing.T) {
		if w := get(t, srv, "/api/validate?doc=missing.s3"); w.Code != http.StatusNotFound {
			t.Errorf("Status = %d, want %d", w.Code, http.StatusNotFound)
		}
	})
}

func TestAPIStats(t *testing.T) {
	srv, _ := newTestServer(t, map[string]string{"sample.s3": fullDoc})

	w := get(t, srv, "/api/stats?doc=sample.s3")
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
	}
	var stats struct {
		TotalBlocks int `json:"totalBlocks"`
		Languages   []struct {
			Language   string `json:"language"`
			BlockCount int    `json:"blockCount"`
		} `json:"languages"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if stats.TotalBlocks != 2 {
		t.Errorf("TotalBlocks = %d, want 2", stats.TotalBlocks)
	}
	if len(stats.Languages) != 2 {
		t.Errorf("Languages = %+v, want 2 entries", stats.Languages)
	}

	if w := get(t, srv, "/api/stats"); w.Code != http.StatusNotFound {
		t.Errorf("Missing doc status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestAPIBackupsDisabled(t *testing.T) {
	srv, _ := newTestServer(t, map[string]string{"weather.s3": contentDoc})

	if w := get(t, srv, "/api/backups?doc=weather.s3"); w.Code != http.StatusNotFound {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestExportHTML(t *testing.T) {
	srv, _ := newTestServer(t, map[string]string{"sample.s3": fullDoc})

	w := get(t, srv, "/export?doc=sample.s3")
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q, want text/html", ct)
	}
	body := w.Body.String()
	if !strings.Contains(body, "<title>Sample</title>") {
		t.Error("Export does not carry the document title")
	}
	if strings.Contains(body, "<script>alert(1)") {
		t.Error("Raw HTML from block text was not removed")
	}
	if strings.Contains(body, "console.log('<b>')") {
		t.Error("Code was not escaped")
	}
}

func TestExportMarkdown(t *testing.T) {
	srv, _ := newTestServer(t, map[string]string{"sample.s3": fullDoc})

	w := get(t, srv, "/export?doc=sample.s3&format=markdown")
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/markdown") {
		t.Errorf("Content-Type = %q, want text/markdown", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, `filename="sample.md"`) {
		t.Errorf("Content-Disposition = %q", cd)
	}
	body := w.Body.String()
	if !strings.Contains(body, "# Sample") || !strings.Contains(body, "print(2)") {
		t.Errorf("Unexpected markdown:\n%s", body)
	}

	if w := get(t, srv, "/export?doc=sample.s3&format=pdf"); w.Code != http.StatusBadRequest {
		t.Errorf("Unknown format status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestExportCache(t *testing.T) {
	srv, dir := newTestServer(t, map[string]string{"sample.s3": fullDoc})

	first := get(t, srv, "/export?doc=sample.s3")
	second := get(t, srv, "/export?doc=sample.s3")
	if first.Body.String() != second.Body.String() {
		t.Error("Cached export differs from the first render")
	}
	if n := srv.exports.Len(); n != 1 {
		t.Fatalf("Cached exports = %d, want 1", n)
	}

	get(t, srv, "/export?doc=sample.s3&theme=dark")
	if n := srv.exports.Len(); n != 2 {
		t.Fatalf("Cached exports = %d after dark theme, want 2", n)
	}

	updated := strings.Replace(fullDoc, `"title": "Sample"`, `"title": "Renamed"`, 1)
	writeFiles(t, dir, map[string]string{"sample.s3": updated})
	srv.fileChanged("sample.s3")
	if n := srv.exports.Len(); n != 0 {
		t.Errorf("Cached exports = %d after file change, want 0", n)
	}

	w := get(t, srv, "/export?doc=sample.s3&format=markdown")
	if !strings.Contains(w.Body.String(), "# Renamed") {
		t.Errorf("Export after change is stale:\n%s", w.Body.String())
	}
}

func TestCloseDisposesExecutor(t *testing.T) {
	fake := &fakeExecutor{}
	srv, _ := newTestServer(t, nil, WithExecutor(fake))

	if err := srv.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	fake.mu.Lock()
	defer fake.mu.Unlock()
	if !fake.disposed {
		t.Error("Close() did not dispose the executor")
	}
}
