package exec

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/multierr"

	"github.com/software3/software3/internal/host"
)

// mimeTypes maps the extensions a preview may reference. Anything else is
// served as text/plain.
var mimeTypes = map[string]string{
	".css":  "text/css",
	".js":   "application/javascript",
	".json": "application/json",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
}

const cssFixture = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>CSS Preview</title>
    <style>
%s
    </style>
</head>
<body>
    <h1>CSS Preview</h1>
    <p>This is a paragraph to test your CSS styles.</p>
    <div class="container">
        <div class="box">Box 1</div>
        <div class="box">Box 2</div>
        <div class="box">Box 3</div>
    </div>
    <button>Sample Button</button>
    <input type="text" placeholder="Sample Input">
    <ul>
        <li>List Item 1</li>
        <li>List Item 2</li>
        <li>List Item 3</li>
    </ul>
</body>
</html>`

// runCSS previews a stylesheet against fixed sample markup.
func (h *Handler) runCSS(ctx context.Context, p host.Panel, req Request) error {
	req.Code = fmt.Sprintf(cssFixture, req.Code)
	return h.runHTML(ctx, p, req)
}

// runHTML writes the page to a new preview file and serves it until the
// panel stops it.
func (h *Handler) runHTML(_ context.Context, p host.Panel, req Request) error {
	dir := h.previewDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create preview directory: %w", err)
	}

	now := h.now()
	file := filepath.Join(dir, fmt.Sprintf("preview_%d.html", now.UnixNano()))
	if err := os.WriteFile(file, []byte(req.Code), 0644); err != nil {
		return fmt.Errorf("failed to write preview: %w", err)
	}
	_ = os.Chtimes(file, now, now)
	h.setTempFile(p.ID(), file)

	if err := prunePreviews(dir, h.cfg.GetMaxPreviews()); err != nil {
		h.log.Warn().Err(err).Str("dir", dir).Msg("Failed to prune previews")
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("failed to start HTML preview server: %w", err)
	}
	srv := &http.Server{Handler: previewHandler(file)}

	h.mu.Lock()
	h.state(p.ID()).server = srv
	h.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.log.Error().Err(err).Str("panel", p.ID()).Msg("Preview server error")
			h.post(p, host.ExecutionError("Server error: "+err.Error()))
		}
	}()

	url := "http://" + ln.Addr().String()
	h.log.Info().Str("panel", p.ID()).Str("url", url).Msg("Preview server started")
	h.post(p, host.ServerStarted(url))
	h.post(p, host.Output("Preview server started. Open the URL above in a browser.", host.OutputSuccess))
	return nil
}

// previewHandler serves page at / and its siblings by relative path. Paths
// never resolve outside the page's directory.
func previewHandler(page string) http.Handler {
	dir := filepath.Dir(page)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		name := path.Clean("/" + r.URL.Path)
		if name == "/" {
			data, err := os.ReadFile(page)
			if err != nil {
				notFound(w, "File not found")
				return
			}
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write(data)
			return
		}

		target := filepath.Join(dir, filepath.FromSlash(name))
		info, err := os.Stat(target)
		if err != nil || info.IsDir() {
			notFound(w, "Resource not found")
			return
		}
		data, err := os.ReadFile(target)
		if err != nil {
			notFound(w, "Resource not found")
			return
		}

		contentType, ok := mimeTypes[strings.ToLower(filepath.Ext(target))]
		if !ok {
			contentType = "text/plain"
		}
		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write(data)
	})
}

func notFound(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte(msg))
}

// prunePreviews keeps the keep most recently modified preview_*.html files.
func prunePreviews(dir string, keep int) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	type preview struct {
		name string
		mod  int64
	}
	var previews []preview
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "preview_") || !strings.HasSuffix(name, ".html") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		previews = append(previews, preview{name: name, mod: info.ModTime().UnixNano()})
	}
	if len(previews) <= keep {
		return nil
	}

	sort.Slice(previews, func(i, j int) bool {
		if previews[i].mod != previews[j].mod {
			return previews[i].mod > previews[j].mod
		}
		return previews[i].name > previews[j].name
	})

	var errs error
	for _, old := range previews[keep:] {
		if err := os.Remove(filepath.Join(dir, old.name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}
