package server

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/software3/software3"
	"github.com/software3/software3/internal/render"
)

// maxRequestBodySize limits the size of incoming request bodies (10MB)
const maxRequestBodySize = 10 << 20

func (s *Server) handleDocs(w http.ResponseWriter, r *http.Request) {
	docs := s.Documents()
	if docs == nil {
		docs = []DocInfo{}
	}
	writeJSON(w, http.StatusOK, docs)
}

// validationResponse is the body of /api/validate.
type validationResponse struct {
	software3.ValidationResult
	ParseError string `json:"parseError,omitempty"`
}

// handleValidate validates a discovered document (GET ?doc=) or the
// document in the request body (POST).
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var (
		result software3.ValidationResult
		err    error
	)

	if r.Method == http.MethodPost {
		body, readErr := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
		if readErr != nil {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		_, result, err = s.parseDocument("request", body)
	} else {
		rel, docErr := s.docParam(r)
		if docErr != nil {
			writeError(w, http.StatusNotFound, docErr.Error())
			return
		}
		_, result, err = s.loadDocument(rel)
	}

	if err != nil {
		var pe *software3.ParseError
		if !errors.As(err, &pe) {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		issues := pe.Issues
		if issues == nil {
			issues = []software3.Issue{}
		}
		writeJSON(w, http.StatusOK, validationResponse{
			ValidationResult: software3.ValidationResult{Errors: issues, Warnings: []software3.Issue{}},
			ParseError:       pe.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, validationResponse{ValidationResult: result})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	rel, err := s.docParam(r)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	doc, _, err := s.loadDocument(rel)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, software3.GenerateStats(doc))
}

func (s *Server) handleBackups(w http.ResponseWriter, r *http.Request) {
	if s.backups == nil {
		writeError(w, http.StatusNotFound, "backups are not configured")
		return
	}
	rel, err := s.docParam(r)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	backups, err := s.backups.List(r.Context(), rel)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	type entry struct {
		ID      string `json:"id"`
		Created string `json:"created"`
	}
	out := make([]entry, len(backups))
	for i, b := range backups {
		out[i] = entry{ID: b.ID, Created: b.Created.UTC().Format("2006-01-02T15:04:05Z")}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleDeleteBackup discards a backup. Unknown ids are not an error.
func (s *Server) handleDeleteBackup(w http.ResponseWriter, r *http.Request) {
	if s.backups == nil {
		writeError(w, http.StatusNotFound, "backups are not configured")
		return
	}
	if err := s.backups.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// exportTTL bounds how long a rendered export is reused.
const exportTTL = 10 * time.Minute

// exportPrefix is the cache key prefix shared by every export of rel.
func exportPrefix(rel string) string {
	return rel + "\x00"
}

// handleExport renders a document as HTML (default) or markdown. Rendered
// output is cached by file content, format and theme.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	rel, err := s.docParam(r)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	data, err := s.fs.ReadFile(rel)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	format := r.URL.Query().Get("format")
	var contentType, kind string
	switch format {
	case "", "html":
		contentType, kind = "text/html; charset=utf-8", "html"
	case "markdown", "md":
		contentType, kind = "text/markdown; charset=utf-8", "markdown"
	default:
		writeError(w, http.StatusBadRequest, "unsupported format: "+format)
		return
	}
	theme := "light"
	if r.URL.Query().Get("theme") == "dark" {
		theme = "dark"
	}

	sum := sha256.Sum256(data)
	key := exportPrefix(rel) + kind + "\x00" + theme + "\x00" + hex.EncodeToString(sum[:])
	out, ok := s.exports.Get(key)
	if !ok {
		out, err = s.renderExport(rel, data, kind, theme)
		if err != nil {
			var pe *software3.ParseError
			if errors.As(err, &pe) {
				writeError(w, http.StatusUnprocessableEntity, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.exports.Set(key, out, exportTTL)
	}

	w.Header().Set("Content-Type", contentType)
	if kind == "markdown" {
		w.Header().Set("Content-Disposition", `attachment; filename="`+baseName(rel)+`.md"`)
	}
	_, _ = w.Write(out)
}

func (s *Server) renderExport(rel string, data []byte, format, theme string) ([]byte, error) {
	doc, _, err := s.parseDocument(rel, data)
	if err != nil {
		return nil, err
	}
	if format == "markdown" {
		out, err := software3.ToMarkdown(doc, software3.DefaultMarkdownOptions())
		return []byte(out), err
	}
	opts := render.DefaultOptions()
	opts.Theme = theme
	out, err := s.renderer.String(doc, opts)
	return []byte(out), err
}
