// Package render turns .s3 documents into standalone HTML pages.
//
// Block text is rendered as GitHub-flavored markdown with goldmark. Raw HTML
// inside the text is omitted, so exported pages never carry markup the author
// did not write as markdown. Code is highlighted with chroma.
package render

import (
	"bytes"
	"fmt"
	"html"
	"html/template"
	"io"
	"strings"

	"github.com/alecthomas/chroma/v2"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/rs/zerolog"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"

	"github.com/software3/software3"
	"github.com/software3/software3/internal/logging"
)

// View is the half of a block shown first when toggling is enabled.
type View string

const (
	ViewText View = "text"
	ViewCode View = "code"
)

// Options controls HTML output.
type Options struct {
	Theme              string // light or dark
	SyntaxHighlighting bool
	LineNumbers        bool
	EnableToggle       bool // show one half of each block with buttons to switch
	DefaultView        View
	WrapInDocument     bool // emit a full <html> page
	IncludeStats       bool // append a statistics summary
	Title              string
	CustomCSS          string
}

// DefaultOptions returns the options used by the CLI and the server.
func DefaultOptions() Options {
	return Options{
		Theme:              "light",
		SyntaxHighlighting: true,
		EnableToggle:       true,
		DefaultView:        ViewText,
		WrapInDocument:     true,
	}
}

// Renderer renders documents. It is safe for concurrent use.
type Renderer struct {
	md  goldmark.Markdown
	log zerolog.Logger
}

// New creates a Renderer.
func New(log zerolog.Logger) *Renderer {
	return &Renderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithParserOptions(
				parser.WithAutoHeadingID(),
			),
		),
		log: logging.Component(log, "render"),
	}
}

// Markdown renders text to HTML. If goldmark fails, the text is returned
// escaped inside a <pre>.
func (r *Renderer) Markdown(text string) string {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(text), &buf); err != nil {
		r.log.Warn().Err(err).Msg("Markdown rendering failed, using plain text")
		return "<pre>" + html.EscapeString(text) + "</pre>"
	}
	return buf.String()
}

// styleFor maps a theme to a chroma style.
func styleFor(theme string) *chroma.Style {
	name := "github"
	if theme == "dark" {
		name = "dracula"
	}
	if s := styles.Get(name); s != nil {
		return s
	}
	return styles.Fallback
}

func (r *Renderer) formatter(opts Options) *chromahtml.Formatter {
	return chromahtml.New(
		chromahtml.WithClasses(true),
		chromahtml.WithLineNumbers(opts.LineNumbers),
	)
}

// Code renders one source as a <pre> block.
func (r *Renderer) Code(code, language string, opts Options) string {
	plain := fmt.Sprintf(`<pre><code class="language-%s">%s</code></pre>`,
		html.EscapeString(language), html.EscapeString(code))
	if !opts.SyntaxHighlighting {
		return plain
	}

	lexer := lexers.Get(language)
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	it, err := lexer.Tokenise(nil, code)
	if err != nil {
		r.log.Debug().Err(err).Str("language", language).Msg("Tokenise failed")
		return plain
	}
	var buf bytes.Buffer
	if err := r.formatter(opts).Format(&buf, styleFor(opts.Theme), it); err != nil {
		r.log.Debug().Err(err).Str("language", language).Msg("Highlight failed")
		return plain
	}
	return buf.String()
}

// blockCode renders the code half of a block, with language tabs for
// multi-language blocks.
func (r *Renderer) blockCode(b *software3.Block, opts Options) string {
	if !b.Code.IsMulti() {
		return r.Code(b.Code.Source(), string(b.Language), opts)
	}

	langs := b.Code.Languages()
	def := ""
	if b.Metadata != nil {
		def = b.Metadata.DefaultLanguage
	}
	if def == "" && len(langs) > 0 {
		def = langs[0]
	}

	var sb strings.Builder
	sb.WriteString(`<div class="s3-multi-language-code"><div class="s3-language-tabs">`)
	for _, lang := range langs {
		fmt.Fprintf(&sb, `<button class="s3-language-tab%s" data-language="%s">%s</button>`,
			active(lang == def), html.EscapeString(lang), html.EscapeString(lang))
	}
	sb.WriteString(`</div><div class="s3-language-content">`)
	for _, lang := range langs {
		src, _ := b.Code.Variant(lang)
		fmt.Fprintf(&sb, `<div class="s3-language-block%s" data-language="%s">%s</div>`,
			active(lang == def), html.EscapeString(lang), r.Code(src, lang, opts))
	}
	sb.WriteString(`</div></div>`)
	return sb.String()
}

func active(on bool) string {
	if on {
		return " active"
	}
	return ""
}

// Block renders one block.
func (r *Renderer) Block(b *software3.Block, opts Options) string {
	id := html.EscapeString(b.ID)
	text := r.Markdown(b.Text)
	code := r.blockCode(b, opts)

	if !opts.EnableToggle {
		return fmt.Sprintf(`<div class="s3-block" data-block-id="%s">
<div class="s3-content">
<div class="s3-text">%s</div>
<div class="s3-code">%s</div>
</div>
</div>
`, id, text, code)
	}

	view := opts.DefaultView
	if view != ViewCode {
		view = ViewText
	}
	return fmt.Sprintf(`<div class="s3-block" data-block-id="%s">
<div class="s3-toggle-buttons">
<button class="s3-toggle-btn%s" data-view="text">Documentation</button>
<button class="s3-toggle-btn%s" data-view="code">Code</button>
</div>
<div class="s3-content">
<div class="s3-view s3-text-view%s" data-view="text">%s</div>
<div class="s3-view s3-code-view%s" data-view="code">%s</div>
</div>
</div>
`, id, active(view == ViewText), active(view == ViewCode),
		active(view == ViewText), text, active(view == ViewCode), code)
}

// Metadata renders the document header: description, author and tags.
func (r *Renderer) Metadata(doc *software3.Document) string {
	m := doc.Metadata
	if m == nil {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(`<div class="s3-metadata">`)
	if m.Description != "" {
		fmt.Fprintf(&sb, `<p class="s3-description">%s</p>`, html.EscapeString(m.Description))
	}
	if m.Author != "" {
		fmt.Fprintf(&sb, `<p class="s3-author">By %s</p>`, html.EscapeString(m.Author))
	}
	if len(m.Tags) > 0 {
		sb.WriteString(`<ul class="s3-tags">`)
		for _, t := range m.Tags {
			fmt.Fprintf(&sb, `<li>%s</li>`, html.EscapeString(t))
		}
		sb.WriteString(`</ul>`)
	}
	sb.WriteString(`</div>`)
	return sb.String()
}

// Stats renders a short statistics summary.
func (r *Renderer) Stats(doc *software3.Document) string {
	stats := software3.GenerateStats(doc)
	langs := make([]string, len(stats.Languages))
	for i, l := range stats.Languages {
		langs[i] = html.EscapeString(l.Language)
	}
	return fmt.Sprintf(`<div class="s3-stats">
<h3>Document Statistics</h3>
<ul>
<li><strong>Total Blocks:</strong> %d</li>
<li><strong>Languages:</strong> %s</li>
<li><strong>Reading Time:</strong> %d min</li>
</ul>
</div>
`, stats.TotalBlocks, strings.Join(langs, ", "), stats.EstimatedReadingTime)
}

// Body renders the metadata header and every block, without a page wrapper.
func (r *Renderer) Body(doc *software3.Document, opts Options) string {
	var sb strings.Builder
	sb.WriteString(r.Metadata(doc))
	for _, b := range doc.Blocks {
		sb.WriteString(r.Block(b, opts))
	}
	if opts.IncludeStats {
		sb.WriteString(r.Stats(doc))
	}
	return sb.String()
}

type pageData struct {
	Title     string
	Theme     string
	Body      template.HTML
	ChromaCSS template.CSS
	CustomCSS template.CSS
	Toggle    bool
}

// Document writes doc as HTML to w.
func (r *Renderer) Document(w io.Writer, doc *software3.Document, opts Options) error {
	body := r.Body(doc, opts)
	if !opts.WrapInDocument {
		_, err := io.WriteString(w, body)
		return err
	}

	var css bytes.Buffer
	if opts.SyntaxHighlighting {
		if err := r.formatter(opts).WriteCSS(&css, styleFor(opts.Theme)); err != nil {
			return fmt.Errorf("failed to write highlight CSS: %w", err)
		}
	}

	title := opts.Title
	if title == "" {
		title = doc.Title
	}
	theme := opts.Theme
	if theme != "dark" {
		theme = "light"
	}

	return pageTemplate.Execute(w, pageData{
		Title:     title,
		Theme:     theme,
		Body:      template.HTML(body),
		ChromaCSS: template.CSS(css.String()),
		CustomCSS: template.CSS(opts.CustomCSS),
		Toggle:    opts.EnableToggle,
	})
}

// String is Document into a string.
func (r *Renderer) String(doc *software3.Document, opts Options) (string, error) {
	var sb strings.Builder
	if err := r.Document(&sb, doc, opts); err != nil {
		return "", err
	}
	return sb.String(), nil
}

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en" data-theme="{{.Theme}}">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>{{.Title}}</title>
<style>
body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", sans-serif; max-width: 960px; margin: 0 auto; padding: 2rem; line-height: 1.6; }
[data-theme="dark"] body { background: #1e1f29; color: #e6e6e6; }
.s3-block { border: 1px solid #e1e4e8; border-radius: 6px; margin: 1.5rem 0; padding: 1rem; }
.s3-view, .s3-language-block { display: none; }
.s3-view.active, .s3-language-block.active { display: block; }
.s3-toggle-btn.active, .s3-language-tab.active { font-weight: bold; }
.s3-tags li { display: inline; margin-right: .5rem; }
pre { overflow-x: auto; padding: .75rem; }
{{.ChromaCSS}}
{{.CustomCSS}}
</style>
</head>
<body>
<h1>{{.Title}}</h1>
{{.Body}}
{{if .Toggle}}<script>
document.querySelectorAll('.s3-block').forEach(function (block) {
  block.querySelectorAll('.s3-toggle-btn').forEach(function (btn) {
    btn.addEventListener('click', function () {
      var view = btn.dataset.view;
      block.querySelectorAll('.s3-toggle-btn, .s3-view').forEach(function (el) {
        el.classList.toggle('active', el.dataset.view === view);
      });
    });
  });
  block.querySelectorAll('.s3-language-tab').forEach(function (tab) {
    tab.addEventListener('click', function () {
      var lang = tab.dataset.language;
      block.querySelectorAll('.s3-language-tab, .s3-language-block').forEach(function (el) {
        el.classList.toggle('active', el.dataset.language === lang);
      });
    });
  });
});
</script>{{end}}
</body>
</html>
`))
