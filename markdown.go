package software3

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// frontMatter is the YAML header written to and read from markdown files.
type frontMatter struct {
	Title       string   `yaml:"title,omitempty"`
	Author      string   `yaml:"author,omitempty"`
	Date        string   `yaml:"date,omitempty"`
	Description string   `yaml:"description,omitempty"`
	Tags        []string `yaml:"tags,omitempty,flow"`
	License     string   `yaml:"license,omitempty"`
	Category    string   `yaml:"category,omitempty"`
}

// extractFrontMatter splits a leading "---" YAML block from content.
func extractFrontMatter(content []byte) (*frontMatter, []byte, error) {
	content = bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
	if !bytes.HasPrefix(content, []byte("---\n")) {
		return nil, content, nil
	}

	// Find the closing ---
	rest := content[4:]
	var yamlContent, remaining []byte
	switch {
	case bytes.HasPrefix(rest, []byte("---\n")):
		remaining = rest[4:]
	default:
		endIdx := bytes.Index(rest, []byte("\n---\n"))
		if endIdx == -1 {
			if !bytes.HasSuffix(rest, []byte("\n---")) {
				return nil, nil, fmt.Errorf("unclosed front matter")
			}
			endIdx = len(rest) - 4
			remaining = nil
		} else {
			remaining = rest[endIdx+5:]
		}
		yamlContent = rest[:endIdx]
	}

	var fm frontMatter
	if err := yaml.Unmarshal(yamlContent, &fm); err != nil {
		return nil, nil, fmt.Errorf("failed to parse front matter: %w", err)
	}
	return &fm, remaining, nil
}

// ImportOptions controls FromMarkdown.
type ImportOptions struct {
	// SplitByHeadings starts a new block at every heading up to MaxHeadingLevel.
	SplitByHeadings bool
	// MaxHeadingLevel defaults to 6.
	MaxHeadingLevel int
	// Language is used for sections that contain no fenced code.
	Language Language
	Author   string
}

const (
	noCodeSection = "// No code for this section"
	noCodeGiven   = "// No code provided"
)

var blockIDComment = regexp.MustCompile(`^<!--\s*Block ID:\s*(\S+)\s*-->$`)

type fence struct {
	lang string
	code string
}

type section struct {
	id      string
	heading string
	level   int
	text    []string
	fences  []fence
}

// FromMarkdown builds a document from markdown. Fenced code in a section
// becomes the code of that section's block; fences in several languages
// make a multi-language block. YAML front matter fills the metadata.
func (p *Parser) FromMarkdown(title string, source []byte, opts ImportOptions) (*Document, error) {
	fm, body, err := extractFrontMatter(source)
	if err != nil {
		return nil, err
	}
	if opts.MaxHeadingLevel <= 0 || opts.MaxHeadingLevel > 6 {
		opts.MaxHeadingLevel = 6
	}
	if opts.Language == "" {
		opts.Language = LanguagePlaintext
	}
	if title == "" && fm != nil {
		title = fm.Title
	}
	if title == "" {
		title = "Untitled"
	}

	doc := p.Create(title)
	doc.Metadata.Description = "Converted from markdown: " + title
	if opts.Author != "" {
		doc.Metadata.Author = opts.Author
	}
	if fm != nil {
		overlayMetadata(doc.Metadata, &DocumentMetadata{
			Author:      fm.Author,
			Created:     fm.Date,
			Description: fm.Description,
			Tags:        fm.Tags,
			License:     fm.License,
			Category:    Category(fm.Category),
		})
	}

	sections := tokenizeMarkdown(string(body), opts)
	for i, s := range sections {
		b := s.block(opts.Language)
		if b == nil {
			continue
		}
		if b.ID == "" {
			b.ID = fmt.Sprintf("block-%d", i+1)
		}
		b.ID = UniqueBlockID(doc, b.ID)
		doc.Blocks = append(doc.Blocks, b)
	}

	if len(doc.Blocks) == 0 {
		text := strings.TrimSpace(string(body))
		doc.Blocks = append(doc.Blocks, NewBlock("block-1", text, noCodeGiven, opts.Language))
	}
	return doc, nil
}

// tokenizeMarkdown splits body into sections, keeping fenced code apart from
// prose. Headings inside fences are code, not section breaks.
func tokenizeMarkdown(body string, opts ImportOptions) []*section {
	var (
		sections []*section
		cur      = &section{}
		pendID   string
		inFence  bool
		fenceTok string
		fenceBuf []string
		fenceTag string
	)

	flush := func() {
		if cur.heading != "" || strings.TrimSpace(strings.Join(cur.text, "\n")) != "" || len(cur.fences) > 0 {
			sections = append(sections, cur)
		}
	}

	for _, line := range strings.Split(body, "\n") {
		if inFence {
			if isFenceClose(line, fenceTok) {
				cur.fences = append(cur.fences, fence{lang: fenceTag, code: strings.Join(fenceBuf, "\n")})
				inFence, fenceBuf = false, nil
				continue
			}
			fenceBuf = append(fenceBuf, line)
			continue
		}

		if tok, info, ok := fenceOpen(line); ok {
			inFence, fenceTok = true, tok
			fenceTag = strings.ToLower(firstWord(info))
			continue
		}

		if m := blockIDComment.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			pendID = m[1]
			continue
		}

		if level, text, ok := headingLine(line); ok && opts.SplitByHeadings && level <= opts.MaxHeadingLevel {
			flush()
			cur = &section{id: pendID, heading: text, level: level, text: []string{strings.TrimSpace(line)}}
			pendID = ""
			continue
		}
		cur.text = append(cur.text, line)
	}

	// An unterminated fence runs to the end of the document.
	if inFence {
		cur.fences = append(cur.fences, fence{lang: fenceTag, code: strings.Join(fenceBuf, "\n")})
	}
	flush()
	return sections
}

func (s *section) block(defaultLang Language) *Block {
	text := strings.TrimSpace(strings.Join(s.text, "\n"))
	if text == "" && len(s.fences) == 0 {
		return nil
	}

	id := s.id
	if id == "" && s.heading != "" {
		id = SanitizeBlockID(strings.ToLower(s.heading))
	}

	switch len(s.fences) {
	case 0:
		return NewBlock(id, text, noCodeSection, defaultLang)
	case 1:
		return NewBlock(id, text, s.fences[0].code, LanguageFromFence(s.fences[0].lang))
	}

	var variants Code
	for _, f := range s.fences {
		lang := string(LanguageFromFence(f.lang))
		if prev, ok := variants.Variant(lang); ok {
			variants.Set(lang, prev+"\n\n"+f.code)
			continue
		}
		variants.Set(lang, f.code)
	}
	if variants.Len() == 1 {
		lang := variants.Languages()[0]
		src, _ := variants.Variant(lang)
		return NewBlock(id, text, src, Language(lang))
	}
	return NewMultiLanguageBlock(id, text, variants, "")
}

// fenceOpen recognizes an opening ``` or ~~~ fence indented at most 3 spaces.
func fenceOpen(line string) (tok, info string, ok bool) {
	trimmed := strings.TrimLeft(line, " ")
	if len(line)-len(trimmed) > 3 {
		return "", "", false
	}
	for _, ch := range []byte{'`', '~'} {
		n := 0
		for n < len(trimmed) && trimmed[n] == ch {
			n++
		}
		if n >= 3 {
			info = strings.TrimSpace(trimmed[n:])
			if ch == '`' && strings.Contains(info, "`") {
				return "", "", false
			}
			return trimmed[:n], info, true
		}
	}
	return "", "", false
}

// isFenceClose reports whether line closes a fence opened with tok.
func isFenceClose(line, tok string) bool {
	trimmed := strings.TrimLeft(line, " ")
	if len(line)-len(trimmed) > 3 {
		return false
	}
	n := 0
	for n < len(trimmed) && trimmed[n] == tok[0] {
		n++
	}
	return n >= len(tok) && strings.TrimSpace(trimmed[n:]) == ""
}

// headingLine recognizes an ATX heading and returns its level and text.
func headingLine(line string) (int, string, bool) {
	trimmed := strings.TrimLeft(line, " ")
	if len(line)-len(trimmed) > 3 {
		return 0, "", false
	}
	level := 0
	for level < len(trimmed) && trimmed[level] == '#' {
		level++
	}
	if level == 0 || level > 6 {
		return 0, "", false
	}
	rest := trimmed[level:]
	if rest != "" && rest[0] != ' ' && rest[0] != '\t' {
		return 0, "", false
	}
	text := strings.TrimSpace(strings.TrimRight(strings.TrimSpace(rest), "#"))
	return level, text, true
}

func firstWord(s string) string {
	if f := strings.Fields(s); len(f) > 0 {
		return f[0]
	}
	return ""
}

// MarkdownOptions controls ToMarkdown.
type MarkdownOptions struct {
	IncludeCodeBlocks bool
	// Indented writes code as 4-space indented blocks instead of fences.
	Indented        bool
	IncludeMetadata bool
	FrontMatter     bool
	PreserveIDs     bool
}

// DefaultMarkdownOptions returns fenced code with YAML front matter.
func DefaultMarkdownOptions() MarkdownOptions {
	return MarkdownOptions{
		IncludeCodeBlocks: true,
		IncludeMetadata:   true,
		FrontMatter:       true,
	}
}

// ToMarkdown renders doc as a markdown document.
func ToMarkdown(doc *Document, opts MarkdownOptions) (string, error) {
	var b strings.Builder
	meta := doc.Metadata

	if opts.IncludeMetadata && opts.FrontMatter && meta != nil {
		fm := frontMatter{
			Title:       doc.Title,
			Author:      meta.Author,
			Date:        meta.Created,
			Description: meta.Description,
			Tags:        meta.Tags,
		}
		out, err := yaml.Marshal(fm)
		if err != nil {
			return "", fmt.Errorf("front matter: %w", err)
		}
		b.WriteString("---\n")
		b.Write(out)
		b.WriteString("---\n\n")
	}

	fmt.Fprintf(&b, "# %s\n\n", doc.Title)

	if opts.IncludeMetadata && !opts.FrontMatter && meta != nil {
		if meta.Description != "" {
			fmt.Fprintf(&b, "%s\n\n", meta.Description)
		}
		if meta.Author != "" {
			fmt.Fprintf(&b, "**Author:** %s\n\n", meta.Author)
		}
		if meta.Created != "" {
			fmt.Fprintf(&b, "**Created:** %s\n\n", meta.Created)
		}
	}

	for _, block := range doc.Blocks {
		writeBlockMarkdown(&b, block, opts)
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String()), nil
}

func writeBlockMarkdown(b *strings.Builder, block *Block, opts MarkdownOptions) {
	if opts.PreserveIDs {
		fmt.Fprintf(b, "<!-- Block ID: %s -->\n", block.ID)
	}
	b.WriteString(block.Text)

	if !opts.IncludeCodeBlocks {
		return
	}
	b.WriteString("\n\n")

	if block.Language == LanguageMulti && block.Code.IsMulti() {
		for _, lang := range block.Code.Languages() {
			src, _ := block.Code.Variant(lang)
			fmt.Fprintf(b, "### %s\n\n", lang)
			b.WriteString(formatCode(src, lang, opts.Indented))
			b.WriteString("\n\n")
		}
		return
	}
	b.WriteString(formatCode(block.Code.Source(), string(block.Language), opts.Indented))
}

// formatCode fences code with one backtick more than its longest backtick
// run, so fences inside the code cannot close the block early.
func formatCode(code, lang string, indented bool) string {
	if !indented {
		fence := strings.Repeat("`", max(3, longestRun(code, '`')+1))
		return fence + lang + "\n" + code + "\n" + fence
	}
	lines := strings.Split(code, "\n")
	for i, l := range lines {
		lines[i] = "    " + l
	}
	return strings.Join(lines, "\n")
}

func longestRun(s string, ch byte) int {
	longest, n := 0, 0
	for i := 0; i < len(s); i++ {
		if s[i] != ch {
			n = 0
			continue
		}
		n++
		longest = max(longest, n)
	}
	return longest
}
