package software3

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

const (
	// DefaultMaxFileSize is the largest document Parse accepts by default (10 MiB).
	DefaultMaxFileSize = 10 * 1024 * 1024
	// DefaultMaxBlocks is the largest block count Parse accepts by default.
	DefaultMaxBlocks = 1000
)

// Parser turns raw bytes into normalized documents and mutates them.
// A Parser is safe for concurrent use; the documents it returns are not.
type Parser struct {
	strict             bool
	allowUnknownFields bool
	validateSchema     bool
	maxFileSize        int
	maxBlocks          int
	custom             []CustomValidator
	now                func() time.Time

	validator *Validator
}

// Option configures a Parser.
type Option func(*Parser)

// WithStrict makes Parse fail on validation errors (the default) or only report them.
func WithStrict(strict bool) Option {
	return func(p *Parser) { p.strict = strict }
}

// WithAllowUnknownFields is accepted for compatibility. Unknown top-level and
// block fields are dropped either way; unknown metadata keys are kept.
func WithAllowUnknownFields(allow bool) Option {
	return func(p *Parser) { p.allowUnknownFields = allow }
}

// WithValidateSchema turns validation during Parse on or off.
func WithValidateSchema(validate bool) Option {
	return func(p *Parser) { p.validateSchema = validate }
}

// WithMaxFileSize sets the largest accepted input in bytes.
func WithMaxFileSize(n int) Option {
	return func(p *Parser) { p.maxFileSize = n }
}

// WithMaxBlocks sets the largest accepted block count.
func WithMaxBlocks(n int) Option {
	return func(p *Parser) { p.maxBlocks = n }
}

// WithCustomValidators adds rules that run after the built-in ones.
func WithCustomValidators(vs ...CustomValidator) Option {
	return func(p *Parser) { p.custom = append(p.custom, vs...) }
}

// WithClock sets the time source used for created/modified stamps.
func WithClock(now func() time.Time) Option {
	return func(p *Parser) { p.now = now }
}

// NewParser creates a parser with the given options applied over the defaults.
func NewParser(opts ...Option) *Parser {
	p := &Parser{
		strict:         true,
		validateSchema: true,
		maxFileSize:    DefaultMaxFileSize,
		maxBlocks:      DefaultMaxBlocks,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.validator = NewValidator(p.custom...)
	return p
}

// Validate runs the parser's validator on doc.
func (p *Parser) Validate(doc *Document) ValidationResult {
	return p.validator.Validate(doc)
}

// Parse decodes, normalizes and validates content. It never returns a
// partially parsed document: on error the document is nil.
func (p *Parser) Parse(content []byte) (*Document, error) {
	doc, _, err := p.ParseWithReport(content)
	return doc, err
}

// ParseWithReport is Parse that also returns the validation report. With
// strict mode off, an invalid document is returned along with its report.
func (p *Parser) ParseWithReport(content []byte) (*Document, ValidationResult, error) {
	if len(content) > p.maxFileSize {
		return nil, ValidationResult{}, newParseError(ErrFileTooLarge,
			fmt.Sprintf("File size exceeds maximum allowed size of %d bytes", p.maxFileSize))
	}

	doc, err := p.decode(content)
	if err != nil {
		return nil, ValidationResult{}, err
	}

	var result ValidationResult
	if p.validateSchema {
		result = p.validator.Validate(doc)
		if !result.Valid && p.strict {
			first := result.Errors[0]
			pe := newParseError(ErrValidationFailed, "Validation failed: "+first.Message)
			pe.Issues = result.Errors
			return nil, result, pe.withCause(result.Err())
		}
	}

	if len(doc.Blocks) > p.maxBlocks {
		return nil, result, newParseError(ErrTooManyBlocks,
			fmt.Sprintf("Document exceeds maximum allowed blocks (%d)", p.maxBlocks))
	}

	return doc, result, nil
}

// ParseFile reads and parses the document at path.
func (p *Parser) ParseFile(path string) (*Document, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	doc, err := p.Parse(content)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			pe.File = path
		}
		return nil, err
	}
	return doc, nil
}

// decode performs the JSON and structure steps of Parse.
func (p *Parser) decode(content []byte) (*Document, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(content, &top); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			return nil, newParseError(ErrInvalidJSON, "Invalid JSON: "+syntaxErr.Error()).
				withOffset(content, syntaxErr.Offset).
				withCause(err)
		}
		if len(bytes.TrimSpace(content)) == 0 {
			return nil, newParseError(ErrInvalidJSON, "Invalid JSON: empty input").withCause(err)
		}
		return nil, newParseError(ErrInvalidStructure, "Invalid document structure: top level must be an object").
			withCause(err)
	}

	if !hasValue(top["version"]) || !hasValue(top["title"]) || !isArray(top["blocks"]) {
		return nil, newParseError(ErrInvalidStructure, "Invalid document structure: missing required fields").
			WithHint(`a document needs "version", "title" and a "blocks" array`)
	}

	var doc Document
	if err := json.Unmarshal(content, &doc); err != nil {
		pe := newParseError(ErrInvalidStructure, "Invalid document structure: "+err.Error()).withCause(err)
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			pe.withOffset(content, typeErr.Offset)
		}
		return nil, pe
	}
	for i, b := range doc.Blocks {
		if b == nil {
			return nil, newParseError(ErrInvalidStructure,
				fmt.Sprintf("Invalid document structure: block %d must be an object", i))
		}
	}
	ensureUniqueBlockIDs(&doc)
	return &doc, nil
}

// hasValue reports whether a top-level field is present and truthy.
func hasValue(v json.RawMessage) bool {
	switch string(bytes.TrimSpace(v)) {
	case "", "null", `""`, "false", "0":
		return false
	}
	return true
}

func isArray(v json.RawMessage) bool {
	v = bytes.TrimSpace(v)
	return len(v) > 0 && v[0] == '['
}

// Create builds a new document with default metadata.
func (p *Parser) Create(title string, blocks ...*Block) *Document {
	if blocks == nil {
		blocks = []*Block{}
	}
	doc := &Document{
		Version: "1.0",
		Title:   title,
		Metadata: &DocumentMetadata{
			Created:     today(p.now()),
			Author:      "Unknown",
			Description: "Software 3 document: " + title,
			Tags:        []string{},
			License:     "MIT",
			Language:    "en",
			Category:    CategoryOther,
		},
		Blocks: blocks,
	}
	ensureUniqueBlockIDs(doc)
	return doc
}

// touch stamps the modified date.
func (p *Parser) touch(doc *Document) {
	if doc.Metadata == nil {
		doc.Metadata = &DocumentMetadata{}
	}
	doc.Metadata.Modified = today(p.now())
}

// AddBlock appends block, renaming it if its id is taken.
func (p *Parser) AddBlock(doc *Document, block *Block) {
	if block.ID == "" {
		block.ID = fmt.Sprintf("block-%d", len(doc.Blocks)+1)
	}
	block.ID = UniqueBlockID(doc, block.ID)
	doc.Blocks = append(doc.Blocks, block)
	p.touch(doc)
}

// RemoveBlock deletes the block with the given id. It returns false if there is none.
func (p *Parser) RemoveBlock(doc *Document, id string) bool {
	for i, b := range doc.Blocks {
		if b.ID == id {
			doc.Blocks = append(doc.Blocks[:i], doc.Blocks[i+1:]...)
			p.touch(doc)
			return true
		}
	}
	return false
}

// BlockUpdate is a partial block update; nil fields are left unchanged.
type BlockUpdate struct {
	// ID is ignored: a block keeps its id across updates.
	ID       *string
	Text     *string
	Code     *Code
	Language *Language
	Metadata *BlockMetadata
}

// UpdateBlock applies u to the block with the given id. It returns false if there is none.
func (p *Parser) UpdateBlock(doc *Document, id string, u BlockUpdate) bool {
	b := doc.Block(id)
	if b == nil {
		return false
	}
	if u.Text != nil {
		b.Text = *u.Text
		b.decode.textMissing = false
		b.decode.textNotString = false
	}
	if u.Code != nil {
		b.Code = *u.Code
	}
	if u.Language != nil {
		b.Language = *u.Language
	}
	if u.Metadata != nil {
		b.Metadata = u.Metadata
	}
	p.touch(doc)
	return true
}

// ReorderBlocks puts the blocks named in order first, in that order, followed
// by the remaining blocks in their original relative order. Unknown and
// repeated ids in order are ignored.
func (p *Parser) ReorderBlocks(doc *Document, order []string) {
	placed := make(map[string]bool, len(order))
	out := make([]*Block, 0, len(doc.Blocks))
	for _, id := range order {
		if placed[id] {
			continue
		}
		if b := doc.Block(id); b != nil {
			out = append(out, b)
			placed[id] = true
		}
	}
	for _, b := range doc.Blocks {
		if !placed[b.ID] {
			out = append(out, b)
		}
	}
	doc.Blocks = out
	p.touch(doc)
}

// Merge returns a copy of doc1 with doc2's metadata laid over it and doc2's
// blocks appended. Colliding block ids from doc2 are renamed. An empty title
// becomes "<doc1 title> + <doc2 title>".
func (p *Parser) Merge(doc1, doc2 *Document, title string) (*Document, error) {
	merged, err := Clone(doc1)
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	if title == "" {
		title = doc1.Title + " + " + doc2.Title
	}
	merged.Title = title

	if merged.Metadata == nil {
		merged.Metadata = &DocumentMetadata{}
	}
	if doc2.Metadata != nil {
		overlayMetadata(merged.Metadata, doc2.Metadata)
	}

	for _, b := range doc2.Blocks {
		cb, err := cloneBlock(b)
		if err != nil {
			return nil, fmt.Errorf("merge block %s: %w", b.ID, err)
		}
		cb.ID = UniqueBlockID(merged, cb.ID)
		merged.Blocks = append(merged.Blocks, cb)
	}

	p.touch(merged)
	return merged, nil
}

// overlayMetadata copies every set field of src onto dst.
func overlayMetadata(dst, src *DocumentMetadata) {
	set := func(d *string, s string) {
		if s != "" {
			*d = s
		}
	}
	set(&dst.Author, src.Author)
	set(&dst.Created, src.Created)
	set(&dst.Modified, src.Modified)
	set(&dst.Description, src.Description)
	set(&dst.Version, src.Version)
	set(&dst.License, src.License)
	set(&dst.Language, src.Language)
	if src.Category != "" {
		dst.Category = src.Category
	}
	if src.Tags != nil {
		dst.Tags = append([]string(nil), src.Tags...)
	}
	for k, v := range src.Extra {
		if dst.Extra == nil {
			dst.Extra = make(map[string]any)
		}
		dst.Extra[k] = v
	}
}

// Stringify encodes doc as JSON indented by indent spaces (compact when indent is 0).
// HTML characters in code are not escaped.
func Stringify(doc *Document, indent int) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent > 0 {
		enc.SetIndent("", string(bytes.Repeat([]byte(" "), indent)))
	}
	if err := enc.Encode(doc); err != nil {
		return "", err
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// Clone deep-copies doc through a JSON round trip. Extra metadata values that
// cannot be encoded as JSON are dropped from the copy.
func Clone(doc *Document) (*Document, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var out Document
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func cloneBlock(b *Block) (*Block, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return nil, err
	}
	var out Block
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	out.decode = b.decode
	return &out, nil
}
