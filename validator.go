package software3

import (
	"fmt"
	"regexp"
	"time"
	"unicode/utf8"

	"go.uber.org/multierr"
)

// Issue codes reported by the Validator. Tools may match on these, so a code
// is never reused for a different condition.
const (
	CodeMissingRequiredField      = "missing_required_field"
	CodeEmptyBlocksArray          = "empty_blocks_array"
	CodeInvalidVersionFormat      = "invalid_version_format"
	CodeInvalidTitleLength        = "invalid_title_length"
	CodeMissingBlockField         = "missing_block_field"
	CodeInvalidBlockIDFormat      = "invalid_block_id_format"
	CodeInvalidLanguage           = "invalid_language"
	CodeInvalidTextType           = "invalid_text_type"
	CodeDuplicateBlockID          = "duplicate_block_id"
	CodeInvalidMultiLanguageCode  = "invalid_multi_language_code"
	CodeInvalidSingleLanguageCode = "invalid_single_language_code"
	CodeEmptyMultiLanguageCode    = "empty_multi_language_code"
	CodeInvalidDefaultLanguage    = "invalid_default_language"
	CodeMissingRecommendedMeta    = "missing_recommended_metadata"
	CodeInvalidDateFormat         = "invalid_date_format"
	CodeInvalidDateOrder          = "invalid_date_order"
	CodeParseError                = "parse_error"
)

const maxTitleLength = 200

var versionPattern = regexp.MustCompile(`^1\.(0|[1-9]\d*)$`)

// Issue is a single validation error or warning.
type Issue struct {
	Message string `json:"message"`
	Path    string `json:"path"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
}

func (i Issue) Error() string {
	return fmt.Sprintf("%s: %s (%s)", i.Path, i.Message, i.Code)
}

// ValidationResult is the outcome of validating a document.
type ValidationResult struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`
}

// Err combines all errors into one, or returns nil for a valid document.
func (r ValidationResult) Err() error {
	var err error
	for _, e := range r.Errors {
		err = multierr.Append(err, e)
	}
	return err
}

// CustomValidator is a caller-supplied rule run after the built-in ones.
type CustomValidator struct {
	Name     string
	Validate func(*Document) []Issue
}

// Validator checks documents against the structural and semantic rules of
// the format. It reports every problem it finds in a single pass.
type Validator struct {
	custom []CustomValidator
}

// NewValidator returns a validator that also runs the given custom rules.
func NewValidator(custom ...CustomValidator) *Validator {
	return &Validator{custom: custom}
}

type report struct {
	errors   []Issue
	warnings []Issue
}

func (r *report) err(path, code, format string, args ...any) {
	r.errors = append(r.errors, Issue{Message: fmt.Sprintf(format, args...), Path: path, Code: code})
}

func (r *report) warn(path, code, format string, args ...any) {
	r.warnings = append(r.warnings, Issue{Message: fmt.Sprintf(format, args...), Path: path, Code: code})
}

// Validate checks doc. A nil document is reported as missing every required field.
func (v *Validator) Validate(doc *Document) ValidationResult {
	if doc == nil {
		doc = &Document{}
	}

	r := &report{errors: []Issue{}, warnings: []Issue{}}
	validateStructure(doc, r)
	validateBlockIDs(doc, r)
	validateLanguageConsistency(doc, r)
	validateMetadata(doc, r)

	for _, cv := range v.custom {
		if cv.Validate == nil {
			continue
		}
		r.errors = append(r.errors, cv.Validate(doc)...)
	}

	return ValidationResult{
		Valid:    len(r.errors) == 0,
		Errors:   r.errors,
		Warnings: r.warnings,
	}
}

func validateStructure(doc *Document, r *report) {
	if doc.Version == "" {
		r.err("/version", CodeMissingRequiredField, "Missing required field: version")
	}
	if doc.Title == "" {
		r.err("/title", CodeMissingRequiredField, "Missing required field: title")
	}
	if doc.Blocks == nil {
		r.err("/blocks", CodeMissingRequiredField, "Missing or invalid required field: blocks (must be array)")
	} else if len(doc.Blocks) == 0 {
		r.err("/blocks", CodeEmptyBlocksArray, "Document must contain at least one block")
	}

	if doc.Version != "" && !versionPattern.MatchString(doc.Version) {
		r.err("/version", CodeInvalidVersionFormat, "Invalid version format. Expected format: 1.x")
	}
	if doc.Title != "" && utf8.RuneCountInString(doc.Title) > maxTitleLength {
		r.err("/title", CodeInvalidTitleLength, "Title must be between 1 and %d characters", maxTitleLength)
	}

	for i, b := range doc.Blocks {
		validateBlock(b, fmt.Sprintf("/blocks/%d", i), r)
	}
}

func validateBlock(b *Block, base string, r *report) {
	if b == nil {
		b = &Block{decode: decodeProblems{textMissing: true}}
	}

	if b.ID == "" {
		r.err(base+"/id", CodeMissingBlockField, "Block missing required field: id")
	}
	if b.decode.textMissing || (b.Text == "" && !b.decode.textNotString) {
		r.err(base+"/text", CodeMissingBlockField, "Block missing required field: text")
	}
	if b.Code.IsMissing() || (b.Code.IsSingle() && b.Code.Source() == "") {
		r.err(base+"/code", CodeMissingBlockField, "Block missing required field: code")
	}
	if b.Language == "" {
		r.err(base+"/language", CodeMissingBlockField, "Block missing required field: language")
	}

	if b.ID != "" && (b.decode.idNotString || !IsValidBlockID(b.ID)) {
		r.err(base+"/id", CodeInvalidBlockIDFormat,
			"Block ID must contain only letters, numbers, hyphens, and underscores (1-%d characters)", maxBlockIDLength)
	}
	if b.Language != "" && !b.Language.IsValid() {
		r.err(base+"/language", CodeInvalidLanguage, "Invalid language: %s", b.Language)
	}
	if b.decode.textNotString {
		r.err(base+"/text", CodeInvalidTextType, "Block text must be a string")
	}
}

func validateBlockIDs(doc *Document, r *report) {
	seen := make(map[string]bool, len(doc.Blocks))
	reported := make(map[string]bool)
	var dups []string
	for _, b := range doc.Blocks {
		if b == nil || b.ID == "" {
			continue
		}
		if seen[b.ID] && !reported[b.ID] {
			reported[b.ID] = true
			dups = append(dups, b.ID)
		}
		seen[b.ID] = true
	}
	for _, id := range dups {
		r.err("/blocks", CodeDuplicateBlockID, "Duplicate block ID: %s", id)
	}
}

func validateLanguageConsistency(doc *Document, r *report) {
	for i, b := range doc.Blocks {
		if b == nil || b.Code.IsMissing() {
			continue
		}
		path := fmt.Sprintf("/blocks/%d", i)

		if b.Language != LanguageMulti {
			if !b.Code.IsSingle() {
				r.err(path+"/code", CodeInvalidSingleLanguageCode, "Single-language blocks must have code as a string")
			}
			continue
		}

		if !b.Code.IsMulti() {
			r.err(path+"/code", CodeInvalidMultiLanguageCode, "Multi-language blocks must have code as an object")
			continue
		}
		if b.Code.Len() == 0 {
			r.warn(path+"/code", CodeEmptyMultiLanguageCode, "Multi-language block has no code variants")
		}
		if b.Metadata != nil && b.Metadata.DefaultLanguage != "" {
			if _, ok := b.Code.Variant(b.Metadata.DefaultLanguage); !ok {
				r.warn(path+"/metadata/defaultLanguage", CodeInvalidDefaultLanguage,
					"Default language %q not found in code variants", b.Metadata.DefaultLanguage)
			}
		}
	}
}

func validateMetadata(doc *Document, r *report) {
	meta := doc.Metadata
	if meta == nil {
		meta = &DocumentMetadata{}
	}

	if meta.Author == "" {
		r.warn("/metadata/author", CodeMissingRecommendedMeta, "Author metadata is recommended")
	}
	if meta.Description == "" {
		r.warn("/metadata/description", CodeMissingRecommendedMeta, "Description metadata is recommended")
	}

	var created, modified time.Time
	var createdOK, modifiedOK bool
	if meta.Created != "" {
		if created, createdOK = parseDate(meta.Created); !createdOK {
			r.warn("/metadata/created", CodeInvalidDateFormat, "Invalid created date format")
		}
	}
	if meta.Modified != "" {
		if modified, modifiedOK = parseDate(meta.Modified); !modifiedOK {
			r.warn("/metadata/modified", CodeInvalidDateFormat, "Invalid modified date format")
		}
	}
	if createdOK && modifiedOK && modified.Before(created) {
		r.warn("/metadata/modified", CodeInvalidDateOrder, "Modified date should be after created date")
	}
}

var dateLayouts = []string{dateLayout, time.RFC3339, "2006-01-02T15:04:05"}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
