// Package software3 provides the core library for Software 3 (.s3) documents:
// markdown instructions paired with code, organized as an ordered list of blocks.
//
// The package parses, validates, mutates and serializes documents and computes
// statistics over them. Execution and editing live in the internal packages.
package software3

import "time"

// Document represents a parsed .s3 document.
type Document struct {
	Version  string            `json:"version"`
	Title    string            `json:"title"`
	Metadata *DocumentMetadata `json:"metadata,omitempty"`
	Blocks   []*Block          `json:"blocks"`
}

// Block is one documentation+code unit of a document.
type Block struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Code     Code           `json:"code"`
	Language Language       `json:"language"`
	Metadata *BlockMetadata `json:"metadata,omitempty"`

	// problems found while decoding; only set by UnmarshalJSON
	decode decodeProblems
}

// Category classifies a document.
type Category string

const (
	CategoryTutorial      Category = "tutorial"
	CategoryDocumentation Category = "documentation"
	CategorySpecification Category = "specification"
	CategoryExample       Category = "example"
	CategoryReference     Category = "reference"
	CategoryGuide         Category = "guide"
	CategoryAPI           Category = "api"
	CategoryOther         Category = "other"
)

// Complexity is the difficulty level of a block.
type Complexity string

const (
	ComplexityBeginner     Complexity = "beginner"
	ComplexityIntermediate Complexity = "intermediate"
	ComplexityAdvanced     Complexity = "advanced"
)

// Environment is where an executable block is expected to run.
type Environment string

const (
	EnvironmentNodeJS  Environment = "nodejs"
	EnvironmentPython  Environment = "python"
	EnvironmentBrowser Environment = "browser"
	EnvironmentShell   Environment = "shell"
	EnvironmentDocker  Environment = "docker"
	EnvironmentOther   Environment = "other"
)

// ImportType says where the code of a block was imported from.
type ImportType string

const (
	ImportFile    ImportType = "file"
	ImportURL     ImportType = "url"
	ImportSnippet ImportType = "snippet"
)

// OutputSpec describes an output a block produces.
type OutputSpec struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Schema      any    `json:"schema,omitempty"`
}

// ExpectedOutput describes what running a block should print.
type ExpectedOutput struct {
	Type    string `json:"type"`
	Schema  any    `json:"schema,omitempty"`
	Example any    `json:"example,omitempty"`
}

// dateLayout is the format used for created/modified stamps.
const dateLayout = "2006-01-02"

// today formats t as a YYYY-MM-DD date stamp.
func today(t time.Time) string {
	return t.Format(dateLayout)
}

// NewBlock creates a single-language block with beginner defaults.
func NewBlock(id, text, code string, lang Language) *Block {
	return &Block{
		ID:       id,
		Text:     text,
		Code:     SingleCode(code),
		Language: lang,
		Metadata: &BlockMetadata{
			Complexity: ComplexityBeginner,
			Tags:       []string{},
		},
	}
}

// NewMultiLanguageBlock creates a "multi" block from ordered code variants.
// The default language is the first variant unless defaultLang is set.
func NewMultiLanguageBlock(id, text string, variants Code, defaultLang string) *Block {
	if defaultLang == "" {
		if keys := variants.Languages(); len(keys) > 0 {
			defaultLang = keys[0]
		}
	}
	return &Block{
		ID:       id,
		Text:     text,
		Code:     variants,
		Language: LanguageMulti,
		Metadata: &BlockMetadata{
			Complexity:      ComplexityBeginner,
			Tags:            []string{},
			DefaultLanguage: defaultLang,
		},
	}
}

// Block returns the block with the given id, or nil.
func (d *Document) Block(id string) *Block {
	for _, b := range d.Blocks {
		if b.ID == id {
			return b
		}
	}
	return nil
}

// IDs returns the block ids in document order.
func (d *Document) IDs() []string {
	ids := make([]string, len(d.Blocks))
	for i, b := range d.Blocks {
		ids[i] = b.ID
	}
	return ids
}

// Tags returns the block's tags, or nil when it has no metadata.
func (b *Block) Tags() []string {
	if b.Metadata == nil {
		return nil
	}
	return b.Metadata.Tags
}

// Complexity returns the block's complexity, or "" when unspecified.
func (b *Block) Complexity() Complexity {
	if b.Metadata == nil {
		return ""
	}
	return b.Metadata.Complexity
}
