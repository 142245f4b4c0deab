package software3

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func issueCodes(issues []Issue) []string {
	codes := make([]string, len(issues))
	for i, is := range issues {
		codes[i] = is.Code
	}
	return codes
}

func validDoc() *Document {
	return &Document{
		Version: "1.0",
		Title:   "Doc",
		Metadata: &DocumentMetadata{
			Author:      "Ada",
			Description: "A document",
		},
		Blocks: []*Block{
			NewBlock("a", "first", "console.log(1)", LanguageJavaScript),
		},
	}
}

func decodeDoc(t *testing.T, src string) *Document {
	t.Helper()
	var doc Document
	require.NoError(t, json.Unmarshal([]byte(src), &doc))
	return &doc
}

func TestValidateValidDocument(t *testing.T) {
	res := NewValidator().Validate(validDoc())
	assert.True(t, res.Valid)
	assert.Empty(t, res.Errors)
	assert.Empty(t, res.Warnings)
	assert.NoError(t, res.Err())
}

func TestValidateReportsEveryViolation(t *testing.T) {
	doc := validDoc()
	doc.Version = ""
	doc.Title = strings.Repeat("x", 201)
	doc.Blocks = []*Block{
		NewBlock("a", "one", "1", LanguagePlaintext),
		NewBlock("b", "two", "2", LanguagePlaintext),
		NewBlock("a", "three", "3", LanguagePlaintext),
	}

	res := NewValidator().Validate(doc)
	require.False(t, res.Valid)
	assert.Equal(t, []string{
		CodeMissingRequiredField,
		CodeInvalidTitleLength,
		CodeDuplicateBlockID,
	}, issueCodes(res.Errors))

	err := res.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Duplicate block ID: a")
}

func TestValidateTitleLengthCountsCharacters(t *testing.T) {
	doc := validDoc()
	doc.Title = strings.Repeat("é", 200)
	assert.True(t, NewValidator().Validate(doc).Valid)
}

func TestValidateNilDocument(t *testing.T) {
	res := NewValidator().Validate(nil)
	assert.False(t, res.Valid)
	assert.Equal(t, []string{
		CodeMissingRequiredField,
		CodeMissingRequiredField,
		CodeMissingRequiredField,
	}, issueCodes(res.Errors))
}

func TestValidateEmptyBlocks(t *testing.T) {
	doc := validDoc()
	doc.Blocks = []*Block{}
	res := NewValidator().Validate(doc)
	assert.Equal(t, []string{CodeEmptyBlocksArray}, issueCodes(res.Errors))
}

func TestValidateVersionFormat(t *testing.T) {
	for _, v := range []string{"2.0", "1.01", "1", "v1.0"} {
		doc := validDoc()
		doc.Version = v
		res := NewValidator().Validate(doc)
		assert.Equal(t, []string{CodeInvalidVersionFormat}, issueCodes(res.Errors), v)
	}
	for _, v := range []string{"1.0", "1.7", "1.12"} {
		doc := validDoc()
		doc.Version = v
		assert.True(t, NewValidator().Validate(doc).Valid, v)
	}
}

func TestValidateMalformedBlock(t *testing.T) {
	doc := decodeDoc(t, `{
		"version": "1.0",
		"title": "T",
		"metadata": {"author": "a", "description": "d"},
		"blocks": [{"id": 5, "code": 1, "language": "klingon"}]
	}`)

	res := NewValidator().Validate(doc)
	assert.Equal(t, []string{
		CodeMissingBlockField,
		CodeInvalidBlockIDFormat,
		CodeInvalidLanguage,
		CodeInvalidSingleLanguageCode,
	}, issueCodes(res.Errors))
	assert.Equal(t, "/blocks/0/text", res.Errors[0].Path)
}

func TestValidateTextType(t *testing.T) {
	doc := decodeDoc(t, `{
		"version": "1.0",
		"title": "T",
		"metadata": {"author": "a", "description": "d"},
		"blocks": [{"id": "x", "text": ["no"], "code": "x", "language": "python"}]
	}`)

	res := NewValidator().Validate(doc)
	assert.Equal(t, []string{CodeInvalidTextType}, issueCodes(res.Errors))
}

func TestValidateMissingBlockFields(t *testing.T) {
	doc := decodeDoc(t, `{
		"version": "1.0",
		"title": "T",
		"metadata": {"author": "a", "description": "d"},
		"blocks": [{}]
	}`)

	res := NewValidator().Validate(doc)
	assert.Equal(t, []string{
		CodeMissingBlockField,
		CodeMissingBlockField,
		CodeMissingBlockField,
		CodeMissingBlockField,
	}, issueCodes(res.Errors))
}

func TestValidateEmptyTextAndCodeAreMissing(t *testing.T) {
	doc := validDoc()
	doc.Blocks[0].Text = ""
	res := NewValidator().Validate(doc)
	assert.Equal(t, []string{CodeMissingBlockField}, issueCodes(res.Errors))
	assert.Equal(t, "/blocks/0/text", res.Errors[0].Path)

	doc = decodeDoc(t, `{
		"version": "1.0",
		"title": "T",
		"metadata": {"author": "a", "description": "d"},
		"blocks": [{"id": "x", "text": "t", "code": "", "language": "python"}]
	}`)
	res = NewValidator().Validate(doc)
	assert.Equal(t, []string{CodeMissingBlockField}, issueCodes(res.Errors))
	assert.Equal(t, "/blocks/0/code", res.Errors[0].Path)
}

func TestValidateBlockIDFormat(t *testing.T) {
	for _, id := range []string{"has space", "dot.ted", strings.Repeat("a", 101)} {
		doc := validDoc()
		doc.Blocks[0].ID = id
		res := NewValidator().Validate(doc)
		assert.Equal(t, []string{CodeInvalidBlockIDFormat}, issueCodes(res.Errors), id)
	}
}

func TestValidateDuplicateReportedOncePerID(t *testing.T) {
	doc := validDoc()
	doc.Blocks = []*Block{
		NewBlock("a", "t", "c", LanguageGo),
		NewBlock("a", "t", "c", LanguageGo),
		NewBlock("a", "t", "c", LanguageGo),
		NewBlock("b", "t", "c", LanguageGo),
		NewBlock("b", "t", "c", LanguageGo),
	}
	res := NewValidator().Validate(doc)
	require.Len(t, res.Errors, 2)
	assert.Equal(t, "Duplicate block ID: a", res.Errors[0].Message)
	assert.Equal(t, "Duplicate block ID: b", res.Errors[1].Message)
}

func TestValidateMultiLanguageConsistency(t *testing.T) {
	tests := []struct {
		name     string
		block    *Block
		errors   []string
		warnings []string
	}{
		{
			name:   "multi with string code",
			block:  &Block{ID: "m", Text: "t", Code: SingleCode("x"), Language: LanguageMulti},
			errors: []string{CodeInvalidMultiLanguageCode},
		},
		{
			name:   "single with object code",
			block:  &Block{ID: "s", Text: "t", Code: MultiCode("python", "x"), Language: LanguagePython},
			errors: []string{CodeInvalidSingleLanguageCode},
		},
		{
			name:     "empty variants",
			block:    &Block{ID: "e", Text: "t", Code: MultiCode(), Language: LanguageMulti},
			warnings: []string{CodeEmptyMultiLanguageCode},
		},
		{
			name:     "unknown default language",
			block:    NewMultiLanguageBlock("d", "t", MultiCode("python", "x"), "rust"),
			warnings: []string{CodeInvalidDefaultLanguage},
		},
		{
			name:  "consistent multi",
			block: NewMultiLanguageBlock("ok", "t", MultiCode("python", "x", "go", "y"), "go"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := validDoc()
			doc.Blocks = []*Block{tt.block}
			res := NewValidator().Validate(doc)
			assert.Equal(t, append([]string{}, tt.errors...), issueCodes(res.Errors))
			assert.Equal(t, append([]string{}, tt.warnings...), issueCodes(res.Warnings))
		})
	}
}

func TestValidateMetadataWarnings(t *testing.T) {
	doc := validDoc()
	doc.Metadata = &DocumentMetadata{Created: "2024-05-01", Modified: "2024-04-01"}
	res := NewValidator().Validate(doc)
	assert.True(t, res.Valid)
	assert.Equal(t, []string{
		CodeMissingRecommendedMeta,
		CodeMissingRecommendedMeta,
		CodeInvalidDateOrder,
	}, issueCodes(res.Warnings))

	doc.Metadata = &DocumentMetadata{Author: "a", Description: "d", Created: "yesterday", Modified: "2024-04-01T10:00:00Z"}
	res = NewValidator().Validate(doc)
	assert.Equal(t, []string{CodeInvalidDateFormat}, issueCodes(res.Warnings))
	assert.Equal(t, "/metadata/created", res.Warnings[0].Path)
}

func TestValidateCustomValidatorsRunLast(t *testing.T) {
	noTodo := CustomValidator{
		Name: "no-todo",
		Validate: func(d *Document) []Issue {
			var out []Issue
			for i, b := range d.Blocks {
				if strings.Contains(b.Text, "TODO") {
					out = append(out, Issue{Message: "unfinished block", Path: fmt.Sprintf("/blocks/%d/text", i), Code: "todo_text"})
				}
			}
			return out
		},
	}

	doc := validDoc()
	doc.Version = "9"
	doc.Blocks[0].Text = "TODO: write this"
	res := NewValidator(noTodo).Validate(doc)
	assert.Equal(t, []string{CodeInvalidVersionFormat, "todo_text"}, issueCodes(res.Errors))
}
