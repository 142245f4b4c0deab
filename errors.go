package software3

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Sentinel kinds of parse failure. Match them with errors.Is.
var (
	ErrFileTooLarge     = errors.New("file too large")
	ErrInvalidJSON      = errors.New("invalid JSON")
	ErrInvalidStructure = errors.New("invalid document structure")
	ErrValidationFailed = errors.New("validation failed")
	ErrTooManyBlocks    = errors.New("too many blocks")
)

// ParseError represents a detailed parsing error with context.
type ParseError struct {
	Kind    error  // One of the Err* sentinels
	File    string // Source file path, if known
	Line    int    // Line number (1-indexed, 0 if unknown)
	Column  int    // Column number (1-indexed, optional)
	Message string // Error message
	Hint    string // Helpful suggestion
	Issues  []Issue

	source []byte
	err    error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d", e.Line)
			if e.Column > 0 {
				fmt.Fprintf(&b, ":%d", e.Column)
			}
		}
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// Unwrap exposes both the kind and the underlying cause.
func (e *ParseError) Unwrap() []error {
	var errs []error
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.err != nil {
		errs = append(errs, e.err)
	}
	return errs
}

// Format returns a nicely formatted error message with context.
func (e *ParseError) Format() string {
	var b strings.Builder

	name := e.File
	if name == "" {
		name = "document"
	}
	fmt.Fprintf(&b, "❌ Error in %s\n\n", name)

	if e.Line > 0 {
		fmt.Fprintf(&b, "Line %d: %s\n", e.Line, e.Message)
	} else {
		fmt.Fprintf(&b, "%s\n", e.Message)
	}

	if ctx := e.codeContext(); ctx != "" {
		b.WriteString(ctx)
	}

	for _, issue := range e.Issues {
		fmt.Fprintf(&b, "  • %s: %s [%s]\n", issue.Path, issue.Message, issue.Code)
	}

	if e.Hint != "" {
		fmt.Fprintf(&b, "\n💡 Tip: %s\n", e.Hint)
	}

	return b.String()
}

// codeContext extracts the lines around the error line.
func (e *ParseError) codeContext() string {
	if e.Line < 1 {
		return ""
	}
	src := e.source
	if src == nil && e.File != "" {
		data, err := os.ReadFile(e.File)
		if err != nil {
			return ""
		}
		src = data
	}
	if src == nil {
		return ""
	}

	lines := strings.Split(string(src), "\n")
	if e.Line > len(lines) {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n")

	// Show 2 lines before, the error line, and 2 lines after
	start := max(1, e.Line-2)
	end := min(len(lines), e.Line+2)

	for i := start; i <= end; i++ {
		prefix := fmt.Sprintf("  %2d | ", i)
		b.WriteString(prefix + lines[i-1] + "\n")

		if i == e.Line && e.Column > 0 {
			b.WriteString(strings.Repeat(" ", len(prefix)+e.Column-1) + "^\n")
		}
	}

	return b.String()
}

func newParseError(kind error, message string) *ParseError {
	return &ParseError{Kind: kind, Message: message}
}

// withCause records the underlying error.
func (e *ParseError) withCause(err error) *ParseError {
	e.err = err
	return e
}

// withOffset converts a byte offset into src to a line and column.
func (e *ParseError) withOffset(src []byte, offset int64) *ParseError {
	e.source = src
	if offset < 0 || offset > int64(len(src)) {
		return e
	}
	before := src[:offset]
	e.Line = bytes.Count(before, []byte("\n")) + 1
	e.Column = int(offset) - (bytes.LastIndexByte(before, '\n') + 1)
	if e.Column < 1 {
		e.Column = 1
	}
	return e
}

// WithHint adds a helpful hint to the error.
func (e *ParseError) WithHint(hint string) *ParseError {
	e.Hint = hint
	return e
}
