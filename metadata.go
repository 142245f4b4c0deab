package software3

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// DocumentMetadata holds the recognized document metadata keys. Any other key
// found in the JSON is kept in Extra and written back next to them.
type DocumentMetadata struct {
	Author      string
	Created     string
	Modified    string
	Description string
	Tags        []string
	Version     string
	License     string
	Language    string
	Category    Category
	Extra       map[string]any
}

type documentMetadataJSON struct {
	Author      string    `json:"author,omitempty"`
	Created     string    `json:"created,omitempty"`
	Modified    string    `json:"modified,omitempty"`
	Description string    `json:"description,omitempty"`
	Tags        *[]string `json:"tags,omitempty"`
	Version     string    `json:"version,omitempty"`
	License     string    `json:"license,omitempty"`
	Language    string    `json:"language,omitempty"`
	Category    Category  `json:"category,omitempty"`
}

func (m *documentMetadataJSON) targets() map[string]any {
	return map[string]any{
		"author":      &m.Author,
		"created":     &m.Created,
		"modified":    &m.Modified,
		"description": &m.Description,
		"tags":        &m.Tags,
		"version":     &m.Version,
		"license":     &m.License,
		"language":    &m.Language,
		"category":    &m.Category,
	}
}

// MarshalJSON writes the recognized keys followed by Extra in key order.
// Extra values that cannot be encoded are skipped.
func (m DocumentMetadata) MarshalJSON() ([]byte, error) {
	w := documentMetadataJSON{
		Author:      m.Author,
		Created:     m.Created,
		Modified:    m.Modified,
		Description: m.Description,
		Tags:        sliceRef(m.Tags),
		Version:     m.Version,
		License:     m.License,
		Language:    m.Language,
		Category:    m.Category,
	}
	return marshalWithExtra(w, m.Extra)
}

// UnmarshalJSON decodes recognized keys into their fields. Unknown keys, and
// recognized keys holding a value of the wrong type, land in Extra.
func (m *DocumentMetadata) UnmarshalJSON(data []byte) error {
	var w documentMetadataJSON
	extra, err := unmarshalWithExtra(data, w.targets())
	if err != nil {
		return err
	}
	*m = DocumentMetadata{
		Author:      w.Author,
		Created:     w.Created,
		Modified:    w.Modified,
		Description: w.Description,
		Tags:        sliceVal(w.Tags),
		Version:     w.Version,
		License:     w.License,
		Language:    w.Language,
		Category:    w.Category,
		Extra:       extra,
	}
	return nil
}

// BlockMetadata holds the recognized block metadata keys plus free-form Extra.
type BlockMetadata struct {
	Tags            []string
	Complexity      Complexity
	ExecutionTime   string
	Dependencies    []string
	Outputs         []OutputSpec
	Hidden          *bool
	Readonly        *bool
	Executable      *bool
	Environment     Environment
	DefaultLanguage string
	ImportType      ImportType
	ImportPath      string
	ExpectedOutput  *ExpectedOutput
	Extra           map[string]any
}

type blockMetadataJSON struct {
	Tags            *[]string       `json:"tags,omitempty"`
	Complexity      Complexity      `json:"complexity,omitempty"`
	ExecutionTime   string          `json:"executionTime,omitempty"`
	Dependencies    *[]string       `json:"dependencies,omitempty"`
	Outputs         *[]OutputSpec   `json:"outputs,omitempty"`
	Hidden          *bool           `json:"hidden,omitempty"`
	Readonly        *bool           `json:"readonly,omitempty"`
	Executable      *bool           `json:"executable,omitempty"`
	Environment     Environment     `json:"environment,omitempty"`
	DefaultLanguage string          `json:"defaultLanguage,omitempty"`
	ImportType      ImportType      `json:"importType,omitempty"`
	ImportPath      string          `json:"importPath,omitempty"`
	ExpectedOutput  *ExpectedOutput `json:"expectedOutput,omitempty"`
}

func (m *blockMetadataJSON) targets() map[string]any {
	return map[string]any{
		"tags":            &m.Tags,
		"complexity":      &m.Complexity,
		"executionTime":   &m.ExecutionTime,
		"dependencies":    &m.Dependencies,
		"outputs":         &m.Outputs,
		"hidden":          &m.Hidden,
		"readonly":        &m.Readonly,
		"executable":      &m.Executable,
		"environment":     &m.Environment,
		"defaultLanguage": &m.DefaultLanguage,
		"importType":      &m.ImportType,
		"importPath":      &m.ImportPath,
		"expectedOutput":  &m.ExpectedOutput,
	}
}

func (m BlockMetadata) MarshalJSON() ([]byte, error) {
	w := blockMetadataJSON{
		Tags:            sliceRef(m.Tags),
		Complexity:      m.Complexity,
		ExecutionTime:   m.ExecutionTime,
		Dependencies:    sliceRef(m.Dependencies),
		Outputs:         sliceRef(m.Outputs),
		Hidden:          m.Hidden,
		Readonly:        m.Readonly,
		Executable:      m.Executable,
		Environment:     m.Environment,
		DefaultLanguage: m.DefaultLanguage,
		ImportType:      m.ImportType,
		ImportPath:      m.ImportPath,
		ExpectedOutput:  m.ExpectedOutput,
	}
	return marshalWithExtra(w, m.Extra)
}

func (m *BlockMetadata) UnmarshalJSON(data []byte) error {
	var w blockMetadataJSON
	extra, err := unmarshalWithExtra(data, w.targets())
	if err != nil {
		return err
	}
	*m = BlockMetadata{
		Tags:            sliceVal(w.Tags),
		Complexity:      w.Complexity,
		ExecutionTime:   w.ExecutionTime,
		Dependencies:    sliceVal(w.Dependencies),
		Outputs:         sliceVal(w.Outputs),
		Hidden:          w.Hidden,
		Readonly:        w.Readonly,
		Executable:      w.Executable,
		Environment:     w.Environment,
		DefaultLanguage: w.DefaultLanguage,
		ImportType:      w.ImportType,
		ImportPath:      w.ImportPath,
		ExpectedOutput:  w.ExpectedOutput,
		Extra:           extra,
	}
	return nil
}

// marshalWithExtra encodes known and then appends the extra keys that known
// did not already emit.
func marshalWithExtra(known any, extra map[string]any) ([]byte, error) {
	base, err := marshalNoEscape(known)
	if err != nil {
		return nil, err
	}
	if len(extra) == 0 {
		return base, nil
	}

	var emitted map[string]json.RawMessage
	if err := json.Unmarshal(base, &emitted); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(extra))
	for k := range extra {
		if _, ok := emitted[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.Write(base[:len(base)-1])
	first := len(emitted) == 0
	for _, k := range keys {
		v, err := marshalNoEscape(extra[k])
		if err != nil {
			// not representable as JSON; dropped like any other lossy field
			continue
		}
		name, _ := marshalNoEscape(k)
		if !first {
			buf.WriteByte(',')
		}
		first = false
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// unmarshalWithExtra decodes each key of the JSON object into its target.
// Keys without a target, or whose value does not fit the target, are returned
// as extra values.
func unmarshalWithExtra(data []byte, targets map[string]any) (map[string]any, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("metadata must be an object: %w", err)
	}

	var extra map[string]any
	for k, v := range raw {
		if target, ok := targets[k]; ok {
			if err := json.Unmarshal(v, target); err == nil {
				continue
			}
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return nil, err
		}
		if extra == nil {
			extra = make(map[string]any)
		}
		extra[k] = val
	}
	return extra, nil
}

func sliceRef[T any](s []T) *[]T {
	if s == nil {
		return nil
	}
	return &s
}

func sliceVal[T any](p *[]T) []T {
	if p == nil {
		return nil
	}
	if *p == nil {
		return []T{}
	}
	return *p
}
