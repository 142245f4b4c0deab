package software3

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

type codeKind uint8

const (
	codeMissing codeKind = iota
	codeSingle
	codeMulti
	codeInvalid
)

// Code is the code of a block: either a single source string or an ordered
// map from language name to source (for "multi" blocks).
//
// The zero value is missing code.
type Code struct {
	kind     codeKind
	source   string
	langs    []string
	variants map[string]string
	raw      json.RawMessage // original bytes when kind is codeInvalid
}

// SingleCode returns code holding one source string.
func SingleCode(source string) Code {
	return Code{kind: codeSingle, source: source}
}

// MultiCode returns code holding language/source pairs in the given order.
// It panics if pairs has an odd length.
func MultiCode(pairs ...string) Code {
	if len(pairs)%2 != 0 {
		panic("software3: MultiCode needs language/source pairs")
	}
	c := Code{kind: codeMulti, variants: make(map[string]string, len(pairs)/2)}
	for i := 0; i < len(pairs); i += 2 {
		c.Set(pairs[i], pairs[i+1])
	}
	return c
}

// IsSingle reports whether the code is a single source string.
func (c Code) IsSingle() bool { return c.kind == codeSingle }

// IsMulti reports whether the code is a language map.
func (c Code) IsMulti() bool { return c.kind == codeMulti }

// IsMissing reports whether no code was given.
func (c Code) IsMissing() bool { return c.kind == codeMissing }

// IsInvalid reports whether the decoded JSON was neither a string nor an
// object of strings.
func (c Code) IsInvalid() bool { return c.kind == codeInvalid }

// Source returns the single source string ("" for multi code).
func (c Code) Source() string { return c.source }

// Languages returns the variant languages in order.
func (c Code) Languages() []string {
	out := make([]string, len(c.langs))
	copy(out, c.langs)
	return out
}

// Variant returns the source for lang.
func (c Code) Variant(lang string) (string, bool) {
	src, ok := c.variants[lang]
	return src, ok
}

// Len returns the number of variants, or 1 for single code.
func (c Code) Len() int {
	switch c.kind {
	case codeSingle:
		return 1
	case codeMulti:
		return len(c.langs)
	}
	return 0
}

// Set adds or replaces a variant, turning the code into multi code.
func (c *Code) Set(lang, source string) {
	if c.kind != codeMulti {
		*c = Code{kind: codeMulti, variants: make(map[string]string)}
	}
	if _, ok := c.variants[lang]; !ok {
		c.langs = append(c.langs, lang)
	}
	c.variants[lang] = source
}

// Sources returns every source string: the single source, or each variant in order.
func (c Code) Sources() []string {
	switch c.kind {
	case codeSingle:
		return []string{c.source}
	case codeMulti:
		out := make([]string, 0, len(c.langs))
		for _, l := range c.langs {
			out = append(out, c.variants[l])
		}
		return out
	}
	return nil
}

// Contains reports whether any source contains substr, case-insensitively.
func (c Code) Contains(substr string) bool {
	needle := strings.ToLower(substr)
	for _, src := range c.Sources() {
		if strings.Contains(strings.ToLower(src), needle) {
			return true
		}
	}
	return false
}

// MarshalJSON encodes single code as a string and multi code as an object
// whose keys keep their insertion order.
func (c Code) MarshalJSON() ([]byte, error) {
	switch c.kind {
	case codeSingle:
		return marshalNoEscape(c.source)
	case codeMulti:
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, l := range c.langs {
			if i > 0 {
				buf.WriteByte(',')
			}
			k, err := marshalNoEscape(l)
			if err != nil {
				return nil, err
			}
			v, err := marshalNoEscape(c.variants[l])
			if err != nil {
				return nil, err
			}
			buf.Write(k)
			buf.WriteByte(':')
			buf.Write(v)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	case codeInvalid:
		return c.raw, nil
	}
	return []byte("null"), nil
}

// UnmarshalJSON accepts a string, an object of strings, or null. Any other
// value is kept as invalid code for the validator to report.
func (c *Code) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	*c = Code{}
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*c = SingleCode(s)
		return nil
	case '{':
		langs, err := objectKeys(trimmed)
		if err != nil {
			return err
		}
		var variants map[string]string
		if err := json.Unmarshal(trimmed, &variants); err != nil {
			c.kind = codeInvalid
			c.raw = append(json.RawMessage(nil), trimmed...)
			return nil
		}
		c.kind = codeMulti
		c.langs = langs
		c.variants = variants
		return nil
	}

	c.kind = codeInvalid
	c.raw = append(json.RawMessage(nil), trimmed...)
	return nil
}

// objectKeys returns the keys of a JSON object in document order.
func objectKeys(data []byte) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected object")
	}
	keys := []string{}
	seen := map[string]bool{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected object key")
		}
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

// marshalNoEscape encodes v without escaping <, > and &, so code samples stay readable.
func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
