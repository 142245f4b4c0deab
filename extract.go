package software3

import (
	"slices"
	"sort"
	"strings"
)

// Filter selects blocks. A block must satisfy every set criterion; empty
// slices, an empty SearchText and nil pointers impose no constraint.
type Filter struct {
	IDs       []string
	Tags      []string   // any of
	Languages []Language // the block's own tag, not its variants
	// Complexity rejects blocks declaring a level outside the list. Blocks
	// with no declared complexity pass.
	Complexity []Complexity
	SearchText string
	Executable *bool
	Hidden     *bool
}

// Match reports whether b satisfies f.
func (f Filter) Match(b *Block) bool {
	if len(f.IDs) > 0 && !slices.Contains(f.IDs, b.ID) {
		return false
	}

	if len(f.Tags) > 0 {
		tags := b.Tags()
		if !slices.ContainsFunc(f.Tags, func(t string) bool { return slices.Contains(tags, t) }) {
			return false
		}
	}

	if len(f.Languages) > 0 && !slices.Contains(f.Languages, b.Language) {
		return false
	}

	if len(f.Complexity) > 0 {
		c := b.Complexity()
		if c != "" && !slices.Contains(f.Complexity, c) {
			return false
		}
	}

	if f.SearchText != "" {
		if !strings.Contains(strings.ToLower(b.Text), strings.ToLower(f.SearchText)) && !b.Code.Contains(f.SearchText) {
			return false
		}
	}

	if f.Executable != nil && !boolEquals(metaBool(b, func(m *BlockMetadata) *bool { return m.Executable }), *f.Executable) {
		return false
	}
	if f.Hidden != nil && !boolEquals(metaBool(b, func(m *BlockMetadata) *bool { return m.Hidden }), *f.Hidden) {
		return false
	}
	return true
}

func metaBool(b *Block, field func(*BlockMetadata) *bool) *bool {
	if b.Metadata == nil {
		return nil
	}
	return field(b.Metadata)
}

// boolEquals treats an unset flag as matching neither true nor false.
func boolEquals(v *bool, want bool) bool {
	return v != nil && *v == want
}

// ExtractBlocks returns the blocks of doc matching f, in document order.
func ExtractBlocks(doc *Document, f Filter) []*Block {
	out := []*Block{}
	for _, b := range doc.Blocks {
		if f.Match(b) {
			out = append(out, b)
		}
	}
	return out
}

// ExtractTags returns every document and block tag, sorted and deduplicated.
func ExtractTags(doc *Document) []string {
	set := map[string]bool{}
	if doc.Metadata != nil {
		for _, t := range doc.Metadata.Tags {
			set[t] = true
		}
	}
	for _, b := range doc.Blocks {
		for _, t := range b.Tags() {
			set[t] = true
		}
	}
	tags := make([]string, 0, len(set))
	for t := range set {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

// CodeByLanguage groups every code source of doc by language. If lang is
// non-empty only that language is collected.
func CodeByLanguage(doc *Document, lang Language) map[string][]string {
	out := map[string][]string{}
	for _, b := range doc.Blocks {
		switch {
		case b.Language == LanguageMulti && b.Code.IsMulti():
			for _, l := range b.Code.Languages() {
				if lang == "" || Language(l) == lang {
					src, _ := b.Code.Variant(l)
					out[l] = append(out[l], src)
				}
			}
		case b.Code.IsSingle():
			if lang == "" || b.Language == lang {
				out[string(b.Language)] = append(out[string(b.Language)], b.Code.Source())
			}
		}
	}
	return out
}
