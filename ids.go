package software3

import (
	"fmt"
	"regexp"
	"strings"
)

const maxBlockIDLength = 100

var (
	blockIDPattern = regexp.MustCompile(`^[a-zA-Z0-9-_]+$`)
	invalidIDChars = regexp.MustCompile(`[^a-zA-Z0-9-_]`)
	dashRuns       = regexp.MustCompile(`-+`)
)

// IsValidBlockID reports whether id is 1-100 letters, digits, hyphens or underscores.
func IsValidBlockID(id string) bool {
	return len(id) >= 1 && len(id) <= maxBlockIDLength && blockIDPattern.MatchString(id)
}

// SanitizeBlockID turns an arbitrary string into a valid block id.
func SanitizeBlockID(id string) string {
	s := invalidIDChars.ReplaceAllString(id, "-")
	s = dashRuns.ReplaceAllString(s, "-")
	s = strings.TrimPrefix(s, "-")
	s = strings.TrimSuffix(s, "-")
	if len(s) > maxBlockIDLength {
		s = s[:maxBlockIDLength]
	}
	if s == "" {
		return "block"
	}
	return s
}

// UniqueBlockID returns base if no block of doc uses it, otherwise the first
// of base-1, base-2, ... that is free.
func UniqueBlockID(doc *Document, base string) string {
	used := make(map[string]bool, len(doc.Blocks))
	for _, b := range doc.Blocks {
		if b != nil {
			used[b.ID] = true
		}
	}
	candidate := base
	for n := 1; used[candidate]; n++ {
		candidate = fmt.Sprintf("%s-%d", base, n)
	}
	return candidate
}

// ensureUniqueBlockIDs renames missing and colliding ids in block order.
// Running it on its own output changes nothing.
func ensureUniqueBlockIDs(doc *Document) {
	seen := make(map[string]bool, len(doc.Blocks))
	for i, b := range doc.Blocks {
		if b == nil {
			continue
		}
		if b.ID == "" || seen[b.ID] {
			base := b.ID
			if base == "" {
				base = fmt.Sprintf("block-%d", i+1)
			}
			b.ID = UniqueBlockID(doc, base)
		}
		seen[b.ID] = true
	}
}
