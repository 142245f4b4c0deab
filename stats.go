package software3

import (
	"math"
	"strings"
)

// Reading-time model: about 5 words per text line at 200 words per minute.
const (
	wordsPerLine   = 5
	wordsPerMinute = 200
)

// DocumentStats summarizes a document.
type DocumentStats struct {
	TotalBlocks            int             `json:"totalBlocks"`
	Languages              []LanguageStats `json:"languages"`
	ComplexityDistribution ComplexityStats `json:"complexityDistribution"`
	TotalLines             LineStats       `json:"totalLines"`
	EstimatedReadingTime   int             `json:"estimatedReadingTime"`
	Tags                   []TagStats      `json:"tags"`
}

// LanguageStats counts the blocks and code lines of one language.
type LanguageStats struct {
	Language   string  `json:"language"`
	BlockCount int     `json:"blockCount"`
	LineCount  int     `json:"lineCount"`
	Percentage float64 `json:"percentage"`
}

// ComplexityStats is a histogram of block complexity.
type ComplexityStats struct {
	Beginner     int `json:"beginner"`
	Intermediate int `json:"intermediate"`
	Advanced     int `json:"advanced"`
	Unspecified  int `json:"unspecified"`
}

// LineStats counts text and code lines.
type LineStats struct {
	Text  int `json:"text"`
	Code  int `json:"code"`
	Total int `json:"total"`
}

// TagStats counts the blocks carrying a tag.
type TagStats struct {
	Tag    string   `json:"tag"`
	Count  int      `json:"count"`
	Blocks []string `json:"blocks"`
}

func countLines(s string) int {
	return strings.Count(s, "\n") + 1
}

// GenerateStats computes statistics for doc in a single pass over its blocks.
// Languages and tags are listed in the order they are first seen.
func GenerateStats(doc *Document) DocumentStats {
	stats := DocumentStats{
		TotalBlocks: len(doc.Blocks),
		Languages:   []LanguageStats{},
		Tags:        []TagStats{},
	}
	langIndex := map[string]int{}
	tagIndex := map[string]int{}

	addLanguage := func(lang string, lines int) {
		i, ok := langIndex[lang]
		if !ok {
			i = len(stats.Languages)
			langIndex[lang] = i
			stats.Languages = append(stats.Languages, LanguageStats{Language: lang})
		}
		stats.Languages[i].BlockCount++
		stats.Languages[i].LineCount += lines
	}

	var docTags []string
	if doc.Metadata != nil {
		docTags = doc.Metadata.Tags
	}

	for _, b := range doc.Blocks {
		textLines := countLines(b.Text)
		codeLines := 0
		for _, src := range b.Code.Sources() {
			codeLines += countLines(src)
		}
		stats.TotalLines.Text += textLines
		stats.TotalLines.Code += codeLines

		switch {
		case b.Language == LanguageMulti && b.Code.IsMulti():
			for _, lang := range b.Code.Languages() {
				src, _ := b.Code.Variant(lang)
				addLanguage(lang, countLines(src))
			}
		case b.Language != LanguageMulti:
			addLanguage(string(b.Language), codeLines)
		}

		switch b.Complexity() {
		case ComplexityBeginner:
			stats.ComplexityDistribution.Beginner++
		case ComplexityIntermediate:
			stats.ComplexityDistribution.Intermediate++
		case ComplexityAdvanced:
			stats.ComplexityDistribution.Advanced++
		default:
			stats.ComplexityDistribution.Unspecified++
		}

		counted := map[string]bool{}
		for _, tag := range append(append([]string(nil), docTags...), b.Tags()...) {
			if counted[tag] {
				continue
			}
			counted[tag] = true
			i, ok := tagIndex[tag]
			if !ok {
				i = len(stats.Tags)
				tagIndex[tag] = i
				stats.Tags = append(stats.Tags, TagStats{Tag: tag, Blocks: []string{}})
			}
			stats.Tags[i].Count++
			stats.Tags[i].Blocks = append(stats.Tags[i].Blocks, b.ID)
		}
	}

	stats.TotalLines.Total = stats.TotalLines.Text + stats.TotalLines.Code
	if stats.TotalLines.Code > 0 {
		for i := range stats.Languages {
			stats.Languages[i].Percentage = float64(stats.Languages[i].LineCount) / float64(stats.TotalLines.Code) * 100
		}
	}
	stats.EstimatedReadingTime = int(math.Ceil(float64(stats.TotalLines.Text*wordsPerLine) / wordsPerMinute))
	return stats
}
