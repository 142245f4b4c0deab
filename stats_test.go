package software3

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateStats(t *testing.T) {
	a := NewBlock("a", "hello\nworld", "console.log(1)\n", LanguageJavaScript)
	a.Metadata.Tags = []string{"intro", "js"}
	b := NewMultiLanguageBlock("b", "pick one",
		MultiCode("python", "print(1)\n", "javascript", "console.log(2)\n"), "")
	b.Metadata.Complexity = ComplexityAdvanced

	doc := &Document{
		Version:  "1.0",
		Title:    "Stats",
		Metadata: &DocumentMetadata{Tags: []string{"intro"}},
		Blocks:   []*Block{a, b},
	}

	stats := GenerateStats(doc)

	assert.Equal(t, 2, stats.TotalBlocks)
	assert.Equal(t, LineStats{Text: 3, Code: 6, Total: 9}, stats.TotalLines)
	assert.Equal(t, 1, stats.EstimatedReadingTime)
	assert.Equal(t, ComplexityStats{Beginner: 1, Advanced: 1}, stats.ComplexityDistribution)

	require.Len(t, stats.Languages, 2)
	js, py := stats.Languages[0], stats.Languages[1]
	assert.Equal(t, "javascript", js.Language)
	assert.Equal(t, 2, js.BlockCount)
	assert.Equal(t, 4, js.LineCount)
	assert.InDelta(t, 66.67, js.Percentage, 0.01)
	assert.Equal(t, "python", py.Language)
	assert.Equal(t, 1, py.BlockCount)
	assert.Equal(t, 2, py.LineCount)
	assert.InDelta(t, 33.33, py.Percentage, 0.01)

	assert.Equal(t, []TagStats{
		{Tag: "intro", Count: 2, Blocks: []string{"a", "b"}},
		{Tag: "js", Count: 1, Blocks: []string{"a"}},
	}, stats.Tags)
}

func TestGenerateStatsReadingTime(t *testing.T) {
	text := ""
	for i := 0; i < 80; i++ {
		text += "line\n"
	}
	// 81 lines * 5 words / 200 wpm = 2.025 minutes
	doc := &Document{Blocks: []*Block{NewBlock("a", text, "", LanguagePlaintext)}}
	assert.Equal(t, 3, GenerateStats(doc).EstimatedReadingTime)
}

func TestGenerateStatsEmptyDocument(t *testing.T) {
	stats := GenerateStats(&Document{})
	assert.Equal(t, 0, stats.TotalBlocks)
	assert.Empty(t, stats.Languages)
	assert.Empty(t, stats.Tags)
	assert.Equal(t, 0, stats.EstimatedReadingTime)
}

func TestGenerateStatsUnspecifiedComplexity(t *testing.T) {
	doc := &Document{Blocks: []*Block{
		{ID: "x", Text: "t", Code: SingleCode("c"), Language: LanguageGo},
		{ID: "y", Text: "t", Code: SingleCode("c"), Language: LanguageGo, Metadata: &BlockMetadata{Complexity: "expert"}},
	}}
	stats := GenerateStats(doc)
	assert.Equal(t, ComplexityStats{Unspecified: 2}, stats.ComplexityDistribution)
	assert.Equal(t, []LanguageStats{{Language: "go", BlockCount: 2, LineCount: 2, Percentage: 100}}, stats.Languages)
}
