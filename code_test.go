package software3

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeKeepsVariantOrder(t *testing.T) {
	var c Code
	require.NoError(t, json.Unmarshal([]byte(`{"zsh": "echo 1", "awk": "print", "c": "main"}`), &c))

	assert.True(t, c.IsMulti())
	assert.Equal(t, []string{"zsh", "awk", "c"}, c.Languages())
	assert.Equal(t, 3, c.Len())

	out, err := json.Marshal(c)
	require.NoError(t, err)
	assert.Equal(t, `{"zsh":"echo 1","awk":"print","c":"main"}`, string(out))
}

func TestCodeSingle(t *testing.T) {
	var c Code
	require.NoError(t, json.Unmarshal([]byte(`"a < b && c"`), &c))
	assert.True(t, c.IsSingle())
	assert.Equal(t, "a < b && c", c.Source())

	out, err := c.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"a < b && c"`, string(out))
}

func TestCodeInvalidAndMissing(t *testing.T) {
	var c Code
	require.NoError(t, json.Unmarshal([]byte(`[1, 2]`), &c))
	assert.True(t, c.IsInvalid())
	out, err := json.Marshal(c)
	require.NoError(t, err)
	assert.JSONEq(t, `[1, 2]`, string(out))

	require.NoError(t, json.Unmarshal([]byte(`{"python": 3}`), &c))
	assert.True(t, c.IsInvalid())

	require.NoError(t, json.Unmarshal([]byte(`null`), &c))
	assert.True(t, c.IsMissing())
	out, err = json.Marshal(c)
	require.NoError(t, err)
	assert.Equal(t, "null", string(out))
}

func TestCodeSetAndContains(t *testing.T) {
	c := SingleCode("x")
	c.Set("python", "print('Hi')")
	c.Set("go", "fmt.Println()")
	c.Set("python", "print('Bye')")

	assert.True(t, c.IsMulti())
	assert.Equal(t, []string{"python", "go"}, c.Languages())
	assert.Equal(t, []string{"print('Bye')", "fmt.Println()"}, c.Sources())
	assert.True(t, c.Contains("BYE"))
	assert.False(t, c.Contains("Hi"))

	_, ok := c.Variant("rust")
	assert.False(t, ok)
}

func TestMultiCodePanicsOnOddPairs(t *testing.T) {
	assert.Panics(t, func() { MultiCode("python") })
}

func TestLanguageFromFence(t *testing.T) {
	tests := map[string]Language{
		"":       LanguagePlaintext,
		"js":     LanguageJavaScript,
		"go":     LanguageGo,
		"golang": LanguageGo,
		"sh":     LanguageBash,
		"multi":  LanguageOther,
		"brainf": LanguageOther,
	}
	for in, want := range tests {
		assert.Equal(t, want, LanguageFromFence(in), in)
	}
	assert.Len(t, Languages(), 30)
}

func TestMetadataExtraRoundTrip(t *testing.T) {
	src := `{"author":"Ada","tags":[],"x-team":"core","version":2}`

	var m DocumentMetadata
	require.NoError(t, json.Unmarshal([]byte(src), &m))
	assert.Equal(t, "Ada", m.Author)
	assert.NotNil(t, m.Tags)
	assert.Empty(t, m.Tags)
	// a wrongly typed recognized key is kept verbatim
	assert.Equal(t, map[string]any{"x-team": "core", "version": float64(2)}, m.Extra)

	out, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, src, string(out))
}

func TestBlockMetadataFlags(t *testing.T) {
	var m BlockMetadata
	require.NoError(t, json.Unmarshal([]byte(`{"hidden":false,"outputs":[{"type":"text"}],"custom":true}`), &m))
	require.NotNil(t, m.Hidden)
	assert.False(t, *m.Hidden)
	assert.Nil(t, m.Executable)
	assert.Equal(t, []OutputSpec{{Type: "text"}}, m.Outputs)
	assert.Equal(t, map[string]any{"custom": true}, m.Extra)

	out, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"hidden":false,"outputs":[{"type":"text"}],"custom":true}`, string(out))
}
