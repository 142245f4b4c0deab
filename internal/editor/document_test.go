package editor

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseDoc = `{"instructions": "Print a number", "code": "print(1)", "language": "python"}`

func fixedClock() func() time.Time {
	t := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func newTestDocument(t *testing.T) *Document {
	t.Helper()
	return NewDocument("doc.s3", []byte(baseDoc), WithDocumentClock(fixedClock()))
}

func TestNewDocumentNormalizesContent(t *testing.T) {
	d := newTestDocument(t)
	assert.Equal(t, "{\n  \"instructions\": \"Print a number\",\n  \"code\": \"print(1)\",\n  \"language\": \"python\"\n}", string(d.Content()))
	assert.False(t, d.IsDirty())
	assert.False(t, d.CanUndo())
	assert.Equal(t, "doc.s3", d.URI())
}

func TestNewDocumentInvalidBase(t *testing.T) {
	d := NewDocument("bad.s3", []byte("{not json"))
	assert.Equal(t, Content{}, d.Parsed())
	assert.Equal(t, "{\n  \"instructions\": \"\",\n  \"code\": \"\"\n}", string(d.Content()))
}

func TestContentMarshalKeepsMarkup(t *testing.T) {
	c := Content{Code: "<b>&</b>"}
	assert.Contains(t, string(c.Marshal()), `"code": "<b>&</b>"`)
}

func TestMakeEdit(t *testing.T) {
	d := newTestDocument(t)

	require.NoError(t, d.MakeEdit(Edit{Type: EditCode, Content: "print(2)"}))
	assert.Equal(t, "print(2)", d.Parsed().Code)
	assert.True(t, d.IsDirty())
	assert.False(t, d.Edits()[0].Timestamp.IsZero())

	err := d.MakeEdit(Edit{Type: "title", Content: "x"})
	assert.ErrorIs(t, err, ErrInvalidEdit)
	assert.Len(t, d.Edits(), 1)
}

func TestUndoRedo(t *testing.T) {
	d := newTestDocument(t)
	require.NoError(t, d.MakeEdit(Edit{Type: EditCode, Content: "print(2)"}))
	require.NoError(t, d.MakeEdit(Edit{Type: EditInstructions, Content: "Print two"}))

	assert.True(t, d.Undo())
	assert.Equal(t, "Print a number", d.Parsed().Instructions)
	assert.Equal(t, "print(2)", d.Parsed().Code)
	assert.True(t, d.CanRedo())

	assert.True(t, d.Redo())
	assert.Equal(t, "Print two", d.Parsed().Instructions)
	assert.False(t, d.Redo())

	assert.True(t, d.Undo())
	assert.True(t, d.Undo())
	assert.False(t, d.Undo())
	assert.Equal(t, "print(1)", d.Parsed().Code)
	assert.False(t, d.IsDirty())

	// a new edit drops the redo stack
	require.NoError(t, d.MakeEdit(Edit{Type: EditLanguage, Content: "javascript"}))
	assert.False(t, d.CanRedo())
}

func TestSaveAndRevert(t *testing.T) {
	d := newTestDocument(t)
	require.NoError(t, d.MakeEdit(Edit{Type: EditCode, Content: "print(2)"}))
	d.Save()
	assert.False(t, d.IsDirty())

	require.NoError(t, d.MakeEdit(Edit{Type: EditCode, Content: "print(3)"}))
	assert.True(t, d.IsDirty())

	d.Revert()
	assert.False(t, d.IsDirty())
	assert.Equal(t, "print(2)", d.Parsed().Code)
}

func TestDirtyCountsEditsSinceSave(t *testing.T) {
	d := newTestDocument(t)
	require.NoError(t, d.MakeEdit(Edit{Type: EditCode, Content: "print(2)"}))
	d.Save()

	// fewer edits than at the save point is clean
	assert.True(t, d.Undo())
	assert.Empty(t, d.Edits())
	assert.False(t, d.IsDirty())

	assert.True(t, d.Redo())
	assert.False(t, d.IsDirty())

	require.NoError(t, d.MakeEdit(Edit{Type: EditCode, Content: "print(3)"}))
	assert.True(t, d.IsDirty())
}

func TestReload(t *testing.T) {
	d := newTestDocument(t)
	require.NoError(t, d.MakeEdit(Edit{Type: EditCode, Content: "print(2)"}))

	err := d.Reload([]byte(`{"instructions": "new", "code": "x"}`))
	assert.ErrorIs(t, err, ErrDirty)
	assert.Equal(t, "print(2)", d.Parsed().Code)

	d.Save()
	require.NoError(t, d.Reload([]byte(`{"instructions": "new", "code": "x"}`)))
	assert.Equal(t, Content{Instructions: "new", Code: "x"}, d.Parsed())
	assert.Empty(t, d.Edits())
	assert.False(t, d.IsDirty())
}

func TestOnChange(t *testing.T) {
	d := newTestDocument(t)

	var labels []string
	var last Change
	unsubscribe := d.OnChange(func(ch Change) {
		labels = append(labels, ch.Label)
		last = ch
	})

	require.NoError(t, d.MakeEdit(Edit{Type: EditCode, Content: "print(2)"}))
	assert.True(t, last.Dirty)
	assert.Equal(t, 1, last.Edits)
	assert.Contains(t, string(last.Content), "print(2)")

	d.Undo()
	d.Redo()
	d.Revert()
	assert.Equal(t, []string{"Edit code", "Undo", "Redo", "Revert"}, labels)
	assert.False(t, last.Dirty)

	unsubscribe()
	require.NoError(t, d.MakeEdit(Edit{Type: EditCode, Content: "print(3)"}))
	assert.Len(t, labels, 4)
}

func TestSnapshotRestore(t *testing.T) {
	d := newTestDocument(t)
	require.NoError(t, d.MakeEdit(Edit{Type: EditCode, Content: "print(2)"}))
	d.Save()
	require.NoError(t, d.MakeEdit(Edit{Type: EditInstructions, Content: "Print more"}))

	data, err := json.Marshal(d.Snapshot())
	require.NoError(t, err)

	var snap Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))

	restored := NewDocument("doc.s3", snap.Base)
	restored.Restore(snap)
	assert.Equal(t, d.Parsed(), restored.Parsed())
	assert.True(t, restored.IsDirty())

	restored.Revert()
	assert.Equal(t, "print(2)", restored.Parsed().Code)
	assert.Equal(t, "Print a number", restored.Parsed().Instructions)
}

func TestIsContent(t *testing.T) {
	assert.True(t, IsContent([]byte(baseDoc)))
	assert.True(t, IsContent([]byte(`{}`)))
	assert.False(t, IsContent([]byte(`{"version": "1.0", "blocks": []}`)))
	assert.False(t, IsContent([]byte(`[1]`)))
	assert.False(t, IsContent([]byte(`nope`)))
}

func TestContentDocument(t *testing.T) {
	doc := ParseContent([]byte(baseDoc)).Document("doc")
	assert.Equal(t, "doc", doc.Title)
	require.Len(t, doc.Blocks, 1)
	assert.Equal(t, "main", doc.Blocks[0].ID)
	assert.Equal(t, "Print a number", doc.Blocks[0].Text)
	assert.Equal(t, "print(1)", doc.Blocks[0].Code.Source())

	assert.Equal(t, "javascript", string(Content{Language: "js"}.Document("x").Blocks[0].Language))
	assert.Equal(t, "python", string(Content{}.Document("x").Blocks[0].Language))
}
