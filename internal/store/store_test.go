package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *BackupStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "backups.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndLoad(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	created := time.Date(2025, 3, 14, 9, 26, 53, 589000000, time.UTC)
	saved, err := s.Save(ctx, Backup{URI: "docs/a.s3", Data: []byte(`{"code":"x"}`), Created: created})
	require.NoError(t, err)

	_, err = uuid.Parse(saved.ID)
	assert.NoError(t, err, "generated ids are UUIDs")

	loaded, err := s.Load(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, saved.ID, loaded.ID)
	assert.Equal(t, "docs/a.s3", loaded.URI)
	assert.Equal(t, `{"code":"x"}`, string(loaded.Data))
	assert.True(t, created.Equal(loaded.Created))
}

func TestSaveReplacesExistingID(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	b, err := s.Save(ctx, Backup{ID: "fixed", URI: "a.s3", Data: []byte("1")})
	require.NoError(t, err)
	assert.False(t, b.Created.IsZero())

	_, err = s.Save(ctx, Backup{ID: "fixed", URI: "a.s3", Data: []byte("2")})
	require.NoError(t, err)

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "2", string(all[0].Data))
}

func TestLoadMissing(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Load(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveRequiresURI(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Save(context.Background(), Backup{Data: []byte("x")})
	assert.Error(t, err)
}

func TestListDeleteAndPrune(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	var ids []string
	for i := 0; i < 4; i++ {
		b, err := s.Save(ctx, Backup{URI: "a.s3", Data: []byte{byte('0' + i)}, Created: base.Add(time.Duration(i) * time.Minute)})
		require.NoError(t, err)
		ids = append(ids, b.ID)
	}
	_, err := s.Save(ctx, Backup{URI: "b.s3", Data: []byte("b"), Created: base})
	require.NoError(t, err)

	list, err := s.List(ctx, "a.s3")
	require.NoError(t, err)
	require.Len(t, list, 4)
	assert.Equal(t, ids[3], list[0].ID, "newest first")
	assert.Equal(t, ids[0], list[3].ID)

	require.NoError(t, s.Delete(ctx, ids[3]))
	require.NoError(t, s.Delete(ctx, ids[3]))

	removed, err := s.Prune(ctx, "a.s3", 1)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	list, err = s.List(ctx, "a.s3")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, ids[2], list[0].ID)

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestOpenInMemory(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	b, err := s.Save(context.Background(), Backup{URI: "m.s3", Data: []byte("x")})
	require.NoError(t, err)
	_, err = s.Load(context.Background(), b.ID)
	assert.NoError(t, err)
}
