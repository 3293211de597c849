package objstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_PutGet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()

	meta := map[string]string{MetaDisplayName: "Q1 Report.pdf"}
	require.NoError(t, store.Put(ctx, "u1/reports/q1.pdf", []byte("pdf bytes"), "application/pdf", meta))

	payload, rec, err := store.Get(ctx, "u1/reports/q1.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("pdf bytes"), payload)
	assert.Equal(t, "application/pdf", rec.ContentType)
	assert.Equal(t, "Q1 Report.pdf", rec.DisplayName)
	assert.Equal(t, int64(9), rec.Size)
	assert.False(t, rec.LastModified.IsZero())
}

func TestMemoryStore_GetMissing(t *testing.T) {
	t.Parallel()

	_, _, err := NewMemoryStore().Get(context.Background(), "u1/absent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_PutOverwrites(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Put(ctx, "u1/a.txt", []byte("one"), "text/plain", nil))
	require.NoError(t, store.Put(ctx, "u1/a.txt", []byte("two"), "text/plain", nil))

	payload, _, err := store.Get(ctx, "u1/a.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), payload)
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStore_ListByPrefix(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Put(ctx, "u1/a.txt", []byte("a"), "text/plain", nil))
	require.NoError(t, store.Put(ctx, "u1/docs/b.txt", []byte("b"), "text/plain", nil))
	require.NoError(t, store.Put(ctx, "u2/c.txt", []byte("c"), "text/plain", nil))

	records, err := store.List(ctx, "u1/")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "u1/a.txt", records[0].Key)
	assert.Equal(t, "u1/docs/b.txt", records[1].Key)
}

func TestMemoryStore_DeleteIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Put(ctx, "u1/a.txt", []byte("a"), "text/plain", nil))
	require.NoError(t, store.Delete(ctx, "u1/a.txt"))
	// Second delete of the same key must also succeed.
	require.NoError(t, store.Delete(ctx, "u1/a.txt"))
	assert.Equal(t, 0, store.Len())
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Put(ctx, "u1/a.txt", []byte("abc"), "text/plain", nil))

	payload, _, err := store.Get(ctx, "u1/a.txt")
	require.NoError(t, err)

	payload[0] = 'X'

	again, _, err := store.Get(ctx, "u1/a.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), again, "stored payload must not alias returned slices")
}

func TestContentTypeForKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DirectoryContentType, contentTypeForKey("u1/docs/.folder"))
	assert.Equal(t, "application/pdf", contentTypeForKey("u1/docs/q1.pdf"))
	assert.Equal(t, "application/octet-stream", contentTypeForKey("u1/docs/README"))
}
