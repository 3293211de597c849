package nav

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperdrive/paperdrive-go/internal/keyspace"
	"github.com/paperdrive/paperdrive-go/internal/objstore"
	"github.com/paperdrive/paperdrive-go/internal/tree"
)

func fixtureTree(t *testing.T) *tree.Tree {
	t.Helper()

	scope, err := keyspace.NewScope("u1/")
	require.NoError(t, err)

	built, warnings := tree.Build(scope, []objstore.Record{
		{Key: "u1/zebra.txt", ContentType: "text/plain", Size: 5},
		{Key: "u1/alpha.pdf", ContentType: "application/pdf", Size: 9},
		{Key: "u1/docs/.folder"},
		{Key: "u1/docs/q1.pdf", ContentType: "application/pdf", Size: 7, DisplayName: "Q1 Report"},
		{Key: "u1/archive/.folder"},
	})
	require.Empty(t, warnings)

	return built
}

func TestCursor_ListSortsFoldersFirst(t *testing.T) {
	t.Parallel()

	entries, err := NewCursor(nil).List(fixtureTree(t))
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}

	assert.Equal(t, []string{"archive", "docs", "alpha.pdf", "zebra.txt"}, names)
	assert.True(t, entries[0].IsFolder)
	assert.True(t, entries[1].IsFolder)
	assert.False(t, entries[2].IsFolder)
}

func TestCursor_DisplayNameOverride(t *testing.T) {
	t.Parallel()

	entries, err := NewCursor([]string{"docs"}).List(fixtureTree(t))
	require.NoError(t, err)

	require.Len(t, entries, 1)
	assert.Equal(t, "q1.pdf", entries[0].Name)
	assert.Equal(t, "Q1 Report", entries[0].Display)
	assert.Equal(t, "u1/docs/q1.pdf", entries[0].Key)
}

func TestCursor_Navigation(t *testing.T) {
	t.Parallel()

	c := NewCursor(nil)
	c.Descend("docs")
	assert.Equal(t, []string{"docs"}, c.Path())

	c.Up()
	assert.Empty(t, c.Path())

	// Up at root stays at root.
	c.Up()
	assert.Empty(t, c.Path())

	c.MoveTo([]string{"a", "b"})
	assert.Equal(t, []string{"a", "b"}, c.Path())
}

func TestCursor_Breadcrumb(t *testing.T) {
	t.Parallel()

	c := NewCursor([]string{"a", "b"})

	assert.Equal(t, [][]string{{}, {"a"}, {"a", "b"}}, c.Breadcrumb())
}

func TestCursor_MissingFolder(t *testing.T) {
	t.Parallel()

	_, err := NewCursor([]string{"absent"}).List(fixtureTree(t))

	var noSuch *ErrNoSuchFolder
	require.ErrorAs(t, err, &noSuch)
	assert.Equal(t, []string{"absent"}, noSuch.Path)
}

func TestCursor_EmptyFolderLists(t *testing.T) {
	t.Parallel()

	entries, err := NewCursor([]string{"archive"}).List(fixtureTree(t))
	require.NoError(t, err)
	assert.Empty(t, entries)
}
