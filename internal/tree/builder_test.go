package tree

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperdrive/paperdrive-go/internal/keyspace"
	"github.com/paperdrive/paperdrive-go/internal/objstore"
)

func testScope(t *testing.T) keyspace.Scope {
	t.Helper()

	scope, err := keyspace.NewScope("u1/")
	require.NoError(t, err)

	return scope
}

// rec builds a listing record with sensible defaults.
func rec(key string) objstore.Record {
	return objstore.Record{Key: key, ContentType: "application/pdf", Size: 4}
}

func placeholderRec(key string) objstore.Record {
	return objstore.Record{Key: key, ContentType: objstore.DirectoryContentType, Size: 0}
}

func TestBuild_ScenarioReportsFolder(t *testing.T) {
	t.Parallel()

	scope := testScope(t)

	listing := []objstore.Record{
		placeholderRec("u1/reports/.folder"),
		rec("u1/reports/q1.pdf"),
	}

	tr, warnings := Build(scope, listing)
	require.Empty(t, warnings)

	reports, ok := tr.Find([]string{"reports"})
	require.True(t, ok, "folder reports must exist")
	assert.True(t, reports.HasMarker, "placeholder observed, marker must be set")

	require.Len(t, reports.Files, 1, "reports must have exactly one child")
	require.Empty(t, reports.Folders)

	q1 := reports.Files["q1.pdf"]
	require.NotNil(t, q1)
	assert.Equal(t, "u1/reports/q1.pdf", q1.Key)
	assert.Equal(t, "q1.pdf", q1.Name)
}

func TestBuild_EmptyFolderDurability(t *testing.T) {
	t.Parallel()

	scope := testScope(t)

	listing := []objstore.Record{placeholderRec("u1/A/.folder")}

	tr, warnings := Build(scope, listing)
	require.Empty(t, warnings)

	a, ok := tr.Find([]string{"A"})
	require.True(t, ok, "empty folder A must survive the rebuild")
	assert.True(t, a.IsEmpty())
	assert.True(t, a.HasMarker)
}

func TestBuild_IdempotentRebuild(t *testing.T) {
	t.Parallel()

	scope := testScope(t)

	listing := []objstore.Record{
		placeholderRec("u1/A/.folder"),
		placeholderRec("u1/A/B/.folder"),
		rec("u1/A/B/x.txt"),
		rec("u1/top.pdf"),
	}

	first, w1 := Build(scope, listing)
	second, w2 := Build(scope, listing)

	require.Empty(t, w1)
	require.Empty(t, w2)
	assert.Equal(t, first.Root, second.Root, "same listing must build structurally equal trees")
}

func TestBuild_OrderIndependence(t *testing.T) {
	t.Parallel()

	scope := testScope(t)

	forward := []objstore.Record{
		placeholderRec("u1/A/.folder"),
		rec("u1/A/x.txt"),
		rec("u1/A/deep/y.txt"),
		rec("u1/z.pdf"),
	}

	reversed := []objstore.Record{
		rec("u1/z.pdf"),
		rec("u1/A/deep/y.txt"),
		rec("u1/A/x.txt"),
		placeholderRec("u1/A/.folder"),
	}

	a, wa := Build(scope, forward)
	b, wb := Build(scope, reversed)

	require.Empty(t, wa)
	require.Empty(t, wb)
	assert.Equal(t, a.Root, b.Root, "listing order must not affect the tree")
}

func TestBuild_ImpliedIntermediateFolders(t *testing.T) {
	t.Parallel()

	scope := testScope(t)

	// No placeholders at all: folders exist only because file keys imply them.
	listing := []objstore.Record{rec("u1/a/b/c/doc.pdf")}

	tr, warnings := Build(scope, listing)
	require.Empty(t, warnings)

	for _, path := range [][]string{{"a"}, {"a", "b"}, {"a", "b", "c"}} {
		folder, ok := tr.Find(path)
		require.True(t, ok, "implied folder %v must exist", path)
		assert.False(t, folder.HasMarker, "implied folder %v has no placeholder", path)
	}

	c, _ := tr.Find([]string{"a", "b", "c"})
	require.NotNil(t, c.Files["doc.pdf"])
}

func TestBuild_PlaceholderNeverAFile(t *testing.T) {
	t.Parallel()

	scope := testScope(t)

	listing := []objstore.Record{
		placeholderRec("u1/docs/.folder"),
		rec("u1/docs/a.pdf"),
	}

	tr, warnings := Build(scope, listing)
	require.Empty(t, warnings)

	docs, ok := tr.Find([]string{"docs"})
	require.True(t, ok)

	_, markerAsFile := docs.Files[keyspace.Marker]
	assert.False(t, markerAsFile, "marker record must be consumed, not surfaced as a file")
	assert.Len(t, docs.Files, 1)
}

func TestBuild_SkipsMalformedAndForeignRecords(t *testing.T) {
	t.Parallel()

	scope := testScope(t)

	listing := []objstore.Record{
		rec("u1/good.pdf"),
		rec("u2/foreign.pdf"),          // other scope
		rec("u1/docs//broken.pdf"),     // empty component
		rec("u1/"),                     // bare prefix
		placeholderRec("u1/ok/.folder"),
	}

	tr, warnings := Build(scope, listing)

	require.Len(t, warnings, 3)

	warnedKeys := make(map[string]error, len(warnings))
	for _, w := range warnings {
		warnedKeys[w.Key] = w.Err
	}

	assert.ErrorIs(t, warnedKeys["u2/foreign.pdf"], keyspace.ErrOutOfScope)

	var decodeErr *keyspace.DecodeError
	assert.ErrorAs(t, warnedKeys["u1/docs//broken.pdf"], &decodeErr)
	assert.Contains(t, warnedKeys, "u1/")

	// The good records still landed.
	require.NotNil(t, tr.Root.Files["good.pdf"])
	_, ok := tr.Find([]string{"ok"})
	assert.True(t, ok)
	_, ok = tr.Find([]string{"docs"})
	assert.False(t, ok, "malformed record must not leave partial structure")
}

func TestBuild_FileFolderCollision_FolderWins(t *testing.T) {
	t.Parallel()

	scope := testScope(t)

	// "docs" is simultaneously a root-level file and a folder implied by a
	// deeper key. The folder wins regardless of listing order.
	orders := [][]objstore.Record{
		{rec("u1/docs"), rec("u1/docs/inner.pdf")},
		{rec("u1/docs/inner.pdf"), rec("u1/docs")},
	}

	for _, listing := range orders {
		tr, warnings := Build(scope, listing)

		require.Len(t, warnings, 1, "colliding file record must be warned")
		assert.Equal(t, "u1/docs", warnings[0].Key)

		docs, ok := tr.Find([]string{"docs"})
		require.True(t, ok, "folder must win the collision")
		require.NotNil(t, docs.Files["inner.pdf"])

		_, fileExists := tr.Root.Files["docs"]
		assert.False(t, fileExists)
	}
}

func TestBuild_DisplayNameCarried(t *testing.T) {
	t.Parallel()

	scope := testScope(t)

	listing := []objstore.Record{
		{Key: "u1/thesis.pdf", DisplayName: "Thesis (final) FINAL v2", ContentType: "application/pdf", Size: 9},
	}

	tr, warnings := Build(scope, listing)
	require.Empty(t, warnings)

	file := tr.Root.Files["thesis.pdf"]
	require.NotNil(t, file)
	assert.Equal(t, "Thesis (final) FINAL v2", file.Display())
	assert.Equal(t, "thesis.pdf", file.Name)
}

func TestBuild_EmptyListing(t *testing.T) {
	t.Parallel()

	scope := testScope(t)

	tr, warnings := Build(scope, nil)
	require.Empty(t, warnings)
	assert.True(t, tr.Root.IsEmpty())
	assert.Equal(t, scope, tr.Scope())
}

func TestBuild_DuplicateKeysLastWins(t *testing.T) {
	t.Parallel()

	scope := testScope(t)

	listing := []objstore.Record{
		{Key: "u1/a.pdf", ContentType: "application/pdf", Size: 1},
		{Key: "u1/a.pdf", ContentType: "application/pdf", Size: 2},
	}

	tr, warnings := Build(scope, listing)
	require.Empty(t, warnings)
	require.NotNil(t, tr.Root.Files["a.pdf"])
	assert.Equal(t, int64(2), tr.Root.Files["a.pdf"].Size)
}

func TestBuild_NormalizesDecomposedKeys(t *testing.T) {
	t.Parallel()

	scope := testScope(t)

	// Keys written by another tool in decomposed form (NFD). The tree
	// must expose them under composed names so lookups resolve, while
	// the nodes keep the raw stored keys.
	listing := []objstore.Record{
		rec("u1/café.txt"),
		placeholderRec("u1/résumé/.folder"),
	}

	tr, warnings := Build(scope, listing)
	require.Empty(t, warnings)

	file := tr.Root.Files["café.txt"]
	require.NotNil(t, file, "file must resolve under its composed name")
	assert.Equal(t, "café.txt", file.Name)
	assert.Equal(t, "u1/café.txt", file.Key, "raw stored key must survive")

	folder, ok := tr.Find([]string{"résumé"})
	require.True(t, ok, "folder must resolve under its composed name")
	assert.True(t, folder.HasMarker)
	assert.Equal(t, "u1/résumé/.folder", folder.MarkerKey)
}

func TestBuild_NormalizationCollisionDeterministic(t *testing.T) {
	t.Parallel()

	scope := testScope(t)

	// Composed and decomposed spellings of the same name are distinct
	// keys that collapse to one sibling. The smaller key wins regardless
	// of listing order; the other becomes a warning.
	composed := rec("u1/café.txt")
	decomposed := rec("u1/café.txt")

	for _, listing := range [][]objstore.Record{
		{composed, decomposed},
		{decomposed, composed},
	} {
		tr, warnings := Build(scope, listing)

		require.Len(t, warnings, 1)
		assert.Equal(t, "u1/café.txt", warnings[0].Key)
		assert.ErrorIs(t, warnings[0].Err, errDuplicateName)

		file := tr.Root.Files["café.txt"]
		require.NotNil(t, file)
		assert.Equal(t, "u1/café.txt", file.Key)
	}
}

func TestTree_Stats(t *testing.T) {
	t.Parallel()

	scope := testScope(t)

	listing := []objstore.Record{
		placeholderRec("u1/A/.folder"),
		placeholderRec("u1/A/B/.folder"),
		{Key: "u1/A/B/x.txt", ContentType: "text/plain", Size: 10},
		{Key: "u1/root.pdf", ContentType: "application/pdf", Size: 5},
	}

	tr, warnings := Build(scope, listing)
	require.Empty(t, warnings)

	folders, files, bytes := tr.Stats()
	assert.Equal(t, 2, folders)
	assert.Equal(t, 2, files)
	assert.Equal(t, int64(15), bytes)
}

func TestTree_WalkOrderDeterministic(t *testing.T) {
	t.Parallel()

	scope := testScope(t)

	listing := []objstore.Record{
		placeholderRec("u1/b/.folder"),
		placeholderRec("u1/a/.folder"),
		placeholderRec("u1/a/inner/.folder"),
		placeholderRec("u1/c/.folder"),
	}

	tr, warnings := Build(scope, listing)
	require.Empty(t, warnings)

	var visited []string

	tr.Walk(func(path []string, _ *Folder) {
		if len(path) == 0 {
			visited = append(visited, "/")
			return
		}

		visited = append(visited, path[len(path)-1])
	})

	assert.Equal(t, []string{"/", "a", "inner", "b", "c"}, visited)
}

func TestWarning_String(t *testing.T) {
	t.Parallel()

	w := Warning{Key: "u1/bad", Err: errors.New("boom")}
	assert.Contains(t, w.String(), "u1/bad")
	assert.Contains(t, w.String(), "boom")
}
