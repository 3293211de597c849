// Package testutil provides shared helpers for end-to-end and integration
// tests: a t.Log-backed slog handler and a standard fixture namespace.
package testutil

import (
	"context"
	"log/slog"
	"testing"

	"github.com/paperdrive/paperdrive-go/internal/keyspace"
	"github.com/paperdrive/paperdrive-go/internal/objstore"
)

// testWriter adapts testing.T to io.Writer so slog output lands in the test
// log, interleaved with assertions.
type testWriter struct {
	t *testing.T
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

// Logger returns a debug-level slog.Logger writing through t.Log.
func Logger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(testWriter{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// SeedNamespace populates store with the standard fixture layout under scope:
//
//	readme.txt
//	documents/
//	documents/notes.txt
//	documents/reports/
//	documents/reports/q1.json
//	archive/            (empty, placeholder only)
func SeedNamespace(t *testing.T, store objstore.Store, scope keyspace.Scope) {
	t.Helper()

	ctx := context.Background()

	folders := [][]string{
		{"documents"},
		{"documents", "reports"},
		{"archive"},
	}

	for _, path := range folders {
		key, err := scope.PlaceholderKey(path)
		if err != nil {
			t.Fatalf("placeholder key for %v: %v", path, err)
		}

		err = store.Put(ctx, key, []byte{}, objstore.DirectoryContentType,
			map[string]string{objstore.MetaDisplayName: path[len(path)-1]})
		if err != nil {
			t.Fatalf("seeding folder %v: %v", path, err)
		}
	}

	files := []struct {
		parent      []string
		name        string
		payload     string
		contentType string
	}{
		{nil, "readme.txt", "hello\n", "text/plain"},
		{[]string{"documents"}, "notes.txt", "notes\n", "text/plain"},
		{[]string{"documents", "reports"}, "q1.json", `{"q":1}`, "application/json"},
	}

	for _, f := range files {
		key, err := scope.FileKey(f.parent, f.name)
		if err != nil {
			t.Fatalf("file key for %s: %v", f.name, err)
		}

		err = store.Put(ctx, key, []byte(f.payload), f.contentType,
			map[string]string{objstore.MetaDisplayName: f.name})
		if err != nil {
			t.Fatalf("seeding file %s: %v", f.name, err)
		}
	}
}
