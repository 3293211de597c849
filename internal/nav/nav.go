// Package nav is the read-side view layer over a tree snapshot: a path
// cursor, breadcrumbs, and render-time sorted listings. It is stateless
// given a tree — the cursor holds only a folder path, never tree data, so a
// cursor stays valid across tree replacements (the path may simply stop
// resolving).
package nav

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/paperdrive/paperdrive-go/internal/keyspace"
	"github.com/paperdrive/paperdrive-go/internal/tree"
)

// ErrNoSuchFolder reports a cursor path that does not resolve in the given
// tree snapshot.
type ErrNoSuchFolder struct {
	Path []string
}

func (e *ErrNoSuchFolder) Error() string {
	return fmt.Sprintf("nav: no folder at %q", strings.Join(e.Path, keyspace.Separator))
}

// Entry is one row of a folder listing, ready for display.
type Entry struct {
	Name         string
	Display      string
	IsFolder     bool
	Size         int64
	ContentType  string
	LastModified time.Time
	Key          string // empty for folders
}

// Cursor is a path-based position in the namespace. The zero value points
// at the root.
type Cursor struct {
	path []string
}

// NewCursor returns a cursor at the given folder path (nil means root).
func NewCursor(path []string) *Cursor {
	c := &Cursor{path: make([]string, len(path))}
	copy(c.path, path)

	return c
}

// Path returns a copy of the cursor's folder path.
func (c *Cursor) Path() []string {
	out := make([]string, len(c.path))
	copy(out, c.path)

	return out
}

// Descend moves the cursor into the named child folder.
func (c *Cursor) Descend(name string) {
	c.path = append(c.path, name)
}

// Up moves the cursor to the parent folder; at the root it stays put.
func (c *Cursor) Up() {
	if len(c.path) > 0 {
		c.path = c.path[:len(c.path)-1]
	}
}

// MoveTo repositions the cursor at an absolute folder path.
func (c *Cursor) MoveTo(path []string) {
	c.path = make([]string, len(path))
	copy(c.path, path)
}

// Breadcrumb returns the cursor's path one prefix at a time: root first,
// then each folder down to the current one. Root is the empty slice.
func (c *Cursor) Breadcrumb() [][]string {
	crumbs := make([][]string, 0, len(c.path)+1)

	for i := 0; i <= len(c.path); i++ {
		crumb := make([]string, i)
		copy(crumb, c.path[:i])
		crumbs = append(crumbs, crumb)
	}

	return crumbs
}

// Current resolves the cursor's folder in the given snapshot.
func (c *Cursor) Current(t *tree.Tree) (*tree.Folder, error) {
	folder, ok := t.Find(c.path)
	if !ok {
		return nil, &ErrNoSuchFolder{Path: c.Path()}
	}

	return folder, nil
}

// List returns the cursor folder's children sorted for display: folders
// before files, then case-sensitive name order. Sorting happens here at
// render time — the tree itself carries no ordering.
func (c *Cursor) List(t *tree.Tree) ([]Entry, error) {
	folder, err := c.Current(t)
	if err != nil {
		return nil, err
	}

	return ListFolder(folder), nil
}

// ListFolder renders one folder's children as sorted entries.
func ListFolder(folder *tree.Folder) []Entry {
	entries := make([]Entry, 0, len(folder.Folders)+len(folder.Files))

	for _, name := range folder.FolderNames() {
		entries = append(entries, Entry{Name: name, Display: name, IsFolder: true})
	}

	for _, name := range folder.FileNames() {
		file := folder.Files[name]
		entries = append(entries, Entry{
			Name:         name,
			Display:      file.Display(),
			Size:         file.Size,
			ContentType:  file.ContentType,
			LastModified: file.LastModified,
			Key:          file.Key,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].IsFolder != entries[j].IsFolder {
			return entries[i].IsFolder
		}

		return entries[i].Name < entries[j].Name
	})

	return entries
}

// Compile-time interface check.
var _ error = (*ErrNoSuchFolder)(nil)
