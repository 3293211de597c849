// Package tree holds the in-memory namespace model and the builder that
// reconstructs it from a flat listing. A Tree is transient: it is rebuilt
// from scratch on every authoritative listing and replaced atomically, so
// nodes are never patched in place except through Delta application on a
// clone.
package tree

import (
	"sort"
	"time"

	"github.com/paperdrive/paperdrive-go/internal/keyspace"
)

// File is a leaf node. Key is the full flat object key and is required for
// any store operation on this file. DisplayName is the optional
// metadata-carried name; empty means display Name.
type File struct {
	Name         string
	Key          string
	ContentType  string
	Size         int64
	DisplayName  string
	LastModified time.Time
}

// Display returns the name to show in listings.
func (f *File) Display() string {
	if f.DisplayName != "" {
		return f.DisplayName
	}

	return f.Name
}

// Folder is a directory node. Sibling names are unique across both maps: a
// name present in Folders never appears in Files. HasMarker records whether
// this folder's placeholder object exists in the store (observed in a
// listing or created optimistically) — DeleteFolder uses it to plan
// placeholder deletes that match reality exactly. MarkerKey holds the raw
// stored placeholder key when one was observed; tree names are normalized,
// so the key cannot be recomputed from them when another tool wrote the
// placeholder in a different Unicode normalization.
type Folder struct {
	Name      string
	HasMarker bool
	MarkerKey string
	Folders   map[string]*Folder
	Files     map[string]*File
}

// NewFolder returns an empty folder with initialized child maps.
func NewFolder(name string) *Folder {
	return &Folder{
		Name:    name,
		Folders: make(map[string]*Folder),
		Files:   make(map[string]*File),
	}
}

// HasChild reports whether name exists among this folder's children of
// either kind.
func (f *Folder) HasChild(name string) bool {
	if _, ok := f.Folders[name]; ok {
		return true
	}

	_, ok := f.Files[name]

	return ok
}

// IsEmpty reports whether the folder has no children of either kind.
func (f *Folder) IsEmpty() bool {
	return len(f.Folders) == 0 && len(f.Files) == 0
}

// FolderNames returns the child folder names in sorted order.
func (f *Folder) FolderNames() []string {
	names := make([]string, 0, len(f.Folders))
	for name := range f.Folders {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// FileNames returns the child file names in sorted order.
func (f *Folder) FileNames() []string {
	names := make([]string, 0, len(f.Files))
	for name := range f.Files {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// clone deep-copies the folder and its subtree.
func (f *Folder) clone() *Folder {
	out := &Folder{
		Name:      f.Name,
		HasMarker: f.HasMarker,
		MarkerKey: f.MarkerKey,
		Folders:   make(map[string]*Folder, len(f.Folders)),
		Files:     make(map[string]*File, len(f.Files)),
	}

	for name, sub := range f.Folders {
		out.Folders[name] = sub.clone()
	}

	for name, file := range f.Files {
		copied := *file
		out.Files[name] = &copied
	}

	return out
}

// Tree is the full reconstruction for one scope: a root folder with no
// name. Readers treat a Tree as immutable; mutation happens by cloning
// (Apply) or by full replacement after a rebuild.
type Tree struct {
	scope keyspace.Scope
	Root  *Folder
}

// New returns an empty tree for scope.
func New(scope keyspace.Scope) *Tree {
	return &Tree{scope: scope, Root: NewFolder("")}
}

// Scope returns the scope the tree was built for.
func (t *Tree) Scope() keyspace.Scope {
	return t.scope
}

// Find resolves a folder path from the root. An empty path resolves to the
// root itself.
func (t *Tree) Find(folders []string) (*Folder, bool) {
	cur := t.Root

	for _, name := range folders {
		next, ok := cur.Folders[name]
		if !ok {
			return nil, false
		}

		cur = next
	}

	return cur, true
}

// findOrCreate walks folders from the root, creating missing intermediate
// folders. Created intermediates have HasMarker unset: their existence is
// implied by deeper keys, not asserted by a placeholder of their own.
func (t *Tree) findOrCreate(folders []string) *Folder {
	cur := t.Root

	for _, name := range folders {
		next, ok := cur.Folders[name]
		if !ok {
			next = NewFolder(name)
			cur.Folders[name] = next
		}

		cur = next
	}

	return cur
}

// Clone deep-copies the tree. Deltas are applied to clones so that
// snapshots handed to readers never mutate underneath them.
func (t *Tree) Clone() *Tree {
	return &Tree{scope: t.scope, Root: t.Root.clone()}
}

// Walk visits every folder depth-first, parents before children, siblings
// in sorted name order. The path passed to visit is the folder's segment
// path from the root (empty for the root itself) and must not be retained
// or mutated across calls.
func (t *Tree) Walk(visit func(path []string, folder *Folder)) {
	walkFolder(nil, t.Root, visit)
}

func walkFolder(path []string, f *Folder, visit func(path []string, folder *Folder)) {
	visit(path, f)

	for _, name := range f.FolderNames() {
		walkFolder(append(path, name), f.Folders[name], visit)
	}
}

// Stats aggregates the tree for status display: folder count (excluding
// the root), file count, and total file bytes.
func (t *Tree) Stats() (folders, files int, bytes int64) {
	t.Walk(func(path []string, f *Folder) {
		if len(path) > 0 {
			folders++
		}

		for _, file := range f.Files {
			files++
			bytes += file.Size
		}
	})

	return folders, files, bytes
}
