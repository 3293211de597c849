package tree

import (
	"fmt"

	"github.com/paperdrive/paperdrive-go/internal/keyspace"
	"github.com/paperdrive/paperdrive-go/internal/objstore"
)

// Warning reports a listing record that could not be placed in the tree.
// Warnings are diagnostics, never fatal: one malformed key must not hide
// the rest of a user's files.
type Warning struct {
	Key string
	Err error
}

func (w Warning) String() string {
	return fmt.Sprintf("record %q skipped: %v", w.Key, w.Err)
}

// errNameTaken marks a file record whose name is already a folder among
// its siblings. The listing is inconsistent; the folder wins.
var errNameTaken = fmt.Errorf("sibling folder with the same name")

// errDuplicateName marks a record whose key normalizes to the same sibling
// name as another record. The key with the smaller byte sequence wins so
// the outcome does not depend on listing order.
var errDuplicateName = fmt.Errorf("another record normalizes to the same name")

// Build reconstructs the namespace tree for scope from a flat listing
// snapshot. Pure and deterministic: the resulting tree does not depend on
// listing order.
//
// Folder existence is materialized first — from every placeholder record
// and from the parent path of every file record — and only then are files
// inserted. This makes the file-versus-folder collision rule
// order-independent: folders always win, and the colliding file record
// becomes a Warning.
//
// Records outside the scope and records whose keys fail to decode are
// skipped and collected as Warnings.
func Build(scope keyspace.Scope, records []objstore.Record) (*Tree, []Warning) {
	t := New(scope)

	var warnings []Warning

	type placed struct {
		path   keyspace.Path
		record objstore.Record
	}

	files := make([]placed, 0, len(records))

	// Pass 1: decode everything, materialize folder structure. Names are
	// normalized here so every listed node resolves under the spelling
	// mutations use; the raw key stays on the node for store operations.
	for _, rec := range records {
		path, err := scope.ParseKey(rec.Key)
		if err != nil {
			warnings = append(warnings, Warning{Key: rec.Key, Err: err})
			continue
		}

		path = normalizePath(path)

		if path.Placeholder {
			folder := t.findOrCreate(path.Folders)
			folder.HasMarker = true

			if folder.MarkerKey == "" || rec.Key < folder.MarkerKey {
				if folder.MarkerKey != "" {
					warnings = append(warnings, Warning{Key: folder.MarkerKey, Err: errDuplicateName})
				}

				folder.MarkerKey = rec.Key
			} else if rec.Key != folder.MarkerKey {
				warnings = append(warnings, Warning{Key: rec.Key, Err: errDuplicateName})
			}

			continue
		}

		t.findOrCreate(path.Folders)
		files = append(files, placed{path: path, record: rec})
	}

	// Pass 2: insert files under their (now existing) parents.
	for _, f := range files {
		parent, ok := t.Find(f.path.Folders)
		if !ok {
			// Unreachable: pass 1 created every parent path.
			warnings = append(warnings, Warning{Key: f.record.Key, Err: fmt.Errorf("parent folder missing")})
			continue
		}

		if _, taken := parent.Folders[f.path.Leaf]; taken {
			warnings = append(warnings, Warning{Key: f.record.Key, Err: errNameTaken})
			continue
		}

		if existing, dup := parent.Files[f.path.Leaf]; dup && existing.Key != f.record.Key {
			if f.record.Key > existing.Key {
				warnings = append(warnings, Warning{Key: f.record.Key, Err: errDuplicateName})
				continue
			}

			warnings = append(warnings, Warning{Key: existing.Key, Err: errDuplicateName})
		}

		parent.Files[f.path.Leaf] = &File{
			Name:         f.path.Leaf,
			Key:          f.record.Key,
			ContentType:  f.record.ContentType,
			Size:         f.record.Size,
			DisplayName:  f.record.DisplayName,
			LastModified: f.record.LastModified,
		}
	}

	return t, warnings
}

func normalizePath(p keyspace.Path) keyspace.Path {
	for i, seg := range p.Folders {
		p.Folders[i] = keyspace.NormalizeName(seg)
	}

	p.Leaf = keyspace.NormalizeName(p.Leaf)

	return p
}
