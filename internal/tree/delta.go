package tree

import (
	"fmt"
	"strings"

	"github.com/paperdrive/paperdrive-go/internal/keyspace"
)

// DeltaKind identifies the tree edit a delta performs.
type DeltaKind string

// Delta kinds.
const (
	DeltaAddFolder    DeltaKind = "add_folder"
	DeltaPutFile      DeltaKind = "put_file"    // insert or replace
	DeltaRemoveFile   DeltaKind = "remove_file"
	DeltaRemoveFolder DeltaKind = "remove_folder"
)

// Delta is the optimistic tree edit a planned mutation produces. Folders
// addresses the parent; Name is the child being added or removed. File
// carries the new leaf for DeltaPutFile.
type Delta struct {
	Kind    DeltaKind
	Folders []string
	Name    string
	File    *File
}

// String renders the delta for logs.
func (d Delta) String() string {
	target := d.Name
	if len(d.Folders) > 0 {
		target = strings.Join(d.Folders, keyspace.Separator) + keyspace.Separator + d.Name
	}

	return fmt.Sprintf("%s %s", d.Kind, target)
}

// Apply clones the tree and applies the delta to the clone, leaving the
// receiver untouched. The parent path must exist: planning already
// validated it, so a miss here means the delta is being applied to a tree
// it was not planned against.
func (t *Tree) Apply(d Delta) (*Tree, error) {
	out := t.Clone()

	parent, ok := out.Find(d.Folders)
	if !ok {
		return nil, fmt.Errorf("applying %s: parent %q missing", d.Kind, strings.Join(d.Folders, keyspace.Separator))
	}

	switch d.Kind {
	case DeltaAddFolder:
		if parent.HasChild(d.Name) {
			return nil, fmt.Errorf("applying %s: name %q taken", d.Kind, d.Name)
		}

		folder := NewFolder(d.Name)
		folder.HasMarker = true
		parent.Folders[d.Name] = folder

	case DeltaPutFile:
		if d.File == nil {
			return nil, fmt.Errorf("applying %s: nil file", d.Kind)
		}

		if _, taken := parent.Folders[d.Name]; taken {
			return nil, fmt.Errorf("applying %s: name %q is a folder", d.Kind, d.Name)
		}

		copied := *d.File
		parent.Files[d.Name] = &copied

	case DeltaRemoveFile:
		if _, ok := parent.Files[d.Name]; !ok {
			return nil, fmt.Errorf("applying %s: file %q missing", d.Kind, d.Name)
		}

		delete(parent.Files, d.Name)

	case DeltaRemoveFolder:
		if _, ok := parent.Folders[d.Name]; !ok {
			return nil, fmt.Errorf("applying %s: folder %q missing", d.Kind, d.Name)
		}

		delete(parent.Folders, d.Name)

	default:
		return nil, fmt.Errorf("unknown delta kind %q", d.Kind)
	}

	return out, nil
}
