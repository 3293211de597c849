// Package engine contains the write path of the namespace: a pure planner
// that translates tree-level mutations into flat-store operations, and a
// per-scope session that applies them optimistically, submits them, and
// resynchronizes against the authoritative listing.
package engine

import (
	"fmt"
	"strings"

	"github.com/paperdrive/paperdrive-go/internal/keyspace"
)

// MutationKind identifies a requested tree-level operation.
type MutationKind string

// Mutation kinds.
const (
	MutationCreateFolder MutationKind = "create_folder"
	MutationUploadFile   MutationKind = "upload_file"
	MutationDeleteFile   MutationKind = "delete_file"
	MutationDeleteFolder MutationKind = "delete_folder"
)

// Mutation is one requested namespace change. Parent addresses the folder
// the change happens in (empty means root); Name is the child being created
// or removed. Payload, ContentType, and DisplayName apply to uploads only
// (DisplayName also rides on created folders).
type Mutation struct {
	Kind        MutationKind
	Parent      []string
	Name        string
	Payload     []byte
	ContentType string
	DisplayName string
}

// CreateFolder builds a folder-creation mutation.
func CreateFolder(parent []string, name string) Mutation {
	return Mutation{Kind: MutationCreateFolder, Parent: parent, Name: name}
}

// UploadFile builds an upload mutation.
func UploadFile(parent []string, name string, payload []byte, contentType string) Mutation {
	return Mutation{
		Kind:        MutationUploadFile,
		Parent:      parent,
		Name:        name,
		Payload:     payload,
		ContentType: contentType,
	}
}

// DeleteFile builds a file-deletion mutation.
func DeleteFile(parent []string, name string) Mutation {
	return Mutation{Kind: MutationDeleteFile, Parent: parent, Name: name}
}

// DeleteFolder builds a recursive folder-deletion mutation.
func DeleteFolder(parent []string, name string) Mutation {
	return Mutation{Kind: MutationDeleteFolder, Parent: parent, Name: name}
}

// Path renders the mutation's target for logs and the journal.
func (m Mutation) Path() string {
	if len(m.Parent) == 0 {
		return m.Name
	}

	return strings.Join(m.Parent, keyspace.Separator) + keyspace.Separator + m.Name
}

// String renders the mutation for logs.
func (m Mutation) String() string {
	return fmt.Sprintf("%s %s", m.Kind, m.Path())
}
