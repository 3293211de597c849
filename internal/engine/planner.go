package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/paperdrive/paperdrive-go/internal/keyspace"
	"github.com/paperdrive/paperdrive-go/internal/objstore"
	"github.com/paperdrive/paperdrive-go/internal/tree"
)

// Plan-time errors, surfaced to the caller before any store operation
// exists. Use errors.Is to check. Name validation errors
// (keyspace.ErrInvalidName, keyspace.ErrReservedName, keyspace.ErrOutOfScope)
// pass through from the codec.
var (
	// ErrNotFound reports a parent path or target name that does not resolve
	// to a node of the required kind.
	ErrNotFound = errors.New("engine: not found")

	// ErrNameConflict reports a create colliding with an existing sibling.
	ErrNameConflict = errors.New("engine: name conflict")

	// ErrContentType reports an upload whose content type is outside the
	// configured allowlist.
	ErrContentType = errors.New("engine: content type not allowed")
)

// OpKind identifies a flat-store operation.
type OpKind string

// Store operation kinds.
const (
	OpPut    OpKind = "put"
	OpDelete OpKind = "delete"
)

// StoreOp is one flat-store operation a plan requires. Payload, ContentType,
// and Meta are set for OpPut only.
type StoreOp struct {
	Kind        OpKind
	Key         string
	Payload     []byte
	ContentType string
	Meta        map[string]string
}

// Plan is the planner's output: the store operations that realize a
// mutation, plus the optimistic tree edit to apply locally while they run.
type Plan struct {
	Mutation Mutation
	StoreOps []StoreOp
	Delta    tree.Delta
}

// Planner translates mutations into plans against a tree snapshot. Pure: it
// never touches the store and never mutates the tree it plans against.
type Planner struct {
	logger  *slog.Logger
	allowed map[string]bool // nil or empty disables the content-type check
	now     func() time.Time
}

// NewPlanner creates a Planner. allowedContentTypes restricts uploads; an
// empty slice allows everything.
func NewPlanner(logger *slog.Logger, allowedContentTypes []string) *Planner {
	var allowed map[string]bool
	if len(allowedContentTypes) > 0 {
		allowed = make(map[string]bool, len(allowedContentTypes))
		for _, ct := range allowedContentTypes {
			allowed[ct] = true
		}
	}

	return &Planner{logger: logger, allowed: allowed, now: time.Now}
}

// Plan validates the mutation against the tree snapshot and produces the
// store operations and tree delta that realize it. All error conditions are
// checked here, before anything touches the store.
func (p *Planner) Plan(t *tree.Tree, m Mutation) (*Plan, error) {
	name := keyspace.NormalizeName(m.Name)
	if err := keyspace.ValidateSegment(name); err != nil {
		return nil, err
	}

	parentPath, parent, err := resolveParent(t, m.Parent)
	if err != nil {
		return nil, err
	}

	// The tree holds normalized names; plan against the normalized form so
	// deltas and keys agree with it.
	m.Name = name
	m.Parent = parentPath

	switch m.Kind {
	case MutationCreateFolder:
		return p.planCreateFolder(t, parent, m)
	case MutationUploadFile:
		return p.planUploadFile(t, parent, m)
	case MutationDeleteFile:
		return p.planDeleteFile(parent, m)
	case MutationDeleteFolder:
		return p.planDeleteFolder(t, parent, m)
	default:
		return nil, fmt.Errorf("engine: unknown mutation kind %q", m.Kind)
	}
}

// resolveParent normalizes and resolves the parent folder path. Creating
// ancestors is never implicit: a flat store has no mkdir -p primitive, so
// the caller walks segments itself (the way the mkdir command does).
func resolveParent(t *tree.Tree, parentPath []string) ([]string, *tree.Folder, error) {
	normalized := make([]string, 0, len(parentPath))

	for _, seg := range parentPath {
		seg = keyspace.NormalizeName(seg)
		if err := keyspace.ValidateSegment(seg); err != nil {
			return nil, nil, err
		}

		normalized = append(normalized, seg)
	}

	parent, ok := t.Find(normalized)
	if !ok {
		return nil, nil, fmt.Errorf("folder %q: %w", joinPath(normalized), ErrNotFound)
	}

	return normalized, parent, nil
}

func (p *Planner) planCreateFolder(t *tree.Tree, parent *tree.Folder, m Mutation) (*Plan, error) {
	if parent.HasChild(m.Name) {
		p.logger.Debug("plan rejected", "mutation", m.String(), "reason", "sibling exists")
		return nil, fmt.Errorf("creating folder %q: %w", m.Path(), ErrNameConflict)
	}

	key, err := t.Scope().PlaceholderKey(append(m.Parent, m.Name))
	if err != nil {
		return nil, err
	}

	displayName := m.DisplayName
	if displayName == "" {
		displayName = m.Name
	}

	p.logger.Debug("planned", "mutation", m.String(), "ops", 1, "key", key)

	return &Plan{
		Mutation: m,
		StoreOps: []StoreOp{{
			Kind:        OpPut,
			Key:         key,
			Payload:     []byte{},
			ContentType: objstore.DirectoryContentType,
			Meta:        map[string]string{objstore.MetaDisplayName: displayName},
		}},
		Delta: tree.Delta{Kind: tree.DeltaAddFolder, Folders: m.Parent, Name: m.Name},
	}, nil
}

func (p *Planner) planUploadFile(t *tree.Tree, parent *tree.Folder, m Mutation) (*Plan, error) {
	if _, isFolder := parent.Folders[m.Name]; isFolder {
		p.logger.Debug("plan rejected", "mutation", m.String(), "reason", "sibling folder exists")
		return nil, fmt.Errorf("uploading %q: %w", m.Path(), ErrNameConflict)
	}

	if p.allowed != nil && !p.allowed[m.ContentType] {
		p.logger.Debug("plan rejected", "mutation", m.String(), "reason", "content type", "content_type", m.ContentType)
		return nil, fmt.Errorf("uploading %q: %q: %w", m.Path(), m.ContentType, ErrContentType)
	}

	key, err := t.Scope().FileKey(m.Parent, m.Name)
	if err != nil {
		return nil, err
	}

	displayName := m.DisplayName
	if displayName == "" {
		displayName = m.Name
	}

	// A colliding file name overwrites: the flat store's identity is the
	// key, and this layer has no versioning. Last writer wins. Reuse the
	// raw stored key so a file listed under a different Unicode
	// normalization is replaced, not duplicated.
	if existing, exists := parent.Files[m.Name]; exists {
		key = existing.Key
		p.logger.Debug("upload overwrites existing file", "mutation", m.String(), "key", key)
	}

	p.logger.Debug("planned", "mutation", m.String(), "ops", 1, "key", key, "bytes", len(m.Payload))

	return &Plan{
		Mutation: m,
		StoreOps: []StoreOp{{
			Kind:        OpPut,
			Key:         key,
			Payload:     m.Payload,
			ContentType: m.ContentType,
			Meta:        map[string]string{objstore.MetaDisplayName: displayName},
		}},
		Delta: tree.Delta{
			Kind:    tree.DeltaPutFile,
			Folders: m.Parent,
			Name:    m.Name,
			File: &tree.File{
				Name:         m.Name,
				Key:          key,
				ContentType:  m.ContentType,
				Size:         int64(len(m.Payload)),
				DisplayName:  m.DisplayName,
				LastModified: p.now(),
			},
		},
	}, nil
}

func (p *Planner) planDeleteFile(parent *tree.Folder, m Mutation) (*Plan, error) {
	file, ok := parent.Files[m.Name]
	if !ok {
		reason := "no such file"
		if _, isFolder := parent.Folders[m.Name]; isFolder {
			reason = "is a folder"
		}

		p.logger.Debug("plan rejected", "mutation", m.String(), "reason", reason)

		return nil, fmt.Errorf("deleting file %q (%s): %w", m.Path(), reason, ErrNotFound)
	}

	p.logger.Debug("planned", "mutation", m.String(), "ops", 1, "key", file.Key)

	return &Plan{
		Mutation: m,
		StoreOps: []StoreOp{{Kind: OpDelete, Key: file.Key}},
		Delta:    tree.Delta{Kind: tree.DeltaRemoveFile, Folders: m.Parent, Name: m.Name},
	}, nil
}

func (p *Planner) planDeleteFolder(t *tree.Tree, parent *tree.Folder, m Mutation) (*Plan, error) {
	folder, ok := parent.Folders[m.Name]
	if !ok {
		reason := "no such folder"
		if _, isFile := parent.Files[m.Name]; isFile {
			reason = "is a file"
		}

		p.logger.Debug("plan rejected", "mutation", m.String(), "reason", reason)

		return nil, fmt.Errorf("deleting folder %q (%s): %w", m.Path(), reason, ErrNotFound)
	}

	ops, err := collectDeleteOps(t.Scope(), append(m.Parent, m.Name), folder)
	if err != nil {
		return nil, err
	}

	p.logger.Debug("planned", "mutation", m.String(), "ops", len(ops))

	return &Plan{
		Mutation: m,
		StoreOps: ops,
		Delta:    tree.Delta{Kind: tree.DeltaRemoveFolder, Folders: m.Parent, Name: m.Name},
	}, nil
}

// collectDeleteOps gathers every key physically under the folder via tree
// traversal, never a second store listing: all contained files first, then
// placeholder markers deepest-first so a parent's marker outlives its
// children's. Only markers known to exist (HasMarker) are planned — deletes
// are idempotent, but the planned set describes reality exactly.
func collectDeleteOps(scope keyspace.Scope, path []string, folder *tree.Folder) ([]StoreOp, error) {
	var fileOps, markerOps []StoreOp

	var walk func(path []string, f *tree.Folder) error

	walk = func(path []string, f *tree.Folder) error {
		for _, name := range f.FileNames() {
			fileOps = append(fileOps, StoreOp{Kind: OpDelete, Key: f.Files[name].Key})
		}

		for _, name := range f.FolderNames() {
			if err := walk(append(path, name), f.Folders[name]); err != nil {
				return err
			}
		}

		// Post-order: children's markers are already queued. Prefer the
		// raw marker key from the listing; folders created optimistically
		// in this session carry no MarkerKey, so compute theirs.
		if f.HasMarker {
			key := f.MarkerKey
			if key == "" {
				computed, err := scope.PlaceholderKey(path)
				if err != nil {
					return err
				}

				key = computed
			}

			markerOps = append(markerOps, StoreOp{Kind: OpDelete, Key: key})
		}

		return nil
	}

	if err := walk(path, folder); err != nil {
		return nil, err
	}

	return append(fileOps, markerOps...), nil
}

func joinPath(segments []string) string {
	if len(segments) == 0 {
		return keyspace.Separator
	}

	return strings.Join(segments, keyspace.Separator)
}
