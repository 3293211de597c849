package keyspace

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Creation-time name validation errors. Use errors.Is to check.
var (
	// ErrInvalidName reports an empty name or one containing the separator.
	ErrInvalidName = errors.New("keyspace: invalid name")

	// ErrReservedName reports a name equal to the placeholder marker. Such a
	// name would decode as a placeholder later, so it is rejected up front.
	ErrReservedName = errors.New("keyspace: name is reserved")
)

// DecodeError reports a stored key that cannot be decoded into a logical
// path. Decode failures are per-record: callers skip the record and keep
// going rather than abort a whole listing.
type DecodeError struct {
	Key    string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("keyspace: key %q: %s", e.Key, e.Reason)
}

// Path is a decoded logical path within a scope. For a file, Leaf holds the
// final name. For a placeholder, Placeholder is true, Leaf is empty, and
// Folders names the (possibly empty-in-store) folder the marker asserts.
type Path struct {
	Folders     []string
	Leaf        string
	Placeholder bool
}

// String renders the path for logs: folders joined by the separator, with
// a trailing separator for placeholder (folder) paths.
func (p Path) String() string {
	joined := strings.Join(p.Folders, Separator)
	if p.Placeholder {
		return joined + Separator
	}

	if joined == "" {
		return p.Leaf
	}

	return joined + Separator + p.Leaf
}

// NormalizeName returns the NFC form of a file or folder name. Names are
// normalized before encoding so that visually identical names cannot become
// distinct siblings through mixed Unicode normalization.
func NormalizeName(name string) string {
	return norm.NFC.String(name)
}

// ValidateSegment checks a single folder or file name at creation time.
// Empty names and names containing the separator are ErrInvalidName; the
// marker is ErrReservedName; "." and ".." are ErrOutOfScope because a path
// built from them no longer resolves inside the scope prefix.
func ValidateSegment(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("empty name: %w", ErrInvalidName)
	case strings.Contains(name, Separator):
		return fmt.Errorf("name %q contains %q: %w", name, Separator, ErrInvalidName)
	case name == Marker:
		return fmt.Errorf("name %q: %w", name, ErrReservedName)
	case name == "." || name == "..":
		return fmt.Errorf("name %q: %w", name, ErrOutOfScope)
	}

	return nil
}

// validateSegments normalizes and validates every segment, returning the
// normalized copy. folders is never mutated.
func validateSegments(folders []string) ([]string, error) {
	out := make([]string, 0, len(folders))

	for _, f := range folders {
		f = NormalizeName(f)
		if err := ValidateSegment(f); err != nil {
			return nil, err
		}

		out = append(out, f)
	}

	return out, nil
}

// FileKey encodes the flat key for a file at the given folder path. All
// segments are NFC-normalized and validated; the scope must be non-zero.
func (s Scope) FileKey(folders []string, leaf string) (string, error) {
	if s.IsZero() {
		return "", errors.New("keyspace: zero scope")
	}

	segs, err := validateSegments(folders)
	if err != nil {
		return "", err
	}

	leaf = NormalizeName(leaf)
	if err := ValidateSegment(leaf); err != nil {
		return "", err
	}

	return s.prefix + strings.Join(append(segs, leaf), Separator), nil
}

// PlaceholderKey encodes the flat key of the placeholder object asserting
// the existence of the given folder. The root needs no placeholder, so at
// least one folder segment is required.
func (s Scope) PlaceholderKey(folders []string) (string, error) {
	if s.IsZero() {
		return "", errors.New("keyspace: zero scope")
	}

	if len(folders) == 0 {
		return "", fmt.Errorf("placeholder for scope root: %w", ErrInvalidName)
	}

	segs, err := validateSegments(folders)
	if err != nil {
		return "", err
	}

	return s.prefix + strings.Join(segs, Separator) + Separator + Marker, nil
}

// ParseKey decodes a flat key back into a logical path. Round-tripping
// FileKey or PlaceholderKey through ParseKey is the identity for every
// legal (normalized) path.
//
// Decoding fails closed: keys outside the scope return ErrOutOfScope, and
// structurally malformed keys (bare prefix, empty components, a marker in a
// non-final position) return *DecodeError.
func (s Scope) ParseKey(key string) (Path, error) {
	if s.IsZero() {
		return Path{}, errors.New("keyspace: zero scope")
	}

	rel, ok := strings.CutPrefix(key, s.prefix)
	if !ok {
		return Path{}, fmt.Errorf("key %q not under scope %q: %w", key, s.prefix, ErrOutOfScope)
	}

	if rel == "" {
		return Path{}, &DecodeError{Key: key, Reason: "bare scope prefix"}
	}

	parts := strings.Split(rel, Separator)
	for _, part := range parts {
		if part == "" {
			return Path{}, &DecodeError{Key: key, Reason: "empty path component"}
		}
	}

	last := parts[len(parts)-1]
	folders := parts[:len(parts)-1]

	for _, f := range folders {
		if f == Marker {
			return Path{}, &DecodeError{Key: key, Reason: "marker used as a folder name"}
		}
	}

	if last == Marker {
		if len(folders) == 0 {
			return Path{}, &DecodeError{Key: key, Reason: "marker at scope root"}
		}

		return Path{Folders: folders, Placeholder: true}, nil
	}

	return Path{Folders: folders, Leaf: last}, nil
}

// Compile-time interface assertions.
var (
	_ fmt.Stringer = Path{}
	_ error        = (*DecodeError)(nil)
)
