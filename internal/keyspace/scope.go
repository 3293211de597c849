// Package keyspace implements the codec between logical folder paths and
// flat object-store keys. It consolidates the placeholder-marker convention,
// per-user prefix derivation, and segment validation in one leaf package
// with compile-time safety over raw string usage.
//
// Two types cover the codebase's key-handling needs:
//   - Scope: a validated key prefix, the authorization boundary for one user
//   - Path: a decoded logical path (folder segments, optional leaf, marker flag)
//
// This is a leaf package with no dependencies beyond stdlib and x/text.
package keyspace

import (
	"errors"
	"fmt"
	"strings"
)

// Separator joins key components. Keys are opaque to the store; the
// separator only has meaning to this codec.
const Separator = "/"

// Marker is the reserved trailing component that represents an empty
// folder: the placeholder key for folder a/b is "<prefix>a/b/.folder".
// A stored object whose final component equals Marker always decodes as a
// placeholder, which is why Marker is rejected as a file or folder name at
// creation time.
const Marker = ".folder"

// userPrefixFormat builds the per-user scope prefix from a user ID.
const userPrefixFormat = "user-%s" + Separator

// ErrOutOfScope reports a key or path that falls outside the authorized
// prefix. Use errors.Is(err, keyspace.ErrOutOfScope) to check.
var ErrOutOfScope = errors.New("keyspace: outside scope")

// Scope is a validated key prefix. Every key this engine reads or writes
// for one user starts with the scope's prefix. The zero value (Scope{}) is
// invalid for key operations; construct via NewScope or UserScope.
type Scope struct {
	prefix string
}

// NewScope creates a Scope from a raw prefix. The prefix must be non-empty;
// a missing trailing separator is appended so that "user-1" can never match
// keys under "user-10/".
func NewScope(prefix string) (Scope, error) {
	if prefix == "" {
		return Scope{}, errors.New("keyspace: empty scope prefix")
	}

	if !strings.HasSuffix(prefix, Separator) {
		prefix += Separator
	}

	for _, part := range strings.Split(strings.TrimSuffix(prefix, Separator), Separator) {
		if part == "" {
			return Scope{}, fmt.Errorf("keyspace: scope prefix %q has an empty component", prefix)
		}
	}

	return Scope{prefix: prefix}, nil
}

// UserScope derives the canonical per-user scope ("user-<id>/") from a
// user ID. The ID must be non-empty and must not contain the separator.
func UserScope(userID string) (Scope, error) {
	if userID == "" {
		return Scope{}, errors.New("keyspace: empty user ID")
	}

	if strings.Contains(userID, Separator) {
		return Scope{}, fmt.Errorf("keyspace: user ID %q contains %q", userID, Separator)
	}

	return Scope{prefix: fmt.Sprintf(userPrefixFormat, userID)}, nil
}

// Prefix returns the raw key prefix, always ending in the separator.
func (s Scope) Prefix() string {
	return s.prefix
}

// IsZero reports whether this is the zero-value Scope.
func (s Scope) IsZero() bool {
	return s.prefix == ""
}

// Contains reports whether key falls under this scope.
func (s Scope) Contains(key string) bool {
	return !s.IsZero() && strings.HasPrefix(key, s.prefix)
}

// String returns the prefix for logging.
func (s Scope) String() string {
	return s.prefix
}

// Compile-time interface assertions.
var _ fmt.Stringer = Scope{}
