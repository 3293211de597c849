// Package contenthash computes the hex-encoded SHA-256 digest the object
// store carries as checksum metadata on every uploaded object. Downloads are
// verified against it; the watch command uses it to suppress re-uploads of
// unchanged files.
package contenthash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Bytes returns the hex SHA-256 of an in-memory payload.
func Bytes(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Reader hashes a stream to completion.
func Reader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hashing stream: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// File hashes a file on disk.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer f.Close()

	sum, err := Reader(f)
	if err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}

	return sum, nil
}
