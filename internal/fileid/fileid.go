// Package fileid derives stable source keys and content hashes for tree files.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
)

const hashPrefix = "sha256:"

// SourceKey returns the key a tree file is recorded under: its cleaned
// absolute path. Relative paths are resolved against the working directory.
func SourceKey(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}
	return filepath.Clean(abs), nil
}

// ContentHash returns the hash recorded for a tree's bytes.
// Same content always yields the same hash.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hashPrefix + hex.EncodeToString(sum[:])
}
