// Package hash computes the content fingerprints recorded in the manifest.
// All fingerprints are hex-encoded BLAKE3 digests: byte-identical content
// always yields the same hash, and any content change yields a different
// one with overwhelming probability.
package hash

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/zeebo/blake3"
)

// sliceSep separates the parent digest from the sub-key when deriving
// slice hashes, so that Slice("ab","c") != Slice("a","bc").
const sliceSep = byte(0)

// File returns the fingerprint of a file's content, streaming it so that
// large partitions are not held in memory.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Bytes returns the fingerprint of an in-memory buffer.
func Bytes(b []byte) string {
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Slice derives the fingerprint of one expanded canonical partition from
// its parent raw partition: the parent's content scoped to the sub-key.
// Distinct sub-keys of the same parent get distinct hashes, and the slice
// hash changes whenever the parent content changes.
func Slice(parentHash, subKey string) string {
	h := blake3.New()
	_, _ = h.Write([]byte(parentHash))
	_, _ = h.Write([]byte{sliceSep})
	_, _ = h.Write([]byte(subKey))
	return hex.EncodeToString(h.Sum(nil))
}

// Combine folds the fingerprints of all raw partitions contributing to one
// canonical partition into a single hash-of-hashes. The input order does
// not matter; any contributor change changes the result.
func Combine(hashes []string) string {
	sorted := make([]string, len(hashes))
	copy(sorted, hashes)
	sort.Strings(sorted)

	h := blake3.New()
	for _, s := range sorted {
		_, _ = h.Write([]byte(s))
		_, _ = h.Write([]byte{sliceSep})
	}
	return hex.EncodeToString(h.Sum(nil))
}
