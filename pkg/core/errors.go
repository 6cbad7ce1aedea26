package core

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by manifest lookups for absent entries.
var ErrNotFound = errors.New("manifest entry not found")

// ErrAllRejected is returned by a gate run in which every evaluated
// partition was rejected. Partial success is not an error.
var ErrAllRejected = errors.New("all partitions rejected by DQ gate")

// ConflictError reports a concurrent manifest write: the caller's version
// no longer matches the stored one. The write was not applied.
type ConflictError struct {
	Key      PartitionKey
	Layer    Layer
	Expected int64
	Found    int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("manifest conflict on %s@%s: version %d is stale (current %d)",
		e.Key, e.Layer, e.Expected, e.Found)
}

// IsConflict reports whether err is (or wraps) a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// RouteError is a configuration error: a raw source with no enabled
// routing rule, or a malformed rule set. It aborts a discovery run before
// any manifest mutation.
type RouteError struct {
	Source string
	Reason string
}

func (e *RouteError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("routing configuration: %s", e.Reason)
	}
	return fmt.Sprintf("no routing rule for source %q: %s", e.Source, e.Reason)
}

// IsRouteError reports whether err is (or wraps) a RouteError.
func IsRouteError(err error) bool {
	var re *RouteError
	return errors.As(err, &re)
}

// HashMismatchError reports disagreement between a sidecar-declared hash
// and the recomputed content hash. It indicates a corrupted or tampered
// snapshot and is never silently resolved.
type HashMismatchError struct {
	Path     string
	Declared string
	Computed string
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("content hash mismatch for %s: sidecar declares %s, recomputed %s",
		e.Path, e.Declared, e.Computed)
}
