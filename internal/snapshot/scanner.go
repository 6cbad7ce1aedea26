package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// RawPartition is one physical partition file discovered in a snapshot,
// together with its sidecar metrics when a sidecar was present.
type RawPartition struct {
	Source   string
	Path     string
	Coverage Coverage
	Bytes    int64

	// Hash is the sidecar-declared content hash, or empty when no
	// sidecar was found (discovery computes it then).
	Hash string
	// Records is the sidecar-declared record count, or -1 when unknown.
	Records int64

	Sidecar *Sidecar
}

// ScanError is a non-fatal problem with one file in the snapshot, such as
// an unparseable coverage token or an unreadable sidecar.
type ScanError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Scanner enumerates the raw partitions present for a snapshot version.
type Scanner struct {
	root   string
	logger *slog.Logger
}

// NewScanner creates a scanner over the given snapshot root directory.
func NewScanner(root string, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scanner{root: root, logger: logger}
}

// Scan walks <root>/date=<version>/ and returns every parquet partition
// found, grouped under its source=<id> directory. Files with unparseable
// names are reported as scan errors, not silently dropped.
func (s *Scanner) Scan(ctx context.Context, version string) ([]RawPartition, []ScanError, error) {
	base := filepath.Join(s.root, "date="+version)
	if _, err := os.Stat(base); err != nil {
		return nil, nil, fmt.Errorf("snapshot %s not found under %s: %w", version, s.root, err)
	}

	var (
		parts    []RawPartition
		scanErrs []ScanError
	)

	err := filepath.Walk(base, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(info.Name(), ".parquet") {
			return nil
		}

		source := sourceFromPath(base, path)
		if source == "" {
			scanErrs = append(scanErrs, ScanError{Path: path, Message: "no source=<id> directory in path"})
			return nil
		}

		stem := strings.TrimSuffix(info.Name(), ".parquet")
		cov, covErr := ParseCoverage(stem)
		if covErr != nil {
			scanErrs = append(scanErrs, ScanError{Path: path, Message: covErr.Error()})
			return nil
		}

		part := RawPartition{
			Source:   source,
			Path:     path,
			Coverage: cov,
			Bytes:    info.Size(),
			Records:  -1,
		}

		scPath := SidecarPath(path)
		if _, statErr := os.Stat(scPath); statErr == nil {
			sc, scErr := ReadSidecar(scPath)
			if scErr != nil {
				scanErrs = append(scanErrs, ScanError{Path: scPath, Message: scErr.Error()})
			} else {
				part.Sidecar = sc
				part.Hash = sc.Hash
				part.Records = sc.Records
			}
		}

		parts = append(parts, part)
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("scan snapshot %s: %w", version, err)
	}

	s.logger.Debug("snapshot scanned",
		"version", version, "partitions", len(parts), "errors", len(scanErrs))

	return parts, scanErrs, nil
}

// sourceFromPath extracts the source id from the first "source=<id>" path
// element below the snapshot base directory.
func sourceFromPath(base, path string) string {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return ""
	}
	for _, el := range strings.Split(rel, string(filepath.Separator)) {
		if id, ok := strings.CutPrefix(el, "source="); ok && id != "" {
			return id
		}
	}
	return ""
}
