// Package scanner walks the statement folder layout and yields candidate
// statement files with path-derived metadata.
package scanner

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Origin says which part of the folder layout a file came from.
type Origin string

const (
	// OriginCurrent is a file under the open-period folders.
	OriginCurrent Origin = "current"
	// OriginArchive is a file under the closed-month repository.
	OriginArchive Origin = "archive"
	// OriginStaging is a freshly downloaded file awaiting ingestion.
	OriginStaging Origin = "staging"
)

// Candidate is one statement file found during a walk.
type Candidate struct {
	Path   string
	Origin Origin
	// Period is the YYYY-MM folder the file sits under, when the layout
	// provides one. Staging files carry no period.
	Period string
}

// Layout names the three folder roots the scanner knows about. Any of them
// may be empty to skip that part of the walk.
type Layout struct {
	CurrentRoot string
	ArchiveRoot string
	StagingRoot string
}

// Scanner finds statement files in the configured folder layout
type Scanner struct {
	layout Layout
}

// New creates a scanner over the given layout
func New(layout Layout) *Scanner {
	return &Scanner{layout: layout}
}

// Scan walks all configured roots. Roots that do not exist yet are skipped,
// a fresh working folder is not an error.
func (s *Scanner) Scan() ([]Candidate, error) {
	var results []Candidate

	roots := []struct {
		dir    string
		origin Origin
	}{
		{s.layout.CurrentRoot, OriginCurrent},
		{s.layout.ArchiveRoot, OriginArchive},
		{s.layout.StagingRoot, OriginStaging},
	}

	for _, root := range roots {
		if root.dir == "" {
			continue
		}
		found, err := s.scanRoot(root.dir, root.origin)
		if err != nil {
			return nil, err
		}
		results = append(results, found...)
	}

	return results, nil
}

// ScanStaging walks only the staging area. The workflow uses this after a
// guided download session to pick up the newly arrived files.
func (s *Scanner) ScanStaging() ([]Candidate, error) {
	if s.layout.StagingRoot == "" {
		return nil, nil
	}
	return s.scanRoot(s.layout.StagingRoot, OriginStaging)
}

func (s *Scanner) scanRoot(root string, origin Origin) ([]Candidate, error) {
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil, nil
	}

	var results []Candidate
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			// The archive and staging folders live below the current
			// root; the current walk leaves them to their own walks.
			if origin == OriginCurrent && path != root && s.isForeignRoot(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if !isStatementFile(path) {
			return nil
		}

		results = append(results, Candidate{
			Path:   path,
			Origin: origin,
			Period: periodFor(root, path),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan of %s failed: %w", root, err)
	}

	return results, nil
}

// isForeignRoot reports whether dir is, or leads to, the archive or staging
// root.
func (s *Scanner) isForeignRoot(dir string) bool {
	for _, other := range []string{s.layout.ArchiveRoot, s.layout.StagingRoot} {
		if other == "" {
			continue
		}
		if dir == other || strings.HasPrefix(other, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// PlaceCurrent files an ingested snapshot under the open-period folder for
// period and returns the destination path.
func (s *Scanner) PlaceCurrent(path, period string) (string, error) {
	return s.place(s.layout.CurrentRoot, period, path)
}

// PlaceArchive files an ingested closed statement under the archive folder
// for period and returns the destination path.
func (s *Scanner) PlaceArchive(path, period string) (string, error) {
	return s.place(s.layout.ArchiveRoot, period, path)
}

// place moves path into root/period/, creating the period folder on first
// use. An existing file of the same name is replaced: re-ingesting a period
// keeps the newest copy.
func (s *Scanner) place(root, period, path string) (string, error) {
	if root == "" {
		return "", fmt.Errorf("no destination root configured for %s", path)
	}
	if !looksLikePeriod(period) {
		return "", fmt.Errorf("invalid period %q for %s", period, path)
	}

	dir := filepath.Join(root, period)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}

	dest := filepath.Join(dir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		// Staging may sit on another filesystem; fall back to copy+remove.
		content, readErr := os.ReadFile(path)
		if readErr != nil {
			return "", fmt.Errorf("failed to move %s to %s: %w", path, dest, err)
		}
		if writeErr := os.WriteFile(dest, content, 0o644); writeErr != nil {
			return "", fmt.Errorf("failed to move %s to %s: %w", path, dest, writeErr)
		}
		if rmErr := os.Remove(path); rmErr != nil {
			return "", fmt.Errorf("failed to remove %s after copy: %w", path, rmErr)
		}
	}
	return dest, nil
}

// isStatementFile checks if file is a known statement format
func isStatementFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".qfx" || ext == ".ofx" || ext == ".csv"
}

// periodFor extracts the YYYY-MM folder component the file sits under, when
// the first path element below the root looks like a period.
func periodFor(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return ""
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) < 2 {
		return ""
	}
	if looksLikePeriod(parts[0]) {
		return parts[0]
	}
	return ""
}

// looksLikePeriod checks if string looks like a date period (YYYY-MM)
func looksLikePeriod(str string) bool {
	if len(str) != 7 || str[4] != '-' {
		return false
	}
	for i, r := range str {
		if i == 4 {
			continue
		}
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
