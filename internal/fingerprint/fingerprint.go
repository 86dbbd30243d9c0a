// Package fingerprint detects byte-identical statement files via SHA256
// digests so each download is ingested exactly once regardless of filename.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
)

// Fingerprint is the content identity of one file.
type Fingerprint struct {
	Path   string
	Digest string
	// Degraded marks a digest derived from modification time because the file
	// bytes could not be read. Such a fingerprint only guards against
	// reprocessing the exact same path, not against renamed copies.
	Degraded bool
}

// Duplicate reports a file discarded because an earlier file carried the
// same digest.
type Duplicate struct {
	Path   string // discarded file
	Of     string // retained file with identical content
	Digest string
}

// File computes the SHA256 digest of the raw bytes at path. When the file
// cannot be read it falls back to a digest of the path and modification time
// and marks the result degraded; the caller decides whether to log or reject.
func File(path string) (Fingerprint, error) {
	f, err := os.Open(path)
	if err != nil {
		return degraded(path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return degraded(path, err)
	}

	return Fingerprint{
		Path:   path,
		Digest: hex.EncodeToString(h.Sum(nil)),
	}, nil
}

// degraded builds the weaker mtime-based fingerprint. Stat failing too means
// nothing usable identifies the file and the error is surfaced.
func degraded(path string, cause error) (Fingerprint, error) {
	info, statErr := os.Stat(path)
	if statErr != nil {
		return Fingerprint{}, fmt.Errorf("failed to fingerprint %s: %w", path, cause)
	}
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%d", path, info.Size(), info.ModTime().UnixNano())))
	return Fingerprint{
		Path:     path,
		Digest:   hex.EncodeToString(h[:]),
		Degraded: true,
	}, nil
}

// Dedupe fingerprints the given files and keeps exactly one per digest.
// Paths are processed in sorted order so the retained file is stable across
// runs. Files that cannot be fingerprinted at all are returned as errors
// alongside the usable results; callers skip them and continue.
func Dedupe(paths []string) (unique []Fingerprint, dups []Duplicate, failed map[string]error) {
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)

	failed = make(map[string]error)
	seen := make(map[string]string) // digest -> retained path

	for _, p := range sorted {
		fp, err := File(p)
		if err != nil {
			failed[p] = err
			continue
		}
		if first, ok := seen[fp.Digest]; ok {
			dups = append(dups, Duplicate{Path: p, Of: first, Digest: fp.Digest})
			continue
		}
		seen[fp.Digest] = p
		unique = append(unique, fp)
	}

	return unique, dups, failed
}
