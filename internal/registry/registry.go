// Package registry selects the statement parser for a downloaded file by
// extension and header sniff.
package registry

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rumor-ml/commons.systems/bankload/internal/classify"
	"github.com/rumor-ml/commons.systems/bankload/internal/parser"
	"github.com/rumor-ml/commons.systems/bankload/internal/parsers/csv"
	"github.com/rumor-ml/commons.systems/bankload/internal/parsers/ofx"
)

// ErrNoParser is returned when no registered parser recognizes a file.
var ErrNoParser = errors.New("no parser found for file")

// Registry holds all registered parsers
type Registry struct {
	parsers []parser.Parser
}

// New creates a registry with the built-in parsers. The CSV parser needs the
// classifier to recognize the configured header shapes.
func New(c *classify.Classifier) *Registry {
	return &Registry{
		parsers: []parser.Parser{
			csv.NewParser(c),
			ofx.NewParser(),
		},
	}
}

// Register adds a custom parser (for extensibility)
func (r *Registry) Register(p parser.Parser) {
	r.parsers = append(r.parsers, p)
}

// FindParser returns the best parser for this file.
// Reads the first 512 bytes for format detection via header inspection, which
// is enough to cover the header row of a CSV export and the OFX preamble.
func (r *Registry) FindParser(path string) (parser.Parser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	header := make([]byte, 512)
	n, err := f.Read(header)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read header from %s: %w", path, err)
	}
	// EOF is OK, small statement files may be under 512 bytes.
	header = header[:n]

	for _, p := range r.parsers {
		if p.CanParse(path, header) {
			return p, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrNoParser, path)
}

// ListParsers returns the names of all registered parsers
func (r *Registry) ListParsers() []string {
	names := make([]string, len(r.parsers))
	for i, p := range r.parsers {
		names[i] = p.Name()
	}
	return names
}
