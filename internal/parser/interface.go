// Package parser defines the statement parser contract shared by the
// format-specific implementations under internal/parsers.
package parser

import (
	"context"
	"io"
	"time"

	"github.com/rumor-ml/commons.systems/bankload/internal/classify"
	"github.com/rumor-ml/commons.systems/bankload/internal/domain"
)

// Metadata carries file-level context resolved before parsing starts.
type Metadata struct {
	Path     string
	Kind     classify.Kind
	Header   []string
	Account  *domain.Account
	FileDate time.Time
	State    domain.State
}

// AccountNumber returns the catalog account number, or "" when the file could
// not be attributed to an account.
func (m *Metadata) AccountNumber() string {
	if m.Account == nil {
		return ""
	}
	return m.Account.Number
}

// Statement is the parsed content of a single statement file.
type Statement struct {
	Metadata     Metadata
	Transactions []domain.Transaction
}

// Parser converts one statement file format into transactions.
type Parser interface {
	// Name returns the parser identifier used in logs and errors.
	Name() string

	// CanParse checks if this parser can handle the file based on its path
	// and the first bytes of its content.
	CanParse(path string, header []byte) bool

	// Parse extracts transactions from the file content. A row that cannot
	// be interpreted aborts the whole file.
	Parse(ctx context.Context, r io.Reader, meta *Metadata) (*Statement, error)
}
