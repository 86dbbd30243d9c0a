// Package classify labels downloaded statement files by matching their CSV
// header row against configured expected-header sets, and extracts the file
// date and owning account from the filename.
package classify

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rumor-ml/commons.systems/bankload/internal/domain"
)

// Kind identifies the statement file shape.
type Kind string

const (
	KindCredit Kind = "credit"
	KindDebit  Kind = "debit"
	// KindMonthsNoInterest is the months-without-interest variant of a credit
	// card export. It shares the account type with KindCredit.
	KindMonthsNoInterest Kind = "months_no_interest"
)

// AccountType maps a file kind to the account type its rows belong to.
func (k Kind) AccountType() domain.AccountType {
	if k == KindDebit {
		return domain.AccountTypeDebit
	}
	return domain.AccountTypeCredit
}

// ErrUnrecognized is returned when no configured header set reaches the match
// threshold. Callers skip the file and continue with the rest.
var ErrUnrecognized = errors.New("unrecognized statement header")

// matchThreshold is the minimum share of expected headers that must be
// present for a non-exact match.
const matchThreshold = 0.8

// HeaderSet is one expected header list for a statement kind. Order of the
// sets decides ties: the first set reaching the threshold wins.
type HeaderSet struct {
	Kind    Kind
	Headers []string
}

// Result is the classification of a single file.
type Result struct {
	Kind     Kind
	Header   []string
	Account  *domain.Account // nil when no catalog account matched the filename
	FileDate time.Time       // date embedded in the filename, else mtime day
}

// Classifier matches files against the configured header sets and the
// account catalog. It performs reads only, never writes.
type Classifier struct {
	sets     []HeaderSet
	accounts []domain.Account
}

// New creates a classifier. Sets are evaluated in the given order.
func New(sets []HeaderSet, accounts []domain.Account) (*Classifier, error) {
	if len(sets) == 0 {
		return nil, fmt.Errorf("at least one header set is required")
	}
	for i, s := range sets {
		if len(s.Headers) == 0 {
			return nil, fmt.Errorf("header set %d (%s) has no headers", i, s.Kind)
		}
	}
	return &Classifier{sets: sets, accounts: accounts}, nil
}

// Classify reads the header row of the file at path and labels it.
// A malformed or unreadable file yields an error; an intact file whose header
// matches no configured set yields ErrUnrecognized.
func (c *Classifier) Classify(path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	header, err := readHeaderRow(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read header row of %s: %w", path, err)
	}

	kind, ok := c.matchHeader(header)
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrUnrecognized)
	}

	return &Result{
		Kind:     kind,
		Header:   header,
		Account:  c.AccountFor(path),
		FileDate: FileDate(path),
	}, nil
}

// MatchKind exposes header matching for callers that already hold the header
// row (the CSV parser re-checks the shape it was handed).
func (c *Classifier) MatchKind(header []string) (Kind, bool) {
	return c.matchHeader(header)
}

// HeadersFor returns the configured expected header list for a kind.
func (c *Classifier) HeadersFor(kind Kind) []string {
	for _, s := range c.sets {
		if s.Kind == kind {
			return append([]string(nil), s.Headers...)
		}
	}
	return nil
}

func readHeaderRow(r io.Reader) ([]string, error) {
	cr := csv.NewReader(r)
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	record, err := cr.Read()
	if err != nil {
		return nil, err
	}
	return record, nil
}

// matchHeader compares the header row against each configured set in order.
// A set matches on exact case-insensitive equality, or when at least 80% of
// its expected headers are present in the row.
func (c *Classifier) matchHeader(header []string) (Kind, bool) {
	got := make(map[string]struct{}, len(header))
	for _, h := range header {
		got[normalizeHeader(h)] = struct{}{}
	}

	for _, set := range c.sets {
		if exactMatch(set.Headers, header) {
			return set.Kind, true
		}
		present := 0
		for _, want := range set.Headers {
			if _, ok := got[normalizeHeader(want)]; ok {
				present++
			}
		}
		if float64(present) >= matchThreshold*float64(len(set.Headers)) {
			return set.Kind, true
		}
	}
	return "", false
}

func exactMatch(expected, header []string) bool {
	if len(expected) != len(header) {
		return false
	}
	for i := range expected {
		if normalizeHeader(expected[i]) != normalizeHeader(header[i]) {
			return false
		}
	}
	return true
}

func normalizeHeader(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}

// AccountFor finds the catalog account whose number appears as a substring of
// the filename. Only the base name is inspected, so an account-like token in
// a parent folder cannot misattribute the file. First catalog match wins; nil
// when nothing matches.
func (c *Classifier) AccountFor(path string) *domain.Account {
	base := strings.ToLower(filepath.Base(path))
	for i := range c.accounts {
		if c.accounts[i].Number != "" && strings.Contains(base, strings.ToLower(c.accounts[i].Number)) {
			acc := c.accounts[i]
			return &acc
		}
	}
	return nil
}

var filenameDatePattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)

// FileDate extracts the production date of a statement file: a YYYY-MM-DD
// token embedded in the base name wins (a date-like parent folder such as a
// period directory is ignored); otherwise the filesystem modification time
// truncated to the day. Go exposes no portable creation time, so mtime is the
// fallback for all platforms.
func FileDate(path string) time.Time {
	if token := filenameDatePattern.FindString(filepath.Base(path)); token != "" {
		if d, err := time.Parse(domain.DateLayout, token); err == nil {
			return d
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	m := info.ModTime().UTC()
	return time.Date(m.Year(), m.Month(), m.Day(), 0, 0, 0, 0, time.UTC)
}
