// Package domain holds the core statement-line types and the business-key
// normalization rules shared by the classifier, the merge engine, and the
// storage adapter.
package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// AccountType represents the account type enum.
// Use ValidateAccountType to ensure validity before use.
type AccountType string

const (
	AccountTypeDebit  AccountType = "debit"
	AccountTypeCredit AccountType = "credit"
)

// State marks whether a statement line belongs to the current (not yet
// finalized) period or to an archived one.
type State string

const (
	StateOpen   State = "open"
	StateClosed State = "closed"
)

// SentinelDate substitutes a missing statement date so the date column of the
// composite primary key is never empty. 1900-01-01 is an explicit domain
// value: any row carrying it is known to have arrived without a usable date.
var SentinelDate = time.Date(1900, time.January, 1, 0, 0, 0, 0, time.UTC)

// DateLayout is the canonical serialization for calendar dates (no time part).
const DateLayout = "2006-01-02"

// PeriodLayout is the canonical serialization for statement periods.
const PeriodLayout = "2006-01"

var validAccountTypes = map[AccountType]struct{}{
	AccountTypeDebit: {}, AccountTypeCredit: {},
}

// ValidateAccountType checks if the account type is valid
func ValidateAccountType(t AccountType) bool {
	_, ok := validAccountTypes[t]
	return ok
}

// Account is one catalog entry of the manually curated account list.
type Account struct {
	Number string      `yaml:"number"`
	Type   AccountType `yaml:"type"`
}

// Cutoff records one statement-closing boundary for an account.
// Period is either YYYY-MM or the sentinel OpenCutoff for the not-yet-closed one.
type Cutoff struct {
	AccountNumber string
	Type          AccountType
	Period        string
}

// OpenCutoff is the sentinel period marking a cutoff that has not closed yet.
const OpenCutoff = "open"

// Enrichment carries the manually assigned categorization columns. Values are
// mutated only through the categorization surface; rules may fill blanks.
type Enrichment struct {
	CategoryGroup    string
	CategorySubgroup string
	Beneficiary      string
}

// Transaction is one bank-statement line.
//
// Charge and Credit are zero when the statement column was empty; a line
// never carries both. Balance is nil for credit-card statements, which omit
// the column entirely.
type Transaction struct {
	Date           time.Time
	Concept        string
	Charge         float64
	Credit         float64
	Balance        *float64
	Account        string
	State          State
	SourceFile     string
	SourceFileDate time.Time
	Period         string
	UniqueConcept  string

	Enrichment Enrichment
}

// Key returns the business identity of the row. Two rows sharing a key are
// the same economic event even when the concept text or source file differs.
func (t *Transaction) Key() string {
	return fmt.Sprintf("%s|%s|%.2f|%.2f",
		t.Date.Format(DateLayout), t.UniqueConcept, t.Charge, t.Credit)
}

// NewTransaction builds a statement line, deriving UniqueConcept and Period
// and substituting SentinelDate when the date is missing.
func NewTransaction(date time.Time, concept string, charge, credit float64, account string, state State) (*Transaction, error) {
	if account == "" {
		return nil, fmt.Errorf("account cannot be empty")
	}
	if state != StateOpen && state != StateClosed {
		return nil, fmt.Errorf("invalid state %q", state)
	}
	if date.IsZero() {
		date = SentinelDate
	}
	uc, err := UniqueConcept(concept)
	if err != nil {
		return nil, fmt.Errorf("failed to derive unique concept: %w", err)
	}
	return &Transaction{
		Date:          date,
		Concept:       concept,
		Charge:        charge,
		Credit:        credit,
		Account:       account,
		State:         state,
		Period:        date.Format(PeriodLayout),
		UniqueConcept: uc,
	}, nil
}

var digitsPattern = regexp.MustCompile(`\d+`)

// UniqueConcept derives the normalized description key used to match the same
// economic event across re-downloaded files: all digits found in the concept
// concatenated, or the lowercased letters-only string when no digits exist.
// Accented letters are folded to their base form before extraction.
func UniqueConcept(concept string) (string, error) {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, concept)
	if err != nil {
		return "", fmt.Errorf("failed to normalize concept %q: %w", concept, err)
	}

	digits := digitsPattern.FindAllString(folded, -1)
	if len(digits) > 0 {
		return strings.Join(digits, ""), nil
	}

	var b strings.Builder
	for _, r := range strings.ToLower(folded) {
		if r >= 'a' && r <= 'z' {
			b.WriteRune(r)
		}
	}
	return b.String(), nil
}

// nullMarkers are string cell values that mean "no value" regardless of case.
var nullMarkers = map[string]struct{}{
	"": {}, "nan": {}, "nat": {}, "none": {}, "null": {}, "n/a": {}, "<na>": {},
}

// IsNullMarker reports whether a raw cell value denotes a true null.
func IsNullMarker(s string) bool {
	_, ok := nullMarkers[strings.ToLower(strings.TrimSpace(s))]
	return ok
}

// NormalizeNull maps null-like markers to the empty string and trims the rest.
func NormalizeNull(s string) string {
	if IsNullMarker(s) {
		return ""
	}
	return strings.TrimSpace(s)
}
