// Package csv provides Banorte CSV statement parsing for bankload
package csv

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rumor-ml/commons.systems/bankload/internal/classify"
	"github.com/rumor-ml/commons.systems/bankload/internal/domain"
	"github.com/rumor-ml/commons.systems/bankload/internal/parser"
)

// Parser implements Banorte CSV parsing. Column positions are not fixed in the
// exports, so each file's header row is mapped to columns by name before any
// data row is read. The classifier decides which header shapes are accepted.
type Parser struct {
	classifier *classify.Classifier
}

// NewParser returns a CSV parser bound to the configured header sets.
func NewParser(c *classify.Classifier) *Parser {
	return &Parser{classifier: c}
}

// getFileInfo returns a formatted file path string for error messages
func getFileInfo(meta *parser.Metadata) string {
	if meta != nil && meta.Path != "" {
		return fmt.Sprintf(" from %s", meta.Path)
	}
	return ""
}

// Name returns the parser identifier
func (p *Parser) Name() string {
	return "csv-banorte"
}

// CanParse checks if this parser can handle the file based on extension and header
func (p *Parser) CanParse(path string, header []byte) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".csv" {
		return false
	}

	r := csv.NewReader(strings.NewReader(string(header)))
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1

	record, err := r.Read()
	if err != nil {
		return false
	}

	_, ok := p.classifier.MatchKind(record)
	return ok
}

// columnMap holds the resolved index of each known column in a header row.
// Indices are -1 when the column is absent from the file.
type columnMap struct {
	date    int
	concept int
	charge  int
	credit  int
	balance int
}

// columnAliases maps each logical column to the header spellings the bank has
// used across export revisions. Matching folds accents and case.
var columnAliases = map[string][]string{
	"date":    {"fecha", "fecha de operacion", "fecha de aplicacion"},
	"concept": {"concepto", "descripcion", "descripcion / establecimiento"},
	"charge":  {"cargo", "cargos", "retiro", "retiros"},
	"credit":  {"abono", "abonos", "deposito", "depositos"},
	"balance": {"saldo", "saldo actual"},
}

// mapColumns resolves header names to column indices. Date and concept are
// mandatory; at least one of charge/credit must be present.
func mapColumns(header []string) (*columnMap, error) {
	cm := &columnMap{date: -1, concept: -1, charge: -1, credit: -1, balance: -1}

	find := func(logical string) int {
		for i, h := range header {
			n := normalizeColumn(h)
			for _, alias := range columnAliases[logical] {
				if n == alias {
					return i
				}
			}
		}
		return -1
	}

	cm.date = find("date")
	cm.concept = find("concept")
	cm.charge = find("charge")
	cm.credit = find("credit")
	cm.balance = find("balance")

	if cm.date < 0 {
		return nil, fmt.Errorf("no date column in header %v", header)
	}
	if cm.concept < 0 {
		return nil, fmt.Errorf("no concept column in header %v", header)
	}
	if cm.charge < 0 && cm.credit < 0 {
		return nil, fmt.Errorf("no amount column in header %v", header)
	}
	return cm, nil
}

// normalizeColumn lowercases, trims and strips the accents the bank uses
// inconsistently across export revisions.
func normalizeColumn(h string) string {
	n := strings.ToLower(strings.TrimSpace(h))
	replacer := strings.NewReplacer("á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ñ", "n")
	return replacer.Replace(n)
}

// Parse extracts transactions from a Banorte CSV export
func (p *Parser) Parse(ctx context.Context, r io.Reader, meta *parser.Metadata) (*parser.Statement, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if meta == nil {
		return nil, fmt.Errorf("metadata is required")
	}
	if meta.AccountNumber() == "" {
		return nil, fmt.Errorf("no account attributed%s", getFileInfo(meta))
	}

	csvReader := csv.NewReader(r)
	csvReader.LazyQuotes = true
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV content%s: %w", getFileInfo(meta), err)
	}
	if len(records) < 1 {
		return nil, fmt.Errorf("CSV file is empty%s", getFileInfo(meta))
	}

	cm, err := mapColumns(records[0])
	if err != nil {
		return nil, fmt.Errorf("failed to map columns%s: %w", getFileInfo(meta), err)
	}

	transactions, err := p.parseRows(records[1:], cm, meta)
	if err != nil {
		return nil, fmt.Errorf("failed to parse transactions%s: %w", getFileInfo(meta), err)
	}

	return &parser.Statement{
		Metadata:     *meta,
		Transactions: transactions,
	}, nil
}

func (p *Parser) parseRows(records [][]string, cm *columnMap, meta *parser.Metadata) ([]domain.Transaction, error) {
	transactions := make([]domain.Transaction, 0, len(records))

	for i, record := range records {
		// Skip empty rows
		if len(record) == 0 || (len(record) == 1 && strings.TrimSpace(record[0]) == "") {
			continue
		}

		txn, err := p.parseRow(record, cm, meta)
		if err != nil {
			return nil, fmt.Errorf("failed to parse transaction at row %d: %w", i+2, err)
		}
		transactions = append(transactions, *txn)
	}

	return transactions, nil
}

// bankDateLayouts lists the date formats seen in Banorte exports, tried in order.
var bankDateLayouts = []string{"02/01/2006", "02-01-2006", "2006-01-02"}

func (p *Parser) parseRow(record []string, cm *columnMap, meta *parser.Metadata) (*domain.Transaction, error) {
	cell := func(idx int) string {
		if idx < 0 || idx >= len(record) {
			return ""
		}
		return record[idx]
	}

	date, err := parseDate(cell(cm.date))
	if err != nil {
		return nil, err
	}

	concept := domain.NormalizeNull(cell(cm.concept))

	charge, err := parseAmount(cell(cm.charge))
	if err != nil {
		return nil, fmt.Errorf("invalid charge %q: %w", cell(cm.charge), err)
	}
	credit, err := parseAmount(cell(cm.credit))
	if err != nil {
		return nil, fmt.Errorf("invalid credit %q: %w", cell(cm.credit), err)
	}

	txn, err := domain.NewTransaction(date, concept, charge, credit, meta.AccountNumber(), meta.State)
	if err != nil {
		return nil, err
	}

	if cm.balance >= 0 && !domain.IsNullMarker(cell(cm.balance)) {
		balance, err := parseAmount(cell(cm.balance))
		if err != nil {
			return nil, fmt.Errorf("invalid balance %q: %w", cell(cm.balance), err)
		}
		txn.Balance = &balance
	}

	txn.SourceFile = filepath.Base(meta.Path)
	txn.SourceFileDate = meta.FileDate
	return txn, nil
}

// parseDate interprets a date cell. A null marker yields the zero time, which
// NewTransaction substitutes with the sentinel date.
func parseDate(s string) (time.Time, error) {
	s = domain.NormalizeNull(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range bankDateLayouts {
		if d, err := time.Parse(layout, s); err == nil {
			return d, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}

// parseAmount interprets a money cell. Banorte exports wrap amounts with a
// currency symbol and thousands separators, and mark negatives with
// parentheses. Null markers yield zero.
func parseAmount(s string) (float64, error) {
	s = domain.NormalizeNull(s)
	if s == "" {
		return 0, nil
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}

	s = strings.NewReplacer("$", "", ",", "", " ", "").Replace(s)
	if s == "" {
		return 0, nil
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if negative {
		v = -v
	}
	return v, nil
}
