// Package mirror keeps a Google Sheets copy of the transaction datasets for
// ad-hoc review outside the database.
package mirror

import (
	"context"
	"fmt"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/rumor-ml/commons.systems/bankload/internal/domain"
)

// Sheet names, one per dataset.
const (
	SheetDebitClosed   = "debit_closed"
	SheetDebitCurrent  = "debit_current"
	SheetCreditClosed  = "credit_closed"
	SheetCreditCurrent = "credit_current"
)

// SheetFor maps an account type and state to its mirror sheet name.
func SheetFor(accType domain.AccountType, state domain.State) (string, error) {
	switch {
	case accType == domain.AccountTypeDebit && state == domain.StateClosed:
		return SheetDebitClosed, nil
	case accType == domain.AccountTypeDebit && state == domain.StateOpen:
		return SheetDebitCurrent, nil
	case accType == domain.AccountTypeCredit && state == domain.StateClosed:
		return SheetCreditClosed, nil
	case accType == domain.AccountTypeCredit && state == domain.StateOpen:
		return SheetCreditCurrent, nil
	}
	return "", fmt.Errorf("no sheet for type %q state %q", accType, state)
}

// header is the first row of every mirror sheet.
var header = []interface{}{
	"fecha", "concepto", "cargo", "abono", "saldo", "cuenta",
	"periodo", "unique_concept", "grupo", "subgrupo", "beneficiario",
}

// Mirror writes datasets to one spreadsheet. The service handle is created
// once and reused; the caller owns the spreadsheet ID.
type Mirror struct {
	svc           *sheets.Service
	spreadsheetID string
}

// New creates a mirror bound to a spreadsheet. Credentials come from
// Application Default Credentials unless overridden by opts.
func New(ctx context.Context, spreadsheetID string, opts ...option.ClientOption) (*Mirror, error) {
	if spreadsheetID == "" {
		return nil, fmt.Errorf("spreadsheet ID is required")
	}
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Sheets service: %w", err)
	}
	return &Mirror{svc: svc, spreadsheetID: spreadsheetID}, nil
}

// Sync replaces the named sheet's content with the given transactions. The
// sheet is cleared first so rows removed from the database disappear from the
// mirror as well.
func (m *Mirror) Sync(ctx context.Context, sheet string, txns []domain.Transaction) error {
	_, err := m.svc.Spreadsheets.Values.
		Clear(m.spreadsheetID, sheet, &sheets.ClearValuesRequest{}).
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to clear sheet %s: %w", sheet, err)
	}

	values := &sheets.ValueRange{Values: rowsFor(txns)}
	_, err = m.svc.Spreadsheets.Values.
		Update(m.spreadsheetID, sheet+"!A1", values).
		ValueInputOption("RAW").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to update sheet %s: %w", sheet, err)
	}
	return nil
}

// SyncDataset looks up the sheet for a dataset and syncs it.
func (m *Mirror) SyncDataset(ctx context.Context, accType domain.AccountType, state domain.State, txns []domain.Transaction) error {
	sheet, err := SheetFor(accType, state)
	if err != nil {
		return err
	}
	return m.Sync(ctx, sheet, txns)
}

// rowsFor serializes transactions for the Sheets values API. Dates are
// written as YYYY-MM-DD strings so the mirror stays locale-independent.
func rowsFor(txns []domain.Transaction) [][]interface{} {
	rows := make([][]interface{}, 0, len(txns)+1)
	rows = append(rows, header)

	for i := range txns {
		t := &txns[i]
		var balance interface{} = ""
		if t.Balance != nil {
			balance = *t.Balance
		}
		rows = append(rows, []interface{}{
			t.Date.Format(domain.DateLayout),
			t.Concept,
			t.Charge,
			t.Credit,
			balance,
			t.Account,
			t.Period,
			t.UniqueConcept,
			t.Enrichment.CategoryGroup,
			t.Enrichment.CategorySubgroup,
			t.Enrichment.Beneficiary,
		})
	}
	return rows
}
