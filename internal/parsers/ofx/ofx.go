// Package ofx provides OFX/QFX statement parsing for bankload
package ofx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/aclindsa/ofxgo"

	"github.com/rumor-ml/commons.systems/bankload/internal/domain"
	"github.com/rumor-ml/commons.systems/bankload/internal/parser"
)

// Parser implements OFX/QFX parsing with a stateless design. Each method
// operates solely on the input data provided, making the parser safe for
// concurrent use without locking.
type Parser struct{}

var parserInstance = &Parser{}

// NewParser returns the shared OFX parser instance.
func NewParser() *Parser {
	return parserInstance
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
	return "ofx"
}

// CanParse checks if this parser can handle the file based on extension and header
func (p *Parser) CanParse(path string, header []byte) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".ofx" && ext != ".qfx" {
		return false
	}

	// Look for OFX header markers (both v1 SGML and v2 XML formats)
	headerUpper := strings.ToUpper(string(header))
	return strings.Contains(headerUpper, "OFXHEADER") ||
		strings.Contains(headerUpper, "<?OFX") ||
		strings.Contains(headerUpper, "<OFX>")
}

// Parse extracts transactions from an OFX/QFX file
func (p *Parser) Parse(ctx context.Context, r io.Reader, meta *parser.Metadata) (*parser.Statement, error) {
	if meta == nil {
		return nil, fmt.Errorf("metadata is required")
	}
	if meta.AccountNumber() == "" {
		return nil, fmt.Errorf("no account attributed%s", getFileInfo(meta))
	}

	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read OFX content%s: %w", getFileInfo(meta), err)
	}

	// ofxgo.ParseResponse does not support context cancellation, so this
	// check only catches cancellation between file read and parsing.
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	response, err := ofxgo.ParseResponse(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse OFX file%s (%d bytes): %w", getFileInfo(meta), len(content), err)
	}

	var tranList *ofxgo.TransactionList
	switch {
	case len(response.CreditCard) > 0:
		ccStmt, ok := response.CreditCard[0].(*ofxgo.CCStatementResponse)
		if !ok {
			return nil, fmt.Errorf("failed to type assert credit card statement: expected *ofxgo.CCStatementResponse, got %T", response.CreditCard[0])
		}
		tranList = ccStmt.BankTranList
	case len(response.Bank) > 0:
		bankStmt, ok := response.Bank[0].(*ofxgo.StatementResponse)
		if !ok {
			return nil, fmt.Errorf("failed to type assert bank statement: expected *ofxgo.StatementResponse, got %T", response.Bank[0])
		}
		tranList = bankStmt.BankTranList
	default:
		return nil, fmt.Errorf("no supported statement type found in OFX file%s (creditcard: %d, bank: %d)",
			getFileInfo(meta), len(response.CreditCard), len(response.Bank))
	}

	if tranList == nil {
		return nil, fmt.Errorf("missing transaction list%s", getFileInfo(meta))
	}

	transactions, err := p.parseTransactions(tranList, meta)
	if err != nil {
		return nil, fmt.Errorf("failed to parse transactions%s: %w", getFileInfo(meta), err)
	}

	return &parser.Statement{
		Metadata:     *meta,
		Transactions: transactions,
	}, nil
}

func (p *Parser) parseTransactions(tranList *ofxgo.TransactionList, meta *parser.Metadata) ([]domain.Transaction, error) {
	transactions := make([]domain.Transaction, 0, len(tranList.Transactions))

	for i, txn := range tranList.Transactions {
		converted, err := p.convertTransaction(txn, meta)
		if err != nil {
			return nil, fmt.Errorf("failed to parse transaction at index %d: %w", i, err)
		}
		transactions = append(transactions, *converted)
	}

	return transactions, nil
}

// convertTransaction maps one OFX transaction onto a statement line. Negative
// amounts are money out (cargo), positive amounts money in (abono).
func (p *Parser) convertTransaction(txn ofxgo.Transaction, meta *parser.Metadata) (*domain.Transaction, error) {
	date := txn.DtPosted.Time
	if date.IsZero() {
		date = txn.DtUser.Time
	}

	concept := strings.TrimSpace(txn.Name.String())
	if concept == "" {
		concept = strings.TrimSpace(txn.Memo.String())
	}
	if concept == "" {
		return nil, fmt.Errorf("transaction %s missing both name and memo fields", txn.FiTID.String())
	}

	amount, _ := txn.TrnAmt.Float64()
	var charge, credit float64
	if amount < 0 {
		charge = -amount
	} else {
		credit = amount
	}

	converted, err := domain.NewTransaction(date, concept, charge, credit, meta.AccountNumber(), meta.State)
	if err != nil {
		return nil, err
	}
	converted.SourceFile = filepath.Base(meta.Path)
	converted.SourceFileDate = meta.FileDate
	return converted, nil
}
