// Package store is the relational persistence adapter. It owns the SQLite
// schema (accounts, open/closed transaction tables, cutoffs, categories,
// beneficiaries, file fingerprints) and exposes the read/write contract the
// merge engine and resolver build on.
//
// The connection has an explicit lifecycle: the caller opens it at workflow
// start and closes it at workflow end. There is no cached singleton.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rumor-ml/commons.systems/bankload/internal/domain"
)

// Transaction table names, matching the portal's export naming.
const (
	TableDebitOpen    = "debito_abierto"
	TableDebitClosed  = "debito_cerrado"
	TableCreditOpen   = "credito_abierto"
	TableCreditClosed = "credito_cerrado"
)

// transactionTables is the closed set of tables holding statement lines.
var transactionTables = map[string]struct{}{
	TableDebitOpen: {}, TableDebitClosed: {},
	TableCreditOpen: {}, TableCreditClosed: {},
}

// TableFor maps (account type, state) to its transaction table.
func TableFor(t domain.AccountType, s domain.State) string {
	if t == domain.AccountTypeDebit {
		if s == domain.StateOpen {
			return TableDebitOpen
		}
		return TableDebitClosed
	}
	if s == domain.StateOpen {
		return TableCreditOpen
	}
	return TableCreditClosed
}

// Category is one (group, subgroup) pair of the manual categorization catalog.
type Category struct {
	Group    string
	Subgroup string
}

// Store wraps one SQLite connection.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	account_number TEXT PRIMARY KEY,
	type           TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS account_cutoffs (
	account_number TEXT NOT NULL,
	type           TEXT NOT NULL,
	cutoff_period  TEXT NOT NULL,
	PRIMARY KEY (account_number, type, cutoff_period)
);
CREATE TABLE IF NOT EXISTS category (
	grupo    TEXT NOT NULL,
	subgrupo TEXT NOT NULL,
	PRIMARY KEY (grupo, subgrupo)
);
CREATE TABLE IF NOT EXISTS beneficiaries (
	name TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS file_fingerprints (
	digest      TEXT PRIMARY KEY,
	path        TEXT NOT NULL,
	degraded    INTEGER NOT NULL DEFAULT 0,
	ingested_at TEXT NOT NULL
);
`

// transactionTableDDL is shared by the four statement tables. Amounts are in
// the primary key, so an absent charge or credit is stored as 0 rather than
// NULL (SQLite treats NULLs as distinct in unique indexes, which would defeat
// the dedup invariant).
const transactionTableDDL = `
CREATE TABLE IF NOT EXISTS %s (
	fecha            TEXT NOT NULL,
	concepto         TEXT,
	cargo            REAL NOT NULL DEFAULT 0,
	abono            REAL NOT NULL DEFAULT 0,
	saldo            REAL,
	cuenta           TEXT NOT NULL,
	estado           TEXT NOT NULL,
	source_file      TEXT,
	source_file_date TEXT,
	periodo          TEXT NOT NULL,
	unique_concept   TEXT NOT NULL,
	grupo            TEXT,
	subgrupo         TEXT,
	beneficiario     TEXT,
	PRIMARY KEY (fecha, unique_concept, cargo, abono)
);
`

// Open opens (creating if needed) the database at path and ensures the
// schema exists.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the connection. The Store is unusable afterwards.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	for table := range transactionTables {
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf(transactionTableDDL, table)); err != nil {
			return fmt.Errorf("failed to create table %s: %w", table, err)
		}
	}
	return nil
}

// wrapErr converts driver message text into the typed categories at the one
// place allowed to inspect it.
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "no such table"):
		return fmt.Errorf("%w: %v", ErrTableMissing, err)
	case strings.Contains(msg, "no such database"), strings.Contains(msg, "file is not a database"):
		return fmt.Errorf("%w: %v", ErrSchemaMissing, err)
	default:
		return err
	}
}

func validateTable(table string) error {
	if _, ok := transactionTables[table]; !ok {
		return fmt.Errorf("%w: %q is not a transaction table", ErrTableMissing, table)
	}
	return nil
}

const transactionColumns = `fecha, concepto, cargo, abono, saldo, cuenta, estado,
	source_file, source_file_date, periodo, unique_concept, grupo, subgrupo, beneficiario`

func transactionArgs(t *domain.Transaction) []any {
	return []any{
		t.Date.Format(domain.DateLayout),
		nullString(t.Concept),
		t.Charge,
		t.Credit,
		nullFloat(t.Balance),
		t.Account,
		string(t.State),
		nullString(t.SourceFile),
		nullDate(t.SourceFileDate),
		t.Period,
		t.UniqueConcept,
		nullString(t.Enrichment.CategoryGroup),
		nullString(t.Enrichment.CategorySubgroup),
		nullString(t.Enrichment.Beneficiary),
	}
}

// ReplaceAll truncates the table and appends all rows unconditionally, in one
// transaction. Used for open-period snapshots, which are always re-derived in
// full from the freshest download.
func (s *Store) ReplaceAll(ctx context.Context, table string, rows []domain.Transaction) error {
	if err := validateTable(table); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr(err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, table)); err != nil {
		return wrapErr(err)
	}

	insert := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		table, transactionColumns)
	for i := range rows {
		if _, err := tx.ExecContext(ctx, insert, transactionArgs(&rows[i])...); err != nil {
			return wrapErr(fmt.Errorf("failed to insert row %d: %w", i, err))
		}
	}

	return wrapErr(tx.Commit())
}

// Upsert inserts rows, overwriting all non-key columns on primary-key
// conflict. Used for closed-period archives, which only grow.
func (s *Store) Upsert(ctx context.Context, table string, rows []domain.Transaction) error {
	if err := validateTable(table); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr(err)
	}
	defer tx.Rollback()

	upsert := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(fecha, unique_concept, cargo, abono) DO UPDATE SET
			concepto = excluded.concepto,
			saldo = excluded.saldo,
			cuenta = excluded.cuenta,
			estado = excluded.estado,
			source_file = excluded.source_file,
			source_file_date = excluded.source_file_date,
			periodo = excluded.periodo,
			grupo = excluded.grupo,
			subgrupo = excluded.subgrupo,
			beneficiario = excluded.beneficiario`,
		table, transactionColumns)

	for i := range rows {
		if _, err := tx.ExecContext(ctx, upsert, transactionArgs(&rows[i])...); err != nil {
			return wrapErr(fmt.Errorf("failed to upsert row %d: %w", i, err))
		}
	}

	return wrapErr(tx.Commit())
}

// Transactions reads the full contents of a transaction table ordered by the
// primary key.
func (s *Store) Transactions(ctx context.Context, table string) ([]domain.Transaction, error) {
	if err := validateTable(table); err != nil {
		return nil, err
	}

	q := fmt.Sprintf(`SELECT %s FROM %s ORDER BY fecha, unique_concept, cargo, abono`,
		transactionColumns, table)
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		var (
			t                      domain.Transaction
			fecha, estado, periodo string
			concepto, srcFile      sql.NullString
			srcDate                sql.NullString
			saldo                  sql.NullFloat64
			grupo, subgrupo, benef sql.NullString
		)
		if err := rows.Scan(&fecha, &concepto, &t.Charge, &t.Credit, &saldo,
			&t.Account, &estado, &srcFile, &srcDate, &periodo, &t.UniqueConcept,
			&grupo, &subgrupo, &benef); err != nil {
			return nil, wrapErr(err)
		}

		t.Date, err = time.Parse(domain.DateLayout, fecha)
		if err != nil {
			return nil, fmt.Errorf("invalid date %q in %s: %w", fecha, table, err)
		}
		t.Concept = concepto.String
		if saldo.Valid {
			v := saldo.Float64
			t.Balance = &v
		}
		t.State = domain.State(estado)
		t.SourceFile = srcFile.String
		if srcDate.Valid && srcDate.String != "" {
			d, err := time.Parse(domain.DateLayout, srcDate.String)
			if err != nil {
				return nil, fmt.Errorf("invalid source file date %q in %s: %w", srcDate.String, table, err)
			}
			t.SourceFileDate = d
		}
		t.Period = periodo
		t.Enrichment = domain.Enrichment{
			CategoryGroup:    grupo.String,
			CategorySubgroup: subgrupo.String,
			Beneficiary:      benef.String,
		}
		out = append(out, t)
	}
	return out, wrapErr(rows.Err())
}

// Categorize sets the enrichment columns of the row identified by the
// composite business key. Returns ErrNotFound when no row matches.
func (s *Store) Categorize(ctx context.Context, table string, txn *domain.Transaction, e domain.Enrichment) error {
	if err := validateTable(table); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %s SET grupo = ?, subgrupo = ?, beneficiario = ?
		 WHERE fecha = ? AND unique_concept = ? AND cargo = ? AND abono = ?`, table),
		nullString(e.CategoryGroup), nullString(e.CategorySubgroup), nullString(e.Beneficiary),
		txn.Date.Format(domain.DateLayout), txn.UniqueConcept, txn.Charge, txn.Credit)
	if err != nil {
		return wrapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapErr(err)
	}
	if n == 0 {
		return fmt.Errorf("%w: no row with key %s in %s", ErrNotFound, txn.Key(), table)
	}
	return nil
}

// Accounts returns the curated account catalog.
func (s *Store) Accounts(ctx context.Context) ([]domain.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT account_number, type FROM accounts ORDER BY account_number`)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []domain.Account
	for rows.Next() {
		var a domain.Account
		if err := rows.Scan(&a.Number, &a.Type); err != nil {
			return nil, wrapErr(err)
		}
		out = append(out, a)
	}
	return out, wrapErr(rows.Err())
}

// UpsertAccount adds or updates one catalog entry.
func (s *Store) UpsertAccount(ctx context.Context, a domain.Account) error {
	if a.Number == "" {
		return fmt.Errorf("%w: account number", ErrMissingKeyColumn)
	}
	if !domain.ValidateAccountType(a.Type) {
		return fmt.Errorf("invalid account type %q", a.Type)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (account_number, type) VALUES (?, ?)
		 ON CONFLICT(account_number) DO UPDATE SET type = excluded.type`,
		a.Number, string(a.Type))
	return wrapErr(err)
}

// Cutoffs returns all recorded cutoff periods ordered newest first per
// account. The OpenCutoff sentinel sorts after any YYYY-MM value.
func (s *Store) Cutoffs(ctx context.Context) ([]domain.Cutoff, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT account_number, type, cutoff_period FROM account_cutoffs
		 ORDER BY account_number, type, cutoff_period DESC`)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []domain.Cutoff
	for rows.Next() {
		var c domain.Cutoff
		if err := rows.Scan(&c.AccountNumber, &c.Type, &c.Period); err != nil {
			return nil, wrapErr(err)
		}
		out = append(out, c)
	}
	return out, wrapErr(rows.Err())
}

// RecordCutoff stores one cutoff period; duplicates are ignored.
func (s *Store) RecordCutoff(ctx context.Context, c domain.Cutoff) error {
	if c.AccountNumber == "" || c.Period == "" {
		return fmt.Errorf("%w: cutoff key", ErrMissingKeyColumn)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO account_cutoffs (account_number, type, cutoff_period)
		 VALUES (?, ?, ?)`,
		c.AccountNumber, string(c.Type), c.Period)
	return wrapErr(err)
}

// ClosedPeriods reports, per account, the set of periods present in a closed
// archive table.
func (s *Store) ClosedPeriods(ctx context.Context, table string) (map[string]map[string]bool, error) {
	if err := validateTable(table); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT DISTINCT cuenta, periodo FROM %s`, table))
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	out := make(map[string]map[string]bool)
	for rows.Next() {
		var account, period string
		if err := rows.Scan(&account, &period); err != nil {
			return nil, wrapErr(err)
		}
		if out[account] == nil {
			out[account] = make(map[string]bool)
		}
		out[account][period] = true
	}
	return out, wrapErr(rows.Err())
}

// MaxSourceFileDate returns the newest source_file_date in the table, or the
// zero time when the table is empty or carries no dates.
func (s *Store) MaxSourceFileDate(ctx context.Context, table string) (time.Time, error) {
	if err := validateTable(table); err != nil {
		return time.Time{}, err
	}
	var max sql.NullString
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT MAX(source_file_date) FROM %s`, table)).Scan(&max)
	if err != nil {
		return time.Time{}, wrapErr(err)
	}
	if !max.Valid || max.String == "" {
		return time.Time{}, nil
	}
	d, err := time.Parse(domain.DateLayout, max.String)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid source file date %q in %s: %w", max.String, table, err)
	}
	return d, nil
}

// HasFingerprint reports whether a content digest was already ingested.
func (s *Store) HasFingerprint(ctx context.Context, digest string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM file_fingerprints WHERE digest = ?`, digest).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, wrapErr(err)
	}
	return true, nil
}

// RecordFingerprint stores a content digest after a successful load. The
// first path seen for a digest is retained.
func (s *Store) RecordFingerprint(ctx context.Context, digest, path string, degraded bool) error {
	if digest == "" {
		return fmt.Errorf("%w: digest", ErrMissingKeyColumn)
	}
	deg := 0
	if degraded {
		deg = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO file_fingerprints (digest, path, degraded, ingested_at)
		 VALUES (?, ?, ?, ?)`,
		digest, path, deg, time.Now().UTC().Format(time.RFC3339))
	return wrapErr(err)
}

// Categories returns the categorization catalog.
func (s *Store) Categories(ctx context.Context) ([]Category, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT grupo, subgrupo FROM category ORDER BY grupo, subgrupo`)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.Group, &c.Subgroup); err != nil {
			return nil, wrapErr(err)
		}
		out = append(out, c)
	}
	return out, wrapErr(rows.Err())
}

// UpsertCategory adds one (group, subgroup) pair; duplicates are ignored.
func (s *Store) UpsertCategory(ctx context.Context, c Category) error {
	if c.Group == "" {
		return fmt.Errorf("%w: category group", ErrMissingKeyColumn)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO category (grupo, subgrupo) VALUES (?, ?)`,
		c.Group, c.Subgroup)
	return wrapErr(err)
}

// Beneficiaries returns the known beneficiary names.
func (s *Store) Beneficiaries(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM beneficiaries ORDER BY name`)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, wrapErr(err)
		}
		out = append(out, name)
	}
	return out, wrapErr(rows.Err())
}

// AddBeneficiary records one beneficiary name; duplicates are ignored.
func (s *Store) AddBeneficiary(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("%w: beneficiary name", ErrMissingKeyColumn)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO beneficiaries (name) VALUES (?)`, name)
	return wrapErr(err)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func nullDate(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format(domain.DateLayout)
}
