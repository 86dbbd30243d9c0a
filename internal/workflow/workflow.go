// Package workflow runs the guided ingestion session: resolve what is
// missing, suspend while a human fetches it, then classify, merge, and
// mirror the results.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rumor-ml/commons.systems/bankload/internal/classify"
	"github.com/rumor-ml/commons.systems/bankload/internal/cutoff"
	"github.com/rumor-ml/commons.systems/bankload/internal/docstore"
	"github.com/rumor-ml/commons.systems/bankload/internal/domain"
	"github.com/rumor-ml/commons.systems/bankload/internal/fingerprint"
	"github.com/rumor-ml/commons.systems/bankload/internal/merge"
	"github.com/rumor-ml/commons.systems/bankload/internal/parser"
	"github.com/rumor-ml/commons.systems/bankload/internal/registry"
	"github.com/rumor-ml/commons.systems/bankload/internal/rules"
	"github.com/rumor-ml/commons.systems/bankload/internal/scanner"
	"github.com/rumor-ml/commons.systems/bankload/internal/store"
	"github.com/rumor-ml/commons.systems/bankload/internal/ui"
)

// Download pairs a fulfilled request with the local file the session
// produced for it.
type Download struct {
	Request cutoff.Request
	Path    string
}

// SessionDriver produces the files for a list of download requests. The
// terminal driver suspends and waits for a human; tests stub it.
type SessionDriver interface {
	Fetch(ctx context.Context, requests []cutoff.Request) ([]Download, error)
}

// DatasetMirror receives the final content of each dataset after a run.
type DatasetMirror interface {
	SyncDataset(ctx context.Context, accType domain.AccountType, state domain.State, txns []domain.Transaction) error
}

// Archiver stores raw statement files off-machine and keeps the load-session
// audit trail next to them.
type Archiver interface {
	PutStatementFile(ctx context.Context, file *docstore.StatementFile) error
	GetStatementFile(ctx context.Context, period, account string, accType domain.AccountType) (*docstore.StatementFile, error)
	CreateLoadSession(ctx context.Context, session *docstore.LoadSession) error
	UpdateLoadSession(ctx context.Context, session *docstore.LoadSession) error
}

// Options wires a workflow. Store, Engine, Resolver, Classifier, Registry,
// and Driver are required; Rules, Mirror, Archiver, and Scanner are optional.
type Options struct {
	Store      *store.Store
	Engine     *merge.Engine
	Resolver   *cutoff.Resolver
	Classifier *classify.Classifier
	Registry   *registry.Registry
	Driver     SessionDriver
	Rules      *rules.Engine
	Mirror     DatasetMirror
	Archiver   Archiver
	// Scanner, when set, owns the statement folder layout: resolution reads
	// archived periods from it and committed downloads are filed into it.
	Scanner *scanner.Scanner
	DryRun  bool
}

// Workflow is the single-threaded ingestion state machine. Each table load
// commits on its own; there is no cross-table transaction, so a failed table
// never blocks its siblings.
type Workflow struct {
	opts Options
}

// New validates the wiring and returns a workflow.
func New(opts Options) (*Workflow, error) {
	switch {
	case opts.Store == nil:
		return nil, fmt.Errorf("store is required")
	case opts.Engine == nil:
		return nil, fmt.Errorf("merge engine is required")
	case opts.Resolver == nil:
		return nil, fmt.Errorf("cutoff resolver is required")
	case opts.Classifier == nil:
		return nil, fmt.Errorf("classifier is required")
	case opts.Registry == nil:
		return nil, fmt.Errorf("parser registry is required")
	case opts.Driver == nil:
		return nil, fmt.Errorf("session driver is required")
	}
	return &Workflow{opts: opts}, nil
}

// Summary reports what a run did.
type Summary struct {
	Requests         int
	Files            int
	DuplicateContent int
	Unrecognized     int
	ParseFailures    int
	Loads            []merge.Result
	LoadFailures     int
	RowsLoaded       int
	RowsDeduped      int
	CutoffsRecorded  int
	Mirrored         int
	Archived         int
	Relocated        int
}

// pendingFingerprint is a digest waiting for its table loads to commit.
type pendingFingerprint struct {
	fp     fingerprint.Fingerprint
	tables map[string]bool
}

// pendingCutoff is a closed-period cutoff waiting for its table load.
type pendingCutoff struct {
	cutoff domain.Cutoff
	table  string
}

// Run executes one full session. Connectivity failures on individual tables
// or collaborators are logged and skipped; only wiring and resolution
// failures abort the run.
func (w *Workflow) Run(ctx context.Context) (*Summary, error) {
	summary := &Summary{}

	requests, err := w.Resolve(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve missing statements: %w", err)
	}
	summary.Requests = len(requests)

	if len(requests) == 0 {
		ui.Success("All statements are up to date")
		return summary, nil
	}

	session := w.beginSession(ctx)

	downloads, err := w.opts.Driver.Fetch(ctx, requests)
	if err != nil {
		w.failSession(ctx, session, err)
		return nil, fmt.Errorf("download session failed: %w", err)
	}
	summary.Files = len(downloads)

	batches, pendingFPs, pendingCutoffs := w.ingest(ctx, downloads, summary)

	loaded := w.load(ctx, batches, summary)

	if !w.opts.DryRun {
		committed := committedFingerprints(pendingFPs, loaded)
		w.commitFingerprints(ctx, pendingFPs, loaded)
		w.commitCutoffs(ctx, pendingCutoffs, loaded, summary)
		w.archive(ctx, downloads, committed, summary)
		w.relocate(downloads, committed, summary)
		w.mirror(ctx, summary)
	}

	w.completeSession(ctx, session, summary)
	return summary, nil
}

// beginSession opens the audit record for this run. Sessions live next to
// the archived files, so they exist only when an archiver is configured; a
// failure to open one degrades to a warning, never blocks ingestion.
func (w *Workflow) beginSession(ctx context.Context) *docstore.LoadSession {
	if w.opts.Archiver == nil || w.opts.DryRun {
		return nil
	}

	session := docstore.NewLoadSession()
	session.Status = docstore.LoadSessionStatusProcessing
	if err := w.opts.Archiver.CreateLoadSession(ctx, session); err != nil {
		ui.Warning(fmt.Sprintf("Failed to open load session: %v", err))
		return nil
	}
	return session
}

// failSession closes the audit record after an aborted run.
func (w *Workflow) failSession(ctx context.Context, session *docstore.LoadSession, cause error) {
	if session == nil {
		return
	}
	now := time.Now().UTC()
	session.Status = docstore.LoadSessionStatusError
	session.Error = cause.Error()
	session.CompletedAt = &now
	if err := w.opts.Archiver.UpdateLoadSession(ctx, session); err != nil {
		ui.Warning(fmt.Sprintf("Failed to close load session %s: %v", session.ID, err))
	}
}

// completeSession closes the audit record with the run's counters.
func (w *Workflow) completeSession(ctx context.Context, session *docstore.LoadSession, summary *Summary) {
	if session == nil {
		return
	}

	now := time.Now().UTC()
	session.FileCount = summary.Files
	session.Stats = map[string]int{
		"rows_loaded":       summary.RowsLoaded,
		"rows_deduped":      summary.RowsDeduped,
		"duplicate_content": summary.DuplicateContent,
		"unrecognized":      summary.Unrecognized,
		"parse_failures":    summary.ParseFailures,
		"load_failures":     summary.LoadFailures,
		"cutoffs_recorded":  summary.CutoffsRecorded,
		"mirrored":          summary.Mirrored,
		"archived":          summary.Archived,
		"relocated":         summary.Relocated,
	}
	session.Status = docstore.LoadSessionStatusCompleted
	if summary.LoadFailures > 0 || summary.ParseFailures > 0 {
		session.Status = docstore.LoadSessionStatusError
		session.Error = fmt.Sprintf("%d tables failed to load, %d files failed to parse",
			summary.LoadFailures, summary.ParseFailures)
	}
	session.CompletedAt = &now

	if err := w.opts.Archiver.UpdateLoadSession(ctx, session); err != nil {
		ui.Warning(fmt.Sprintf("Failed to close load session %s: %v", session.ID, err))
	}
}

// Resolve builds the ordered download request list from storage state. Run
// calls it first; the resolve stage exposes it on its own for inspection.
func (w *Workflow) Resolve(ctx context.Context) ([]cutoff.Request, error) {
	st := w.opts.Store

	accounts, err := st.Accounts(ctx)
	if err != nil {
		return nil, err
	}
	cutoffs, err := st.Cutoffs(ctx)
	if err != nil {
		return nil, err
	}

	archived := map[string]map[string]bool{}
	for _, table := range []string{store.TableDebitClosed, store.TableCreditClosed} {
		periods, err := st.ClosedPeriods(ctx, table)
		if err != nil {
			return nil, err
		}
		for account, byPeriod := range periods {
			if archived[account] == nil {
				archived[account] = map[string]bool{}
			}
			for period := range byPeriod {
				archived[account][period] = true
			}
		}
	}

	openDates := map[domain.AccountType]time.Time{}
	for accType, table := range map[domain.AccountType]string{
		domain.AccountTypeDebit:  store.TableDebitOpen,
		domain.AccountTypeCredit: store.TableCreditOpen,
	} {
		maxDate, err := st.MaxSourceFileDate(ctx, table)
		if err != nil {
			return nil, err
		}
		openDates[accType] = maxDate
	}

	// Previously relocated files are archive evidence too: a period present
	// on disk but missing from the tables still counts as fetched.
	if w.opts.Scanner != nil {
		candidates, err := w.opts.Scanner.Scan()
		if err != nil {
			ui.Warning(fmt.Sprintf("Folder scan failed, resolving from tables only: %v", err))
		} else {
			for _, c := range candidates {
				if c.Origin != scanner.OriginArchive || c.Period == "" {
					continue
				}
				acc := w.opts.Classifier.AccountFor(c.Path)
				if acc == nil {
					continue
				}
				if archived[acc.Number] == nil {
					archived[acc.Number] = map[string]bool{}
				}
				archived[acc.Number][c.Period] = true
			}
		}
	}

	return w.opts.Resolver.Resolve(accounts, cutoffs, archived, openDates), nil
}

// ingest fingerprints, classifies, and parses each download, grouping the
// resulting rows into per-table batches. File-level problems skip the file.
func (w *Workflow) ingest(ctx context.Context, downloads []Download, summary *Summary) (map[string][]domain.Transaction, []*pendingFingerprint, []pendingCutoff) {
	batches := map[string][]domain.Transaction{}
	var pendingFPs []*pendingFingerprint
	var pendingCutoffs []pendingCutoff
	seen := map[string]bool{}

	for _, dl := range downloads {
		fp, err := fingerprint.File(dl.Path)
		if err != nil {
			ui.Error(fmt.Sprintf("Cannot fingerprint %s: %v", dl.Path, err))
			summary.ParseFailures++
			continue
		}
		if seen[fp.Digest] {
			ui.Info(fmt.Sprintf("Duplicate content in session, skipping %s", dl.Path))
			summary.DuplicateContent++
			continue
		}
		seen[fp.Digest] = true

		if !w.opts.DryRun && !fp.Degraded {
			known, err := w.opts.Store.HasFingerprint(ctx, fp.Digest)
			if err != nil {
				ui.Warning(fmt.Sprintf("Fingerprint lookup failed for %s: %v", dl.Path, err))
			} else if known {
				ui.Info(fmt.Sprintf("Already ingested, skipping %s", dl.Path))
				summary.DuplicateContent++
				continue
			}
		}

		result, err := w.classify(dl)
		if err != nil {
			if errors.Is(err, classify.ErrUnrecognized) {
				ui.Warning(fmt.Sprintf("Unrecognized statement shape, skipping %s", dl.Path))
				summary.Unrecognized++
			} else {
				ui.Error(fmt.Sprintf("Cannot classify %s: %v", dl.Path, err))
				summary.ParseFailures++
			}
			continue
		}
		if result.Kind != "" && result.Kind.AccountType() != dl.Request.Type {
			ui.Warning(fmt.Sprintf("File %s looks like a %s export but was requested for a %s account",
				dl.Path, result.Kind.AccountType(), dl.Request.Type))
		}

		stmt, err := w.parse(ctx, dl, result)
		if err != nil {
			ui.Error(fmt.Sprintf("Cannot parse %s: %v", dl.Path, err))
			summary.ParseFailures++
			continue
		}

		// The request names the destination; the classified kind only drives
		// column mapping inside the CSV parser.
		table := store.TableFor(dl.Request.Type, dl.Request.Status)
		for i := range stmt.Transactions {
			txn := &stmt.Transactions[i]
			txn.State = dl.Request.Status
			if w.opts.Rules != nil {
				w.opts.Rules.Apply(txn)
			}
		}
		batches[table] = append(batches[table], stmt.Transactions...)

		pendingFPs = append(pendingFPs, &pendingFingerprint{
			fp:     fp,
			tables: map[string]bool{table: true},
		})
		if dl.Request.Status == domain.StateClosed {
			pendingCutoffs = append(pendingCutoffs, pendingCutoff{
				cutoff: domain.Cutoff{
					AccountNumber: dl.Request.Account,
					Type:          dl.Request.Type,
					Period:        dl.Request.Period,
				},
				table: table,
			})
		}
	}

	return batches, pendingFPs, pendingCutoffs
}

// classify labels a download. Header classification only applies to CSV
// exports; other formats (OFX) carry their own structure and get filename
// metadata only.
func (w *Workflow) classify(dl Download) (*classify.Result, error) {
	if strings.EqualFold(filepath.Ext(dl.Path), ".csv") {
		return w.opts.Classifier.Classify(dl.Path)
	}
	return &classify.Result{
		Account:  w.opts.Classifier.AccountFor(dl.Path),
		FileDate: classify.FileDate(dl.Path),
	}, nil
}

// parse selects a parser for the file and runs it.
func (w *Workflow) parse(ctx context.Context, dl Download, result *classify.Result) (*parser.Statement, error) {
	p, err := w.opts.Registry.FindParser(dl.Path)
	if err != nil {
		return nil, err
	}

	account := result.Account
	if account == nil {
		// The catalog number was not in the filename; trust the request.
		account = &domain.Account{Number: dl.Request.Account, Type: dl.Request.Type}
	} else if account.Number != dl.Request.Account {
		ui.Warning(fmt.Sprintf("File %s names account %s but was requested for %s",
			dl.Path, account.Number, dl.Request.Account))
	}

	f, err := os.Open(dl.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	meta := &parser.Metadata{
		Path:     dl.Path,
		Kind:     result.Kind,
		Header:   result.Header,
		Account:  account,
		FileDate: result.FileDate,
		State:    dl.Request.Status,
	}
	return p.Parse(ctx, f, meta)
}

// tableOrder fixes the load sequence so runs are deterministic.
var tableOrder = []string{
	store.TableDebitOpen,
	store.TableDebitClosed,
	store.TableCreditOpen,
	store.TableCreditClosed,
}

// load persists each table's batch. Open snapshots are replaced wholesale,
// closed archives are upserted. A failed table is logged and skipped; the
// returned set names the tables that committed.
func (w *Workflow) load(ctx context.Context, batches map[string][]domain.Transaction, summary *Summary) map[string]bool {
	loaded := map[string]bool{}

	for _, table := range tableOrder {
		batch, ok := batches[table]
		if !ok {
			continue
		}

		mode := merge.ModeUpsert
		if table == store.TableDebitOpen || table == store.TableCreditOpen {
			mode = merge.ModeOverwrite
		}

		if w.opts.DryRun {
			normalized, deduped, err := merge.Normalize(batch)
			if err != nil {
				ui.Error(fmt.Sprintf("Dry run: %s batch invalid: %v", table, err))
				summary.LoadFailures++
				continue
			}
			result := merge.Result{Table: table, Mode: mode, Rows: len(normalized), Deduped: deduped}
			summary.Loads = append(summary.Loads, result)
			summary.RowsLoaded += result.Rows
			summary.RowsDeduped += result.Deduped
			ui.Info(fmt.Sprintf("Dry run: would load %d rows into %s (%d deduped)", result.Rows, table, result.Deduped))
			continue
		}

		result, err := w.opts.Engine.Load(ctx, table, batch, mode)
		if err != nil {
			ui.Error(fmt.Sprintf("Failed to load %s: %v", table, err))
			summary.LoadFailures++
			continue
		}

		loaded[table] = true
		summary.Loads = append(summary.Loads, *result)
		summary.RowsLoaded += result.Rows
		summary.RowsDeduped += result.Deduped
		ui.Success(fmt.Sprintf("Loaded %d rows into %s (%d deduped)", result.Rows, table, result.Deduped))
	}

	return loaded
}

// commitFingerprints records digests whose destination tables all committed.
// A file whose load failed stays unrecorded so the next run retries it.
func (w *Workflow) commitFingerprints(ctx context.Context, pending []*pendingFingerprint, loaded map[string]bool) {
	for _, p := range pending {
		committed := true
		for table := range p.tables {
			if !loaded[table] {
				committed = false
				break
			}
		}
		if !committed {
			continue
		}
		if err := w.opts.Store.RecordFingerprint(ctx, p.fp.Digest, p.fp.Path, p.fp.Degraded); err != nil {
			ui.Warning(fmt.Sprintf("Failed to record fingerprint for %s: %v", p.fp.Path, err))
		}
	}
}

// commitCutoffs records closed-period boundaries for tables that committed.
func (w *Workflow) commitCutoffs(ctx context.Context, pending []pendingCutoff, loaded map[string]bool, summary *Summary) {
	for _, p := range pending {
		if !loaded[p.table] {
			continue
		}
		if err := w.opts.Store.RecordCutoff(ctx, p.cutoff); err != nil {
			ui.Warning(fmt.Sprintf("Failed to record cutoff %s for account %s: %v",
				p.cutoff.Period, p.cutoff.AccountNumber, err))
			continue
		}
		summary.CutoffsRecorded++
	}
}

// committedFingerprints returns the fingerprints, keyed by file path, whose
// destination tables all committed.
func committedFingerprints(pending []*pendingFingerprint, loaded map[string]bool) map[string]fingerprint.Fingerprint {
	out := map[string]fingerprint.Fingerprint{}
	for _, p := range pending {
		committed := true
		for table := range p.tables {
			if !loaded[table] {
				committed = false
				break
			}
		}
		if committed {
			out[p.fp.Path] = p.fp
		}
	}
	return out
}

// archive uploads the raw files of committed loads to the document store. A
// period whose archived copy already carries the same digest is left alone.
func (w *Workflow) archive(ctx context.Context, downloads []Download, committed map[string]fingerprint.Fingerprint, summary *Summary) {
	if w.opts.Archiver == nil {
		return
	}

	for _, dl := range downloads {
		fp, ok := committed[dl.Path]
		if !ok {
			continue
		}
		existing, err := w.opts.Archiver.GetStatementFile(ctx, dl.Request.Period, dl.Request.Account, dl.Request.Type)
		if err == nil && existing.Digest == fp.Digest {
			continue
		}
		content, err := os.ReadFile(dl.Path)
		if err != nil {
			ui.Warning(fmt.Sprintf("Cannot read %s for archival: %v", dl.Path, err))
			continue
		}
		file := &docstore.StatementFile{
			CutoffPeriod:  dl.Request.Period,
			AccountNumber: dl.Request.Account,
			Type:          dl.Request.Type,
			FileName:      filepath.Base(dl.Path),
			Digest:        fp.Digest,
			Content:       content,
		}
		if err := w.opts.Archiver.PutStatementFile(ctx, file); err != nil {
			ui.Warning(fmt.Sprintf("Failed to archive %s: %v", dl.Path, err))
			continue
		}
		summary.Archived++
	}
}

// relocate files committed downloads into the statement folder layout: open
// snapshots under the period folder, closed statements under the archive.
// Files whose loads failed stay in staging for the next session.
func (w *Workflow) relocate(downloads []Download, committed map[string]fingerprint.Fingerprint, summary *Summary) {
	if w.opts.Scanner == nil {
		return
	}

	for _, dl := range downloads {
		if _, ok := committed[dl.Path]; !ok {
			continue
		}

		var dest string
		var err error
		if dl.Request.Status == domain.StateOpen {
			dest, err = w.opts.Scanner.PlaceCurrent(dl.Path, dl.Request.Period)
		} else {
			dest, err = w.opts.Scanner.PlaceArchive(dl.Path, dl.Request.Period)
		}
		if err != nil {
			ui.Warning(fmt.Sprintf("Failed to file %s: %v", dl.Path, err))
			continue
		}
		ui.Info(fmt.Sprintf("Filed %s", dest))
		summary.Relocated++
	}
}

// datasetsByTable maps each transaction table to its mirror dataset.
var datasetsByTable = map[string]struct {
	accType domain.AccountType
	state   domain.State
}{
	store.TableDebitOpen:    {domain.AccountTypeDebit, domain.StateOpen},
	store.TableDebitClosed:  {domain.AccountTypeDebit, domain.StateClosed},
	store.TableCreditOpen:   {domain.AccountTypeCredit, domain.StateOpen},
	store.TableCreditClosed: {domain.AccountTypeCredit, domain.StateClosed},
}

// SyncMirror pushes the current datasets without ingesting anything. The
// mirror-only stage uses it after manual database edits.
func (w *Workflow) SyncMirror(ctx context.Context) *Summary {
	summary := &Summary{}
	w.mirror(ctx, summary)
	return summary
}

// mirror pushes every dataset to the spreadsheet mirror. Failures are logged
// per dataset and the rest continue.
func (w *Workflow) mirror(ctx context.Context, summary *Summary) {
	if w.opts.Mirror == nil {
		return
	}

	for _, table := range tableOrder {
		ds := datasetsByTable[table]
		txns, err := w.opts.Store.Transactions(ctx, table)
		if err != nil {
			ui.Warning(fmt.Sprintf("Cannot read %s for mirroring: %v", table, err))
			continue
		}
		if err := w.opts.Mirror.SyncDataset(ctx, ds.accType, ds.state, txns); err != nil {
			ui.Warning(fmt.Sprintf("Failed to mirror %s: %v", table, err))
			continue
		}
		summary.Mirrored++
	}
}
