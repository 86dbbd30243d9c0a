// Package cutoff computes which (account, period) statement files are
// expected but absent from storage, and whether the open-period snapshots
// are stale. It never touches the network or the browser; its output is the
// sole interface handed to the download session driver.
package cutoff

import (
	"sort"
	"time"

	"github.com/rumor-ml/commons.systems/bankload/internal/domain"
)

// Request is one file the session driver should fetch.
type Request struct {
	Type    domain.AccountType
	Period  string
	Account string
	Status  domain.State
}

// Resolver derives download requests from the account catalog, the recorded
// cutoffs, and the periods already archived.
type Resolver struct {
	now func() time.Time
}

// New creates a resolver on the real clock.
func New() *Resolver {
	return &Resolver{now: time.Now}
}

// NewWithClock creates a resolver on an injected clock, for tests.
func NewWithClock(now func() time.Time) *Resolver {
	return &Resolver{now: now}
}

// CurrentPeriod returns the open statement period for an account type.
// Debit follows the calendar month. Credit statements are forward-dated to
// the next cutoff, so credit's current period is one month ahead. This
// asymmetry is a fixed business rule of the bank, not configuration.
func (r *Resolver) CurrentPeriod(t domain.AccountType) string {
	month := r.monthStart()
	if t == domain.AccountTypeCredit {
		month = month.AddDate(0, 1, 0)
	}
	return month.Format(domain.PeriodLayout)
}

// ExpectedClosedPeriods returns the closed periods the archive should hold
// for an account type: the two months before the current one for debit, and
// the month preceding the forward-dated current cutoff for credit.
func (r *Resolver) ExpectedClosedPeriods(t domain.AccountType) []string {
	month := r.monthStart()
	if t == domain.AccountTypeDebit {
		return []string{
			month.AddDate(0, -1, 0).Format(domain.PeriodLayout),
			month.AddDate(0, -2, 0).Format(domain.PeriodLayout),
		}
	}
	return []string{month.Format(domain.PeriodLayout)}
}

// MissingClosed computes the (account, period) pairs expected in the closed
// archive but absent from it. Recorded cutoffs refine the expectation: when
// an account has cutoff records, the two most recent closed cutoff periods
// replace the calendar window (the bank may close off-calendar).
func (r *Resolver) MissingClosed(accounts []domain.Account, cutoffs []domain.Cutoff, archived map[string]map[string]bool) []Request {
	byAccount := make(map[string][]string)
	for _, c := range cutoffs {
		if c.Period == domain.OpenCutoff {
			continue
		}
		byAccount[c.AccountNumber] = append(byAccount[c.AccountNumber], c.Period)
	}

	var out []Request
	for _, acc := range accounts {
		expected := r.ExpectedClosedPeriods(acc.Type)
		if recorded := byAccount[acc.Number]; len(recorded) > 0 {
			sort.Sort(sort.Reverse(sort.StringSlice(recorded)))
			if len(recorded) > 2 {
				recorded = recorded[:2]
			}
			expected = recorded
		}

		have := archived[acc.Number]
		for _, period := range expected {
			if have[period] {
				continue
			}
			out = append(out, Request{
				Type:    acc.Type,
				Period:  period,
				Account: acc.Number,
				Status:  domain.StateClosed,
			})
		}
	}

	sortRequests(out)
	return out
}

// StaleOpen reports whether an open-period snapshot needs a re-fetch: the
// snapshot is stale unless its newest source file was produced today.
func (r *Resolver) StaleOpen(maxSourceFileDate time.Time) bool {
	today := r.today()
	return !maxSourceFileDate.Equal(today)
}

// Resolve produces the full ordered download list: stale open snapshots
// first (the freshest data drives reconciliation), then missing closed
// archives. openDates maps account type to the newest source_file_date of
// the corresponding open table.
func (r *Resolver) Resolve(accounts []domain.Account, cutoffs []domain.Cutoff, archived map[string]map[string]bool, openDates map[domain.AccountType]time.Time) []Request {
	var out []Request

	for _, acc := range accounts {
		if !r.StaleOpen(openDates[acc.Type]) {
			continue
		}
		out = append(out, Request{
			Type:    acc.Type,
			Period:  r.CurrentPeriod(acc.Type),
			Account: acc.Number,
			Status:  domain.StateOpen,
		})
	}
	sortRequests(out)

	out = append(out, r.MissingClosed(accounts, cutoffs, archived)...)
	return out
}

func (r *Resolver) monthStart() time.Time {
	n := r.now().UTC()
	return time.Date(n.Year(), n.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func (r *Resolver) today() time.Time {
	n := r.now().UTC()
	return time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, time.UTC)
}

// sortRequests orders debit before credit, then by account and period, so
// the human-guided download session follows a predictable sequence.
func sortRequests(reqs []Request) {
	sort.SliceStable(reqs, func(i, j int) bool {
		if reqs[i].Type != reqs[j].Type {
			return reqs[i].Type == domain.AccountTypeDebit
		}
		if reqs[i].Account != reqs[j].Account {
			return reqs[i].Account < reqs[j].Account
		}
		return reqs[i].Period < reqs[j].Period
	})
}
