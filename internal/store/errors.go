package store

import "errors"

// Typed error categories for the storage adapter. Callers switch on these
// with errors.Is instead of pattern-matching driver message text; the single
// place that inspects driver messages is the adapter itself.
var (
	// ErrConnectionFailed wraps a database that cannot be opened or pinged.
	ErrConnectionFailed = errors.New("store: connection failed")

	// ErrSchemaMissing marks a database file whose schema has not been
	// created yet. Open migrates automatically, so seeing this from any
	// other method indicates an externally truncated database.
	ErrSchemaMissing = errors.New("store: schema missing")

	// ErrTableMissing marks a reference to a table the schema does not
	// define, including unknown dataset names passed in from config.
	ErrTableMissing = errors.New("store: table missing")

	// ErrMissingKeyColumn marks a batch row lacking one of the composite
	// primary-key values. The offending table load aborts; siblings continue.
	ErrMissingKeyColumn = errors.New("store: missing primary-key column")

	// ErrNotFound marks a lookup that matched no row.
	ErrNotFound = errors.New("store: not found")
)
