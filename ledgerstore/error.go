package ledgerstore

import "github.com/go-errors/errors"

var (
	// ErrLedgerNotFound mirrors the teacher's ErrNoChanDBExists: it names a
	// ledger database directory referenced before having been opened. No
	// function in this package returns it; OpenLedger creates a missing
	// directory instead.
	ErrLedgerNotFound = errors.New("ledger database has not yet been created")

	// ErrMalformedEntry is returned by PutEntry for an entry RecordEntry
	// refused.
	ErrMalformedEntry = errors.New("ledger entry is malformed")

	// ErrVersionNotFound names a requested store version that has been
	// compacted away or never existed. Store has no per-version lookup, so
	// no function in this package returns it.
	ErrVersionNotFound = errors.New("no value exists at the requested version")
)
