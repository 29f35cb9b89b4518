// Package ledgerstore is a reference, boltdb-backed implementation of the
// consensus package's Ledger and Store collaborator interfaces, grounded on
// the teacher's channeldb.DB: one file-backed bolt database, a bucket per
// concern, and big-endian integer keys so cursor scans iterate in order.
package ledgerstore

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"

	"github.com/boltdb/bolt"
	"github.com/ccfnode/pbftadapter/consensus"
)

const (
	ledgerDBName         = "ledger.db"
	ledgerFilePermission = 0600
)

var (
	entriesBucket    = []byte("ledger-entries")
	ledgerMetaBucket = []byte("ledger-meta")
	nextIndexKey     = []byte("next-index")
)

var _ consensus.Ledger = (*Ledger)(nil)

// Ledger is a boltdb-backed append-only log of replicated entries.
type Ledger struct {
	db     *bolt.DB
	dbPath string

	mu        sync.Mutex
	nextIndex uint64
}

// OpenLedger opens (creating if necessary) the boltdb-backed ledger rooted
// at dbPath.
func OpenLedger(dbPath string) (*Ledger, error) {
	if !fileExists(dbPath) {
		if err := os.MkdirAll(dbPath, 0700); err != nil {
			return nil, err
		}
	}

	bdb, err := bolt.Open(filepath.Join(dbPath, ledgerDBName), ledgerFilePermission, nil)
	if err != nil {
		return nil, err
	}

	l := &Ledger{db: bdb, dbPath: dbPath}

	if err := bdb.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(entriesBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(ledgerMetaBucket)
		return err
	}); err != nil {
		bdb.Close()
		return nil, err
	}

	if err := l.loadNextIndex(); err != nil {
		bdb.Close()
		return nil, err
	}

	return l, nil
}

func (l *Ledger) loadNextIndex() error {
	return l.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(ledgerMetaBucket).Get(nextIndexKey)
		if v == nil {
			l.nextIndex = 0
			return nil
		}
		l.nextIndex = binary.BigEndian.Uint64(v)
		return nil
	})
}

func putNextIndex(tx *bolt.Tx, next uint64) error {
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], next)
	return tx.Bucket(ledgerMetaBucket).Put(nextIndexKey, v[:])
}

func indexKey(idx consensus.Index) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], uint64(idx))
	return k[:]
}

func fileExists(path string) bool {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false
		}
	}
	return true
}

// PutEntry appends data as the next ledger entry, used by the primary when
// writing its own output rather than replicating a peer's batch. It returns
// ErrMalformedEntry for an entry RecordEntry refuses (an empty one).
func (l *Ledger) PutEntry(data []byte) error {
	if _, ok := l.RecordEntry(data); !ok {
		return ErrMalformedEntry
	}
	return nil
}

// RecordEntry stores data as the next ledger entry. It returns ok=false
// without mutating state for an empty entry; the caller (NetworkShim)
// truncates the ledger back to the batch's prev_idx on a false return, per
// spec §7.
func (l *Ledger) RecordEntry(data []byte) ([]byte, bool) {
	if len(data) == 0 {
		return nil, false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	idx := l.nextIndex
	err := l.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(entriesBucket).Put(indexKey(consensus.Index(idx)), data); err != nil {
			return err
		}
		return putNextIndex(tx, idx+1)
	})
	if err != nil {
		log.Errorf("ledger: failed to record entry %d: %v", idx, err)
		return nil, false
	}

	l.nextIndex = idx + 1
	return data, true
}

// Truncate discards every entry after prevIdx and resets the write cursor.
func (l *Ledger) Truncate(prevIdx consensus.Index) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	err := l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(entriesBucket)
		c := b.Cursor()
		for k, _ := c.Seek(indexKey(prevIdx + 1)); k != nil; k, _ = c.Next() {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return putNextIndex(tx, uint64(prevIdx)+1)
	})
	if err != nil {
		return err
	}
	l.nextIndex = uint64(prevIdx) + 1
	return nil
}

// SkipEntry advances the write cursor past an already-recorded entry
// without storing it again.
func (l *Ledger) SkipEntry(data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := l.nextIndex
	if err := l.db.Update(func(tx *bolt.Tx) error {
		return putNextIndex(tx, idx+1)
	}); err != nil {
		return err
	}
	l.nextIndex = idx + 1
	return nil
}

// Close closes the underlying boltdb handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}
