package ledgerstore

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"

	"github.com/boltdb/bolt"
	"github.com/ccfnode/pbftadapter/consensus"
)

const storeDBName = "store.db"

var (
	versionsBucket    = []byte("store-versions")
	storeMetaBucket   = []byte("store-meta")
	currentVersionKey = []byte("current-version")
)

const (
	kindTransaction byte = 0
	kindSignature   byte = 1
)

var _ consensus.Store = (*Store)(nil)

// Store is a boltdb-backed key-value store the adapter compacts on global
// commit and deserialises ledger entries against during catch-up.
type Store struct {
	db *bolt.DB

	mu             sync.Mutex
	currentVersion consensus.SeqNo
}

// OpenStore opens (creating if necessary) the boltdb-backed store rooted at
// dbPath.
func OpenStore(dbPath string) (*Store, error) {
	if !fileExists(dbPath) {
		if err := os.MkdirAll(dbPath, 0700); err != nil {
			return nil, err
		}
	}

	bdb, err := bolt.Open(filepath.Join(dbPath, storeDBName), ledgerFilePermission, nil)
	if err != nil {
		return nil, err
	}

	s := &Store{db: bdb}

	if err := bdb.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(versionsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(storeMetaBucket)
		return err
	}); err != nil {
		bdb.Close()
		return nil, err
	}

	if err := s.loadCurrentVersion(); err != nil {
		bdb.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) loadCurrentVersion() error {
	return s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(storeMetaBucket).Get(currentVersionKey)
		if v == nil {
			s.currentVersion = 0
			return nil
		}
		s.currentVersion = consensus.SeqNo(binary.BigEndian.Uint64(v))
		return nil
	})
}

// CurrentVersion returns the store's current version.
func (s *Store) CurrentVersion() consensus.SeqNo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentVersion
}

// Compact discards every stored version before version.
func (s *Store) Compact(version consensus.SeqNo) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(versionsBucket)
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if binary.BigEndian.Uint64(k) >= uint64(version) {
				break
			}
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Errorf("store: compact to %d failed: %v", version, err)
	}
}

// DeserialiseViews decodes handle as {kind byte, payload...}. kind 0 is an
// ordinary transaction (DeserialisePass: the version is advanced and
// persisted, and payload is returned for playback); kind 1 is a history
// signature (DeserialisePassSignature, fatal under PBFT per spec §7); any
// other kind, or an empty handle, is DeserialiseFailed. publicOnly is
// accepted for interface parity with the source's public/private view
// split but is not otherwise interpreted, since this reference store never
// holds private-domain data.
func (s *Store) DeserialiseViews(handle []byte, publicOnly bool) (consensus.DeserialiseResult, []byte) {
	if len(handle) == 0 {
		return consensus.DeserialiseFailed, nil
	}

	kind, payload := handle[0], handle[1:]
	switch kind {
	case kindSignature:
		return consensus.DeserialisePassSignature, nil

	case kindTransaction:
		s.mu.Lock()
		s.currentVersion++
		version := s.currentVersion
		s.mu.Unlock()

		err := s.db.Update(func(tx *bolt.Tx) error {
			var k [8]byte
			binary.BigEndian.PutUint64(k[:], uint64(version))
			if err := tx.Bucket(versionsBucket).Put(k[:], payload); err != nil {
				return err
			}
			return tx.Bucket(storeMetaBucket).Put(currentVersionKey, k[:])
		})
		if err != nil {
			log.Errorf("store: failed to persist version %d: %v", version, err)
			return consensus.DeserialiseFailed, nil
		}
		return consensus.DeserialisePass, payload

	default:
		return consensus.DeserialiseFailed, nil
	}
}

// Close closes the underlying boltdb handle.
func (s *Store) Close() error {
	return s.db.Close()
}
