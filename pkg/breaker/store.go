package breaker

import (
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/kavachlabs/erpsync/pkg/jsonutil"
)

var bucketName = []byte("circuit_breakers")

// Store persists breaker snapshots across restarts: state must survive
// a process restart rather than silently reclosing an open circuit.
type Store interface {
	Save(Snapshot) error
	Load(scope string) (Snapshot, bool, error)
}

// BoltStore is a Store backed by a bbolt database file.
type BoltStore struct {
	db *bolt.DB
}

type persistedSnapshot struct {
	State            int       `json:"state"`
	ConsecutiveFails int       `json:"consecutive_fails"`
	OpenedAt         time.Time `json:"opened_at"`
}

// OpenBoltStore opens (creating if needed) a bbolt database at path and
// ensures the circuit-breaker bucket exists.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

// Close releases the underlying bbolt file handle.
func (s *BoltStore) Close() error { return s.db.Close() }

// Save writes snap under its scope key.
func (s *BoltStore) Save(snap Snapshot) error {
	data, err := jsonutil.Marshal(persistedSnapshot{
		State:            int(snap.State),
		ConsecutiveFails: snap.ConsecutiveFails,
		OpenedAt:         snap.OpenedAt,
	})
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(snap.Scope), data)
	})
}

// Load reads the snapshot for scope, returning ok=false if none is
// stored yet.
func (s *BoltStore) Load(scope string) (Snapshot, bool, error) {
	var snap Snapshot
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketName).Get([]byte(scope))
		if data == nil {
			return nil
		}
		var p persistedSnapshot
		if err := jsonutil.Unmarshal(data, &p); err != nil {
			return err
		}
		snap = Snapshot{Scope: scope, State: State(p.State), ConsecutiveFails: p.ConsecutiveFails, OpenedAt: p.OpenedAt}
		found = true
		return nil
	})
	if err != nil {
		return Snapshot{}, false, err
	}
	return snap, found, nil
}

var _ Store = (*BoltStore)(nil)
