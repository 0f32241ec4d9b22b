package server

import (
	"go.etcd.io/bbolt"

	"github.com/teranos/gridsync/errors"
)

var documentsBucket = []byte("documents")

// snapshotStore persists each document's full encoded state in bbolt so
// documents survive relay restarts.
type snapshotStore struct {
	db *bbolt.DB
}

func newSnapshotStore(path string) (*snapshotStore, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open document store %s", path)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(documentsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to create documents bucket")
	}
	return &snapshotStore{db: db}, nil
}

// load returns the stored state for a document, or nil when the document has
// never been saved.
func (s *snapshotStore) load(docID string) ([]byte, error) {
	var state []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(documentsBucket).Get([]byte(docID)); v != nil {
			state = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load document %s", docID)
	}
	return state, nil
}

func (s *snapshotStore) save(docID string, state []byte) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(documentsBucket).Put([]byte(docID), state)
	})
	return errors.Wrapf(err, "failed to save document %s", docID)
}

func (s *snapshotStore) Close() error {
	return s.db.Close()
}
