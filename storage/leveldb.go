package storage

import (
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	lvlerrors "github.com/syndtr/goleveldb/leveldb/errors"
	lvlstorage "github.com/syndtr/goleveldb/leveldb/storage"
)

// LevelDBStore is a Store backed by goleveldb. A LevelDB directory can only be
// opened by one process at a time; use FileStore to share state between processes.
type LevelDBStore struct {
	db *leveldb.DB
}

// NewLevelDBStore opens (or creates) a LevelDB database at path.
func NewLevelDBStore(path string) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if lvlerrors.IsCorrupted(err) {
		db, err = leveldb.RecoverFile(path, nil)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "open leveldb at %s", path)
	}
	return &LevelDBStore{db: db}, nil
}

// NewMemoryStore returns a LevelDB store kept entirely in memory. It is used
// for session scoped data and in tests.
func NewMemoryStore() *LevelDBStore {
	db, err := leveldb.Open(lvlstorage.NewMemStorage(), nil)
	if err != nil {
		// memory storage cannot fail to open
		panic(err)
	}
	return &LevelDBStore{db: db}
}

func (s *LevelDBStore) Get(key string) ([]byte, error) {
	value, err := s.db.Get([]byte(key), nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get %s", key)
	}
	return value, nil
}

func (s *LevelDBStore) Put(key string, value []byte) error {
	return errors.Wrapf(s.db.Put([]byte(key), value, nil), "put %s", key)
}

func (s *LevelDBStore) Delete(key string) error {
	return errors.Wrapf(s.db.Delete([]byte(key), nil), "delete %s", key)
}

func (s *LevelDBStore) Close() error {
	return s.db.Close()
}
