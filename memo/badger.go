/*
	Package memo persists the reader chosen for each resource so later selections can
	skip scoring.  Entries live in a Badger key-value store.
*/
package memo

import (
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v3"

	"github.com/janelia-flyem/planar/planar"
)

const keyPrefix = "preferred/"

// DefaultSyncPeriod is how often buffered writes are synced to disk.
const DefaultSyncPeriod = 30 * time.Second

// Store is a Badger-backed memo of preferred readers.  It implements reader.Memo.
type Store struct {
	directory string
	db        *badger.DB

	// stopSyncCh is used to signal the sync goroutine to stop.
	stopSyncCh chan struct{}
}

// badgerLogger routes Badger logging through planar's leveled log.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{}) {
	planar.Errorf("badger: "+format, args...)
}

func (badgerLogger) Warningf(format string, args ...interface{}) {
	planar.Warningf("badger: "+format, args...)
}

func (badgerLogger) Infof(format string, args ...interface{}) {
	planar.Debugf("badger: "+format, args...)
}

func (badgerLogger) Debugf(format string, args ...interface{}) {}

// Open returns a memo stored at path, creating the directory if needed.  An empty path
// keeps the memo in memory only.
func Open(path string) (*Store, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			planar.Infof("Memo not already at path (%s). Creating directory...\n", path)
			if err := os.MkdirAll(path, 0744); err != nil {
				return nil, fmt.Errorf("can't make directory at %s: %v", path, err)
			}
		}
		opts = badger.DefaultOptions(path)
	}
	opts = opts.WithLogger(badgerLogger{}).WithNumVersionsToKeep(1).WithSyncWrites(false)

	timedLog := planar.NewTimeLog()
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("unable to open reader memo at %q: %v", path, err)
	}
	s := &Store{directory: path, db: db, stopSyncCh: make(chan struct{})}
	if path != "" {
		go s.syncPeriodically(DefaultSyncPeriod)
		timedLog.Infof("Opened reader memo @ %s\n", path)
	}
	return s, nil
}

func (s *Store) syncPeriodically(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopSyncCh:
			return
		case <-ticker.C:
			if err := s.db.Sync(); err != nil {
				planar.Errorf("Unable to sync reader memo @ %s: %v\n", s.directory, err)
			}
		}
	}
}

func (s *Store) String() string {
	if s.directory == "" {
		return "in-memory reader memo"
	}
	return fmt.Sprintf("reader memo @ %s", s.directory)
}

// Preferred returns the reader id remembered for the url.
func (s *Store) Preferred(url string) (id string, found bool, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + url))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		v, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		id, found = string(v), true
		return nil
	})
	return
}

// Remember records the reader id chosen for the url.
func (s *Store) Remember(url, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+url), []byte(id))
	})
}

// Forget drops any reader remembered for the url.
func (s *Store) Forget(url string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(keyPrefix + url))
	})
}

// ForgetReader drops every entry naming the reader id, e.g. after it was disabled.
// It returns the number of entries removed.
func (s *Store) ForgetReader(id string) (int, error) {
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			err := item.Value(func(v []byte) error {
				if string(v) == id {
					keys = append(keys, item.KeyCopy(nil))
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return 0, err
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Close stops syncing and closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if s.directory != "" {
		close(s.stopSyncCh)
	}
	err := s.db.Close()
	s.db = nil
	planar.Infof("Closed %s\n", s)
	return err
}
