package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Filenames for the on-disk layout within a store's data directory.
const (
	WALFilename       = "wal.log"
	DataFilename      = "data.db"
	DataBackupSuffix  = ".old"
	IndexFilename     = "index.db"
)

// Replicator is the interface the store drives replication through. It is
// satisfied by *replication.Replicator; the storage package depends only
// on this narrow interface so it never imports the replication package.
type Replicator interface {
	ReplicatePut(key, value []byte) error
	ReplicateBatchPut(keys, values [][]byte) error
	ReplicateDelete(key []byte) error
}

// Config controls the store's background workers. The zero value is not
// useful; use DefaultConfig and override fields as needed.
type Config struct {
	// IsReplica marks this store as a replication target: it accepts the
	// same mutation paths but never enqueues to a Replicator and never
	// runs the compactor.
	IsReplica bool

	CheckpointInterval time.Duration

	CompactionEnabled     bool
	CompactionInterval    time.Duration
	CompactionThreshold   float64
	CompactionMinFileSize int64
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		CheckpointInterval:    10 * time.Second,
		CompactionEnabled:     true,
		CompactionInterval:    time.Hour,
		CompactionThreshold:   0.3,
		CompactionMinFileSize: 10 * 1024 * 1024,
	}
}

// Store orchestrates the WAL, data file, and index into the durable
// put/batch-put/read/range/delete operations and owns the checkpoint and
// compaction background workers. It is the sole owner of its components;
// background workers hold a reference to the Store, never an independent
// handle to the WAL, data file, or index.
type Store struct {
	dataDir string
	config  Config
	log     *logrus.Entry

	wal      *WAL
	walMu    sync.Mutex
	dataFile *DataFile
	index    *Index
	rwlock   *RWLock

	replicator Replicator

	closeOnce sync.Once
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// Open creates or opens a store rooted at dataDir, replays its WAL if
// necessary, and starts the checkpoint worker (and, unless config.IsReplica
// or compaction is disabled, the compactor). Replication is wired
// separately via SetReplicator once the caller has constructed a
// *replication.Replicator, because the store must exist before a
// replicator can target it.
func Open(dataDir string, config Config, log *logrus.Entry) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	walPath := filepath.Join(dataDir, WALFilename)
	wal, err := OpenWAL(walPath)
	if err != nil {
		return nil, fmt.Errorf("open WAL: %w", err)
	}

	dataFile, err := OpenDataFile(filepath.Join(dataDir, DataFilename))
	if err != nil {
		wal.Close()
		return nil, fmt.Errorf("open data file: %w", err)
	}

	index := NewIndex(filepath.Join(dataDir, IndexFilename))

	s := &Store{
		dataDir:  dataDir,
		config:   config,
		log:      log,
		wal:      wal,
		dataFile: dataFile,
		index:    index,
		rwlock:   NewRWLock(),
		stopChan: make(chan struct{}),
	}

	if err := s.recover(walPath); err != nil {
		dataFile.Close()
		wal.Close()
		return nil, fmt.Errorf("recover from WAL: %w", err)
	}

	s.wg.Add(1)
	go s.checkpointLoop()

	if !config.IsReplica && config.CompactionEnabled {
		s.wg.Add(1)
		go s.compactionLoop()
	}

	return s, nil
}

// SetReplicator wires a replicator into the store. Must be called before
// any mutating operation if replication is desired; the master's put and
// delete paths check for a non-nil replicator on every call, so it is also
// safe to leave unset (replication simply does not happen).
func (s *Store) SetReplicator(r Replicator) {
	s.replicator = r
}

// recover replays the WAL, reconstructing the data file and index. If
// replay fails partway through, recovery MUST NOT truncate the WAL, so a
// repeated restart attempt can retry from the same durable state.
func (s *Store) recover(walPath string) error {
	entries, err := Replay(walPath)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	for _, entry := range entries {
		switch entry.Op {
		case OpPut:
			loc, err := s.dataFile.Append(entry.Key, entry.Value)
			if err != nil {
				return fmt.Errorf("replay put: %w", err)
			}
			s.index.Put(entry.Key, loc)
		case OpDelete:
			s.index.Delete(entry.Key)
		}
	}

	if err := s.index.Save(); err != nil {
		return fmt.Errorf("save index after recovery: %w", err)
	}
	if err := s.wal.Truncate(); err != nil {
		return fmt.Errorf("truncate WAL after recovery: %w", err)
	}

	s.log.WithField("entries", len(entries)).Info("recovered from WAL")
	return nil
}

// Put stores key/value durably, replicating it afterward if a replicator is
// attached. Phase 1 (WAL append) and phase 2 (data/index update) are
// deliberately split across two locks: a failure between them still leaves
// a durable WAL entry that replays on restart.
func (s *Store) Put(key, value []byte) error {
	s.walMu.Lock()
	err := s.wal.Log(OpPut, key, value)
	s.walMu.Unlock()
	if err != nil {
		return fmt.Errorf("WAL append: %w", err)
	}

	s.rwlock.Lock()
	loc, err := s.dataFile.Append(key, value)
	if err == nil {
		s.index.Put(key, loc)
	}
	s.rwlock.Unlock()
	if err != nil {
		return fmt.Errorf("data file append: %w", err)
	}

	if s.replicator != nil && !s.config.IsReplica {
		if err := s.replicator.ReplicatePut(key, value); err != nil {
			return fmt.Errorf("replicate put: %w", err)
		}
	}

	return nil
}

// BatchPut stores N key/value pairs as a single unit: the WAL mutex and the
// write lock are each acquired once for the whole batch rather than once
// per key.
func (s *Store) BatchPut(keys, values [][]byte) error {
	if len(keys) != len(values) {
		return ErrLengthMismatch
	}

	s.walMu.Lock()
	for i := range keys {
		if err := s.wal.Log(OpPut, keys[i], values[i]); err != nil {
			s.walMu.Unlock()
			return fmt.Errorf("WAL append: %w", err)
		}
	}
	s.walMu.Unlock()

	s.rwlock.Lock()
	for i := range keys {
		loc, err := s.dataFile.Append(keys[i], values[i])
		if err != nil {
			s.rwlock.Unlock()
			return fmt.Errorf("data file append: %w", err)
		}
		s.index.Put(keys[i], loc)
	}
	s.rwlock.Unlock()

	if s.replicator != nil && !s.config.IsReplica {
		if err := s.replicator.ReplicateBatchPut(keys, values); err != nil {
			return fmt.Errorf("replicate batch put: %w", err)
		}
	}

	return nil
}

// Read returns the value for key, or ErrKeyNotFound if absent. A detected
// key mismatch between the index and the data file is reported as
// ErrKeyMismatch rather than silently returning the wrong value.
func (s *Store) Read(key []byte) ([]byte, error) {
	s.rwlock.RLock()
	defer s.rwlock.RUnlock()

	loc, ok := s.index.Get(key)
	if !ok {
		return nil, ErrKeyNotFound
	}

	storedKey, value, err := s.dataFile.Read(loc.Offset)
	if err != nil {
		return nil, fmt.Errorf("read record: %w", err)
	}
	if string(storedKey) != string(key) {
		return nil, ErrKeyMismatch
	}

	return value, nil
}

// ReadRange returns every live key/value pair with start <= key <= end
// under byte comparison.
func (s *Store) ReadRange(start, end []byte) (map[string][]byte, error) {
	s.rwlock.RLock()
	defer s.rwlock.RUnlock()

	locations := s.index.GetRange(start, end)
	result := make(map[string][]byte, len(locations))

	for key, loc := range locations {
		storedKey, value, err := s.dataFile.Read(loc.Offset)
		if err != nil {
			return nil, fmt.Errorf("read record: %w", err)
		}
		if string(storedKey) != key {
			continue
		}
		result[key] = value
	}

	return result, nil
}

// Delete removes key from the store. It returns (false, nil) if the key
// was already absent. The re-check under the write lock in phase 3 is
// mandatory, not defensive boilerplate: the key may have been removed by a
// concurrent deleter between phases 1 and 3.
func (s *Store) Delete(key []byte) (bool, error) {
	s.rwlock.RLock()
	_, exists := s.index.Get(key)
	s.rwlock.RUnlock()
	if !exists {
		return false, nil
	}

	s.walMu.Lock()
	err := s.wal.Log(OpDelete, key, nil)
	s.walMu.Unlock()
	if err != nil {
		return false, fmt.Errorf("WAL append: %w", err)
	}

	s.rwlock.Lock()
	_, stillExists := s.index.Get(key)
	if stillExists {
		s.index.Delete(key)
	}
	s.rwlock.Unlock()

	if !stillExists {
		return false, nil
	}

	if s.replicator != nil && !s.config.IsReplica {
		if err := s.replicator.ReplicateDelete(key); err != nil {
			return false, fmt.Errorf("replicate delete: %w", err)
		}
	}

	return true, nil
}

// checkpointLoop periodically snapshots the index to disk. It does not
// touch the WAL; truncating outside of recovery is a valid optimization
// this store does not perform.
func (s *Store) checkpointLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.CheckpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.rwlock.RLock()
			err := s.index.Save()
			s.rwlock.RUnlock()
			if err != nil {
				s.log.WithError(err).Warn("checkpoint failed")
			}
		}
	}
}

// Close stops background workers before tearing down owned components, in
// that order, so no worker touches a closed handle.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stopChan)
		s.wg.Wait()

		if saveErr := s.index.Save(); saveErr != nil {
			err = fmt.Errorf("save index on close: %w", saveErr)
		}
		if walErr := s.wal.Close(); walErr != nil && err == nil {
			err = fmt.Errorf("close WAL: %w", walErr)
		}
		if dfErr := s.dataFile.Close(); dfErr != nil && err == nil {
			err = fmt.Errorf("close data file: %w", dfErr)
		}
	})
	return err
}

// DataDir returns the directory this store persists to.
func (s *Store) DataDir() string {
	return s.dataDir
}

// IndexLen reports the number of live keys, used by metrics.
func (s *Store) IndexLen() int {
	s.rwlock.RLock()
	defer s.rwlock.RUnlock()
	return s.index.Len()
}

// DataFileSize reports the current size of the data file in bytes, used by
// metrics and tests. The compactor's size check reads the data file's size
// directly, since it already holds the read lock.
func (s *Store) DataFileSize() int64 {
	s.rwlock.RLock()
	defer s.rwlock.RUnlock()
	return s.dataFile.Size()
}
