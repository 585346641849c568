package storage

import (
	"fmt"
	"os"
	"time"
)

// compactionLoop wakes every CompactionInterval and runs a compaction pass
// if the dead-space thresholds are exceeded. It never runs on a replica;
// Open only starts this goroutine when config.IsReplica is false.
func (s *Store) compactionLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.CompactionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			should, err := s.shouldCompact()
			if err != nil {
				s.log.WithError(err).Warn("compaction check failed")
				continue
			}
			if !should {
				continue
			}
			if err := s.compact(); err != nil {
				s.log.WithError(err).Error("compaction failed")
			}
		}
	}
}

// shouldCompact evaluates the size and dead-ratio thresholds under the read
// lock. A data file smaller than CompactionMinFileSize is never compacted
// regardless of dead ratio.
func (s *Store) shouldCompact() (bool, error) {
	s.rwlock.RLock()
	defer s.rwlock.RUnlock()

	fileSize := s.dataFile.Size()
	if fileSize < s.config.CompactionMinFileSize {
		return false, nil
	}

	var liveBytes int64
	for _, loc := range s.index.entries {
		liveBytes += loc.Length
	}

	deadRatio := 1 - float64(liveBytes)/float64(fileSize)
	return deadRatio >= s.config.CompactionThreshold, nil
}

// compact rewrites the data file to reclaim dead space, in four phases:
// snapshot the index, copy live records to a temp file outside the write
// lock, swap the temp file in (also copying anything written during the
// copy phase) under the write lock, and retain one backup generation. A
// failure before the atomic rename leaves the live store untouched.
func (s *Store) compact() error {
	snapshot, sizeAtSnapshot := s.snapshotForCompaction()

	tmpPath := s.dataFile.Path() + ".compact.tmp"
	os.Remove(tmpPath)
	tmpFile, err := OpenDataFile(tmpPath)
	if err != nil {
		return fmt.Errorf("open compaction temp file: %w", err)
	}

	newEntries := make(map[string]Location, len(snapshot))
	for key, loc := range snapshot {
		newLoc, err := s.copyRecord(tmpFile, loc)
		if err != nil {
			tmpFile.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("copy record for key %q: %w", key, err)
		}
		newEntries[key] = newLoc
	}

	if err := s.swap(tmpFile, newEntries, sizeAtSnapshot); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}

	s.log.WithField("keys", len(newEntries)).Info("compaction complete")
	return nil
}

// snapshotForCompaction is compaction's "snapshot" phase.
func (s *Store) snapshotForCompaction() (map[string]Location, int64) {
	s.rwlock.RLock()
	defer s.rwlock.RUnlock()
	return s.index.Snapshot(), s.dataFile.Size()
}

// copyRecord is compaction's "copy" phase for a single entry: briefly
// acquire the read lock to read the live record, then append it to the
// temp file outside any lock.
func (s *Store) copyRecord(tmpFile *DataFile, loc Location) (Location, error) {
	s.rwlock.RLock()
	key, value, err := s.dataFile.Read(loc.Offset)
	s.rwlock.RUnlock()
	if err != nil {
		return Location{}, err
	}

	return tmpFile.Append(key, value)
}

// swap is compaction's "swap" phase: copy in anything written after the
// snapshot, atomically replace the live data file, and rebuild the index.
func (s *Store) swap(tmpFile *DataFile, newEntries map[string]Location, sizeAtSnapshot int64) error {
	s.rwlock.Lock()
	defer s.rwlock.Unlock()

	for key, loc := range s.index.entries {
		if loc.Offset < sizeAtSnapshot {
			continue
		}
		// A key present in newEntries here was already copied from the
		// snapshot, but this offset is newer: the key was overwritten
		// during the copy phase, and the snapshot's copy is now stale.
		// Re-read and overwrite rather than skip; the orphaned snapshot
		// copy in tmpFile just becomes dead space.
		storedKey, value, err := s.dataFile.Read(loc.Offset)
		if err != nil {
			return fmt.Errorf("copy late write for key %q: %w", key, err)
		}
		newLoc, err := tmpFile.Append(storedKey, value)
		if err != nil {
			return fmt.Errorf("append late write for key %q: %w", key, err)
		}
		newEntries[key] = newLoc
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close compaction temp file: %w", err)
	}

	livePath := s.dataFile.Path()
	backupPath := livePath + DataBackupSuffix

	if err := s.dataFile.Close(); err != nil {
		return fmt.Errorf("close live data file: %w", err)
	}

	os.Remove(backupPath)
	if err := os.Rename(livePath, backupPath); err != nil {
		return fmt.Errorf("back up live data file: %w", err)
	}
	if err := os.Rename(tmpFile.Path(), livePath); err != nil {
		return fmt.Errorf("promote compacted data file: %w", err)
	}

	newDataFile, err := OpenDataFile(livePath)
	if err != nil {
		return fmt.Errorf("reopen compacted data file: %w", err)
	}
	s.dataFile = newDataFile
	s.index.Replace(newEntries)

	return nil
}
