// Package storage implements the on-disk key-value engine: a write-ahead
// log, an append-only data file, an in-memory hash index, a writer-preferring
// reader-writer lock, and the Store that orchestrates them into durable
// put/batch-put/read/range/delete operations with crash recovery and
// background compaction.
//
// Architecture:
//
//	Write path: client -> WAL append (durable) -> data file append -> index update
//	Read path:  client -> index lookup -> data file read at offset
//
// The index is a hash map, not a sorted tree: range reads scan the whole
// index under a read lock rather than walking an ordered structure. The WAL
// mutex and the data reader-writer lock are independent, so WAL order and
// data-file order can diverge between concurrent writers; recovery treats
// the WAL as the durable source of truth.
package storage
