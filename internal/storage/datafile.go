package storage

import (
	"encoding/binary"
	"fmt"
	"os"
)

// DataFile is the append-only log of key/value records. It performs no
// locking of its own; callers serialize appends under the store's write
// lock and may call Read concurrently with appends because reads use
// positional I/O rather than a shared seek cursor.
type DataFile struct {
	file *os.File
	path string
	size int64
}

// recordHeaderSize is the length of the two u32 BE length prefixes that
// precede every record's key and value bytes.
const recordHeaderSize = 8

// OpenDataFile opens or creates the append-only data file at path.
func OpenDataFile(path string) (*DataFile, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open data file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat data file: %w", err)
	}

	return &DataFile{
		file: file,
		path: path,
		size: info.Size(),
	}, nil
}

// Append writes one record at the current end of file and returns its
// location. The write is synced before returning so subsequent reads from
// this process observe the bytes.
func (d *DataFile) Append(key, value []byte) (Location, error) {
	buf := encodeRecord(key, value)
	offset := d.size

	if _, err := d.file.WriteAt(buf, offset); err != nil {
		return Location{}, fmt.Errorf("append record: %w", err)
	}
	if err := d.file.Sync(); err != nil {
		return Location{}, fmt.Errorf("sync data file: %w", err)
	}

	d.size += int64(len(buf))
	return Location{Offset: offset, Length: int64(len(buf))}, nil
}

// Read reads the record at offset with positional I/O and decodes it, returning the stored key and
// value. Callers MUST verify the returned key matches the key they looked
// up: a mismatch signals index corruption, not a storage bug.
func (d *DataFile) Read(offset int64) (key, value []byte, err error) {
	header := make([]byte, recordHeaderSize)
	if _, err := d.file.ReadAt(header, offset); err != nil {
		return nil, nil, fmt.Errorf("read record header: %w", err)
	}

	keyLen := binary.BigEndian.Uint32(header[0:4])
	valueLen := binary.BigEndian.Uint32(header[4:8])

	body := make([]byte, int(keyLen)+int(valueLen))
	if _, err := d.file.ReadAt(body, offset+recordHeaderSize); err != nil {
		return nil, nil, fmt.Errorf("read record body: %w", err)
	}

	return body[:keyLen], body[keyLen:], nil
}

// Size returns the current length of the data file in bytes.
func (d *DataFile) Size() int64 {
	return d.size
}

// Path returns the filesystem path backing this data file.
func (d *DataFile) Path() string {
	return d.path
}

// Close flushes and releases the underlying file handle.
func (d *DataFile) Close() error {
	return d.file.Close()
}

func encodeRecord(key, value []byte) []byte {
	buf := make([]byte, recordHeaderSize+len(key)+len(value))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(key)))
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(value)))
	copy(buf[recordHeaderSize:], key)
	copy(buf[recordHeaderSize+len(key):], value)
	return buf
}
