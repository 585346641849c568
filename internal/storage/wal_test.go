package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWAL_LogAndReplay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal.log")

	wal, err := OpenWAL(path)
	if err != nil {
		t.Fatal(err)
	}

	if err := wal.Log(OpPut, []byte("k1"), []byte("v1")); err != nil {
		t.Fatal(err)
	}
	if err := wal.Log(OpPut, []byte("k2"), []byte("v2")); err != nil {
		t.Fatal(err)
	}
	if err := wal.Log(OpDelete, []byte("k1"), nil); err != nil {
		t.Fatal(err)
	}
	wal.Close()

	entries, err := Replay(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}

	if entries[0].Op != OpPut || string(entries[0].Key) != "k1" || string(entries[0].Value) != "v1" {
		t.Errorf("unexpected first entry: %+v", entries[0])
	}
	if entries[2].Op != OpDelete || string(entries[2].Key) != "k1" {
		t.Errorf("unexpected third entry: %+v", entries[2])
	}
}

func TestWAL_ReplayMissingFileReturnsEmpty(t *testing.T) {
	entries, err := Replay(filepath.Join(t.TempDir(), "does-not-exist.log"))
	if err != nil {
		t.Fatal(err)
	}
	if entries != nil {
		t.Errorf("expected nil entries for missing WAL, got %v", entries)
	}
}

func TestWAL_ReplayToleratesTornTrailingWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal.log")

	wal, err := OpenWAL(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := wal.Log(OpPut, []byte("k1"), []byte("v1")); err != nil {
		t.Fatal(err)
	}
	wal.Close()

	// Simulate a torn write: append a truncated entry.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	f.Write([]byte{0x01, 0x02, 0x03})
	f.Close()

	entries, err := Replay(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected torn trailing entry to be discarded, got %d entries", len(entries))
	}
}

func TestWAL_Truncate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal.log")

	wal, err := OpenWAL(path)
	if err != nil {
		t.Fatal(err)
	}
	defer wal.Close()

	wal.Log(OpPut, []byte("k1"), []byte("v1"))
	if err := wal.Truncate(); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 0 {
		t.Errorf("expected truncated WAL to be empty, got size %d", info.Size())
	}

	wal.Log(OpPut, []byte("k2"), []byte("v2"))
	wal.Close()

	entries, err := Replay(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || string(entries[0].Key) != "k2" {
		t.Errorf("expected one entry k2 after truncate+append, got %+v", entries)
	}
}
