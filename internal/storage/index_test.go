package storage

import (
	"path/filepath"
	"testing"
)

func TestIndex_PutGetDelete(t *testing.T) {
	idx := NewIndex(filepath.Join(t.TempDir(), "index.db"))

	idx.Put([]byte("k1"), Location{Offset: 0, Length: 10})
	loc, ok := idx.Get([]byte("k1"))
	if !ok {
		t.Fatal("expected k1 to be present")
	}
	if loc.Offset != 0 || loc.Length != 10 {
		t.Errorf("unexpected location: %+v", loc)
	}

	idx.Delete([]byte("k1"))
	if _, ok := idx.Get([]byte("k1")); ok {
		t.Error("expected k1 to be absent after delete")
	}
}

func TestIndex_GetRange(t *testing.T) {
	idx := NewIndex(filepath.Join(t.TempDir(), "index.db"))

	idx.Put([]byte("a"), Location{Offset: 0, Length: 1})
	idx.Put([]byte("b"), Location{Offset: 1, Length: 1})
	idx.Put([]byte("c"), Location{Offset: 2, Length: 1})
	idx.Put([]byte("d"), Location{Offset: 3, Length: 1})

	result := idx.GetRange([]byte("b"), []byte("c"))
	if len(result) != 2 {
		t.Fatalf("expected 2 entries in range, got %d", len(result))
	}
	if _, ok := result["b"]; !ok {
		t.Error("expected b in range")
	}
	if _, ok := result["c"]; !ok {
		t.Error("expected c in range")
	}
}

func TestIndex_SaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")

	idx := NewIndex(path)
	idx.Put([]byte("k1"), Location{Offset: 5, Length: 7})
	if err := idx.Save(); err != nil {
		t.Fatal(err)
	}

	reloaded := NewIndex(path)
	loc, ok := reloaded.Get([]byte("k1"))
	if !ok {
		t.Fatal("expected k1 to survive save/load")
	}
	if loc.Offset != 5 || loc.Length != 7 {
		t.Errorf("unexpected location after reload: %+v", loc)
	}
}

func TestIndex_LoadMissingSnapshotStartsEmpty(t *testing.T) {
	idx := NewIndex(filepath.Join(t.TempDir(), "does-not-exist.db"))
	if idx.Len() != 0 {
		t.Errorf("expected empty index, got %d entries", idx.Len())
	}
}

func TestIndex_ReplaceSwapsWholesale(t *testing.T) {
	idx := NewIndex(filepath.Join(t.TempDir(), "index.db"))
	idx.Put([]byte("old"), Location{Offset: 0, Length: 1})

	idx.Replace(map[string]Location{"new": {Offset: 10, Length: 2}})

	if _, ok := idx.Get([]byte("old")); ok {
		t.Error("expected old entries to be gone after Replace")
	}
	if loc, ok := idx.Get([]byte("new")); !ok || loc.Offset != 10 {
		t.Error("expected new entry to be present after Replace")
	}
}

func TestIndex_SnapshotIsIndependentCopy(t *testing.T) {
	idx := NewIndex(filepath.Join(t.TempDir(), "index.db"))
	idx.Put([]byte("k"), Location{Offset: 0, Length: 1})

	snap := idx.Snapshot()
	idx.Put([]byte("k"), Location{Offset: 99, Length: 1})

	if snap["k"].Offset != 0 {
		t.Errorf("expected snapshot to be unaffected by later mutation, got offset %d", snap["k"].Offset)
	}
}
