package storage

import (
	"errors"
	"path/filepath"
	"testing"
)

func exerciseDatabase(t *testing.T, db Database) {
	t.Helper()
	if _, err := db.Get([]byte("missing")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := db.Put([]byte("acct/b"), []byte("2")); err != nil {
		t.Fatalf("put: %v", err)
	}
	batch := new(Batch)
	batch.Put([]byte("acct/a"), []byte("1"))
	batch.Put([]byte("acct/c"), []byte("3"))
	batch.Put([]byte("sig/x"), []byte("x"))
	batch.Delete([]byte("acct/b"))
	if err := db.Write(batch); err != nil {
		t.Fatalf("write: %v", err)
	}

	var keys []string
	if err := db.Iterate([]byte("acct/"), func(k, v []byte) bool {
		keys = append(keys, string(k)+"="+string(v))
		return true
	}); err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if len(keys) != 2 || keys[0] != "acct/a=1" || keys[1] != "acct/c=3" {
		t.Fatalf("unexpected iteration %v", keys)
	}

	if err := db.Delete([]byte("acct/a")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := db.Get([]byte("acct/a")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected deleted key to be missing, got %v", err)
	}
	if err := db.Delete([]byte("never")); err != nil {
		t.Fatalf("deleting missing key: %v", err)
	}
}

func TestMemDB(t *testing.T) {
	db := NewMemDB()
	defer db.Close()
	exerciseDatabase(t, db)

	// Values are copied on the way in and out.
	buf := []byte("v")
	_ = db.Put([]byte("k"), buf)
	buf[0] = 'x'
	got, _ := db.Get([]byte("k"))
	if string(got) != "v" {
		t.Fatalf("stored value aliased caller buffer: %q", got)
	}
}

func TestLevelDB(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger")
	db, err := NewLevelDB(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	exerciseDatabase(t, db)
	db.Close()

	reopened, err := NewLevelDB(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if v, err := reopened.Get([]byte("acct/c")); err != nil || string(v) != "3" {
		t.Fatalf("value not persisted: %q %v", v, err)
	}
}
