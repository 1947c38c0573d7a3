package store

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestTreePutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	tr, err := s.Tree(ctx, "files")
	if err != nil {
		t.Fatalf("open tree: %v", err)
	}

	if err := tr.Put(ctx, "a.txt", []byte("v1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok, err := tr.Get(ctx, "a.txt")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if string(got) != "v1" {
		t.Fatalf("expected v1, got %q", got)
	}

	// Overwrite replaces the value.
	if err := tr.Put(ctx, "a.txt", []byte("v2")); err != nil {
		t.Fatalf("put again: %v", err)
	}
	got, _, _ = tr.Get(ctx, "a.txt")
	if string(got) != "v2" {
		t.Fatalf("expected v2, got %q", got)
	}

	deleted, err := tr.Delete(ctx, "a.txt")
	if err != nil || !deleted {
		t.Fatalf("delete: deleted=%v err=%v", deleted, err)
	}
	deleted, err = tr.Delete(ctx, "a.txt")
	if err != nil {
		t.Fatalf("delete again: %v", err)
	}
	if deleted {
		t.Fatalf("expected second delete to report missing key")
	}
	if _, ok, _ := tr.Get(ctx, "a.txt"); ok {
		t.Fatalf("expected key to be gone")
	}
}

func TestTreesAreIndependent(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	files, _ := s.Tree(ctx, "files")
	tags, _ := s.Tree(ctx, "tags")

	if err := files.Put(ctx, "k", []byte("file")); err != nil {
		t.Fatalf("put files: %v", err)
	}
	if err := tags.Put(ctx, "k", []byte("tag")); err != nil {
		t.Fatalf("put tags: %v", err)
	}

	v, _, _ := files.Get(ctx, "k")
	if string(v) != "file" {
		t.Fatalf("files tree corrupted: %q", v)
	}
	if err := files.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok, _ := tags.Get(ctx, "k"); !ok {
		t.Fatalf("clearing files must not touch tags")
	}
}

func TestKeysAreOrdered(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	tr, _ := s.Tree(ctx, "tags")
	for _, k := range []string{"zeta", "alpha", "mid"} {
		if err := tr.Put(ctx, k, []byte("x")); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}

	keys, err := tr.Keys(ctx)
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	want := []string{"alpha", "mid", "zeta"}
	if len(keys) != len(want) {
		t.Fatalf("expected %d keys, got %d", len(want), len(keys))
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("expected keys %v, got %v", want, keys)
		}
	}

	n, err := tr.Len(ctx)
	if err != nil || n != 3 {
		t.Fatalf("len: n=%d err=%v", n, err)
	}
}

func TestTxSpansTrees(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	files, _ := s.Tree(ctx, "files")
	tags, _ := s.Tree(ctx, "tags")

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := files.PutTx(ctx, tx, "f", []byte("1")); err != nil {
		t.Fatalf("put tx: %v", err)
	}
	if err := tags.PutTx(ctx, tx, "t", []byte("2")); err != nil {
		t.Fatalf("put tx: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	if _, ok, _ := files.Get(ctx, "f"); ok {
		t.Fatalf("rollback must undo files write")
	}
	if _, ok, _ := tags.Get(ctx, "t"); ok {
		t.Fatalf("rollback must undo tags write")
	}
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	tr, _ := s.Tree(ctx, "files")
	if err := tr.Put(ctx, "keep", []byte("me")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	tr2, _ := s2.Tree(ctx, "files")
	v, ok, err := tr2.Get(ctx, "keep")
	if err != nil || !ok || string(v) != "me" {
		t.Fatalf("expected persisted value, got ok=%v v=%q err=%v", ok, v, err)
	}
}

func TestInvalidTreeName(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	if _, err := s.Tree(ctx, "no spaces; DROP TABLE"); err == nil {
		t.Fatalf("expected invalid tree name to be rejected")
	}
}
