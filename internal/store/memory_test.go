package store

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryStoreGetPutDelete(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := s.Put(ctx, "a", []byte("one")); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "one" {
		t.Fatalf("got %q, want %q", got, "one")
	}

	// Overwrite
	if err := s.Put(ctx, "a", []byte("two")); err != nil {
		t.Fatal(err)
	}
	got, _ = s.Get(ctx, "a")
	if string(got) != "two" {
		t.Fatalf("got %q after overwrite, want %q", got, "two")
	}

	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}

	// Deleting a missing key is not an error
	if err := s.Delete(ctx, "never-existed"); err != nil {
		t.Fatal(err)
	}
}

func TestMemoryStoreScan(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	pairs := map[string]string{
		"mail:did:key:zA/01A": "first",
		"mail:did:key:zA/01C": "third",
		"mail:did:key:zA/01B": "second",
		"mail:did:key:zB/01A": "other box",
		"record:did:key:zA":   "record",
	}
	for k, v := range pairs {
		if err := s.Put(ctx, k, []byte(v)); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := s.Scan(ctx, "mail:did:key:zA/")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	want := []string{"first", "second", "third"}
	for i, e := range entries {
		if string(e.Value) != want[i] {
			t.Errorf("entry %d: got %q, want %q (keys must sort)", i, e.Value, want[i])
		}
	}

	empty, err := s.Scan(ctx, "nothing:")
	if err != nil {
		t.Fatal(err)
	}
	if len(empty) != 0 {
		t.Fatalf("got %d entries for unmatched prefix, want 0", len(empty))
	}
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	value := []byte("original")
	s.Put(ctx, "k", value)
	value[0] = 'X'

	got, _ := s.Get(ctx, "k")
	if string(got) != "original" {
		t.Fatal("stored value aliases the caller's slice")
	}

	got[0] = 'Y'
	again, _ := s.Get(ctx, "k")
	if string(again) != "original" {
		t.Fatal("returned value aliases the stored slice")
	}
}
