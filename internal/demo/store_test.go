package demo

import (
	"context"
	"path/filepath"
	"testing"
)

func TestStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "demo.db")
	ctx := context.Background()

	s, err := OpenStore(path)
	if err != nil {
		t.Fatalf("OpenStore() error = %v", err)
	}
	e, err := s.AddEntry(ctx, Entry{Name: "ada", Message: "first"})
	if err != nil {
		t.Fatalf("AddEntry() error = %v", err)
	}
	if e.ID == 0 || e.Created.IsZero() {
		t.Errorf("AddEntry() = %+v, want id and timestamp set", e)
	}
	if _, err := s.AddUpload(ctx, Upload{Field: "file", FileName: "a.txt", Size: 3, SHA256: "abc"}); err != nil {
		t.Fatalf("AddUpload() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	s, err = OpenStore(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()

	entries, err := s.Entries(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Message != "first" {
		t.Errorf("Entries() = %+v", entries)
	}
	uploads, err := s.Uploads(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(uploads) != 1 || uploads[0].FileName != "a.txt" || uploads[0].Size != 3 {
		t.Errorf("Uploads() = %+v", uploads)
	}
}

func TestStoreLimit(t *testing.T) {
	s, err := OpenStore("")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	ctx := context.Background()

	for _, msg := range []string{"one", "two", "three"} {
		if _, err := s.AddEntry(ctx, Entry{Name: "n", Message: msg}); err != nil {
			t.Fatal(err)
		}
	}
	entries, err := s.Entries(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Message != "three" || entries[1].Message != "two" {
		t.Errorf("Entries(2) = %+v", entries)
	}
}
