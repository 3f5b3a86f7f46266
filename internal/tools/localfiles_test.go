package tools

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLocalFilesWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	f := LocalFiles{}

	if err := f.Write(dir, "sub/note.txt", "hello"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := f.Read(dir, "sub/note.txt")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != "hello" {
		t.Fatalf("got %q", got)
	}
}

func TestLocalFilesRejectsPathEscape(t *testing.T) {
	dir := t.TempDir()
	f := LocalFiles{}
	if _, err := f.Read(dir, "../../etc/passwd"); err == nil {
		t.Fatal("expected path escape to be rejected")
	}
}

func TestLocalFilesListSortsEntries(t *testing.T) {
	dir := t.TempDir()
	f := LocalFiles{}
	_ = f.Write(dir, "b.txt", "")
	_ = f.Write(dir, "a.txt", "")
	_ = os.Mkdir(filepath.Join(dir, "zzz"), 0o755)

	entries, err := f.List(dir, ".")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 3 || entries[0] != "a.txt" {
		t.Fatalf("expected sorted entries, got %v", entries)
	}
}

func TestLocalFilesDelete(t *testing.T) {
	dir := t.TempDir()
	f := LocalFiles{}
	_ = f.Write(dir, "a.txt", "x")
	if err := f.Delete(dir, "a.txt"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := f.Read(dir, "a.txt"); err == nil {
		t.Fatal("expected read after delete to fail")
	}
}
