package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestLocalWriteReadExists(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.txt")

	if l.Exists(ctx, path) {
		t.Fatal("Exists() = true before write")
	}
	if err := l.Write(ctx, path, []byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !l.Exists(ctx, path) {
		t.Fatal("Exists() = false after write")
	}
	data, err := l.Read(ctx, path)
	if err != nil || string(data) != "hello" {
		t.Fatalf("Read() = %q, %v, want hello, nil", data, err)
	}
}

func TestLocalListFindsExtension(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()
	dir := t.TempDir()

	os.MkdirAll(filepath.Join(dir, "sub"), 0o755)
	os.WriteFile(filepath.Join(dir, "a.pdf"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(dir, "sub", "b.pdf"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(dir, "c.txt"), []byte("x"), 0o644)

	paths, err := l.List(ctx, dir, ".pdf")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("List() = %v, want 2 .pdf files", paths)
	}
}

func TestLocalReadMissingIsErrNotFound(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()
	if _, err := l.Read(ctx, filepath.Join(t.TempDir(), "missing.pdf")); err != ErrNotFound {
		t.Fatalf("Read(missing) err = %v, want ErrNotFound", err)
	}
}
