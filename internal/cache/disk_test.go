package cache

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func openTestDisk(t *testing.T, maxBytes int64) *Disk {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d, err := Open(filepath.Join(t.TempDir(), "httpcache"), maxBytes, logger)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return d
}

func countFiles(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	return len(entries)
}

func TestDisk_SetGetDelete(t *testing.T) {
	d := openTestDisk(t, 1024)

	d.Set("https://example.com/a", []byte("alpha"))
	got, ok := d.Get("https://example.com/a")
	if !ok {
		t.Fatal("Get() miss after Set")
	}
	if !bytes.Equal(got, []byte("alpha")) {
		t.Errorf("Get() = %q, want %q", got, "alpha")
	}

	d.Delete("https://example.com/a")
	if _, ok := d.Get("https://example.com/a"); ok {
		t.Error("Get() hit after Delete")
	}
	if d.Size() != 0 {
		t.Errorf("Size() = %d, want 0", d.Size())
	}
	if n := countFiles(t, d.dir); n != 0 {
		t.Errorf("files on disk = %d, want 0", n)
	}
}

func TestDisk_EvictsOldestOverBudget(t *testing.T) {
	d := openTestDisk(t, 10)

	d.Set("a", []byte("1234"))
	d.Set("b", []byte("5678"))
	// Touch a so b becomes the oldest.
	if _, ok := d.Get("a"); !ok {
		t.Fatal("Get(a) miss")
	}
	d.Set("c", []byte("9012"))

	if _, ok := d.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	if _, ok := d.Get("a"); !ok {
		t.Error("a should still be cached")
	}
	if _, ok := d.Get("c"); !ok {
		t.Error("c should be cached")
	}
	if d.Size() != 8 {
		t.Errorf("Size() = %d, want 8", d.Size())
	}
	if n := countFiles(t, d.dir); n != 2 {
		t.Errorf("files on disk = %d, want 2", n)
	}
}

func TestDisk_OverwriteAdjustsSize(t *testing.T) {
	d := openTestDisk(t, 100)

	d.Set("k", []byte("short"))
	d.Set("k", []byte("a much longer value"))

	if want := int64(len("a much longer value")); d.Size() != want {
		t.Errorf("Size() = %d, want %d", d.Size(), want)
	}
}

func TestDisk_SkipsOversizedEntry(t *testing.T) {
	d := openTestDisk(t, 4)

	d.Set("big", []byte("too large"))
	if _, ok := d.Get("big"); ok {
		t.Error("oversized entry should not be stored")
	}
}

func TestOpen_ClearsStaleFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "httpcache")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "stale"), []byte("old"), 0o600); err != nil {
		t.Fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d, err := Open(dir, 1024, logger)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if n := countFiles(t, d.dir); n != 0 {
		t.Errorf("files on disk = %d, want 0", n)
	}
}

func TestOpen_RejectsNonPositiveBudget(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := Open(t.TempDir(), 0, logger); err == nil {
		t.Fatal("Open() expected error for zero budget")
	}
}
