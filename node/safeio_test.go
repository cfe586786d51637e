package node

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReadFileFromDirRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"../x", "..", "", "."} {
		if _, err := readFileFromDir(dir, name); err == nil {
			t.Fatalf("expected error for %q", name)
		}
	}
}

func TestReadFileByPathReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ovt.toml")
	if err := os.WriteFile(path, []byte("hi"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	b, err := readFileByPath(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(b) != "hi" {
		t.Fatalf("unexpected bytes: %q", string(b))
	}
}

func TestReadFileFromDirRejectsOversizeAndDirs(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "big"), make([]byte, maxConfigBytes+1), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := readFileFromDir(dir, "big"); err == nil {
		t.Fatalf("expected size error")
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if _, err := readFileFromDir(dir, "sub"); err == nil {
		t.Fatalf("expected error for directory")
	}
}
