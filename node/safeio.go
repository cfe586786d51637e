package node

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// maxConfigBytes caps operator-supplied files (config, keystores).
const maxConfigBytes = 1 << 20

func readFileByPath(path string) ([]byte, error) {
	return readFileFromDir(filepath.Dir(path), filepath.Base(path))
}

// readFileFromDir reads a single named file directly under dir, refusing path
// components in name and files larger than maxConfigBytes.
func readFileFromDir(dir, name string) ([]byte, error) {
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name {
		return nil, fmt.Errorf("invalid file name: %q", name)
	}
	f, err := os.DirFS(dir).Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if st, err := f.Stat(); err == nil && !st.Mode().IsRegular() {
		return nil, &fs.PathError{Op: "read", Path: name, Err: fmt.Errorf("not a regular file")}
	}
	b, err := io.ReadAll(io.LimitReader(f, maxConfigBytes+1))
	if err != nil {
		return nil, err
	}
	if len(b) > maxConfigBytes {
		return nil, fmt.Errorf("%s exceeds %d bytes", name, maxConfigBytes)
	}
	return b, nil
}
