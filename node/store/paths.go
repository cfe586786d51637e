package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// ProgramDir returns the on-disk directory for one deployed program:
//
//	datadir/programs/<program_id_hex>/
func ProgramDir(datadir string, programIDHex string) string {
	return filepath.Join(datadir, "programs", programIDHex)
}

func ensureDir(path string) error {
	if err := os.MkdirAll(path, 0o750); err != nil {
		return fmt.Errorf("mkdir %s: %w", path, err)
	}
	return nil
}
