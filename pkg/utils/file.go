package utils

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// WriteFile replaces path atomically, creating its directory if needed.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	return renameio.WriteFile(path, data, perm)
}

// BackupPath names the nth rotated copy of path.
func BackupPath(path string, n int) string {
	return fmt.Sprintf("%s.bak%d", path, n)
}

// RotateBackups shifts path.bak1..bak(count-1) up one slot, dropping the
// oldest, then copies path into .bak1. A missing path is not an error.
func RotateBackups(path string, count int) error {
	if count <= 0 {
		return nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for i := count; i > 1; i-- {
		older := BackupPath(path, i-1)
		if _, err := os.Stat(older); err != nil {
			continue
		}
		if err := os.Rename(older, BackupPath(path, i)); err != nil {
			return fmt.Errorf("rotate %s: %w", older, err)
		}
	}
	return renameio.WriteFile(BackupPath(path, 1), data, 0o644)
}
