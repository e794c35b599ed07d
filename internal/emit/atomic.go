package emit

import (
	"fmt"
	"os"
	"path/filepath"
)

// File is one artifact of a write set.
type File struct {
	Path string
	Data []byte
}

// WriteSet writes a group of artifacts in two phases: every file is staged to
// a temp sibling first, and only after all stagings succeed are the renames
// performed. A failure during staging leaves every existing artifact intact.
func WriteSet(files []File, perm os.FileMode) error {
	staged := make([]string, 0, len(files))
	cleanup := func() {
		for _, t := range staged {
			os.Remove(t)
		}
	}

	for _, f := range files {
		dir := filepath.Dir(f.Path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			cleanup()
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
		tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.Path)+".tmp-*")
		if err != nil {
			cleanup()
			return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
		}
		if _, err := tmp.Write(f.Data); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			cleanup()
			return fmt.Errorf("failed to write %s: %w", f.Path, err)
		}
		if err := tmp.Chmod(perm); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			cleanup()
			return fmt.Errorf("failed to chmod %s: %w", f.Path, err)
		}
		if err := tmp.Close(); err != nil {
			os.Remove(tmp.Name())
			cleanup()
			return fmt.Errorf("failed to close %s: %w", f.Path, err)
		}
		staged = append(staged, tmp.Name())
	}

	for i, f := range files {
		if err := os.Rename(staged[i], f.Path); err != nil {
			cleanup()
			return fmt.Errorf("failed to replace %s: %w", f.Path, err)
		}
	}
	return nil
}
