package util

import (
	"fmt"
	"io"
	"os"
	"path"

	"github.com/spf13/afero"
)

// TempSuffix marks partially written files.
const TempSuffix = ".vaultsync.tmp"

func AtomicWrite(fs afero.Fs, dst string, r io.Reader) error {
	if dir := path.Dir(dst); dir != "." && dir != "/" {
		if err := fs.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create parent dir: %w", err)
		}
	}

	tmp := dst + TempSuffix
	f, err := fs.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = fs.Remove(tmp)
		return fmt.Errorf("failed to write: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = fs.Remove(tmp)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := fs.Rename(tmp, dst); err != nil {
		_ = fs.Remove(tmp)
		return fmt.Errorf("failed to rename: %w", err)
	}

	return nil
}

func RemoveIfExists(fs afero.Fs, p string) error {
	if err := fs.RemoveAll(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", p, err)
	}

	return nil
}
