package store

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/EstellaNines/Vertias-sub003/internal/errors"
)

// WriteAtomic writes data to a temp sibling of path, syncs it, then renames
// it into place. Neither the temp file nor the destination may be a symlink;
// either is refused with INVALID_REQUEST.
func WriteAtomic(path string, data []byte) error {
	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return fmt.Errorf("temp name: %w", err)
	}
	tmpPath := path + "." + hex.EncodeToString(randBytes) + ".tmp"

	f, err := openFileNoFollow(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	success := false
	defer func() {
		if f != nil {
			f.Close()
		}
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	// Close before rename (required on Windows)
	if err := f.Close(); err != nil {
		return err
	}
	f = nil

	// os.Rename would replace a symlinked destination's target path
	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return errors.NewInvalidRequest("cannot write to symlink")
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	success = true
	return nil
}
