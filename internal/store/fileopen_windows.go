//go:build windows

package store

import "os"

// openFileNoFollow opens a file for writing.
// Windows has no O_NOFOLLOW; WriteAtomic still refuses a symlinked destination.
func openFileNoFollow(path string, flag int, perm os.FileMode) (*os.File, error) {
	return os.OpenFile(path, flag, perm)
}
