//go:build !windows

package store

import (
	stderrors "errors"
	"os"
	"syscall"

	"github.com/EstellaNines/Vertias-sub003/internal/errors"
)

// openFileNoFollow opens a file for writing with O_NOFOLLOW so a symlink in
// the final path component is refused. O_CLOEXEC prevents FD leaks across exec.
//
// Directory components are the caller's concern: the store owns its data
// directory and report paths are checked by ops.ValidateReportPath.
func openFileNoFollow(path string, flag int, perm os.FileMode) (*os.File, error) {
	fd, err := syscall.Open(path, flag|syscall.O_NOFOLLOW|syscall.O_CLOEXEC, uint32(perm))
	if err != nil {
		if stderrors.Is(err, syscall.ELOOP) {
			return nil, errors.NewInvalidRequest("cannot write to symlink")
		}
		return nil, err
	}
	return os.NewFile(uintptr(fd), path), nil
}
