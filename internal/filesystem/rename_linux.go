package filesystem

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// RenameNoReplace moves oldPath to newPath and fails with an error
// matching os.ErrExist if newPath already exists. The check and the move
// are a single syscall where the filesystem supports RENAME_NOREPLACE.
func RenameNoReplace(oldPath, newPath string) error {
	err := unix.Renameat2(unix.AT_FDCWD, oldPath, unix.AT_FDCWD, newPath, unix.RENAME_NOREPLACE)
	if errors.Is(err, unix.EINVAL) || errors.Is(err, unix.ENOSYS) {
		return renameChecked(oldPath, newPath)
	}
	if err != nil {
		return &os.LinkError{Op: "rename", Old: oldPath, New: newPath, Err: err}
	}
	return nil
}
