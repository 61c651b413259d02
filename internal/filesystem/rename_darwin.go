package filesystem

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// RenameNoReplace moves oldPath to newPath and fails with an error
// matching os.ErrExist if newPath already exists.
func RenameNoReplace(oldPath, newPath string) error {
	err := unix.RenamexNp(oldPath, newPath, unix.RENAME_EXCL)
	if errors.Is(err, unix.ENOTSUP) {
		return renameChecked(oldPath, newPath)
	}
	if err != nil {
		return &os.LinkError{Op: "rename", Old: oldPath, New: newPath, Err: err}
	}
	return nil
}
