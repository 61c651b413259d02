package filesystem

import (
	"os"
)

// renameChecked is the fallback for filesystems without an exclusive
// rename. A concurrent writer can still win the race between the Lstat
// and the Rename.
func renameChecked(oldPath, newPath string) error {
	if _, err := os.Lstat(newPath); err == nil {
		return &os.LinkError{Op: "rename", Old: oldPath, New: newPath, Err: os.ErrExist}
	}
	return os.Rename(oldPath, newPath)
}
