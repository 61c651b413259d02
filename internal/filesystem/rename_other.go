//go:build !linux && !darwin

package filesystem

// RenameNoReplace moves oldPath to newPath and fails with an error
// matching os.ErrExist if newPath already exists.
func RenameNoReplace(oldPath, newPath string) error {
	return renameChecked(oldPath, newPath)
}
