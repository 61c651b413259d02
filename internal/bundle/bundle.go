package bundle

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Extension is the file extension (without the dot) that marks a
// directory as a virtual machine bundle.
const Extension = "vbvm"

// ErrNotBundle is returned by a loader when the path does not name a bundle.
var ErrNotBundle = errors.New("not a bundle")

// Record describes one virtual machine bundle on disk. Path is the
// identity of the record.
type Record struct {
	Path         string    `json:"path"`
	Name         string    `json:"name"`
	CreationDate time.Time `json:"creation_date"`
}

// Loader builds a Record from a directory entry.
type Loader interface {
	Load(path string) (Record, error)
}

// LoaderFunc adapts a plain function to the Loader interface.
type LoaderFunc func(path string) (Record, error)

// Load calls f(path).
func (f LoaderFunc) Load(path string) (Record, error) {
	return f(path)
}

// HasExtension reports whether name ends in the bundle extension.
// The comparison ignores case.
func HasExtension(name string) bool {
	ext := filepath.Ext(name)
	return len(ext) > 1 && strings.EqualFold(ext[1:], Extension)
}

// NameFromPath derives the display name of a bundle: the final path
// component without its extension.
func NameFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// FileName returns the on-disk directory name for a bundle called name.
func FileName(name string) string {
	return name + "." + Extension
}

// DirLoader is the default Loader. It accepts any existing directory
// that carries the bundle extension and treats its contents as opaque.
type DirLoader struct{}

// Load stats path and returns a Record for it.
func (DirLoader) Load(path string) (Record, error) {
	if !HasExtension(path) {
		return Record{}, fmt.Errorf("%s: %w", path, ErrNotBundle)
	}
	info, err := os.Stat(path)
	if err != nil {
		return Record{}, fmt.Errorf("stat bundle: %w", err)
	}
	if !info.IsDir() {
		return Record{}, fmt.Errorf("%s is not a directory: %w", path, ErrNotBundle)
	}

	return Record{
		Path:         path,
		Name:         NameFromPath(path),
		CreationDate: creationTime(path, info),
	}, nil
}
