package watcher

import (
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/scottdensmore/VirtualBuddy/internal/bundle"
)

// Kind classifies a filesystem change.
type Kind int

// Change kinds.
const (
	Added Kind = iota
	Changed
	Moved
	Removed
)

func (k Kind) String() string {
	switch k {
	case Added:
		return "added"
	case Changed:
		return "changed"
	case Moved:
		return "moved"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// Change is a single raw notification for a path under a watched root.
type Change struct {
	Path string
	Kind Kind
}

// kindOf maps an fsnotify operation onto a Kind. ok is false for
// operations that carry no structural information.
func kindOf(op fsnotify.Op) (k Kind, ok bool) {
	switch {
	case op.Has(fsnotify.Create):
		return Added, true
	case op.Has(fsnotify.Remove):
		return Removed, true
	case op.Has(fsnotify.Rename):
		return Moved, true
	case op.Has(fsnotify.Write), op.Has(fsnotify.Chmod):
		return Changed, true
	default:
		return 0, false
	}
}

// Relevant reports whether c can affect the bundle list of root: either
// the root itself changed, or a visible direct child carrying the bundle
// extension did.
func Relevant(root string, c Change) bool {
	p := filepath.Clean(c.Path)
	if p == root {
		return true
	}
	if filepath.Dir(p) != root {
		return false
	}
	name := filepath.Base(p)
	return !strings.HasPrefix(name, ".") && bundle.HasExtension(name)
}
