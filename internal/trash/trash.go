// Package trash moves bundles into the user's recoverable trash.
package trash

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/scottdensmore/VirtualBuddy/internal/filesystem"
)

// maxNameAttempts bounds the search for a free name inside the trash.
const maxNameAttempts = 1000

// Can is a trash directory. With an info directory it follows the
// freedesktop.org trash specification and records where each item came
// from; without one (macOS ~/.Trash) items are only moved.
type Can struct {
	filesDir string
	infoDir  string
	now      func() time.Time
}

// NewFreedesktop returns the home trash rooted at dataHome/Trash.
func NewFreedesktop(dataHome string) *Can {
	base := filepath.Join(dataHome, "Trash")
	return &Can{
		filesDir: filepath.Join(base, "files"),
		infoDir:  filepath.Join(base, "info"),
		now:      time.Now,
	}
}

// NewDir returns a trash that moves items into dir without metadata.
func NewDir(dir string) *Can {
	return &Can{filesDir: dir, now: time.Now}
}

// Default returns the current user's trash for this platform.
func Default() (*Can, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolving home directory: %w", err)
	}
	switch runtime.GOOS {
	case "darwin":
		return NewDir(filepath.Join(home, ".Trash")), nil
	case "windows", "plan9", "js", "wasip1":
		return nil, fmt.Errorf("trash is not supported on %s", runtime.GOOS)
	default:
		dataHome := os.Getenv("XDG_DATA_HOME")
		if dataHome == "" {
			dataHome = filepath.Join(home, ".local", "share")
		}
		return NewFreedesktop(dataHome), nil
	}
}

// FilesDir returns the directory trashed items are moved into.
func (c *Can) FilesDir() string {
	return c.filesDir
}

// Recycle moves path into the trash and returns its new location. The
// move is a rename, so a path on a different filesystem than the trash
// fails with the underlying cross-device error.
func (c *Can) Recycle(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if _, err := os.Lstat(abs); err != nil {
		return "", err
	}

	if err := os.MkdirAll(c.filesDir, 0o700); err != nil {
		return "", fmt.Errorf("creating trash directory: %w", err)
	}
	if c.infoDir != "" {
		if err := os.MkdirAll(c.infoDir, 0o700); err != nil {
			return "", fmt.Errorf("creating trash info directory: %w", err)
		}
	}

	base := filepath.Base(abs)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	for n := 1; n <= maxNameAttempts; n++ {
		name := base
		if n > 1 {
			name = stem + " " + strconv.Itoa(n) + ext
		}

		infoPath, err := c.reserve(name, abs)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", err
		}

		dest := filepath.Join(c.filesDir, name)
		err = filesystem.RenameNoReplace(abs, dest)
		if err == nil {
			return dest, nil
		}
		if infoPath != "" {
			_ = os.Remove(infoPath)
		}
		if errors.Is(err, os.ErrExist) {
			continue
		}
		return "", err
	}
	return "", fmt.Errorf("no free name in trash for %s", base)
}

// reserve claims name in the info directory by creating its .trashinfo
// file exclusively, then fills it in. It returns "" when the trash keeps
// no metadata.
func (c *Can) reserve(name, origin string) (string, error) {
	if c.infoDir == "" {
		return "", nil
	}
	infoPath := filepath.Join(c.infoDir, name+".trashinfo")
	f, err := os.OpenFile(infoPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600) //nolint:gosec // G304: path is inside the trash
	if err != nil {
		return "", err
	}
	_ = f.Close()

	if err := filesystem.WriteFileAtomic(infoPath, trashInfo(origin, c.now()), 0o600); err != nil {
		_ = os.Remove(infoPath)
		return "", fmt.Errorf("writing trash info: %w", err)
	}
	return infoPath, nil
}

func trashInfo(origin string, at time.Time) []byte {
	escaped := (&url.URL{Path: origin}).EscapedPath()
	return []byte("[Trash Info]\nPath=" + escaped + "\nDeletionDate=" + at.Format("2006-01-02T15:04:05") + "\n")
}
