//go:build !linux

package filesystem

import (
	"errors"
	"os"
)

func cloneFile(_, _ *os.File) error {
	return errors.ErrUnsupported
}
