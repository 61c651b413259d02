package library

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/scottdensmore/VirtualBuddy/internal/bundle"
	"github.com/scottdensmore/VirtualBuddy/internal/event"
	"github.com/scottdensmore/VirtualBuddy/internal/filesystem"
)

// MinNameLength is the shortest bundle name accepted, in characters.
const MinNameLength = 3

// CopyPrefix is prepended to the name of a duplicated bundle.
const CopyPrefix = "Copy of "

// ValidateNewName checks that candidate can name a sibling of rec and
// returns the path the bundle would get. A trailing bundle extension on
// candidate is ignored. The result is advisory: another process may
// create the target before the caller uses it.
func ValidateNewName(rec bundle.Record, candidate string) (string, error) {
	if bundle.HasExtension(candidate) {
		candidate = strings.TrimSuffix(candidate, filepath.Ext(candidate))
	}
	if utf8.RuneCountInString(candidate) < MinNameLength {
		return "", &ErrNameTooShort{Name: candidate, Min: MinNameLength}
	}
	// Hidden entries are never listed.
	if strings.HasPrefix(candidate, ".") {
		return "", &ErrNameInvalid{Name: candidate, Reason: "starts with a dot"}
	}
	if strings.ContainsRune(candidate, '/') || strings.ContainsRune(candidate, filepath.Separator) {
		return "", &ErrNameInvalid{Name: candidate, Reason: "contains a path separator"}
	}
	if strings.ContainsRune(candidate, 0) {
		return "", &ErrNameInvalid{Name: candidate, Reason: "contains a NUL byte"}
	}

	target := filepath.Join(filepath.Dir(rec.Path), bundle.FileName(candidate))
	if _, err := os.Lstat(target); err == nil {
		return "", &ErrNameExists{Name: candidate, Path: target}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", &ErrMutation{Op: "validate", Path: target, Cause: err}
	}
	return target, nil
}

// Rename gives rec a new name in place. The rename never replaces an
// existing bundle; losing that race is reported as *ErrNameExists.
func (l *Library) Rename(ctx context.Context, rec bundle.Record, newName string) (bundle.Record, error) {
	opID := uuid.New().String()
	target, err := ValidateNewName(rec, newName)
	if err != nil {
		l.operationFailed(opID, "rename", rec.Path, err)
		return bundle.Record{}, err
	}

	if err := filesystem.RenameNoReplace(rec.Path, target); err != nil {
		if errors.Is(err, os.ErrExist) {
			err = &ErrNameExists{Name: newName, Path: target}
		} else {
			err = &ErrMutation{Op: "rename", Path: rec.Path, Cause: err}
		}
		l.operationFailed(opID, "rename", rec.Path, err)
		return bundle.Record{}, err
	}

	renamed := bundle.Record{Path: target, Name: bundle.NameFromPath(target), CreationDate: rec.CreationDate}
	l.logger.Info("bundle renamed", "operation_id", opID, "from", rec.Path, "to", target)
	l.publishEvent(event.BundleRenamed, map[string]any{
		"operation_id": opID,
		"from":         rec.Path,
		"to":           target,
	})

	if err := l.Reload(ctx); err != nil {
		return renamed, fmt.Errorf("reloading after rename: %w", err)
	}
	return renamed, nil
}

// Duplicate copies rec to a sibling named CopyPrefix + rec.Name. The copy
// is assembled in a hidden staging directory and moved into place only
// when complete, so a partial copy is never visible to a scan.
func (l *Library) Duplicate(ctx context.Context, rec bundle.Record) (bundle.Record, error) {
	opID := uuid.New().String()
	name := CopyPrefix + rec.Name
	target, err := ValidateNewName(rec, name)
	if err != nil {
		l.operationFailed(opID, "duplicate", rec.Path, err)
		return bundle.Record{}, err
	}

	staging := filepath.Join(filepath.Dir(target), "."+filepath.Base(target)+".staging-"+opID)
	fail := func(err error) (bundle.Record, error) {
		if rmErr := os.RemoveAll(staging); rmErr != nil {
			l.logger.Warn("removing staging copy", "path", staging, "error", rmErr)
		}
		l.operationFailed(opID, "duplicate", rec.Path, err)
		return bundle.Record{}, err
	}

	if err := filesystem.CopyDir(ctx, rec.Path, staging); err != nil {
		return fail(&ErrMutation{Op: "duplicate", Path: rec.Path, Cause: err})
	}
	if err := filesystem.RenameNoReplace(staging, target); err != nil {
		if errors.Is(err, os.ErrExist) {
			return fail(&ErrNameExists{Name: name, Path: target})
		}
		return fail(&ErrMutation{Op: "duplicate", Path: target, Cause: err})
	}

	now := time.Now()
	if err := os.Chtimes(target, now, now); err != nil {
		l.logger.Warn("stamping duplicate time", "path", target, "error", err)
	}
	dup, err := l.loader.Load(target)
	if err != nil {
		l.logger.Warn("loading duplicate", "path", target, "error", err)
		dup = bundle.Record{Path: target, Name: name}
	}
	dup.CreationDate = now

	l.logger.Info("bundle duplicated", "operation_id", opID, "from", rec.Path, "to", target)
	l.publishEvent(event.BundleDuplicated, map[string]any{
		"operation_id": opID,
		"from":         rec.Path,
		"to":           target,
	})

	if err := l.Reload(ctx); err != nil {
		return dup, fmt.Errorf("reloading after duplicate: %w", err)
	}
	return dup, nil
}

// MoveToTrash hands rec to the Recycler. The record stays in the list
// until the following reload no longer finds it.
func (l *Library) MoveToTrash(ctx context.Context, rec bundle.Record) error {
	opID := uuid.New().String()
	if l.recycler == nil {
		err := &ErrMutation{Op: "trash", Path: rec.Path, Cause: errors.New("no trash configured")}
		l.operationFailed(opID, "trash", rec.Path, err)
		return err
	}

	dest, err := l.recycler.Recycle(ctx, rec.Path)
	if err != nil {
		err = &ErrMutation{Op: "trash", Path: rec.Path, Cause: err}
		l.operationFailed(opID, "trash", rec.Path, err)
		return err
	}

	l.logger.Info("bundle moved to trash", "operation_id", opID, "from", rec.Path, "to", dest)
	l.publishEvent(event.BundleTrashed, map[string]any{
		"operation_id": opID,
		"from":         rec.Path,
		"to":           dest,
	})

	if err := l.Reload(ctx); err != nil {
		return fmt.Errorf("reloading after trash: %w", err)
	}
	return nil
}

func (l *Library) operationFailed(opID, op, path string, err error) {
	l.logger.Warn("bundle operation failed", "operation_id", opID, "op", op, "path", path, "error", err)
	l.publishEvent(event.OperationFailed, map[string]any{
		"operation_id": opID,
		"op":           op,
		"from":         path,
		"error":        err.Error(),
	})
}
