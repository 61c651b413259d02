package filesystem

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestRenameNoReplace(t *testing.T) {
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "Old.vbvm")
	newPath := filepath.Join(dir, "New.vbvm")
	if err := os.Mkdir(oldPath, 0o755); err != nil {
		t.Fatal(err)
	}

	if err := RenameNoReplace(oldPath, newPath); err != nil {
		t.Fatalf("RenameNoReplace: %v", err)
	}
	if _, err := os.Stat(newPath); err != nil {
		t.Errorf("new path missing: %v", err)
	}
	if _, err := os.Stat(oldPath); !os.IsNotExist(err) {
		t.Errorf("old path should be gone, stat err = %v", err)
	}
}

func TestRenameNoReplace_TargetExists(t *testing.T) {
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "Old.vbvm")
	newPath := filepath.Join(dir, "Taken.vbvm")
	for _, p := range []string{oldPath, newPath} {
		if err := os.Mkdir(p, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	// An empty directory would be silently replaced by a plain rename(2).
	err := RenameNoReplace(oldPath, newPath)
	if !errors.Is(err, os.ErrExist) {
		t.Fatalf("expected ErrExist, got %v", err)
	}
	if _, err := os.Stat(oldPath); err != nil {
		t.Errorf("source should remain after failed rename: %v", err)
	}
}
