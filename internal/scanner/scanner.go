package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/scottdensmore/VirtualBuddy/internal/bundle"
)

// ErrDirectoryUnavailable reports that the library root could not be
// enumerated. Per-bundle failures never produce this error.
type ErrDirectoryUnavailable struct {
	Path  string
	Cause error
}

func (e *ErrDirectoryUnavailable) Error() string {
	return fmt.Sprintf("library directory %s unavailable: %v", e.Path, e.Cause)
}

func (e *ErrDirectoryUnavailable) Unwrap() error { return e.Cause }

// Service enumerates a library root and loads every bundle in it.
type Service struct {
	loader  bundle.Loader
	logger  *slog.Logger
	workers int

	mu   sync.Mutex
	last *ScanResult
}

// NewService creates a scanner. workers bounds how many bundles are
// loaded concurrently; zero or less uses GOMAXPROCS.
func NewService(loader bundle.Loader, logger *slog.Logger, workers int) *Service {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Service{
		loader:  loader,
		logger:  logger.With("component", "scanner"),
		workers: workers,
	}
}

// Status returns a copy of the most recent scan result, or nil before
// the first scan.
func (s *Service) Status() *ScanResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil
	}
	snapshot := *s.last
	return &snapshot
}

// Scan lists the immediate children of root, loads each bundle and
// returns the records newest first. Bundles that fail to load are logged
// and left out.
func (s *Service) Scan(ctx context.Context, root string) ([]bundle.Record, error) {
	result := &ScanResult{
		ID:        uuid.New().String(),
		Root:      root,
		Status:    "running",
		StartedAt: time.Now().UTC(),
	}
	defer s.finish(result)

	if root == "" {
		err := &ErrDirectoryUnavailable{Path: root, Cause: fmt.Errorf("no library root configured")}
		result.fail(err)
		return nil, err
	}

	entries, err := readRoot(root)
	if err != nil {
		result.fail(err)
		s.logger.Error("scan failed", "path", root, "error", err)
		return nil, err
	}
	result.Entries = len(entries)

	var paths []string
	for _, e := range entries {
		name := e.Name()
		// Skip hidden entries, including staging directories for copies.
		if strings.HasPrefix(name, ".") {
			continue
		}
		if !bundle.HasExtension(name) {
			continue
		}
		paths = append(paths, filepath.Join(root, name))
	}

	loaded := make([]*bundle.Record, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, p := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rec, err := s.loader.Load(p)
			if err != nil {
				s.logger.Warn("skipping bundle", "path", p, "error", err)
				return nil
			}
			loaded[i] = &rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		result.fail(err)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		result.fail(err)
		return nil, err
	}

	records := make([]bundle.Record, 0, len(paths))
	for _, rec := range loaded {
		if rec != nil {
			records = append(records, *rec)
		}
	}
	Sort(records)

	result.Bundles = len(records)
	result.Skipped = len(paths) - len(records)
	s.logger.Debug("scan completed",
		"path", root,
		"bundles", result.Bundles,
		"skipped", result.Skipped,
	)
	return records, nil
}

// Sort orders records newest first, breaking ties by path.
func Sort(records []bundle.Record) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.CreationDate.Equal(b.CreationDate) {
			return a.CreationDate.After(b.CreationDate)
		}
		return a.Path < b.Path
	})
}

func readRoot(root string) ([]os.DirEntry, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, &ErrDirectoryUnavailable{Path: root, Cause: err}
	}
	if !info.IsDir() {
		return nil, &ErrDirectoryUnavailable{Path: root, Cause: fmt.Errorf("not a directory")}
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, &ErrDirectoryUnavailable{Path: root, Cause: err}
	}
	return entries, nil
}

func (r *ScanResult) fail(err error) {
	r.Status = "failed"
	r.Error = err.Error()
}

func (s *Service) finish(result *ScanResult) {
	now := time.Now().UTC()
	result.CompletedAt = &now
	if result.Status == "running" {
		result.Status = "completed"
	}
	s.mu.Lock()
	s.last = result
	s.mu.Unlock()
}
