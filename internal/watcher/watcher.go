package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"
)

// Options configures a watch Service.
type Options struct {
	// PollInterval is the snapshot interval used when fsnotify cannot
	// deliver events for a root.
	PollInterval time.Duration
	// ProbeTimeout bounds the fsnotify delivery probe. Zero skips the
	// probe and trusts fsnotify whenever it can add a watch.
	ProbeTimeout time.Duration
}

// Service delivers raw changes for a library root. It prefers fsnotify
// and falls back to polling directory snapshots when fsnotify is not
// available, the probe reports that events do not arrive (network
// mounts), or the root does not exist yet.
type Service struct {
	logger     *slog.Logger
	opts       Options
	probeCache *ProbeCache
	errLog     rate.Sometimes
}

// NewService creates a watch service.
func NewService(logger *slog.Logger, opts Options, probeCache *ProbeCache) *Service {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if probeCache == nil {
		probeCache = NewProbeCache()
	}
	return &Service{
		logger:     logger.With("component", "fs-watcher"),
		opts:       opts,
		probeCache: probeCache,
		errLog:     rate.Sometimes{First: 3, Interval: time.Minute},
	}
}

// Watch starts watching root and returns the change stream without
// blocking on the fsnotify probe. The stream is closed once ctx is
// canceled.
func (s *Service) Watch(ctx context.Context, root string) (<-chan Change, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	root = filepath.Clean(root)
	out := make(chan Change, 64)

	go func() {
		defer close(out)
		var snap snapshot
		if w := s.notifyWatcher(root); w != nil {
			s.logger.Info("watching library root", "path", root, "mode", "fsnotify")
			if !s.runNotify(ctx, w, root, out) {
				return
			}
			// The root is gone; poll from an empty snapshot so its return
			// is reported even if it reappears before the first tick.
		} else {
			snap = readDirSnapshot(root)
		}
		s.logger.Info("watching library root", "path", root, "mode", "poll", "interval", s.opts.PollInterval)
		s.runPoll(ctx, root, snap, out)
	}()
	return out, nil
}

// notifyWatcher returns an fsnotify watcher bound to root, or nil when
// polling has to be used instead.
func (s *Service) notifyWatcher(root string) *fsnotify.Watcher {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		s.logger.Warn("library root not watchable", "path", root, "error", err)
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Warn("fsnotify unavailable, falling back to polling", "error", err)
		return nil
	}
	if err := w.Add(root); err != nil {
		w.Close() //nolint:errcheck
		s.logger.Warn("failed to watch library root", "path", root, "error", err)
		return nil
	}

	if s.opts.ProbeTimeout > 0 {
		supported, ok := s.probeCache.Get(root)
		if !ok {
			supported = probe(w, root, s.opts.ProbeTimeout)
			s.probeCache.Set(root, supported)
			s.logger.Info("fsnotify probe result", "path", root, "supported", supported)
		}
		if !supported {
			w.Close() //nolint:errcheck
			return nil
		}
	}
	return w
}

// runNotify forwards fsnotify events until ctx is done (returns false) or
// the root itself goes away (returns true, so the caller switches to
// polling and notices when it comes back).
func (s *Service) runNotify(ctx context.Context, w *fsnotify.Watcher, root string, out chan<- Change) bool {
	defer w.Close() //nolint:errcheck

	for {
		select {
		case <-ctx.Done():
			return false

		case ev, ok := <-w.Events:
			if !ok {
				return true
			}
			kind, ok := kindOf(ev.Op)
			if !ok {
				continue
			}
			c := Change{Path: filepath.Clean(ev.Name), Kind: kind}
			if !send(ctx, out, c) {
				return false
			}
			if c.Path == root && (kind == Removed || kind == Moved) {
				s.logger.Warn("library root went away", "path", root, "kind", kind.String())
				return true
			}

		case err, ok := <-w.Errors:
			if !ok {
				return true
			}
			s.errLog.Do(func() {
				s.logger.Error("fsnotify error", "path", root, "error", err)
			})
		}
	}
}

// runPoll diffs directory snapshots every PollInterval, starting from snap. A root that
// disappears is reported as Removed and one that appears as Added.
func (s *Service) runPoll(ctx context.Context, root string, snap snapshot, out chan<- Change) {
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		next := readDirSnapshot(root)
		for _, c := range diffSnapshots(root, snap, next) {
			if !send(ctx, out, c) {
				return
			}
		}
		snap = next
	}
}

func send(ctx context.Context, out chan<- Change, c Change) bool {
	select {
	case out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

// snapshot maps entry names to modification times. A nil snapshot means
// the directory could not be read.
type snapshot map[string]time.Time

// readDirSnapshot reads the entries of path.
func readDirSnapshot(path string) snapshot {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil
	}
	snap := make(snapshot, len(entries))
	for _, e := range entries {
		var mod time.Time
		if info, err := e.Info(); err == nil {
			mod = info.ModTime()
		}
		snap[e.Name()] = mod
	}
	return snap
}

// diffSnapshots returns the changes that turn prev into next.
func diffSnapshots(root string, prev, next snapshot) []Change {
	switch {
	case prev == nil && next == nil:
		return nil
	case prev != nil && next == nil:
		return []Change{{Path: root, Kind: Removed}}
	case prev == nil:
		return []Change{{Path: root, Kind: Added}}
	}

	var changes []Change
	for name, mod := range next {
		old, existed := prev[name]
		switch {
		case !existed:
			changes = append(changes, Change{Path: filepath.Join(root, name), Kind: Added})
		case !old.Equal(mod):
			changes = append(changes, Change{Path: filepath.Join(root, name), Kind: Changed})
		}
	}
	for name := range prev {
		if _, ok := next[name]; !ok {
			changes = append(changes, Change{Path: filepath.Join(root, name), Kind: Removed})
		}
	}
	return changes
}
