package watcher

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// probeTTL is how long a probe result stays valid. Mounts come and go, so
// a root that failed the probe is retried eventually.
const probeTTL = time.Hour

type probeResult struct {
	supported bool
	at        time.Time
}

// ProbeCache remembers whether fsnotify delivers events for a root.
type ProbeCache struct {
	mu      sync.RWMutex
	results map[string]probeResult
}

// NewProbeCache creates an empty probe cache.
func NewProbeCache() *ProbeCache {
	return &ProbeCache{
		results: make(map[string]probeResult),
	}
}

// Get returns the cached result for path. ok is false when path has not
// been probed or the result expired.
func (pc *ProbeCache) Get(path string) (supported bool, ok bool) {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	r, ok := pc.results[path]
	if !ok || time.Since(r.at) > probeTTL {
		return false, false
	}
	return r.supported, true
}

// Set stores a probe result for path.
func (pc *ProbeCache) Set(path string, supported bool) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.results[path] = probeResult{supported: supported, at: time.Now()}
}

// probe checks that w, already watching root, actually receives events:
// it creates a hidden directory in root and waits for its Create event.
// Events consumed while waiting are discarded; the caller reloads after
// binding a new root anyway.
func probe(w *fsnotify.Watcher, root string, timeout time.Duration) bool {
	name := fmt.Sprintf(".vbuddy_probe_%d", rand.Int63()) //nolint:gosec // G404: not security-sensitive
	dir := filepath.Join(root, name)
	if err := os.Mkdir(dir, 0o700); err != nil {
		return false
	}
	defer os.Remove(dir) //nolint:errcheck

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return false
			}
			if ev.Has(fsnotify.Create) && filepath.Base(ev.Name) == name {
				return true
			}
		case <-w.Errors:
			return false
		case <-timer.C:
			return false
		}
	}
}
