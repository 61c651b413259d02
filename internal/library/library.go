// Package library keeps an in-memory list of the bundles in a library
// root synchronized with the filesystem.
//
// All state transitions happen on the goroutine running Library.Run.
// Scans run on their own goroutine and post their result back; results
// from a scan that was superseded by SetRoot are discarded. Reload
// requests that arrive while a scan is in flight are coalesced into one
// follow-up scan.
package library

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/scottdensmore/VirtualBuddy/internal/bundle"
	"github.com/scottdensmore/VirtualBuddy/internal/event"
	"github.com/scottdensmore/VirtualBuddy/internal/watcher"
)

// ErrClosed is returned by requests made after Run has returned.
var ErrClosed = errors.New("library closed")

// Scanner lists the bundles under a root.
type Scanner interface {
	Scan(ctx context.Context, root string) ([]bundle.Record, error)
}

// Watcher delivers raw filesystem changes for a root until ctx ends.
type Watcher interface {
	Watch(ctx context.Context, root string) (<-chan watcher.Change, error)
}

// Recycler moves a path into a recoverable trash and returns where it
// ended up.
type Recycler interface {
	Recycle(ctx context.Context, path string) (string, error)
}

// Deps holds the collaborators of a Library. Scanner, Loader and Logger
// are required; the rest are optional.
type Deps struct {
	Scanner   Scanner
	Loader    bundle.Loader
	Watcher   Watcher
	Debouncer *watcher.Debouncer
	Recycler  Recycler
	EventBus  *event.Bus
	Logger    *slog.Logger
}

type requestKind int

const (
	reqReload requestKind = iota
	reqSetRoot
)

type request struct {
	kind requestKind
	root string
	done chan error // nil for fire-and-forget reloads
}

type scanOutcome struct {
	seq     uint64
	root    string
	records []bundle.Record
	err     error
}

// Library owns the authoritative State for one library root.
type Library struct {
	scanner   Scanner
	loader    bundle.Loader
	watcher   Watcher
	debouncer *watcher.Debouncer
	recycler  Recycler
	eventBus  *event.Bus
	logger    *slog.Logger

	initialRoot string

	state   atomic.Pointer[State]
	root    atomic.Pointer[string]
	reqs    chan request
	results chan scanOutcome
	stopped chan struct{}
	loaded  chan struct{}
	once    sync.Once
	running atomic.Bool

	subMu   sync.Mutex
	subs    map[int]func(State)
	nextSub int
}

// New creates a Library for root. Nothing is scanned or watched until Run
// is called.
func New(root string, deps Deps) *Library {
	if root != "" {
		root = filepath.Clean(root)
	}
	logger := deps.Logger.With("component", "library")
	debouncer := deps.Debouncer
	if debouncer == nil && deps.Watcher != nil {
		debouncer = watcher.NewDebouncer(watcher.DefaultWindow, watcher.DefaultMaxDelay, nil, deps.Logger)
	}

	l := &Library{
		scanner:     deps.Scanner,
		loader:      deps.Loader,
		watcher:     deps.Watcher,
		debouncer:   debouncer,
		recycler:    deps.Recycler,
		eventBus:    deps.EventBus,
		logger:      logger,
		initialRoot: root,
		reqs:        make(chan request),
		results:     make(chan scanOutcome),
		stopped:     make(chan struct{}),
		loaded:      make(chan struct{}),
		subs:        make(map[int]func(State)),
	}
	l.state.Store(&State{Status: StatusLoading, Root: root})
	l.root.Store(&root)
	return l
}

// State returns the current snapshot.
func (l *Library) State() State {
	return l.state.Load().clone()
}

// Root returns the root currently being watched and scanned.
func (l *Library) Root() string {
	return *l.root.Load()
}

// Subscribe registers fn to be called with every new State. Calls happen
// sequentially on the Run goroutine, so fn must not call back into the
// Library synchronously. The returned func removes the subscription.
func (l *Library) Subscribe(fn func(State)) func() {
	l.subMu.Lock()
	defer l.subMu.Unlock()
	id := l.nextSub
	l.nextSub++
	l.subs[id] = fn
	return func() {
		l.subMu.Lock()
		defer l.subMu.Unlock()
		delete(l.subs, id)
	}
}

// Reload rescans the root and waits until a scan that started after the
// call has been published. Scan failures are reported through State, not
// through the returned error, which is only set when ctx ends or the
// Library is closed.
func (l *Library) Reload(ctx context.Context) error {
	return l.do(ctx, request{kind: reqReload})
}

// SetRoot switches the library to root, rebinding the watch and
// reloading. Setting the current root again is a no-op.
func (l *Library) SetRoot(ctx context.Context, root string) error {
	if root != "" {
		root = filepath.Clean(root)
	}
	return l.do(ctx, request{kind: reqSetRoot, root: root})
}

func (l *Library) do(ctx context.Context, req request) error {
	req.done = make(chan error, 1)
	select {
	case l.reqs <- req:
	case <-l.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitLoaded blocks until Run has published its first scan, whatever its
// outcome.
func (l *Library) WaitLoaded(ctx context.Context) error {
	select {
	case <-l.loaded:
		return nil
	case <-l.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// requestReload is the debouncer's entry point. It does not wait for the
// scan.
func (l *Library) requestReload(ctx context.Context) {
	select {
	case l.reqs <- request{kind: reqReload}:
	case <-l.stopped:
	case <-ctx.Done():
	}
}

// Run binds the initial root, performs the first reload and then serves
// requests until ctx is canceled. The watch is released when Run returns.
func (l *Library) Run(ctx context.Context) {
	if !l.running.CompareAndSwap(false, true) {
		l.logger.Error("library already running")
		return
	}
	defer close(l.stopped)

	var (
		root        = l.initialRoot
		seq         uint64
		scanning    bool
		pending     bool
		cancelScan  context.CancelFunc = func() {}
		cancelWatch context.CancelFunc
		current     []chan error
		next        []chan error
	)

	start := func() {
		seq++
		var sctx context.Context
		sctx, cancelScan = context.WithCancel(ctx)
		scanning = true
		go l.scan(ctx, sctx, seq, root)
	}

	// An empty root is scanned too so the state settles on Failed.
	cancelWatch = l.bindWatch(ctx, root)
	start()

	defer func() {
		cancelScan()
		cancelWatch()
		for _, ch := range append(current, next...) {
			reply(ch, ErrClosed)
		}
		l.logger.Info("library stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case req := <-l.reqs:
			switch req.kind {
			case reqReload:
				if !scanning {
					start()
					current = append(current, req.done)
				} else {
					pending = true
					next = append(next, req.done)
				}

			case reqSetRoot:
				if req.root == root {
					reply(req.done, nil)
					continue
				}
				l.logger.Info("library root changed", "from", root, "to", req.root)
				root = req.root
				l.root.Store(&req.root)
				l.publishEvent(event.LibraryRootChanged, map[string]any{"root": root})

				cancelWatch()
				cancelWatch = l.bindWatch(ctx, root)

				// Whatever was in flight belongs to the old root.
				cancelScan()
				current = append(append(current, next...), req.done)
				next = nil
				pending = false
				start()
			}

		case out := <-l.results:
			if out.seq != seq {
				l.logger.Debug("discarding stale scan result", "root", out.root)
				continue
			}
			cancelScan()
			scanning = false
			l.publish(out)
			for _, ch := range current {
				reply(ch, nil)
			}
			current = nil
			if pending {
				pending = false
				current, next = next, nil
				start()
			}
		}
	}
}

func (l *Library) scan(runCtx, ctx context.Context, seq uint64, root string) {
	records, err := l.scanner.Scan(ctx, root)
	select {
	case l.results <- scanOutcome{seq: seq, root: root, records: records, err: err}:
	case <-runCtx.Done():
	}
}

// bindWatch starts watching root and feeding debounced reloads back into
// the loop. The returned func releases the watch.
func (l *Library) bindWatch(ctx context.Context, root string) context.CancelFunc {
	if l.watcher == nil || root == "" {
		return func() {}
	}
	wctx, cancel := context.WithCancel(ctx)
	go func() {
		changes, err := l.watcher.Watch(wctx, root)
		if err != nil {
			if wctx.Err() == nil {
				l.logger.Error("watching library root", "root", root, "error", err)
			}
			return
		}
		l.debouncer.Run(wctx, root, changes, func() { l.requestReload(wctx) })
	}()
	return cancel
}

// publish installs the outcome of a scan as the new State and notifies
// subscribers.
func (l *Library) publish(out scanOutcome) {
	st := &State{Root: out.root, LoadedAt: time.Now().UTC()}
	if out.err != nil {
		st.Status = StatusFailed
		st.Err = out.err
		l.logger.Error("library reload failed", "root", out.root, "error", out.err)
		l.publishEvent(event.LibraryFailed, map[string]any{"root": out.root, "error": out.err.Error()})
	} else {
		st.Status = StatusLoaded
		st.Records = out.records
		l.logger.Info("library reloaded", "root", out.root, "bundles", len(out.records))
		l.publishEvent(event.LibraryLoaded, map[string]any{"root": out.root, "bundles": len(out.records)})
	}
	l.state.Store(st)
	defer l.once.Do(func() { close(l.loaded) })

	l.subMu.Lock()
	handlers := make([]func(State), 0, len(l.subs))
	for _, fn := range l.subs {
		handlers = append(handlers, fn)
	}
	l.subMu.Unlock()

	for _, fn := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					l.logger.Error("state subscriber panicked", "panic", r)
				}
			}()
			fn(st.clone())
		}()
	}
}

func (l *Library) publishEvent(t event.Type, data map[string]any) {
	if l.eventBus == nil {
		return
	}
	l.eventBus.Publish(event.Event{Type: t, Data: data})
}

func reply(ch chan error, err error) {
	if ch != nil {
		ch <- err
	}
}
