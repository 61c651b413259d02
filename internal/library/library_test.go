package library

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/scottdensmore/VirtualBuddy/internal/bundle"
	"github.com/scottdensmore/VirtualBuddy/internal/event"
	"github.com/scottdensmore/VirtualBuddy/internal/scanner"
	"github.com/scottdensmore/VirtualBuddy/internal/watcher"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func mkBundle(t *testing.T, root, name string) string {
	t.Helper()
	p := filepath.Join(root, bundle.FileName(name))
	if err := os.MkdirAll(filepath.Join(p, "Data"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(p, "Data", "Disk.img"), []byte("disk"), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func testDeps() Deps {
	return Deps{
		Scanner: scanner.NewService(bundle.DirLoader{}, testLogger(), 2),
		Loader:  bundle.DirLoader{},
		Logger:  testLogger(),
	}
}

// startLibrary runs lib until the test ends and waits for the scan Run
// starts with to be published.
func startLibrary(t *testing.T, lib *Library) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		lib.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	if err := lib.WaitLoaded(ctx); err != nil {
		t.Fatalf("WaitLoaded: %v", err)
	}
}

func recordNames(st State) []string {
	out := make([]string, len(st.Records))
	for i, r := range st.Records {
		out[i] = r.Name
	}
	return out
}

// gatedScanner blocks every scan of a gated root until release is
// closed.
type gatedScanner struct {
	inner   Scanner
	gated   string
	release chan struct{}
	calls   atomic.Int32
	started chan string
}

func (g *gatedScanner) Scan(ctx context.Context, root string) ([]bundle.Record, error) {
	g.calls.Add(1)
	if g.started != nil {
		select {
		case g.started <- root:
		default:
		}
	}
	if root == g.gated {
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return g.inner.Scan(ctx, root)
}

type chanWatcher struct {
	mu    sync.Mutex
	chans map[string]chan watcher.Change
}

func (w *chanWatcher) Watch(ctx context.Context, root string) (<-chan watcher.Change, error) {
	ch := make(chan watcher.Change, 16)
	w.mu.Lock()
	w.chans[root] = ch
	w.mu.Unlock()
	go func() {
		<-ctx.Done()
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.chans[root] == ch {
			delete(w.chans, root)
		}
		close(ch)
	}()
	return ch, nil
}

func (w *chanWatcher) send(t *testing.T, root string, c watcher.Change) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		w.mu.Lock()
		ch, ok := w.chans[root]
		w.mu.Unlock()
		if ok {
			ch <- c
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no watch bound for %s", root)
}

func TestReload_LoadsBundles(t *testing.T) {
	root := t.TempDir()
	mkBundle(t, root, "Alpha")
	mkBundle(t, root, "Beta")
	if err := os.WriteFile(filepath.Join(root, "notes.txt"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	lib := New(root, testDeps())
	if got := lib.State().Status; got != StatusLoading {
		t.Fatalf("status before Run = %v, want loading", got)
	}
	startLibrary(t, lib)

	st := lib.State()
	if st.Status != StatusLoaded {
		t.Fatalf("status = %v (err %v), want loaded", st.Status, st.Err)
	}
	if len(st.Records) != 2 {
		t.Fatalf("records = %v, want 2", recordNames(st))
	}
	if st.Root != root {
		t.Errorf("root = %q, want %q", st.Root, root)
	}
	if _, ok := st.Find("Alpha"); !ok {
		t.Error("Alpha not found")
	}
}

func TestRun_PublishesOnceAtStartup(t *testing.T) {
	root := t.TempDir()
	mkBundle(t, root, "Alpha")

	gs := &gatedScanner{inner: scanner.NewService(bundle.DirLoader{}, testLogger(), 2)}
	deps := testDeps()
	deps.Scanner = gs
	lib := New(root, deps)

	var notified atomic.Int32
	lib.Subscribe(func(State) { notified.Add(1) })
	startLibrary(t, lib)
	time.Sleep(50 * time.Millisecond)

	if n := notified.Load(); n != 1 {
		t.Errorf("notifications = %d, want 1", n)
	}
	if n := gs.calls.Load(); n != 1 {
		t.Errorf("scans = %d, want 1", n)
	}
	if lib.State().Status != StatusLoaded {
		t.Errorf("status = %v, want loaded", lib.State().Status)
	}
}

func TestWaitLoaded_Closed(t *testing.T) {
	lib := New(t.TempDir(), testDeps())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	lib.Run(ctx)

	if err := lib.WaitLoaded(context.Background()); err != nil && !errors.Is(err, ErrClosed) {
		t.Errorf("WaitLoaded after stop = %v, want nil or ErrClosed", err)
	}
}

func TestReload_Idempotent(t *testing.T) {
	root := t.TempDir()
	mkBundle(t, root, "One")
	mkBundle(t, root, "Two")

	lib := New(root, testDeps())
	startLibrary(t, lib)
	first := lib.State()

	if err := lib.Reload(context.Background()); err != nil {
		t.Fatal(err)
	}
	second := lib.State()

	if first.Status != second.Status || len(first.Records) != len(second.Records) {
		t.Fatalf("states differ: %v vs %v", recordNames(first), recordNames(second))
	}
	for i := range first.Records {
		if first.Records[i] != second.Records[i] {
			t.Errorf("record %d: %+v vs %+v", i, first.Records[i], second.Records[i])
		}
	}
}

func TestReload_MissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "gone")

	lib := New(root, testDeps())
	startLibrary(t, lib)

	st := lib.State()
	if st.Status != StatusFailed {
		t.Fatalf("status = %v, want failed", st.Status)
	}
	var unavailable *scanner.ErrDirectoryUnavailable
	if !errors.As(st.Err, &unavailable) {
		t.Fatalf("err = %v, want ErrDirectoryUnavailable", st.Err)
	}
	if st.Records != nil {
		t.Errorf("failed state carries records: %v", st.Records)
	}
}

func TestRun_EmptyRootFails(t *testing.T) {
	lib := New("", testDeps())
	startLibrary(t, lib)

	st := lib.State()
	var unavailable *scanner.ErrDirectoryUnavailable
	if st.Status != StatusFailed || !errors.As(st.Err, &unavailable) {
		t.Fatalf("state = %v / %v, want failed with ErrDirectoryUnavailable", st.Status, st.Err)
	}
}

func TestReload_RecoversAfterRootReturns(t *testing.T) {
	root := filepath.Join(t.TempDir(), "lib")
	lib := New(root, testDeps())
	startLibrary(t, lib)
	if lib.State().Status != StatusFailed {
		t.Fatal("expected failed state for missing root")
	}

	if err := os.Mkdir(root, 0o755); err != nil {
		t.Fatal(err)
	}
	mkBundle(t, root, "Back")
	if err := lib.Reload(context.Background()); err != nil {
		t.Fatal(err)
	}
	if st := lib.State(); st.Status != StatusLoaded || len(st.Records) != 1 {
		t.Fatalf("state = %v %v, want loaded with 1 record", st.Status, recordNames(st))
	}
}

func TestSetRoot_SameRootIsNoop(t *testing.T) {
	root := t.TempDir()
	mkBundle(t, root, "Alpha")

	lib := New(root, testDeps())
	startLibrary(t, lib)

	var notified atomic.Int32
	unsub := lib.Subscribe(func(State) { notified.Add(1) })
	defer unsub()

	if err := lib.SetRoot(context.Background(), root+string(filepath.Separator)); err != nil {
		t.Fatal(err)
	}
	if n := notified.Load(); n != 0 {
		t.Errorf("subscriber notified %d times, want 0", n)
	}
}

func TestSetRoot_Switches(t *testing.T) {
	rootA := t.TempDir()
	rootB := t.TempDir()
	mkBundle(t, rootA, "Alpha")
	mkBundle(t, rootB, "Beta")
	mkBundle(t, rootB, "Gamma")

	bus := event.NewBus(testLogger(), 16)
	var rootEvents atomic.Int32
	bus.Subscribe(func(event.Event) { rootEvents.Add(1) }, event.LibraryRootChanged)
	go bus.Start()

	deps := testDeps()
	deps.EventBus = bus
	lib := New(rootA, deps)
	startLibrary(t, lib)

	if err := lib.SetRoot(context.Background(), rootB); err != nil {
		t.Fatal(err)
	}
	bus.Stop()

	st := lib.State()
	if st.Root != rootB || lib.Root() != rootB {
		t.Fatalf("root = %q / %q, want %q", st.Root, lib.Root(), rootB)
	}
	if len(st.Records) != 2 {
		t.Errorf("records = %v, want Beta and Gamma", recordNames(st))
	}
	if n := rootEvents.Load(); n != 1 {
		t.Errorf("root changed events = %d, want 1", n)
	}
}

func TestSetRoot_DiscardsStaleScan(t *testing.T) {
	rootA := t.TempDir()
	rootB := t.TempDir()
	mkBundle(t, rootA, "Alpha")
	mkBundle(t, rootB, "Beta")

	gs := &gatedScanner{
		inner:   scanner.NewService(bundle.DirLoader{}, testLogger(), 2),
		gated:   rootA,
		release: make(chan struct{}),
		started: make(chan string, 1),
	}
	deps := testDeps()
	deps.Scanner = gs
	lib := New(rootA, deps)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go lib.Run(ctx)

	select {
	case <-gs.started:
	case <-time.After(2 * time.Second):
		t.Fatal("initial scan never started")
	}

	if err := lib.SetRoot(ctx, rootB); err != nil {
		t.Fatal(err)
	}
	close(gs.release)

	// Give the canceled scan of rootA a chance to report.
	time.Sleep(50 * time.Millisecond)

	st := lib.State()
	if st.Root != rootB {
		t.Fatalf("root = %q, want %q", st.Root, rootB)
	}
	if names := recordNames(st); len(names) != 1 || names[0] != "Beta" {
		t.Errorf("records = %v, want [Beta]", names)
	}
}

func TestReload_CoalescesWhileScanning(t *testing.T) {
	root := t.TempDir()
	mkBundle(t, root, "Alpha")

	gs := &gatedScanner{
		inner:   scanner.NewService(bundle.DirLoader{}, testLogger(), 2),
		gated:   root,
		release: make(chan struct{}),
	}
	deps := testDeps()
	deps.Scanner = gs
	lib := New(root, deps)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go lib.Run(ctx)

	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := lib.Reload(ctx); err != nil {
				t.Errorf("Reload: %v", err)
			}
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(gs.release)
	wg.Wait()

	if n := gs.calls.Load(); n != 2 {
		t.Errorf("scans = %d, want 2 (initial + one coalesced follow-up)", n)
	}
	if lib.State().Status != StatusLoaded {
		t.Errorf("status = %v, want loaded", lib.State().Status)
	}
}

func TestWatch_ChangeTriggersReload(t *testing.T) {
	root := t.TempDir()
	mkBundle(t, root, "Alpha")

	w := &chanWatcher{chans: make(map[string]chan watcher.Change)}
	deps := testDeps()
	deps.Watcher = w
	deps.Debouncer = watcher.NewDebouncer(10*time.Millisecond, 50*time.Millisecond, nil, testLogger())
	lib := New(root, deps)

	loaded := make(chan State, 8)
	lib.Subscribe(func(st State) { loaded <- st })
	startLibrary(t, lib)
	<-loaded

	p := mkBundle(t, root, "Beta")
	w.send(t, root, watcher.Change{Path: p, Kind: watcher.Added})

	select {
	case st := <-loaded:
		if len(st.Records) != 2 {
			t.Errorf("records = %v, want 2", recordNames(st))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no reload after change")
	}
}

func TestWatch_IrrelevantChangeIgnored(t *testing.T) {
	root := t.TempDir()

	w := &chanWatcher{chans: make(map[string]chan watcher.Change)}
	deps := testDeps()
	deps.Watcher = w
	deps.Debouncer = watcher.NewDebouncer(10*time.Millisecond, 50*time.Millisecond, nil, testLogger())
	lib := New(root, deps)

	var notified atomic.Int32
	lib.Subscribe(func(State) { notified.Add(1) })
	startLibrary(t, lib)

	w.send(t, root, watcher.Change{Path: filepath.Join(root, "notes.txt"), Kind: watcher.Added})
	w.send(t, root, watcher.Change{Path: filepath.Join(root, ".hidden.vbvm"), Kind: watcher.Added})
	time.Sleep(100 * time.Millisecond)

	if n := notified.Load(); n != 1 {
		t.Errorf("notifications = %d, want 1 (initial load only)", n)
	}
}

func TestSubscribe_UnsubscribeAndPanic(t *testing.T) {
	root := t.TempDir()
	lib := New(root, testDeps())

	var calls atomic.Int32
	lib.Subscribe(func(State) { panic("boom") })
	unsub := lib.Subscribe(func(State) { calls.Add(1) })
	startLibrary(t, lib)

	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
	unsub()
	if err := lib.Reload(context.Background()); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls after unsubscribe = %d, want 1", calls.Load())
	}
}

func TestState_IsSnapshot(t *testing.T) {
	root := t.TempDir()
	mkBundle(t, root, "Alpha")
	lib := New(root, testDeps())
	startLibrary(t, lib)

	st := lib.State()
	st.Records[0].Name = "mutated"
	if lib.State().Records[0].Name != "Alpha" {
		t.Error("mutating a snapshot changed the library state")
	}
}

func TestRun_ClosedAfterCancel(t *testing.T) {
	lib := New(t.TempDir(), testDeps())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		lib.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	if err := lib.Reload(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Reload after stop = %v, want ErrClosed", err)
	}
}
