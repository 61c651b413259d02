package watcher

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zoobzio/clockz"
)

const testRoot = "/Users/test/Library/VirtualBuddy"

type debounceHarness struct {
	in    chan Change
	clock *clockz.FakeClock
	fired atomic.Int32
	done  chan struct{}
}

func startDebouncer(t *testing.T, window, maxDelay time.Duration) *debounceHarness {
	t.Helper()
	h := &debounceHarness{
		in:    make(chan Change, 64),
		clock: clockz.NewFakeClock(),
		done:  make(chan struct{}),
	}
	d := NewDebouncer(window, maxDelay, h.clock, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		<-h.done
	})
	go func() {
		defer close(h.done)
		d.Run(ctx, testRoot, h.in, func() { h.fired.Add(1) })
	}()
	return h
}

// settle gives the debouncer goroutine time to drain the input channel.
func settle() { time.Sleep(20 * time.Millisecond) }

func (h *debounceHarness) advance(d time.Duration) {
	h.clock.Advance(d)
	h.clock.BlockUntilReady()
	settle()
}

func TestDebouncer_BurstCoalesces(t *testing.T) {
	h := startDebouncer(t, 500*time.Millisecond, 2*time.Second)

	names := []string{"A", "B", "C", "D", "E", "F", "G", "H"}
	for _, n := range names {
		h.in <- Change{Path: testRoot + "/" + n + ".vbvm", Kind: Added}
	}
	settle()

	if got := h.fired.Load(); got != 0 {
		t.Fatalf("fired %d times before quiescence, want 0", got)
	}

	h.advance(600 * time.Millisecond)
	if got := h.fired.Load(); got != 1 {
		t.Fatalf("fired %d times after burst, want 1", got)
	}

	h.advance(5 * time.Second)
	if got := h.fired.Load(); got != 1 {
		t.Errorf("fired %d times after extra wait, want still 1", got)
	}
}

func TestDebouncer_SeparateBursts(t *testing.T) {
	h := startDebouncer(t, 500*time.Millisecond, 2*time.Second)

	h.in <- Change{Path: testRoot + "/A.vbvm", Kind: Added}
	settle()
	h.advance(time.Second)

	h.in <- Change{Path: testRoot + "/A.vbvm", Kind: Added}
	settle()
	h.advance(time.Second)

	if got := h.fired.Load(); got != 2 {
		t.Errorf("fired %d times, want 2", got)
	}
}

func TestDebouncer_EveryBurstFires(t *testing.T) {
	h := startDebouncer(t, 500*time.Millisecond, 2*time.Second)

	for i, name := range []string{"A", "B", "C"} {
		h.in <- Change{Path: testRoot + "/" + name + ".vbvm", Kind: Changed}
		h.in <- Change{Path: testRoot + "/" + name + ".vbvm", Kind: Removed}
		settle()
		h.advance(time.Second)

		if got := h.fired.Load(); got != int32(i+1) {
			t.Fatalf("after burst %d fired %d times, want %d", i+1, got, i+1)
		}
	}
}

func TestDebouncer_FiltersIrrelevant(t *testing.T) {
	h := startDebouncer(t, 500*time.Millisecond, 2*time.Second)

	for _, c := range []Change{
		{Path: testRoot + "/notes.txt", Kind: Added},
		{Path: testRoot + "/.Copy of A.vbvm.staging-1", Kind: Added},
		{Path: testRoot + "/.vbuddy_probe_42", Kind: Removed},
		{Path: testRoot + "/A.vbvm/Disk.img", Kind: Changed},
		{Path: "/elsewhere/B.vbvm", Kind: Added},
	} {
		h.in <- c
	}
	settle()
	h.advance(time.Second)

	if got := h.fired.Load(); got != 0 {
		t.Errorf("fired %d times for irrelevant changes, want 0", got)
	}
}

func TestDebouncer_RootRemovalPassesFilter(t *testing.T) {
	h := startDebouncer(t, 500*time.Millisecond, 2*time.Second)

	h.in <- Change{Path: testRoot, Kind: Removed}
	settle()
	h.advance(time.Second)

	if got := h.fired.Load(); got != 1 {
		t.Errorf("fired %d times for root removal, want 1", got)
	}
}

func TestDebouncer_DuplicateDoesNotExtendWindow(t *testing.T) {
	h := startDebouncer(t, 500*time.Millisecond, 2*time.Second)

	c := Change{Path: testRoot + "/A.vbvm", Kind: Changed}
	h.in <- c
	settle()
	h.advance(400 * time.Millisecond)

	// Identical to the previous notification, so the deadline stays at 500ms.
	h.in <- c
	settle()
	h.advance(150 * time.Millisecond)

	if got := h.fired.Load(); got != 1 {
		t.Errorf("fired %d times, want 1", got)
	}
}

func TestDebouncer_BoundedDelay(t *testing.T) {
	h := startDebouncer(t, 500*time.Millisecond, 2*time.Second)

	// A change every 400ms never leaves a 500ms quiet gap, so only the
	// max delay can end the burst.
	kinds := []Kind{Added, Changed, Moved, Removed, Added}
	for i, k := range kinds {
		h.in <- Change{Path: testRoot + "/A.vbvm", Kind: k}
		settle()
		h.advance(400 * time.Millisecond)
		if i < len(kinds)-1 {
			if got := h.fired.Load(); got != 0 {
				t.Fatalf("fired early after %d changes", i+1)
			}
		}
	}

	if got := h.fired.Load(); got != 1 {
		t.Errorf("fired %d times at max delay, want 1", got)
	}
}

func TestDebouncer_FlushesOnClose(t *testing.T) {
	in := make(chan Change, 4)
	var fired atomic.Int32
	d := NewDebouncer(time.Hour, time.Hour, clockz.NewFakeClock(), testLogger())

	in <- Change{Path: testRoot + "/A.vbvm", Kind: Added}
	close(in)
	d.Run(context.Background(), testRoot, in, func() { fired.Add(1) })

	if got := fired.Load(); got != 1 {
		t.Errorf("fired %d times on close, want 1", got)
	}
}

func TestNewDebouncer_Defaults(t *testing.T) {
	d := NewDebouncer(0, 0, nil, testLogger())
	if d.window != DefaultWindow {
		t.Errorf("window = %v, want %v", d.window, DefaultWindow)
	}
	if d.maxDelay != DefaultWindow {
		t.Errorf("maxDelay = %v, want %v", d.maxDelay, DefaultWindow)
	}
	if d.clock == nil {
		t.Error("expected real clock")
	}
}
