package watcher

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/zoobzio/clockz"
)

// Default debounce timings.
const (
	DefaultWindow   = 500 * time.Millisecond
	DefaultMaxDelay = 2 * time.Second
)

// Debouncer coalesces a stream of changes into reload signals. A signal
// fires once no relevant change has arrived for the window, or once
// maxDelay has passed since the first change of a burst, whichever
// comes first.
type Debouncer struct {
	window   time.Duration
	maxDelay time.Duration
	clock    clockz.Clock
	logger   *slog.Logger
}

// NewDebouncer creates a debouncer. A nil clock uses the real clock.
// maxDelay is raised to window when smaller.
func NewDebouncer(window, maxDelay time.Duration, clock clockz.Clock, logger *slog.Logger) *Debouncer {
	if window <= 0 {
		window = DefaultWindow
	}
	if maxDelay < window {
		maxDelay = window
	}
	if clock == nil {
		clock = clockz.RealClock
	}
	return &Debouncer{
		window:   window,
		maxDelay: maxDelay,
		clock:    clock,
		logger:   logger.With("component", "debouncer"),
	}
}

// Run consumes changes for root until ctx is canceled or in is closed,
// calling emit for every coalesced burst. Changes that cannot affect the
// bundle list of root are dropped before they reach the timer. A burst
// still pending when in closes is flushed.
func (d *Debouncer) Run(ctx context.Context, root string, in <-chan Change, emit func()) {
	root = filepath.Clean(root)

	var (
		timer   clockz.Timer
		pending bool
		first   time.Time
		last    Change
		hasLast bool
	)

	for {
		var timerC <-chan time.Time
		if timer != nil {
			timerC = timer.C()
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case c, ok := <-in:
			if !ok {
				if timer != nil {
					timer.Stop()
				}
				if pending {
					emit()
				}
				return
			}
			if !Relevant(root, c) {
				continue
			}
			if hasLast && c == last {
				continue
			}
			last, hasLast = c, true

			now := d.clock.Now()
			if !pending {
				pending = true
				first = now
			}
			wait := d.window
			if remaining := d.maxDelay - now.Sub(first); remaining < wait {
				wait = max(remaining, 0)
			}

			// Re-arm with a new timer: fake clocks never reschedule a
			// fired timer on Reset.
			if timer != nil {
				timer.Stop()
			}
			timer = d.clock.NewTimer(wait)

		case <-timerC:
			timer = nil
			if pending {
				pending = false
				hasLast = false
				d.logger.Debug("debounce elapsed, requesting reload", "root", root)
				emit()
			}
		}
	}
}
