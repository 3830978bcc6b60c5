// Package timectrl drives simulation time. A fixed-step clock serves the
// foreground (rendering) host and a coarse background driver serves the
// hidden host; Drivers switches between them so exactly one is active.
package timectrl

import (
	"sync"
	"time"
)

// WallClock is the source of wall-clock time for the drivers. Tests inject a
// ManualClock so scheduling can be reproduced exactly.
type WallClock interface {
	Now() time.Time
}

// SystemClock reads the real wall clock.
type SystemClock struct{}

// Now implements WallClock.
func (SystemClock) Now() time.Time { return time.Now() }

// ManualClock is a WallClock advanced explicitly by the caller.
type ManualClock struct {
	mu  sync.RWMutex
	now time.Time
}

// NewManualClock constructs a clock pinned at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now implements WallClock.
func (m *ManualClock) Now() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.now
}

// Advance moves the clock forward by d and returns the new time.
func (m *ManualClock) Advance(d time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
	return m.now
}

// SetTime pins the clock at t.
func (m *ManualClock) SetTime(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// Mode selects which driver advances the simulation.
type Mode int

const (
	// Foreground runs the fixed-step clock at frame cadence.
	Foreground Mode = iota
	// Background runs the coarse elapsed-time driver.
	Background
)

func (m Mode) String() string {
	switch m {
	case Foreground:
		return "foreground"
	case Background:
		return "background"
	default:
		return "unknown"
	}
}

// Drivers owns both drivers and guarantees at most one is running.
type Drivers struct {
	fg            *FixedStepClock
	bg            *BackgroundDriver
	frameInterval time.Duration
	mode          Mode
	running       bool
	switches      uint64
}

// NewDrivers pairs a foreground clock woken every frameInterval with a
// background driver. The initial mode is Foreground.
func NewDrivers(fg *FixedStepClock, bg *BackgroundDriver, frameInterval time.Duration) *Drivers {
	if frameInterval <= 0 {
		frameInterval = DefaultFrameInterval
	}
	return &Drivers{fg: fg, bg: bg, frameInterval: frameInterval}
}

// Foreground returns the fixed-step clock.
func (d *Drivers) Foreground() *FixedStepClock { return d.fg }

// Background returns the background driver.
func (d *Drivers) Background() *BackgroundDriver { return d.bg }

// Mode returns the selected mode.
func (d *Drivers) Mode() Mode { return d.mode }

// Running reports whether the selected driver is active.
func (d *Drivers) Running() bool { return d.running }

// Switches counts effective mode changes.
func (d *Drivers) Switches() uint64 { return d.switches }

// Start activates the driver for the current mode.
func (d *Drivers) Start(now time.Time) {
	if d.running {
		return
	}
	d.running = true
	d.startActive(now)
}

// Stop halts both drivers.
func (d *Drivers) Stop() {
	d.running = false
	d.fg.Stop()
	d.bg.Stop()
}

// SetMode switches drivers. The previous driver is stopped before the next
// one starts. Selecting the current mode is a no-op and returns false.
func (d *Drivers) SetMode(mode Mode, now time.Time) bool {
	if mode == d.mode {
		return false
	}
	d.fg.Stop()
	d.bg.Stop()
	d.mode = mode
	d.switches++
	if d.running {
		d.startActive(now)
	}
	return true
}

// Interval returns how often the active driver wants to be woken.
func (d *Drivers) Interval() time.Duration {
	if d.mode == Background {
		return d.bg.Interval()
	}
	return d.frameInterval
}

// Wake lets the active driver consume wall time up to now. It returns the
// number of simulation steps taken.
func (d *Drivers) Wake(now time.Time) int {
	if !d.running {
		return 0
	}
	if d.mode == Background {
		if d.bg.Tick(now) {
			return 1
		}
		return 0
	}
	return d.fg.Frame(now).Steps
}

func (d *Drivers) startActive(now time.Time) {
	if d.mode == Background {
		d.bg.Start(now)
		return
	}
	d.fg.Start(now)
}
