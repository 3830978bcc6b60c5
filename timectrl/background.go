package timectrl

import "time"

// DefaultBackgroundInterval is the 2 Hz cadence used while the host is not
// rendering.
const DefaultBackgroundInterval = 500 * time.Millisecond

// BackgroundConfig tunes the background driver.
type BackgroundConfig struct {
	Interval time.Duration
}

// TickReport summarises one background tick.
type TickReport struct {
	Tick    uint64
	At      time.Time
	Elapsed time.Duration
}

// BackgroundDriver advances the simulation on a coarse interval. Unlike the
// fixed-step clock it feeds the actual elapsed wall time since the previous
// tick as a single step.
type BackgroundDriver struct {
	cfg     BackgroundConfig
	step    StepFunc
	report  func(TickReport)
	running bool
	last    time.Time
	ticks   uint64
	elapsed time.Duration
}

// NewBackgroundDriver constructs a stopped driver. report may be nil.
func NewBackgroundDriver(cfg BackgroundConfig, step StepFunc, report func(TickReport)) *BackgroundDriver {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultBackgroundInterval
	}
	return &BackgroundDriver{cfg: cfg, step: step, report: report}
}

// Interval returns the wake cadence.
func (b *BackgroundDriver) Interval() time.Duration {
	return b.cfg.Interval
}

// Start begins ticking; elapsed time is measured from now.
func (b *BackgroundDriver) Start(now time.Time) {
	if b.running {
		return
	}
	b.running = true
	b.last = now
}

// Stop halts ticking.
func (b *BackgroundDriver) Stop() {
	b.running = false
}

// Running reports whether the driver is active.
func (b *BackgroundDriver) Running() bool {
	return b.running
}

// Ticks returns the number of ticks delivered.
func (b *BackgroundDriver) Ticks() uint64 {
	return b.ticks
}

// TotalElapsed returns the simulated time delivered across all ticks.
func (b *BackgroundDriver) TotalElapsed() time.Duration {
	return b.elapsed
}

// Tick delivers the wall time elapsed since the previous tick as one step and
// emits a report. It returns false when stopped or when no time has passed.
func (b *BackgroundDriver) Tick(now time.Time) bool {
	if !b.running {
		return false
	}
	elapsed := now.Sub(b.last)
	if elapsed <= 0 {
		return false
	}
	b.last = now
	if b.step != nil {
		b.step(elapsed)
	}
	b.ticks++
	b.elapsed += elapsed
	if b.report != nil {
		b.report(TickReport{Tick: b.ticks, At: now, Elapsed: elapsed})
	}
	return true
}
