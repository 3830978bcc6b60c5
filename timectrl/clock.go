package timectrl

import "time"

// Defaults for the foreground fixed-step clock.
const (
	DefaultStepInterval     = 16 * time.Millisecond
	DefaultMaxFrameTime     = 250 * time.Millisecond
	DefaultMaxStepsPerFrame = 8
	DefaultFrameInterval    = 16 * time.Millisecond
)

// StepFunc advances the simulation by exactly dt.
type StepFunc func(dt time.Duration)

// ClockConfig tunes the fixed-step clock.
type ClockConfig struct {
	// StepInterval is the fixed simulation step handed to StepFunc.
	StepInterval time.Duration
	// MaxFrameTime clamps a single frame's wall-clock delta so a stall
	// cannot trigger an unbounded catch-up.
	MaxFrameTime time.Duration
	// MaxStepsPerFrame caps steps drained per frame; surplus time left in
	// the accumulator after the cap is dropped, not carried.
	MaxStepsPerFrame int
}

func (c ClockConfig) withDefaults() ClockConfig {
	if c.StepInterval <= 0 {
		c.StepInterval = DefaultStepInterval
	}
	if c.MaxFrameTime <= 0 {
		c.MaxFrameTime = DefaultMaxFrameTime
	}
	if c.MaxStepsPerFrame <= 0 {
		c.MaxStepsPerFrame = DefaultMaxStepsPerFrame
	}
	return c
}

// ClockState is a copy of the clock's counters.
type ClockState struct {
	Running       bool
	LastWallTime  time.Time
	Accumulator   time.Duration
	StepCount     uint64
	FrameCount    uint64
	ClampedFrames uint64
	DroppedTime   time.Duration
}

// FrameResult describes what one scheduled wake did.
type FrameResult struct {
	FrameTime time.Duration
	Steps     int
	Clamped   bool
	Dropped   time.Duration
}

// FixedStepClock turns irregular wall-clock frames into a strictly regular
// sequence of simulation steps using an accumulator.
//
// It is owned by a single simulation goroutine and is not safe for
// concurrent use.
type FixedStepClock struct {
	cfg   ClockConfig
	step  StepFunc
	state ClockState
}

// NewFixedStepClock constructs a stopped clock that invokes step for every
// fixed step.
func NewFixedStepClock(cfg ClockConfig, step StepFunc) *FixedStepClock {
	return &FixedStepClock{cfg: cfg.withDefaults(), step: step}
}

// Config returns the effective configuration.
func (c *FixedStepClock) Config() ClockConfig {
	return c.cfg
}

// StepInterval returns the fixed step size.
func (c *FixedStepClock) StepInterval() time.Duration {
	return c.cfg.StepInterval
}

// Start begins accepting frames. The first frame is measured from now.
func (c *FixedStepClock) Start(now time.Time) {
	if c.state.Running {
		return
	}
	c.state.Running = true
	c.state.LastWallTime = now
}

// Stop halts frame processing without touching counters.
func (c *FixedStepClock) Stop() {
	c.state.Running = false
}

// Running reports whether the clock accepts frames.
func (c *FixedStepClock) Running() bool {
	return c.state.Running
}

// Reset zeroes every counter and the accumulator. The running flag is kept;
// a running clock re-measures from its next frame.
func (c *FixedStepClock) Reset() {
	running := c.state.Running
	c.state = ClockState{Running: running}
}

// State returns a copy of the counters.
func (c *FixedStepClock) State() ClockState {
	return c.state
}

// Frame processes one scheduled wake at wall time now: the clamped frame
// delta is banked and drained in fixed steps up to the per-frame cap.
func (c *FixedStepClock) Frame(now time.Time) FrameResult {
	var res FrameResult
	if !c.state.Running {
		return res
	}
	if c.state.LastWallTime.IsZero() {
		c.state.LastWallTime = now
		return res
	}

	frame := now.Sub(c.state.LastWallTime)
	if frame < 0 {
		frame = 0
	}
	if frame > c.cfg.MaxFrameTime {
		frame = c.cfg.MaxFrameTime
		res.Clamped = true
		c.state.ClampedFrames++
	}
	c.state.LastWallTime = now
	c.state.FrameCount++
	c.state.Accumulator += frame
	res.FrameTime = frame

	for c.state.Accumulator >= c.cfg.StepInterval && res.Steps < c.cfg.MaxStepsPerFrame {
		c.runStep(c.cfg.StepInterval)
		c.state.Accumulator -= c.cfg.StepInterval
		res.Steps++
	}
	if c.state.Accumulator >= c.cfg.StepInterval {
		res.Dropped = c.state.Accumulator
		c.state.DroppedTime += c.state.Accumulator
		c.state.Accumulator = 0
	}
	return res
}

// Step runs one manual step of dt, bypassing the wall clock.
func (c *FixedStepClock) Step(dt time.Duration) {
	if dt <= 0 {
		return
	}
	c.runStep(dt)
}

// Advance runs n manual steps of dt.
func (c *FixedStepClock) Advance(n int, dt time.Duration) {
	for i := 0; i < n; i++ {
		c.Step(dt)
	}
}

func (c *FixedStepClock) runStep(dt time.Duration) {
	if c.step != nil {
		c.step(dt)
	}
	c.state.StepCount++
}
