package timectrl

import (
	"testing"
	"time"
)

var epoch = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

func TestManualClockSetTime(t *testing.T) {
	mc := NewManualClock(epoch)

	newNow := epoch.Add(42 * time.Second)
	mc.SetTime(newNow)
	if got := mc.Now(); !got.Equal(newNow) {
		t.Fatalf("Now() = %v, want %v", got, newNow)
	}
	if got := mc.Advance(time.Second); !got.Equal(newNow.Add(time.Second)) {
		t.Fatalf("Advance() = %v, want %v", got, newNow.Add(time.Second))
	}
}

func TestFixedStepClockSixtyHzFrames(t *testing.T) {
	var steps []time.Duration
	c := NewFixedStepClock(ClockConfig{}, func(dt time.Duration) { steps = append(steps, dt) })
	mc := NewManualClock(epoch)
	c.Start(mc.Now())

	// 16ms step at 60Hz frames: one step per frame.
	for i := 0; i < 60; i++ {
		c.Frame(mc.Advance(16 * time.Millisecond))
	}
	if len(steps) != 60 {
		t.Fatalf("steps = %d, want 60", len(steps))
	}
	for i, dt := range steps {
		if dt != DefaultStepInterval {
			t.Fatalf("step %d dt = %v, want %v", i, dt, DefaultStepInterval)
		}
	}
}

func TestFixedStepClockAccumulatorConservation(t *testing.T) {
	c := NewFixedStepClock(ClockConfig{}, nil)
	mc := NewManualClock(epoch)
	c.Start(mc.Now())

	frames := []time.Duration{7, 13, 16, 33, 1, 40, 24, 9, 17, 50, 3, 31}
	var total time.Duration
	for round := 0; round < 20; round++ {
		for _, ms := range frames {
			d := ms * time.Millisecond
			total += d
			if r := c.Frame(mc.Advance(d)); r.Dropped != 0 || r.Clamped {
				t.Fatalf("frame %v dropped %v clamped %v", d, r.Dropped, r.Clamped)
			}
			st := c.State()
			simulated := time.Duration(st.StepCount) * DefaultStepInterval
			if simulated > total || total >= simulated+DefaultStepInterval {
				t.Fatalf("after %v wall: %d steps (%v simulated), accumulator %v", total, st.StepCount, simulated, st.Accumulator)
			}
			if simulated+st.Accumulator != total {
				t.Fatalf("steps+accumulator = %v, want %v", simulated+st.Accumulator, total)
			}
		}
	}
}

func TestFixedStepClockClampsLongFrames(t *testing.T) {
	c := NewFixedStepClock(ClockConfig{}, nil)
	mc := NewManualClock(epoch)
	c.Start(mc.Now())

	r := c.Frame(mc.Advance(2 * time.Second))
	if !r.Clamped {
		t.Fatal("2s frame was not clamped")
	}
	if r.FrameTime != DefaultMaxFrameTime {
		t.Fatalf("FrameTime = %v, want %v", r.FrameTime, DefaultMaxFrameTime)
	}
	if r.Steps != DefaultMaxStepsPerFrame {
		t.Fatalf("Steps = %d, want %d", r.Steps, DefaultMaxStepsPerFrame)
	}
	// 250ms - 8*16ms = 122ms left, which exceeds one step and is dropped.
	if r.Dropped != 122*time.Millisecond {
		t.Fatalf("Dropped = %v, want 122ms", r.Dropped)
	}
	st := c.State()
	if st.Accumulator != 0 {
		t.Fatalf("Accumulator = %v, want 0", st.Accumulator)
	}
	if st.ClampedFrames != 1 || st.DroppedTime != 122*time.Millisecond {
		t.Fatalf("State() = %+v", st)
	}
}

func TestFixedStepClockStepCapKeepsRemainder(t *testing.T) {
	c := NewFixedStepClock(ClockConfig{StepInterval: 10 * time.Millisecond, MaxStepsPerFrame: 3}, nil)
	mc := NewManualClock(epoch)
	c.Start(mc.Now())

	tests := []struct {
		frame       time.Duration
		wantSteps   int
		wantDropped time.Duration
		wantAcc     time.Duration
	}{
		{frame: 25 * time.Millisecond, wantSteps: 2, wantAcc: 5 * time.Millisecond},
		{frame: 34 * time.Millisecond, wantSteps: 3, wantAcc: 9 * time.Millisecond},
		{frame: 45 * time.Millisecond, wantSteps: 3, wantDropped: 24 * time.Millisecond},
	}
	for _, tc := range tests {
		r := c.Frame(mc.Advance(tc.frame))
		if r.Steps != tc.wantSteps || r.Dropped != tc.wantDropped {
			t.Fatalf("Frame(+%v) = %+v, want steps %d dropped %v", tc.frame, r, tc.wantSteps, tc.wantDropped)
		}
		if got := c.State().Accumulator; got != tc.wantAcc {
			t.Fatalf("Accumulator after +%v = %v, want %v", tc.frame, got, tc.wantAcc)
		}
	}
}

func TestFixedStepClockStoppedIgnoresFrames(t *testing.T) {
	calls := 0
	c := NewFixedStepClock(ClockConfig{}, func(time.Duration) { calls++ })
	mc := NewManualClock(epoch)
	c.Frame(mc.Advance(time.Second))
	if calls != 0 {
		t.Fatalf("stopped clock stepped %d times", calls)
	}

	c.Start(mc.Now())
	c.Frame(mc.Advance(32 * time.Millisecond))
	c.Stop()
	c.Frame(mc.Advance(32 * time.Millisecond))
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestFixedStepClockManualMatchesScheduled(t *testing.T) {
	var scheduled, manual []time.Duration
	sc := NewFixedStepClock(ClockConfig{}, func(dt time.Duration) { scheduled = append(scheduled, dt) })
	mc := NewManualClock(epoch)
	sc.Start(mc.Now())
	for i := 0; i < 100; i++ {
		sc.Frame(mc.Advance(16 * time.Millisecond))
	}

	m := NewFixedStepClock(ClockConfig{}, func(dt time.Duration) { manual = append(manual, dt) })
	m.Advance(100, 16*time.Millisecond)

	if len(scheduled) != len(manual) {
		t.Fatalf("scheduled %d steps, manual %d", len(scheduled), len(manual))
	}
	for i := range manual {
		if scheduled[i] != manual[i] {
			t.Fatalf("step %d: scheduled %v, manual %v", i, scheduled[i], manual[i])
		}
	}
	if m.State().StepCount != 100 {
		t.Fatalf("StepCount = %d, want 100", m.State().StepCount)
	}
}

func TestFixedStepClockReset(t *testing.T) {
	c := NewFixedStepClock(ClockConfig{}, nil)
	mc := NewManualClock(epoch)
	c.Start(mc.Now())
	c.Frame(mc.Advance(40 * time.Millisecond))
	c.Reset()

	st := c.State()
	if !st.Running || st.StepCount != 0 || st.FrameCount != 0 || st.Accumulator != 0 {
		t.Fatalf("State() after Reset = %+v", st)
	}
	// The first frame after a reset only re-establishes the baseline.
	if r := c.Frame(mc.Advance(time.Hour)); r.Steps != 0 {
		t.Fatalf("first frame after Reset took %d steps", r.Steps)
	}
}

func TestBackgroundDriverUsesElapsedTime(t *testing.T) {
	var steps []time.Duration
	var reports []TickReport
	b := NewBackgroundDriver(BackgroundConfig{}, func(dt time.Duration) { steps = append(steps, dt) },
		func(r TickReport) { reports = append(reports, r) })
	if b.Interval() != DefaultBackgroundInterval {
		t.Fatalf("Interval() = %v, want %v", b.Interval(), DefaultBackgroundInterval)
	}

	mc := NewManualClock(epoch)
	b.Start(mc.Now())
	b.Tick(mc.Advance(500 * time.Millisecond))
	b.Tick(mc.Advance(730 * time.Millisecond))
	if b.Tick(mc.Now()) {
		t.Fatal("Tick with zero elapsed reported progress")
	}

	want := []time.Duration{500 * time.Millisecond, 730 * time.Millisecond}
	if len(steps) != len(want) {
		t.Fatalf("steps = %v, want %v", steps, want)
	}
	for i := range want {
		if steps[i] != want[i] {
			t.Fatalf("steps[%d] = %v, want %v", i, steps[i], want[i])
		}
	}
	if len(reports) != 2 || reports[1].Tick != 2 || reports[1].Elapsed != want[1] {
		t.Fatalf("reports = %+v", reports)
	}
	if b.TotalElapsed() != 1230*time.Millisecond {
		t.Fatalf("TotalElapsed() = %v", b.TotalElapsed())
	}
}

func TestDriversModeSwitch(t *testing.T) {
	var fgSteps, bgSteps int
	fg := NewFixedStepClock(ClockConfig{}, func(time.Duration) { fgSteps++ })
	bg := NewBackgroundDriver(BackgroundConfig{}, func(time.Duration) { bgSteps++ }, nil)
	d := NewDrivers(fg, bg, 0)
	mc := NewManualClock(epoch)

	d.Start(mc.Now())
	if !fg.Running() || bg.Running() {
		t.Fatal("foreground should be the only running driver after Start")
	}
	if d.Interval() != DefaultFrameInterval {
		t.Fatalf("Interval() = %v, want %v", d.Interval(), DefaultFrameInterval)
	}
	d.Wake(mc.Advance(16 * time.Millisecond))

	if !d.SetMode(Background, mc.Now()) {
		t.Fatal("SetMode(Background) reported no change")
	}
	if fg.Running() || !bg.Running() {
		t.Fatal("background should be the only running driver")
	}
	if d.SetMode(Background, mc.Now()) {
		t.Fatal("repeated SetMode(Background) reported a change")
	}
	if d.Switches() != 1 {
		t.Fatalf("Switches() = %d, want 1", d.Switches())
	}
	if d.Interval() != DefaultBackgroundInterval {
		t.Fatalf("Interval() = %v, want %v", d.Interval(), DefaultBackgroundInterval)
	}
	d.Wake(mc.Advance(500 * time.Millisecond))

	d.SetMode(Foreground, mc.Now())
	if !fg.Running() || bg.Running() {
		t.Fatal("foreground should be the only running driver after switching back")
	}
	d.Wake(mc.Advance(16 * time.Millisecond))

	if fgSteps != 2 || bgSteps != 1 {
		t.Fatalf("fgSteps=%d bgSteps=%d, want 2 and 1", fgSteps, bgSteps)
	}

	d.Stop()
	if fg.Running() || bg.Running() || d.Wake(mc.Advance(time.Second)) != 0 {
		t.Fatal("drivers still active after Stop")
	}
}

func TestDriversSetModeWhileStopped(t *testing.T) {
	fg := NewFixedStepClock(ClockConfig{}, nil)
	bg := NewBackgroundDriver(BackgroundConfig{}, nil, nil)
	d := NewDrivers(fg, bg, 0)

	d.SetMode(Background, epoch)
	if fg.Running() || bg.Running() {
		t.Fatal("SetMode started a driver while stopped")
	}
	d.Start(epoch)
	if !bg.Running() {
		t.Fatal("Start did not honour the selected mode")
	}
}
