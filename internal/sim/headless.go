package sim

import (
	"context"
	"fmt"
	"time"

	"github.com/signalsfoundry/idle-engine/internal/config"
	"github.com/signalsfoundry/idle-engine/internal/protocol"
	"github.com/signalsfoundry/idle-engine/timectrl"
)

// HeadlessRun describes a host-free determinism run.
type HeadlessRun struct {
	Seed     uint32
	Land     string
	Ward     string
	Duration time.Duration
	Step     time.Duration
	// Commands are dispatched when simulation time first reaches At.
	Commands []ScheduledCommand
}

// ScheduledCommand is a host message replayed at a simulation time.
type ScheduledCommand struct {
	At  time.Duration
	Msg protocol.HostMessage
}

// HeadlessResult is the outcome of RunHeadless.
type HeadlessResult struct {
	Snapshots int
	Hash      uint64
	Steps     uint64
	Now       int64
	Encoded   []byte
	Kills     uint64
	Retreats  uint64
}

// RunHeadless boots a fresh simulation with seed, starts it in land/ward and
// steps it manually in fixed increments of step until duration of simulated
// time has passed. Two calls with the same arguments return identical
// results.
func RunHeadless(cfg *config.Config, content *config.Content, run HeadlessRun, opts ...Option) (HeadlessResult, error) {
	if run.Step <= 0 {
		return HeadlessResult{}, fmt.Errorf("%w: step must be positive", config.ErrInvalidConfig)
	}
	if cfg == nil {
		cfg = config.Defaults()
	}
	c := *cfg
	c.Snapshot.Enabled = true

	wall := timectrl.NewManualClock(time.Unix(0, 0).UTC())
	opts = append([]Option{WithWallClock(wall)}, opts...)
	s, err := New(&c, content, opts...)
	if err != nil {
		return HeadlessResult{}, err
	}

	ctx := context.Background()
	if err := s.Dispatch(ctx, protocol.Boot{Seed: float64(run.Seed), Build: s.BuildID()}); err != nil {
		return HeadlessResult{}, fmt.Errorf("boot: %w", err)
	}
	if err := s.Dispatch(ctx, protocol.Start{Land: run.Land, Ward: run.Ward}); err != nil {
		return HeadlessResult{}, fmt.Errorf("start: %w", err)
	}
	// The manual path drives the clock directly; the scheduled drivers stay idle.
	s.drivers.Stop()

	next := 0
	var elapsed time.Duration
	for elapsed+run.Step <= run.Duration {
		for next < len(run.Commands) && run.Commands[next].At <= elapsed {
			_ = s.Dispatch(ctx, run.Commands[next].Msg)
			next++
		}
		s.clock.Step(run.Step)
		wall.Advance(run.Step)
		elapsed += run.Step
		if s.phase != phaseRunning {
			break
		}
	}
	s.publish()

	return HeadlessResult{
		Snapshots: s.snapshots.Len(),
		Hash:      s.snapshots.Hash(),
		Steps:     s.steps,
		Now:       s.now,
		Encoded:   s.snapshots.Encoded(),
		Kills:     s.kills,
		Retreats:  s.retreats,
	}, nil
}
