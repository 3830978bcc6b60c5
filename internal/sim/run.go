package sim

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/signalsfoundry/idle-engine/internal/logging"
	"github.com/signalsfoundry/idle-engine/internal/protocol"
	"github.com/signalsfoundry/idle-engine/timectrl"
)

// Run owns the simulation until ctx is cancelled or the session halts. It is
// the only goroutine that mutates world state: inbound messages and driver
// wakes are serialised through one select loop.
func (s *Simulation) Run(ctx context.Context) error {
	defer s.once.Do(func() { close(s.closed) })
	defer s.drivers.Stop()

	interval := s.drivers.Interval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Info(ctx, "simulation loop started", logging.Duration("wake_interval", interval))
	for {
		select {
		case <-ctx.Done():
			s.log.Info(ctx, "simulation loop stopped", logging.Int64("sim_now", s.now))
			return ctx.Err()

		case in := <-s.inbox:
			msgCtx := in.ctx
			if msgCtx == nil {
				msgCtx = ctx
			}
			_ = s.Dispatch(msgCtx, in.msg)
			if s.phase == phaseHalted {
				return fmt.Errorf("%w: %s", ErrHalted, s.haltReason)
			}

		case <-ticker.C:
			s.wake()
		}

		if next := s.drivers.Interval(); next != interval {
			interval = next
			ticker.Reset(interval)
		}
	}
}

// wake lets the active driver consume wall time and publishes the result.
func (s *Simulation) wake() {
	if !s.drivers.Running() {
		return
	}
	before := s.clock.State()
	s.drivers.Wake(s.wall.Now())
	if s.metrics != nil && s.drivers.Mode() == timectrl.Foreground {
		after := s.clock.State()
		if after.FrameCount > before.FrameCount {
			s.metrics.ObserveFrame(after.DroppedTime - before.DroppedTime)
		}
	}
	s.publish()
}

// Post queues msg for the Run goroutine. It blocks while the inbox is full
// and fails once Run has returned.
func (s *Simulation) Post(ctx context.Context, msg protocol.HostMessage) error {
	select {
	case <-s.closed:
		return ErrHalted
	default:
	}
	select {
	case s.inbox <- inbound{ctx: ctx, msg: msg}:
		return nil
	case <-s.closed:
		return ErrHalted
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PostEnvelope decodes env and queues the host message it carries.
func (s *Simulation) PostEnvelope(ctx context.Context, env protocol.Envelope) error {
	msg, err := protocol.DecodeHost(env)
	if err != nil {
		s.log.Warn(ctx, "dropping undecodable host message",
			logging.String("kind", string(env.Kind)),
			logging.Err(err),
		)
		if s.metrics != nil {
			kind := string(env.Kind)
			if errors.Is(err, protocol.ErrUnknownKind) {
				kind = "unknown"
			}
			s.metrics.ObserveMessage(kind, "malformed")
		}
		return err
	}
	return s.Post(ctx, msg)
}

// Done is closed when Run returns.
func (s *Simulation) Done() <-chan struct{} {
	return s.closed
}
