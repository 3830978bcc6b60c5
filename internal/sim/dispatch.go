package sim

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/signalsfoundry/idle-engine/internal/config"
	"github.com/signalsfoundry/idle-engine/internal/logging"
	"github.com/signalsfoundry/idle-engine/internal/observability"
	"github.com/signalsfoundry/idle-engine/internal/protocol"
	"github.com/signalsfoundry/idle-engine/internal/rng"
	"github.com/signalsfoundry/idle-engine/internal/validation"
	"github.com/signalsfoundry/idle-engine/timectrl"
)

// Dispatch validates and handles one host message synchronously. Rejections
// are logged, reported to the host and returned; a rejected Boot halts the
// session.
func (s *Simulation) Dispatch(ctx context.Context, msg protocol.HostMessage) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if msg == nil {
		return fmt.Errorf("%w: nil message", validation.ErrUnknownMessage)
	}
	kind := string(msg.Kind())
	ctx, span := observability.StartSpan(ctx, "sim.Dispatch",
		attribute.String("sim.message.kind", kind),
		attribute.Int64("sim.now_ms", s.now),
	)
	defer span.End()

	err := s.dispatch(ctx, msg)
	result := "ok"
	if err != nil {
		result = "rejected"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if s.metrics != nil {
		s.metrics.ObserveMessage(kind, result)
	}
	s.publish()
	return err
}

func (s *Simulation) dispatch(ctx context.Context, msg protocol.HostMessage) error {
	if s.phase == phaseHalted {
		return fmt.Errorf("%w: %s", ErrHalted, s.haltReason)
	}
	if err := s.validator.Validate(msg); err != nil {
		if validation.IsFatal(err) {
			s.halt(ctx, err.Error())
			return err
		}
		s.hostLog(ctx, protocol.LevelWarn, fmt.Sprintf("rejected %s: %v", msg.Kind(), err))
		return err
	}

	switch m := msg.(type) {
	case protocol.Boot:
		s.boot(ctx, m)
	case protocol.Start:
		return s.start(ctx, m)
	case protocol.Stop:
		s.stop(ctx)
	case protocol.Ability:
		return s.ability(ctx, m)
	case protocol.Offline:
		return s.offline(ctx, m)
	case protocol.Visibility:
		s.visibility(ctx, m)
	default:
		return fmt.Errorf("%w: %T", validation.ErrUnknownMessage, msg)
	}
	return nil
}

// boot (re)initialises every world component from the seed.
func (s *Simulation) boot(ctx context.Context, m protocol.Boot) {
	s.drivers.Stop()
	s.clearWorld()
	s.seed = m.Seed32()
	s.streams = rng.NewRegistry(s.seed)
	s.elapsed = 0
	s.now = 0
	s.steps = 0
	s.kills = 0
	s.retreats = 0
	s.lastReport = 0
	s.fps.reset()
	s.dps.reset()
	s.clock.Reset()
	s.pool.Reset()
	s.spawner = nil
	s.hero = newHero(s.content.Hero)
	s.snapshots.Stop()
	s.snapshots.Clear()
	s.setPhase(phaseReady)

	s.log.Info(ctx, "simulation booted",
		logging.Uint64("seed", uint64(s.seed)),
		logging.String("build", m.Build),
	)
	s.emit(protocol.Ready{})
}

func (s *Simulation) start(ctx context.Context, m protocol.Start) error {
	land, ward, ok := s.content.Ward(m.Land, m.Ward)
	if !ok {
		return fmt.Errorf("%w: %s/%s", validation.ErrInvalidStart, m.Land, m.Ward)
	}
	s.clearWorld()
	s.spawner = newSpawner(land, ward, s.families)
	s.hero.revive()
	s.hero.Distance = ward.BaseDistance
	s.lastReport = s.now
	if s.cfg.Snapshot.Enabled {
		s.snapshots.Start(s.now)
	}
	s.setPhase(phaseRunning)
	s.drivers.Start(s.wall.Now())

	s.log.Info(ctx, "simulation started",
		logging.String("land", land.ID),
		logging.String("ward", ward.ID),
		logging.String("mode", s.drivers.Mode().String()),
	)
	s.emitTick()
	return nil
}

func (s *Simulation) stop(ctx context.Context) {
	s.drivers.Stop()
	s.snapshots.Stop()
	if s.phase == phaseRunning {
		s.setPhase(phaseReady)
	}
	s.log.Info(ctx, "simulation stopped", logging.Int64("sim_now", s.now))
	s.emitTick()
}

func (s *Simulation) ability(ctx context.Context, m protocol.Ability) error {
	a, ok := s.content.Ability(m.ID)
	if !ok {
		return fmt.Errorf("%w: %q", validation.ErrUnknownAbility, m.ID)
	}
	switch a.Kind {
	case config.AbilityNova:
		hits := s.nova(a.Radius, a.Power)
		s.log.Debug(ctx, "nova", logging.String("ability", a.ID), logging.Int("hits", hits))
	case config.AbilityHaste:
		s.hero.haste(s.now, a.Power, a.Duration.Milliseconds())
		s.log.Debug(ctx, "haste", logging.String("ability", a.ID), logging.Duration("duration", a.Duration))
	}
	return nil
}

// nova damages every living enemy within radius of the hero.
func (s *Simulation) nova(radius, power float64) int {
	hits := 0
	origin := s.hero.Position()
	for _, c := range s.liveWithin(origin, radius) {
		s.hit(c, power)
		hits++
	}
	return hits
}

func (s *Simulation) offline(ctx context.Context, m protocol.Offline) error {
	elapsed := time.Duration(m.ElapsedMs) * time.Millisecond
	before := s.steps
	s.batching = true
	s.advance(elapsed)
	s.batching = false

	s.log.Info(ctx, "offline progress applied",
		logging.Int64("elapsed_ms", m.ElapsedMs),
		logging.Uint64("steps", s.steps-before),
	)
	s.emitTick()
	return nil
}

func (s *Simulation) visibility(ctx context.Context, m protocol.Visibility) {
	mode := timectrl.Foreground
	if m.Hidden {
		mode = timectrl.Background
	}
	if s.drivers.SetMode(mode, s.wall.Now()) {
		s.log.Debug(ctx, "driver switched", logging.String("mode", mode.String()))
	}
}

// setPhase moves the session and keeps the validator's stage in step, so
// messages the current phase cannot apply are rejected and counted before
// they reach a handler.
func (s *Simulation) setPhase(p phase) {
	s.phase = p
	switch p {
	case phaseReady:
		s.validator.SetStage(validation.StageBooted)
	case phaseRunning:
		s.validator.SetStage(validation.StageRunning)
	default:
		s.validator.SetStage(validation.StageIdle)
	}
}

// halt stops the session after a fatal rejection.
func (s *Simulation) halt(ctx context.Context, reason string) {
	s.drivers.Stop()
	s.snapshots.Stop()
	s.setPhase(phaseHalted)
	s.haltReason = reason
	s.log.Error(ctx, "simulation halted", logging.String("reason", reason))
	s.emit(protocol.Fatal{Reason: reason})
}

// Halted reports whether a fatal rejection stopped the session.
func (s *Simulation) Halted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.published.Phase == phaseHalted.String()
}
