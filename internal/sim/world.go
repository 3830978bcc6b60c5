package sim

import (
	"context"
	"time"

	"github.com/signalsfoundry/idle-engine/internal/ai"
	"github.com/signalsfoundry/idle-engine/internal/entity"
	"github.com/signalsfoundry/idle-engine/internal/logging"
	"github.com/signalsfoundry/idle-engine/internal/protocol"
	"github.com/signalsfoundry/idle-engine/internal/rng"
	"github.com/signalsfoundry/idle-engine/internal/snapshot"
	"github.com/signalsfoundry/idle-engine/timectrl"
)

// foregroundStep is the fixed-step clock callback.
func (s *Simulation) foregroundStep(dt time.Duration) {
	s.advance(dt)
}

// backgroundStep is the background driver callback; the driver reports once
// per tick so periodic ticks are suppressed.
func (s *Simulation) backgroundStep(dt time.Duration) {
	s.batching = true
	s.advance(dt)
	s.batching = false
}

func (s *Simulation) backgroundReport(timectrl.TickReport) {
	s.emitTick()
}

// advance moves the world forward by dt. Deltas larger than the offline chunk
// are split so no single world step covers more than one chunk.
func (s *Simulation) advance(dt time.Duration) {
	if s.phase != phaseRunning || dt <= 0 {
		return
	}
	chunk := s.cfg.Validation.OfflineChunk
	for dt > 0 {
		d := min(dt, chunk)
		s.stepWorld(d)
		dt -= d
		if s.phase != phaseRunning {
			return
		}
	}
}

// stepWorld runs one world step. The order of the phases is fixed.
func (s *Simulation) stepWorld(dt time.Duration) {
	start := time.Now()
	ctx := context.Background()

	prev := s.now
	s.elapsed += dt
	s.now = s.elapsed.Milliseconds()
	dtMs := s.now - prev
	s.steps++

	s.spawn(ctx, dtMs)

	env := ai.Env{Now: s.now, Target: s.hero, Projectiles: s.projectiles}
	s.manager.Update(ctx, env, dtMs)

	s.projectiles.advance(dtMs, s.hero)
	s.heroStep(dtMs)

	if !s.engaged() {
		s.hero.walk(dtMs)
	}
	s.reapDead()

	if !s.hero.Alive() {
		s.retreat(ctx)
	}

	s.fps.add(s.now, 1)
	s.snapshots.Sample(s.now, snapshot.Counters{
		Enemies:     s.pool.Active(),
		Projectiles: s.projectiles.count(),
		FPS:         int(s.fps.sum(s.now)),
	})

	if !s.batching && s.now-s.lastReport >= s.cfg.Clock.ReportInterval.Milliseconds() {
		s.emitTick()
	}

	d := time.Since(start)
	s.perf.observe(d)
	if s.metrics != nil {
		s.metrics.ObserveStep(d)
	}
}

// spawn runs the ward's spawn timer. A full pool defers the spawn to a later
// step.
func (s *Simulation) spawn(ctx context.Context, dtMs int64) {
	sp := s.spawner
	if sp == nil || len(sp.families) == 0 {
		return
	}
	sp.bank(dtMs)
	interval := SpawnIntervalMs(sp.ward, s.hero.Distance)
	r := s.streams.Get(rng.StreamSpawn)
	for sp.acc >= interval {
		if s.manager.Len() >= sp.ward.MaxAlive {
			sp.acc = interval
			return
		}
		family := sp.pick(r)
		e := s.pool.Allocate(entity.SpawnParams{
			Family:        family.ID,
			HP:            family.HP,
			Speed:         family.EffectiveSpeed(),
			ContactDamage: family.ContactDamage,
			Position:      sp.position(r),
			SpawnTime:     s.now,
			SpawnDistance: s.hero.Distance,
			WardID:        sp.ward.ID,
			LandID:        sp.land.ID,
		})
		if e == nil {
			sp.deferred++
			sp.acc = interval
			if s.metrics != nil {
				s.metrics.AddPoolFailures(1)
			}
			return
		}
		c := ai.NewController(e, family, s.now, s.streams.Get(rng.StreamAI))
		if err := s.manager.Register(c); err != nil {
			s.log.Error(ctx, "register spawned enemy", logging.Uint64("enemy_id", e.ID), logging.Err(err))
			s.pool.Deallocate(e)
			return
		}
		sp.acc -= interval
		sp.spawned++
	}
}

// heroStep regenerates, expires timed effects and swings at the nearest live
// enemy in range on the hero's attack interval.
func (s *Simulation) heroStep(dtMs int64) {
	h := s.hero
	if !h.Alive() {
		return
	}
	h.regen(dtMs)
	h.expireEffects(s.now)

	interval := h.attackInterval()
	h.attackAcc = min(h.attackAcc+dtMs, interval)
	if h.attackAcc < interval {
		return
	}
	target := s.nearestEnemy(h.cfg.Range)
	if target == nil {
		return
	}
	h.attackAcc = 0

	dmg := h.damage()
	if h.cfg.CritChance > 0 && s.streams.Get(rng.StreamCombat).Chance(h.cfg.CritChance) {
		dmg = float64(dmg * h.cfg.CritMultiplier)
	}
	s.hit(target, dmg)
}

// nearestEnemy returns the closest living enemy within reach. Ties go to the
// earlier registered enemy.
func (s *Simulation) nearestEnemy(reach float64) *ai.Controller {
	var best *ai.Controller
	bestDist := reach
	origin := s.hero.Position()
	s.manager.Each(func(c *ai.Controller) {
		e := c.Enemy()
		if !e.Alive() || c.State() == entity.StateDeath {
			return
		}
		if d := entity.Dist(origin, e.Position); d <= bestDist && (best == nil || d < bestDist) {
			best = c
			bestDist = d
		}
	})
	return best
}

func (s *Simulation) hit(c *ai.Controller, dmg float64) {
	e := c.Enemy()
	dealt := min(dmg, e.HP)
	e.HP -= dmg
	s.dps.add(s.now, dealt)
	if e.HP <= 0 {
		c.Die(s.now)
	}
}

// liveWithin collects living enemies within radius of origin in update
// order. The returned slice is reused by the next call.
func (s *Simulation) liveWithin(origin entity.Vec2, radius float64) []*ai.Controller {
	s.targets = s.targets[:0]
	s.manager.Each(func(c *ai.Controller) {
		e := c.Enemy()
		if c.State() != entity.StateDeath && e.Alive() && entity.Dist(origin, e.Position) <= radius {
			s.targets = append(s.targets, c)
		}
	})
	return s.targets
}

// engaged reports whether any living enemy is holding the hero in place.
func (s *Simulation) engaged() bool {
	engaged := false
	s.manager.Each(func(c *ai.Controller) {
		if engaged || !c.Enemy().Alive() {
			return
		}
		if st := c.State(); st == entity.StateStop || st == entity.StateAttack {
			engaged = true
		}
	})
	return engaged
}

// reapDead deallocates enemies that have lingered in Death long enough.
func (s *Simulation) reapDead() {
	linger := s.cfg.AI.DeathLinger.Milliseconds()
	s.reap = s.reap[:0]
	s.manager.Each(func(c *ai.Controller) {
		if c.State() == entity.StateDeath && s.now-c.Data().StateEntryTime >= linger {
			s.reap = append(s.reap, c.ID())
		}
	})
	for _, id := range s.reap {
		c, ok := s.manager.Get(id)
		if !ok {
			continue
		}
		s.pool.Deallocate(c.Enemy())
		s.manager.Unregister(id)
		s.kills++
	}
}

// clearWorld removes every enemy and projectile.
func (s *Simulation) clearWorld() {
	s.manager.Each(func(c *ai.Controller) {
		s.pool.Deallocate(c.Enemy())
	})
	s.manager.Clear()
	s.projectiles.clear()
	if s.spawner != nil {
		s.spawner.reset()
	}
}

// retreat handles hero death: the ward restarts from its base distance.
func (s *Simulation) retreat(ctx context.Context) {
	s.retreats++
	s.clearWorld()
	if s.spawner != nil {
		s.hero.Distance = s.spawner.ward.BaseDistance
	}
	s.hero.revive()
	s.hostLog(ctx, protocol.LevelWarn, "hero fell; retreating to the start of the ward")
}

func (s *Simulation) emitTick() {
	s.lastReport = s.now
	s.emit(protocol.Tick{
		Now:      s.now,
		Stats:    s.currentStats(),
		Distance: s.hero.Distance,
		HeroHP:   s.hero.HP,
	})
}

// hostLog sends a Log to the host and mirrors it to the process log.
func (s *Simulation) hostLog(ctx context.Context, level protocol.LogLevel, msg string) {
	fields := []logging.Field{logging.Int64("sim_now", s.now), logging.String("host_level", string(level))}
	switch level {
	case protocol.LevelDebug:
		s.log.Debug(ctx, msg, fields...)
	case protocol.LevelWarn:
		s.log.Warn(ctx, msg, fields...)
	case protocol.LevelError:
		s.log.Error(ctx, msg, fields...)
	default:
		s.log.Info(ctx, msg, fields...)
	}
	s.emit(protocol.Log{Level: level, Message: msg})
}
