// Package ai runs the per-enemy state machine (approach, stop, attack,
// death) and the manager that updates every live enemy under a budget.
package ai

import (
	"errors"
	"fmt"

	"github.com/signalsfoundry/idle-engine/internal/entity"
	"github.com/signalsfoundry/idle-engine/internal/rng"
)

var (
	ErrNoTarget = errors.New("no target")
	ErrInactive = errors.New("enemy inactive")
)

// Target is what enemies walk toward and attack.
type Target interface {
	Position() entity.Vec2
	Alive() bool
	TakeDamage(amount float64, source uint64)
}

// ProjectileSink receives ranged attacks. Launch returns false when the
// projectile could not be created; the attack is still spent.
type ProjectileSink interface {
	Launch(from, to entity.Vec2, speed, damage float64, source uint64) bool
}

// Env is the world view handed to an update.
type Env struct {
	Now         int64
	Target      Target
	Projectiles ProjectileSink
}

// StateData is the state machine's record for one enemy.
type StateData struct {
	State          entity.AIState
	Target         Target
	LastAttackTime int64
	StateEntryTime int64
	Config         FamilyConfig
	Transitions    uint64
}

// Controller owns the AI of a single enemy.
type Controller struct {
	enemy    *entity.SpawnedEnemy
	data     StateData
	move     Movement
	combat   Combat
	interval int64
	acc      int64
}

// NewController builds the AI for e. When r is non-nil the first think is
// offset by a random fraction of the update interval so a wave spawned on
// one tick does not think in lockstep.
func NewController(e *entity.SpawnedEnemy, family FamilyConfig, now int64, r *rng.PCG32) *Controller {
	c := &Controller{
		enemy: e,
		data: StateData{
			State:          entity.StateApproach,
			LastAttackTime: -1,
			StateEntryTime: now,
			Config:         family,
		},
		move:     newMovement(family),
		combat:   newCombat(family),
		interval: max(1, family.UpdateInterval.Milliseconds()),
	}
	if r != nil {
		c.acc = int64(r.NextBounded(uint32(c.interval)))
	}
	e.AIState = entity.StateApproach
	return c
}

// Enemy returns the controlled enemy.
func (c *Controller) Enemy() *entity.SpawnedEnemy { return c.enemy }

// ID returns the controlled enemy's id.
func (c *Controller) ID() uint64 { return c.enemy.ID }

// State returns the current state.
func (c *Controller) State() entity.AIState { return c.data.State }

// Data returns a copy of the state record.
func (c *Controller) Data() StateData { return c.data }

// Combat returns a copy of the combat state.
func (c *Controller) Combat() Combat { return c.combat }

// Movement returns a copy of the movement state.
func (c *Controller) Movement() Movement { return c.move }

// Pending returns simulated time banked but not yet thought about.
func (c *Controller) Pending() int64 { return c.acc }

// Accumulate banks dt milliseconds toward the next think.
func (c *Controller) Accumulate(dt int64) {
	if dt > 0 && c.data.State != entity.StateDeath {
		c.acc += dt
	}
}

// Update thinks once if at least one update interval is banked. The elapsed
// time handed to the think is a whole number of intervals; the remainder
// stays banked. It reports whether a think happened.
func (c *Controller) Update(env Env) (bool, error) {
	if c.data.State == entity.StateDeath {
		return false, nil
	}
	if !c.enemy.Active {
		return false, fmt.Errorf("%w: slot %d", ErrInactive, c.enemy.PoolIndex)
	}
	if c.enemy.HP <= 0 {
		c.Die(env.Now)
		return true, nil
	}
	if c.acc < c.interval {
		return false, nil
	}
	if env.Target == nil {
		return false, fmt.Errorf("%w: enemy %d", ErrNoTarget, c.enemy.ID)
	}
	elapsed := (c.acc / c.interval) * c.interval
	c.acc -= elapsed
	c.data.Target = env.Target
	c.think(env, elapsed)
	return true, nil
}

// Die moves the enemy to Death. Death is terminal.
func (c *Controller) Die(now int64) {
	if c.data.State == entity.StateDeath {
		return
	}
	c.combat.Cancel()
	c.move.Halt(c.enemy)
	c.transition(entity.StateDeath, now)
	c.acc = 0
}

func (c *Controller) think(env Env, elapsed int64) {
	e := c.enemy
	c.combat.Tick(elapsed)

	if !env.Target.Alive() {
		c.combat.Cancel()
		c.move.Halt(e)
		return
	}

	reach := c.data.Config.AttackRange
	dist := entity.Dist(e.Position, env.Target.Position())

	switch c.data.State {
	case entity.StateApproach:
		if dist <= reach {
			c.move.Halt(e)
			c.transition(entity.StateStop, env.Now)
			return
		}
		c.move.Approach(e, env.Target.Position(), elapsed)

	case entity.StateStop:
		c.move.Halt(e)
		if dist > reach*HysteresisFactor {
			c.transition(entity.StateApproach, env.Now)
			return
		}
		if c.combat.Ready() {
			c.transition(entity.StateAttack, env.Now)
		}

	case entity.StateAttack:
		c.move.Halt(e)
		if dist > reach*HysteresisFactor {
			c.combat.Cancel()
			c.transition(entity.StateApproach, env.Now)
			return
		}
		if c.combat.Ready() {
			c.combat.Begin()
		}
		if c.combat.Landed() {
			c.strike(env)
		}
	}
}

func (c *Controller) strike(env Env) {
	e := c.enemy
	if c.combat.Ranged {
		if env.Projectiles != nil {
			env.Projectiles.Launch(e.Position, env.Target.Position(), c.combat.ProjectileSpeed, c.combat.Damage, e.ID)
		}
	} else {
		env.Target.TakeDamage(c.combat.Damage, e.ID)
	}
	c.combat.Finish()
	c.data.LastAttackTime = env.Now
}

func (c *Controller) transition(to entity.AIState, now int64) {
	if c.data.State == entity.StateDeath || c.data.State == to {
		return
	}
	c.data.State = to
	c.data.StateEntryTime = now
	c.data.Transitions++
	c.enemy.AIState = to
}
