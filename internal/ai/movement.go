package ai

import "github.com/signalsfoundry/idle-engine/internal/entity"

// Movement moves one enemy toward its target while approaching.
type Movement struct {
	Speed     float64 // units per second
	StopRange float64
	Travelled float64
}

func newMovement(f FamilyConfig) Movement {
	return Movement{Speed: f.EffectiveSpeed(), StopRange: f.AttackRange}
}

// Approach sets the enemy's velocity toward target and advances it by
// elapsedMs, never closer than the stop range.
func (m *Movement) Approach(e *entity.SpawnedEnemy, target entity.Vec2, elapsedMs int64) {
	delta := target.Sub(e.Position)
	dist := delta.Len()
	dir := delta.Normalize()
	e.Velocity = dir.Scale(m.Speed)

	step := float64(m.Speed*float64(elapsedMs)) / 1000
	if room := dist - m.StopRange; step > room {
		step = room
	}
	if step <= 0 {
		return
	}
	e.Position = e.Position.Add(dir.Scale(step))
	m.Travelled += step
}

// Halt zeroes the enemy's velocity.
func (m *Movement) Halt(e *entity.SpawnedEnemy) {
	e.Velocity = entity.Vec2{}
}
