package sim

import (
	"github.com/signalsfoundry/idle-engine/internal/ai"
	"github.com/signalsfoundry/idle-engine/internal/entity"
)

const defaultMaxProjectiles = 512

type projectile struct {
	pos    entity.Vec2
	target entity.Vec2
	speed  float64
	damage float64
	source uint64
	active bool
}

// projectiles is a fixed-capacity store of in-flight enemy projectiles. Freed
// slots are reused so steady state does not allocate.
type projectiles struct {
	slots  []projectile
	free   []int
	active int
	limit  int

	launched uint64
	dropped  uint64
}

func newProjectiles(limit int) *projectiles {
	if limit <= 0 {
		limit = defaultMaxProjectiles
	}
	return &projectiles{limit: limit}
}

var _ ai.ProjectileSink = (*projectiles)(nil)

// Launch implements ai.ProjectileSink.
func (p *projectiles) Launch(from, to entity.Vec2, speed, damage float64, source uint64) bool {
	if speed <= 0 {
		p.dropped++
		return false
	}
	var idx int
	switch {
	case len(p.free) > 0:
		idx = p.free[len(p.free)-1]
		p.free = p.free[:len(p.free)-1]
	case len(p.slots) < p.limit:
		p.slots = append(p.slots, projectile{})
		idx = len(p.slots) - 1
	default:
		p.dropped++
		return false
	}
	p.slots[idx] = projectile{pos: from, target: to, speed: speed, damage: damage, source: source, active: true}
	p.active++
	p.launched++
	return true
}

// advance moves every projectile toward its target; arrivals hit target.
func (p *projectiles) advance(dtMs int64, target ai.Target) {
	if p.active == 0 {
		return
	}
	for i := range p.slots {
		pr := &p.slots[i]
		if !pr.active {
			continue
		}
		travel := float64(pr.speed * float64(dtMs) / 1000)
		dist := entity.Dist(pr.pos, pr.target)
		if dist > travel {
			pr.pos = pr.pos.Add(pr.target.Sub(pr.pos).Normalize().Scale(travel))
			continue
		}
		if target != nil && target.Alive() {
			target.TakeDamage(pr.damage, pr.source)
		}
		p.release(i)
	}
}

func (p *projectiles) release(i int) {
	p.slots[i] = projectile{}
	p.free = append(p.free, i)
	p.active--
}

func (p *projectiles) clear() {
	for i := range p.slots {
		if p.slots[i].active {
			p.release(i)
		}
	}
}

func (p *projectiles) count() int {
	return p.active
}
