package sim

import (
	"github.com/signalsfoundry/idle-engine/internal/config"
	"github.com/signalsfoundry/idle-engine/internal/entity"
)

// Hero is the player character. It stands at the origin of the combat plane;
// progress through a ward is tracked as walked distance.
type Hero struct {
	cfg config.Hero

	HP       float64
	Distance float64

	attackAcc  int64
	hasteUntil int64
	hasteMult  float64

	damageTaken float64
	lastHitBy   uint64
}

func newHero(cfg config.Hero) *Hero {
	h := &Hero{cfg: cfg}
	h.revive()
	return h
}

// Position implements ai.Target.
func (h *Hero) Position() entity.Vec2 { return entity.Vec2{} }

// Alive implements ai.Target.
func (h *Hero) Alive() bool { return h.HP > 0 }

// TakeDamage implements ai.Target.
func (h *Hero) TakeDamage(amount float64, source uint64) {
	if amount <= 0 || h.HP <= 0 {
		return
	}
	h.HP -= amount
	h.damageTaken += amount
	h.lastHitBy = source
}

func (h *Hero) revive() {
	h.HP = h.cfg.MaxHP
	h.attackAcc = h.attackInterval()
	h.hasteUntil = 0
	h.hasteMult = 1
}

func (h *Hero) attackInterval() int64 {
	return max(1, h.cfg.AttackInterval.Milliseconds())
}

func (h *Hero) regen(dtMs int64) {
	if h.HP <= 0 || h.cfg.RegenPerSecond <= 0 {
		return
	}
	h.HP = min(h.cfg.MaxHP, h.HP+float64(h.cfg.RegenPerSecond*float64(dtMs)/1000))
}

func (h *Hero) haste(now int64, mult float64, durationMs int64) {
	h.hasteMult = mult
	h.hasteUntil = now + durationMs
}

func (h *Hero) expireEffects(now int64) {
	if h.hasteUntil > 0 && now >= h.hasteUntil {
		h.hasteUntil = 0
		h.hasteMult = 1
	}
}

// damage returns the base hit before crits.
func (h *Hero) damage() float64 {
	return float64(h.cfg.Damage * h.hasteMult)
}

func (h *Hero) walk(dtMs int64) {
	h.Distance += float64(h.cfg.WalkSpeed * float64(dtMs) / 1000)
}
