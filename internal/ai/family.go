package ai

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidFamily reports an unusable family definition.
var ErrInvalidFamily = errors.New("invalid family")

// HysteresisFactor widens the attack range for leaving Stop/Attack so an
// enemy sitting on the boundary does not flap between states.
const HysteresisFactor = 1.2

// FamilyConfig is the data that distinguishes one enemy family from another.
// Behaviour differences are expressed here rather than in code.
type FamilyConfig struct {
	ID              int           `yaml:"id"`
	Name            string        `yaml:"name"`
	HP              float64       `yaml:"hp"`
	Speed           float64       `yaml:"speed"`
	SpeedMultiplier float64       `yaml:"speed_multiplier"`
	AttackRange     float64       `yaml:"attack_range"`
	AttackDamage    float64       `yaml:"attack_damage"`
	AttackCooldown  time.Duration `yaml:"attack_cooldown"`
	AttackWindup    time.Duration `yaml:"attack_windup"`
	UpdateInterval  time.Duration `yaml:"update_interval"`
	Ranged          bool          `yaml:"ranged"`
	ProjectileSpeed float64       `yaml:"projectile_speed"`
	ContactDamage   float64       `yaml:"contact_damage"`
	SpawnWeight     int           `yaml:"spawn_weight"`
}

// Validate checks the fields the state machine depends on.
func (f FamilyConfig) Validate() error {
	switch {
	case f.HP <= 0:
		return fmt.Errorf("%w: family %d hp must be positive", ErrInvalidFamily, f.ID)
	case f.Speed < 0 || f.SpeedMultiplier < 0:
		return fmt.Errorf("%w: family %d speed must not be negative", ErrInvalidFamily, f.ID)
	case f.AttackRange <= 0:
		return fmt.Errorf("%w: family %d attack_range must be positive", ErrInvalidFamily, f.ID)
	case f.AttackCooldown <= 0:
		return fmt.Errorf("%w: family %d attack_cooldown must be positive", ErrInvalidFamily, f.ID)
	case f.AttackWindup < 0 || f.AttackWindup > f.AttackCooldown:
		return fmt.Errorf("%w: family %d attack_windup must be within the cooldown", ErrInvalidFamily, f.ID)
	case f.UpdateInterval <= 0:
		return fmt.Errorf("%w: family %d update_interval must be positive", ErrInvalidFamily, f.ID)
	case f.Ranged && f.ProjectileSpeed <= 0:
		return fmt.Errorf("%w: ranged family %d needs projectile_speed", ErrInvalidFamily, f.ID)
	case f.SpawnWeight < 0:
		return fmt.Errorf("%w: family %d spawn_weight must not be negative", ErrInvalidFamily, f.ID)
	}
	return nil
}

// EffectiveSpeed is the approach speed in units per second.
func (f FamilyConfig) EffectiveSpeed() float64 {
	m := f.SpeedMultiplier
	if m == 0 {
		m = 1
	}
	return float64(f.Speed * m)
}

// FamilyTable is a lookup table of families keyed by id. Iteration order is
// definition order.
type FamilyTable struct {
	byID  map[int]FamilyConfig
	order []int
}

// NewFamilyTable validates families and indexes them.
func NewFamilyTable(families []FamilyConfig) (*FamilyTable, error) {
	t := &FamilyTable{byID: make(map[int]FamilyConfig, len(families))}
	for _, f := range families {
		if err := f.Validate(); err != nil {
			return nil, err
		}
		if _, dup := t.byID[f.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate family id %d", ErrInvalidFamily, f.ID)
		}
		t.byID[f.ID] = f
		t.order = append(t.order, f.ID)
	}
	return t, nil
}

// Get returns the family with id.
func (t *FamilyTable) Get(id int) (FamilyConfig, bool) {
	f, ok := t.byID[id]
	return f, ok
}

// Len returns the number of families.
func (t *FamilyTable) Len() int {
	return len(t.order)
}

// IDs returns family ids in definition order.
func (t *FamilyTable) IDs() []int {
	out := make([]int, len(t.order))
	copy(out, t.order)
	return out
}
