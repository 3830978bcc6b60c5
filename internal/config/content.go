package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/idle-engine/internal/ai"
)

//go:embed defaults/content.yaml
var defaultContentYAML []byte

// AbilityKind selects what an ability does when activated.
type AbilityKind string

const (
	AbilityNova  AbilityKind = "nova"
	AbilityHaste AbilityKind = "haste"
)

// Content is the game data: enemy families, lands and their wards, hero
// abilities and hero stats. Balancing lives here, not in code.
type Content struct {
	Families  []ai.FamilyConfig `yaml:"families"`
	Lands     []Land            `yaml:"lands"`
	Abilities []Ability         `yaml:"abilities"`
	Hero      Hero              `yaml:"hero"`
}

type Land struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Wards []Ward `yaml:"wards"`
}

// Ward is one stage of a land. Enemies of Families spawn every
// SpawnInterval, shortened by SpawnGrowth for every 100 units the hero has
// walked past BaseDistance.
type Ward struct {
	ID            string        `yaml:"id"`
	BaseDistance  float64       `yaml:"base_distance"`
	Families      []int         `yaml:"families"`
	SpawnInterval time.Duration `yaml:"spawn_interval"`
	SpawnGrowth   float64       `yaml:"spawn_growth"`
	MaxAlive      int           `yaml:"max_alive"`
	SpawnRadius   float64       `yaml:"spawn_radius"`
	SpawnSpread   float64       `yaml:"spawn_spread"`
}

type Ability struct {
	ID       string        `yaml:"id"`
	Kind     AbilityKind   `yaml:"kind"`
	Cooldown time.Duration `yaml:"cooldown"`
	Power    float64       `yaml:"power"`
	Radius   float64       `yaml:"radius"`
	Duration time.Duration `yaml:"duration"`
}

type Hero struct {
	MaxHP          float64       `yaml:"max_hp"`
	Damage         float64       `yaml:"damage"`
	AttackInterval time.Duration `yaml:"attack_interval"`
	Range          float64       `yaml:"range"`
	WalkSpeed      float64       `yaml:"walk_speed"`
	CritChance     float64       `yaml:"crit_chance"`
	CritMultiplier float64       `yaml:"crit_multiplier"`
	RegenPerSecond float64       `yaml:"regen_per_second"`
}

// LoadContent loads game content.
// Search order: customPath -> ~/.idlesim/content.yaml -> ./configs/content.yaml -> embedded default
func LoadContent(customPath string) (*Content, error) {
	if customPath != "" {
		data, err := os.ReadFile(customPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read content %s: %w", customPath, err)
		}
		return ParseContent(data)
	}

	if p := userContentPath(); p != "" {
		if data, err := os.ReadFile(p); err == nil {
			if c, err := ParseContent(data); err == nil {
				return c, nil
			}
		}
	}

	if data, err := os.ReadFile(filepath.Join("configs", "content.yaml")); err == nil {
		if c, err := ParseContent(data); err == nil {
			return c, nil
		}
	}

	return DefaultContent()
}

// DefaultContent parses the embedded content.
func DefaultContent() (*Content, error) {
	return ParseContent(defaultContentYAML)
}

// ParseContent decodes and validates YAML content.
func ParseContent(data []byte) (*Content, error) {
	var c Content
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse content: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func userContentPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".idlesim", "content.yaml")
}

// Validate checks cross references between tables.
func (c *Content) Validate() error {
	families, err := ai.NewFamilyTable(c.Families)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if families.Len() == 0 {
		return fmt.Errorf("%w: no enemy families", ErrInvalidConfig)
	}
	if len(c.Lands) == 0 {
		return fmt.Errorf("%w: no lands", ErrInvalidConfig)
	}
	seenLand := make(map[string]bool, len(c.Lands))
	for _, land := range c.Lands {
		if land.ID == "" || seenLand[land.ID] {
			return fmt.Errorf("%w: land id %q empty or duplicated", ErrInvalidConfig, land.ID)
		}
		seenLand[land.ID] = true
		if len(land.Wards) == 0 {
			return fmt.Errorf("%w: land %q has no wards", ErrInvalidConfig, land.ID)
		}
		seenWard := make(map[string]bool, len(land.Wards))
		for _, w := range land.Wards {
			if w.ID == "" || seenWard[w.ID] {
				return fmt.Errorf("%w: ward id %q in land %q empty or duplicated", ErrInvalidConfig, w.ID, land.ID)
			}
			seenWard[w.ID] = true
			if err := w.validate(families); err != nil {
				return fmt.Errorf("%w: land %q ward %q: %v", ErrInvalidConfig, land.ID, w.ID, err)
			}
		}
	}
	seenAbility := make(map[string]bool, len(c.Abilities))
	for _, a := range c.Abilities {
		if a.ID == "" || seenAbility[a.ID] {
			return fmt.Errorf("%w: ability id %q empty or duplicated", ErrInvalidConfig, a.ID)
		}
		seenAbility[a.ID] = true
		if a.Cooldown <= 0 {
			return fmt.Errorf("%w: ability %q cooldown must be positive", ErrInvalidConfig, a.ID)
		}
		switch a.Kind {
		case AbilityNova:
			if a.Radius <= 0 || a.Power <= 0 {
				return fmt.Errorf("%w: nova %q needs positive radius and power", ErrInvalidConfig, a.ID)
			}
		case AbilityHaste:
			if a.Duration <= 0 || a.Power <= 0 {
				return fmt.Errorf("%w: haste %q needs positive duration and power", ErrInvalidConfig, a.ID)
			}
		default:
			return fmt.Errorf("%w: ability %q has unknown kind %q", ErrInvalidConfig, a.ID, a.Kind)
		}
	}
	h := c.Hero
	if h.MaxHP <= 0 || h.Damage <= 0 || h.AttackInterval <= 0 || h.Range <= 0 {
		return fmt.Errorf("%w: hero max_hp, damage, attack_interval and range must be positive", ErrInvalidConfig)
	}
	if h.CritChance < 0 || h.CritChance > 1 {
		return fmt.Errorf("%w: hero crit_chance must be within [0,1]", ErrInvalidConfig)
	}
	return nil
}

func (w Ward) validate(families *ai.FamilyTable) error {
	if w.SpawnInterval <= 0 {
		return fmt.Errorf("spawn_interval must be positive")
	}
	if w.SpawnGrowth < 1 {
		return fmt.Errorf("spawn_growth must be >= 1")
	}
	if w.MaxAlive <= 0 || w.SpawnRadius <= 0 || w.SpawnSpread < 0 {
		return fmt.Errorf("max_alive and spawn_radius must be positive")
	}
	if len(w.Families) == 0 {
		return fmt.Errorf("no families")
	}
	weight := 0
	for _, id := range w.Families {
		f, ok := families.Get(id)
		if !ok {
			return fmt.Errorf("unknown family %d", id)
		}
		weight += f.SpawnWeight
	}
	if weight <= 0 {
		return fmt.Errorf("families have no spawn weight")
	}
	return nil
}

// FamilyTable indexes the families.
func (c *Content) FamilyTable() (*ai.FamilyTable, error) {
	return ai.NewFamilyTable(c.Families)
}

// Ward looks up a ward of a land.
func (c *Content) Ward(land, ward string) (Land, Ward, bool) {
	for _, l := range c.Lands {
		if l.ID != land {
			continue
		}
		for _, w := range l.Wards {
			if w.ID == ward {
				return l, w, true
			}
		}
	}
	return Land{}, Ward{}, false
}

// HasWard reports whether land/ward exists.
func (c *Content) HasWard(land, ward string) bool {
	_, _, ok := c.Ward(land, ward)
	return ok
}

// Ability looks up an ability by id.
func (c *Content) Ability(id string) (Ability, bool) {
	for _, a := range c.Abilities {
		if a.ID == id {
			return a, true
		}
	}
	return Ability{}, false
}

// AbilityCooldown returns the cooldown of ability id.
func (c *Content) AbilityCooldown(id string) (time.Duration, bool) {
	a, ok := c.Ability(id)
	return a.Cooldown, ok
}
