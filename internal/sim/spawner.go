package sim

import (
	"math"

	"github.com/signalsfoundry/idle-engine/internal/ai"
	"github.com/signalsfoundry/idle-engine/internal/config"
	"github.com/signalsfoundry/idle-engine/internal/entity"
	"github.com/signalsfoundry/idle-engine/internal/rng"
)

// spawnWindow is the distance over which one SpawnGrowth factor applies.
const spawnWindow = 100.0

// spawner produces enemies for the active ward on a distance-scaled timer.
type spawner struct {
	land     config.Land
	ward     config.Ward
	families []ai.FamilyConfig
	weight   uint32

	acc      int64
	spawned  uint64
	deferred uint64
}

func newSpawner(land config.Land, ward config.Ward, table *ai.FamilyTable) *spawner {
	s := &spawner{land: land, ward: ward}
	for _, id := range ward.Families {
		f, ok := table.Get(id)
		if !ok || f.SpawnWeight <= 0 {
			continue
		}
		s.families = append(s.families, f)
		s.weight += uint32(f.SpawnWeight)
	}
	return s
}

// SpawnIntervalMs is the spawn period at distance: the ward's interval
// divided by SpawnGrowth once for every full 100 units walked past the
// ward's base distance.
func SpawnIntervalMs(ward config.Ward, distance float64) int64 {
	base := float64(ward.SpawnInterval.Milliseconds())
	extra := max(0, distance-ward.BaseDistance)
	windows := math.Floor(extra / spawnWindow)
	interval := base / math.Pow(ward.SpawnGrowth, windows)
	return max(1, int64(interval))
}

// pick draws a family by spawn weight from the spawn stream.
func (s *spawner) pick(r *rng.PCG32) ai.FamilyConfig {
	roll := r.NextBounded(s.weight)
	for _, f := range s.families {
		w := uint32(f.SpawnWeight)
		if roll < w {
			return f
		}
		roll -= w
	}
	return s.families[len(s.families)-1]
}

// position draws a spawn point on the ring around the hero.
func (s *spawner) position(r *rng.PCG32) entity.Vec2 {
	angle := r.FloatRange(0, 2*math.Pi)
	radius := s.ward.SpawnRadius
	if s.ward.SpawnSpread > 0 {
		radius += r.FloatRange(-s.ward.SpawnSpread, s.ward.SpawnSpread)
	}
	return entity.Vec2{X: float64(math.Cos(angle) * radius), Y: float64(math.Sin(angle) * radius)}
}

// bank adds dtMs to the spawn timer.
func (s *spawner) bank(dtMs int64) {
	s.acc += dtMs
}

func (s *spawner) reset() {
	s.acc = 0
}
