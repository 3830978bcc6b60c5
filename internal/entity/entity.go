// Package entity holds the plain data shared by the pool, the AI and the
// simulation: positions, AI states and the spawned enemy record.
package entity

import "math"

// Vec2 is a 2D vector in world units.
type Vec2 struct {
	X float64 `msgpack:"x"`
	Y float64 `msgpack:"y"`
}

func (v Vec2) Add(o Vec2) Vec2 { return Vec2{X: v.X + o.X, Y: v.Y + o.Y} }
func (v Vec2) Sub(o Vec2) Vec2 { return Vec2{X: v.X - o.X, Y: v.Y - o.Y} }

// Scale multiplies both components by s. The explicit conversions keep the
// compiler from fusing the multiply into a neighbouring add.
func (v Vec2) Scale(s float64) Vec2 {
	return Vec2{X: float64(v.X * s), Y: float64(v.Y * s)}
}

// Len returns the Euclidean length.
func (v Vec2) Len() float64 {
	return math.Sqrt(float64(v.X*v.X) + float64(v.Y*v.Y))
}

// Normalize returns the unit vector, or the zero vector for zero input.
func (v Vec2) Normalize() Vec2 {
	l := v.Len()
	if l == 0 {
		return Vec2{}
	}
	return Vec2{X: v.X / l, Y: v.Y / l}
}

// Dist returns the distance between two points.
func Dist(a, b Vec2) float64 {
	return b.Sub(a).Len()
}

// AIState is a node in the per-enemy state machine.
type AIState uint8

const (
	StateApproach AIState = iota
	StateStop
	StateAttack
	StateDeath
)

func (s AIState) String() string {
	switch s {
	case StateApproach:
		return "approach"
	case StateStop:
		return "stop"
	case StateAttack:
		return "attack"
	case StateDeath:
		return "death"
	default:
		return "unknown"
	}
}

// SpawnParams initialise a pool slot.
type SpawnParams struct {
	Family        int
	HP            float64
	Speed         float64
	ContactDamage float64
	Position      Vec2
	SpawnTime     int64
	SpawnDistance float64
	WardID        string
	LandID        string
}

// SpawnedEnemy is one live enemy. ID is unique for the life of the pool;
// PoolIndex identifies the slot and is reused after deallocation.
type SpawnedEnemy struct {
	ID            uint64
	Family        int
	HP            float64
	MaxHP         float64
	Speed         float64
	ContactDamage float64
	Position      Vec2
	Velocity      Vec2
	SpawnTime     int64
	SpawnDistance float64
	WardID        string
	LandID        string
	Active        bool
	PoolIndex     int
	AIState       AIState
}

// Alive reports whether the enemy is active with hit points left.
func (e *SpawnedEnemy) Alive() bool {
	return e != nil && e.Active && e.HP > 0
}
