// Package pool is an arena of enemy slots with a free list. Slots are
// allocated in blocks so pointers handed out stay valid while the arena grows.
package pool

import "github.com/signalsfoundry/idle-engine/internal/entity"

// Default sizing.
const (
	DefaultInitialSize   = 64
	DefaultMaxSize       = 1024
	DefaultGrowthFactor  = 2
	DefaultMaxGrowthSize = 256
)

// Config sizes the arena.
type Config struct {
	InitialSize   int
	MaxSize       int
	GrowthFactor  int
	MaxGrowthSize int
}

func (c Config) withDefaults() Config {
	if c.InitialSize <= 0 {
		c.InitialSize = DefaultInitialSize
	}
	if c.MaxSize <= 0 {
		c.MaxSize = DefaultMaxSize
	}
	if c.InitialSize > c.MaxSize {
		c.InitialSize = c.MaxSize
	}
	if c.GrowthFactor < 2 {
		c.GrowthFactor = DefaultGrowthFactor
	}
	if c.MaxGrowthSize <= 0 {
		c.MaxGrowthSize = DefaultMaxGrowthSize
	}
	return c
}

// Stats describes pool occupancy. Total == Active + Available always holds.
type Stats struct {
	Total         int
	Active        int
	Available     int
	Peak          int
	Expansions    uint64
	Allocations   uint64
	Deallocations uint64
	Failures      uint64
}

// Pool hands out SpawnedEnemy slots. It belongs to one simulation and is not
// safe for concurrent use.
type Pool struct {
	cfg    Config
	slots  []*entity.SpawnedEnemy
	free   []int
	active int
	peak   int
	nextID uint64

	expansions    uint64
	allocations   uint64
	deallocations uint64
	failures      uint64
}

// New constructs a pool pre-sized to cfg.InitialSize.
func New(cfg Config) *Pool {
	cfg = cfg.withDefaults()
	p := &Pool{
		cfg:   cfg,
		slots: make([]*entity.SpawnedEnemy, 0, cfg.InitialSize),
		free:  make([]int, 0, cfg.InitialSize),
	}
	p.addBlock(cfg.InitialSize)
	return p
}

// Config returns the effective sizing.
func (p *Pool) Config() Config {
	return p.cfg
}

// Allocate initialises a free slot from params. It returns nil when the
// arena is at MaxSize with no free slot; callers retry on a later tick.
func (p *Pool) Allocate(params entity.SpawnParams) *entity.SpawnedEnemy {
	if len(p.free) == 0 && !p.grow() {
		p.failures++
		return nil
	}
	idx := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]

	p.nextID++
	e := p.slots[idx]
	*e = entity.SpawnedEnemy{
		ID:            p.nextID,
		Family:        params.Family,
		HP:            params.HP,
		MaxHP:         params.HP,
		Speed:         params.Speed,
		ContactDamage: params.ContactDamage,
		Position:      params.Position,
		SpawnTime:     params.SpawnTime,
		SpawnDistance: params.SpawnDistance,
		WardID:        params.WardID,
		LandID:        params.LandID,
		Active:        true,
		PoolIndex:     idx,
		AIState:       entity.StateApproach,
	}

	p.active++
	p.allocations++
	if p.active > p.peak {
		p.peak = p.active
	}
	return e
}

// Deallocate zeroes e and returns its slot to the free list. It is a no-op
// for nil, inactive or foreign enemies and reports whether a slot was freed.
func (p *Pool) Deallocate(e *entity.SpawnedEnemy) bool {
	if e == nil || !e.Active {
		return false
	}
	idx := e.PoolIndex
	if idx < 0 || idx >= len(p.slots) || p.slots[idx] != e {
		return false
	}
	*e = entity.SpawnedEnemy{PoolIndex: idx}
	p.free = append(p.free, idx)
	p.active--
	p.deallocations++
	return true
}

// Get returns the slot at index when it is active.
func (p *Pool) Get(index int) (*entity.SpawnedEnemy, bool) {
	if index < 0 || index >= len(p.slots) {
		return nil, false
	}
	e := p.slots[index]
	return e, e.Active
}

// Each calls fn for every active enemy in slot order.
func (p *Pool) Each(fn func(*entity.SpawnedEnemy)) {
	for _, e := range p.slots {
		if e.Active {
			fn(e)
		}
	}
}

// Active returns the number of allocated slots.
func (p *Pool) Active() int {
	return p.active
}

// Stats returns the occupancy counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Total:         len(p.slots),
		Active:        p.active,
		Available:     len(p.free),
		Peak:          p.peak,
		Expansions:    p.expansions,
		Allocations:   p.allocations,
		Deallocations: p.deallocations,
		Failures:      p.failures,
	}
}

// Reset deactivates every slot and clears the peak. The arena keeps its size
// and IDs keep counting up.
func (p *Pool) Reset() {
	p.free = p.free[:0]
	for i := len(p.slots) - 1; i >= 0; i-- {
		*p.slots[i] = entity.SpawnedEnemy{PoolIndex: i}
		p.free = append(p.free, i)
	}
	p.active = 0
	p.peak = 0
}

func (p *Pool) grow() bool {
	cur := len(p.slots)
	if cur >= p.cfg.MaxSize {
		return false
	}
	target := cur * p.cfg.GrowthFactor
	if target == 0 {
		target = 1
	}
	target = min(target, cur+p.cfg.MaxGrowthSize, p.cfg.MaxSize)
	p.addBlock(target - cur)
	p.expansions++
	return true
}

// addBlock appends n slots backed by one allocation and pushes their indices
// so the lowest new index is popped first.
func (p *Pool) addBlock(n int) {
	if n <= 0 {
		return
	}
	base := len(p.slots)
	block := make([]entity.SpawnedEnemy, n)
	for i := range block {
		block[i].PoolIndex = base + i
		p.slots = append(p.slots, &block[i])
	}
	for i := n - 1; i >= 0; i-- {
		p.free = append(p.free, base+i)
	}
}
