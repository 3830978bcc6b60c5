package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/signalsfoundry/idle-engine/internal/entity"
	"github.com/signalsfoundry/idle-engine/internal/logging"
)

// DefaultMaxUpdatesPerFrame caps controller updates per manager pass.
const DefaultMaxUpdatesPerFrame = 512

// Report summarises one manager pass.
type Report struct {
	Updated  int
	Thought  int
	Deferred int
	Faults   int
	Deaths   int
	Duration time.Duration
}

// Totals are cumulative manager counters.
type Totals struct {
	Passes   uint64
	Updated  uint64
	Deferred uint64
	Faults   uint64
}

// MetricsRecorder receives per-pass manager telemetry.
type MetricsRecorder interface {
	ObserveAIPass(updated, deferred, faults int, d time.Duration)
}

// ManagerOption customises a Manager.
type ManagerOption func(*Manager)

// WithLogger attaches a logger for per-entity faults.
func WithLogger(l logging.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithMetricsRecorder attaches an optional recorder for pass telemetry.
func WithMetricsRecorder(r MetricsRecorder) ManagerOption {
	return func(m *Manager) {
		m.metrics = r
	}
}

// Manager updates registered controllers in registration order. When a pass
// is capped the next pass resumes where the previous one stopped.
type Manager struct {
	maxUpdates int
	list       []*Controller
	byID       map[uint64]*Controller
	cursor     int
	log        logging.Logger
	metrics    MetricsRecorder
	totals     Totals
}

// NewManager constructs a manager. A non-positive maxUpdatesPerFrame uses
// DefaultMaxUpdatesPerFrame.
func NewManager(maxUpdatesPerFrame int, opts ...ManagerOption) *Manager {
	if maxUpdatesPerFrame <= 0 {
		maxUpdatesPerFrame = DefaultMaxUpdatesPerFrame
	}
	m := &Manager{
		maxUpdates: maxUpdatesPerFrame,
		byID:       make(map[uint64]*Controller),
		log:        logging.Noop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register adds c at the end of the update order.
func (m *Manager) Register(c *Controller) error {
	if c == nil {
		return fmt.Errorf("register: nil controller")
	}
	if _, dup := m.byID[c.ID()]; dup {
		return fmt.Errorf("register: enemy %d already registered", c.ID())
	}
	m.byID[c.ID()] = c
	m.list = append(m.list, c)
	return nil
}

// Unregister removes the controller for id, preserving the order of the rest.
func (m *Manager) Unregister(id uint64) bool {
	if _, ok := m.byID[id]; !ok {
		return false
	}
	delete(m.byID, id)
	for i, c := range m.list {
		if c.ID() != id {
			continue
		}
		m.list = append(m.list[:i], m.list[i+1:]...)
		if i < m.cursor {
			m.cursor--
		}
		break
	}
	if m.cursor >= len(m.list) {
		m.cursor = 0
	}
	return true
}

// Get returns the controller for id.
func (m *Manager) Get(id uint64) (*Controller, bool) {
	c, ok := m.byID[id]
	return c, ok
}

// Len returns the number of registered controllers.
func (m *Manager) Len() int {
	return len(m.list)
}

// Each calls fn for every controller in update order.
func (m *Manager) Each(fn func(*Controller)) {
	for _, c := range m.list {
		fn(c)
	}
}

// Clear drops every controller.
func (m *Manager) Clear() {
	m.list = m.list[:0]
	clear(m.byID)
	m.cursor = 0
}

// Totals returns cumulative counters.
func (m *Manager) Totals() Totals {
	return m.totals
}

// Update banks dt on every controller, forces enemies with no hit points
// into Death, then updates at most the configured number of controllers.
// A fault in one controller is logged and counted; the pass continues.
func (m *Manager) Update(ctx context.Context, env Env, dt int64) Report {
	start := time.Now()
	var rep Report

	for _, c := range m.list {
		c.Accumulate(dt)
		if c.State() != entity.StateDeath && c.enemy.HP <= 0 {
			c.Die(env.Now)
			rep.Deaths++
		}
	}

	n := len(m.list)
	budget := min(n, m.maxUpdates)
	for i := 0; i < budget; i++ {
		c := m.list[(m.cursor+i)%n]
		thought, err := m.safeUpdate(c, env)
		rep.Updated++
		if thought {
			rep.Thought++
		}
		if err != nil {
			rep.Faults++
			m.log.Warn(ctx, "ai update failed",
				logging.Uint64("enemy_id", c.ID()),
				logging.String("state", c.State().String()),
				logging.Err(err),
			)
		}
	}
	if n > 0 {
		m.cursor = (m.cursor + budget) % n
	}
	rep.Deferred = n - budget
	rep.Duration = time.Since(start)

	m.totals.Passes++
	m.totals.Updated += uint64(rep.Updated)
	m.totals.Deferred += uint64(rep.Deferred)
	m.totals.Faults += uint64(rep.Faults)
	if m.metrics != nil {
		m.metrics.ObserveAIPass(rep.Updated, rep.Deferred, rep.Faults, rep.Duration)
	}
	return rep
}

func (m *Manager) safeUpdate(c *Controller, env Env) (thought bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return c.Update(env)
}
