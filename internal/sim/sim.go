// Package sim is the deterministic simulation core. A Simulation owns every
// piece of world state (clock, drivers, RNG streams, enemy pool, AI manager,
// hero, snapshot writer) and mutates it from one goroutine only.
package sim

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/signalsfoundry/idle-engine/internal/ai"
	"github.com/signalsfoundry/idle-engine/internal/config"
	"github.com/signalsfoundry/idle-engine/internal/logging"
	"github.com/signalsfoundry/idle-engine/internal/pool"
	"github.com/signalsfoundry/idle-engine/internal/protocol"
	"github.com/signalsfoundry/idle-engine/internal/rng"
	"github.com/signalsfoundry/idle-engine/internal/snapshot"
	"github.com/signalsfoundry/idle-engine/internal/validation"
	"github.com/signalsfoundry/idle-engine/timectrl"
)

// Build is the compiled build identifier a host must present in Boot.
// Release builds set it with -ldflags "-X .../internal/sim.Build=<id>".
var Build = "dev"

var (
	// ErrHalted is returned once a fatal rejection has stopped the session.
	ErrHalted = errors.New("simulation halted")
	// ErrNotBooted rejects messages that arrive before a successful Boot.
	ErrNotBooted = validation.ErrNotBooted
	// ErrNotStarted rejects messages that need an active land and ward.
	ErrNotStarted = validation.ErrNotStarted
)

// MetricsRecorder receives simulation telemetry. observability.SimCollector
// implements it.
type MetricsRecorder interface {
	ai.MetricsRecorder
	ObserveStep(d time.Duration)
	ObserveFrame(dropped time.Duration)
	SetPoolCounts(active, available, peak int)
	AddPoolFailures(n int)
	ObserveMessage(kind, result string)
}

// Option customises a Simulation.
type Option func(*Simulation)

// WithLogger sets the process logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Simulation) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(s *Simulation) {
		s.metrics = m
	}
}

// WithWallClock overrides the wall clock used by the drivers and validator.
func WithWallClock(c timectrl.WallClock) Option {
	return func(s *Simulation) {
		if c != nil {
			s.wall = c
		}
	}
}

// WithBuild overrides the build identifier Boot is checked against.
func WithBuild(build string) Option {
	return func(s *Simulation) {
		if build != "" {
			s.build = build
		}
	}
}

type phase int

const (
	phaseIdle phase = iota
	phaseReady
	phaseRunning
	phaseHalted
)

func (p phase) String() string {
	switch p {
	case phaseIdle:
		return "idle"
	case phaseReady:
		return "ready"
	case phaseRunning:
		return "running"
	case phaseHalted:
		return "halted"
	default:
		return "unknown"
	}
}

// SimContext is a read-only copy of the simulation's context.
type SimContext struct {
	Now      int64
	Seed     uint32
	Streams  []rng.StreamState
	Perf     PerfStats
	Phase    string
	Mode     string
	Land     string
	Ward     string
	Distance float64
	HeroHP   float64
	Steps    uint64
	Kills    uint64
	Retreats uint64
	Audit    validation.Context
}

// Simulation is one isolated simulation instance. Dispatch and the step
// functions must only be called from the goroutine running Run (or, without
// Run, from a single caller). Context, Stats, Post and OnSimMessage are safe
// from any goroutine.
type Simulation struct {
	cfg      *config.Config
	content  *config.Content
	families *ai.FamilyTable
	log      logging.Logger
	metrics  MetricsRecorder
	wall     timectrl.WallClock
	build    string

	validator  *validation.Validator
	clock      *timectrl.FixedStepClock
	background *timectrl.BackgroundDriver
	drivers    *timectrl.Drivers

	phase       phase
	seed        uint32
	streams     *rng.Registry
	elapsed     time.Duration
	now         int64
	steps       uint64
	pool        *pool.Pool
	manager     *ai.Manager
	hero        *Hero
	spawner     *spawner
	projectiles *projectiles
	snapshots   *snapshot.Writer
	fps         rollingSum
	dps         rollingSum
	perf        perfWindow
	lastReport  int64
	batching    bool
	kills       uint64
	retreats    uint64
	reap        []uint64
	targets     []*ai.Controller
	haltReason  string

	inbox  chan inbound
	closed chan struct{}
	once   sync.Once

	mu        sync.RWMutex
	handlers  []handlerEntry
	handlerID int
	published SimContext
	stats     protocol.Stats
}

type handlerEntry struct {
	id int
	fn func(protocol.SimMessage)
}

type inbound struct {
	ctx context.Context
	msg protocol.HostMessage
}

// New builds an idle simulation. Nothing runs until a Boot and a Start have
// been dispatched.
func New(cfg *config.Config, content *config.Content, opts ...Option) (*Simulation, error) {
	if cfg == nil {
		cfg = config.Defaults()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if content == nil {
		var err error
		if content, err = config.DefaultContent(); err != nil {
			return nil, err
		}
	}
	families, err := content.FamilyTable()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}

	s := &Simulation{
		cfg:      cfg,
		content:  content,
		families: families,
		log:      logging.Noop(),
		wall:     timectrl.SystemClock{},
		build:    Build,
		inbox:    make(chan inbound, max(1, cfg.Bridge.InboxSize)),
		closed:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logging.String("component", "sim"))

	s.validator = validation.New(validation.Config{
		Build:             s.build,
		MaxOffline:        cfg.Validation.MaxOffline,
		MessagesPerSecond: cfg.Validation.MessagesPerSecond,
	}, content, validation.WithClock(s.wall))

	s.clock = timectrl.NewFixedStepClock(timectrl.ClockConfig{
		StepInterval:     cfg.Clock.StepInterval,
		MaxFrameTime:     cfg.Clock.MaxFrame,
		MaxStepsPerFrame: cfg.Clock.MaxStepsPerFrame,
	}, s.foregroundStep)
	s.background = timectrl.NewBackgroundDriver(timectrl.BackgroundConfig{
		Interval: cfg.Background.Interval,
	}, s.backgroundStep, s.backgroundReport)
	s.drivers = timectrl.NewDrivers(s.clock, s.background, cfg.Clock.FrameInterval)

	s.pool = pool.New(pool.Config{
		InitialSize:   cfg.Pool.InitialSize,
		MaxSize:       cfg.Pool.MaxSize,
		GrowthFactor:  cfg.Pool.GrowthFactor,
		MaxGrowthSize: cfg.Pool.MaxGrowthSize,
	})
	var aiOpts []ai.ManagerOption
	aiOpts = append(aiOpts, ai.WithLogger(s.log))
	if s.metrics != nil {
		aiOpts = append(aiOpts, ai.WithMetricsRecorder(s.metrics))
	}
	s.manager = ai.NewManager(cfg.AI.MaxUpdatesPerFrame, aiOpts...)
	s.hero = newHero(content.Hero)
	s.projectiles = newProjectiles(0)
	s.snapshots = snapshot.NewWriter(cfg.Snapshot.Interval.Milliseconds())
	s.streams = rng.NewRegistry(0)
	s.publish()
	return s, nil
}

// BuildID returns the identifier Boot must carry.
func (s *Simulation) BuildID() string { return s.build }

// Clock exposes the foreground clock for host-driven stepping.
func (s *Simulation) Clock() *timectrl.FixedStepClock { return s.clock }

// Drivers exposes the driver pair.
func (s *Simulation) Drivers() *timectrl.Drivers { return s.drivers }

// Snapshots exposes the snapshot writer.
func (s *Simulation) Snapshots() *snapshot.Writer { return s.snapshots }

// Pool exposes the enemy pool.
func (s *Simulation) Pool() *pool.Pool { return s.pool }

// Manager exposes the AI manager.
func (s *Simulation) Manager() *ai.Manager { return s.manager }

// Hero exposes the hero.
func (s *Simulation) Hero() *Hero { return s.hero }

// Context returns the context published after the last step batch.
func (s *Simulation) Context() SimContext {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.published
}

// Stats returns the stats published after the last step batch.
func (s *Simulation) Stats() protocol.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// OnSimMessage registers a handler for outbound messages and returns a func
// that removes it. Handlers run on the simulation goroutine and must not
// block.
func (s *Simulation) OnSimMessage(handler func(protocol.SimMessage)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.handlerID
	s.handlerID++
	s.handlers = append(s.handlers, handlerEntry{id: id, fn: handler})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.handlers = slices.DeleteFunc(s.handlers, func(h handlerEntry) bool { return h.id == id })
	}
}

func (s *Simulation) emit(msg protocol.SimMessage) {
	s.mu.RLock()
	handlers := slices.Clone(s.handlers)
	s.mu.RUnlock()
	for _, h := range handlers {
		h.fn(msg)
	}
}

func (s *Simulation) currentStats() protocol.Stats {
	return protocol.Stats{
		FPS:         int(s.fps.sum(s.now)),
		Enemies:     s.pool.Active(),
		Projectiles: s.projectiles.count(),
		DPS:         s.dps.sum(s.now) * 1000 / windowMs,
	}
}

// publish copies the world into the values Context and Stats return.
func (s *Simulation) publish() {
	ctx := SimContext{
		Now:      s.now,
		Seed:     s.seed,
		Streams:  s.streams.Export(),
		Perf:     s.perf.stats(),
		Phase:    s.phase.String(),
		Mode:     s.drivers.Mode().String(),
		Distance: s.hero.Distance,
		HeroHP:   s.hero.HP,
		Steps:    s.steps,
		Kills:    s.kills,
		Retreats: s.retreats,
		Audit:    s.validator.Context(),
	}
	if s.spawner != nil {
		ctx.Land = s.spawner.land.ID
		ctx.Ward = s.spawner.ward.ID
	}
	stats := s.currentStats()

	s.mu.Lock()
	s.published = ctx
	s.stats = stats
	s.mu.Unlock()

	if s.metrics != nil {
		ps := s.pool.Stats()
		s.metrics.SetPoolCounts(ps.Active, ps.Available, ps.Peak)
	}
}
