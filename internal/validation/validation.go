// Package validation is the trust boundary between an untrusted host and the
// simulation. Every host message passes through a Validator before it can
// touch simulation state.
package validation

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/signalsfoundry/idle-engine/internal/protocol"
	"github.com/signalsfoundry/idle-engine/timectrl"
)

var (
	ErrInvalidBoot     = errors.New("invalid boot")
	ErrBuildMismatch   = errors.New("build mismatch")
	ErrInvalidStart    = errors.New("invalid start")
	ErrUnknownAbility  = errors.New("unknown ability")
	ErrAbilityCooldown = errors.New("ability on cooldown")
	ErrInvalidOffline  = errors.New("invalid offline progress")
	ErrUnknownMessage  = errors.New("unknown message")
	ErrRateLimited     = errors.New("rate limited")
	ErrNotBooted       = errors.New("simulation not booted")
	ErrNotStarted      = errors.New("simulation not started")
)

// Stage is the session progress a message is validated against.
type Stage int

const (
	// StageIdle accepts only Boot.
	StageIdle Stage = iota
	// StageBooted accepts everything except in-play messages.
	StageBooted
	// StageRunning accepts Ability and Offline as well.
	StageRunning
)

// DefaultMaxOffline bounds a single Offline grant.
const DefaultMaxOffline = 8 * time.Hour

const rateWindow = time.Second

// Catalog answers content questions for the validator.
type Catalog interface {
	HasWard(land, ward string) bool
	AbilityCooldown(id string) (time.Duration, bool)
}

// Config tunes the validator.
type Config struct {
	// Build is the simulation's compiled build identifier.
	Build string
	// MaxOffline bounds Offline.ElapsedMs.
	MaxOffline time.Duration
	// MessagesPerSecond caps accepted messages in any one-second window.
	// Zero disables the limit. Boot is never rate limited.
	MessagesPerSecond int
}

// Context is a copy of the validator's audit counters.
type Context struct {
	MessageCount   uint64
	ErrorCount     uint64
	LastAbilityUse map[string]time.Time
}

// Option configures a Validator.
type Option func(*Validator)

// WithClock overrides the wall clock used for cooldowns and rate limiting.
func WithClock(c timectrl.WallClock) Option {
	return func(v *Validator) {
		if c != nil {
			v.clock = c
		}
	}
}

// Validator checks host messages and keeps the audit counters. It belongs to
// one simulation and is not safe for concurrent use.
type Validator struct {
	cfg     Config
	catalog Catalog
	clock   timectrl.WallClock
	stage   Stage

	messageCount   uint64
	errorCount     uint64
	lastAbilityUse map[string]time.Time

	// ring of accepted message times inside the rate window
	recent []time.Time
	head   int
	size   int
}

// New constructs a Validator.
func New(cfg Config, catalog Catalog, opts ...Option) *Validator {
	if cfg.MaxOffline <= 0 {
		cfg.MaxOffline = DefaultMaxOffline
	}
	v := &Validator{
		cfg:            cfg,
		catalog:        catalog,
		clock:          timectrl.SystemClock{},
		lastAbilityUse: make(map[string]time.Time),
	}
	if cfg.MessagesPerSecond > 0 {
		v.recent = make([]time.Time, cfg.MessagesPerSecond)
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// SetStage records how far the session has progressed. The simulation calls
// it after Boot, Start and Stop are applied.
func (v *Validator) SetStage(s Stage) {
	v.stage = s
}

// Validate checks msg against the current stage and the rules for its kind.
// Accepted messages are counted and, for abilities, start the cooldown.
// Rejections are counted as errors and returned wrapped around one of the
// package sentinels; a rejected ability never starts its cooldown.
func (v *Validator) Validate(msg protocol.HostMessage) error {
	v.messageCount++
	now := v.clock.Now()
	if err := v.check(msg, now); err != nil {
		v.errorCount++
		return err
	}
	if a, ok := msg.(protocol.Ability); ok {
		v.lastAbilityUse[a.ID] = now
	}
	if _, boot := msg.(protocol.Boot); !boot {
		v.admit(now)
	}
	return nil
}

func (v *Validator) check(msg protocol.HostMessage, now time.Time) error {
	if msg == nil {
		return fmt.Errorf("%w: nil message", ErrUnknownMessage)
	}
	if _, boot := msg.(protocol.Boot); !boot && v.limited(now) {
		return fmt.Errorf("%w: more than %d messages per second", ErrRateLimited, v.cfg.MessagesPerSecond)
	}
	if err := v.checkStage(msg); err != nil {
		return err
	}

	switch m := msg.(type) {
	case protocol.Boot:
		return v.checkBoot(m)
	case protocol.Start:
		return v.checkStart(m)
	case protocol.Stop, protocol.Visibility:
		return nil
	case protocol.Ability:
		return v.checkAbility(m, now)
	case protocol.Offline:
		return v.checkOffline(m)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownMessage, msg)
	}
}

func (v *Validator) checkStage(msg protocol.HostMessage) error {
	switch msg.(type) {
	case protocol.Boot:
		return nil
	case protocol.Ability, protocol.Offline:
		if v.stage == StageIdle {
			return fmt.Errorf("%w: %s dropped", ErrNotBooted, msg.Kind())
		}
		if v.stage != StageRunning {
			return fmt.Errorf("%w: %s dropped", ErrNotStarted, msg.Kind())
		}
	default:
		if v.stage == StageIdle {
			return fmt.Errorf("%w: %s dropped", ErrNotBooted, msg.Kind())
		}
	}
	return nil
}

func (v *Validator) checkBoot(m protocol.Boot) error {
	if math.IsNaN(m.Seed) || math.IsInf(m.Seed, 0) {
		return fmt.Errorf("%w: seed must be finite", ErrInvalidBoot)
	}
	if strings.TrimSpace(m.Build) == "" {
		return fmt.Errorf("%w: build is required", ErrInvalidBoot)
	}
	if m.Build != v.cfg.Build {
		return fmt.Errorf("%w: host %q, simulation %q", ErrBuildMismatch, m.Build, v.cfg.Build)
	}
	return nil
}

func (v *Validator) checkStart(m protocol.Start) error {
	if m.Land == "" || m.Ward == "" {
		return fmt.Errorf("%w: land and ward are required", ErrInvalidStart)
	}
	if v.catalog == nil || !v.catalog.HasWard(m.Land, m.Ward) {
		return fmt.Errorf("%w: unknown land/ward %q/%q", ErrInvalidStart, m.Land, m.Ward)
	}
	return nil
}

func (v *Validator) checkAbility(m protocol.Ability, now time.Time) error {
	if v.catalog == nil {
		return fmt.Errorf("%w: %q", ErrUnknownAbility, m.ID)
	}
	cooldown, ok := v.catalog.AbilityCooldown(m.ID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAbility, m.ID)
	}
	if last, used := v.lastAbilityUse[m.ID]; used {
		if since := now.Sub(last); since < cooldown {
			return fmt.Errorf("%w: %q ready in %v", ErrAbilityCooldown, m.ID, cooldown-since)
		}
	}
	return nil
}

func (v *Validator) checkOffline(m protocol.Offline) error {
	if m.ElapsedMs < 0 {
		return fmt.Errorf("%w: elapsedMs %d is negative", ErrInvalidOffline, m.ElapsedMs)
	}
	if limit := v.cfg.MaxOffline.Milliseconds(); m.ElapsedMs > limit {
		return fmt.Errorf("%w: elapsedMs %d exceeds %d", ErrInvalidOffline, m.ElapsedMs, limit)
	}
	return nil
}

func (v *Validator) limited(now time.Time) bool {
	if len(v.recent) == 0 {
		return false
	}
	for v.size > 0 && now.Sub(v.recent[v.head]) >= rateWindow {
		v.head = (v.head + 1) % len(v.recent)
		v.size--
	}
	return v.size >= len(v.recent)
}

func (v *Validator) admit(now time.Time) {
	if len(v.recent) == 0 {
		return
	}
	tail := (v.head + v.size) % len(v.recent)
	v.recent[tail] = now
	v.size++
}

// Context returns a copy of the audit counters.
func (v *Validator) Context() Context {
	last := make(map[string]time.Time, len(v.lastAbilityUse))
	for id, t := range v.lastAbilityUse {
		last[id] = t
	}
	return Context{
		MessageCount:   v.messageCount,
		ErrorCount:     v.errorCount,
		LastAbilityUse: last,
	}
}

// IsFatal reports whether a rejection must halt the session.
func IsFatal(err error) bool {
	return errors.Is(err, ErrInvalidBoot) || errors.Is(err, ErrBuildMismatch)
}
