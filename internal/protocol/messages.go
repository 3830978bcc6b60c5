// Package protocol defines the closed sets of messages exchanged between an
// untrusted host and the simulation, plus the msgpack envelope used when they
// cross a process boundary.
package protocol

import "math"

// Kind tags a message on the wire.
type Kind string

// Host → simulation kinds.
const (
	KindBoot       Kind = "boot"
	KindStart      Kind = "start"
	KindStop       Kind = "stop"
	KindAbility    Kind = "ability"
	KindOffline    Kind = "offline"
	KindVisibility Kind = "visibility"
)

// Simulation → host kinds.
const (
	KindReady Kind = "ready"
	KindTick  Kind = "tick"
	KindLog   Kind = "log"
	KindFatal Kind = "fatal"
)

// HostMessage is implemented only by the message types in this package.
type HostMessage interface {
	Kind() Kind
	hostMessage()
}

// SimMessage is implemented only by the message types in this package.
type SimMessage interface {
	Kind() Kind
	simMessage()
}

// Boot initialises a session. Seed arrives as a host number and must be
// finite; Build must match the simulation's build identifier.
type Boot struct {
	Seed  float64 `msgpack:"seed"`
	Build string  `msgpack:"build"`
}

// Start begins play in a land and ward.
type Start struct {
	Land string `msgpack:"land"`
	Ward string `msgpack:"ward"`
}

// Stop ends play and halts the drivers.
type Stop struct{}

// Ability requests activation of a hero ability.
type Ability struct {
	ID string `msgpack:"id"`
}

// Offline grants simulated progress for time the host was away.
type Offline struct {
	ElapsedMs int64 `msgpack:"elapsedMs"`
}

// Visibility reports whether the host is rendering; hidden hosts are driven
// by the background driver.
type Visibility struct {
	Hidden bool `msgpack:"hidden"`
}

func (Boot) Kind() Kind       { return KindBoot }
func (Start) Kind() Kind      { return KindStart }
func (Stop) Kind() Kind       { return KindStop }
func (Ability) Kind() Kind    { return KindAbility }
func (Offline) Kind() Kind    { return KindOffline }
func (Visibility) Kind() Kind { return KindVisibility }

func (Boot) hostMessage()       {}
func (Start) hostMessage()      {}
func (Stop) hostMessage()       {}
func (Ability) hostMessage()    {}
func (Offline) hostMessage()    {}
func (Visibility) hostMessage() {}

const seedModulus = 1 << 32

// Seed32 folds the host seed into the simulation's u32 master seed. The
// fractional part is discarded and negative values wrap.
func (b Boot) Seed32() uint32 {
	v := math.Mod(math.Floor(b.Seed), seedModulus)
	if v < 0 {
		v += seedModulus
	}
	return uint32(v)
}

// Ready acknowledges a successful Boot.
type Ready struct{}

// Stats are the aggregate counters reported to the rendering layer.
type Stats struct {
	FPS         int     `msgpack:"fps"`
	Enemies     int     `msgpack:"enemies"`
	Projectiles int     `msgpack:"proj"`
	DPS         float64 `msgpack:"dps"`
}

// Tick reports simulation progress.
type Tick struct {
	Now      int64   `msgpack:"now"`
	Stats    Stats   `msgpack:"stats"`
	Distance float64 `msgpack:"distance"`
	HeroHP   float64 `msgpack:"heroHp"`
}

// LogLevel grades a Log message.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Log surfaces a diagnostic to the host.
type Log struct {
	Level   LogLevel `msgpack:"level"`
	Message string   `msgpack:"message"`
}

// Fatal reports that the session has halted.
type Fatal struct {
	Reason string `msgpack:"reason"`
}

func (Ready) Kind() Kind { return KindReady }
func (Tick) Kind() Kind  { return KindTick }
func (Log) Kind() Kind   { return KindLog }
func (Fatal) Kind() Kind { return KindFatal }

func (Ready) simMessage() {}
func (Tick) simMessage()  {}
func (Log) simMessage()   {}
func (Fatal) simMessage() {}
