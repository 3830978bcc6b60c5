package validation

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/signalsfoundry/idle-engine/internal/protocol"
	"github.com/signalsfoundry/idle-engine/timectrl"
)

type fakeCatalog struct {
	wards     map[string][]string
	cooldowns map[string]time.Duration
}

func (c fakeCatalog) HasWard(land, ward string) bool {
	for _, w := range c.wards[land] {
		if w == ward {
			return true
		}
	}
	return false
}

func (c fakeCatalog) AbilityCooldown(id string) (time.Duration, bool) {
	d, ok := c.cooldowns[id]
	return d, ok
}

var testCatalog = fakeCatalog{
	wards:     map[string][]string{"meadow": {"meadow-1", "meadow-2"}},
	cooldowns: map[string]time.Duration{"nova": time.Second, "haste": 5 * time.Second},
}

func newTestValidator(cfg Config) (*Validator, *timectrl.ManualClock) {
	if cfg.Build == "" {
		cfg.Build = "test-build"
	}
	mc := timectrl.NewManualClock(time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC))
	v := New(cfg, testCatalog, WithClock(mc))
	v.SetStage(StageRunning)
	return v, mc
}

func TestValidateRules(t *testing.T) {
	tests := []struct {
		name string
		msg  protocol.HostMessage
		want error
	}{
		{"boot ok", protocol.Boot{Seed: 123, Build: "test-build"}, nil},
		{"boot nan seed", protocol.Boot{Seed: math.NaN(), Build: "test-build"}, ErrInvalidBoot},
		{"boot inf seed", protocol.Boot{Seed: math.Inf(1), Build: "test-build"}, ErrInvalidBoot},
		{"boot empty build", protocol.Boot{Seed: 1, Build: "  "}, ErrInvalidBoot},
		{"boot wrong build", protocol.Boot{Seed: 1, Build: "other"}, ErrBuildMismatch},
		{"start ok", protocol.Start{Land: "meadow", Ward: "meadow-2"}, nil},
		{"start unknown ward", protocol.Start{Land: "meadow", Ward: "meadow-9"}, ErrInvalidStart},
		{"start unknown land", protocol.Start{Land: "swamp", Ward: "meadow-1"}, ErrInvalidStart},
		{"start empty", protocol.Start{}, ErrInvalidStart},
		{"stop", protocol.Stop{}, nil},
		{"visibility", protocol.Visibility{Hidden: true}, nil},
		{"ability ok", protocol.Ability{ID: "haste"}, nil},
		{"ability unknown", protocol.Ability{ID: "meteor"}, ErrUnknownAbility},
		{"offline zero", protocol.Offline{ElapsedMs: 0}, nil},
		{"offline max", protocol.Offline{ElapsedMs: DefaultMaxOffline.Milliseconds()}, nil},
		{"offline over max", protocol.Offline{ElapsedMs: DefaultMaxOffline.Milliseconds() + 1}, ErrInvalidOffline},
		{"offline negative", protocol.Offline{ElapsedMs: -1}, ErrInvalidOffline},
		{"nil", nil, ErrUnknownMessage},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v, _ := newTestValidator(Config{})
			err := v.Validate(tc.msg)
			if tc.want == nil {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("Validate() error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestAbilityCooldownRejection(t *testing.T) {
	v, mc := newTestValidator(Config{})

	if err := v.Validate(protocol.Ability{ID: "nova"}); err != nil {
		t.Fatalf("first Ability error = %v", err)
	}
	before := v.Context().ErrorCount

	mc.Advance(10 * time.Millisecond)
	if err := v.Validate(protocol.Ability{ID: "nova"}); !errors.Is(err, ErrAbilityCooldown) {
		t.Fatalf("second Ability error = %v, want ErrAbilityCooldown", err)
	}
	if got := v.Context().ErrorCount; got != before+1 {
		t.Fatalf("ErrorCount = %d, want %d", got, before+1)
	}

	// Cooldowns are tracked per ability.
	if err := v.Validate(protocol.Ability{ID: "haste"}); err != nil {
		t.Fatalf("haste error = %v", err)
	}

	mc.Advance(990 * time.Millisecond)
	if err := v.Validate(protocol.Ability{ID: "nova"}); err != nil {
		t.Fatalf("Ability after cooldown error = %v", err)
	}
}

func TestCountersAudit(t *testing.T) {
	v, _ := newTestValidator(Config{})
	_ = v.Validate(protocol.Stop{})
	_ = v.Validate(protocol.Start{Land: "nowhere", Ward: "x"})
	_ = v.Validate(protocol.Offline{ElapsedMs: 10})

	ctx := v.Context()
	if ctx.MessageCount != 3 || ctx.ErrorCount != 1 {
		t.Fatalf("Context() = %+v, want 3 messages 1 error", ctx)
	}
}

func TestStageGating(t *testing.T) {
	tests := []struct {
		name  string
		stage Stage
		msg   protocol.HostMessage
		want  error
	}{
		{"idle boot", StageIdle, protocol.Boot{Seed: 1, Build: "test-build"}, nil},
		{"idle start", StageIdle, protocol.Start{Land: "meadow", Ward: "meadow-1"}, ErrNotBooted},
		{"idle stop", StageIdle, protocol.Stop{}, ErrNotBooted},
		{"idle visibility", StageIdle, protocol.Visibility{Hidden: true}, ErrNotBooted},
		{"idle ability", StageIdle, protocol.Ability{ID: "nova"}, ErrNotBooted},
		{"booted start", StageBooted, protocol.Start{Land: "meadow", Ward: "meadow-1"}, nil},
		{"booted ability", StageBooted, protocol.Ability{ID: "nova"}, ErrNotStarted},
		{"booted offline", StageBooted, protocol.Offline{ElapsedMs: 10}, ErrNotStarted},
		{"running ability", StageRunning, protocol.Ability{ID: "nova"}, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v, _ := newTestValidator(Config{})
			v.SetStage(tc.stage)
			err := v.Validate(tc.msg)
			if tc.want == nil {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("Validate() error = %v, want %v", err, tc.want)
			}
			if got := v.Context().ErrorCount; got != 1 {
				t.Fatalf("ErrorCount = %d, want 1", got)
			}
		})
	}
}

func TestRejectedAbilityDoesNotStartCooldown(t *testing.T) {
	v, mc := newTestValidator(Config{})
	v.SetStage(StageBooted)
	if err := v.Validate(protocol.Ability{ID: "nova"}); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("Ability before start error = %v, want ErrNotStarted", err)
	}
	if _, used := v.Context().LastAbilityUse["nova"]; used {
		t.Fatal("rejected Ability recorded a cooldown")
	}

	v.SetStage(StageRunning)
	mc.Advance(10 * time.Millisecond)
	if err := v.Validate(protocol.Ability{ID: "nova"}); err != nil {
		t.Fatalf("first in-play Ability error = %v", err)
	}
}

func TestRateLimit(t *testing.T) {
	v, mc := newTestValidator(Config{MessagesPerSecond: 3})

	for i := 0; i < 3; i++ {
		if err := v.Validate(protocol.Visibility{}); err != nil {
			t.Fatalf("message %d error = %v", i, err)
		}
		mc.Advance(100 * time.Millisecond)
	}
	if err := v.Validate(protocol.Visibility{}); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("fourth message error = %v, want ErrRateLimited", err)
	}
	if err := v.Validate(protocol.Boot{Seed: 1, Build: "test-build"}); err != nil {
		t.Fatalf("Boot while limited error = %v", err)
	}

	// The first message leaves the window one second after it arrived.
	mc.Advance(700 * time.Millisecond)
	if err := v.Validate(protocol.Visibility{}); err != nil {
		t.Fatalf("message after window slid error = %v", err)
	}
}

func TestIsFatal(t *testing.T) {
	v, _ := newTestValidator(Config{})
	if err := v.Validate(protocol.Boot{Seed: 1, Build: "nope"}); !IsFatal(err) {
		t.Fatalf("IsFatal(%v) = false, want true", err)
	}
	if err := v.Validate(protocol.Ability{ID: "meteor"}); IsFatal(err) {
		t.Fatalf("IsFatal(%v) = true, want false", err)
	}
}
