package ai

// Combat tracks one enemy's attack timing. Times are simulation milliseconds.
type Combat struct {
	Damage          float64
	CooldownMs      int64
	WindupMs        int64
	Ranged          bool
	ProjectileSpeed float64

	CooldownRemaining int64
	WindupRemaining   int64
	InProgress        bool
	Attacks           uint64
}

// newCombat starts with a full cooldown so a freshly stopped enemy waits one
// cooldown before its first swing.
func newCombat(f FamilyConfig) Combat {
	return Combat{
		Damage:            f.AttackDamage,
		CooldownMs:        f.AttackCooldown.Milliseconds(),
		WindupMs:          f.AttackWindup.Milliseconds(),
		Ranged:            f.Ranged,
		ProjectileSpeed:   f.ProjectileSpeed,
		CooldownRemaining: f.AttackCooldown.Milliseconds(),
	}
}

// Tick counts down the cooldown and any windup in progress.
func (c *Combat) Tick(elapsedMs int64) {
	c.CooldownRemaining = max(0, c.CooldownRemaining-elapsedMs)
	if c.InProgress {
		c.WindupRemaining = max(0, c.WindupRemaining-elapsedMs)
	}
}

// Ready reports whether a new attack may begin.
func (c *Combat) Ready() bool {
	return !c.InProgress && c.CooldownRemaining <= 0
}

// Begin starts the windup of an attack.
func (c *Combat) Begin() {
	c.InProgress = true
	c.WindupRemaining = c.WindupMs
}

// Landed reports whether the attack in progress has finished its windup.
func (c *Combat) Landed() bool {
	return c.InProgress && c.WindupRemaining <= 0
}

// Finish completes the attack and starts the cooldown.
func (c *Combat) Finish() {
	c.InProgress = false
	c.WindupRemaining = 0
	c.CooldownRemaining = c.CooldownMs
	c.Attacks++
}

// Cancel abandons an attack in progress. The cooldown is left untouched.
func (c *Combat) Cancel() {
	c.InProgress = false
	c.WindupRemaining = 0
}
