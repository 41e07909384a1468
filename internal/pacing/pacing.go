package pacing

import (
	"math/rand"
	"time"
)

// MinInterval is the gateway's documented minimum inter-message interval.
// Configuration can lengthen the effective delay but never shorten it
// below this floor; sending faster risks account-level penalties.
const MinInterval = 5 * time.Second

const (
	minDerivedJitter = 500 * time.Millisecond
	maxDerivedJitter = 3 * time.Second
)

// Config contains pacing configuration for one campaign.
type Config struct {
	// DelayBetween is the configured base delay between messages.
	// Values below MinInterval are raised to the floor.
	DelayBetween time.Duration

	// Jitter is the width of the randomized window added to the base
	// delay. Zero means a jitter is derived automatically so the send
	// cadence never looks like a fixed-period bot pattern.
	Jitter time.Duration

	// MessagesBeforeBreak inserts a longer cool-down pause every N
	// messages. Zero disables breaks.
	MessagesBeforeBreak int

	// BreakDuration is the length of the cool-down pause.
	BreakDuration time.Duration
}

// Policy computes the delay that must elapse before each send.
type Policy struct {
	cfg Config
	rng *rand.Rand
}

// NewPolicy creates a pacing policy. A nil rng falls back to a
// time-seeded source; tests inject a fixed seed for determinism.
func NewPolicy(cfg Config, rng *rand.Rand) *Policy {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Policy{cfg: cfg, rng: rng}
}

// Delay returns the wait before the send at zero-based position i in the
// global send sequence of a campaign.
func (p *Policy) Delay(i int) time.Duration {
	if i > 0 && p.cfg.MessagesBeforeBreak > 0 && i%p.cfg.MessagesBeforeBreak == 0 {
		return maxDuration(p.cfg.BreakDuration, MinInterval)
	}

	base := maxDuration(p.cfg.DelayBetween, MinInterval)
	jitter := p.cfg.Jitter
	if jitter <= 0 {
		jitter = derivedJitter(base)
	}

	return base + time.Duration(p.rng.Int63n(int64(jitter)+1))
}

// Base returns the effective base delay after applying the floor.
func (p *Policy) Base() time.Duration {
	return maxDuration(p.cfg.DelayBetween, MinInterval)
}

// derivedJitter keeps the randomized window bounded when no jitter is
// configured: a third of the base, clamped to [500ms, 3s].
func derivedJitter(base time.Duration) time.Duration {
	j := base / 3
	if j < minDerivedJitter {
		return minDerivedJitter
	}
	if j > maxDerivedJitter {
		return maxDerivedJitter
	}
	return j
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
