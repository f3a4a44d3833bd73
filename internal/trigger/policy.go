package trigger

import (
	"sync"
	"time"

	"visiontrigger/internal/pipeline"
)

// Policy decides whether a detection batch fires an actuation. A batch
// qualifies when it holds at least one detection of the target label with
// confidence above the threshold; a qualifying batch fires only if the
// previous fire is at least cooldown in the past.
type Policy struct {
	targetLabel string
	threshold   float32
	cooldown    time.Duration

	mu       sync.Mutex
	lastFire time.Time
	fired    bool
}

// PolicyConfig configures a Policy
type PolicyConfig struct {
	TargetLabel string
	Threshold   float32
	Cooldown    time.Duration
}

// NewPolicy creates a trigger policy
func NewPolicy(cfg PolicyConfig) *Policy {
	if cfg.Cooldown < 0 {
		cfg.Cooldown = 0
	}
	return &Policy{
		targetLabel: cfg.TargetLabel,
		threshold:   cfg.Threshold,
		cooldown:    cfg.Cooldown,
	}
}

// ShouldFire evaluates one batch at time now. At most one fire per batch,
// however many detections qualify.
func (p *Policy) ShouldFire(batch *pipeline.Batch, now time.Time) bool {
	if len(batch.Filter(p.targetLabel, p.threshold)) == 0 {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.fired && now.Sub(p.lastFire) < p.cooldown {
		return false
	}

	p.lastFire = now
	p.fired = true
	return true
}

// LastFire returns the time of the last fire and whether there was one
func (p *Policy) LastFire() (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastFire, p.fired
}

// TargetLabel returns the label the policy fires on
func (p *Policy) TargetLabel() string { return p.targetLabel }

// Threshold returns the confidence a detection must exceed
func (p *Policy) Threshold() float32 { return p.threshold }

// Cooldown returns the minimum interval between fires
func (p *Policy) Cooldown() time.Duration { return p.cooldown }

// Reset forgets the last fire, so the next qualifying batch fires
func (p *Policy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastFire = time.Time{}
	p.fired = false
}
