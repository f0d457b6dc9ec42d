// Package ratelimit implements two-tier request-rate governance: a general
// policy over all API routes and a stricter elevated policy applied
// additionally to compliance-sensitive routes.
package ratelimit

import (
	"errors"
	"sync"
	"time"

	"github.com/WriteProRO/writeproro-backendv2/pkg/config"
)

// Tier identifies which policy rejected a request.
type Tier string

const (
	TierGeneral  Tier = "general"
	TierElevated Tier = "elevated"
)

// ErrGeneralLimited rejects a request under general throttling.
var ErrGeneralLimited = errors.New("rate limit exceeded")

// ErrElevatedLimited rejects a request under compliance-mandated throttling.
var ErrElevatedLimited = errors.New("compliance rate limit exceeded")

// window is a fixed-window counter for one caller key. Counts increment
// monotonically within a window and reset to zero when it elapses.
type window struct {
	mu      sync.Mutex
	count   int
	resetAt time.Time
}

// policy maps caller keys to windows. Windows are created lazily on first
// request from a key; synchronization is per key, no lock spans the map.
type policy struct {
	limit     int
	windowLen time.Duration
	windows   sync.Map // string -> *window
}

func (p *policy) allow(key string, now time.Time) bool {
	v, _ := p.windows.LoadOrStore(key, &window{})
	w := v.(*window)

	w.mu.Lock()
	defer w.mu.Unlock()

	if !now.Before(w.resetAt) {
		w.count = 0
		w.resetAt = now.Add(p.windowLen)
	}
	if w.count >= p.limit {
		return false
	}
	w.count++
	return true
}

func (p *policy) size() int {
	n := 0
	p.windows.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Governor holds both policies. A request on an elevated path is checked
// against both; exceeding either rejects it.
type Governor struct {
	general  *policy
	elevated *policy
	now      func() time.Time
}

// New builds a Governor from the rate configuration.
func New(cfg config.RateConfig) *Governor {
	return &Governor{
		general:  &policy{limit: cfg.GeneralLimit, windowLen: cfg.Window},
		elevated: &policy{limit: cfg.ElevatedLimit, windowLen: cfg.Window},
		now:      time.Now,
	}
}

// Allow checks the caller key against the applicable policies. It returns
// nil when the request may proceed, ErrElevatedLimited when the elevated
// ceiling is hit, or ErrGeneralLimited when the general ceiling is hit.
// The elevated policy is evaluated first so that compliance throttling is
// reported even when the general tier still has headroom.
func (g *Governor) Allow(key string, elevated bool) error {
	now := g.now()
	if elevated && !g.elevated.allow(key, now) {
		return ErrElevatedLimited
	}
	if !g.general.allow(key, now) {
		return ErrGeneralLimited
	}
	return nil
}

// Snapshot reports how many caller keys each tier currently tracks.
func (g *Governor) Snapshot() map[Tier]int {
	return map[Tier]int{
		TierGeneral:  g.general.size(),
		TierElevated: g.elevated.size(),
	}
}
