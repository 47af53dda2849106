package websocket

import (
	"sync"
	"time"
)

// Frame budgets per minute
type RateLimits struct {
	MaxTypingEvents int
	MaxCallSignals  int
	MaxJoins        int
	MaxPingMessages int
}

var DefaultRateLimits = RateLimits{
	MaxTypingEvents: 60,
	MaxCallSignals:  600,
	MaxJoins:        120,
	MaxPingMessages: 60,
}

// FrameLimiter tracks per-session budgets. Budgets refill in full once a
// minute has passed since the last refill.
type FrameLimiter struct {
	limits     RateLimits
	typing     int
	call       int
	join       int
	ping       int
	lastRefill time.Time
	now        func() time.Time
	mu         sync.Mutex
}

func NewFrameLimiter(limits RateLimits) *FrameLimiter {
	rl := &FrameLimiter{limits: limits, now: time.Now}
	rl.refill(rl.now())
	return rl
}

// Allow consumes one token for frameType. Frame types without a budget are
// always allowed.
func (rl *FrameLimiter) Allow(frameType string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastRefill) >= time.Minute {
		rl.refill(now)
	}

	var bucket *int
	switch frameType {
	case FrameTypingStart, FrameTypingStop:
		bucket = &rl.typing
	case FrameCallOffer, FrameCallAnswer, FrameCallICECandidate:
		bucket = &rl.call
	case FrameJoin:
		bucket = &rl.join
	case FramePing:
		bucket = &rl.ping
	default:
		return true
	}
	if *bucket <= 0 {
		return false
	}
	*bucket--
	return true
}

func (rl *FrameLimiter) refill(now time.Time) {
	rl.typing = rl.limits.MaxTypingEvents
	rl.call = rl.limits.MaxCallSignals
	rl.join = rl.limits.MaxJoins
	rl.ping = rl.limits.MaxPingMessages
	rl.lastRefill = now
}
