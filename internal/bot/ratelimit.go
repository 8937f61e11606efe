package bot

import (
	"sync"
	"time"
)

const defaultLimit = 2 * time.Second

// RateLimiter ограничивает частоту команд для каждого пользователя в памяти процесса.
type RateLimiter struct {
	mu       sync.Mutex
	lastCall map[int64]map[string]time.Time
	limits   map[string]time.Duration
	exempt   func(int64) bool
	now      func() time.Time
}

// NewRateLimiter; exempt помечает пользователей без ограничений (операторов).
func NewRateLimiter(exempt func(int64) bool) *RateLimiter {
	return &RateLimiter{
		lastCall: make(map[int64]map[string]time.Time),
		limits: map[string]time.Duration{
			"buy":   10 * time.Second,
			"sub":   5 * time.Second,
			"start": 5 * time.Second,
		},
		exempt: exempt,
		now:    time.Now,
	}
}

// IsLimited returns true if user is rate-limited for this command
func (r *RateLimiter) IsLimited(userID int64, cmd string) bool {
	if r.exempt != nil && r.exempt(userID) {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if r.lastCall[userID] == nil {
		r.lastCall[userID] = make(map[string]time.Time)
	}
	limit, ok := r.limits[cmd]
	if !ok {
		limit = defaultLimit
	}
	last := r.lastCall[userID][cmd]
	if now.Sub(last) < limit {
		return true
	}
	r.lastCall[userID][cmd] = now
	return false
}
