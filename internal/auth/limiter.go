package auth

import (
	"sync"
	"time"
)

type attempt struct {
	failures    int
	windowStart time.Time
	lockedUntil time.Time
}

// loginLimiter はIPごとのログイン失敗回数を数え、上限に達したら一定時間ロックします。
type loginLimiter struct {
	mu       sync.Mutex
	max      int
	window   time.Duration
	lockFor  time.Duration
	attempts map[string]*attempt
}

func newLoginLimiter(max int, window, lockFor time.Duration) *loginLimiter {
	return &loginLimiter{
		max:      max,
		window:   window,
		lockFor:  lockFor,
		attempts: make(map[string]*attempt),
	}
}

// locked はロック中なら残り時間を返します。
func (l *loginLimiter) locked(key string, now time.Time) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.attempts[key]
	if !ok || !now.Before(a.lockedUntil) {
		return 0
	}
	return a.lockedUntil.Sub(now)
}

// fail は失敗を記録し、ロックまでの残り回数を返します。
func (l *loginLimiter) fail(key string, now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.attempts[key]
	if !ok || now.Sub(a.windowStart) > l.window {
		a = &attempt{windowStart: now}
		l.attempts[key] = a
	}
	a.failures = min(a.failures+1, l.max)
	if a.failures == l.max {
		a.lockedUntil = now.Add(l.lockFor)
	}
	return l.max - a.failures
}

func (l *loginLimiter) reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.attempts, key)
}
