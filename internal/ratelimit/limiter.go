// Package ratelimit implements the token-bucket guard in front of the
// ingress webhook endpoints: one bucket per client IP, and a second bucket
// per side (the webhook endpoint the request arrived on) whenever a side is
// given.
package ratelimit

import (
	"sync"
	"sync/atomic"
	"time"
)

type bucket struct {
	tokens   float64
	lastTime time.Time
	rps      float64
	burst    int
}

func (b *bucket) allow(now time.Time) bool {
	elapsed := now.Sub(b.lastTime).Seconds()
	b.tokens += elapsed * b.rps
	if b.tokens > float64(b.burst) {
		b.tokens = float64(b.burst)
	}
	b.lastTime = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

type Limiter struct {
	mu sync.Mutex

	ipBuckets  map[string]*bucket
	keyBuckets map[string]*bucket

	ipRPS    float64
	ipBurst  int
	keyRPS   float64
	keyBurst int

	rejected atomic.Int64
	stopCh   chan struct{}
}

func NewLimiter(ipRPS float64, ipBurst int, sideRPS float64, sideBurst int) *Limiter {
	l := &Limiter{
		ipBuckets:  make(map[string]*bucket),
		keyBuckets: make(map[string]*bucket),
		ipRPS:      ipRPS,
		ipBurst:    ipBurst,
		keyRPS:     sideRPS,
		keyBurst:   sideBurst,
		stopCh:     make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// Allow reports whether a request from clientIP and the given side name
// is within its bucket. side is the endpoint the request arrived on
// (cloud or local), which is already known from the URL path at the time
// the guard runs, ahead of any signature verification against the body.
func (l *Limiter) Allow(clientIP, side string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()

	ib, ok := l.ipBuckets[clientIP]
	if !ok {
		ib = &bucket{tokens: float64(l.ipBurst), lastTime: now, rps: l.ipRPS, burst: l.ipBurst}
		l.ipBuckets[clientIP] = ib
	}
	if !ib.allow(now) {
		l.rejected.Add(1)
		return false
	}

	if side != "" {
		kb, ok := l.keyBuckets[side]
		if !ok {
			kb = &bucket{tokens: float64(l.keyBurst), lastTime: now, rps: l.keyRPS, burst: l.keyBurst}
			l.keyBuckets[side] = kb
		}
		if !kb.allow(now) {
			l.rejected.Add(1)
			return false
		}
	}

	return true
}

func (l *Limiter) Status() map[string]interface{} {
	l.mu.Lock()
	ipCount := len(l.ipBuckets)
	keyCount := len(l.keyBuckets)
	l.mu.Unlock()

	return map[string]interface{}{
		"active_ip_limiters":  ipCount,
		"active_key_limiters": keyCount,
		"total_rejected":      l.rejected.Load(),
		"ip_rps":              l.ipRPS,
		"ip_burst":            l.ipBurst,
		"per_key_rps":         l.keyRPS,
		"per_key_burst":       l.keyBurst,
	}
}

func (l *Limiter) Stop() {
	close(l.stopCh)
}

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.mu.Lock()
			now := time.Now()
			for ip, b := range l.ipBuckets {
				if now.Sub(b.lastTime) > 5*time.Minute {
					delete(l.ipBuckets, ip)
				}
			}
			for key, b := range l.keyBuckets {
				if now.Sub(b.lastTime) > 5*time.Minute {
					delete(l.keyBuckets, key)
				}
			}
			l.mu.Unlock()
		}
	}
}
