package resilience

import (
	"sync"
	"time"
)

// HybridRateLimiter combines a token bucket (burst capacity) with a sliding
// window (sustained-rate smoothing), ported from
// services/api-gateway/rate_limiter_hybrid.go. Used per source key (the
// request's remote address) on the coordinator's /workers/register,
// /workers/stats, /tasks/pull, /tasks/report and /files/ endpoints so a
// misbehaving worker can't starve the queue store of transaction
// throughput.
type HybridRateLimiter struct {
	mu sync.Mutex

	capacity int
	tokens   int
	refill   int
	interval time.Duration
	updated  time.Time

	windowSize   time.Duration
	requestLimit int
	timestamps   []time.Time
	head, size   int
}

// NewHybridRateLimiter builds a limiter with the given burst capacity,
// refill rate, and sliding-window request cap.
func NewHybridRateLimiter(capacity, refill int, interval, windowSize time.Duration, requestLimit int) *HybridRateLimiter {
	return &HybridRateLimiter{
		capacity:     capacity,
		tokens:       capacity,
		refill:       refill,
		interval:     interval,
		updated:      time.Now(),
		windowSize:   windowSize,
		requestLimit: requestLimit,
		timestamps:   make([]time.Time, requestLimit*2),
	}
}

// Allow reports whether a request may proceed, consuming a token and
// recording it in the sliding window if so.
func (h *HybridRateLimiter) Allow() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	if !h.refillLocked(now) {
		return false
	}
	if !h.withinWindowLocked(now) {
		return false
	}
	h.tokens--
	h.recordLocked(now)
	return true
}

func (h *HybridRateLimiter) refillLocked(now time.Time) bool {
	elapsed := now.Sub(h.updated)
	if elapsed >= h.interval {
		periods := int(elapsed / h.interval)
		if periods > 0 {
			h.tokens += periods * h.refill
			if h.tokens > h.capacity {
				h.tokens = h.capacity
			}
			h.updated = now
		}
	}
	return h.tokens > 0
}

func (h *HybridRateLimiter) withinWindowLocked(now time.Time) bool {
	if h.size == 0 {
		return true
	}
	cutoff := now.Add(-h.windowSize)
	count := 0
	for i := 0; i < h.size; i++ {
		idx := (h.head + i) % len(h.timestamps)
		if h.timestamps[idx].After(cutoff) {
			count++
		}
	}
	return count < h.requestLimit
}

func (h *HybridRateLimiter) recordLocked(now time.Time) {
	h.timestamps[h.head] = now
	h.head = (h.head + 1) % len(h.timestamps)
	if h.size < len(h.timestamps) {
		h.size++
	}
}

// PerKeyRateLimiter manages one HybridRateLimiter per key (the coordinator
// keys it on the request's remote address), lazily created on first use.
type PerKeyRateLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*HybridRateLimiter
	config   RateLimitConfig

	lastCleanup   time.Time
	cleanupPeriod time.Duration
}

// RateLimitConfig configures every per-key limiter a PerKeyRateLimiter creates.
type RateLimitConfig struct {
	Capacity     int
	Refill       int
	Interval     time.Duration
	WindowSize   time.Duration
	RequestLimit int
}

// NewPerKeyRateLimiter builds a pool of per-key limiters sharing config.
func NewPerKeyRateLimiter(config RateLimitConfig) *PerKeyRateLimiter {
	return &PerKeyRateLimiter{
		limiters:      make(map[string]*HybridRateLimiter),
		config:        config,
		lastCleanup:   time.Now(),
		cleanupPeriod: 10 * time.Minute,
	}
}

// Allow checks the given key's limiter, creating one on first use.
func (p *PerKeyRateLimiter) Allow(key string) bool {
	return p.getLimiter(key).Allow()
}

func (p *PerKeyRateLimiter) getLimiter(key string) *HybridRateLimiter {
	p.mu.RLock()
	limiter, exists := p.limiters[key]
	p.mu.RUnlock()
	if exists {
		return limiter
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if limiter, exists := p.limiters[key]; exists {
		return limiter
	}
	limiter = NewHybridRateLimiter(p.config.Capacity, p.config.Refill, p.config.Interval, p.config.WindowSize, p.config.RequestLimit)
	p.limiters[key] = limiter

	now := time.Now()
	if now.Sub(p.lastCleanup) > p.cleanupPeriod {
		p.cleanupStaleLocked(now)
		p.lastCleanup = now
	}
	return limiter
}

func (p *PerKeyRateLimiter) cleanupStaleLocked(now time.Time) {
	cutoff := now.Add(-30 * time.Minute)
	for key, limiter := range p.limiters {
		limiter.mu.Lock()
		lastUsed := limiter.updated
		limiter.mu.Unlock()
		if lastUsed.Before(cutoff) {
			delete(p.limiters, key)
		}
	}
}
