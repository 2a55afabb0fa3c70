// Package acl provides per-client admission control for the UDP server:
// allow/deny CIDR lists and a token-bucket rate limiter. Checked before a
// datagram reaches the resolver; spec.md §4.5's "silently drop" posture
// for malformed packets is reused here for rejected clients.
package acl

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// List is an allow/deny CIDR list with a default policy, grounded on
// internal/engine/acl.go's ACL type.
type List struct {
	mu           sync.RWMutex
	allowedNets  []*net.IPNet
	deniedNets   []*net.IPNet
	defaultAllow bool
}

// NewList returns a List with the given default policy: if defaultAllow
// is true, every client is allowed unless explicitly denied; if false,
// every client is denied unless explicitly allowed.
func NewList(defaultAllow bool) *List {
	return &List{defaultAllow: defaultAllow}
}

// Allow adds a network (CIDR or bare IP) to the allow list.
func (l *List) Allow(cidr string) error {
	ipnet, err := parseNet(cidr)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.allowedNets = append(l.allowedNets, ipnet)
	return nil
}

// Deny adds a network (CIDR or bare IP) to the deny list.
func (l *List) Deny(cidr string) error {
	ipnet, err := parseNet(cidr)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deniedNets = append(l.deniedNets, ipnet)
	return nil
}

// IsAllowed evaluates ip against the deny list, then the allow list, then
// the default policy, in that order.
func (l *List) IsAllowed(ip net.IP) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, denied := range l.deniedNets {
		if denied.Contains(ip) {
			return false
		}
	}
	for _, allowed := range l.allowedNets {
		if allowed.Contains(ip) {
			return true
		}
	}
	return l.defaultAllow
}

func parseNet(cidr string) (*net.IPNet, error) {
	_, ipnet, err := net.ParseCIDR(cidr)
	if err == nil {
		return ipnet, nil
	}
	ip := net.ParseIP(cidr)
	if ip == nil {
		return nil, err
	}
	if ip.To4() != nil {
		return &net.IPNet{IP: ip, Mask: net.CIDRMask(32, 32)}, nil
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(128, 128)}, nil
}

// RateLimiterConfig holds the token-bucket parameters applied per client
// IP, grounded on internal/engine/ratelimiter.go's RateLimiterConfig.
type RateLimiterConfig struct {
	QueriesPerSecond float64
	BurstSize        int
	CleanupInterval  time.Duration
}

// DefaultRateLimiterConfig returns sensible defaults: 100 QPS, burst 200,
// cleanup every 5 minutes.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		QueriesPerSecond: 100,
		BurstSize:        200,
		CleanupInterval:  5 * time.Minute,
	}
}

// RateLimiter applies a per-IP token bucket, grounded on
// internal/engine/ratelimiter.go's RateLimiter.
type RateLimiter struct {
	mu              sync.Mutex
	limitersByIP    map[string]*rate.Limiter
	queriesPerSec   rate.Limit
	burstSize       int
	cleanupInterval time.Duration
	lastCleanup     time.Time
}

// NewRateLimiter returns a RateLimiter configured per cfg.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	return &RateLimiter{
		limitersByIP:    make(map[string]*rate.Limiter),
		queriesPerSec:   rate.Limit(cfg.QueriesPerSecond),
		burstSize:       cfg.BurstSize,
		cleanupInterval: cfg.CleanupInterval,
		lastCleanup:     time.Now(),
	}
}

// Allow reports whether a query from ip may proceed right now.
func (rl *RateLimiter) Allow(ip net.IP) bool {
	key := ip.String()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if time.Since(rl.lastCleanup) > rl.cleanupInterval {
		rl.limitersByIP = make(map[string]*rate.Limiter)
		rl.lastCleanup = time.Now()
	}

	limiter, ok := rl.limitersByIP[key]
	if !ok {
		limiter = rate.NewLimiter(rl.queriesPerSec, rl.burstSize)
		rl.limitersByIP[key] = limiter
	}
	return limiter.Allow()
}

// Guard bundles a List and a RateLimiter into the single admission check
// the UDP server runs before dispatching a datagram to the resolver.
type Guard struct {
	List  *List
	Rates *RateLimiter
}

// NewGuard returns a Guard with the given default ACL policy and the
// default rate-limiter configuration.
func NewGuard(defaultAllow bool) *Guard {
	return &Guard{
		List:  NewList(defaultAllow),
		Rates: NewRateLimiter(DefaultRateLimiterConfig()),
	}
}

// Admit reports whether a datagram from ip should be processed.
func (g *Guard) Admit(ip net.IP) bool {
	if !g.List.IsAllowed(ip) {
		return false
	}
	return g.Rates.Allow(ip)
}
