package acl

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestListDenyTakesPrecedence(t *testing.T) {
	l := NewList(true)
	require.NoError(t, l.Deny("10.0.0.0/8"))

	require.False(t, l.IsAllowed(net.ParseIP("10.1.2.3")))
	require.True(t, l.IsAllowed(net.ParseIP("192.168.1.1")))
}

func TestListDefaultDenyRequiresAllow(t *testing.T) {
	l := NewList(false)
	require.NoError(t, l.Allow("192.168.0.0/16"))

	require.True(t, l.IsAllowed(net.ParseIP("192.168.1.1")))
	require.False(t, l.IsAllowed(net.ParseIP("8.8.8.8")))
}

func TestRateLimiterBurstThenThrottle(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{QueriesPerSecond: 1, BurstSize: 2, CleanupInterval: time.Hour})
	ip := net.ParseIP("203.0.113.1")

	require.True(t, rl.Allow(ip))
	require.True(t, rl.Allow(ip))
	require.False(t, rl.Allow(ip))
}

func TestGuardAdmitsThenRateLimits(t *testing.T) {
	g := NewGuard(true)
	g.Rates = NewRateLimiter(RateLimiterConfig{QueriesPerSecond: 1, BurstSize: 1, CleanupInterval: time.Hour})
	require.NoError(t, g.List.Deny("198.51.100.0/24"))

	require.True(t, g.Admit(net.ParseIP("203.0.113.5")))
	require.False(t, g.Admit(net.ParseIP("198.51.100.7")))
}
