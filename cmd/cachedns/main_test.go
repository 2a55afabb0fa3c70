package main

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveForwarderPassesThroughHostPort(t *testing.T) {
	addr, err := resolveForwarder("8.8.8.8:53")
	require.NoError(t, err)
	require.Equal(t, "8.8.8.8:53", addr)
}

func TestResolveForwarderAppendsDNSPort(t *testing.T) {
	addr, err := resolveForwarder("127.0.0.1")
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:53", addr)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, ":53", cfg.ListenAddr)
	require.Equal(t, "cache", cfg.CachePath)
	require.True(t, cfg.DefaultAllow)
}

func TestBuildGuardAppliesACLLists(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DenyNets = []string{"10.0.0.0/8"}

	g, err := buildGuard(cfg)
	require.NoError(t, err)
	require.False(t, g.List.IsAllowed(net.ParseIP("10.1.2.3")))
	require.True(t, g.List.IsAllowed(net.ParseIP("8.8.8.8")))
}
