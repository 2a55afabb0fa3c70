package main

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dnsscience/cachedns/internal/acl"
)

// FileConfig is the optional YAML configuration loaded via -config,
// grounded on cmd/dnsscience-grpc/config.go's LoadConfig/yaml.Unmarshal
// pattern. It only covers the tunables the distilled CLI (a single
// positional forwarder host) doesn't surface.
type FileConfig struct {
	ListenAddr       string   `yaml:"listen_addr"`
	MetricsAddr      string   `yaml:"metrics_addr"`
	CachePath        string   `yaml:"cache_path"`
	AllowNets        []string `yaml:"allow_nets"`
	DenyNets         []string `yaml:"deny_nets"`
	DefaultAllow     bool     `yaml:"default_allow"`
	QueriesPerSecond float64  `yaml:"queries_per_second"`
	BurstSize        int      `yaml:"burst_size"`
}

// DefaultConfig returns the out-of-the-box tunables.
func DefaultConfig() FileConfig {
	return FileConfig{
		ListenAddr:       ":53",
		MetricsAddr:      ":9153",
		CachePath:        "cache",
		DefaultAllow:     true,
		QueriesPerSecond: 100,
		BurstSize:        200,
	}
}

// LoadFileConfig reads and parses a YAML config file, starting from
// DefaultConfig so unset fields keep their defaults.
func LoadFileConfig(path string) (FileConfig, error) {
	cfg := DefaultConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// buildGuard constructs an acl.Guard from the config's allow/deny CIDR
// lists and rate-limit budget.
func buildGuard(cfg FileConfig) (*acl.Guard, error) {
	g := &acl.Guard{
		List: acl.NewList(cfg.DefaultAllow),
		Rates: acl.NewRateLimiter(acl.RateLimiterConfig{
			QueriesPerSecond: cfg.QueriesPerSecond,
			BurstSize:        cfg.BurstSize,
			CleanupInterval:  acl.DefaultRateLimiterConfig().CleanupInterval,
		}),
	}
	for _, net := range cfg.AllowNets {
		if err := g.List.Allow(net); err != nil {
			return nil, err
		}
	}
	for _, net := range cfg.DenyNets {
		if err := g.List.Deny(net); err != nil {
			return nil, err
		}
	}
	return g, nil
}
