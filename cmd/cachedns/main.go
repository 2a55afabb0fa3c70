// Command cachedns is a caching DNS forwarder: it answers from a local
// cache when possible and otherwise asks a single upstream resolver,
// persisting the cache across restarts (spec.md §1).
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/dnsscience/cachedns/internal/cache"
	"github.com/dnsscience/cachedns/internal/console"
	"github.com/dnsscience/cachedns/internal/metrics"
	"github.com/dnsscience/cachedns/internal/persist"
	"github.com/dnsscience/cachedns/internal/server"
)

var configPath = flag.String("config", "", "optional YAML config file")

func main() {
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: cachedns [-config file] <forwarder-host>")
		os.Exit(-1)
	}
	forwarderHost := flag.Arg(0)

	cfg := DefaultConfig()
	if *configPath != "" {
		loaded, err := LoadFileConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "cachedns: loading %s: %v\n", *configPath, err)
			os.Exit(-1)
		}
		cfg = loaded
	}

	forwarderAddr, err := resolveForwarder(forwarderHost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cachedns: forwarder %q unresolvable: %v\n", forwarderHost, err)
		os.Exit(-1)
	}

	fmt.Println("cachedns - caching DNS forwarder")
	fmt.Printf("  listen:    %s\n", cfg.ListenAddr)
	fmt.Printf("  forwarder: %s\n", forwarderAddr)
	fmt.Printf("  metrics:   %s\n", cfg.MetricsAddr)
	fmt.Printf("  cache:     %s\n", cfg.CachePath)
	fmt.Println()

	c := cache.New()
	if entries, err := persist.Load(cfg.CachePath); err != nil {
		fmt.Printf("cachedns: cache load: %v (starting empty)\n", err)
	} else {
		c.Load(entries)
		fmt.Printf("cachedns: loaded %d cache entries from %s\n", len(entries), cfg.CachePath)
	}

	guard, err := buildGuard(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cachedns: invalid ACL configuration: %v\n", err)
		os.Exit(-1)
	}

	m := metrics.New()
	go func() {
		if err := m.Serve(cfg.MetricsAddr); err != nil {
			fmt.Printf("cachedns: metrics server stopped: %v\n", err)
		}
	}()

	srv := server.New(server.Config{
		ListenAddr:    cfg.ListenAddr,
		ForwarderAddr: forwarderAddr,
		Guard:         guard,
		Metrics:       m,
	}, c)

	if err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "cachedns: startup failed: %v\n", err)
		os.Exit(-1)
	}
	fmt.Println("cachedns: serving")

	consoleDone := make(chan struct{})
	go func() {
		console.Run(os.Stdin, os.Stdout, srv)
		close(consoleDone)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("\ncachedns: signal received, shutting down")
	case <-consoleDone:
		fmt.Println("cachedns: exit command received, shutting down")
	}

	shutdown(srv, c, cfg.CachePath)
}

// shutdown implements spec.md §5's shutdown protocol: stop accepting new
// datagrams, join handlers, then persist the cache.
func shutdown(srv *server.Server, c *cache.Cache, cachePath string) {
	srv.Stop()
	if err := persist.Save(c, cachePath); err != nil {
		fmt.Fprintf(os.Stderr, "cachedns: cache save failed: %v\n", err)
		return
	}
	fmt.Println("cachedns: cache saved")
}

// resolveForwarder turns a host (name or IP) into a host:port on the DNS
// port, per spec.md §6.
func resolveForwarder(host string) (string, error) {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host, nil
	}
	addrs, err := net.LookupHost(host)
	if err != nil {
		return "", err
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("no addresses found for %q", host)
	}
	return net.JoinHostPort(addrs[0], "53"), nil
}
