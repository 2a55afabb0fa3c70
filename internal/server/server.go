// Package server implements the UDP listener (C5) and the startup
// self-forwarder guard (C6): spec.md §4.5/§4.6.
package server

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dnsscience/cachedns/internal/acl"
	"github.com/dnsscience/cachedns/internal/cache"
	"github.com/dnsscience/cachedns/internal/metrics"
	"github.com/dnsscience/cachedns/internal/resolver"
	"github.com/dnsscience/cachedns/internal/wire"
)

const (
	// readTimeout bounds each ReadFromUDP call so the accept loop can
	// observe the shutdown flag promptly, per spec.md §4.5/§5.
	readTimeout = 500 * time.Millisecond

	maxDatagramSize = 512

	// probeQName is the self-forwarder guard's synthetic question name;
	// any non-resolvable name works (spec.md §9 Open Questions).
	probeQName   = "recursion.check.packet."
	probeID      = 0xC3C3
	probeTimeout = 2 * time.Second
)

// Config holds the server's construction parameters.
type Config struct {
	ListenAddr    string // e.g. ":53"
	ForwarderAddr string // host:port of the configured upstream
	Guard         *acl.Guard
	Metrics       *metrics.Metrics
}

// Server owns the listening socket, the cache, and the resolver, and runs
// the goroutine-per-datagram accept loop described in spec.md §4.5.
type Server struct {
	cfg      Config
	cache    *cache.Cache
	resolver *resolver.Resolver
	guard    *acl.Guard
	metrics  *metrics.Metrics

	conn *net.UDPConn

	shutdown atomic.Bool
	wg       sync.WaitGroup
}

// New constructs a Server. It does not yet bind the socket or run the
// self-forwarder guard; call Start for that.
func New(cfg Config, c *cache.Cache) *Server {
	r := resolver.New(c, resolver.Config{ForwarderAddr: cfg.ForwarderAddr, Metrics: cfg.Metrics})
	return &Server{
		cfg:      cfg,
		cache:    c,
		resolver: r,
		guard:    cfg.Guard,
		metrics:  cfg.Metrics,
	}
}

// Resolver returns the server's resolver, so the console can toggle
// forwarder_on/forwarder_off.
func (s *Server) Resolver() *resolver.Resolver {
	return s.resolver
}

// Cache returns the server's cache, so the console can dump status and
// main can persist it at shutdown.
func (s *Server) Cache() *cache.Cache {
	return s.cache
}

// CacheStatus implements console.Server.
func (s *Server) CacheStatus() string {
	return s.cache.Status()
}

// SetForwarderEnabled implements console.Server.
func (s *Server) SetForwarderEnabled(enabled bool) {
	s.resolver.SetForwarderEnabled(enabled)
}

// Start binds the listening socket, runs the self-forwarder guard against
// it, and then spawns the accept loop.
func (s *Server) Start() error {
	addr, err := net.ResolveUDPAddr("udp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("server: resolve listen address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("server: bind %s: %w", s.cfg.ListenAddr, err)
	}
	s.conn = conn

	// The guard reads the probe back off this very socket, so it must run
	// before the accept loop starts consuming datagrams from it
	// (spec.md §4.6).
	if err := checkNotSelfForwarder(s.conn, s.cfg.ForwarderAddr); err != nil {
		s.conn.Close()
		return fmt.Errorf("server: startup check failed: %w", err)
	}

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Stop sets the shutdown flag and waits for the accept loop (and any
// handlers it has already spawned) to observe it and exit.
func (s *Server) Stop() {
	s.shutdown.Store(true)
	if s.conn != nil {
		s.conn.Close()
	}
	s.wg.Wait()
}

// acceptLoop is the single thread that owns the listening socket: it
// reads one datagram at a time and spawns a fresh handler for each,
// exactly the thread-per-datagram model spec.md §4.5/§9 describes.
// Grounded on internal/transport/fast_udp.go's worker().
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	buf := make([]byte, 65535)
	for {
		if s.shutdown.Load() {
			return
		}

		_ = s.conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if s.shutdown.Load() {
				return
			}
			continue
		}

		datagram := make([]byte, n)
		copy(datagram, buf[:n])

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleDatagram(datagram, addr)
		}()
	}
}

// handleDatagram implements spec.md §4.5 steps 1-4 for one request.
func (s *Server) handleDatagram(datagram []byte, addr *net.UDPAddr) {
	if s.guard != nil && !s.guard.Admit(addr.IP) {
		return
	}

	if s.metrics != nil {
		s.metrics.QueriesTotal.Inc()
	}

	req, err := wire.Parse(datagram)
	if err != nil {
		// spec.md §4.5: parse failures are logged and the datagram is
		// silently dropped; no FORMERR reply is synthesized.
		fmt.Printf("server: drop malformed datagram from %s: %v\n", addr, err)
		return
	}

	resp := &wire.Message{
		Header: wire.Header{
			ID:    req.Header.ID,
			Flags: wire.FlagResponse,
		},
		Questions: req.Questions,
	}

	for _, q := range req.Questions {
		answers := s.resolver.Resolve(q)
		resp.Answers = append(resp.Answers, answers...)
	}

	if s.metrics != nil {
		if len(resp.Answers) > 0 {
			s.metrics.CacheHitsTotal.Inc()
		} else {
			s.metrics.CacheMissesTotal.Inc()
		}
	}

	out, err := resp.Marshal()
	if err != nil {
		fmt.Printf("server: drop unserializable response to %s: %v\n", addr, err)
		return
	}

	if _, err := s.conn.WriteToUDP(out, addr); err != nil {
		fmt.Printf("server: send to %s failed: %v\n", addr, err)
	}
}

// checkNotSelfForwarder implements C6: send one probe query with a fixed
// ID and synthetic qname to the forwarder, then watch the listening
// socket itself for that same query. A genuine forwarder replies to the
// probe's own ephemeral sending socket, which this server never reads
// from, so that case just times out here. Only a forwarder that is this
// very process delivers the probe datagram back onto listenConn, since
// it is addressed to this server's own service port.
func checkNotSelfForwarder(listenConn *net.UDPConn, forwarderAddr string) error {
	sendConn, err := net.DialTimeout("udp", forwarderAddr, probeTimeout)
	if err != nil {
		// Forwarder unresolvable/unreachable is a separate startup
		// failure, not evidence of a loop; let the caller's later
		// forwarding attempts surface this.
		return nil
	}
	defer sendConn.Close()

	probeQuestion := wire.Question{Name: probeQName, Type: wire.TypeA, Class: 1}
	probe := &wire.Message{
		Header:    wire.Header{ID: probeID, Flags: wire.FlagStandardQuery, QDCount: 1},
		Questions: []wire.Question{probeQuestion},
	}

	out, err := probe.Marshal()
	if err != nil {
		return nil
	}

	if _, err := sendConn.Write(out); err != nil {
		return nil
	}

	deadline := time.Now().Add(probeTimeout)
	buf := make([]byte, maxDatagramSize)
	for {
		if err := listenConn.SetReadDeadline(deadline); err != nil {
			return nil
		}
		n, _, err := listenConn.ReadFromUDP(buf)
		if err != nil {
			// Timeout: absence of evidence is not evidence of a loop
			// (spec.md §4.6).
			return nil
		}

		looped, err := wire.Parse(buf[:n])
		if err != nil {
			// Not our probe; keep watching until the deadline.
			continue
		}
		if looped.Header.ID == probeID && len(looped.Questions) == 1 && looped.Questions[0].Equal(probeQuestion) {
			return fmt.Errorf("configured forwarder %s is this server (self-loop detected)", forwarderAddr)
		}
	}
}
