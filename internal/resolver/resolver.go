// Package resolver implements the question-to-answer pipeline: a cache
// lookup with CNAME chasing, falling back to a single upstream forwarder
// on miss (spec.md §4.4).
package resolver

import (
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/dnsscience/cachedns/internal/cache"
	"github.com/dnsscience/cachedns/internal/metrics"
	"github.com/dnsscience/cachedns/internal/random"
	"github.com/dnsscience/cachedns/internal/wire"
)

const (
	maxCNAMEDepth   = 8
	forwardTimeout  = 2 * time.Second
	forwarderDNSNet = "udp"
	dnsPort         = "53"
)

// Config holds the resolver's tunables, grounded on
// internal/resolver/recursive.go's Config shape.
type Config struct {
	// ForwarderAddr is host:port ("1.1.1.1:53") of the single upstream
	// resolver this server defers to on cache miss.
	ForwarderAddr string

	// Metrics records forwarder errors and round-trip latency. Optional;
	// a nil value disables recording.
	Metrics *metrics.Metrics
}

// Resolver answers questions by consulting a Cache, falling back to a
// single configured forwarder. Grounded on internal/resolver/recursive.go's
// Resolve shape, reduced from iterative root resolution to a single
// forwarder hop.
type Resolver struct {
	cache         *cache.Cache
	forwarderAddr string
	metrics       *metrics.Metrics
	enabled       atomic.Bool
}

// New returns a Resolver backed by c, forwarding to cfg.ForwarderAddr.
// Forwarding starts enabled.
func New(c *cache.Cache, cfg Config) *Resolver {
	r := &Resolver{cache: c, forwarderAddr: cfg.ForwarderAddr, metrics: cfg.Metrics}
	r.enabled.Store(true)
	return r
}

// SetForwarderEnabled toggles forwarder calls, driven by the console's
// forwarder_on/forwarder_off commands.
func (r *Resolver) SetForwarderEnabled(enabled bool) {
	r.enabled.Store(enabled)
}

// ForwarderEnabled reports whether forwarder calls are currently allowed.
func (r *Resolver) ForwarderEnabled() bool {
	return r.enabled.Load()
}

// Resolve answers q, first via the cache (chasing CNAMEs), then via the
// forwarder on a full miss. Never returns an error: an unresolvable or
// forwarder-disabled query simply yields an empty answer set, per
// spec.md §4.4 step 3.
func (r *Resolver) Resolve(q wire.Question) []wire.ResourceRecord {
	if rrs := r.resolveFromCache(q, 0); len(rrs) > 0 {
		return rrs
	}

	if !r.enabled.Load() {
		return nil
	}

	if err := r.forward(q); err != nil {
		return nil
	}

	return r.resolveFromCache(q, 0)
}

// resolveFromCache implements the cache path of spec.md §4.4 step 1:
// chase CNAMEs first, falling back to a direct lookup on q.
func (r *Resolver) resolveFromCache(q wire.Question, depth int) []wire.ResourceRecord {
	if depth >= maxCNAMEDepth {
		return nil
	}

	cnameQ := wire.Question{Name: q.Name, Type: wire.TypeCNAME, Class: q.Class}
	for _, cnameRR := range r.cache.Lookup(cnameQ) {
		canonical, err := decodeRDataName(cnameRR.RData)
		if err != nil {
			continue
		}
		chased := r.resolveFromCache(wire.Question{Name: canonical, Type: q.Type, Class: q.Class}, depth+1)
		if len(chased) > 0 {
			return append(chased, cnameRR)
		}
	}

	return r.cache.Lookup(q)
}

// forward sends q to the configured forwarder over a fresh UDP socket and
// inserts every RR of the reply's answer, authority, and additional
// sections into the cache. It does not itself return any answer; callers
// re-run the cache path afterward. Round-trip latency and failures are
// recorded on r.metrics, when set.
func (r *Resolver) forward(q wire.Question) error {
	start := time.Now()
	err := r.doForward(q)
	if r.metrics != nil {
		r.metrics.ForwarderDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			r.metrics.ForwarderErrorsTotal.Inc()
		}
	}
	return err
}

func (r *Resolver) doForward(q wire.Question) error {
	conn, err := net.DialTimeout(forwarderDNSNet, r.forwarderAddr, forwardTimeout)
	if err != nil {
		return fmt.Errorf("resolver: dial forwarder: %w", err)
	}
	defer conn.Close()

	query := &wire.Message{
		Header: wire.Header{
			ID:      random.TransactionID(),
			Flags:   wire.FlagStandardQuery,
			QDCount: 1,
		},
		Questions: []wire.Question{q},
	}

	out, err := query.Marshal()
	if err != nil {
		return fmt.Errorf("resolver: marshal query: %w", err)
	}

	if err := conn.SetDeadline(time.Now().Add(forwardTimeout)); err != nil {
		return fmt.Errorf("resolver: set deadline: %w", err)
	}
	if _, err := conn.Write(out); err != nil {
		return fmt.Errorf("resolver: send query: %w", err)
	}

	buf := make([]byte, 512)
	n, err := conn.Read(buf)
	if err != nil {
		return fmt.Errorf("resolver: receive reply: %w", err)
	}

	reply, err := wire.Parse(buf[:n])
	if err != nil {
		return fmt.Errorf("resolver: parse reply: %w", err)
	}

	for _, rr := range reply.Answers {
		r.cache.Insert(rr)
	}
	for _, rr := range reply.Authority {
		r.cache.Insert(rr)
	}
	for _, rr := range reply.Additional {
		r.cache.Insert(rr)
	}

	return nil
}

// decodeRDataName decodes a CNAME/NS RDATA blob, which C2's parse has
// already canonicalized to an uncompressed name, back into its dotted
// string form.
func decodeRDataName(rdata []byte) (string, error) {
	return wire.DecodeName(rdata)
}
