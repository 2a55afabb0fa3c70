package resolver

import (
	"net"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/dnsscience/cachedns/internal/cache"
	"github.com/dnsscience/cachedns/internal/metrics"
	"github.com/dnsscience/cachedns/internal/wire"
)

func TestResolveCacheHit(t *testing.T) {
	c := cache.New()
	rr := wire.ResourceRecord{Name: "www.example.com.", Type: wire.TypeA, Class: 1, TTL: 60, RData: []byte{1, 2, 3, 4}}
	c.Insert(rr)

	r := New(c, Config{ForwarderAddr: "127.0.0.1:1"})
	got := r.Resolve(wire.Question{Name: "www.example.com.", Type: wire.TypeA, Class: 1})

	require.Equal(t, []wire.ResourceRecord{rr}, got)
}

func TestResolveCNAMEChase(t *testing.T) {
	c := cache.New()

	target := &wire.Message{
		Questions: []wire.Question{{Name: "b.test.", Type: wire.TypeA, Class: 1}},
	}
	encodedTarget, err := target.Marshal()
	require.NoError(t, err)
	// Marshal writes the question name at a known fixed offset (right
	// after the 12-byte header); slice it out as standalone RDATA.
	cnameRData := encodedTarget[12 : len(encodedTarget)-4]

	cnameRR := wire.ResourceRecord{Name: "a.test.", Type: wire.TypeCNAME, Class: 1, TTL: 60, RData: cnameRData}
	aRR := wire.ResourceRecord{Name: "b.test.", Type: wire.TypeA, Class: 1, TTL: 60, RData: []byte{10, 0, 0, 1}}
	c.Insert(cnameRR)
	c.Insert(aRR)

	r := New(c, Config{ForwarderAddr: "127.0.0.1:1"})
	got := r.Resolve(wire.Question{Name: "a.test.", Type: wire.TypeA, Class: 1})

	require.Equal(t, []wire.ResourceRecord{aRR, cnameRR}, got)
}

func TestResolveForwarderDisabledReturnsEmpty(t *testing.T) {
	c := cache.New()
	r := New(c, Config{ForwarderAddr: "127.0.0.1:1"})
	r.SetForwarderEnabled(false)

	got := r.Resolve(wire.Question{Name: "x.test.", Type: wire.TypeA, Class: 1})
	require.Empty(t, got)
}

func TestResolveForwardsAndCaches(t *testing.T) {
	stub, addr := startStubForwarder(t, wire.ResourceRecord{
		Name: "q.test.", Type: wire.TypeA, Class: 1, TTL: 30, RData: []byte{0x7F, 0x00, 0x00, 0x01},
	})
	defer stub.Close()

	c := cache.New()
	r := New(c, Config{ForwarderAddr: addr})

	got := r.Resolve(wire.Question{Name: "q.test.", Type: wire.TypeA, Class: 1})
	require.Len(t, got, 1)
	require.Equal(t, []byte{0x7F, 0x00, 0x00, 0x01}, got[0].RData)

	// Second query should be served from cache without another forwarder
	// round trip: close the stub first to prove no network call happens.
	stub.Close()
	got2 := r.Resolve(wire.Question{Name: "q.test.", Type: wire.TypeA, Class: 1})
	require.Len(t, got2, 1)
}

func TestResolveForwardRecordsMetrics(t *testing.T) {
	stub, addr := startStubForwarder(t, wire.ResourceRecord{
		Name: "m.test.", Type: wire.TypeA, Class: 1, TTL: 30, RData: []byte{0x7F, 0x00, 0x00, 0x01},
	})
	defer stub.Close()

	m := metrics.New()
	c := cache.New()
	r := New(c, Config{ForwarderAddr: addr, Metrics: m})

	r.Resolve(wire.Question{Name: "m.test.", Type: wire.TypeA, Class: 1})

	require.Equal(t, 1, testutil.CollectAndCount(m.ForwarderDuration))
	require.Equal(t, float64(0), testutil.ToFloat64(m.ForwarderErrorsTotal))
}

func TestResolveForwardErrorIncrementsMetric(t *testing.T) {
	unreachable := pickFreeUDPPort(t)

	m := metrics.New()
	c := cache.New()
	r := New(c, Config{ForwarderAddr: unreachable, Metrics: m})

	r.Resolve(wire.Question{Name: "err.test.", Type: wire.TypeA, Class: 1})

	require.Equal(t, float64(1), testutil.ToFloat64(m.ForwarderErrorsTotal))
	require.Equal(t, 1, testutil.CollectAndCount(m.ForwarderDuration))
}

// pickFreeUDPPort returns an address with no listener, for testing
// forwarder failures: bind then immediately close, so the port is
// unreachable but syntactically valid.
func pickFreeUDPPort(t *testing.T) string {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	addr := conn.LocalAddr().String()
	conn.Close()
	return addr
}

// startStubForwarder runs a minimal UDP server that replies to any query
// with a fixed answer RR, echoing the query's ID and question.
func startStubForwarder(t *testing.T, answer wire.ResourceRecord) (*net.UDPConn, string) {
	t.Helper()

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)

	go func() {
		buf := make([]byte, 512)
		for {
			n, addr, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			msg, err := wire.Parse(buf[:n])
			if err != nil {
				continue
			}
			reply := &wire.Message{
				Header:    wire.Header{ID: msg.Header.ID, Flags: wire.FlagResponse},
				Questions: msg.Questions,
				Answers:   []wire.ResourceRecord{answer},
			}
			out, err := reply.Marshal()
			if err != nil {
				continue
			}
			_, _ = conn.WriteToUDP(out, addr)
		}
	}()

	return conn, conn.LocalAddr().String()
}
