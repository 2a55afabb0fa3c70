package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dnsscience/cachedns/internal/wire"
)

func aRecord(name string, ttl uint32) wire.ResourceRecord {
	return wire.ResourceRecord{
		Name: name, Type: wire.TypeA, Class: 1, TTL: ttl,
		RData: []byte{0x01, 0x02, 0x03, 0x04},
	}
}

func TestInsertThenLookupFinds(t *testing.T) {
	c := New()
	rr := aRecord("www.example.com.", 60)
	c.Insert(rr)

	got := c.Lookup(wire.Question{Name: "www.example.com.", Type: wire.TypeA, Class: 1})
	require.Len(t, got, 1)
	require.Equal(t, rr, got[0])
}

func TestInsertDuplicateIsNoOp(t *testing.T) {
	c := New()
	rr := aRecord("www.example.com.", 60)
	c.Insert(rr)
	c.Insert(rr)

	got := c.Lookup(wire.Question{Name: "www.example.com.", Type: wire.TypeA, Class: 1})
	require.Len(t, got, 1)
}

func TestTTLExpiry(t *testing.T) {
	c := New()
	fakeNow := time.Now()
	c.now = func() time.Time { return fakeNow }

	c.Insert(aRecord("expiring.test.", 1))

	fakeNow = fakeNow.Add(2 * time.Second)

	got := c.Lookup(wire.Question{Name: "expiring.test.", Type: wire.TypeA, Class: 1})
	require.Empty(t, got)
	require.Equal(t, "cache empty\n", c.Status())
}

func TestLookupReturnsInsertionOrder(t *testing.T) {
	c := New()
	first := wire.ResourceRecord{Name: "multi.test.", Type: wire.TypeA, Class: 1, TTL: 60, RData: []byte{1}}
	second := wire.ResourceRecord{Name: "multi.test.", Type: wire.TypeA, Class: 1, TTL: 60, RData: []byte{2}}
	c.Insert(first)
	c.Insert(second)

	got := c.Lookup(wire.Question{Name: "multi.test.", Type: wire.TypeA, Class: 1})
	require.Equal(t, []wire.ResourceRecord{first, second}, got)
}

func TestLoadDropsAlreadyExpiredEntries(t *testing.T) {
	c := New()
	c.Load([]Entry{
		{RR: aRecord("stale.test.", 1), InsertedAt: time.Now().Add(-10 * time.Second)},
		{RR: aRecord("fresh.test.", 60), InsertedAt: time.Now()},
	})

	require.Empty(t, c.Lookup(wire.Question{Name: "stale.test.", Type: wire.TypeA, Class: 1}))
	require.Len(t, c.Lookup(wire.Question{Name: "fresh.test.", Type: wire.TypeA, Class: 1}), 1)
}
