// Package persist saves and loads the cache snapshot referenced by
// spec.md §6: a single file, default name "cache", written at clean
// shutdown and read at startup. Format is implementation-defined but
// stable; this one is YAML (grounded on cmd/dnsscience-grpc/config.go's
// yaml.Unmarshal/ReadFile pattern and internal/zone/parser_dnszone.go's
// YAML-tagged structs) with a SipHash-2-4 checksum trailer (grounded on
// internal/cookie/cookie.go's siphash usage, repurposed here from cookie
// MACing to corruption detection) so a half-written file is discarded
// rather than partially loaded.
package persist

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/dchest/siphash"
	"gopkg.in/yaml.v3"

	"github.com/dnsscience/cachedns/internal/cache"
	"github.com/dnsscience/cachedns/internal/wire"
)

// DefaultPath is the snapshot file name spec.md §6 specifies.
const DefaultPath = "cache"

// checksumKey is fixed rather than random: the checksum only needs to
// detect accidental truncation/corruption of our own file, not resist a
// deliberate forger, so a stable key keeps the format reproducible across
// runs and across machines.
var checksumKey = [16]byte{
	0x63, 0x61, 0x63, 0x68, 0x65, 0x64, 0x6e, 0x73,
	0x2d, 0x73, 0x6e, 0x61, 0x70, 0x73, 0x68, 0x6f,
}

// record is one cache entry in its on-disk form.
type record struct {
	Name            string `yaml:"name"`
	Type            uint16 `yaml:"type"`
	Class           uint16 `yaml:"class"`
	TTL             uint32 `yaml:"ttl"`
	InsertedUnixMs  int64  `yaml:"inserted_unix_ms"`
	RDataB64        string `yaml:"rdata_b64"`
}

// document is the full on-disk snapshot file, minus its checksum trailer.
type document struct {
	SavedAt int64    `yaml:"saved_at"`
	Entries []record `yaml:"entries"`
}

// Save writes c's live entries to path, appending a checksum line.
func Save(c *cache.Cache, path string) error {
	entries := c.Snapshot()

	doc := document{SavedAt: time.Now().Unix()}
	for _, e := range entries {
		doc.Entries = append(doc.Entries, record{
			Name:           e.RR.Name,
			Type:           e.RR.Type,
			Class:          e.RR.Class,
			TTL:            e.RR.TTL,
			InsertedUnixMs: e.InsertedAt.UnixMilli(),
			RDataB64:       base64.StdEncoding.EncodeToString(e.RR.RData),
		})
	}

	body, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("persist: marshal snapshot: %w", err)
	}

	checksum := checksumOf(body)
	out := append(body, []byte(fmt.Sprintf("checksum: %s\n", hex.EncodeToString(checksum)))...)

	if err := os.WriteFile(path, out, 0o600); err != nil {
		return fmt.Errorf("persist: write %s: %w", path, err)
	}
	return nil
}

// Load reads a snapshot from path and returns its entries. Per spec.md
// §7, load failures (missing file, corrupt YAML, checksum mismatch) are
// reported but never fatal; callers should start with an empty cache.
func Load(path string) ([]cache.Entry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("persist: read %s: %w", path, err)
	}

	body, wantChecksum, err := splitChecksum(raw)
	if err != nil {
		return nil, fmt.Errorf("persist: %s: %w", path, err)
	}

	gotChecksum := checksumOf(body)
	if !equalChecksum(gotChecksum, wantChecksum) {
		return nil, fmt.Errorf("persist: %s: checksum mismatch, file is corrupt", path)
	}

	var doc document
	if err := yaml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("persist: unmarshal %s: %w", path, err)
	}

	entries := make([]cache.Entry, 0, len(doc.Entries))
	for _, rec := range doc.Entries {
		rdata, err := base64.StdEncoding.DecodeString(rec.RDataB64)
		if err != nil {
			continue
		}
		entries = append(entries, cache.Entry{
			RR: wire.ResourceRecord{
				Name: rec.Name, Type: rec.Type, Class: rec.Class, TTL: rec.TTL, RData: rdata,
			},
			InsertedAt: time.UnixMilli(rec.InsertedUnixMs),
		})
	}
	return entries, nil
}

func checksumOf(body []byte) []byte {
	h := siphash.New(checksumKey[:])
	h.Write(body)
	var out [8]byte
	binary.BigEndian.PutUint64(out[:], h.Sum64())
	return out[:]
}

// splitChecksum separates the trailing "checksum: <hex>\n" line Save
// appended from the YAML body that precedes it.
func splitChecksum(raw []byte) (body []byte, checksum []byte, err error) {
	const marker = "checksum: "
	idx := lastIndexOf(raw, []byte(marker))
	if idx < 0 {
		return nil, nil, fmt.Errorf("missing checksum trailer")
	}
	body = raw[:idx]
	hexChecksum := raw[idx+len(marker):]
	for len(hexChecksum) > 0 && (hexChecksum[len(hexChecksum)-1] == '\n' || hexChecksum[len(hexChecksum)-1] == '\r') {
		hexChecksum = hexChecksum[:len(hexChecksum)-1]
	}
	checksum, err = hex.DecodeString(string(hexChecksum))
	if err != nil {
		return nil, nil, fmt.Errorf("malformed checksum: %w", err)
	}
	return body, checksum, nil
}

func lastIndexOf(haystack, needle []byte) int {
	for i := len(haystack) - len(needle); i >= 0; i-- {
		if string(haystack[i:i+len(needle)]) == string(needle) {
			return i
		}
	}
	return -1
}

func equalChecksum(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := range a {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}
